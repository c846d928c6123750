package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/Mmmuuieddd/gamblefi-backend/internal/chain"
	"github.com/Mmmuuieddd/gamblefi-backend/internal/domain"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

type stubChain struct {
	block    uint64
	blockErr error
	view     *chain.PlayerBetView
	viewErr  error
}

func (s *stubChain) BlockNumber(context.Context) (uint64, error) {
	return s.block, s.blockErr
}

func (s *stubChain) HeaderByNumber(_ context.Context, n uint64) (*types.Header, error) {
	return &types.Header{Number: new(big.Int).SetUint64(n), Time: 1700000000}, nil
}

func (s *stubChain) PlayerBet(context.Context, uint32, common.Address) (*chain.PlayerBetView, error) {
	if s.viewErr != nil {
		return nil, s.viewErr
	}
	return s.view, nil
}

func (s *stubChain) SubscribeBetLogs(context.Context, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("stream not connected")
}

type memStore struct {
	mu        sync.Mutex
	appended  []*domain.EventRecord
	appendErr error
	placed    *domain.EventRecord
	placedErr error
	links     [][2]uuid.UUID
	linkErr   error
}

func (m *memStore) Append(_ context.Context, e *domain.EventRecord) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return uuid.Nil, m.appendErr
	}
	e.ID = uuid.New()
	m.appended = append(m.appended, e)
	return e.ID, nil
}

func (m *memStore) LatestUnprocessedPlaced(context.Context, uint32, string) (*domain.EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.placedErr != nil {
		return nil, m.placedErr
	}
	return m.placed, nil
}

func (m *memStore) Link(_ context.Context, placedID, settledID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.linkErr != nil {
		return m.linkErr
	}
	m.links = append(m.links, [2]uuid.UUID{placedID, settledID})
	return nil
}

func (m *memStore) appendedOfType(t domain.EventType) []*domain.EventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.EventRecord
	for _, e := range m.appended {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestIngestor(source ChainSource, store EventStore) (*Ingestor, *Reconciler) {
	r := NewReconciler(&fakeBlocks{n: 1}, discardLogger())
	return NewIngestor(source, store, r, 100, 3, discardLogger()), r
}

func placedEvent(roomID uint32, addr string, block uint64, reveal uint64) *chain.BetPlacedEvent {
	return &chain.BetPlacedEvent{
		RoomID:      roomID,
		Player:      common.HexToAddress(addr),
		Amount:      big.NewInt(1e18),
		BetBig:      true,
		CommitBlock: new(big.Int).SetUint64(block),
		RevealBlock: new(big.Int).SetUint64(reveal),
		Raw: types.Log{
			BlockNumber: block,
			TxHash:      common.HexToHash("0x01"),
			Index:       0,
		},
	}
}

func settledEvent(roomID uint32, addr string, txHash string) *chain.BetSettledEvent {
	return &chain.BetSettledEvent{
		RoomID:    roomID,
		Player:    common.HexToAddress(addr),
		Amount:    big.NewInt(195e16),
		Won:       true,
		HashValue: 7,
		BetId:     big.NewInt(11),
		Raw: types.Log{
			BlockNumber: 1004,
			TxHash:      common.HexToHash(txHash),
			Index:       1,
		},
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestHandlePlacedTracksLocalRevealBlock(t *testing.T) {
	store := &memStore{}
	ing, rec := newTestIngestor(&stubChain{}, store)

	ev := placedEvent(1, "0xaa", 1000, 1003)
	ing.handlePlaced(context.Background(), ev)

	key := domain.BetKey{RoomID: 1, Player: ev.Player}
	bet, ok := rec.Get(key)
	if !ok {
		t.Fatal("commitment not tracked")
	}
	if bet.RevealBlock != 1003 {
		t.Errorf("RevealBlock = %d, want observed block + delay = 1003", bet.RevealBlock)
	}

	placed := store.appendedOfType(domain.EventBetPlaced)
	if len(placed) != 1 {
		t.Fatalf("appended %d records, want 1", len(placed))
	}
	if placed[0].RevealBlock == nil || *placed[0].RevealBlock != 1003 {
		t.Error("record does not carry the event's reveal block")
	}
	if ing.Stats().RevealMismatches != 0 {
		t.Error("mismatch counted for agreeing values")
	}
}

func TestHandlePlacedRevealMismatchCounted(t *testing.T) {
	store := &memStore{}
	source := &stubChain{view: &chain.PlayerBetView{
		Amount: big.NewInt(1e18), CommitBlock: big.NewInt(1000),
	}}
	ing, rec := newTestIngestor(source, store)

	// Event claims 1010; local computation says 1000 + 3.
	ev := placedEvent(1, "0xaa", 1000, 1010)
	ing.handlePlaced(context.Background(), ev)

	if got := ing.Stats().RevealMismatches; got != 1 {
		t.Errorf("RevealMismatches = %d, want 1", got)
	}

	// Settlement timing follows the local value, the record keeps the event's.
	bet, _ := rec.Get(domain.BetKey{RoomID: 1, Player: ev.Player})
	if bet.RevealBlock != 1003 {
		t.Errorf("pending RevealBlock = %d, want local 1003", bet.RevealBlock)
	}
	placed := store.appendedOfType(domain.EventBetPlaced)
	if len(placed) != 1 || *placed[0].RevealBlock != 1010 {
		t.Error("record does not keep the event's reveal block")
	}
}

func TestHandlePlacedFallsBackToHeadQuery(t *testing.T) {
	store := &memStore{}
	ing, rec := newTestIngestor(&stubChain{block: 2000}, store)

	ev := placedEvent(1, "0xaa", 1000, 0)
	ev.Raw.BlockNumber = 0 // provider omitted the block number
	ing.handlePlaced(context.Background(), ev)

	bet, _ := rec.Get(domain.BetKey{RoomID: 1, Player: ev.Player})
	if bet.RevealBlock != 2003 {
		t.Errorf("RevealBlock = %d, want head + delay = 2003", bet.RevealBlock)
	}
}

func TestHandleSettledDedupesByTxHash(t *testing.T) {
	store := &memStore{placedErr: domain.ErrEventNotFound}
	ing, _ := newTestIngestor(&stubChain{}, store)

	ev := settledEvent(1, "0xaa", "0xdead")
	ing.handleSettled(context.Background(), ev)
	ing.handleSettled(context.Background(), ev)

	if got := len(store.appendedOfType(domain.EventBetSettled)); got != 1 {
		t.Errorf("appended %d settled records, want 1", got)
	}
	stats := ing.Stats()
	if stats.SettledSeen != 1 || stats.SettledDuplicates != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestHandleSettledStopsTrackingAndCorrelates(t *testing.T) {
	placedID := uuid.New()
	store := &memStore{placed: &domain.EventRecord{ID: placedID}}
	ing, rec := newTestIngestor(&stubChain{}, store)

	// A tracked commitment; its local reveal block becomes the result block.
	ing.handlePlaced(context.Background(), placedEvent(1, "0xaa", 1000, 1003))

	ev := settledEvent(1, "0xaa", "0xbeef")
	ing.handleSettled(context.Background(), ev)

	if _, ok := rec.Get(domain.BetKey{RoomID: 1, Player: ev.Player}); ok {
		t.Error("commitment still tracked after settlement")
	}

	settled := store.appendedOfType(domain.EventBetSettled)
	if len(settled) != 1 {
		t.Fatalf("appended %d settled records, want 1", len(settled))
	}
	if settled[0].ResultBlock == nil || *settled[0].ResultBlock != 1003 {
		t.Error("result block not taken from the tracked commitment")
	}

	store.mu.Lock()
	links := store.links
	store.mu.Unlock()
	if len(links) != 1 || links[0][0] != placedID || links[0][1] != settled[0].ID {
		t.Errorf("links = %v", links)
	}
}

func TestHandleSettledOrphanCounted(t *testing.T) {
	store := &memStore{placedErr: domain.ErrEventNotFound}
	ing, _ := newTestIngestor(&stubChain{}, store)

	ing.handleSettled(context.Background(), settledEvent(1, "0xaa", "0xcafe"))

	if got := ing.Stats().OrphanSettlements; got != 1 {
		t.Errorf("OrphanSettlements = %d, want 1", got)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.links) != 0 {
		t.Error("orphan settlement was linked")
	}
}

func TestHandleSettledAlreadyLinkedCommitIsBenign(t *testing.T) {
	store := &memStore{
		placed:  &domain.EventRecord{ID: uuid.New()},
		linkErr: domain.ErrEventAlreadyLinked,
	}
	ing, _ := newTestIngestor(&stubChain{}, store)

	ing.handleSettled(context.Background(), settledEvent(1, "0xaa", "0xf00d"))

	// The settlement itself is still recorded; a commit linked by an earlier
	// delivery is not an orphan.
	if got := len(store.appendedOfType(domain.EventBetSettled)); got != 1 {
		t.Errorf("appended %d settled records, want 1", got)
	}
	if got := ing.Stats().OrphanSettlements; got != 0 {
		t.Errorf("OrphanSettlements = %d, want 0", got)
	}
}

func TestHandleLogDropsReorgedLogs(t *testing.T) {
	store := &memStore{}
	ing, _ := newTestIngestor(&stubChain{}, store)

	ing.HandleLog(context.Background(), types.Log{
		Removed: true,
		Topics:  []common.Hash{chain.BetPlacedTopic()},
	})

	if len(store.appended) != 0 {
		t.Error("reorged log was processed")
	}
}
