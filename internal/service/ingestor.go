package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/Mmmuuieddd/gamblefi-backend/internal/chain"
	"github.com/Mmmuuieddd/gamblefi-backend/internal/domain"
	"github.com/Mmmuuieddd/gamblefi-backend/internal/ws"
)

// ChainSource is the slice of the chain transport the ingestor needs.
type ChainSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, n uint64) (*types.Header, error)
	PlayerBet(ctx context.Context, roomID uint32, player common.Address) (*chain.PlayerBetView, error)
	SubscribeBetLogs(ctx context.Context, ch chan<- types.Log) (ethereum.Subscription, error)
}

// EventStore is the slice of the repository the ingestor needs.
type EventStore interface {
	Append(ctx context.Context, e *domain.EventRecord) (uuid.UUID, error)
	LatestUnprocessedPlaced(ctx context.Context, roomID uint32, player string) (*domain.EventRecord, error)
	Link(ctx context.Context, placedID, settledID uuid.UUID) error
}

// PendingTable is the slice of the reconciler the ingestor needs.
type PendingTable interface {
	Upsert(bet domain.PendingBet)
	Remove(key domain.BetKey) bool
	Get(key domain.BetKey) (domain.PendingBet, bool)
}

// Broadcaster pushes live messages to connected WebSocket clients.
type Broadcaster interface {
	BroadcastBetPlaced(msg ws.BetPlacedMessage)
	BroadcastBetSettled(msg ws.BetSettledMessage)
}

// Ingestor consumes the contract's log stream: it decodes BetPlaced and
// BetSettled, records both durably, feeds the reconciler's pending table, and
// correlates settlements back to their originating commits.
//
// The supervisor calls Resubscribe on every (re)connect; each call starts a
// fresh consume goroutine bound to that connection's subscription.  Stream
// failures end the goroutine quietly — recovery is the supervisor's job.
type Ingestor struct {
	chain   ChainSource
	store   EventStore
	pending PendingTable
	logger  *slog.Logger

	// seenSettled dedupes BetSettled deliveries by transaction hash across
	// reconnects, where the provider may replay recent logs.
	seenSettled *lru.Cache[common.Hash, struct{}]

	broadcaster Broadcaster

	revealDelay    atomic.Uint64
	revealMismatch atomic.Uint64
	orphanSettled  atomic.Uint64
	placedSeen     atomic.Uint64
	settledSeen    atomic.Uint64
	settledDupes   atomic.Uint64
}

// NewIngestor creates an ingestor with the given dedupe capacity and the
// reveal delay to use until the contract value is loaded.
func NewIngestor(source ChainSource, store EventStore, pending PendingTable, dedupeCapacity int, defaultRevealDelay uint64, logger *slog.Logger) *Ingestor {
	ing := &Ingestor{
		chain:       source,
		store:       store,
		pending:     pending,
		logger:      logger,
		seenSettled: lru.NewCache[common.Hash, struct{}](dedupeCapacity),
	}
	ing.revealDelay.Store(defaultRevealDelay)
	return ing
}

// SetBroadcaster wires the live feed.  Optional; nil means no broadcasts.
func (i *Ingestor) SetBroadcaster(b Broadcaster) {
	i.broadcaster = b
}

// SetRevealDelay overrides the reveal delay, normally with the value read
// from the contract at startup.
func (i *Ingestor) SetRevealDelay(d uint64) {
	i.revealDelay.Store(d)
}

// RevealDelay returns the reveal delay currently in effect.
func (i *Ingestor) RevealDelay() uint64 {
	return i.revealDelay.Load()
}

// Stats returns the lifetime ingest counters for the status surface.
func (i *Ingestor) Stats() IngestStats {
	return IngestStats{
		PlacedSeen:         i.placedSeen.Load(),
		SettledSeen:        i.settledSeen.Load(),
		SettledDuplicates:  i.settledDupes.Load(),
		OrphanSettlements:  i.orphanSettled.Load(),
		RevealMismatches:   i.revealMismatch.Load(),
		EffectiveRevealGap: i.revealDelay.Load(),
	}
}

// IngestStats is a snapshot of the ingestor's counters.
type IngestStats struct {
	PlacedSeen         uint64 `json:"placedSeen"`
	SettledSeen        uint64 `json:"settledSeen"`
	SettledDuplicates  uint64 `json:"settledDuplicates"`
	OrphanSettlements  uint64 `json:"orphanSettlements"`
	RevealMismatches   uint64 `json:"revealMismatches"`
	EffectiveRevealGap uint64 `json:"revealDelay"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Subscription lifecycle
// ──────────────────────────────────────────────────────────────────────────────

// Resubscribe opens a log subscription on the current stream connection and
// starts consuming it.  Called by the supervisor after every (re)connect.
func (i *Ingestor) Resubscribe(ctx context.Context) error {
	logs := make(chan types.Log, 64)
	sub, err := i.chain.SubscribeBetLogs(ctx, logs)
	if err != nil {
		return err
	}
	go i.consume(ctx, sub, logs)
	i.logger.Info("log subscription established")
	return nil
}

// consume drains one subscription until it errors or ctx is cancelled.  A
// subscription error just ends the goroutine; the supervisor notices the dead
// stream through its own heartbeat and reconnects.
func (i *Ingestor) consume(ctx context.Context, sub ethereum.Subscription, logs <-chan types.Log) {
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				i.logger.Warn("log subscription error", "err", err)
			}
			return
		case l := <-logs:
			i.HandleLog(ctx, l)
		}
	}
}

// HandleLog routes one raw log to its decoder.  Unknown topics and removed
// (reorged) logs are dropped.
func (i *Ingestor) HandleLog(ctx context.Context, l types.Log) {
	if l.Removed {
		i.logger.Warn("reorged log dropped",
			"block", l.BlockNumber, "tx", l.TxHash.Hex())
		return
	}
	if len(l.Topics) == 0 {
		return
	}

	switch l.Topics[0] {
	case chain.BetPlacedTopic():
		ev, err := chain.ParseBetPlaced(l)
		if err != nil {
			i.logger.Error("BetPlaced decode failed", "tx", l.TxHash.Hex(), "err", err)
			return
		}
		i.handlePlaced(ctx, ev)
	case chain.BetSettledTopic():
		ev, err := chain.ParseBetSettled(l)
		if err != nil {
			i.logger.Error("BetSettled decode failed", "tx", l.TxHash.Hex(), "err", err)
			return
		}
		i.handleSettled(ctx, ev)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// BetPlaced
// ──────────────────────────────────────────────────────────────────────────────

// handlePlaced records a new commitment and schedules it for settlement.
//
// The reveal block the reconciler waits on is computed locally from the
// observed chain position plus the reveal delay, not taken from the event:
// the event's value reflects the contract's view at commit time, and the two
// can drift when log delivery lags the head.  Both values are kept — the
// event's value goes to the store, the local one drives settlement — and a
// disagreement is counted and double-checked against the contract.
func (i *Ingestor) handlePlaced(ctx context.Context, ev *chain.BetPlacedEvent) {
	i.placedSeen.Add(1)

	key := domain.BetKey{RoomID: ev.RoomID, Player: ev.Player}

	currentBlock := ev.Raw.BlockNumber
	if currentBlock == 0 {
		// Provider omitted the block number; ask for the head instead.
		n, err := i.chain.BlockNumber(ctx)
		if err != nil {
			// Last resort: trust the commit block carried in the event.
			i.logger.Warn("block height unavailable, using event commit block",
				"key", key.String(), "err", err)
			n = ev.CommitBlock.Uint64()
		}
		currentBlock = n
	}

	localReveal := currentBlock + i.revealDelay.Load()
	eventReveal := uint64(0)
	if ev.RevealBlock != nil {
		eventReveal = ev.RevealBlock.Uint64()
	}
	if eventReveal != 0 && eventReveal != localReveal {
		i.revealMismatch.Add(1)
		i.checkRevealMismatch(ctx, key, eventReveal, localReveal)
	}

	timestamp := i.blockTimestamp(ctx, ev.Raw.BlockNumber)

	commitBlock := ev.CommitBlock.Uint64()
	amount := domain.WeiToDecimal(ev.Amount)
	betBig := ev.BetBig
	record := &domain.EventRecord{
		EventType:      domain.EventBetPlaced,
		RoomID:         ev.RoomID,
		Player:         domain.NormalizePlayer(ev.Player.Hex()),
		BlockNumber:    ev.Raw.BlockNumber,
		BlockTimestamp: timestamp,
		LogIndex:       ev.Raw.Index,
		TxHash:         ev.Raw.TxHash.Hex(),
		AmountWei:      &amount,
		BetBig:         &betBig,
		CommitBlock:    &commitBlock,
		RevealBlock:    &eventReveal,
	}
	if _, err := i.store.Append(ctx, record); err != nil {
		// The commitment is still tracked and settled; only history is lost.
		i.logger.Error("BetPlaced record failed", "key", key.String(), "err", err)
	}

	i.pending.Upsert(domain.PendingBet{
		Key:         key,
		AmountWei:   ev.Amount,
		BetBig:      ev.BetBig,
		CommitBlock: commitBlock,
		RevealBlock: localReveal,
		TxHash:      ev.Raw.TxHash,
		ObservedAt:  time.Now(),
	})

	i.logger.Info("bet placed",
		"key", key.String(), "amount_ether", domain.FormatEther(amount),
		"bet_big", ev.BetBig, "reveal_block", localReveal, "tx", ev.Raw.TxHash.Hex())

	if i.broadcaster != nil {
		i.broadcaster.BroadcastBetPlaced(ws.BetPlacedMessage{
			Type:        ws.MsgTypeBetPlaced,
			RoomID:      ev.RoomID,
			Player:      domain.NormalizePlayer(ev.Player.Hex()),
			AmountWei:   amount,
			AmountEther: domain.FormatEther(amount),
			BetBig:      ev.BetBig,
			CommitBlock: commitBlock,
			RevealBlock: localReveal,
			TxHash:      ev.Raw.TxHash.Hex(),
			Timestamp:   timestamp,
		})
	}
}

// checkRevealMismatch reads the contract's own playerBets entry to attribute
// a reveal disagreement: either the log was delivered late (harmless, the
// local value is ahead) or the configured delay is wrong.
func (i *Ingestor) checkRevealMismatch(ctx context.Context, key domain.BetKey, eventReveal, localReveal uint64) {
	view, err := i.chain.PlayerBet(ctx, key.RoomID, key.Player)
	if err != nil {
		i.logger.Warn("reveal block mismatch (contract check failed)",
			"key", key.String(), "event_reveal", eventReveal, "local_reveal", localReveal, "err", err)
		return
	}
	contractReveal := view.CommitBlock.Uint64() + i.revealDelay.Load()
	i.logger.Warn("reveal block mismatch",
		"key", key.String(), "event_reveal", eventReveal,
		"local_reveal", localReveal, "contract_reveal", contractReveal)
}

// ──────────────────────────────────────────────────────────────────────────────
// BetSettled
// ──────────────────────────────────────────────────────────────────────────────

// handleSettled records a settlement, stops tracking the key, and links the
// record to its originating commit.  The settlement may be ours or anyone
// else's; either way the commitment is resolved.
func (i *Ingestor) handleSettled(ctx context.Context, ev *chain.BetSettledEvent) {
	if i.seenSettled.Contains(ev.Raw.TxHash) {
		i.settledDupes.Add(1)
		i.logger.Debug("duplicate BetSettled dropped", "tx", ev.Raw.TxHash.Hex())
		return
	}
	i.seenSettled.Add(ev.Raw.TxHash, struct{}{})
	i.settledSeen.Add(1)

	key := domain.BetKey{RoomID: ev.RoomID, Player: ev.Player}

	// Capture the in-memory commitment before dropping it; its reveal block
	// is the block whose hash decided the outcome.
	prior, tracked := i.pending.Get(key)
	i.pending.Remove(key)

	timestamp := i.blockTimestamp(ctx, ev.Raw.BlockNumber)

	reward := domain.WeiToDecimal(ev.Amount)
	won := ev.Won
	hashValue := ev.HashValue
	blockHash := common.Hash(ev.BlockHash).Hex()
	betID := ev.BetId.Uint64()
	record := &domain.EventRecord{
		EventType:      domain.EventBetSettled,
		RoomID:         ev.RoomID,
		Player:         domain.NormalizePlayer(ev.Player.Hex()),
		BlockNumber:    ev.Raw.BlockNumber,
		BlockTimestamp: timestamp,
		LogIndex:       ev.Raw.Index,
		TxHash:         ev.Raw.TxHash.Hex(),
		RewardWei:      &reward,
		Won:            &won,
		HashValue:      &hashValue,
		BlockHash:      &blockHash,
		BetID:          &betID,
	}
	if tracked {
		resultBlock := prior.RevealBlock
		record.ResultBlock = &resultBlock
	}

	settledID, err := i.store.Append(ctx, record)
	if err != nil {
		i.logger.Error("BetSettled record failed", "key", key.String(), "err", err)
	} else {
		i.correlate(ctx, key, settledID)
	}

	i.logger.Info("bet settled",
		"key", key.String(), "won", won, "hash_value", hashValue,
		"big", domain.IsBigHash(hashValue), "reward_ether", domain.FormatEther(reward),
		"tracked", tracked, "tx", ev.Raw.TxHash.Hex())

	if i.broadcaster != nil {
		i.broadcaster.BroadcastBetSettled(ws.BetSettledMessage{
			Type:        ws.MsgTypeBetSettled,
			RoomID:      ev.RoomID,
			Player:      domain.NormalizePlayer(ev.Player.Hex()),
			Won:         won,
			RewardWei:   reward,
			RewardEther: domain.FormatEther(reward),
			HashValue:   hashValue,
			HashIsBig:   domain.IsBigHash(hashValue),
			BetID:       betID,
			TxHash:      ev.Raw.TxHash.Hex(),
			Timestamp:   timestamp,
		})
	}
}

// correlate links a settlement to the latest unlinked commit for its key.  A
// settlement with no matching commit (the daemon started after the bet was
// placed) is counted and left unlinked.
func (i *Ingestor) correlate(ctx context.Context, key domain.BetKey, settledID uuid.UUID) {
	placed, err := i.store.LatestUnprocessedPlaced(ctx, key.RoomID, domain.NormalizePlayer(key.Player.Hex()))
	if err != nil {
		if domain.IsNotFound(err) {
			i.orphanSettled.Add(1)
			i.logger.Info("settlement without matching commit", "key", key.String())
			return
		}
		i.logger.Error("correlation lookup failed", "key", key.String(), "err", err)
		return
	}
	if err := i.store.Link(ctx, placed.ID, settledID); err != nil {
		if errors.Is(err, domain.ErrEventAlreadyLinked) {
			// A replayed settlement got past the in-memory dedupe; the first
			// delivery already wrote the link.
			i.logger.Debug("commit already linked", "key", key.String(), "placed_id", placed.ID)
			return
		}
		i.logger.Error("correlation link failed",
			"key", key.String(), "placed_id", placed.ID, "settled_id", settledID, "err", err)
	}
}

// blockTimestamp fetches the header timestamp for n, falling back to the
// local clock when the read fails.
func (i *Ingestor) blockTimestamp(ctx context.Context, n uint64) time.Time {
	if n == 0 {
		return time.Now().UTC()
	}
	header, err := i.chain.HeaderByNumber(ctx, n)
	if err != nil {
		i.logger.Debug("header fetch failed, using local clock", "block", n, "err", err)
		return time.Now().UTC()
	}
	return time.Unix(int64(header.Time), 0).UTC()
}
