package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Mmmuuieddd/gamblefi-backend/internal/domain"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

type fakeBackend struct {
	settleErr error
	waitErr   error
	status    uint64

	settleCalls int
	waitCalls   int
}

func (f *fakeBackend) SettleBet(_ context.Context, _ uint32, _ common.Address) (*types.Transaction, error) {
	f.settleCalls++
	if f.settleErr != nil {
		return nil, f.settleErr
	}
	return types.NewTx(&types.LegacyTx{Nonce: 1, Gas: 100000, GasPrice: big.NewInt(1)}), nil
}

func (f *fakeBackend) WaitReceipt(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
	f.waitCalls++
	if f.waitErr != nil {
		return nil, f.waitErr
	}
	return &types.Receipt{
		Status:      f.status,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(1004),
		GasUsed:     60000,
	}, nil
}

type fakeRemover struct {
	mu      sync.Mutex
	removed []domain.BetKey
}

func (f *fakeRemover) Remove(key domain.BetKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, key)
	return true
}

func (f *fakeRemover) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.removed)
}

func testBet() domain.PendingBet {
	return domain.PendingBet{
		Key: domain.BetKey{RoomID: 3, Player: common.HexToAddress("0x0123")},
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestDispatchMinedSuccessRemovesKey(t *testing.T) {
	backend := &fakeBackend{status: types.ReceiptStatusSuccessful}
	remover := &fakeRemover{}
	d := NewSettlementDispatcher(backend, discardLogger())
	d.SetPendingTable(remover)

	d.Dispatch(context.Background(), testBet())

	if remover.count() != 1 {
		t.Error("key not removed after mined settlement")
	}
	stats := d.Stats()
	if stats.Submitted != 1 || stats.Settled != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestDispatchIdempotenceMarkerIsTerminal(t *testing.T) {
	for _, reason := range []string{
		"execution reverted: No valid bet found",
		"execution reverted: already processed",
		"execution reverted: bet executed",
	} {
		backend := &fakeBackend{settleErr: errors.New(reason)}
		remover := &fakeRemover{}
		d := NewSettlementDispatcher(backend, discardLogger())
		d.SetPendingTable(remover)

		d.Dispatch(context.Background(), testBet())

		if remover.count() != 1 {
			t.Errorf("%q: key not removed", reason)
		}
		if backend.waitCalls != 0 {
			t.Errorf("%q: waited for a receipt that cannot exist", reason)
		}
		if d.Stats().AlreadySettled != 1 {
			t.Errorf("%q: counter not bumped", reason)
		}
	}
}

func TestDispatchTransportErrorKeepsKey(t *testing.T) {
	backend := &fakeBackend{settleErr: errors.New("connection refused")}
	remover := &fakeRemover{}
	d := NewSettlementDispatcher(backend, discardLogger())
	d.SetPendingTable(remover)

	d.Dispatch(context.Background(), testBet())

	if remover.count() != 0 {
		t.Error("key removed on a retryable submit failure")
	}
}

func TestDispatchReceiptWaitErrorKeepsKey(t *testing.T) {
	backend := &fakeBackend{status: types.ReceiptStatusSuccessful, waitErr: errors.New("context deadline exceeded")}
	remover := &fakeRemover{}
	d := NewSettlementDispatcher(backend, discardLogger())
	d.SetPendingTable(remover)

	d.Dispatch(context.Background(), testBet())

	if remover.count() != 0 {
		t.Error("key removed before the receipt confirmed anything")
	}
}

func TestDispatchRevertedReceiptKeepsKey(t *testing.T) {
	backend := &fakeBackend{status: types.ReceiptStatusFailed}
	remover := &fakeRemover{}
	d := NewSettlementDispatcher(backend, discardLogger())
	d.SetPendingTable(remover)

	d.Dispatch(context.Background(), testBet())

	if remover.count() != 0 {
		t.Error("key removed on a reverted settlement")
	}
	if d.Stats().Reverted != 1 {
		t.Error("revert counter not bumped")
	}
}

func TestSettleRevertedReceiptReturnsSentinel(t *testing.T) {
	backend := &fakeBackend{status: types.ReceiptStatusFailed}
	d := NewSettlementDispatcher(backend, discardLogger())

	err := d.settle(context.Background(), testBet())
	if !errors.Is(err, domain.ErrSettlementReverted) {
		t.Errorf("settle returned %v, want ErrSettlementReverted in the chain", err)
	}
}
