package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Mmmuuieddd/gamblefi-backend/internal/domain"
)

// SettleBackend is the slice of the chain transport the dispatcher needs:
// submit a settlement and wait for its receipt.
type SettleBackend interface {
	SettleBet(ctx context.Context, roomID uint32, player common.Address) (*types.Transaction, error)
	WaitReceipt(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// PendingRemover drops a settled key from the pending table.
type PendingRemover interface {
	Remove(key domain.BetKey) bool
}

// SettlementDispatcher submits settleBet transactions for due commitments.
// Terminal outcomes (mined success, or a revert carrying one of the
// contract's idempotence markers) remove the key; anything else leaves the
// key in place so the next reconcile tick retries it.
type SettlementDispatcher struct {
	backend SettleBackend
	pending PendingRemover
	logger  *slog.Logger

	submitted      atomic.Uint64
	settled        atomic.Uint64
	alreadySettled atomic.Uint64
	reverted       atomic.Uint64
}

// NewSettlementDispatcher creates a dispatcher.  Wire the pending table with
// SetPendingTable before the first dispatch.
func NewSettlementDispatcher(backend SettleBackend, logger *slog.Logger) *SettlementDispatcher {
	return &SettlementDispatcher{backend: backend, logger: logger}
}

// SetPendingTable breaks the construction cycle with the reconciler.
func (d *SettlementDispatcher) SetPendingTable(p PendingRemover) {
	d.pending = p
}

// Dispatch submits settleBet for the given commitment and classifies the
// outcome.  Every path is non-fatal: transport errors and reverts without an
// idempotence marker keep the key tracked for retry.
func (d *SettlementDispatcher) Dispatch(ctx context.Context, bet domain.PendingBet) {
	d.submitted.Add(1)

	switch err := d.settle(ctx, bet); {
	case err == nil:
		d.settled.Add(1)
		d.pending.Remove(bet.Key)

	case domain.IsAlreadySettled(err):
		// Someone else settled it, or the contract never tracked it.
		// Either way the commitment is gone on-chain.
		d.alreadySettled.Add(1)
		d.pending.Remove(bet.Key)
		d.logger.Info("settlement already handled on-chain",
			"key", bet.Key.String(), "reason", err)

	case errors.Is(err, domain.ErrSettlementReverted):
		d.reverted.Add(1)
		d.logger.Warn("settlement reverted, will retry",
			"key", bet.Key.String(), "err", err)

	default:
		d.logger.Warn("settlement attempt failed, will retry",
			"key", bet.Key.String(), "err", err)
	}
}

// settle submits the transaction and waits for its receipt.  A mined revert
// comes back as ErrSettlementReverted; everything else is the transport's
// error as-is.
func (d *SettlementDispatcher) settle(ctx context.Context, bet domain.PendingBet) error {
	tx, err := d.backend.SettleBet(ctx, bet.Key.RoomID, bet.Key.Player)
	if err != nil {
		return fmt.Errorf("dispatcher.settle: submit: %w", err)
	}

	d.logger.Info("settlement submitted",
		"key", bet.Key.String(), "tx", tx.Hash().Hex())

	receipt, err := d.backend.WaitReceipt(ctx, tx)
	if err != nil {
		// The transaction may still land; if it does, the retry on the next
		// tick hits an idempotence marker and the key is dropped then.
		return fmt.Errorf("dispatcher.settle: receipt wait for %s: %w", tx.Hash().Hex(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("dispatcher.settle: tx %s in block %s: %w",
			tx.Hash().Hex(), receipt.BlockNumber, domain.ErrSettlementReverted)
	}

	d.logger.Info("settlement mined",
		"key", bet.Key.String(), "tx", tx.Hash().Hex(), "block", receipt.BlockNumber,
		"gas_used", receipt.GasUsed)
	return nil
}

// Stats returns the lifetime dispatch counters for the status surface.
func (d *SettlementDispatcher) Stats() DispatchStats {
	return DispatchStats{
		Submitted:      d.submitted.Load(),
		Settled:        d.settled.Load(),
		AlreadySettled: d.alreadySettled.Load(),
		Reverted:       d.reverted.Load(),
	}
}

// DispatchStats is a snapshot of the dispatcher's counters.
type DispatchStats struct {
	Submitted      uint64 `json:"submitted"`
	Settled        uint64 `json:"settled"`
	AlreadySettled uint64 `json:"alreadySettled"`
	Reverted       uint64 `json:"reverted"`
}
