// Package service wires the settlement pipeline: the Ingestor decodes and
// records contract events, the Reconciler tracks open commitments until their
// reveal block, the SettlementDispatcher submits settleBet transactions, and
// the Settler facade owns the lifecycle of all three.
package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Mmmuuieddd/gamblefi-backend/internal/domain"
)

// BlockReader is the slice of the chain transport the reconciler needs.
type BlockReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Dispatcher submits a due commitment for settlement.  Implementations remove
// the key from the pending table themselves on terminal outcomes.
type Dispatcher interface {
	Dispatch(ctx context.Context, bet domain.PendingBet)
}

// Reconciler is the in-memory table of open commitments.  Each tick it reads
// the current block height and hands every due entry to the dispatcher.  A
// key stays tracked until the dispatcher (or an observed BetSettled) removes
// it, so a failed settlement is simply retried on the next tick.
type Reconciler struct {
	blocks BlockReader
	logger *slog.Logger

	mu      sync.Mutex
	pending map[domain.BetKey]*domain.PendingBet

	dispatcher Dispatcher

	lastWaitLogged uint64
}

// NewReconciler creates an empty reconciler.  Wire the dispatcher with
// SetDispatcher before the first tick.
func NewReconciler(blocks BlockReader, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		blocks:  blocks,
		logger:  logger,
		pending: make(map[domain.BetKey]*domain.PendingBet),
	}
}

// SetDispatcher breaks the construction cycle between the reconciler and the
// dispatcher (the dispatcher removes keys from this table).
func (r *Reconciler) SetDispatcher(d Dispatcher) {
	r.dispatcher = d
}

// Upsert tracks a commitment, replacing any earlier entry for the same key.
// The contract allows one open bet per (roomId, player); a re-observed
// BetPlaced supersedes whatever was tracked before.
func (r *Reconciler) Upsert(bet domain.PendingBet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prior, ok := r.pending[bet.Key]; ok && prior.TxHash != bet.TxHash {
		r.logger.Debug("pending bet replaced",
			"key", bet.Key.String(), "prior_tx", prior.TxHash.Hex(), "tx", bet.TxHash.Hex())
	}
	copied := bet
	r.pending[bet.Key] = &copied
}

// Remove drops a key from the table and reports whether it was tracked.
func (r *Reconciler) Remove(key domain.BetKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	delete(r.pending, key)
	return ok
}

// Get returns a copy of the tracked commitment for key.
func (r *Reconciler) Get(key domain.BetKey) (domain.PendingBet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bet, ok := r.pending[key]
	if !ok {
		return domain.PendingBet{}, false
	}
	return *bet, true
}

// Len returns the number of tracked commitments.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Tick reads the current block height and dispatches every due commitment.
// The table lock is not held across the dispatch calls; concurrent Remove
// during dispatch is fine, the worst case is one extra settleBet attempt
// absorbed by the contract's idempotence.
func (r *Reconciler) Tick(ctx context.Context) {
	if r.dispatcher == nil {
		return
	}

	current, err := r.blocks.BlockNumber(ctx)
	if err != nil {
		r.logger.Warn("reconcile: block height read failed", "err", err)
		return
	}

	r.mu.Lock()
	due := make([]domain.PendingBet, 0, len(r.pending))
	waiting := 0
	var nearest uint64
	for _, bet := range r.pending {
		if bet.Due(current) {
			due = append(due, *bet)
			continue
		}
		waiting++
		if nearest == 0 || bet.RevealBlock < nearest {
			nearest = bet.RevealBlock
		}
	}
	// Waiting entries are logged at most once per height so a quiet table
	// does not flood the log between ticks.
	logWaiting := waiting > 0 && current != r.lastWaitLogged
	if logWaiting {
		r.lastWaitLogged = current
	}
	r.mu.Unlock()

	if logWaiting {
		r.logger.Debug("reconcile: commitments waiting",
			"count", waiting, "current_block", current, "nearest_reveal", nearest)
	}

	for _, bet := range due {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.logger.Info("reveal block reached, settling",
			"key", bet.Key.String(), "reveal_block", bet.RevealBlock, "current_block", current)
		r.dispatcher.Dispatch(ctx, bet)
	}
}
