package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Mmmuuieddd/gamblefi-backend/internal/chain"
	"github.com/Mmmuuieddd/gamblefi-backend/internal/config"
	"github.com/Mmmuuieddd/gamblefi-backend/internal/domain"
)

// StatusStore is the slice of the event store the status surface reads:
// liveness plus the durable counters served on /status.
type StatusStore interface {
	Ping(ctx context.Context) error
	CountByType(ctx context.Context, t domain.EventType) (int64, error)
	CountOrphanSettlements(ctx context.Context) (int64, error)
}

// Settler is the lifecycle facade over the settlement pipeline.  It loads the
// contract's reveal delay, checks the signer balance, starts the stream
// supervisor, and exposes the snapshots the HTTP surface serves.
type Settler struct {
	cfg    *config.Config
	logger *slog.Logger

	client     *chain.Client
	supervisor *chain.Supervisor
	reconciler *Reconciler
	dispatcher *SettlementDispatcher
	ingestor   *Ingestor
	store      StatusStore

	running   atomic.Bool
	startTime time.Time
}

// NewSettler wires the facade.  The supervisor's connect listener is
// registered inside Start so the subscription context matches the run
// context.
func NewSettler(
	cfg *config.Config,
	client *chain.Client,
	supervisor *chain.Supervisor,
	reconciler *Reconciler,
	dispatcher *SettlementDispatcher,
	ingestor *Ingestor,
	store StatusStore,
	logger *slog.Logger,
) *Settler {
	return &Settler{
		cfg:        cfg,
		logger:     logger,
		client:     client,
		supervisor: supervisor,
		reconciler: reconciler,
		dispatcher: dispatcher,
		ingestor:   ingestor,
		store:      store,
	}
}

// Start brings the pipeline up.  Startup reads are advisory: an unreadable
// reveal delay falls back to the configured default, and a low signer balance
// only warns.  The only way Start fails is a cancelled context.
func (s *Settler) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	s.startTime = time.Now().UTC()

	s.loadRevealDelay(ctx)
	s.checkSignerBalance(ctx)

	s.supervisor.OnConnected(func(reconnected bool) {
		if err := s.ingestor.Resubscribe(ctx); err != nil {
			// The dead subscription starves the heartbeat and the supervisor
			// reconnects, which retries this listener.
			s.logger.Error("log resubscribe failed", "reconnected", reconnected, "err", err)
		}
	})
	s.supervisor.Start(ctx)

	s.logger.Info("settler started",
		"contract", s.client.ContractAddress().Hex(),
		"signer", s.client.SignerAddress().Hex(),
		"reveal_delay", s.ingestor.RevealDelay())
	return ctx.Err()
}

// Stop tears the pipeline down.  Pending commitments are abandoned; they are
// re-observed as orphan settlements or re-settled by whoever runs next.
func (s *Settler) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.supervisor.Stop()
	s.logger.Info("settler stopped", "pending_abandoned", s.reconciler.Len())
}

// loadRevealDelay reads revealDelay() from the contract, keeping the
// configured default when the read fails or returns zero.
func (s *Settler) loadRevealDelay(ctx context.Context) {
	delay, err := s.client.RevealDelay(ctx)
	if err != nil {
		s.logger.Warn("revealDelay() read failed, using default",
			"default", s.cfg.Settler.DefaultRevealDelay, "err", err)
		return
	}
	if delay == 0 {
		s.logger.Warn("revealDelay() returned zero, using default",
			"default", s.cfg.Settler.DefaultRevealDelay)
		return
	}
	s.ingestor.SetRevealDelay(delay)
	s.logger.Info("reveal delay loaded from contract", "blocks", delay)
}

// checkSignerBalance warns when the settlement account is running low.  Gas
// for settleBet comes out of this balance; an empty account stalls every
// settlement with transport errors.
func (s *Settler) checkSignerBalance(ctx context.Context) {
	balance, err := s.client.SignerBalance(ctx)
	if err != nil {
		s.logger.Warn("signer balance check failed", "err", err)
		return
	}

	threshold, err := domain.ParseWei(s.cfg.Chain.LowBalanceWei)
	if err != nil {
		s.logger.Warn("invalid low-balance threshold",
			"value", s.cfg.Chain.LowBalanceWei, "err", err)
		return
	}

	ether := domain.FormatEther(domain.WeiToDecimal(balance))
	if balance.Cmp(threshold) < 0 {
		s.logger.Warn("signer balance low",
			"signer", s.client.SignerAddress().Hex(), "balance_ether", ether)
		return
	}
	s.logger.Info("signer balance ok",
		"signer", s.client.SignerAddress().Hex(), "balance_ether", ether)
}

// ──────────────────────────────────────────────────────────────────────────────
// Status surface
// ──────────────────────────────────────────────────────────────────────────────

// StatusSnapshot is the operational picture served by GET /status.
type StatusSnapshot struct {
	Status            string         `json:"status"` // "running" | "stopped"
	StartTime         time.Time      `json:"startTime"`
	PendingBets       int            `json:"pendingBets"`
	DatabaseConnected bool           `json:"databaseConnected"`
	Stream            StreamSnapshot `json:"websocket"`
	Ingest            IngestStats    `json:"ingest"`
	Dispatch          DispatchStats  `json:"dispatch"`
	Store             StoreStats     `json:"store"`
}

// StoreStats are counters read from the event store.  Unlike the in-memory
// ingest/dispatch counters they survive restarts.
type StoreStats struct {
	PlacedStored      int64 `json:"placedStored"`
	SettledStored     int64 `json:"settledStored"`
	OrphanSettlements int64 `json:"orphanSettlements"`
}

// StreamSnapshot is the stream health fragment shared by /health and /status.
type StreamSnapshot struct {
	Connected         bool       `json:"connected"`
	LastBlockTime     *time.Time `json:"lastBlockTime,omitempty"`
	BlockAgeSeconds   *float64   `json:"blockAgeSeconds,omitempty"`
	ReconnectAttempts int        `json:"reconnectAttempts"`
}

// Running reports whether Start has been called without a matching Stop.
func (s *Settler) Running() bool {
	return s.running.Load()
}

// Status assembles the full operational snapshot.
func (s *Settler) Status(ctx context.Context) StatusSnapshot {
	status := "stopped"
	if s.running.Load() {
		status = "running"
	}
	return StatusSnapshot{
		Status:            status,
		StartTime:         s.startTime,
		PendingBets:       s.reconciler.Len(),
		DatabaseConnected: s.StoreLive(ctx),
		Stream:            s.StreamSnapshot(),
		Ingest:            s.ingestor.Stats(),
		Dispatch:          s.dispatcher.Stats(),
		Store:             s.storeStats(ctx),
	}
}

// storeStats reads the durable counters under a short deadline.  A failed
// read leaves the counter at zero; /status stays serveable while the store
// is degraded.
func (s *Settler) storeStats(ctx context.Context) StoreStats {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var stats StoreStats
	var err error
	if stats.PlacedStored, err = s.store.CountByType(ctx, domain.EventBetPlaced); err != nil {
		s.logger.Warn("status: placed count read failed", "err", err)
	}
	if stats.SettledStored, err = s.store.CountByType(ctx, domain.EventBetSettled); err != nil {
		s.logger.Warn("status: settled count read failed", "err", err)
	}
	if stats.OrphanSettlements, err = s.store.CountOrphanSettlements(ctx); err != nil {
		s.logger.Warn("status: orphan count read failed", "err", err)
	}
	return stats
}

// StoreLive pings the event store with a short deadline.
func (s *Settler) StoreLive(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.store.Ping(ctx) == nil
}

// StreamSnapshot converts the supervisor state into the HTTP shape.
func (s *Settler) StreamSnapshot() StreamSnapshot {
	state := s.supervisor.State()
	snap := StreamSnapshot{
		Connected:         state.Connected,
		ReconnectAttempts: state.ReconnectAttempts,
	}
	if !state.LastBlockAt.IsZero() {
		t := state.LastBlockAt
		age := state.BlockAge(time.Now()).Seconds()
		snap.LastBlockTime = &t
		snap.BlockAgeSeconds = &age
	}
	return snap
}

// Healthy applies the readiness rule: the store answers, the stream is
// connected, and the last block is younger than HealthMaxBlockAge.
func (s *Settler) Healthy(ctx context.Context) bool {
	if !s.StoreLive(ctx) {
		return false
	}
	state := s.supervisor.State()
	if !state.Connected {
		return false
	}
	return state.BlockAge(time.Now()) <= s.cfg.Settler.HealthMaxBlockAge
}
