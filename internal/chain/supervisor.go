package chain

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Mmmuuieddd/gamblefi-backend/internal/config"
)

// StreamTransport is the slice of the transport the supervisor drives:
// (re)dialing the streaming connection and subscribing to block headers.
// *Client implements it.
type StreamTransport interface {
	DialStream(ctx context.Context) error
	CloseStream()
	SubscribeHeads(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// StreamState is the runtime-only state of the streaming connection.
type StreamState struct {
	Connected         bool
	LastBlockAt       time.Time
	ReconnectAttempts int
}

// BlockAge returns how long ago the last block header arrived.  Returns a
// very large value when no block was ever seen.
func (s StreamState) BlockAge(now time.Time) time.Duration {
	if s.LastBlockAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(s.LastBlockAt)
}

// BackoffDelay computes the reconnect wait for the given attempt number:
// 1s, 2s, 4s, 8s, … capped at ceiling.
func BackoffDelay(attempt int, ceiling time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Guard the shift; past attempt 6 the cap rules anyway.
	if attempt > 30 {
		attempt = 30
	}
	d := time.Second << uint(attempt)
	if d > ceiling || d <= 0 {
		return ceiling
	}
	return d
}

// ──────────────────────────────────────────────────────────────────────────────
// Supervisor
// ──────────────────────────────────────────────────────────────────────────────

// Supervisor owns the streaming connection lifecycle: it dials the WebSocket
// endpoint, subscribes to block headers as a heartbeat, reconnects with
// exponential backoff on failure or staleness, and notifies listeners on
// every (re)connect so they can re-register their own subscriptions.
//
// After MaxReconnectAttempts consecutive failures the supervisor parks until
// ForceReset is called (the scheduler's monitor loop does this when the
// stream has been stale beyond the hard threshold).
type Supervisor struct {
	client StreamTransport
	cfg    *config.SettlerConfig
	logger *slog.Logger

	mu        sync.RWMutex
	state     StreamState
	listeners []func(reconnected bool)

	resetCh  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSupervisor creates a Supervisor for the given transport.
func NewSupervisor(client StreamTransport, cfg *config.SettlerConfig, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		resetCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// OnConnected registers a callback fired after every successful connect.
// reconnected is false for the first connection of the process.  Register
// all listeners before Start; the slice is not guarded afterwards.
func (s *Supervisor) OnConnected(fn func(reconnected bool)) {
	s.listeners = append(s.listeners, fn)
}

// State returns a snapshot of the stream state.
func (s *Supervisor) State() StreamState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ForceReset kicks a parked or backing-off supervisor into an immediate
// reconnect attempt with the attempt counter cleared.
func (s *Supervisor) ForceReset() {
	select {
	case s.resetCh <- struct{}{}:
	default:
	}
}

// Start launches the supervision loop.  It returns immediately; the loop
// runs until ctx is cancelled or Stop is called.
func (s *Supervisor) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop tears down the loop and the streaming connection.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.done
	s.client.CloseStream()
	s.setConnected(false)
}

// ──────────────────────────────────────────────────────────────────────────────
// Supervision loop
// ──────────────────────────────────────────────────────────────────────────────

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	attempts := 0
	connectedBefore := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			attempts++
			s.mu.Lock()
			s.state.ReconnectAttempts = attempts
			s.mu.Unlock()

			if attempts >= s.cfg.MaxReconnectAttempts {
				s.logger.Error("stream: giving up after max reconnect attempts; waiting for forced reset",
					"attempts", attempts)
				if !s.waitReset(ctx) {
					return
				}
				attempts = 0
				continue
			}

			delay := BackoffDelay(attempts-1, s.cfg.MaxBackoff)
			s.logger.Warn("stream connect failed, backing off",
				"attempt", attempts, "delay", delay, "err", err)
			if !s.sleep(ctx, delay) {
				return
			}
			continue
		}

		// Connected: reset the attempt counter and notify listeners.
		attempts = 0
		s.mu.Lock()
		s.state = StreamState{Connected: true, LastBlockAt: time.Now()}
		s.mu.Unlock()

		if connectedBefore {
			s.logger.Info("stream reconnected")
		} else {
			s.logger.Info("stream connected")
		}
		for _, fn := range s.listeners {
			fn(connectedBefore)
		}
		connectedBefore = true

		reason := s.watch(ctx)
		s.setConnected(false)
		if reason == watchStop {
			return
		}
		s.logger.Warn("stream lost", "reason", reason)
	}
}

// connect dials the WebSocket endpoint.  The heads subscription itself is
// created in watch so a subscribe failure counts as a failed attempt too.
func (s *Supervisor) connect(ctx context.Context) error {
	return s.client.DialStream(ctx)
}

type watchReason string

const (
	watchStop   watchReason = "stop"
	watchSubErr watchReason = "subscription error"
	watchStale  watchReason = "stale"
	watchForced watchReason = "forced reset"
)

// watch consumes the head subscription, updating LastBlockAt on every header
// and checking staleness every HeartbeatInterval.  Returns the reason the
// stream was abandoned.
func (s *Supervisor) watch(ctx context.Context) watchReason {
	heads := make(chan *types.Header, 16)
	sub, err := s.client.SubscribeHeads(ctx, heads)
	if err != nil {
		s.logger.Warn("stream: head subscription failed", "err", err)
		return watchSubErr
	}
	defer sub.Unsubscribe()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return watchStop
		case <-s.stopCh:
			return watchStop
		case <-s.resetCh:
			return watchForced
		case err := <-sub.Err():
			if err != nil {
				s.logger.Warn("stream: head subscription error", "err", err)
			}
			return watchSubErr
		case header := <-heads:
			s.mu.Lock()
			s.state.LastBlockAt = time.Now()
			s.mu.Unlock()
			s.logger.Debug("heartbeat", "block", header.Number)
		case <-ticker.C:
			age := s.State().BlockAge(time.Now())
			if age > s.cfg.StaleAfter {
				s.logger.Warn("stream stale, forcing reconnect", "block_age", age.Round(time.Second))
				return watchStale
			}
		}
	}
}

func (s *Supervisor) setConnected(connected bool) {
	s.mu.Lock()
	s.state.Connected = connected
	s.mu.Unlock()
}

// sleep waits for d unless the supervisor is stopped or force-reset first.
// A forced reset during backoff shortcuts straight to the next attempt.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.stopCh:
		return false
	case <-s.resetCh:
		return true
	case <-time.After(d):
		return true
	}
}

// waitReset parks until ForceReset, stop, or cancellation.
func (s *Supervisor) waitReset(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.stopCh:
		return false
	case <-s.resetCh:
		s.logger.Info("stream: forced reset received")
		return true
	}
}
