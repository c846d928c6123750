package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Mmmuuieddd/gamblefi-backend/internal/config"
)

func TestBackoffDelaySequence(t *testing.T) {
	ceiling := 30 * time.Second

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // 32s capped
		30 * time.Second,
	}
	for attempt, expected := range want {
		if got := BackoffDelay(attempt, ceiling); got != expected {
			t.Errorf("attempt %d: got %s, want %s", attempt, got, expected)
		}
	}
}

func TestBackoffDelayNegativeAttempt(t *testing.T) {
	if got := BackoffDelay(-3, 30*time.Second); got != time.Second {
		t.Errorf("negative attempt: got %s, want 1s", got)
	}
}

func TestBackoffDelayLargeAttemptStaysAtCeiling(t *testing.T) {
	// Far past the shift guard; must not wrap or go negative.
	for _, attempt := range []int{31, 64, 1000} {
		if got := BackoffDelay(attempt, 30*time.Second); got != 30*time.Second {
			t.Errorf("attempt %d: got %s, want ceiling", attempt, got)
		}
	}
}

// ── Supervision loop ──────────────────────────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStream fails the first failDials dials, then connects.  Each successful
// SubscribeHeads hands back a fresh fake subscription.
type fakeStream struct {
	mu        sync.Mutex
	failDials int
	dials     int
	subs      int
	lastHeads chan<- *types.Header
}

func (f *fakeStream) DialStream(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.dials <= f.failDials {
		return errors.New("dial refused")
	}
	return nil
}

func (f *fakeStream) CloseStream() {}

func (f *fakeStream) SubscribeHeads(_ context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs++
	f.lastHeads = ch
	return &fakeHeadSub{errCh: make(chan error, 1)}, nil
}

func (f *fakeStream) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeStream) subCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs
}

func (f *fakeStream) allowDials() {
	f.mu.Lock()
	f.failDials = 0
	f.mu.Unlock()
}

type fakeHeadSub struct{ errCh chan error }

func (s *fakeHeadSub) Unsubscribe()      {}
func (s *fakeHeadSub) Err() <-chan error { return s.errCh }

// connectedListener records the reconnected flag of every notification.
type connectedListener struct {
	mu    sync.Mutex
	calls []bool
}

func (l *connectedListener) record(reconnected bool) {
	l.mu.Lock()
	l.calls = append(l.calls, reconnected)
	l.mu.Unlock()
}

func (l *connectedListener) snapshot() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.calls...)
}

// supCfg keeps backoff at the 1ms ceiling so reconnect cycles finish fast.
func supCfg(staleAfter time.Duration) *config.SettlerConfig {
	return &config.SettlerConfig{
		StaleAfter:           staleAfter,
		HeartbeatInterval:    5 * time.Millisecond,
		MaxReconnectAttempts: 3,
		MaxBackoff:           time.Millisecond,
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSupervisorResetsAttemptsAfterConnect(t *testing.T) {
	stream := &fakeStream{failDials: 2}
	sup := NewSupervisor(stream, supCfg(time.Second), testLogger())
	listener := &connectedListener{}
	sup.OnConnected(listener.record)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)
	defer sup.Stop()

	waitFor(t, 2*time.Second, "connect after failed dials", func() bool {
		return sup.State().Connected
	})

	if got := stream.dialCount(); got != 3 {
		t.Errorf("dials = %d, want 2 failures + 1 success", got)
	}
	state := sup.State()
	if state.ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d after successful connect, want 0", state.ReconnectAttempts)
	}
	calls := listener.snapshot()
	if len(calls) != 1 || calls[0] {
		t.Errorf("listener calls = %v, want one first-connect notification", calls)
	}
}

func TestSupervisorParksThenForceResetResumes(t *testing.T) {
	stream := &fakeStream{failDials: 1 << 30}
	sup := NewSupervisor(stream, supCfg(time.Second), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)
	defer sup.Stop()

	waitFor(t, 2*time.Second, "attempts to be exhausted", func() bool {
		return stream.dialCount() == 3
	})

	// Parked: no further dials despite the 1ms backoff ceiling.
	time.Sleep(30 * time.Millisecond)
	if got := stream.dialCount(); got != 3 {
		t.Fatalf("dials = %d while parked, want 3", got)
	}

	stream.allowDials()
	sup.ForceReset()

	waitFor(t, 2*time.Second, "connect after forced reset", func() bool {
		return sup.State().Connected
	})
	if got := stream.dialCount(); got != 4 {
		t.Errorf("dials = %d, want exactly one more after the reset", got)
	}
	if got := sup.State().ReconnectAttempts; got != 0 {
		t.Errorf("ReconnectAttempts = %d after reset connect, want 0", got)
	}
}

func TestSupervisorReconnectsWhenStreamGoesStale(t *testing.T) {
	stream := &fakeStream{}
	// Short staleness, no headers ever pushed: every watch cycle goes stale.
	sup := NewSupervisor(stream, supCfg(20*time.Millisecond), testLogger())
	listener := &connectedListener{}
	sup.OnConnected(listener.record)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)
	defer sup.Stop()

	waitFor(t, 2*time.Second, "a stale-triggered reconnect", func() bool {
		return stream.subCount() >= 2
	})

	// Every reconnect re-subscribed and re-notified with reconnected = true.
	if stream.subCount() < 2 {
		t.Fatalf("subs = %d, want a fresh subscription per connect", stream.subCount())
	}
	calls := listener.snapshot()
	if len(calls) < 2 || calls[0] || !calls[1] {
		t.Errorf("listener calls = %v, want first=false then reconnected=true", calls)
	}
}

func TestStreamStateBlockAge(t *testing.T) {
	now := time.Now()

	fresh := StreamState{LastBlockAt: now.Add(-45 * time.Second)}
	if age := fresh.BlockAge(now); age != 45*time.Second {
		t.Errorf("got %s, want 45s", age)
	}

	// Never saw a block: age must exceed any sane staleness threshold.
	var never StreamState
	if age := never.BlockAge(now); age < 24*time.Hour {
		t.Errorf("zero LastBlockAt: got %s, want a very large duration", age)
	}
}
