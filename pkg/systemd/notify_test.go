package systemd

import (
	"context"
	"sync"
	"testing"
	"time"

	logx "mintwatch/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func TestDisabledNotifierSendsNothing(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(false, logx.Nop())
	n.notify = rec.notify
	n.Ready("up")
	n.Stopping()
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("states = %v", got)
	}
}

func TestReadyAndStopping(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(true, logx.Nop())
	n.notify = rec.notify

	n.Ready("watching 3 channels")
	n.Stopping()
	got := rec.snapshot()
	if len(got) != 2 {
		t.Fatalf("states = %v", got)
	}
	if got[0] != "READY=1\nSTATUS=watching 3 channels" || got[1] != "STOPPING=1" {
		t.Fatalf("states = %q", got)
	}
}

func TestWatchdogPingsUntilCancelled(t *testing.T) {
	rec := &recorder{}
	n := NewNotifier(true, logx.Nop())
	n.notify = rec.notify
	n.watchdog = func() (time.Duration, error) { return 20 * time.Millisecond, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Watchdog(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.snapshot()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("watchdog never pinged")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	for _, s := range rec.snapshot() {
		if s != "WATCHDOG=1" {
			t.Fatalf("unexpected state %q", s)
		}
	}
}

func TestWatchdogDisabledReturns(t *testing.T) {
	n := NewNotifier(true, logx.Nop())
	n.watchdog = func() (time.Duration, error) { return 0, nil }
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Watchdog(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watchdog blocked without WatchdogSec")
	}
}
