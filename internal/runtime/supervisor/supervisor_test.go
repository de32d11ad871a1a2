package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecordsFirstErrorAndRecoversPanics(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.Go("boom", func(context.Context) error { return errors.New("boom") })
	s.Go0("panics", func(context.Context) { panic("oops") })

	err := s.Wait(waitCtx(t))
	if err == nil {
		t.Fatal("expected recorded error")
	}
	snap := s.Snapshot()
	var panics uint64
	for _, g := range snap.Goroutines {
		panics += g.Panics
	}
	if panics != 1 || snap.Active != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestCancelOnError(t *testing.T) {
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go("blocker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Go("fail", func(context.Context) error { return errors.New("fail") })
	if err := s.Wait(waitCtx(t)); err == nil || s.Context().Err() == nil {
		t.Fatalf("err = %v, ctx err = %v", err, s.Context().Err())
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	s := NewSupervisor(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3", runs.Load())
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	s := NewSupervisor(context.Background())
	var runs atomic.Int32
	s.GoRestart("broken", func(context.Context) error {
		runs.Add(1)
		return errors.New("permanent")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2), WithFatalOnFinalError(true))

	if err := s.Wait(waitCtx(t)); err == nil {
		t.Fatal("expected final error")
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3 (first run + 2 restarts)", runs.Load())
	}
}

func TestStopEndsRestartLoop(t *testing.T) {
	s := NewSupervisor(context.Background())
	started := make(chan struct{}, 1)
	s.GoRestart0("loop", func(ctx context.Context) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
	}, WithStopOnCleanExit(false))
	<-started
	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Active() != 0 {
		t.Fatalf("active = %d", s.Active())
	}
}
