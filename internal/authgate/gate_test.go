package authgate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGateSubmitOnce(t *testing.T) {
	g := NewGate()
	if err := g.Submit(11111); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if err := g.Submit(22222); !errors.Is(err, ErrAlreadySet) {
		t.Fatalf("second Submit err = %v, want ErrAlreadySet", err)
	}
	code, err := g.Await(context.Background())
	if err != nil || code != 11111 {
		t.Fatalf("Await = %d, %v; want 11111", code, err)
	}
}

func TestGateRejectsOutOfRange(t *testing.T) {
	g := NewGate()
	for _, c := range []int{9999, 100000, 0, -12345} {
		if err := g.Submit(c); !errors.Is(err, ErrCodeFormat) {
			t.Fatalf("Submit(%d) err = %v, want ErrCodeFormat", c, err)
		}
	}
	if g.Resolved() {
		t.Fatal("rejected codes must not resolve the gate")
	}
	for _, c := range []int{MinCode, MaxCode} {
		if err := NewGate().Submit(c); err != nil {
			t.Fatalf("Submit(%d): %v", c, err)
		}
	}
}

func TestGateWaiterResumes(t *testing.T) {
	g := NewGate()
	got := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			code, err := g.Await(context.Background())
			if err != nil {
				code = -1
			}
			got <- code
		}()
	}

	time.Sleep(20 * time.Millisecond)
	if err := g.Submit(11111); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		select {
		case c := <-got:
			if c != 11111 {
				t.Fatalf("waiter got %d, want 11111", c)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("waiter did not resume")
		}
	}
}

func TestGateAwaitCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := NewGate().Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Await err = %v, want deadline exceeded", err)
	}
}

func TestHandshakeBeginOpensFreshGateAfterResolution(t *testing.T) {
	h := NewHandshake()

	began := 0
	h.OnBegin(func() { began++ })

	g1 := h.Begin()
	if pending, _ := h.Pending(); !pending {
		t.Fatal("expected pending after Begin")
	}
	if err := h.Submit(12345); err != nil {
		t.Fatal(err)
	}
	code, err := h.Await(context.Background(), g1)
	if err != nil || code != 12345 {
		t.Fatalf("Await = %d, %v", code, err)
	}
	if pending, _ := h.Pending(); pending {
		t.Fatal("expected not pending after resolution")
	}
	if err := h.Submit(54321); !errors.Is(err, ErrAlreadySet) {
		t.Fatalf("Submit on resolved gate = %v, want ErrAlreadySet", err)
	}

	g2 := h.Begin()
	if g2 == g1 {
		t.Fatal("expected a fresh gate for the second attempt")
	}
	if err := h.Submit(54321); err != nil {
		t.Fatalf("Submit on fresh gate: %v", err)
	}
	if began != 2 {
		t.Fatalf("OnBegin called %d times, want 2", began)
	}
}

func TestHandshakeEarlySubmitIsKept(t *testing.T) {
	h := NewHandshake()
	if err := h.Submit(33333); err != nil {
		t.Fatal(err)
	}
	g := h.Begin()
	code, err := h.Await(context.Background(), g)
	if err != nil || code != 33333 {
		t.Fatalf("Await = %d, %v; want 33333", code, err)
	}
}

func TestHandshakeStaleEarlyCodeIsDiscarded(t *testing.T) {
	h := NewHandshake()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	if err := h.Submit(33333); err != nil {
		t.Fatal(err)
	}
	now = now.Add(EarlyCodeTTL + time.Second)

	g := h.Begin()
	if g.Resolved() {
		t.Fatal("stale early code must not resolve the new attempt")
	}
	if err := h.Submit(44444); err != nil {
		t.Fatalf("Submit for the pending attempt: %v", err)
	}
	code, err := h.Await(context.Background(), g)
	if err != nil || code != 44444 {
		t.Fatalf("Await = %d, %v; want 44444", code, err)
	}
}

func TestHandshakeCodeSubmittedWhileWaitingIsNotEarly(t *testing.T) {
	h := NewHandshake()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	g := h.Begin()
	if err := h.Submit(55555); err != nil {
		t.Fatal(err)
	}
	// The flow has not consumed it yet; a slow retry of Begin keeps it.
	now = now.Add(EarlyCodeTTL + time.Minute)
	if h.Begin() != g {
		t.Fatal("code posted for a pending attempt was discarded")
	}
}
