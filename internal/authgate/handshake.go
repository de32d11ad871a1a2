package authgate

import (
	"context"
	"sync"
	"time"
)

// Handshake owns the gate of the current login attempt.
//
// The login flow calls Begin when the platform has sent a code, then Await.
// The HTTP surface calls Submit. While no flow is waiting, Submit still lands
// on the current gate so a code posted just before Begin is not lost; such an
// early code is only honored for EarlyCodeTTL.
type Handshake struct {
	mu      sync.Mutex
	gate    *Gate
	used    bool // current gate's code was consumed by a login flow
	early   bool // current gate was resolved while no flow was waiting
	setAt   time.Time
	waiting bool
	since   time.Time
	onBegin func()
	now     func() time.Time
}

// EarlyCodeTTL bounds how long a code posted with no login pending is kept.
// Telegram login codes expire within minutes, so an older one is stale.
const EarlyCodeTTL = 2 * time.Minute

func NewHandshake() *Handshake {
	return &Handshake{gate: NewGate(), now: time.Now}
}

// OnBegin registers fn to run each time a login attempt starts waiting.
func (h *Handshake) OnBegin(fn func()) {
	h.mu.Lock()
	h.onBegin = fn
	h.mu.Unlock()
}

// Begin returns the gate for a new login attempt. The current gate is kept
// only while it is unresolved or holds a fresh early code.
func (h *Handshake) Begin() *Gate {
	h.mu.Lock()
	now := h.now()
	stale := h.early && h.gate.Resolved() && now.Sub(h.setAt) > EarlyCodeTTL
	if h.used || stale {
		h.gate = NewGate()
		h.used, h.early = false, false
	}
	g := h.gate
	h.waiting = true
	h.since = now
	fn := h.onBegin
	h.mu.Unlock()

	if fn != nil {
		fn()
	}
	return g
}

// Await waits on g and clears the pending flag once it resolves or ctx ends.
func (h *Handshake) Await(ctx context.Context, g *Gate) (int, error) {
	code, err := g.Await(ctx)
	h.mu.Lock()
	if h.gate == g {
		h.waiting = false
		if err == nil {
			h.used = true
		}
	}
	h.mu.Unlock()
	return code, err
}

// Submit resolves the current gate.
func (h *Handshake) Submit(code int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.gate.Submit(code); err != nil {
		return err
	}
	h.early = !h.waiting
	h.setAt = h.now()
	return nil
}

// Pending reports whether a login flow is blocked waiting for a code, and since when.
func (h *Handshake) Pending() (bool, time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waiting, h.since
}
