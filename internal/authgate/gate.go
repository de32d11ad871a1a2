// Package authgate bridges an out-of-band login code with a login flow that
// is blocked waiting for it.
package authgate

import (
	"context"
	"errors"
	"sync"
)

const (
	MinCode = 10000
	MaxCode = 99999
)

var (
	ErrCodeFormat = errors.New("code must be a 5-digit number")
	ErrAlreadySet = errors.New("code already set")
)

// Gate is a write-once value. Submit resolves it at most once; any number of
// callers may Await the resolution.
type Gate struct {
	mu   sync.Mutex
	code int
	set  bool
	done chan struct{}
}

func NewGate() *Gate {
	return &Gate{done: make(chan struct{})}
}

// Submit stores code and releases every waiter.
// A second submission is rejected and never overwrites the first.
func (g *Gate) Submit(code int) error {
	if code < MinCode || code > MaxCode {
		return ErrCodeFormat
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.set {
		return ErrAlreadySet
	}
	g.code = code
	g.set = true
	close(g.done)
	return nil
}

// Await blocks until a code is submitted or ctx is done.
func (g *Gate) Await(ctx context.Context) (int, error) {
	select {
	case <-g.done:
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.code, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Resolved reports whether a code has been submitted.
func (g *Gate) Resolved() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}
