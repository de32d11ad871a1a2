// Package broadcast fans mint events out to live subscribers.
package broadcast

import (
	"context"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "mintwatch/pkg/logx"
)

type entry struct {
	sub Subscriber
	seq uint64
}

// Broadcaster is a registry of subscribers plus fan-out delivery.
//
// Broadcast works on a snapshot taken at call time, so subscribers may
// connect or disconnect (including from inside Send) while it runs.
type Broadcaster struct {
	log logx.Logger

	mu   sync.RWMutex
	cfg  Config
	subs map[string]entry
	seq  uint64

	events     atomic.Uint64
	deliveries atomic.Uint64
	dropped    atomic.Uint64
}

func New(cfg Config, log logx.Logger) *Broadcaster {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Broadcaster{
		log:  log.With(logx.String("comp", "broadcast")),
		cfg:  cfg.normalized(),
		subs: map[string]entry{},
	}
}

// Apply swaps delivery settings; in-flight broadcasts keep the old ones.
func (b *Broadcaster) Apply(cfg Config) {
	b.mu.Lock()
	b.cfg = cfg.normalized()
	b.mu.Unlock()
}

// Connect registers sub. A subscriber with the same ID replaces the old one.
func (b *Broadcaster) Connect(sub Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	b.seq++
	prev, had := b.subs[sub.ID()]
	b.subs[sub.ID()] = entry{sub: sub, seq: b.seq}
	n := len(b.subs)
	b.mu.Unlock()

	if had && prev.sub != sub {
		closeSub(prev.sub)
	}
	b.log.Debug("subscriber connected", logx.String("sub", sub.ID()), logx.Int("active", n))
}

// Disconnect removes the subscriber with id. Unknown ids are ignored.
func (b *Broadcaster) Disconnect(id string) {
	b.mu.Lock()
	e, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	n := len(b.subs)
	b.mu.Unlock()
	if !ok {
		return
	}
	closeSub(e.sub)
	b.log.Debug("subscriber disconnected", logx.String("sub", id), logx.Int("active", n))
}

// Count returns the number of active subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Broadcast delivers ev to every subscriber active at call time.
// A failing or timed-out subscriber is removed; the rest still receive ev.
func (b *Broadcaster) Broadcast(ctx context.Context, ev Event) Report {
	if ev.Type == "" {
		ev.Type = EventMint
	}
	if ev.SeenAt.IsZero() {
		ev.SeenAt = time.Now().UTC()
	}
	b.events.Add(1)

	b.mu.RLock()
	cfg := b.cfg
	snap := make([]entry, 0, len(b.subs))
	for _, e := range b.subs {
		snap = append(snap, e)
	}
	b.mu.RUnlock()
	sort.Slice(snap, func(i, j int) bool { return snap[i].seq < snap[j].seq })

	var (
		rep   Report
		repMu sync.Mutex
		wg    sync.WaitGroup
		sem   = make(chan struct{}, cfg.Parallelism)
	)
	for _, e := range snap {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return rep
		}
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			defer func() { <-sem }()

			err := b.deliver(ctx, cfg.SendTimeout, e.sub, ev)
			repMu.Lock()
			defer repMu.Unlock()
			if err == nil {
				rep.Delivered++
				return
			}
			rep.Dropped = append(rep.Dropped, e.sub.ID())
			b.drop(e, err)
		}(e)
	}
	wg.Wait()

	b.deliveries.Add(uint64(rep.Delivered))
	if len(rep.Dropped) > 0 {
		b.dropped.Add(uint64(len(rep.Dropped)))
	}
	return rep
}

func (b *Broadcaster) deliver(ctx context.Context, timeout time.Duration, sub Subscriber, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("panic in subscriber send", logx.String("sub", sub.ID()), logx.Any("panic", r))
			err = errPanic
		}
	}()
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return sub.Send(sctx, ev)
}

// drop removes e unless the slot was already taken over by a newer subscriber.
func (b *Broadcaster) drop(e entry, cause error) {
	id := e.sub.ID()
	b.mu.Lock()
	cur, ok := b.subs[id]
	if ok && cur.seq == e.seq {
		delete(b.subs, id)
	} else {
		ok = false
	}
	n := len(b.subs)
	b.mu.Unlock()
	if !ok {
		return
	}
	closeSub(e.sub)
	b.log.Info("subscriber dropped", logx.String("sub", id), logx.Int("active", n), logx.Err(cause))
}

// Stats returns cumulative counters.
func (b *Broadcaster) Stats() Stats {
	return Stats{
		Subscribers: b.Count(),
		Events:      b.events.Load(),
		Deliveries:  b.deliveries.Load(),
		Dropped:     b.dropped.Load(),
	}
}

// Close disconnects every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = map[string]entry{}
	b.mu.Unlock()
	for _, e := range subs {
		closeSub(e.sub)
	}
	if len(subs) > 0 {
		b.log.Info("broadcaster closed", logx.Int("disconnected", len(subs)))
	}
}

func closeSub(sub Subscriber) {
	if c, ok := sub.(io.Closer); ok {
		_ = c.Close()
	}
}
