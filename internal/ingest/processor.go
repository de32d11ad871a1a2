package ingest

import (
	"context"
	"time"

	"mintwatch/internal/broadcast"
	"mintwatch/internal/mint"
	"mintwatch/internal/storage"
	logx "mintwatch/pkg/logx"
)

// Dedup is the part of storage.Store the processor relies on.
type Dedup interface {
	Contains(ctx context.Context, member string) bool
	Add(ctx context.Context, member string) (bool, error)
}

// Publisher fans an event out to subscribers.
type Publisher interface {
	Broadcast(ctx context.Context, ev broadcast.Event) broadcast.Report
}

// Processor is the shared per-message step of every strategy.
type Processor struct {
	seen  Dedup
	feed  Dedup // optional bounded "latest" feed
	pub   Publisher
	log   logx.Logger
	stats *Stats
	now   func() time.Time
}

// NewProcessor wires the processing step. feed may be nil.
func NewProcessor(seen Dedup, feed Dedup, pub Publisher, stats *Stats, log logx.Logger) *Processor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Processor{
		seen:  seen,
		feed:  feed,
		pub:   pub,
		log:   log.With(logx.String("comp", "ingest.processor")),
		stats: stats,
		now:   time.Now,
	}
}

// Handle extracts an address from m and, when it has not been seen before,
// records and broadcasts it. Only the call whose Add inserted the address
// broadcasts, so concurrent handlers racing on the same address produce one event.
//
// Persistence failures are logged and do not stop processing.
func (p *Processor) Handle(ctx context.Context, m Message) error {
	p.stats.messages.Add(1)

	addr, ok := mint.Extract(m.Text)
	if !ok {
		return nil
	}
	p.stats.matches.Add(1)
	if p.seen.Contains(ctx, addr) {
		return nil
	}

	added, err := p.seen.Add(ctx, addr)
	if err != nil {
		p.stats.persistErrors.Add(1)
		p.log.Error("seen store write failed; will retry on next mutation",
			logx.String("addr", addr), logx.Err(err))
	}
	if !added {
		return nil
	}

	now := p.now()
	p.stats.fresh.Add(1)
	p.stats.lastFreshUnix.Store(now.UnixNano())

	if p.feed != nil {
		if _, err := p.feed.Add(ctx, addr); err != nil {
			p.stats.persistErrors.Add(1)
			p.log.Error("feed write failed", logx.String("addr", addr), logx.Err(err))
		}
	}

	p.log.Info("new mint address",
		logx.String("addr", addr),
		logx.Int64("channel_id", m.ChannelID),
		logx.Int("msg_id", m.ID),
	)
	if p.pub != nil {
		rep := p.pub.Broadcast(ctx, broadcast.Event{
			Type:      broadcast.EventMint,
			Address:   addr,
			ChannelID: m.ChannelID,
			SeenAt:    now.UTC(),
		})
		if len(rep.Dropped) > 0 {
			p.log.Debug("broadcast dropped subscribers", logx.Strs("dropped", rep.Dropped))
		}
	}
	return nil
}

var _ Dedup = storage.Store(nil)
