package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"mintwatch/internal/broadcast"
	"mintwatch/internal/mint"
	rtsup "mintwatch/internal/runtime/supervisor"
	logx "mintwatch/pkg/logx"
)

const RelayID = "telegram-relay"

type Relay struct {
	log    logx.Logger
	sender Sender

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	queue   chan broadcast.Event
	sup     *rtsup.Supervisor

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, sender Sender, log logx.Logger) *Relay {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Relay{
		log:    log.With(logx.String("comp", "notifier")),
		sender: sender,
		sleep:  sleepCtx,
	}
	r.applyLocked(cfg)
	return r
}

func (r *Relay) ID() string { return RelayID }

func (r *Relay) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Enabled
}

// Apply updates target chat, rate and retry policy. Queue size changes take
// effect on the next Start.
func (r *Relay) Apply(cfg Config) {
	r.mu.Lock()
	r.applyLocked(cfg)
	r.mu.Unlock()
}

func (r *Relay) applyLocked(cfg Config) {
	cfg = cfg.normalized()
	r.cfg = cfg
	r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Send enqueues ev without blocking. It fails only after Stop, which makes
// the broadcaster drop the relay.
func (r *Relay) Send(ctx context.Context, ev broadcast.Event) error {
	r.mu.Lock()
	q := r.queue
	r.mu.Unlock()
	if q == nil {
		return ErrStopped
	}
	select {
	case q <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		n := r.dropped.Add(1)
		r.log.Warn("relay queue full; event dropped", logx.String("addr", ev.Address), logx.Uint64("dropped_total", n))
		return nil
	}
}

func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queue != nil || !r.cfg.Enabled {
		return
	}
	r.queue = make(chan broadcast.Event, r.cfg.QueueSize)
	r.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	q := r.queue
	r.sup.GoRestart0("relay.worker", func(ctx context.Context) {
		r.worker(ctx, q)
	}, rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	r.log.Info("relay started", logx.Int64("chat_id", r.cfg.ChatID), logx.Int("rps", r.cfg.RatePerSec))
}

// Stop ends the worker. Events still queued are sent until ctx expires.
func (r *Relay) Stop(ctx context.Context) {
	r.mu.Lock()
	q := r.queue
	sup := r.sup
	r.queue = nil
	r.sup = nil
	r.mu.Unlock()
	if sup == nil {
		return
	}

	drained := 0
drain:
	for {
		select {
		case ev := <-q:
			if err := r.deliver(ctx, ev); err != nil {
				break drain
			}
			drained++
		default:
			break drain
		}
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
	r.log.Info("relay stopped", logx.Int("drained", drained), logx.Int("left", len(q)))
}

func (r *Relay) Stats() Stats {
	r.mu.Lock()
	q := r.queue
	r.mu.Unlock()
	return Stats{
		Queued:  len(q),
		Sent:    r.sent.Load(),
		Failed:  r.failed.Load(),
		Dropped: r.dropped.Load(),
	}
}

func (r *Relay) worker(ctx context.Context, q <-chan broadcast.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q:
			_ = r.deliver(ctx, ev)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, ev broadcast.Event) error {
	r.mu.Lock()
	cfg := r.cfg
	lim := r.limiter
	r.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return err
	}
	text := FormatEvent(ev)
	var last error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		err := r.sender.SendText(ctx, cfg.ChatID, cfg.ThreadID, text)
		if err == nil {
			r.sent.Add(1)
			return nil
		}
		last = err
		if attempt == cfg.RetryMax || ctx.Err() != nil {
			break
		}
		delay := backoff(cfg, attempt, err)
		r.log.Debug("relay send retry scheduled", logx.String("addr", ev.Address), logx.Int("attempt", attempt+2), logx.Duration("delay", delay), logx.Err(err))
		if err := r.sleep(ctx, delay); err != nil {
			last = err
			break
		}
	}
	r.failed.Add(1)
	r.log.Warn("relay send failed", logx.String("addr", ev.Address), logx.Int64("chat_id", cfg.ChatID), logx.Err(last))
	return last
}

// FormatEvent renders ev with the same marker the extractor recognizes, so a
// relay chat can itself be monitored.
func FormatEvent(ev broadcast.Event) string {
	if ev.ChannelID != 0 {
		return fmt.Sprintf("%s%s\nchannel: %d", mint.Marker, ev.Address, ev.ChannelID)
	}
	return mint.Marker + ev.Address
}

func backoff(cfg Config, attempt int, err error) time.Duration {
	var ra RetryAfterError
	if errors.As(err, &ra) && ra.RetryAfter() > 0 {
		d := ra.RetryAfter()
		if d > cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
		}
		return d
	}
	d := cfg.RetryBase << attempt
	if d <= 0 || d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	// up to 20% jitter
	return d + time.Duration(rand.Float64()*0.2*float64(d))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
