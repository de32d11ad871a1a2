package ingest

import (
	"context"
	"math/rand/v2"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	logx "mintwatch/pkg/logx"
)

type PollConfig struct {
	ChannelIDs []int64
	// HistoryLimit is how many recent messages are fetched per channel per cycle.
	HistoryLimit int
	// MaxConcurrency bounds simultaneous history calls.
	MaxConcurrency int
	// RatePerSec paces history calls across all workers; 0 disables pacing.
	RatePerSec float64
	// Between cycles the strategy sleeps MinInterval plus a random share of Jitter.
	MinInterval time.Duration
	Jitter      time.Duration
	// CallTimeout bounds one history call; 0 means no per-call deadline.
	CallTimeout time.Duration
}

func (c PollConfig) normalized() PollConfig {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 100
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 5
	}
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// PollStrategy resolves channels once and then fetches their recent history
// in cycles.
type PollStrategy struct {
	cfg     PollConfig
	src     PollSource
	log     logx.Logger
	stats   *Stats
	limiter *rate.Limiter

	// jitter returns a value in [0,1); sleep waits d or until ctx is done.
	jitter func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewPollStrategy(cfg PollConfig, src PollSource, stats *Stats, log logx.Logger) *PollStrategy {
	cfg = cfg.normalized()
	if log.IsZero() {
		log = logx.Nop()
	}
	if stats == nil {
		stats = &Stats{}
	}
	p := &PollStrategy{
		cfg:    cfg,
		src:    src,
		log:    log.With(logx.String("comp", "ingest.poll")),
		stats:  stats,
		jitter: rand.Float64,
		sleep:  sleepCtx,
	}
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return p
}

func (p *PollStrategy) Name() string { return ModePoll }

func (p *PollStrategy) Run(ctx context.Context, h Handler) error {
	channels, err := p.src.ResolveChannels(ctx, p.cfg.ChannelIDs)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		return ErrNoChannels
	}
	titles := make([]string, 0, len(channels))
	for _, ch := range channels {
		titles = append(titles, ch.Title)
	}
	p.log.Info("monitoring channels", logx.Int("count", len(channels)), logx.Strs("titles", titles))

	for {
		if err := p.cycle(ctx, channels, h); err != nil {
			return err
		}
		p.stats.cycles.Add(1)

		d := p.cfg.MinInterval + time.Duration(p.jitter()*float64(p.cfg.Jitter))
		if err := p.sleep(ctx, d); err != nil {
			return err
		}
	}
}

func (p *PollStrategy) cycle(ctx context.Context, channels []Channel, h Handler) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrency)
	for _, ch := range channels {
		g.Go(func() error {
			msgs, err := p.fetch(gctx, ch)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				if err := h(gctx, m); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// fetch returns the channel's recent messages oldest first. Remote failures
// are logged and reported as an empty result.
func (p *PollStrategy) fetch(ctx context.Context, ch Channel) ([]Message, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	cctx := ctx
	if p.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()
	}

	msgs, err := p.src.FetchHistory(cctx, ch, p.cfg.HistoryLimit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if IsAuth(err) {
			return nil, err
		}
		if !IsRemote(err) {
			err = &RemoteError{Op: "history", ChannelID: ch.ID, Err: err}
		}
		p.stats.remoteErrors.Add(1)
		p.log.Warn("history fetch failed", logx.Int64("channel_id", ch.ID), logx.String("title", ch.Title), logx.Err(err))
		return nil, nil
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	return msgs, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
