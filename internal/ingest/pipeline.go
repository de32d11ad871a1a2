package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	logx "mintwatch/pkg/logx"
)

const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateStopped = "stopped"
	StateFailed  = "failed"
)

// Pipeline runs one Strategy through one Processor.
type Pipeline struct {
	strategy Strategy
	proc     *Processor
	stats    *Stats
	log      logx.Logger

	state   atomic.Value // string
	lastErr atomic.Value // string
	runs    atomic.Uint64
}

func NewPipeline(strategy Strategy, proc *Processor, stats *Stats, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	if stats == nil {
		stats = &Stats{}
	}
	p := &Pipeline{
		strategy: strategy,
		proc:     proc,
		stats:    stats,
		log:      log.With(logx.String("comp", "ingest"), logx.String("mode", strategy.Name())),
	}
	p.state.Store(StateIdle)
	p.lastErr.Store("")
	return p
}

// NewStrategy selects the strategy for mode. The source for the other mode may be nil.
func NewStrategy(mode string, cfg PollConfig, poll PollSource, live LiveFeed, stats *Stats, log logx.Logger) (Strategy, error) {
	switch mode {
	case "", ModePoll:
		if poll == nil {
			return nil, errors.New("ingest: poll mode needs a poll source")
		}
		return NewPollStrategy(cfg, poll, stats, log), nil
	case ModePush:
		if live == nil {
			return nil, errors.New("ingest: push mode needs a live feed")
		}
		return NewPushStrategy(cfg.ChannelIDs, live, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// Run blocks until ctx is cancelled (returns nil) or the strategy fails.
// In-flight remote calls are abandoned on cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	p.runs.Add(1)
	p.state.Store(StateRunning)
	start := time.Now()
	p.log.Info("ingestion started")

	err := p.strategy.Run(ctx, p.proc.Handle)
	if ctx.Err() != nil {
		p.state.Store(StateStopped)
		p.log.Info("ingestion stopped", logx.Duration("uptime", time.Since(start)))
		return nil
	}
	if err == nil {
		err = errors.New("ingest: strategy returned without error")
	}
	p.state.Store(StateFailed)
	p.lastErr.Store(err.Error())
	p.log.Error("ingestion failed",
		logx.Err(err),
		logx.Bool("auth", IsAuth(err)),
		logx.Duration("uptime", time.Since(start)),
		logx.Any("stats", p.stats.Snapshot()),
	)
	return err
}

type Status struct {
	Mode      string        `json:"mode"`
	State     string        `json:"state"`
	Runs      uint64        `json:"runs"`
	LastError string        `json:"last_error,omitempty"`
	Stats     StatsSnapshot `json:"stats"`
}

func (p *Pipeline) Status() Status {
	return Status{
		Mode:      p.strategy.Name(),
		State:     p.state.Load().(string),
		Runs:      p.runs.Load(),
		LastError: p.lastErr.Load().(string),
		Stats:     p.stats.Snapshot(),
	}
}
