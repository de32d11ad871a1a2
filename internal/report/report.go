// Package report posts a periodic activity summary on a cron schedule.
package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mintwatch/internal/broadcast"
	"mintwatch/internal/ingest"
	"mintwatch/internal/notifier"
	rtsup "mintwatch/internal/runtime/supervisor"
	logx "mintwatch/pkg/logx"
)

type Config struct {
	Enabled  bool
	Schedule string
	Timezone string
	// Relay also posts the summary to the relay chat.
	Relay bool
}

// Snapshot is the state rendered into one report.
type Snapshot struct {
	At          time.Time
	Uptime      time.Duration
	Seen        int
	Subscribers int
	Ingest      ingest.Status
	Broadcast   broadcast.Stats
	Relay       notifier.Stats
	Tasks       rtsup.Snapshot
}

type Source func() Snapshot

// Poster delivers the rendered report to a chat.
type Poster interface {
	SendText(ctx context.Context, chatID int64, threadID int, text string) error
}

type Reporter struct {
	mu     sync.Mutex
	cfg    Config
	src    Source
	log    logx.Logger
	parser cron.Parser

	poster   Poster
	chatID   int64
	threadID int

	c   *cron.Cron
	ctx context.Context
}

func New(cfg Config, src Source, parser cron.Parser, log logx.Logger) *Reporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{cfg: cfg, src: src, parser: parser, log: log.With(logx.String("comp", "report"))}
}

// SetPoster enables chat delivery for configs with Relay set.
func (r *Reporter) SetPoster(p Poster, chatID int64, threadID int) {
	r.mu.Lock()
	r.poster, r.chatID, r.threadID = p, chatID, threadID
	r.mu.Unlock()
}

// Start schedules the report. It is a no-op when disabled or already running.
func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = ctx
	return r.startLocked()
}

func (r *Reporter) startLocked() error {
	if r.c != nil || !r.cfg.Enabled {
		return nil
	}
	loc := time.Local
	if tz := strings.TrimSpace(r.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("report timezone: %w", err)
		}
		loc = l
	}
	cl := cronLogger{log: r.log}
	c := cron.New(
		cron.WithParser(r.parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(r.cfg.Schedule, r.tick); err != nil {
		return fmt.Errorf("report schedule %q: %w", r.cfg.Schedule, err)
	}
	c.Start()
	r.c = c
	r.log.Info("report scheduled", logx.String("schedule", r.cfg.Schedule), logx.String("tz", loc.String()))
	return nil
}

func (r *Reporter) stopLocked() context.Context {
	if r.c == nil {
		return nil
	}
	done := r.c.Stop()
	r.c = nil
	return done
}

// Stop unschedules and waits for a running report within ctx.
func (r *Reporter) Stop(ctx context.Context) {
	r.mu.Lock()
	done := r.stopLocked()
	r.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Apply swaps the config and reschedules when it changed.
func (r *Reporter) Apply(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.cfg
	r.cfg = cfg
	if r.ctx == nil || prev == cfg {
		return
	}
	if prev.Enabled == cfg.Enabled && prev.Schedule == cfg.Schedule && prev.Timezone == cfg.Timezone {
		return
	}
	r.stopLocked()
	if err := r.startLocked(); err != nil {
		r.log.Warn("report reschedule failed", logx.Err(err))
	}
}

func (r *Reporter) tick() {
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := r.RunOnce(ctx); err != nil {
		r.log.Warn("report delivery failed", logx.Err(err))
	}
}

// RunOnce renders the current snapshot, logs it and posts it when relaying.
func (r *Reporter) RunOnce(ctx context.Context) error {
	if r.src == nil {
		return nil
	}
	snap := r.src()
	st := snap.Ingest.Stats
	r.log.Info("activity report",
		logx.String("state", snap.Ingest.State),
		logx.Int("seen", snap.Seen),
		logx.Int("subscribers", snap.Subscribers),
		logx.Uint64("messages", st.Messages),
		logx.Uint64("new_addresses", st.NewAddresses),
		logx.Uint64("remote_errors", st.RemoteErrors),
		logx.Duration("uptime", snap.Uptime),
	)

	r.mu.Lock()
	relay, p, chatID, threadID := r.cfg.Relay, r.poster, r.chatID, r.threadID
	r.mu.Unlock()
	if !relay || p == nil || chatID == 0 {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return p.SendText(sctx, chatID, threadID, Format(snap))
}

// Format renders snap as a short plain-text message.
func Format(snap Snapshot) string {
	st := snap.Ingest.Stats
	var b strings.Builder
	fmt.Fprintf(&b, "mintwatch report %s\n", snap.At.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "uptime: %s\n", snap.Uptime.Truncate(time.Second))
	fmt.Fprintf(&b, "ingest: %s/%s runs=%d cycles=%d\n", snap.Ingest.Mode, snap.Ingest.State, snap.Ingest.Runs, st.Cycles)
	fmt.Fprintf(&b, "messages: %d matches: %d new: %d\n", st.Messages, st.Matches, st.NewAddresses)
	fmt.Fprintf(&b, "errors: remote=%d persist=%d\n", st.RemoteErrors, st.PersistErrors)
	fmt.Fprintf(&b, "seen: %d subscribers: %d\n", snap.Seen, snap.Subscribers)
	fmt.Fprintf(&b, "broadcast: events=%d deliveries=%d dropped=%d\n", snap.Broadcast.Events, snap.Broadcast.Deliveries, snap.Broadcast.Dropped)
	fmt.Fprintf(&b, "relay: sent=%d failed=%d dropped=%d\n", snap.Relay.Sent, snap.Relay.Failed, snap.Relay.Dropped)
	restarts, panics := taskTotals(snap.Tasks)
	fmt.Fprintf(&b, "tasks: active=%d restarts=%d panics=%d", snap.Tasks.Active, restarts, panics)
	if !st.LastNewAt.IsZero() {
		fmt.Fprintf(&b, "\nlast new: %s", st.LastNewAt.Format(time.RFC3339))
	}
	if snap.Ingest.LastError != "" {
		fmt.Fprintf(&b, "\nlast error: %s", snap.Ingest.LastError)
	}
	return b.String()
}

func taskTotals(s rtsup.Snapshot) (restarts, panics uint64) {
	for _, g := range s.Goroutines {
		restarts += g.Restarts
		panics += g.Panics
	}
	return restarts, panics
}

// cronLogger routes cron's own messages through logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
