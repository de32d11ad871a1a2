// Package app wires the monitor together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mintwatch/internal/api"
	"mintwatch/internal/authgate"
	"mintwatch/internal/broadcast"
	"mintwatch/internal/config"
	"mintwatch/internal/ingest"
	"mintwatch/internal/notifier"
	"mintwatch/internal/report"
	rtsup "mintwatch/internal/runtime/supervisor"
	"mintwatch/internal/storage"
	"mintwatch/internal/transport/telegram/botapi"
	"mintwatch/internal/transport/telegram/mtproto"
	logx "mintwatch/pkg/logx"
	"mintwatch/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service
	sup  *rtsup.Supervisor

	startedAt time.Time

	seen storage.Store
	feed storage.Store // nil unless feed.enabled

	hs       *authgate.Handshake
	hub      *broadcast.Broadcaster
	relay    *notifier.Relay
	bot      *botapi.Client  // nil without a bot token
	mt       *mtproto.Client // nil when ingestion runs on the bot
	stats    *ingest.Stats
	pipeline *ingest.Pipeline
	api      *api.Server
	report   *report.Reporter
	sd       *systemd.Notifier
}

// New loads the config at cfgPath ("" = defaults and environment only) and
// builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	var (
		bot    *botapi.Client
		sender logx.Sender
	)
	if cfg.Telegram.BotToken != "" {
		bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram.bot"))
		bot, err = botapi.New(botapi.Config{
			Token:       cfg.Telegram.BotToken,
			PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 10*time.Second),
		}, bootLog)
		if err != nil {
			return nil, fmt.Errorf("telegram bot: %w", err)
		}
		sender = bot
	}

	logs, log := logx.New(mapLogging(cfg), sender)

	a := &App{
		cfgm:  cfgm,
		cfg:   cfg,
		logs:  logs,
		log:   log.With(logx.String("comp", "app")),
		bot:   bot,
		hs:    authgate.NewHandshake(),
		stats: &ingest.Stats{},
		sd:    systemd.NewNotifier(cfg.Systemd.Notify, log),
	}
	if err := a.build(cfg, log); err != nil {
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	seen, err := storage.Open(mapSeenStore(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.seen = seen
	if fc, ok := mapFeedStore(cfg); ok {
		feed, err := storage.Open(fc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return err
		}
		a.feed = feed
	}

	a.hub = broadcast.New(mapBroadcast(cfg), log.With(logx.String("comp", "broadcast")))

	var relaySender notifier.Sender
	if a.bot != nil {
		relaySender = a.bot
	}
	a.relay = notifier.New(mapNotifier(cfg), relaySender, log.With(logx.String("comp", "notifier")))

	a.hs.OnBegin(func() {
		a.sd.Status("waiting for login code")
	})

	var (
		poll ingest.PollSource
		live ingest.LiveFeed
	)
	if needsMTProto(cfg) {
		mt, err := mtproto.New(mapMTProto(cfg), a.hs, log)
		if err != nil {
			return err
		}
		a.mt = mt
		poll, live = mt, mt
	} else {
		if a.bot == nil {
			return errors.New("push source bot requires telegram.bot_token")
		}
		live = a.bot
	}

	strategy, err := ingest.NewStrategy(cfg.Ingest.Mode, mapPoll(cfg), poll, live, a.stats, log)
	if err != nil {
		return err
	}
	var feed ingest.Dedup
	if a.feed != nil {
		feed = a.feed
	}
	proc := ingest.NewProcessor(a.seen, feed, a.hub, a.stats, log)
	a.pipeline = ingest.NewPipeline(strategy, proc, a.stats, log)

	var latest api.Latest = a.seen
	if a.feed != nil {
		latest = a.feed
	}
	deps := api.Deps{
		Latest:     latest,
		Codes:      a.hs,
		Hub:        a.hub,
		Seen:       a.seen.Len,
		Ingest:     a.pipeline.Status,
		Goroutines: a.tasks,
	}
	if a.mt != nil {
		deps.Authorized = a.mt.Authorized
	}
	a.api = api.New(mapAPI(cfg), deps, log)

	a.report = report.New(mapReport(cfg), a.snapshot, config.CronParser, log)
	if a.bot != nil {
		a.report.SetPoster(a.bot, cfg.Telegram.RelayChatID, cfg.Telegram.RelayThreadID)
	}
	return nil
}

// tasks is empty until Start creates the supervisor.
func (a *App) tasks() rtsup.Snapshot { return a.sup.Snapshot() }

func (a *App) snapshot() report.Snapshot {
	return report.Snapshot{
		At:          time.Now(),
		Uptime:      time.Since(a.startedAt),
		Seen:        a.seen.Len(),
		Subscribers: a.hub.Count(),
		Ingest:      a.pipeline.Status(),
		Broadcast:   a.hub.Stats(),
		Relay:       a.relay.Stats(),
		Tasks:       a.tasks(),
	}
}

// Done is closed when the app context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first error recorded by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start loads the stores and starts every component. Ingestion failures are
// restarted with backoff and never stop the HTTP server.
func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	runCtx := a.sup.Context()

	if err := a.seen.Load(ctx); err != nil {
		return fmt.Errorf("load seen store: %w", err)
	}
	if a.feed != nil {
		if err := a.feed.Load(ctx); err != nil {
			return fmt.Errorf("load feed store: %w", err)
		}
	}

	a.startRelay(runCtx)
	a.api.Start(runCtx)
	if err := a.report.Start(runCtx); err != nil {
		a.log.Warn("report not scheduled", logx.Err(err))
	}

	in := a.cfg.Ingest
	a.sup.GoRestart("ingest", a.runIngest,
		rtsup.WithMaxRestarts(in.MaxRestarts),
		rtsup.WithRestartBackoff(config.DurationOr(in.RestartBackoff, 5*time.Second), 2*time.Minute),
		rtsup.WithResetAfter(time.Minute),
	)
	a.sup.Go0("systemd.watchdog", a.sd.Watchdog)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sd.Ready(fmt.Sprintf("watching %d channels (%s)", len(a.cfg.Telegram.ChannelIDs), in.Mode))
	a.log.Info("app started",
		logx.String("mode", in.Mode),
		logx.Int("channels", len(a.cfg.Telegram.ChannelIDs)),
		logx.Int("seen", a.seen.Len()),
		logx.Bool("feed", a.feed != nil),
		logx.String("http", a.cfg.HTTP.Addr),
	)
	return nil
}

func (a *App) runIngest(ctx context.Context) error {
	if a.mt != nil {
		return a.mt.Run(ctx, a.pipeline.Run)
	}
	return a.pipeline.Run(ctx)
}

// startRelay starts the Telegram relay and registers it as a subscriber.
func (a *App) startRelay(ctx context.Context) {
	if !a.relay.Enabled() {
		return
	}
	a.relay.Start(ctx)
	a.hub.Connect(a.relay)
}

func (a *App) stopRelay(ctx context.Context) {
	a.hub.Disconnect(a.relay.ID())
	a.relay.Stop(ctx)
}

// Stop shuts components down in dependency order, each step time-bounded.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	a.step(ctx, "report", time.Second, func(c context.Context) error { a.report.Stop(c); return nil })
	a.step(ctx, "http", 5*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	a.step(ctx, "relay", 3*time.Second, func(c context.Context) error { a.stopRelay(c); return nil })
	a.step(ctx, "broadcast", time.Second, func(context.Context) error { a.hub.Close(); return nil })
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		var errs []error
		if a.feed != nil {
			errs = append(errs, a.feed.Close())
		}
		errs = append(errs, a.seen.Close())
		return errors.Join(errs...)
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs fn with an upper bound so one component cannot stall shutdown.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = max(rem, 0)
		}
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
