package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mintwatch/internal/broadcast"
	"mintwatch/internal/config"
	"mintwatch/internal/notifier"
	"mintwatch/internal/report"
	rtsup "mintwatch/internal/runtime/supervisor"
	logx "mintwatch/pkg/logx"
	"mintwatch/pkg/systemd"
)

func TestStorePaths(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Dir = "/data"

	if got := mapSeenStore(cfg).Path; got != filepath.Join("/data", "seen_mint_addresses.json") {
		t.Fatalf("seen path = %s", got)
	}
	if _, ok := mapFeedStore(cfg); ok {
		t.Fatal("feed store must be disabled by default")
	}

	cfg.Feed.Enabled = true
	cfg.Feed.MaxSize = 50
	cfg.Storage.Driver = "sqlite"
	fc, ok := mapFeedStore(cfg)
	if !ok {
		t.Fatal("feed store not mapped")
	}
	if fc.Capacity != 50 || fc.Path != filepath.Join("/data", "latest_messages.db") || fc.Driver != "sqlite" {
		t.Fatalf("feed store = %+v", fc)
	}
}

func TestNeedsMTProto(t *testing.T) {
	cfg := config.Defaults()
	if !needsMTProto(cfg) {
		t.Fatal("poll mode needs the user client")
	}
	cfg.Ingest.Mode = "push"
	if !needsMTProto(cfg) {
		t.Fatal("push over mtproto needs the user client")
	}
	cfg.Ingest.PushSource = "bot"
	if needsMTProto(cfg) {
		t.Fatal("push over bot must not need the user client")
	}
}

func TestMapPollDurations(t *testing.T) {
	cfg := config.Defaults()
	cfg.Telegram.ChannelIDs = []int64{-1001, 2}
	cfg.Ingest.Jitter = "250ms"
	pc := mapPoll(cfg)
	if pc.MinInterval != time.Second || pc.Jitter != 250*time.Millisecond || pc.CallTimeout != 30*time.Second {
		t.Fatalf("poll config = %+v", pc)
	}
	if len(pc.ChannelIDs) != 2 || pc.HistoryLimit != 100 || pc.MaxConcurrency != 5 {
		t.Fatalf("poll config = %+v", pc)
	}
	cfg.Telegram.ChannelIDs[0] = 99
	if pc.ChannelIDs[0] != -1001 {
		t.Fatal("poll config aliases the config slice")
	}
}

func TestMapAPI(t *testing.T) {
	cfg := config.Defaults()
	cfg.WS.Format = "text"
	ac := mapAPI(cfg)
	if ac.Addr != ":8000" || ac.Format != "text" || ac.PingInterval != 30*time.Second || ac.ShutdownTimeout != 5*time.Second {
		t.Fatalf("api config = %+v", ac)
	}
}

type nopSender struct{}

func (nopSender) SendText(context.Context, int64, int, string) error { return nil }

func testApp(t *testing.T) *App {
	t.Helper()
	logs, log := logx.New(logx.Config{Level: "error"}, nil)
	t.Cleanup(func() { _ = logs.Close() })
	return &App{
		log:    log,
		logs:   logs,
		sd:     systemd.NewNotifier(false, log),
		hub:    broadcast.New(broadcast.Config{}, log),
		relay:  notifier.New(notifier.Config{}, nopSender{}, log),
		report: report.New(report.Config{}, nil, config.CronParser, log),
	}
}

func TestApplyConfigLiveSections(t *testing.T) {
	a := testApp(t)
	prev := config.Defaults()
	next := config.Defaults()
	next.Logging.Level = "debug"
	next.Notifier.Enabled = true
	next.Telegram.RelayChatID = -100

	a.applyConfig(context.Background(), prev, next)

	if !a.relay.Enabled() {
		t.Fatal("relay config not applied")
	}
	// Without a bot client the relay must not be registered.
	if a.hub.Count() != 0 {
		t.Fatalf("subscribers = %d, want 0", a.hub.Count())
	}
}

func TestApplyConfigNoChanges(t *testing.T) {
	a := testApp(t)
	cfg := config.Defaults()
	a.applyConfig(context.Background(), cfg, config.Defaults())
	if a.relay.Enabled() {
		t.Fatal("unexpected relay change")
	}
}

func TestStepHonorsDeadline(t *testing.T) {
	a := testApp(t)
	start := time.Now()
	a.step(context.Background(), "slow", 20*time.Millisecond, func(c context.Context) error {
		<-c.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	if took := time.Since(start); took > 500*time.Millisecond {
		t.Fatalf("step blocked for %s", took)
	}
}

func TestTasksSnapshotTracksSupervisor(t *testing.T) {
	a := testApp(t)
	if got := a.tasks(); len(got.Goroutines) != 0 {
		t.Fatalf("tasks before Start = %+v", got)
	}

	a.sup = rtsup.NewSupervisor(context.Background(), rtsup.WithLogger(a.log))
	a.sup.Go0("ingest", func(context.Context) { panic("boom") })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = a.sup.Wait(ctx)

	snap := a.tasks()
	if len(snap.Goroutines) != 1 || snap.Goroutines[0].Name != "ingest" || snap.Goroutines[0].Panics != 1 {
		t.Fatalf("tasks = %+v", snap)
	}
}
