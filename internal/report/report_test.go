package report

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"mintwatch/internal/ingest"
	rtsup "mintwatch/internal/runtime/supervisor"
	logx "mintwatch/pkg/logx"
)

var testParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type recordPoster struct {
	mu    sync.Mutex
	texts []string
	chat  int64
}

func (p *recordPoster) SendText(_ context.Context, chatID int64, _ int, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chat = chatID
	p.texts = append(p.texts, text)
	return nil
}

func (p *recordPoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.texts)
}

func snapshot() Snapshot {
	return Snapshot{
		At:          time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Uptime:      90 * time.Minute,
		Seen:        12,
		Subscribers: 2,
		Ingest: ingest.Status{
			Mode:  "poll",
			State: ingest.StateRunning,
			Runs:  1,
			Stats: ingest.StatsSnapshot{Messages: 40, Matches: 13, NewAddresses: 12, Cycles: 4},
		},
		Tasks: rtsup.Snapshot{
			Active:     3,
			Goroutines: []rtsup.GoroutineStats{
				{Name: "http.serve", Active: 1, Runs: 1},
				{Name: "ingest", Active: 1, Runs: 3, Restarts: 2, Panics: 1},
			},
		},
	}
}

func TestFormat(t *testing.T) {
	out := Format(snapshot())
	for _, want := range []string{"2026-01-02T03:04:05Z", "uptime: 1h30m0s", "poll/running", "new: 12", "seen: 12 subscribers: 2", "tasks: active=3 restarts=2 panics=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "last error") {
		t.Errorf("unexpected last error line:\n%s", out)
	}
}

func TestRunOnceRelaysOnlyWhenEnabled(t *testing.T) {
	p := &recordPoster{}
	r := New(Config{Enabled: true, Schedule: "@hourly"}, snapshot, testParser, logx.Nop())
	r.SetPoster(p, -100, 0)

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.count() != 0 {
		t.Fatal("posted without relay enabled")
	}

	r.Apply(Config{Enabled: true, Schedule: "@hourly", Relay: true})
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.count() != 1 || p.chat != -100 {
		t.Fatalf("posts = %d chat = %d", p.count(), p.chat)
	}
}

func TestScheduleFires(t *testing.T) {
	p := &recordPoster{}
	r := New(Config{Enabled: true, Schedule: "@every 1s", Relay: true}, snapshot, testParser, logx.Nop())
	r.SetPoster(p, 1, 0)
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer r.Stop(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for p.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("report never fired")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	r := New(Config{Enabled: true, Schedule: "every tuesday"}, snapshot, testParser, logx.Nop())
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected schedule error")
	}
}

func TestDisabledIsNoop(t *testing.T) {
	r := New(Config{Schedule: "bogus"}, snapshot, testParser, logx.Nop())
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("disabled Start: %v", err)
	}
	r.Stop(context.Background())
}
