package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mintwatch/internal/broadcast"
	logx "mintwatch/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	texts []string
	calls int
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, threadID int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return errors.New("telegram: 502")
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type hinted struct{ d time.Duration }

func (h hinted) Error() string              { return "flood" }
func (h hinted) RetryAfter() time.Duration { return h.d }

func noSleep(context.Context, time.Duration) error { return nil }

func TestRelayDeliversWithRetry(t *testing.T) {
	s := &fakeSender{fails: 2}
	r := New(Config{Enabled: true, ChatID: -100, RatePerSec: 100, RetryMax: 3}, s, logx.Nop())
	r.sleep = noSleep

	if err := r.deliver(context.Background(), broadcast.Event{Address: "abc", ChannelID: 7}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	got := s.sent()
	if len(got) != 1 || !strings.HasPrefix(got[0], "💵:abc") || !strings.Contains(got[0], "channel: 7") {
		t.Fatalf("sent = %q", got)
	}
	if s.calls != 3 {
		t.Fatalf("calls = %d, want 3", s.calls)
	}
	if st := r.Stats(); st.Sent != 1 || st.Failed != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRelayGivesUpAfterRetryMax(t *testing.T) {
	s := &fakeSender{fails: 10}
	r := New(Config{Enabled: true, RatePerSec: 100, RetryMax: 1}, s, logx.Nop())
	r.sleep = noSleep
	if err := r.deliver(context.Background(), broadcast.Event{Address: "abc"}); err == nil {
		t.Fatal("expected failure")
	}
	if s.calls != 2 || r.Stats().Failed != 1 {
		t.Fatalf("calls = %d, stats = %+v", s.calls, r.Stats())
	}
}

func TestRelayStartSendStop(t *testing.T) {
	s := &fakeSender{}
	r := New(Config{Enabled: true, RatePerSec: 100}, s, logx.Nop())
	if err := r.Send(context.Background(), broadcast.Event{Address: "early"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Send before Start = %v, want ErrStopped", err)
	}

	r.Start(context.Background())
	for _, a := range []string{"a1", "a2"} {
		if err := r.Send(context.Background(), broadcast.Event{Address: a}); err != nil {
			t.Fatal(err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(s.sent()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)

	if got := s.sent(); len(got) != 2 {
		t.Fatalf("sent = %v", got)
	}
	if err := r.Send(context.Background(), broadcast.Event{Address: "late"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Send after Stop = %v, want ErrStopped", err)
	}
}

func TestRelayQueueFullDrops(t *testing.T) {
	r := New(Config{Enabled: true, QueueSize: 1}, &fakeSender{}, logx.Nop())
	// Queue without a worker so nothing drains it.
	r.queue = make(chan broadcast.Event, 1)
	_ = r.Send(context.Background(), broadcast.Event{Address: "1"})
	if err := r.Send(context.Background(), broadcast.Event{Address: "2"}); err != nil {
		t.Fatalf("full queue must not fail the broadcast: %v", err)
	}
	if st := r.Stats(); st.Dropped != 1 || st.Queued != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestBackoffHonorsRetryAfter(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: 5 * time.Second}.normalized()
	if d := backoff(cfg, 0, hinted{d: 3 * time.Second}); d != 3*time.Second {
		t.Fatalf("backoff = %s, want 3s", d)
	}
	if d := backoff(cfg, 0, hinted{d: time.Minute}); d != 5*time.Second {
		t.Fatalf("backoff = %s, want capped 5s", d)
	}
	if d := backoff(cfg, 2, errors.New("x")); d < 400*time.Millisecond || d > 480*time.Millisecond {
		t.Fatalf("backoff = %s, want 400ms..480ms", d)
	}
}
