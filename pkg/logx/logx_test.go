package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(b), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("line %q is not JSON: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestWriterLoggerFieldsAndCaller(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "ingest"))

	log.Info("address accepted", String("addr", "So11111111111111111111111111111111111111112"), Int("len", 43), Err(nil))

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(lines))
	}
	e := lines[0]
	if e["message"] != "address accepted" || e["comp"] != "ingest" || e["len"] != float64(43) {
		t.Fatalf("entry = %v", e)
	}
	if _, ok := e["err"]; ok {
		t.Fatalf("nil error should not add err: %v", e)
	}
	if c, _ := e["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller = %q, want logx_test.go:<line>", c)
	}
}

func TestWriterLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	log.Warn("shown", Err(errors.New("boom")))

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 1 || lines[0]["message"] != "shown" || lines[0]["err"] != "boom" {
		t.Fatalf("lines = %v", lines)
	}
	if log.Enabled(LevelInfo) || !log.Enabled(LevelError) {
		t.Fatal("Enabled disagrees with the configured level")
	}
}

func TestWithDoesNotAliasParentFields(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWriter(&buf, "info").With(String("a", "1"))
	left := parent.With(String("b", "left"))
	right := parent.With(String("b", "right"))

	left.Info("l")
	right.Info("r")
	lines := decodeLines(t, buf.Bytes())
	if lines[0]["b"] != "left" || lines[1]["b"] != "right" {
		t.Fatalf("children share fields: %v", lines)
	}
}

func TestZeroAndNopLoggers(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	zero.Error("discarded")
	if Nop().IsZero() {
		t.Fatal("Nop should not be zero")
	}
	if zero.With(String("k", "v")).IsZero() {
		t.Fatal("logger carrying fields should not be zero")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		" DEBUG ": zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []chatEntry
	got  chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{got: make(chan struct{}, 16)}
}

func (r *recordingSender) SendText(_ context.Context, chatID int64, threadID int, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, chatEntry{chatID: chatID, threadID: threadID, text: text})
	r.mu.Unlock()
	r.got <- struct{}{}
	return nil
}

func (r *recordingSender) snapshot() []chatEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chatEntry(nil), r.msgs...)
}

func TestServiceForwardsWarningsToChat(t *testing.T) {
	sender := newRecordingSender()
	svc, log := New(Config{
		Level: "debug",
		Telegram: TelegramConfig{
			Enabled: true, ChatID: -100123, ThreadID: 7, MinLevel: "warn", RatePerSec: 50,
		},
	}, sender)
	defer func() { _ = svc.Close() }()

	log.Info("not forwarded")
	log.With(String("comp", "broadcast")).Warn("subscriber dropped", String("id", "ws-1"))

	select {
	case <-sender.got:
	case <-time.After(2 * time.Second):
		t.Fatal("warning was not forwarded")
	}
	msgs := sender.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("forwarded %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.chatID != -100123 || m.threadID != 7 {
		t.Fatalf("target = %d/%d", m.chatID, m.threadID)
	}
	if !strings.Contains(m.text, "WARN [broadcast] subscriber dropped") || !strings.Contains(m.text, "id: ws-1") {
		t.Fatalf("text = %q", m.text)
	}
}

func TestServiceChatWithoutChatIDDrops(t *testing.T) {
	sender := newRecordingSender()
	svc, log := New(Config{Level: "info", Telegram: TelegramConfig{Enabled: true}}, sender)
	log.Error("nowhere to go")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := len(sender.snapshot()); n != 0 {
		t.Fatalf("forwarded %d messages without chat id", n)
	}
}

func TestServiceApplyFileAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mintwatch.log")
	svc, log := New(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}}, nil)

	log.Info("dropped at warn")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("kept at debug", String("addr", "x"))
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := decodeLines(t, b)
	if len(lines) != 1 || lines[0]["message"] != "kept at debug" {
		t.Fatalf("file lines = %v", lines)
	}
}

func TestFormatChat(t *testing.T) {
	raw := []byte(`{"level":"error","time":"t","caller":"a.go:1","comp":"http","message":"serve failed","err":"bind","stack":"..."}`)
	got := formatChat(zerolog.ErrorLevel, raw)
	want := "🛑 ERROR [http] serve failed\nerr: bind\n@ a.go:1"
	if got != want {
		t.Fatalf("formatChat =\n%q\nwant\n%q", got, want)
	}

	if got := formatChat(zerolog.WarnLevel, []byte("plain text\n")); got != "plain text" {
		t.Fatalf("non-JSON input = %q", got)
	}
	long := strings.Repeat("é", chatMaxRunes+10)
	if got := truncateRunes(long, chatMaxRunes); len([]rune(got)) != chatMaxRunes+1 {
		t.Fatalf("truncate kept %d runes", len([]rune(got)))
	}
}
