package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func envMap(kv map[string]string) func(string) string {
	return func(k string) string { return kv[k] }
}

func newTestManager(path string, env map[string]string) *ConfigManager {
	m := NewConfigManager(path)
	m.getenv = envMap(env)
	return m
}

const minimalYAML = `
telegram:
  app_id: 12345
  app_hash: abcdef
  phone: "+10000000000"
  channel_ids: [-1001234567890, 42]
ingest:
  mode: poll
report:
  enabled: true
  schedule: "0 */30 * * * *"
`

func TestParseYAMLAppliesDefaults(t *testing.T) {
	m := newTestManager(writeConfig(t, "config.yaml", minimalYAML), nil)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cfg.Telegram.ChannelIDs; len(got) != 2 || got[0] != -1001234567890 || got[1] != 42 {
		t.Fatalf("channel_ids = %v", got)
	}
	if cfg.Ingest.HistoryLimit != 100 || cfg.Ingest.MaxConcurrency != 5 {
		t.Fatalf("ingest defaults not applied: %+v", cfg.Ingest)
	}
	if cfg.HTTP.Addr != ":8000" || cfg.Storage.Driver != "file" || cfg.WS.Format != "json" {
		t.Fatalf("unexpected defaults: http=%q storage=%q ws=%q", cfg.HTTP.Addr, cfg.Storage.Driver, cfg.WS.Format)
	}
	if cfg.Feed.Enabled {
		t.Fatal("feed must be disabled unless configured")
	}
}

func TestParseJSON(t *testing.T) {
	body := `{"telegram":{"app_id":1,"app_hash":"h","channel_ids":[7]},"ingest":{"mode":"push"},"ws":{"format":"text"}}`
	cfg, err := newTestManager(writeConfig(t, "config.json", body), nil).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Ingest.Mode != "push" || cfg.Ingest.PushSource != "mtproto" || cfg.WS.Format != "text" {
		t.Fatalf("cfg = %+v %+v", cfg.Ingest, cfg.WS)
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	body := minimalYAML + "\nbogus: true\n"
	_, err := newTestManager(writeConfig(t, "config.yaml", body), nil).Parse()
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("err = %v, want unknown field error", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	body := `{"telegram":{"app_id":1,"app_hash":"h","channel_ids":[7]}} {}`
	if _, err := newTestManager(writeConfig(t, "config.json", body), nil).Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestEnvOverrides(t *testing.T) {
	m := newTestManager(writeConfig(t, "config.yaml", minimalYAML), map[string]string{
		EnvAppID:      "999",
		EnvChannels:   " 1, -1002, 3 ",
		EnvPort:       "9100",
		EnvFeedSize:   "25",
		EnvSessionDir: "/var/lib/mintwatch",
	})
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.AppID != 999 {
		t.Fatalf("app_id = %d", cfg.Telegram.AppID)
	}
	if got := cfg.Telegram.ChannelIDs; len(got) != 3 || got[1] != -1002 {
		t.Fatalf("channel_ids = %v", got)
	}
	if cfg.HTTP.Addr != ":9100" {
		t.Fatalf("addr = %q", cfg.HTTP.Addr)
	}
	if !cfg.Feed.Enabled || cfg.Feed.MaxSize != 25 {
		t.Fatalf("feed = %+v", cfg.Feed)
	}
	if cfg.Telegram.SessionDir != "/var/lib/mintwatch" {
		t.Fatalf("session_dir = %q", cfg.Telegram.SessionDir)
	}
}

func TestEnvOnlyWithoutFile(t *testing.T) {
	m := newTestManager("", map[string]string{
		EnvAppID:    "5",
		EnvAppHash:  "hash",
		EnvChannels: "10",
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestEnvInvalidNumber(t *testing.T) {
	m := newTestManager("", map[string]string{EnvAppID: "abc", EnvAppHash: "h", EnvChannels: "1"})
	var ve *ValidationError
	if _, err := m.Parse(); !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Ingest.Mode = "stream"
	cfg.Ingest.HistoryLimit = 500
	cfg.WS.Format = "xml"
	cfg.Notifier.Enabled = true
	cfg.Report.Enabled = true
	cfg.Report.Schedule = "not a schedule"

	err := Validate(cfg)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	want := []string{"ingest.mode", "ingest.history_limit", "ws.format", "notifier.enabled", "report.schedule", "telegram.channel_ids"}
	joined := strings.Join(ve.Problems, "\n")
	for _, w := range want {
		if !strings.Contains(joined, w) {
			t.Errorf("missing problem for %s in:\n%s", w, joined)
		}
	}
}

func TestValidatePushBotNeedsNoMTProto(t *testing.T) {
	cfg := Defaults()
	cfg.Ingest.Mode = "push"
	cfg.Ingest.PushSource = "bot"
	cfg.Telegram.BotToken = "123:abc"
	cfg.Telegram.ChannelIDs = []int64{-1001}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseIDList(t *testing.T) {
	ids, err := ParseIDList("1,,2 , -3")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[2] != -3 {
		t.Fatalf("ids = %v", ids)
	}
	if _, err := ParseIDList("1,x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSummarizeChange(t *testing.T) {
	a := Defaults()
	b := Defaults()
	b.Logging.Level = "debug"
	b.HTTP.Addr = ":9000"
	b.Telegram.BotToken = "secret-token"

	changed, attrs, restart := SummarizeChange(a, b)
	if strings.Join(changed, ",") != "http,logging,telegram" {
		t.Fatalf("changed = %v", changed)
	}
	if strings.Join(restart, ",") != "http,telegram" {
		t.Fatalf("restart = %v", restart)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log attrs")
	}
	if redact(b.Telegram).BotToken == "secret-token" {
		t.Fatal("token leaked through redact")
	}
}

func TestWatchPublishesValidReload(t *testing.T) {
	path := writeConfig(t, "config.yaml", minimalYAML)
	m := newTestManager(path, nil)
	m.debounce = 10 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is rejected and never published.
	if err := os.WriteFile(path, []byte(minimalYAML+"\nbogus: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg.Logging)
	default:
	}

	updated := strings.Replace(minimalYAML, "mode: poll", "mode: poll\nlogging:\n  level: debug", 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("level = %q", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload not published")
	}
}
