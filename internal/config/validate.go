package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError lists every problem found in a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// CronParser accepts an optional seconds field and descriptors (@hourly, @every 10m).
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks cfg after defaults and env overrides were applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ValidationError{Problems: []string{"config is nil"}}
	}
	var p []string
	add := func(format string, args ...any) { p = append(p, fmt.Sprintf(format, args...)) }
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			p = append(p, err.Error())
		}
	}

	tg := cfg.Telegram
	needMTProto := cfg.Ingest.Mode == "poll" || (cfg.Ingest.Mode == "push" && cfg.Ingest.PushSource == "mtproto")
	hasBot := strings.TrimSpace(tg.BotToken) != ""

	switch cfg.Ingest.Mode {
	case "poll", "push":
	default:
		add("ingest.mode: must be poll or push, got %q", cfg.Ingest.Mode)
	}
	switch cfg.Ingest.PushSource {
	case "mtproto":
	case "bot":
		if cfg.Ingest.Mode == "push" && !hasBot {
			add("ingest.push_source: bot requires telegram.bot_token")
		}
	default:
		add("ingest.push_source: must be mtproto or bot, got %q", cfg.Ingest.PushSource)
	}
	if needMTProto {
		if tg.AppID <= 0 {
			add("telegram.app_id: required")
		}
		if strings.TrimSpace(tg.AppHash) == "" {
			add("telegram.app_hash: required")
		}
		if strings.TrimSpace(tg.SessionDir) == "" {
			add("telegram.session_dir: required")
		}
	}
	if len(tg.ChannelIDs) == 0 {
		add("telegram.channel_ids: at least one channel is required")
	}

	if cfg.Ingest.HistoryLimit < 1 || cfg.Ingest.HistoryLimit > 100 {
		add("ingest.history_limit: must be in [1,100]")
	}
	if cfg.Ingest.MaxConcurrency < 1 {
		add("ingest.max_concurrency: must be >= 1")
	}
	if cfg.Ingest.RatePerSec < 0 {
		add("ingest.rate_per_sec: must be >= 0")
	}
	if cfg.Ingest.MaxRestarts < 0 {
		add("ingest.max_restarts: must be >= 0")
	}
	dur("ingest.min_interval", cfg.Ingest.MinInterval)
	dur("ingest.jitter", cfg.Ingest.Jitter)
	dur("ingest.call_timeout", cfg.Ingest.CallTimeout)
	dur("ingest.restart_backoff", cfg.Ingest.RestartBackoff)

	switch strings.ToLower(cfg.Storage.Driver) {
	case "file", "json", "sqlite", "sqlite3":
	default:
		add("storage.driver: unsupported %q", cfg.Storage.Driver)
	}
	if strings.TrimSpace(cfg.Storage.Dir) == "" {
		add("storage.dir: required")
	}
	if cfg.Feed.Enabled && cfg.Feed.MaxSize < 1 {
		add("feed.max_size: must be >= 1 when the feed is enabled")
	}

	dur("broadcast.send_timeout", cfg.Broadcast.SendTimeout)
	if cfg.Broadcast.Parallelism < 1 {
		add("broadcast.parallelism: must be >= 1")
	}

	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		add("http.addr: required")
	}
	dur("http.read_timeout", cfg.HTTP.ReadTimeout)
	dur("http.write_timeout", cfg.HTTP.WriteTimeout)
	dur("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)
	dur("ws.ping_interval", cfg.WS.PingInterval)
	switch cfg.WS.Format {
	case "json", "text":
	default:
		add("ws.format: must be json or text, got %q", cfg.WS.Format)
	}

	if cfg.Notifier.Enabled {
		if !hasBot {
			add("notifier.enabled: requires telegram.bot_token")
		}
		if tg.RelayChatID == 0 {
			add("notifier.enabled: requires telegram.relay_chat_id")
		}
	}
	dur("notifier.retry_base", cfg.Notifier.RetryBase)
	dur("notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay)

	if cfg.Report.Enabled {
		if _, err := CronParser.Parse(cfg.Report.Schedule); err != nil {
			add("report.schedule: %v", err)
		}
	}
	if tz := strings.TrimSpace(cfg.Report.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("report.timezone: %v", err)
		}
	}

	if cfg.Logging.Telegram.Enabled && !hasBot {
		add("logging.telegram.enabled: requires telegram.bot_token")
	}

	if len(p) > 0 {
		return &ValidationError{Problems: p}
	}
	return nil
}
