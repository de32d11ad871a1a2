package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Defaults returns a config usable without a file: poll mode, file storage
// under ./data, HTTP on :8000.
func Defaults() *Config {
	return &Config{
		Telegram: TelegramConfig{SessionDir: "./sessions"},
		Ingest: IngestConfig{
			Mode:           "poll",
			PushSource:     "mtproto",
			HistoryLimit:   100,
			MaxConcurrency: 5,
			MinInterval:    "1s",
			Jitter:         "5s",
			CallTimeout:    "30s",
			RestartBackoff: "5s",
		},
		Storage:   StorageConfig{Driver: "file", Dir: "./data"},
		Feed:      FeedConfig{MaxSize: 100},
		Broadcast: BroadcastConfig{SendTimeout: "5s", Parallelism: 16},
		HTTP:      HTTPConfig{Addr: ":8000", ShutdownTimeout: "5s"},
		WS:        WSConfig{PingInterval: "30s", Format: "json"},
		Notifier:  NotifierConfig{QueueSize: 256, RatePerSec: 1, RetryMax: 3, RetryBase: "500ms", RetryMaxDelay: "30s"},
		Report:    ReportConfig{Schedule: "@hourly"},
		Logging:   LoggingConfig{Level: "info", Console: true},
	}
}

// applyDefaults fills zero values left by a partial file.
func applyDefaults(cfg *Config) {
	d := Defaults()
	str := func(dst *string, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	num := func(dst *int, def int) {
		if *dst == 0 {
			*dst = def
		}
	}

	str(&cfg.Telegram.SessionDir, d.Telegram.SessionDir)
	str(&cfg.Ingest.Mode, d.Ingest.Mode)
	str(&cfg.Ingest.PushSource, d.Ingest.PushSource)
	num(&cfg.Ingest.HistoryLimit, d.Ingest.HistoryLimit)
	num(&cfg.Ingest.MaxConcurrency, d.Ingest.MaxConcurrency)
	str(&cfg.Ingest.MinInterval, d.Ingest.MinInterval)
	str(&cfg.Ingest.Jitter, d.Ingest.Jitter)
	str(&cfg.Ingest.CallTimeout, d.Ingest.CallTimeout)
	str(&cfg.Ingest.RestartBackoff, d.Ingest.RestartBackoff)
	str(&cfg.Storage.Driver, d.Storage.Driver)
	str(&cfg.Storage.Dir, d.Storage.Dir)
	num(&cfg.Feed.MaxSize, d.Feed.MaxSize)
	str(&cfg.Broadcast.SendTimeout, d.Broadcast.SendTimeout)
	num(&cfg.Broadcast.Parallelism, d.Broadcast.Parallelism)
	str(&cfg.HTTP.Addr, d.HTTP.Addr)
	str(&cfg.HTTP.ShutdownTimeout, d.HTTP.ShutdownTimeout)
	str(&cfg.WS.PingInterval, d.WS.PingInterval)
	str(&cfg.WS.Format, d.WS.Format)
	num(&cfg.Notifier.QueueSize, d.Notifier.QueueSize)
	num(&cfg.Notifier.RatePerSec, d.Notifier.RatePerSec)
	str(&cfg.Notifier.RetryBase, d.Notifier.RetryBase)
	str(&cfg.Notifier.RetryMaxDelay, d.Notifier.RetryMaxDelay)
	str(&cfg.Report.Schedule, d.Report.Schedule)
	str(&cfg.Logging.Level, d.Logging.Level)
}

// Environment variables understood on top of the file.
const (
	EnvAppID      = "TG_APP_ID"
	EnvAppHash    = "TG_APP_HASH"
	EnvPhone      = "TG_PHONE"
	EnvPassword   = "TG_PASSWORD"
	EnvChannels   = "MONITORING_IDS"
	EnvSessionDir = "SESSION_DIRECTORY"
	EnvFeedSize   = "MAX_FEED_SIZE"
	EnvPort       = "PORT"
	EnvBotToken   = "TG_BOT_TOKEN"
)

// applyEnv overrides file values with set, non-empty environment variables.
// MAX_FEED_SIZE also enables the bounded feed.
func applyEnv(cfg *Config, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	get := func(k string) (string, bool) {
		v := strings.TrimSpace(getenv(k))
		return v, v != ""
	}

	if v, ok := get(EnvAppID); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAppID, err)
		}
		cfg.Telegram.AppID = n
	}
	if v, ok := get(EnvAppHash); ok {
		cfg.Telegram.AppHash = v
	}
	if v, ok := get(EnvPhone); ok {
		cfg.Telegram.Phone = v
	}
	if v, ok := get(EnvPassword); ok {
		cfg.Telegram.Password = v
	}
	if v, ok := get(EnvChannels); ok {
		ids, err := ParseIDList(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvChannels, err)
		}
		cfg.Telegram.ChannelIDs = ids
	}
	if v, ok := get(EnvSessionDir); ok {
		cfg.Telegram.SessionDir = v
	}
	if v, ok := get(EnvFeedSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFeedSize, err)
		}
		cfg.Feed.MaxSize = n
		cfg.Feed.Enabled = true
	}
	if v, ok := get(EnvPort); ok {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		cfg.HTTP.Addr = ":" + v
	}
	if v, ok := get(EnvBotToken); ok {
		cfg.Telegram.BotToken = v
	}
	return nil
}

// ParseIDList parses "1, -1002, 3" into ids.
func ParseIDList(s string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}
