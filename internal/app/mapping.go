package app

import (
	"path/filepath"
	"strings"
	"time"

	"mintwatch/internal/api"
	"mintwatch/internal/broadcast"
	"mintwatch/internal/config"
	"mintwatch/internal/ingest"
	"mintwatch/internal/notifier"
	"mintwatch/internal/report"
	"mintwatch/internal/storage"
	"mintwatch/internal/transport/telegram/mtproto"
	logx "mintwatch/pkg/logx"
)

const (
	seenStoreName = "seen_mint_addresses"
	feedStoreName = "latest_messages"
)

func storePath(sc config.StorageConfig, name string) string {
	ext := ".json"
	switch strings.ToLower(strings.TrimSpace(sc.Driver)) {
	case "sqlite", "sqlite3":
		ext = ".db"
	}
	return filepath.Join(sc.Dir, name+ext)
}

func mapSeenStore(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:     cfg.Storage.Driver,
		Path:       storePath(cfg.Storage, seenStoreName),
		StrictLoad: cfg.Storage.StrictLoad,
	}
}

// mapFeedStore reports false when the bounded feed is disabled.
func mapFeedStore(cfg *config.Config) (storage.Config, bool) {
	if !cfg.Feed.Enabled {
		return storage.Config{}, false
	}
	return storage.Config{
		Driver:     cfg.Storage.Driver,
		Path:       storePath(cfg.Storage, feedStoreName),
		Capacity:   cfg.Feed.MaxSize,
		StrictLoad: cfg.Storage.StrictLoad,
	}, true
}

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapBroadcast(cfg *config.Config) broadcast.Config {
	return broadcast.Config{
		SendTimeout: config.DurationOr(cfg.Broadcast.SendTimeout, 5*time.Second),
		Parallelism: cfg.Broadcast.Parallelism,
	}
}

func mapNotifier(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	return notifier.Config{
		Enabled:       n.Enabled,
		ChatID:        cfg.Telegram.RelayChatID,
		ThreadID:      cfg.Telegram.RelayThreadID,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     config.DurationOr(n.RetryBase, 500*time.Millisecond),
		RetryMaxDelay: config.DurationOr(n.RetryMaxDelay, 30*time.Second),
	}
}

func mapReport(cfg *config.Config) report.Config {
	return report.Config{
		Enabled:  cfg.Report.Enabled,
		Schedule: cfg.Report.Schedule,
		Timezone: cfg.Report.Timezone,
		Relay:    cfg.Report.Relay,
	}
}

func mapPoll(cfg *config.Config) ingest.PollConfig {
	in := cfg.Ingest
	return ingest.PollConfig{
		ChannelIDs:     append([]int64(nil), cfg.Telegram.ChannelIDs...),
		HistoryLimit:   in.HistoryLimit,
		MaxConcurrency: in.MaxConcurrency,
		RatePerSec:     in.RatePerSec,
		MinInterval:    config.DurationOr(in.MinInterval, time.Second),
		Jitter:         config.DurationOr(in.Jitter, 5*time.Second),
		CallTimeout:    config.DurationOr(in.CallTimeout, 30*time.Second),
	}
}

func mapMTProto(cfg *config.Config) mtproto.Config {
	tg := cfg.Telegram
	return mtproto.Config{
		AppID:      tg.AppID,
		AppHash:    tg.AppHash,
		Phone:      tg.Phone,
		Password:   tg.Password,
		SessionDir: tg.SessionDir,
	}
}

func mapAPI(cfg *config.Config) api.Config {
	h := cfg.HTTP
	return api.Config{
		Addr:            h.Addr,
		CORSOrigins:     append([]string(nil), h.CORSOrigins...),
		Pprof:           h.Pprof,
		ReadTimeout:     config.DurationOr(h.ReadTimeout, 0),
		WriteTimeout:    config.DurationOr(h.WriteTimeout, 0),
		ShutdownTimeout: config.DurationOr(h.ShutdownTimeout, 5*time.Second),
		PingInterval:    config.DurationOr(cfg.WS.PingInterval, 30*time.Second),
		Format:          cfg.WS.Format,
	}
}

// needsMTProto reports whether the selected ingestion path runs on the user client.
func needsMTProto(cfg *config.Config) bool {
	switch cfg.Ingest.Mode {
	case ingest.ModePush:
		return cfg.Ingest.PushSource != "bot"
	default:
		return true
	}
}
