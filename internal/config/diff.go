package config

import (
	"fmt"
	"hash/fnv"
	"reflect"
	"sort"

	logx "mintwatch/pkg/logx"
)

// liveSections are applied without a restart.
var liveSections = map[string]bool{
	"logging":   true,
	"broadcast": true,
	"notifier":  true,
	"report":    true,
}

// SummarizeChange lists changed sections, safe log fields (no secrets) and
// the changed sections that only take effect after a restart.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	sections := []struct {
		name string
		a, b any
		log  func() []logx.Field
	}{
		{"telegram", redact(oldCfg.Telegram), redact(newCfg.Telegram), func() []logx.Field {
			return []logx.Field{
				logx.Int("telegram.channels", len(newCfg.Telegram.ChannelIDs)),
				logx.Bool("telegram.bot_token_set", newCfg.Telegram.BotToken != ""),
			}
		}},
		{"ingest", oldCfg.Ingest, newCfg.Ingest, func() []logx.Field {
			return []logx.Field{
				logx.String("ingest.mode", newCfg.Ingest.Mode),
				logx.Int("ingest.max_concurrency", newCfg.Ingest.MaxConcurrency),
			}
		}},
		{"storage", oldCfg.Storage, newCfg.Storage, func() []logx.Field {
			return []logx.Field{logx.String("storage.driver", newCfg.Storage.Driver)}
		}},
		{"feed", oldCfg.Feed, newCfg.Feed, func() []logx.Field {
			return []logx.Field{logx.Bool("feed.enabled", newCfg.Feed.Enabled), logx.Int("feed.max_size", newCfg.Feed.MaxSize)}
		}},
		{"broadcast", oldCfg.Broadcast, newCfg.Broadcast, func() []logx.Field {
			return []logx.Field{
				logx.String("broadcast.send_timeout", newCfg.Broadcast.SendTimeout),
				logx.Int("broadcast.parallelism", newCfg.Broadcast.Parallelism),
			}
		}},
		{"http", oldCfg.HTTP, newCfg.HTTP, func() []logx.Field {
			return []logx.Field{logx.String("http.addr", newCfg.HTTP.Addr), logx.Bool("http.pprof", newCfg.HTTP.Pprof)}
		}},
		{"ws", oldCfg.WS, newCfg.WS, func() []logx.Field {
			return []logx.Field{logx.String("ws.format", newCfg.WS.Format)}
		}},
		{"notifier", oldCfg.Notifier, newCfg.Notifier, func() []logx.Field {
			return []logx.Field{logx.Bool("notifier.enabled", newCfg.Notifier.Enabled), logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec)}
		}},
		{"report", oldCfg.Report, newCfg.Report, func() []logx.Field {
			return []logx.Field{logx.Bool("report.enabled", newCfg.Report.Enabled), logx.String("report.schedule", newCfg.Report.Schedule)}
		}},
		{"logging", oldCfg.Logging, newCfg.Logging, func() []logx.Field {
			return []logx.Field{logx.String("logging.level", newCfg.Logging.Level), logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled)}
		}},
		{"systemd", oldCfg.Systemd, newCfg.Systemd, func() []logx.Field {
			return []logx.Field{logx.Bool("systemd.notify", newCfg.Systemd.Notify)}
		}},
	}

	for _, s := range sections {
		if reflect.DeepEqual(s.a, s.b) {
			continue
		}
		changed = append(changed, s.name)
		attrs = append(attrs, s.log()...)
		if !liveSections[s.name] {
			restart = append(restart, s.name)
		}
	}
	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}

// redact keeps secret presence observable while hiding the values.
func redact(t TelegramConfig) TelegramConfig {
	t.AppHash = fingerprint(t.AppHash)
	t.Password = fingerprint(t.Password)
	t.BotToken = fingerprint(t.BotToken)
	return t
}

func fingerprint(s string) string {
	if s == "" {
		return ""
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}
