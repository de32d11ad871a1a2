package config

// Config is the whole process configuration.
//
// All durations are Go duration strings ("500ms", "10s", "1m").
// Secrets (app_hash, password, bot_token) are never logged.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Ingest    IngestConfig    `json:"ingest"`
	Storage   StorageConfig   `json:"storage"`
	Feed      FeedConfig      `json:"feed"`
	Broadcast BroadcastConfig `json:"broadcast"`
	HTTP      HTTPConfig      `json:"http"`
	WS        WSConfig        `json:"ws"`
	Notifier  NotifierConfig  `json:"notifier"`
	Report    ReportConfig    `json:"report"`
	Logging   LoggingConfig   `json:"logging"`
	Systemd   SystemdConfig   `json:"systemd"`
}

type TelegramConfig struct {
	AppID      int     `json:"app_id"`
	AppHash    string  `json:"app_hash"`
	Phone      string  `json:"phone"`
	Password   string  `json:"password,omitempty"`
	SessionDir string  `json:"session_dir"`
	ChannelIDs []int64 `json:"channel_ids"`

	// BotToken enables the bot client (push source "bot", relay, log sink).
	BotToken    string `json:"bot_token,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`

	RelayChatID   int64 `json:"relay_chat_id,omitempty"`
	RelayThreadID int   `json:"relay_thread_id,omitempty"`
}

// IngestConfig selects and tunes the ingestion strategy.
//
// Defaults:
//   - mode: "poll"
//   - push_source: "mtproto"
//   - history_limit: 100
//   - max_concurrency: 5
//   - min_interval: "1s", jitter: "5s"
//   - call_timeout: "30s"
//   - max_restarts: 0 (unlimited)
type IngestConfig struct {
	Mode           string  `json:"mode"`
	PushSource     string  `json:"push_source,omitempty"`
	HistoryLimit   int     `json:"history_limit"`
	MaxConcurrency int     `json:"max_concurrency"`
	RatePerSec     float64 `json:"rate_per_sec,omitempty"`
	MinInterval    string  `json:"min_interval"`
	Jitter         string  `json:"jitter"`
	CallTimeout    string  `json:"call_timeout,omitempty"`
	MaxRestarts    int     `json:"max_restarts,omitempty"`
	RestartBackoff string  `json:"restart_backoff,omitempty"`
}

// StorageConfig places the dedup store (and the feed, when enabled).
//
//	"storage": { "driver": "file", "dir": "./data" }
type StorageConfig struct {
	Driver     string `json:"driver"`
	Dir        string `json:"dir"`
	StrictLoad bool   `json:"strict_load,omitempty"`
}

// FeedConfig enables the bounded "latest" feed served by GET /latest.
// When disabled, /latest serves the seen set.
type FeedConfig struct {
	Enabled bool `json:"enabled"`
	MaxSize int  `json:"max_size"`
}

type BroadcastConfig struct {
	SendTimeout string `json:"send_timeout"`
	Parallelism int    `json:"parallelism"`
}

type HTTPConfig struct {
	Addr            string   `json:"addr"`
	CORSOrigins     []string `json:"cors_origins,omitempty"`
	Pprof           bool     `json:"pprof,omitempty"`
	ReadTimeout     string   `json:"read_timeout,omitempty"`
	WriteTimeout    string   `json:"write_timeout,omitempty"`
	ShutdownTimeout string   `json:"shutdown_timeout,omitempty"`
}

type WSConfig struct {
	PingInterval string `json:"ping_interval"`
	// Format is "json" (event objects) or "text" (bare address).
	Format string `json:"format"`
}

// NotifierConfig controls the Telegram relay of new addresses.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// ReportConfig schedules the periodic stats report (robfig/cron syntax,
// with optional seconds field and descriptors like "@hourly").
type ReportConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`
	// Relay also posts the report to the relay chat.
	Relay bool `json:"relay,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}
