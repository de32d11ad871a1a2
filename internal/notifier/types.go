package notifier

import (
	"context"
	"errors"
	"time"
)

var ErrStopped = errors.New("notifier stopped")

// Sender delivers plain text to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, threadID int, text string) error
}

// RetryAfterError is implemented by send errors that carry a server-side
// retry hint (Telegram flood control).
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type Config struct {
	Enabled       bool
	ChatID        int64
	ThreadID      int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

type Stats struct {
	Queued  int    `json:"queued"`
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

func (c Config) normalized() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	return c
}
