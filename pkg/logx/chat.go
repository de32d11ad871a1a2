package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	chatQueueSize = 256
	chatMaxRunes  = 3500
	chatSendLimit = 10 * time.Second
)

// Keys rendered in the header or dropped from the chat body.
var chatSkipKeys = map[string]bool{
	zerolog.LevelFieldName:     true,
	zerolog.MessageFieldName:   true,
	zerolog.TimestampFieldName: true,
	zerolog.CallerFieldName:    true,
	"comp":                     true,
	"stack":                    true,
}

type chatEntry struct {
	chatID   int64
	threadID int
	text     string
}

// chatSink is a zerolog LevelWriter that hands entries to a single worker.
// Writes never block; entries over the rate or queue limit are dropped.
type chatSink struct {
	mu       sync.Mutex
	sender   Sender
	chatID   int64
	threadID int
	minLevel zerolog.Level
	limiter  *rate.Limiter
	dropped  uint64

	queue    chan chatEntry
	start    sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newChatSink(sender Sender) *chatSink {
	return &chatSink{
		sender:   sender,
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
		queue:    make(chan chatEntry, chatQueueSize),
	}
}

func (c *chatSink) setSender(s Sender) {
	c.mu.Lock()
	c.sender = s
	c.mu.Unlock()
}

func (c *chatSink) configure(tc TelegramConfig) {
	rps := max(1, tc.RatePerSec)
	c.mu.Lock()
	c.chatID = tc.ChatID
	c.threadID = tc.ThreadID
	c.minLevel = parseLevel(tc.MinLevel, zerolog.WarnLevel)
	if c.limiter.Limit() != rate.Limit(rps) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}
	c.mu.Unlock()

	if tc.Enabled {
		c.start.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			c.cancel = cancel
			c.wg.Add(1)
			go c.run(ctx)
		})
	}
}

func (c *chatSink) stop() {
	c.stopOnce.Do(func() {
		c.start.Do(func() {}) // no worker may start after stop
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
	})
}

func (c *chatSink) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-c.queue:
			c.mu.Lock()
			sender := c.sender
			c.mu.Unlock()
			if sender == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, chatSendLimit)
			_ = sender.SendText(sctx, e.chatID, e.threadID, e.text)
			cancel()
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.InfoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	chatID, threadID := c.chatID, c.threadID
	pass := chatID != 0 && level >= c.minLevel && level != zerolog.NoLevel && c.limiter.Allow()
	c.mu.Unlock()
	if !pass {
		return len(p), nil
	}
	select {
	case c.queue <- chatEntry{chatID: chatID, threadID: threadID, text: formatChat(level, p)}:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
	}
	return len(p), nil
}

var levelBadge = map[zerolog.Level]string{
	zerolog.TraceLevel: "🔍",
	zerolog.DebugLevel: "🐞",
	zerolog.InfoLevel:  "ℹ️",
	zerolog.WarnLevel:  "⚠️",
	zerolog.ErrorLevel: "🛑",
	zerolog.FatalLevel: "💀",
	zerolog.PanicLevel: "💀",
}

// formatChat renders one JSON log line as a short chat message:
//
//	⚠️ WARN [ingest] message
//	key: value
func formatChat(level zerolog.Level, p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncateRunes(strings.TrimSpace(string(p)), chatMaxRunes)
	}

	var b strings.Builder
	b.WriteString(levelBadge[level])
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(level.String()))
	if comp, ok := m["comp"].(string); ok && comp != "" {
		fmt.Fprintf(&b, " [%s]", comp)
	}
	if msg, ok := m[zerolog.MessageFieldName].(string); ok && msg != "" {
		b.WriteByte(' ')
		b.WriteString(msg)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		if !chatSkipKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, m[k])
	}
	if caller, ok := m[zerolog.CallerFieldName].(string); ok && caller != "" {
		fmt.Fprintf(&b, "\n@ %s", caller)
	}
	return truncateRunes(b.String(), chatMaxRunes)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
