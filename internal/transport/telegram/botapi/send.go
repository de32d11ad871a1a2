package botapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

const textLimit = 4000

// SendText posts text to chatID (and forum thread, when non-zero), split into
// chunks Telegram accepts.
func (c *Client) SendText(ctx context.Context, chatID int64, threadID int, text string) error {
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		opt := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: threadID}
		if _, err := c.bot.Send(chat, chunk, opt); err != nil {
			return wrapFlood(err)
		}
	}
	return nil
}

// splitText cuts s into pieces of at most limit runes, preferring line breaks
// in the last third of each window.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for len(rs) > 0 {
		end := len(rs)
		if end > limit {
			end = limit
			for i := limit - 1; i > limit*2/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		if chunk := strings.TrimRight(string(rs[:end]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		rs = rs[end:]
	}
	return out
}

// FloodError carries Telegram's retry hint for rate-limited sends.
type FloodError struct {
	Err   error
	After time.Duration
}

func (e *FloodError) Error() string {
	return fmt.Sprintf("telegram flood control, retry after %s: %v", e.After, e.Err)
}
func (e *FloodError) Unwrap() error              { return e.Err }
func (e *FloodError) RetryAfter() time.Duration { return e.After }

func wrapFlood(err error) error {
	var fe tele.FloodError
	if errors.As(err, &fe) && fe.RetryAfter > 0 {
		return &FloodError{Err: err, After: time.Duration(fe.RetryAfter) * time.Second}
	}
	return err
}
