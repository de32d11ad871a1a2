package botapi

import (
	"context"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"mintwatch/internal/ingest"
	logx "mintwatch/pkg/logx"
)

func TestSplitText(t *testing.T) {
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("splitText = %v", got)
	}
	long := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitText(long, 10)
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("splitText = %q", got)
	}
	for _, c := range splitText(strings.Repeat("x", 25), 10) {
		if len([]rune(c)) > 10 {
			t.Fatalf("chunk too long: %d", len(c))
		}
	}
}

func TestChannelPostIsForwardedToSubscriber(t *testing.T) {
	c, err := New(Config{Token: "123:abc", Offline: true, Synchronous: true}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	var got []ingest.Message
	c.sub.Store(&subscription{
		ctx: context.Background(),
		ids: map[int64]struct{}{42: {}},
		fn: func(_ context.Context, m ingest.Message) error {
			got = append(got, m)
			return nil
		},
	})

	now := time.Now().Unix()
	c.bot.ProcessUpdate(tele.Update{ChannelPost: &tele.Message{ID: 1, Unixtime: now, Chat: &tele.Chat{ID: -1000000000042, Type: tele.ChatChannel}, Text: "💵:abc"}})
	c.bot.ProcessUpdate(tele.Update{ChannelPost: &tele.Message{ID: 2, Unixtime: now, Chat: &tele.Chat{ID: -1000000000099, Type: tele.ChatChannel}, Text: "other"}})
	c.bot.ProcessUpdate(tele.Update{ChannelPost: &tele.Message{ID: 3, Unixtime: now, Chat: &tele.Chat{ID: -1000000000042, Type: tele.ChatChannel}, Caption: "caption text"}})

	if len(got) != 2 {
		t.Fatalf("forwarded %d messages, want 2: %+v", len(got), got)
	}
	if got[0].ChannelID != 42 || got[0].Text != "💵:abc" || got[1].Text != "caption text" {
		t.Fatalf("messages = %+v", got)
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
