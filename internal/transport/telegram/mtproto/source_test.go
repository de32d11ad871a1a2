package mtproto

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"mintwatch/internal/authgate"
	"mintwatch/internal/ingest"
	logx "mintwatch/pkg/logx"
)

func TestToMessage(t *testing.T) {
	m, ok := toMessage(&tg.Message{ID: 5, Message: "hello", Date: 1700000000, PeerID: &tg.PeerChannel{ChannelID: 77}})
	if !ok || m.ID != 5 || m.ChannelID != 77 || m.Text != "hello" || m.Date.Unix() != 1700000000 {
		t.Fatalf("toMessage = %+v, %v", m, ok)
	}
	if _, ok := toMessage(&tg.MessageEmpty{ID: 1}); ok {
		t.Fatal("empty message must be skipped")
	}
}

func TestNextDialogOffset(t *testing.T) {
	last := &tg.Dialog{Peer: &tg.PeerChannel{ChannelID: 9}, TopMessage: 31}
	msgs := []tg.MessageClass{
		&tg.Message{ID: 30, Date: 100},
		&tg.Message{ID: 31, Date: 200},
	}
	chats := []tg.ChatClass{&tg.Channel{ID: 9, AccessHash: 1234}}

	off, ok := nextDialogOffset(last, msgs, chats, nil)
	if !ok {
		t.Fatal("expected offset")
	}
	if off.id != 31 || off.date != 200 {
		t.Fatalf("offset = %+v", off)
	}
	peer, ok := off.peer.(*tg.InputPeerChannel)
	if !ok || peer.ChannelID != 9 || peer.AccessHash != 1234 {
		t.Fatalf("peer = %#v", off.peer)
	}

	if _, ok := nextDialogOffset(&tg.Dialog{Peer: &tg.PeerUser{UserID: 3}}, nil, nil, nil); ok {
		t.Fatal("unknown user must not produce an offset")
	}
}

func TestClassify(t *testing.T) {
	c, err := New(Config{AppID: 1, AppHash: "h"}, authgate.NewHandshake(), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.classify("history", 1, tgerr.New(401, "AUTH_KEY_UNREGISTERED")); !ingest.IsAuth(err) {
		t.Fatalf("classify = %v, want AuthError", err)
	}
	if err := c.classify("history", 1, errors.New("connection reset")); !ingest.IsRemote(err) {
		t.Fatalf("classify = %v, want RemoteError", err)
	}
}

func TestSubscribeRoutesLiveMessages(t *testing.T) {
	c, _ := New(Config{AppID: 1, AppHash: "h"}, authgate.NewHandshake(), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan ingest.Message, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.Subscribe(ctx, []int64{-1000000000042}, func(_ context.Context, m ingest.Message) error {
			got <- m
			return nil
		})
	}()

	// Wait until the handler is installed.
	for {
		c.liveMu.RLock()
		ready := c.live != nil
		c.liveMu.RUnlock()
		if ready {
			break
		}
		time.Sleep(time.Millisecond)
	}
	upd := func(ch int64, text string) *tg.UpdateNewChannelMessage {
		return &tg.UpdateNewChannelMessage{Message: &tg.Message{Message: text, PeerID: &tg.PeerChannel{ChannelID: ch}}}
	}
	_ = c.onChannelMessage(ctx, tg.Entities{}, upd(99, "other"))
	_ = c.onChannelMessage(ctx, tg.Entities{}, upd(42, "mine"))
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Subscribe err = %v", err)
	}
	close(got)
	var texts []string
	for m := range got {
		texts = append(texts, m.Text)
	}
	if len(texts) != 1 || texts[0] != "mine" {
		t.Fatalf("delivered %v, want [mine]", texts)
	}
}

func TestMaskPhone(t *testing.T) {
	if got := maskPhone("+15551234567"); got != "********4567" {
		t.Fatalf("maskPhone = %q", got)
	}
}
