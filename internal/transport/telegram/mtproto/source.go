package mtproto

import (
	"context"
	"time"

	"github.com/gotd/td/tg"

	"mintwatch/internal/ingest"
	logx "mintwatch/pkg/logx"
)

const dialogPageSize = 100

// ResolveChannels scans the account's dialogs and returns the channels whose
// id is in ids. Bot API style ids (-100…) are accepted.
func (c *Client) ResolveChannels(ctx context.Context, ids []int64) ([]ingest.Channel, error) {
	api, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[ingest.NormalizeChannelID(id)] = struct{}{}
	}

	var (
		out        []ingest.Channel
		seen       = map[int64]struct{}{}
		offsetDate int
		offsetID   int
		offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
	)
	for page := 0; page < c.cfg.DialogPages; page++ {
		res, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      dialogPageSize,
		})
		if err != nil {
			return nil, c.classify("dialogs", 0, err)
		}

		var (
			dialogs []tg.DialogClass
			msgs    []tg.MessageClass
			chats   []tg.ChatClass
			users   []tg.UserClass
			last    = true
		)
		switch d := res.(type) {
		case *tg.MessagesDialogs:
			dialogs, msgs, chats, users = d.Dialogs, d.Messages, d.Chats, d.Users
		case *tg.MessagesDialogsSlice:
			dialogs, msgs, chats, users = d.Dialogs, d.Messages, d.Chats, d.Users
			last = len(d.Dialogs) < dialogPageSize
		}

		for _, ch := range chats {
			channel, ok := ch.(*tg.Channel)
			if !ok {
				continue
			}
			if _, ok := want[channel.ID]; !ok {
				continue
			}
			if _, dup := seen[channel.ID]; dup {
				continue
			}
			seen[channel.ID] = struct{}{}
			out = append(out, ingest.Channel{ID: channel.ID, AccessHash: channel.AccessHash, Title: channel.Title})
		}
		if len(seen) == len(want) || last || len(dialogs) == 0 {
			break
		}

		next, ok := nextDialogOffset(dialogs[len(dialogs)-1], msgs, chats, users)
		if !ok {
			break
		}
		offsetDate, offsetID, offsetPeer = next.date, next.id, next.peer
	}

	if missing := len(want) - len(seen); missing > 0 {
		c.log.Warn("some channels were not found in dialogs", logx.Int("missing", missing), logx.Int("found", len(seen)))
	}
	return out, nil
}

type dialogOffset struct {
	date int
	id   int
	peer tg.InputPeerClass
}

func nextDialogOffset(last tg.DialogClass, msgs []tg.MessageClass, chats []tg.ChatClass, users []tg.UserClass) (dialogOffset, bool) {
	d, ok := last.(*tg.Dialog)
	if !ok {
		return dialogOffset{}, false
	}
	off := dialogOffset{id: d.TopMessage}
	for _, m := range msgs {
		if m.GetID() != d.TopMessage {
			continue
		}
		switch v := m.(type) {
		case *tg.Message:
			off.date = v.Date
		case *tg.MessageService:
			off.date = v.Date
		}
	}

	switch p := d.Peer.(type) {
	case *tg.PeerChannel:
		for _, ch := range chats {
			if v, ok := ch.(*tg.Channel); ok && v.ID == p.ChannelID {
				off.peer = &tg.InputPeerChannel{ChannelID: v.ID, AccessHash: v.AccessHash}
			}
		}
	case *tg.PeerChat:
		off.peer = &tg.InputPeerChat{ChatID: p.ChatID}
	case *tg.PeerUser:
		for _, u := range users {
			if v, ok := u.(*tg.User); ok && v.ID == p.UserID {
				off.peer = &tg.InputPeerUser{UserID: v.ID, AccessHash: v.AccessHash}
			}
		}
	}
	return off, off.peer != nil
}

// FetchHistory returns up to limit most recent messages of ch.
func (c *Client) FetchHistory(ctx context.Context, ch ingest.Channel, limit int) ([]ingest.Message, error) {
	api, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash},
		Limit: limit,
	})
	if err != nil {
		return nil, c.classify("history", ch.ID, err)
	}

	var raw []tg.MessageClass
	switch v := res.(type) {
	case *tg.MessagesMessages:
		raw = v.Messages
	case *tg.MessagesMessagesSlice:
		raw = v.Messages
	case *tg.MessagesChannelMessages:
		raw = v.Messages
	}

	out := make([]ingest.Message, 0, len(raw))
	for _, mc := range raw {
		if m, ok := toMessage(mc); ok {
			if m.ChannelID == 0 {
				m.ChannelID = ch.ID
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// Subscribe forwards live messages of the given channels to fn until ctx is done.
func (c *Client) Subscribe(ctx context.Context, channelIDs []int64, fn ingest.Handler) error {
	ids := make(map[int64]struct{}, len(channelIDs))
	for _, id := range channelIDs {
		ids[ingest.NormalizeChannelID(id)] = struct{}{}
	}
	c.liveMu.Lock()
	c.live, c.liveID = fn, ids
	c.liveMu.Unlock()
	defer func() {
		c.liveMu.Lock()
		c.live, c.liveID = nil, nil
		c.liveMu.Unlock()
	}()

	<-ctx.Done()
	return ctx.Err()
}

func (c *Client) onChannelMessage(ctx context.Context, _ tg.Entities, u *tg.UpdateNewChannelMessage) error {
	m, ok := toMessage(u.Message)
	if !ok {
		return nil
	}
	c.liveMu.RLock()
	fn, ids := c.live, c.liveID
	c.liveMu.RUnlock()
	if fn == nil {
		return nil
	}
	if _, ok := ids[m.ChannelID]; !ok {
		return nil
	}
	if err := fn(ctx, m); err != nil {
		c.log.Error("live message handler failed", logx.Int64("channel_id", m.ChannelID), logx.Err(err))
	}
	return nil
}

func toMessage(mc tg.MessageClass) (ingest.Message, bool) {
	m, ok := mc.(*tg.Message)
	if !ok {
		return ingest.Message{}, false
	}
	out := ingest.Message{
		ID:   m.ID,
		Text: m.Message,
		Date: time.Unix(int64(m.Date), 0).UTC(),
	}
	if p, ok := m.PeerID.(*tg.PeerChannel); ok {
		out.ChannelID = p.ChannelID
	}
	return out, true
}
