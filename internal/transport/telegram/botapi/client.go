// Package botapi is the bot side of the Telegram integration: a live feed of
// channel posts for the push strategy and plain-text sending for the relay
// and the log sink.
package botapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"mintwatch/internal/ingest"
	rtsup "mintwatch/internal/runtime/supervisor"
	logx "mintwatch/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration

	// Offline skips the getMe call on construction; Synchronous runs handlers
	// on the poll goroutine. Both exist for embedding and tests.
	Offline     bool
	Synchronous bool
}

type subscription struct {
	ctx context.Context
	ids map[int64]struct{}
	fn  ingest.Handler
}

type Client struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	sub atomic.Pointer[subscription]

	runMu   sync.Mutex
	sup     *rtsup.Supervisor
	dropped atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:       cfg.Token,
		Poller:      &tele.LongPoller{Timeout: cfg.PollTimeout, AllowedUpdates: []string{"channel_post"}},
		Offline:     cfg.Offline,
		Synchronous: cfg.Synchronous,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{cfg: cfg, log: log.With(logx.String("comp", "telegram.bot")), bot: b}
	c.bot.Handle(tele.OnChannelPost, c.onChannelPost)
	return c, nil
}

func (c *Client) onChannelPost(tc tele.Context) error {
	m := tc.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	s := c.sub.Load()
	if s == nil {
		c.dropped.Add(1)
		return nil
	}
	id := ingest.NormalizeChannelID(m.Chat.ID)
	if _, ok := s.ids[id]; !ok {
		return nil
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	msg := ingest.Message{ID: m.ID, ChannelID: id, Text: text, Date: m.Time().UTC()}
	if err := s.fn(s.ctx, msg); err != nil {
		c.log.Error("channel post handler failed", logx.Int64("channel_id", id), logx.Err(err))
	}
	return nil
}

// Subscribe polls the Bot API for channel posts and forwards those from
// channelIDs to fn. It blocks until ctx is done.
func (c *Client) Subscribe(ctx context.Context, channelIDs []int64, fn ingest.Handler) error {
	ids := make(map[int64]struct{}, len(channelIDs))
	for _, id := range channelIDs {
		ids[ingest.NormalizeChannelID(id)] = struct{}{}
	}
	c.sub.Store(&subscription{ctx: ctx, ids: ids, fn: fn})
	defer c.sub.Store(nil)

	if err := c.start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c.stop(sctx)
	return ctx.Err()
}

func (c *Client) start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.sup != nil {
		return errors.New("telegram bot: already polling")
	}
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(c.log),
		rtsup.WithCancelOnError(false),
	)
	c.sup = sup

	sup.Go0("telebot.stop_on_cancel", func(ctx context.Context) {
		<-ctx.Done()
		c.bot.Stop()
	})
	// telebot's Start can return on its own in some failure modes.
	sup.GoRestart0("telebot.poll", func(ctx context.Context) {
		c.log.Info("polling started")
		c.bot.Start()
		c.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (c *Client) stop(ctx context.Context) {
	c.runMu.Lock()
	sup := c.sup
	c.sup = nil
	c.runMu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("bot polling stop incomplete", logx.Err(err))
	}
	if n := c.dropped.Swap(0); n > 0 {
		c.log.Debug("channel posts ignored without subscriber", logx.Uint64("count", n))
	}
}
