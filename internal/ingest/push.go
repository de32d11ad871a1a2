package ingest

import (
	"context"

	logx "mintwatch/pkg/logx"
)

// PushStrategy consumes a live feed. There is no polling loop.
type PushStrategy struct {
	ids  []int64
	feed LiveFeed
	log  logx.Logger
}

func NewPushStrategy(channelIDs []int64, feed LiveFeed, log logx.Logger) *PushStrategy {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &PushStrategy{
		ids:  append([]int64(nil), channelIDs...),
		feed: feed,
		log:  log.With(logx.String("comp", "ingest.push")),
	}
}

func (p *PushStrategy) Name() string { return ModePush }

func (p *PushStrategy) Run(ctx context.Context, h Handler) error {
	if len(p.ids) == 0 {
		return ErrNoChannels
	}
	allowed := make(map[int64]struct{}, len(p.ids))
	for _, id := range p.ids {
		allowed[id] = struct{}{}
	}
	p.log.Info("subscribing to live feed", logx.Int("channels", len(p.ids)))

	// The feed is asked to filter; filter again so a loose feed cannot leak
	// other chats into the pipeline.
	return p.feed.Subscribe(ctx, p.ids, func(ctx context.Context, m Message) error {
		if _, ok := allowed[m.ChannelID]; !ok {
			return nil
		}
		return h(ctx, m)
	})
}
