package ingest

import (
	"context"
	"time"
)

const (
	ModePoll = "poll"
	ModePush = "push"
)

// Message is one channel message as seen by the pipeline.
type Message struct {
	ID        int
	ChannelID int64
	Text      string
	Date      time.Time
}

// Channel is a resolved target channel.
type Channel struct {
	ID         int64
	AccessHash int64
	Title      string
}

// Handler processes one message. A non-nil error ends the strategy run.
type Handler func(ctx context.Context, m Message) error

// Strategy retrieves messages and feeds them to a Handler until ctx is done
// or a fatal error occurs.
type Strategy interface {
	Name() string
	Run(ctx context.Context, h Handler) error
}

// ChannelResolver maps configured channel ids to channels the account can read.
type ChannelResolver interface {
	ResolveChannels(ctx context.Context, ids []int64) ([]Channel, error)
}

// HistoryFetcher returns up to limit most recent messages of ch.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, ch Channel, limit int) ([]Message, error)
}

// PollSource is what the poll strategy needs from the platform client.
type PollSource interface {
	ChannelResolver
	HistoryFetcher
}

// LiveFeed delivers new messages from the given channels to fn as they
// arrive. Subscribe blocks until ctx is done or the feed fails.
type LiveFeed interface {
	Subscribe(ctx context.Context, channelIDs []int64, fn Handler) error
}

// botAPIChannelOffset is the prefix Bot API puts in front of channel ids (-100…).
const botAPIChannelOffset = 1_000_000_000_000

// NormalizeChannelID maps a Bot API style channel id (-1001234567890) to the
// bare channel id (1234567890) used by the user-account protocol. Other ids
// are returned unchanged.
func NormalizeChannelID(id int64) int64 {
	if id <= -botAPIChannelOffset {
		return -id - botAPIChannelOffset
	}
	return id
}
