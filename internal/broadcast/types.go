package broadcast

import (
	"context"
	"time"
)

const EventMint = "mint"

// Event announces a newly seen mint address.
type Event struct {
	Type      string    `json:"type"`
	Address   string    `json:"address"`
	ChannelID int64     `json:"channel_id,omitempty"`
	SeenAt    time.Time `json:"seen_at"`
}

// Subscriber is a live delivery target.
//
// Send must honor ctx; a returned error removes the subscriber.
// If a subscriber also implements io.Closer, Close is called once after it
// has been removed from the registry.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, ev Event) error
}

type Config struct {
	// SendTimeout bounds a single delivery. 0 uses 5s.
	SendTimeout time.Duration
	// Parallelism bounds concurrent deliveries in one Broadcast. 0 uses 16.
	Parallelism int
}

// Report summarizes one Broadcast call.
type Report struct {
	Delivered int
	Dropped   []string
}

// Stats are cumulative counters since New.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Events      uint64 `json:"events"`
	Deliveries  uint64 `json:"deliveries"`
	Dropped     uint64 `json:"dropped"`
}

func (c Config) normalized() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 16
	}
	return c
}
