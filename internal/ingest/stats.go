package ingest

import (
	"sync/atomic"
	"time"
)

// Stats counts pipeline activity. The zero value is ready to use.
type Stats struct {
	messages      atomic.Uint64
	matches       atomic.Uint64
	fresh         atomic.Uint64
	remoteErrors  atomic.Uint64
	persistErrors atomic.Uint64
	cycles        atomic.Uint64
	lastFreshUnix atomic.Int64
}

type StatsSnapshot struct {
	Messages      uint64    `json:"messages"`
	Matches       uint64    `json:"matches"`
	NewAddresses  uint64    `json:"new_addresses"`
	RemoteErrors  uint64    `json:"remote_errors"`
	PersistErrors uint64    `json:"persist_errors"`
	Cycles        uint64    `json:"cycles"`
	LastNewAt     time.Time `json:"last_new_at,omitempty"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	out := StatsSnapshot{
		Messages:      s.messages.Load(),
		Matches:       s.matches.Load(),
		NewAddresses:  s.fresh.Load(),
		RemoteErrors:  s.remoteErrors.Load(),
		PersistErrors: s.persistErrors.Load(),
		Cycles:        s.cycles.Load(),
	}
	if n := s.lastFreshUnix.Load(); n > 0 {
		out.LastNewAt = time.Unix(0, n).UTC()
	}
	return out
}
