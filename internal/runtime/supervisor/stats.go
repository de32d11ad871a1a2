package supervisor

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// GoroutineStats aggregates runs of goroutines sharing a name.
type GoroutineStats struct {
	Name        string        `json:"name"`
	Active      int64         `json:"active"`
	Runs        uint64        `json:"runs"`
	Restarts    uint64        `json:"restarts"`
	Panics      uint64        `json:"panics"`
	LastStartAt time.Time     `json:"last_start_at"`
	LastErr     string        `json:"last_err,omitempty"`
	LastErrAt   time.Time     `json:"last_err_at,omitempty"`
	LastPanic   string        `json:"last_panic,omitempty"`
	Uptime      time.Duration `json:"uptime"`
}

type Snapshot struct {
	Active     int64            `json:"active"`
	FirstError string           `json:"first_error,omitempty"`
	Goroutines []GoroutineStats `json:"goroutines"`
}

type table struct {
	active atomic.Int64

	mu   sync.Mutex
	rows map[string]*GoroutineStats
}

func (t *table) row(name string) *GoroutineStats {
	if t.rows == nil {
		t.rows = map[string]*GoroutineStats{}
	}
	r := t.rows[name]
	if r == nil {
		r = &GoroutineStats{Name: name}
		t.rows[name] = r
	}
	return r
}

func (t *table) started(name string, restart bool) {
	now := time.Now()
	t.active.Add(1)
	t.mu.Lock()
	r := t.row(name)
	r.Active++
	r.Runs++
	if restart {
		r.Restarts++
	}
	r.LastStartAt = now
	t.mu.Unlock()
}

func (t *table) stopped(name string, err error) {
	t.active.Add(-1)
	t.mu.Lock()
	r := t.row(name)
	if r.Active > 0 {
		r.Active--
	}
	if err != nil {
		r.LastErr = err.Error()
		r.LastErrAt = time.Now()
	}
	t.mu.Unlock()
}

func (t *table) panicked(name string, p any) {
	t.mu.Lock()
	r := t.row(name)
	r.Panics++
	r.LastPanic = fmt.Sprint(p)
	t.mu.Unlock()
}

// Snapshot returns a point-in-time view of every named goroutine. It backs
// the tasks section of /health and the periodic report.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	out := Snapshot{Active: s.stats.active.Load()}
	if err := s.Err(); err != nil {
		out.FirstError = err.Error()
	}
	now := time.Now()
	s.stats.mu.Lock()
	for _, r := range s.stats.rows {
		g := *r
		if g.Active > 0 {
			g.Uptime = now.Sub(g.LastStartAt).Round(time.Second)
		}
		out.Goroutines = append(out.Goroutines, g)
	}
	s.stats.mu.Unlock()
	sort.Slice(out.Goroutines, func(i, j int) bool { return out.Goroutines[i].Name < out.Goroutines[j].Name })
	return out
}
