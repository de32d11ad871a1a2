package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	logx "mintwatch/pkg/logx"
)

// fileStore keeps the whole set in memory and mirrors it to a JSON array file.
//
// Writes go to <path>.tmp, are fsynced and then renamed over <path>, so a
// crash leaves either the previous or the new array on disk, never a mix.
type fileStore struct {
	cfg Config
	log logx.Logger

	mu     sync.Mutex
	set    *orderedSet
	dirty  bool // last persist failed; state on disk is stale
	closed bool

	// writeFile is swapped in tests to simulate disk failures.
	writeFile func(path string, data []byte) error
}

func newFileStore(cfg Config, log logx.Logger) *fileStore {
	return &fileStore{
		cfg:       cfg,
		log:       log.With(logx.String("store", filepath.Base(cfg.Path))),
		set:       newOrderedSet(),
		writeFile: writeFileAtomic,
	}
}

func (s *fileStore) Load(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if dir := filepath.Dir(s.cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	b, err := os.ReadFile(s.cfg.Path)
	if errors.Is(err, fs.ErrNotExist) {
		s.set = newOrderedSet()
		if err := s.persistLocked(); err != nil {
			return err
		}
		s.log.Info("store initialized", logx.String("path", s.cfg.Path))
		return nil
	}
	if err != nil {
		return err
	}

	var members []string
	if err := json.Unmarshal(bytes.TrimSpace(b), &members); err != nil {
		if s.cfg.StrictLoad {
			return &CorruptError{Path: s.cfg.Path, Err: err}
		}
		quarantine := fmt.Sprintf("%s.corrupt-%d", s.cfg.Path, time.Now().Unix())
		if rerr := os.Rename(s.cfg.Path, quarantine); rerr != nil {
			s.log.Warn("corrupt store could not be quarantined", logx.String("path", s.cfg.Path), logx.Err(rerr))
			quarantine = ""
		}
		s.log.Warn("corrupt store reset to empty",
			logx.String("path", s.cfg.Path),
			logx.String("quarantine", quarantine),
			logx.Err(err),
		)
		s.set = newOrderedSet()
		return s.persistLocked()
	}

	set := newOrderedSet()
	for _, m := range members {
		set.add(m)
	}
	evicted := set.evictOver(s.cfg.Capacity)
	s.set = set
	if len(evicted) > 0 || len(members) != set.len() {
		// Normalize duplicates or a capacity shrink straight away.
		if err := s.persistLocked(); err != nil {
			return err
		}
	}
	s.log.Debug("store loaded", logx.String("path", s.cfg.Path), logx.Int("members", set.len()))
	return nil
}

func (s *fileStore) Contains(ctx context.Context, member string) bool {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.has(member)
}

func (s *fileStore) Add(ctx context.Context, member string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}

	added := s.set.add(member)
	if evicted := s.set.evictOver(s.cfg.Capacity); len(evicted) > 0 {
		s.log.Debug("evicted oldest members", logx.Strs("evicted", evicted), logx.Int("capacity", s.cfg.Capacity))
	}
	// Persist even for duplicates: it retries a previously failed write.
	return added, s.persistLocked()
}

func (s *fileStore) Discard(ctx context.Context, member string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	removed := s.set.remove(member)
	return removed, s.persistLocked()
}

func (s *fileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.len()
}

func (s *fileStore) Members() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.values()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.dirty {
		// Last chance to flush a state that failed to persist earlier.
		return s.persistLocked()
	}
	return nil
}

func (s *fileStore) persistLocked() error {
	b, err := json.Marshal(s.set.values())
	if err != nil {
		return &PersistError{Path: s.cfg.Path, Err: err}
	}
	if err := s.writeFile(s.cfg.Path, b); err != nil {
		s.dirty = true
		return &PersistError{Path: s.cfg.Path, Err: err}
	}
	if s.dirty {
		s.log.Info("store persisted after earlier failure", logx.String("path", s.cfg.Path))
	}
	s.dirty = false
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
