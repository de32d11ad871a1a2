package storage

import (
	"context"
	"database/sql"
	"embed"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	logx "mintwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore mirrors the members table in memory.
// The table is the durable copy; seq preserves insertion order.
type sqliteStore struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	db      *sql.DB
	set     *orderedSet
	nextSeq int64
	dirty   bool
	closed  bool
}

func newSQLiteStore(cfg Config, log logx.Logger) *sqliteStore {
	return &sqliteStore{
		cfg: cfg,
		log: log.With(logx.String("store", filepath.Base(cfg.Path))),
		set: newOrderedSet(),
	}
}

func (s *sqliteStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
		return err
	}

	if s.db == nil {
		db, err := sql.Open("sqlite", s.cfg.Path)
		if err != nil {
			return err
		}
		// SQLite prefers a single writer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 1000")
		_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
		// FULL: a committed insert survives power loss, matching the file driver.
		_, _ = db.ExecContext(ctx, "PRAGMA synchronous = FULL")

		b, err := migrationsFS.ReadFile("migrations.sql")
		if err != nil {
			_ = db.Close()
			return err
		}
		if _, err := db.ExecContext(ctx, string(b)); err != nil {
			_ = db.Close()
			return err
		}
		s.db = db
	}

	rows, err := s.db.QueryContext(ctx, `SELECT member, seq FROM members ORDER BY seq ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	set := newOrderedSet()
	var maxSeq int64
	for rows.Next() {
		var (
			m   string
			seq int64
		)
		if err := rows.Scan(&m, &seq); err != nil {
			return err
		}
		set.add(m)
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.set = set
	s.nextSeq = maxSeq + 1

	if evicted := s.set.evictOver(s.cfg.Capacity); len(evicted) > 0 {
		if err := s.deleteLocked(ctx, evicted...); err != nil {
			s.dirty = true
			return &PersistError{Path: s.cfg.Path, Err: err}
		}
	}
	s.log.Debug("store loaded", logx.String("path", s.cfg.Path), logx.Int("members", s.set.len()))
	return nil
}

func (s *sqliteStore) Contains(ctx context.Context, member string) bool {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.has(member)
}

func (s *sqliteStore) Add(ctx context.Context, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.db == nil {
		return false, ErrClosed
	}

	added := s.set.add(member)
	evicted := s.set.evictOver(s.cfg.Capacity)

	if s.dirty {
		return added, s.resyncLocked(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.dirty = true
		return added, &PersistError{Path: s.cfg.Path, Err: err}
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO members(member, seq) VALUES(?, ?)`, member, s.nextSeq); err != nil {
		_ = tx.Rollback()
		s.dirty = true
		return added, &PersistError{Path: s.cfg.Path, Err: err}
	}
	for _, m := range evicted {
		if _, err := tx.ExecContext(ctx, `DELETE FROM members WHERE member = ?`, m); err != nil {
			_ = tx.Rollback()
			s.dirty = true
			return added, &PersistError{Path: s.cfg.Path, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		s.dirty = true
		return added, &PersistError{Path: s.cfg.Path, Err: err}
	}
	if added {
		s.nextSeq++
	}
	return added, nil
}

func (s *sqliteStore) Discard(ctx context.Context, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.db == nil {
		return false, ErrClosed
	}
	removed := s.set.remove(member)
	if s.dirty {
		return removed, s.resyncLocked(ctx)
	}
	if err := s.deleteLocked(ctx, member); err != nil {
		s.dirty = true
		return removed, &PersistError{Path: s.cfg.Path, Err: err}
	}
	return removed, nil
}

func (s *sqliteStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.len()
}

func (s *sqliteStore) Members() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.values()
}

func (s *sqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db == nil {
		return nil
	}
	var flushErr error
	if s.dirty {
		flushErr = s.resyncLocked(context.Background())
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	return flushErr
}

func (s *sqliteStore) deleteLocked(ctx context.Context, members ...string) error {
	for _, m := range members {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM members WHERE member = ?`, m); err != nil {
			return err
		}
	}
	return nil
}

// resyncLocked rewrites the table from memory after an earlier failed write.
func (s *sqliteStore) resyncLocked(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistError{Path: s.cfg.Path, Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM members`); err != nil {
		_ = tx.Rollback()
		return &PersistError{Path: s.cfg.Path, Err: err}
	}
	seq := int64(1)
	for _, m := range s.set.values() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO members(member, seq) VALUES(?, ?)`, m, seq); err != nil {
			_ = tx.Rollback()
			return &PersistError{Path: s.cfg.Path, Err: err}
		}
		seq++
	}
	if err := tx.Commit(); err != nil {
		return &PersistError{Path: s.cfg.Path, Err: err}
	}
	s.nextSeq = seq
	s.dirty = false
	s.log.Info("store resynced after earlier failure", logx.String("path", s.cfg.Path), logx.Int("members", s.set.len()))
	return nil
}
