package storage

import (
	"context"
	"errors"
	"fmt"
)

var ErrClosed = errors.New("storage closed")

// Config configures one store.
//
// Driver values:
//   - "file" (default): JSON array file at Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver string
	Path   string

	// Capacity bounds the number of members; 0 means unbounded.
	// When exceeded, the oldest inserted member is evicted.
	Capacity int

	// StrictLoad makes Load fail on an unparsable file instead of
	// quarantining it and starting empty.
	StrictLoad bool
}

// Store is a durable, insertion-ordered set of strings.
//
// Every mutation is persisted before the call returns. Mutations are
// serialized; reads see the state of the last completed mutation.
type Store interface {
	Load(ctx context.Context) error
	Contains(ctx context.Context, member string) bool
	// Add inserts member. added is false when member was already present.
	// A *PersistError leaves the in-memory insert in place.
	Add(ctx context.Context, member string) (added bool, err error)
	Discard(ctx context.Context, member string) (removed bool, err error)
	Len() int
	// Members returns a copy in insertion order (oldest first).
	Members() []string
	Close() error
}

// PersistError reports that the in-memory state changed but could not be
// made durable. The next successful mutation persists the full state again.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("storage: persist %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// IsPersistError reports whether err carries a *PersistError.
func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}

// CorruptError is returned by Load in strict mode when the file cannot be parsed.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("storage: corrupt store %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }
