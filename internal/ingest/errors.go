package ingest

import (
	"errors"
	"fmt"
)

var (
	ErrNoChannels  = errors.New("ingest: no target channels resolved")
	ErrUnknownMode = errors.New("ingest: unknown mode")
)

// RemoteError is a failed call to the message source. It is recoverable:
// the pipeline logs it and treats the call as having returned no messages.
type RemoteError struct {
	Op        string
	ChannelID int64
	Err       error
}

func (e *RemoteError) Error() string {
	if e.ChannelID != 0 {
		return fmt.Sprintf("ingest: %s channel %d: %v", e.Op, e.ChannelID, e.Err)
	}
	return fmt.Sprintf("ingest: %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// AuthError means the session is no longer authorized. It ends the
// ingestion run; the supervisor decides whether to restart it.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("ingest: auth: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
