package hrband

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrChecksumMismatch   = errors.New("hrband: checksum mismatch")
	ErrTruncatedFrame     = errors.New("hrband: truncated frame")
	ErrSessionActive      = errors.New("hrband: retrieval session already in progress")
	ErrStallTimeout       = errors.New("hrband: timed out mid-burst")
	ErrDisconnected       = errors.New("hrband: device disconnected")
	ErrTransportWrite     = errors.New("hrband: transport write failed")
	ErrAbandoned          = errors.New("hrband: retrieval abandoned")
	ErrClosed             = errors.New("hrband: client closed")
	ErrNotOpen            = errors.New("hrband: client not open")
	ErrBurstCountMismatch = errors.New("hrband: burst frame count mismatch")
)

// RetrievalError reports why a retrieval session ended without a result.
// It unwraps to one of the sentinel errors above, or to the caller's context
// error when the retrieval was cancelled through its context.
type RetrievalError struct {
	Kind    error
	Session uuid.UUID
	State   SessionState // state the session was in when it ended
	Frames  int          // data frames accepted before the failure
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("%v (session %s, while %s, %d frames received)", e.Kind, e.Session, e.State, e.Frames)
}

func (e *RetrievalError) Unwrap() error { return e.Kind }
