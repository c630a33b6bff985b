package source

import (
	"errors"
	"time"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/frame"
)

// Errors returned by connections. Workers treat every Read error the
// same way (one more consecutive failure); these exist so tests and logs
// can tell the cases apart.
var (
	ErrReadTimeout = errors.New("source: read timed out")
	ErrClosed      = errors.New("source: connection closed")
)

// Source describes one producer and knows how to open it. Opening tries
// the primary decoding backend first and falls back to a documented
// secondary backend before failing.
type Source interface {
	// Describe returns the connection parameters for health reporting
	// (device path or stream URL).
	Describe() string

	// Open establishes the producer connection. The returned connection
	// is exclusively owned by the caller.
	Open() (Conn, error)
}

// Conn is one open producer connection. Read blocks for at most the
// given timeout; Close releases the underlying resource and makes all
// subsequent Reads fail with ErrClosed.
type Conn interface {
	Read(timeout time.Duration) (*frame.Frame, error)
	Backend() string
	Close() error
}
