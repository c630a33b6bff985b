package stream

import (
	"time"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/health"
)

// Config holds the engine tunables. All values are externally supplied;
// non-positive values fall back to the defaults below.
type Config struct {
	// BufferCapacity is the per-stream frame buffer size.
	BufferCapacity int
	// ErrorThreshold is the consecutive-failure count above which a
	// stream reconnects automatically.
	ErrorThreshold int
	// ReadTimeout bounds one blocking read inside the ingestion worker.
	ReadTimeout time.Duration
	// RetrySleep is the pause after a failed read, to avoid a hot spin.
	RetrySleep time.Duration
	// ReconnectDelay is the pause between releasing a failed connection
	// and dialing the source again.
	ReconnectDelay time.Duration
	// JoinTimeout bounds the wait for a worker to observe a stop request.
	JoinTimeout time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		BufferCapacity: 5,
		ErrorThreshold: health.DefaultErrorThreshold,
		ReadTimeout:    500 * time.Millisecond,
		RetrySleep:     100 * time.Millisecond,
		ReconnectDelay: time.Second,
		JoinTimeout:    2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = d.BufferCapacity
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = d.ErrorThreshold
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.RetrySleep <= 0 {
		c.RetrySleep = d.RetrySleep
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = d.JoinTimeout
	}
	return c
}

// Info is the consumer-facing view of one stream's health.
type Info struct {
	ID         int           `json:"id"`
	Connected  bool          `json:"connected"`
	State      health.State  `json:"state"`
	FPS        int           `json:"fps"`
	FrameCount uint64        `json:"frame_count"`
	ErrorCount int           `json:"error_count"`
	Source     string        `json:"source"`
	Backend    string        `json:"backend,omitempty"`
}

// Recorder receives stream lifecycle events. Implementations must not
// block the caller for long; recording is best-effort.
type Recorder interface {
	Record(streamID int, event, detail string)
}
