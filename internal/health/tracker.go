package health

import (
	"sync"
	"time"
)

// State classifies a stream's operational condition.
type State string

const (
	// StateHealthy means the connection is open and reads are succeeding.
	StateHealthy State = "healthy"
	// StateDegraded means the connection is open but recent reads failed
	// (error count between 1 and the threshold).
	StateDegraded State = "degraded"
	// StateReconnecting means the error threshold was exceeded and a
	// reconnection sequence is in progress.
	StateReconnecting State = "reconnecting"
	// StateDisconnected means no connection and no active worker.
	StateDisconnected State = "disconnected"
)

// DefaultErrorThreshold is the consecutive-failure count above which a
// stream is considered unusable until reconnected.
const DefaultErrorThreshold = 10

// Snapshot is a point-in-time copy of a tracker's counters.
type Snapshot struct {
	State      State
	FPS        int
	FrameCount uint64
	ErrorCount int
}

// Tracker keeps per-stream health bookkeeping: a consecutive-error
// counter, total frame count, and an FPS estimate computed as a
// one-second sliding count of successful reads. Safe for concurrent use
// by one writer (the ingestion worker) and any number of readers.
type Tracker struct {
	mu        sync.Mutex
	threshold int

	connected    bool
	reconnecting bool

	errorCount int
	frameCount uint64

	fps        int
	fpsCounter int
	fpsWindow  time.Time
}

// NewTracker creates a tracker with the given error threshold.
// Non-positive thresholds fall back to DefaultErrorThreshold.
func NewTracker(threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultErrorThreshold
	}
	return &Tracker{threshold: threshold, fpsWindow: time.Now()}
}

// SetConnected records whether the stream's connection is open.
func (t *Tracker) SetConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = connected
	if !connected {
		t.fps = 0
		t.fpsCounter = 0
	}
}

// SetReconnecting marks the start or end of a reconnection sequence.
func (t *Tracker) SetReconnecting(reconnecting bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconnecting = reconnecting
}

// RecordSuccess notes one successful read at the given time. Any success
// resets the consecutive-error counter to zero.
func (t *Tracker) RecordSuccess(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.errorCount = 0
	t.frameCount++
	t.fpsCounter++
	if now.Sub(t.fpsWindow) >= time.Second {
		t.fps = t.fpsCounter
		t.fpsCounter = 0
		t.fpsWindow = now
	}
}

// RecordFailure notes one failed read and returns the new consecutive
// error count.
func (t *Tracker) RecordFailure() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorCount++
	return t.errorCount
}

// ResetErrors clears the consecutive-error counter. Used when a new
// connection is established during a reconnect sequence.
func (t *Tracker) ResetErrors() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorCount = 0
}

// ErrorCount returns the current consecutive-error count.
func (t *Tracker) ErrorCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errorCount
}

// Usable reports whether consumers should trust this stream:
// connected with the error count below the threshold.
func (t *Tracker) Usable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected && t.errorCount < t.threshold
}

// Exceeded reports whether the error count has crossed the threshold.
func (t *Tracker) Exceeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errorCount > t.threshold
}

// State returns the current classification.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case !t.connected:
		return StateDisconnected
	case t.reconnecting:
		return StateReconnecting
	case t.errorCount > 0:
		return StateDegraded
	default:
		return StateHealthy
	}
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := StateHealthy
	switch {
	case !t.connected:
		state = StateDisconnected
	case t.reconnecting:
		state = StateReconnecting
	case t.errorCount > 0:
		state = StateDegraded
	}
	return Snapshot{
		State:      state,
		FPS:        t.fps,
		FrameCount: t.frameCount,
		ErrorCount: t.errorCount,
	}
}
