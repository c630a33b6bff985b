package stream

import (
	"log"
	"time"
)

// captureLoop is the ingestion worker: it owns the record's connection
// and moves frames into the buffer until the manager-level active flag
// or the record's connected flag is cleared. Both flags are checked at
// the top of every iteration; every blocking step inside the loop is
// bounded, so a stop request is observed within one or two read-timeout
// intervals.
func (m *Manager) captureLoop(rec *record) {
	defer close(rec.done)

	for m.active.Load() && rec.connected.Load() {
		rec.mu.Lock()
		conn := rec.conn
		rec.mu.Unlock()

		if conn == nil {
			// Previous reconnect attempt failed; keep counting on the
			// same schedule until one succeeds or we are told to stop.
			if m.noteFailure(rec) {
				continue
			}
			m.pause(rec, m.cfg.RetrySleep)
			continue
		}

		f, err := conn.Read(m.cfg.ReadTimeout)
		if err != nil {
			if m.noteFailure(rec) {
				continue
			}
			m.pause(rec, m.cfg.RetrySleep)
			continue
		}

		rec.health.RecordSuccess(time.Now())

		rec.mu.Lock()
		rec.seq++
		f.StreamID = rec.id
		f.Seq = rec.seq
		rec.buf.Push(f)
		rec.last = f
		rec.mu.Unlock()
	}
}

// noteFailure records one failed read and triggers the reconnect
// sequence once the consecutive-error count exceeds the threshold.
// Returns true when a reconnect was attempted (the loop should not
// sleep again on top of the reconnect delay).
func (m *Manager) noteFailure(rec *record) bool {
	count := rec.health.RecordFailure()
	if count <= m.cfg.ErrorThreshold {
		return false
	}
	m.reconnect(rec)
	return true
}

// reconnect runs the disconnect-pause-reconnect cycle on the worker's
// own stream: release the handle, drain the buffer, pause, then reopen
// from the stored source parameters. Failures are logged and retried on
// the same schedule; there is no terminal state short of an explicit
// disconnect.
func (m *Manager) reconnect(rec *record) {
	log.Printf("[StreamManager] Stream %d error count exceeded, attempting reconnection", rec.id)
	rec.health.SetReconnecting(true)
	m.record(rec.id, "reconnecting", rec.src.Describe())

	rec.mu.Lock()
	if rec.conn != nil {
		rec.conn.Close()
		rec.conn = nil
	}
	rec.mu.Unlock()
	rec.buf.Drain()

	m.pause(rec, m.cfg.ReconnectDelay)
	if !m.active.Load() || !rec.connected.Load() {
		return
	}

	conn, err := rec.src.Open()
	if err != nil {
		log.Printf("[StreamManager] Reconnect failed for stream %d: %v", rec.id, err)
		m.record(rec.id, "reconnect_failed", err.Error())
		return
	}

	rec.mu.Lock()
	rec.conn = conn
	rec.mu.Unlock()
	rec.health.ResetErrors()
	rec.health.SetReconnecting(false)

	log.Printf("[StreamManager] Reconnected stream %d (backend: %s)", rec.id, conn.Backend())
	m.record(rec.id, "reconnected", conn.Backend())
}

// pause sleeps for d in short slices so the worker still observes a
// stop request promptly.
func (m *Manager) pause(rec *record, d time.Duration) {
	deadline := time.Now().Add(d)
	for m.active.Load() && rec.connected.Load() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		if remaining > 50*time.Millisecond {
			remaining = 50 * time.Millisecond
		}
		time.Sleep(remaining)
	}
}
