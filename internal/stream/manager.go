package stream

import (
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/buffer"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/frame"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/health"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/source"
)

// Manager owns the registry of streams and coordinates connect,
// disconnect and reconnect across all of them. It is the only component
// consumers interact with. The registry lock is held only for map
// operations; everything per-stream lives behind that record's own lock,
// so no stream's failure can stall another stream's delivery path.
type Manager struct {
	mu      sync.RWMutex
	streams map[int]*record

	// connectMu serializes Connect calls so two concurrent connects for
	// the same id cannot both pass the disconnect step and orphan a
	// worker behind a silently overwritten record.
	connectMu sync.Mutex

	active  atomic.Bool
	cfg     Config
	journal Recorder
}

// record is the manager-owned state of one stream. conn is exclusively
// owned by the record's ingestion worker; last and seq are shared with
// consumer reads under mu.
type record struct {
	id  int
	src source.Source

	health    *health.Tracker
	buf       *buffer.Ring
	connected atomic.Bool
	done      chan struct{}

	mu   sync.Mutex
	conn source.Conn
	last *frame.Frame
	seq  uint64
}

// NewManager creates a stream manager. journal may be nil.
func NewManager(cfg Config, journal Recorder) *Manager {
	m := &Manager{
		streams: make(map[int]*record),
		cfg:     cfg.withDefaults(),
		journal: journal,
	}
	m.active.Store(true)
	return m
}

// Connect opens the source and starts an ingestion worker for id. It is
// idempotent: an existing record for id is disconnected first, so at
// most one worker is ever active per id. Returns false, never an error,
// when the source cannot be opened on either backend.
func (m *Manager) Connect(id int, src source.Source) bool {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	// Disconnect existing stream if any
	m.Disconnect(id)

	conn, err := src.Open()
	if err != nil {
		log.Printf("[StreamManager] Failed to connect stream %d (%s): %v", id, src.Describe(), err)
		m.record(id, "connect_failed", err.Error())
		return false
	}

	rec := &record{
		id:     id,
		src:    src,
		health: health.NewTracker(m.cfg.ErrorThreshold),
		buf:    buffer.NewRing(m.cfg.BufferCapacity),
		done:   make(chan struct{}),
		conn:   conn,
	}
	rec.connected.Store(true)
	rec.health.SetConnected(true)

	m.active.Store(true)
	m.mu.Lock()
	m.streams[id] = rec
	m.mu.Unlock()

	go m.captureLoop(rec)

	log.Printf("[StreamManager] Connected stream %d: %s (backend: %s)", id, src.Describe(), conn.Backend())
	m.record(id, "connected", conn.Backend())
	return true
}

// Disconnect stops the worker cooperatively, joins it with a bounded
// timeout, releases the connection handle, drains the buffer and removes
// the record. Safe to call on an unknown or already-disconnected id.
func (m *Manager) Disconnect(id int) {
	m.mu.RLock()
	rec := m.streams[id]
	m.mu.RUnlock()
	if rec == nil {
		return
	}

	if rec.connected.CompareAndSwap(true, false) {
		rec.health.SetConnected(false)
		select {
		case <-rec.done:
		case <-time.After(m.cfg.JoinTimeout):
			// The worker is stuck in a read; release the handle anyway
			// and accept the possible resource leak over a hang.
			log.Printf("[StreamManager] Worker for stream %d did not stop within %v, releasing handle anyway", id, m.cfg.JoinTimeout)
			m.record(id, "join_timeout", "")
		}
	}

	rec.mu.Lock()
	if rec.conn != nil {
		rec.conn.Close()
		rec.conn = nil
	}
	rec.last = nil
	rec.mu.Unlock()
	rec.buf.Drain()

	m.mu.Lock()
	if m.streams[id] == rec {
		delete(m.streams, id)
	}
	m.mu.Unlock()

	log.Printf("[StreamManager] Disconnected stream %d", id)
	m.record(id, "disconnected", "")
}

// DisconnectAll clears the manager-level active flag first, so every
// worker observes the stop within one loop iteration, then disconnects
// every record.
func (m *Manager) DisconnectAll() {
	m.active.Store(false)

	m.mu.RLock()
	ids := make([]int, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Disconnect(id)
	}
}

// GetFrame returns the next buffered frame for id, falling back to the
// last delivered frame when the buffer is momentarily empty, or nil when
// the stream is unknown or has never produced a frame. Never blocks.
func (m *Manager) GetFrame(id int) *frame.Frame {
	m.mu.RLock()
	rec := m.streams[id]
	m.mu.RUnlock()
	if rec == nil {
		return nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if f, ok := rec.buf.Pop(); ok {
		rec.last = f
		return f
	}
	return rec.last
}

// CaptureFrame is GetFrame plus a deep copy the caller may mutate or
// persist independently of the engine's buffers.
func (m *Manager) CaptureFrame(id int) *frame.Frame {
	return m.GetFrame(id).Clone()
}

// IsConnected reports whether consumers should trust stream id: the
// connection is open and the error count is below the threshold. This,
// not raw connection state, is the signal to gate display and capture on.
func (m *Manager) IsConnected(id int) bool {
	m.mu.RLock()
	rec := m.streams[id]
	m.mu.RUnlock()
	if rec == nil {
		return false
	}
	return rec.health.Usable()
}

// StreamInfo returns the health view of stream id.
func (m *Manager) StreamInfo(id int) (Info, bool) {
	m.mu.RLock()
	rec := m.streams[id]
	m.mu.RUnlock()
	if rec == nil {
		return Info{}, false
	}
	return m.info(rec), true
}

// AllStreamInfo returns the health view of every stream.
func (m *Manager) AllStreamInfo() map[int]Info {
	m.mu.RLock()
	recs := make([]*record, 0, len(m.streams))
	for _, rec := range m.streams {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	infos := make(map[int]Info, len(recs))
	for _, rec := range recs {
		infos[rec.id] = m.info(rec)
	}
	return infos
}

// IDs returns the connected stream identifiers in ascending order.
func (m *Manager) IDs() []int {
	m.mu.RLock()
	ids := make([]int, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Ints(ids)
	return ids
}

func (m *Manager) info(rec *record) Info {
	snap := rec.health.Snapshot()

	rec.mu.Lock()
	backend := ""
	if rec.conn != nil {
		backend = rec.conn.Backend()
	}
	rec.mu.Unlock()

	return Info{
		ID:         rec.id,
		Connected:  rec.connected.Load(),
		State:      snap.State,
		FPS:        snap.FPS,
		FrameCount: snap.FrameCount,
		ErrorCount: snap.ErrorCount,
		Source:     rec.src.Describe(),
		Backend:    backend,
	}
}

func (m *Manager) record(id int, event, detail string) {
	if m.journal != nil {
		m.journal.Record(id, event, detail)
	}
}
