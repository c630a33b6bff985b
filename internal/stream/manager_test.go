package stream

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/frame"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/source"
)

// fakeSource is a scriptable producer. Its mode can be flipped at any
// time to simulate a camera that starts failing or recovers.
type fakeSource struct {
	name    string
	failing atomic.Bool // reads fail when set
	silent  atomic.Bool // reads time out when set
	openErr atomic.Bool // opens fail when set

	mu    sync.Mutex
	opens int
	live  int // open, not yet closed connections
	seq   uint64
}

func (s *fakeSource) Describe() string { return s.name }

func (s *fakeSource) Open() (source.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.openErr.Load() {
		return nil, errors.New("open failed on both backends")
	}
	s.live++
	return &fakeConn{src: s}, nil
}

func (s *fakeSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func (s *fakeSource) liveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

type fakeConn struct {
	src    *fakeSource
	closed atomic.Bool
}

func (c *fakeConn) Read(timeout time.Duration) (*frame.Frame, error) {
	if c.closed.Load() {
		return nil, source.ErrClosed
	}
	if c.src.failing.Load() {
		return nil, errors.New("read failed")
	}
	if c.src.silent.Load() {
		time.Sleep(timeout)
		return nil, source.ErrReadTimeout
	}
	time.Sleep(time.Millisecond)
	c.src.mu.Lock()
	c.src.seq++
	seq := c.src.seq
	c.src.mu.Unlock()
	return &frame.Frame{
		Data:      []byte{0xFF, 0xD8, byte(seq), 0xFF, 0xD9},
		Timestamp: time.Now(),
	}, nil
}

func (c *fakeConn) Backend() string { return "fake" }

func (c *fakeConn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.src.mu.Lock()
		c.src.live--
		c.src.mu.Unlock()
	}
	return nil
}

// stuckSource opens connections whose reads ignore the read timeout,
// simulating a blocked decoder that never observes a stop request.
type stuckSource struct {
	name     string
	released atomic.Bool
}

func (s *stuckSource) Describe() string { return s.name }

func (s *stuckSource) Open() (source.Conn, error) {
	return &stuckConn{src: s}, nil
}

type stuckConn struct {
	src *stuckSource
}

func (c *stuckConn) Read(timeout time.Duration) (*frame.Frame, error) {
	time.Sleep(500 * time.Millisecond)
	return nil, errors.New("read failed")
}

func (c *stuckConn) Backend() string { return "stuck" }

func (c *stuckConn) Close() error {
	c.src.released.Store(true)
	return nil
}

// recordingJournal captures lifecycle events for assertions.
type recordingJournal struct {
	mu       sync.Mutex
	recorded []string
}

func (r *recordingJournal) Record(streamID int, event, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, event)
}

func (r *recordingJournal) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.recorded...)
}

// testConfig keeps the failure/reconnect cycle fast enough for tests
// while preserving the default threshold of 10.
func testConfig() Config {
	return Config{
		BufferCapacity: 5,
		ErrorThreshold: 10,
		ReadTimeout:    20 * time.Millisecond,
		RetrySleep:     time.Millisecond,
		ReconnectDelay: 50 * time.Millisecond,
		JoinTimeout:    time.Second,
	}
}

func TestConnectOpenFailureReturnsFalse(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.DisconnectAll()

	src := &fakeSource{name: "rtsp://10.0.0.9:8554/cam1"}
	src.openErr.Store(true)

	assert.False(t, m.Connect(0, src))
	_, ok := m.StreamInfo(0)
	assert.False(t, ok, "a failed connect must not leave a record behind")
	assert.False(t, m.IsConnected(0))
}

func TestGetFrameNonBlocking(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.DisconnectAll()

	// Unknown stream.
	start := time.Now()
	assert.Nil(t, m.GetFrame(7))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// Connected stream that has never produced a frame.
	src := &fakeSource{name: "/dev/video0"}
	src.silent.Store(true)
	require.True(t, m.Connect(0, src))

	start = time.Now()
	assert.Nil(t, m.GetFrame(0))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestGetFrameFallsBackToLastFrame(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.DisconnectAll()

	src := &fakeSource{name: "/dev/video0"}
	require.True(t, m.Connect(0, src))

	require.Eventually(t, func() bool {
		return m.GetFrame(0) != nil
	}, 2*time.Second, 5*time.Millisecond)

	// Stop production, drain whatever is buffered; the last frame must
	// keep the consumer supplied.
	src.silent.Store(true)
	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 20; i++ {
		assert.NotNil(t, m.GetFrame(0), "consumers never observe a frame gap once one frame arrived")
	}
}

func TestCaptureFrameReturnsIndependentCopy(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.DisconnectAll()

	src := &fakeSource{name: "/dev/video0"}
	require.True(t, m.Connect(0, src))
	require.Eventually(t, func() bool {
		return m.GetFrame(0) != nil
	}, 2*time.Second, 5*time.Millisecond)

	src.silent.Store(true)
	time.Sleep(50 * time.Millisecond)

	// Drain the buffer so both captures come from the cached last frame.
	for i := 0; i <= m.cfg.BufferCapacity; i++ {
		m.GetFrame(0)
	}

	a := m.CaptureFrame(0)
	b := m.CaptureFrame(0)
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.Equal(t, a.Seq, b.Seq, "both captures should be copies of the same cached frame")

	a.Data[0] = 0x00
	assert.Equal(t, byte(0xFF), b.Data[0], "mutating a captured frame must not touch engine buffers")
}

func TestIsConnectedFlipsAtThreshold(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.DisconnectAll()

	src := &fakeSource{name: "rtsp://10.0.0.9:8554/cam1"}
	require.True(t, m.Connect(0, src))
	assert.True(t, m.IsConnected(0))

	src.failing.Store(true)

	require.Eventually(t, func() bool {
		return !m.IsConnected(0)
	}, 2*time.Second, time.Millisecond, "IsConnected must flip false once the error count reaches the threshold")

	info, ok := m.StreamInfo(0)
	require.True(t, ok)
	assert.True(t, info.Connected, "raw connection state stays true; usability is the gate")
	assert.GreaterOrEqual(t, info.ErrorCount, 10)

	// A reconnect sequence must have been attempted within 2x the
	// reconnect delay of the threshold being crossed.
	require.Eventually(t, func() bool {
		return src.openCount() >= 2
	}, 2*m.cfg.ReconnectDelay+time.Second, time.Millisecond)

	// Recovery: reads succeed again after reconnection.
	src.failing.Store(false)
	require.Eventually(t, func() bool {
		return m.IsConnected(0)
	}, 2*time.Second, time.Millisecond)

	info, ok = m.StreamInfo(0)
	require.True(t, ok)
	assert.Equal(t, 0, info.ErrorCount, "any success resets the consecutive error count")
}

func TestNoCrossStreamInterference(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.DisconnectAll()

	healthy := &fakeSource{name: "rtsp://10.0.0.9:8554/cam1"}
	broken := &fakeSource{name: "rtsp://10.0.0.9:8554/cam2"}
	broken.failing.Store(true)

	require.True(t, m.Connect(0, healthy))
	require.True(t, m.Connect(1, broken))

	// Let stream 1 enter its reconnection storm.
	require.Eventually(t, func() bool {
		return !m.IsConnected(1) && broken.openCount() >= 2
	}, 3*time.Second, time.Millisecond)

	// Stream 0 must keep delivering fresh frames throughout.
	first := m.GetFrame(0)
	require.NotNil(t, first)
	require.Eventually(t, func() bool {
		f := m.GetFrame(0)
		return f != nil && f.Seq > first.Seq
	}, 2*time.Second, 5*time.Millisecond, "healthy stream must stay fresh through the other stream's reconnects")
	assert.True(t, m.IsConnected(0))
}

func TestDisconnectUnknownIsNoop(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.DisconnectAll()

	src := &fakeSource{name: "/dev/video0"}
	require.True(t, m.Connect(0, src))

	m.Disconnect(42)

	infos := m.AllStreamInfo()
	assert.Len(t, infos, 1)
	assert.Contains(t, infos, 0)
}

func TestConnectIsIdempotent(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.DisconnectAll()

	src := &fakeSource{name: "/dev/video0"}
	require.True(t, m.Connect(0, src))
	require.True(t, m.Connect(0, src))

	assert.Len(t, m.AllStreamInfo(), 1)
	assert.Equal(t, 2, src.openCount())
	assert.Equal(t, 1, src.liveConns(), "the first record's connection must be released before the second is created")
}

func TestConcurrentConnectLeavesOneWorker(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.DisconnectAll()

	src := &fakeSource{name: "/dev/video0"}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Connect(0, src)
		}()
	}
	wg.Wait()

	assert.Len(t, m.AllStreamInfo(), 1)
	assert.Equal(t, 1, src.liveConns(), "racing connects must not orphan a connection")
}

func TestDisconnectJoinTimeoutForceReleases(t *testing.T) {
	cfg := testConfig()
	cfg.JoinTimeout = 100 * time.Millisecond

	journal := &recordingJournal{}
	m := NewManager(cfg, journal)

	src := &stuckSource{name: "rtsp://10.0.0.9:8554/cam1"}
	require.True(t, m.Connect(0, src))

	// Let the worker enter its blocked read.
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	m.Disconnect(0)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, cfg.JoinTimeout, "the bounded join must be attempted first")
	assert.Less(t, elapsed, 400*time.Millisecond, "Disconnect must return soon after the join timeout")
	assert.True(t, src.released.Load(), "the handle must be force-released")
	assert.Empty(t, m.AllStreamInfo())
	assert.Contains(t, journal.events(), "join_timeout")
}

func TestDisconnectReleasesEverything(t *testing.T) {
	m := NewManager(testConfig(), nil)

	src := &fakeSource{name: "/dev/video0"}
	require.True(t, m.Connect(0, src))
	require.Eventually(t, func() bool {
		return m.GetFrame(0) != nil
	}, 2*time.Second, 5*time.Millisecond)

	m.Disconnect(0)

	assert.Equal(t, 0, src.liveConns(), "connection handle must be released")
	assert.Nil(t, m.GetFrame(0))
	assert.Empty(t, m.AllStreamInfo())

	// Double disconnect stays a no-op.
	m.Disconnect(0)
}

func TestDisconnectAllStopsEveryWorker(t *testing.T) {
	m := NewManager(testConfig(), nil)

	sources := []*fakeSource{
		{name: "/dev/video0"},
		{name: "/dev/video2"},
		{name: "/dev/video4"},
	}
	for i, src := range sources {
		require.True(t, m.Connect(i, src))
	}

	m.DisconnectAll()

	assert.Empty(t, m.AllStreamInfo())
	for i, src := range sources {
		assert.Equal(t, 0, src.liveConns(), "stream %d connection must be released", i)
	}
}

func TestStreamInfoFields(t *testing.T) {
	m := NewManager(testConfig(), nil)
	defer m.DisconnectAll()

	src := &fakeSource{name: "rtsp://192.168.1.100:8554/cam1"}
	require.True(t, m.Connect(3, src))
	require.Eventually(t, func() bool {
		info, ok := m.StreamInfo(3)
		return ok && info.FrameCount > 0
	}, 2*time.Second, 5*time.Millisecond)

	info, ok := m.StreamInfo(3)
	require.True(t, ok)
	assert.Equal(t, 3, info.ID)
	assert.True(t, info.Connected)
	assert.Equal(t, "rtsp://192.168.1.100:8554/cam1", info.Source)
	assert.Equal(t, "fake", info.Backend)
	assert.Equal(t, 0, info.ErrorCount)

	_, ok = m.StreamInfo(99)
	assert.False(t, ok)
}
