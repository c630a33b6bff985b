package device

import (
	"log"
	"time"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/health"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/source"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/stream"
)

// Default capture settings for USB cameras.
const (
	DefaultWidth      = 640
	DefaultHeight     = 480
	DefaultFPS        = 15
	DefaultMaxCameras = 3
)

// Settings holds the capture parameters applied to every local camera.
type Settings struct {
	Width      int
	Height     int
	FPS        int
	MaxCameras int
}

func (s Settings) withDefaults() Settings {
	if s.Width <= 0 {
		s.Width = DefaultWidth
	}
	if s.Height <= 0 {
		s.Height = DefaultHeight
	}
	if s.FPS <= 0 {
		s.FPS = DefaultFPS
	}
	if s.MaxCameras <= 0 {
		s.MaxCameras = DefaultMaxCameras
	}
	return s
}

// Manager is the source-side device manager: it discovers local capture
// devices, validates they actually produce frames, hands verified
// devices to the stream engine, and periodically re-validates health.
type Manager struct {
	streams  *stream.Manager
	settings Settings
}

// NewManager creates a device manager feeding the given stream engine.
func NewManager(streams *stream.Manager, settings Settings) *Manager {
	return &Manager{
		streams:  streams,
		settings: settings.withDefaults(),
	}
}

// Settings returns the capture settings in effect.
func (m *Manager) Settings() Settings {
	return m.settings
}

// Detect probes device nodes for available cameras and returns at most
// maxCount verified-readable device indices, in order. Twice as many
// indices are checked to allow for gaps in the node numbering. A device
// that opens but yields no readable frame is excluded.
func (m *Manager) Detect(maxCount int) []int {
	if maxCount <= 0 {
		maxCount = m.settings.MaxCameras
	}

	available := make([]int, 0, maxCount)
	for i := 0; i < maxCount*2; i++ {
		path := source.DevicePath(i)
		if !source.DeviceExists(path) {
			continue
		}
		if _, err := source.CaptureStill(path, m.settings.Width, m.settings.Height); err != nil {
			log.Printf("[DeviceManager] Device %s opens but yields no frame, skipping: %v", path, err)
			continue
		}
		log.Printf("[DeviceManager] Found camera at index %d", i)
		available = append(available, i)
		if len(available) >= maxCount {
			break
		}
	}

	log.Printf("[DeviceManager] Detected %d cameras: %v", len(available), available)
	return available
}

// Initialize connects camera index to the stream engine with the
// configured resolution and frame rate. Returns false when the device
// cannot be opened on either capture backend.
func (m *Manager) Initialize(index int) bool {
	src := source.Device{
		Path:   source.DevicePath(index),
		Width:  m.settings.Width,
		Height: m.settings.Height,
		FPS:    m.settings.FPS,
	}
	ok := m.streams.Connect(index, src)
	if ok {
		log.Printf("[DeviceManager] Initialized camera %d: %dx%d @ %d fps",
			index, m.settings.Width, m.settings.Height, m.settings.FPS)
	}
	return ok
}

// InitializeAll detects and initializes every available camera, mapping
// device index to initialization success.
func (m *Manager) InitializeAll() map[int]bool {
	detected := m.Detect(m.settings.MaxCameras)
	results := make(map[int]bool, len(detected))
	for _, idx := range detected {
		results[idx] = m.Initialize(idx)
	}
	return results
}

// Monitor re-validates camera health once per interval until stop is
// closed, logging any camera that is not healthy. Recovery itself is the
// ingestion workers' job; this loop is the operator-facing pulse.
func (m *Manager) Monitor(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for id, info := range m.streams.AllStreamInfo() {
				if info.State != health.StateHealthy {
					log.Printf("[DeviceManager] Camera %d status: %s (errors: %d)", id, info.State, info.ErrorCount)
					continue
				}
				log.Printf("[DeviceManager] Camera %d healthy: %d fps, %d frames", id, info.FPS, info.FrameCount)
			}
		}
	}
}
