package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/stream"
)

// Config is the file-backed configuration consumed by both binaries.
// The engine only consumes these values; nothing here is written back.
type Config struct {
	Cameras CameraConfig   `json:"cameras"`
	Engine  EngineConfig   `json:"engine"`
	Server  ServerConfig   `json:"server"`
	Journal JournalConfig  `json:"journal"`
	Monitor MonitorConfig  `json:"monitor"`
	Streams []RemoteStream `json:"streams"`
}

// CameraConfig configures local capture devices (pi-server side).
type CameraConfig struct {
	Resolution string `json:"resolution"`
	FPS        int    `json:"fps"`
	MaxCameras int    `json:"max_cameras"`
}

// EngineConfig holds the stream engine tunables. Durations are
// milliseconds in the file.
type EngineConfig struct {
	BufferCapacity   int `json:"buffer_capacity"`
	ErrorThreshold   int `json:"error_threshold"`
	ReadTimeoutMS    int `json:"read_timeout_ms"`
	RetrySleepMS     int `json:"retry_sleep_ms"`
	ReconnectDelayMS int `json:"reconnect_delay_ms"`
	JoinTimeoutMS    int `json:"join_timeout_ms"`
}

// ServerConfig configures the HTTP frame server.
type ServerConfig struct {
	Host        string   `json:"host"`
	HTTPPort    int      `json:"http_port"`
	MountPoints []string `json:"mount_points"`
}

// JournalConfig locates the stream event journal.
type JournalConfig struct {
	Path string `json:"path"`
}

// MonitorConfig paces the health re-validation loop.
type MonitorConfig struct {
	IntervalSec int `json:"interval_sec"`
}

// RemoteStream describes one network stream (base-station side).
type RemoteStream struct {
	ID      int    `json:"id"`
	Address string `json:"address"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
	FPS     int    `json:"fps"`
}

// Default returns the built-in configuration, matching a three-camera
// rover setup.
func Default() Config {
	return Config{
		Cameras: CameraConfig{
			Resolution: "640x480",
			FPS:        15,
			MaxCameras: 3,
		},
		Engine: EngineConfig{
			BufferCapacity:   5,
			ErrorThreshold:   10,
			ReadTimeoutMS:    500,
			RetrySleepMS:     100,
			ReconnectDelayMS: 1000,
			JoinTimeoutMS:    2000,
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			HTTPPort:    8080,
			MountPoints: []string{"/cam1", "/cam2", "/cam3"},
		},
		Journal: JournalConfig{Path: "stream_events.db"},
		Monitor: MonitorConfig{IntervalSec: 30},
	}
}

// Load reads configuration from path. The defaults are always returned
// alongside any error; callers tell a missing file (err matches
// fs.ErrNotExist, safe to run on defaults) from a present but invalid
// one (anything else, should abort).
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("failed to load config %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Validate rejects non-positive tunables.
func (c Config) Validate() error {
	if _, _, err := ParseResolution(c.Cameras.Resolution); err != nil {
		return err
	}
	positives := map[string]int{
		"cameras.fps":               c.Cameras.FPS,
		"cameras.max_cameras":       c.Cameras.MaxCameras,
		"engine.buffer_capacity":    c.Engine.BufferCapacity,
		"engine.error_threshold":    c.Engine.ErrorThreshold,
		"engine.read_timeout_ms":    c.Engine.ReadTimeoutMS,
		"engine.retry_sleep_ms":     c.Engine.RetrySleepMS,
		"engine.reconnect_delay_ms": c.Engine.ReconnectDelayMS,
		"engine.join_timeout_ms":    c.Engine.JoinTimeoutMS,
		"server.http_port":          c.Server.HTTPPort,
		"monitor.interval_sec":      c.Monitor.IntervalSec,
	}
	for name, v := range positives {
		if v <= 0 {
			return fmt.Errorf("config: %s must be positive, got %d", name, v)
		}
	}
	for _, rs := range c.Streams {
		if rs.Address == "" {
			return fmt.Errorf("config: streams[%d].address is required", rs.ID)
		}
		if rs.Port <= 0 {
			return fmt.Errorf("config: streams[%d].port must be positive, got %d", rs.ID, rs.Port)
		}
	}
	return nil
}

// StreamConfig converts the engine section into engine tunables.
func (c Config) StreamConfig() stream.Config {
	return stream.Config{
		BufferCapacity: c.Engine.BufferCapacity,
		ErrorThreshold: c.Engine.ErrorThreshold,
		ReadTimeout:    time.Duration(c.Engine.ReadTimeoutMS) * time.Millisecond,
		RetrySleep:     time.Duration(c.Engine.RetrySleepMS) * time.Millisecond,
		ReconnectDelay: time.Duration(c.Engine.ReconnectDelayMS) * time.Millisecond,
		JoinTimeout:    time.Duration(c.Engine.JoinTimeoutMS) * time.Millisecond,
	}
}

// MonitorInterval returns the health poll interval.
func (c Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalSec) * time.Second
}

// ParseResolution splits a "widthxheight" string.
func ParseResolution(s string) (width, height int, err error) {
	parts := strings.Split(s, "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("config: invalid resolution %q (want WIDTHxHEIGHT)", s)
	}
	width, err = strconv.Atoi(parts[0])
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("config: invalid resolution width %q", parts[0])
	}
	height, err = strconv.Atoi(parts[1])
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("config: invalid resolution height %q", parts[1])
	}
	return width, height, nil
}
