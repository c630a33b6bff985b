package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/frame"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/journal"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/stream"
)

// Engine is the consumer-facing slice of the stream manager the server
// needs. Defined here so handlers can be tested against a fake.
type Engine interface {
	GetFrame(id int) *frame.Frame
	CaptureFrame(id int) *frame.Frame
	StreamInfo(id int) (stream.Info, bool)
	AllStreamInfo() map[int]stream.Info
	IsConnected(id int) bool
}

// EventStore lists recorded stream lifecycle events.
type EventStore interface {
	ListEvents(limit int) ([]journal.Event, error)
}

// Options configures the frame server.
type Options struct {
	// Mounts maps an MJPEG mount point (e.g. "/cam1") to a stream id.
	Mounts map[string]int
	// FPS paces MJPEG and WebSocket delivery. Defaults to 15.
	FPS int
	// OverlayLabel, when non-empty, stamps a timestamp overlay with this
	// prefix onto every served frame.
	OverlayLabel string
}

// Server exposes the stream engine over HTTP: per-camera MJPEG mounts,
// binary frames over WebSocket, JSON health, snapshots and the event
// journal.
type Server struct {
	engine Engine
	events EventStore
	opts   Options
}

// New creates a frame server. events may be nil.
func New(engine Engine, events EventStore, opts Options) *Server {
	if opts.FPS <= 0 {
		opts.FPS = 15
	}
	return &Server{engine: engine, events: events, opts: opts}
}

// Routes builds the HTTP mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/streams", s.handleStreams)
	mux.HandleFunc("/api/streams/", s.handleStream)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/ws/", s.handleWS)
	for mount, id := range s.opts.Mounts {
		mux.Handle(mount, s.mjpegHandler(id))
	}
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	infos := s.engine.AllStreamInfo()
	ids := make([]int, 0, len(infos))
	for id := range infos {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	list := make([]stream.Info, 0, len(ids))
	for _, id := range ids {
		list = append(list, infos[id])
	}
	writeJSON(w, list)
}

// handleStream serves /api/streams/{id} and /api/streams/{id}/snapshot.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/streams/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "stream id required", http.StatusBadRequest)
		return
	}

	id, err := strconv.Atoi(parts[0])
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid stream id %q", parts[0]), http.StatusBadRequest)
		return
	}

	if len(parts) == 2 && parts[1] == "snapshot" {
		s.serveSnapshot(w, id)
		return
	}
	if len(parts) > 1 {
		http.NotFound(w, r)
		return
	}

	info, ok := s.engine.StreamInfo(id)
	if !ok {
		http.Error(w, fmt.Sprintf("stream %d not found", id), http.StatusNotFound)
		return
	}
	writeJSON(w, info)
}

// serveSnapshot returns an independent JPEG copy of the latest frame.
func (s *Server) serveSnapshot(w http.ResponseWriter, id int) {
	f := s.engine.CaptureFrame(id)
	if f == nil {
		http.Error(w, "no frame available", http.StatusServiceUnavailable)
		return
	}

	data := f.Data
	if s.opts.OverlayLabel != "" {
		data = stampTimestamp(data, fmt.Sprintf("%s %d", s.opts.OverlayLabel, id), f.Timestamp)
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Write(data)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "event journal not enabled", http.StatusNotFound)
		return
	}
	events, err := s.events.ListEvents(100)
	if err != nil {
		log.Printf("[Server] Failed to list events: %v", err)
		http.Error(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []journal.Event{}
	}
	writeJSON(w, events)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Server] Failed to encode response: %v", err)
	}
}
