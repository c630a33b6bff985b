package server

import (
	"fmt"
	"log"
	"net/http"
	"time"
)

// mjpegHandler serves a camera as multipart/x-mixed-replace. Each client
// pulls frames from the engine at the configured rate; a frame is only
// written when its sequence number advances, so idle streams do not
// resend the same image.
func (s *Server) mjpegHandler(id int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Connection", "close")

		log.Printf("[Server] MJPEG client connected for stream %d from %s", id, r.RemoteAddr)
		defer log.Printf("[Server] MJPEG client disconnected for stream %d (%s)", id, r.RemoteAddr)

		ticker := time.NewTicker(time.Second / time.Duration(s.opts.FPS))
		defer ticker.Stop()

		var lastSeq uint64
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				f := s.engine.GetFrame(id)
				if f == nil || f.Seq == lastSeq {
					continue
				}
				lastSeq = f.Seq

				data := f.Data
				if s.opts.OverlayLabel != "" {
					data = stampTimestamp(data, fmt.Sprintf("%s %d", s.opts.OverlayLabel, id), f.Timestamp)
				}

				if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(data)); err != nil {
					return
				}
				if _, err := w.Write(data); err != nil {
					return
				}
				fmt.Fprintf(w, "\r\n")
				flusher.Flush()
			}
		}
	})
}
