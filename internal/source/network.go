package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/frame"
)

// Network is a remote encoded stream identified by address, port and
// mount path. The manager does not interpret protocol internals; the
// decode backend owns those. For RTSP the primary backend transports
// over TCP and the fallback retries over UDP (some embedded servers only
// speak one of the two). HTTP still-image endpoints are polled directly,
// with ffmpeg demuxing as the fallback.
type Network struct {
	Address string
	Port    int
	Path    string
	Width   int
	Height  int
	FPS     int
}

// URL builds the connection target from the stored parameters.
func (n Network) URL() string {
	path := n.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if strings.HasPrefix(n.Address, "http://") || strings.HasPrefix(n.Address, "https://") {
		return fmt.Sprintf("%s:%d%s", n.Address, n.Port, path)
	}
	return fmt.Sprintf("rtsp://%s:%d%s", n.Address, n.Port, path)
}

func (n Network) Describe() string {
	return n.URL()
}

func (n Network) Open() (Conn, error) {
	url := n.URL()

	if isHTTPImageEndpoint(url) {
		return &httpPollConn{
			url:      url,
			interval: pollInterval(n.FPS),
			client:   &http.Client{Timeout: 10 * time.Second},
			width:    n.Width,
			height:   n.Height,
		}, nil
	}

	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return openFFmpeg("http-demux", n.httpArgs(url), n.Width, n.Height)
	}

	conn, err := openFFmpeg("rtsp-tcp", n.rtspArgs(url, "tcp"), n.Width, n.Height)
	if err == nil {
		return conn, nil
	}
	log.Printf("[Source] primary backend rtsp-tcp failed for %s: %v, trying rtsp-udp", url, err)

	conn, err = openFFmpeg("rtsp-udp", n.rtspArgs(url, "udp"), n.Width, n.Height)
	if err != nil {
		return nil, fmt.Errorf("opening stream %s: %w", url, err)
	}
	return conn, nil
}

func (n Network) rtspArgs(url, transport string) []string {
	return []string{
		"-rtsp_transport", transport,
		"-i", url,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", fmt.Sprintf("%d", n.FPS),
		"-q:v", "5",
		"-",
	}
}

func (n Network) httpArgs(url string) []string {
	return []string{
		"-i", url,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-r", fmt.Sprintf("%d", n.FPS),
		"-q:v", "5",
		"-",
	}
}

// isHTTPImageEndpoint checks if the target serves single JPEG images
// rather than a continuous stream.
func isHTTPImageEndpoint(url string) bool {
	return (strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")) &&
		(strings.Contains(url, ".jpg") || strings.Contains(url, ".jpeg") || strings.Contains(url, "image"))
}

func pollInterval(fps int) time.Duration {
	if fps <= 0 {
		fps = 1
	}
	interval := time.Second / time.Duration(fps)
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return interval
}

// httpPollConn fetches one JPEG per Read from a still-image endpoint,
// pacing requests so the endpoint is not hammered faster than the
// configured rate.
type httpPollConn struct {
	url      string
	interval time.Duration
	client   *http.Client
	width    int
	height   int

	mu       sync.Mutex
	closed   bool
	lastPoll time.Time
}

func (c *httpPollConn) Read(timeout time.Duration) (*frame.Frame, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	wait := c.interval - time.Since(c.lastPoll)
	c.mu.Unlock()

	// The pacing sleep and the request share the caller's timeout budget.
	deadline := time.Now().Add(timeout)
	if wait > 0 {
		if wait > timeout {
			wait = timeout
		}
		time.Sleep(wait)
	}

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", c.url, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrReadTimeout
		}
		return nil, fmt.Errorf("fetching %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", c.url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrReadTimeout
		}
		return nil, fmt.Errorf("reading %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.lastPoll = time.Now()
	c.mu.Unlock()

	return &frame.Frame{
		Data:      data,
		Width:     c.width,
		Height:    c.height,
		Timestamp: time.Now(),
	}, nil
}

func (c *httpPollConn) Backend() string {
	return "http-poll"
}

func (c *httpPollConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
