package source

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"time"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/frame"
)

// ffmpegConn runs one ffmpeg process emitting an MJPEG stream on stdout
// and hands out complete JPEG frames. A reader goroutine owns the pipe;
// frames flow through a single-slot mailbox so a slow caller only ever
// sees the newest frame the decoder produced.
type ffmpegConn struct {
	backend string
	width   int
	height  int

	cmd    *exec.Cmd
	frames chan *frame.Frame

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// openFFmpeg starts ffmpeg with the given arguments and begins reading
// frames. Fails if the process cannot be started.
func openFFmpeg(backend string, args []string, width, height int) (*ffmpegConn, error) {
	cmd := exec.Command("ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	// Consume stderr silently
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	c := &ffmpegConn{
		backend: backend,
		width:   width,
		height:  height,
		cmd:     cmd,
		frames:  make(chan *frame.Frame, 1),
		done:    make(chan struct{}),
	}
	go c.readLoop(stdout)
	return c, nil
}

func (c *ffmpegConn) readLoop(stdout io.Reader) {
	defer close(c.done)

	frameBuffer := make([]byte, 0, 1024*1024)
	chunk := make([]byte, 8192)

	for {
		n, err := stdout.Read(chunk)
		if err != nil {
			if err != io.EOF {
				log.Printf("[Source] ffmpeg read error (%s): %v", c.backend, err)
			}
			return
		}

		frameBuffer = append(frameBuffer, chunk[:n]...)

		// Extract complete JPEG frames
		for {
			data := extractJPEGFrame(&frameBuffer)
			if data == nil {
				break
			}
			f := &frame.Frame{
				Data:      data,
				Width:     c.width,
				Height:    c.height,
				Timestamp: time.Now(),
			}
			// Single-slot mailbox: replace a stale frame rather than block.
			select {
			case c.frames <- f:
			default:
				select {
				case <-c.frames:
				default:
				}
				select {
				case c.frames <- f:
				default:
				}
			}
		}
	}
}

func (c *ffmpegConn) Read(timeout time.Duration) (*frame.Frame, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		return nil, fmt.Errorf("source: ffmpeg (%s) exited", c.backend)
	case <-timer.C:
		return nil, ErrReadTimeout
	}
}

func (c *ffmpegConn) Backend() string {
	return c.backend
}

func (c *ffmpegConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	// Reap the process; readLoop exits when the pipe closes.
	err := c.cmd.Wait()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		log.Printf("[Source] ffmpeg (%s) reader did not exit after kill", c.backend)
	}
	if err != nil {
		// Killed processes always report an error; not worth surfacing.
		return nil
	}
	return nil
}

// extractJPEGFrame extracts a complete JPEG frame from buffer
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	// Find JPEG start marker (FFD8)
	startIdx := -1
	for i := 0; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD8 {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return nil
	}

	// Find JPEG end marker (FFD9)
	endIdx := -1
	for i := startIdx + 2; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD9 {
			endIdx = i + 2
			break
		}
	}
	if endIdx == -1 {
		return nil
	}

	// Extract frame
	data := make([]byte, endIdx-startIdx)
	copy(data, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]

	return data
}
