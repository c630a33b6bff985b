package source

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"os/exec"
)

// Device is a local V4L2 capture device. The primary backend asks the
// camera for MJPEG directly (cheap, most USB cameras support it); the
// fallback lets ffmpeg negotiate the native pixel format and re-encode.
type Device struct {
	Path   string
	Width  int
	Height int
	FPS    int
}

func (d Device) Describe() string {
	return d.Path
}

func (d Device) Open() (Conn, error) {
	conn, err := openFFmpeg("v4l2-mjpeg", d.args(true), d.Width, d.Height)
	if err == nil {
		return conn, nil
	}
	log.Printf("[Source] primary backend v4l2-mjpeg failed for %s: %v, trying v4l2-raw", d.Path, err)

	conn, err = openFFmpeg("v4l2-raw", d.args(false), d.Width, d.Height)
	if err != nil {
		return nil, fmt.Errorf("opening device %s: %w", d.Path, err)
	}
	return conn, nil
}

func (d Device) args(mjpeg bool) []string {
	args := []string{"-f", "v4l2"}
	if mjpeg {
		args = append(args, "-input_format", "mjpeg")
	}
	args = append(args,
		"-video_size", fmt.Sprintf("%dx%d", d.Width, d.Height),
		"-framerate", fmt.Sprintf("%d", d.FPS),
		"-i", d.Path,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	)
	return args
}

// DevicePath returns the V4L2 device node for an index.
func DevicePath(index int) string {
	return fmt.Sprintf("/dev/video%d", index)
}

// DeviceExists reports whether the device node exists and is readable.
func DeviceExists(path string) bool {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false
	}
	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	defer file.Close()
	return true
}

// CaptureStill grabs a single verification frame from a device. A device
// that opens but yields no readable frame is treated as unavailable.
func CaptureStill(path string, width, height int) ([]byte, error) {
	args := []string{
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-i", path,
		"-vframes", "1",
		"-f", "mjpeg",
		"-q:v", "2",
		"-",
	}

	cmd := exec.Command("ffmpeg", args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w (stderr: %s)", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("device %s produced no frame", path)
	}
	return stdout.Bytes(), nil
}
