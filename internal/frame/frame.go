package frame

import "time"

// Frame is one decoded video frame as delivered by a capture backend.
// Data holds a complete JPEG image. Frames handed out by the stream
// manager may share Data with internal buffers; callers that need to
// mutate or persist a frame must use Clone.
type Frame struct {
	StreamID  int
	Seq       uint64
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// Clone returns an independent deep copy of the frame.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	c := *f
	c.Data = data
	return &c
}
