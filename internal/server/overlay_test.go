package server

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestStampTimestamp(t *testing.T) {
	original := encodeTestJPEG(t, 160, 120)
	ts := time.Date(2026, 8, 23, 14, 30, 0, 0, time.UTC)

	stamped := stampTimestamp(original, "CAM 0", ts)
	require.NotEmpty(t, stamped)
	assert.NotEqual(t, original, stamped, "stamped frame must differ from the input")

	img, err := jpeg.Decode(bytes.NewReader(stamped))
	require.NoError(t, err, "stamped output must still be a valid JPEG")
	assert.Equal(t, image.Rect(0, 0, 160, 120), img.Bounds())
}

func TestStampTimestampBadInputPassesThrough(t *testing.T) {
	garbage := []byte{0x00, 0x01, 0x02, 0x03}
	got := stampTimestamp(garbage, "CAM 0", time.Now())
	assert.Equal(t, garbage, got, "undecodable frames are served as-is")
}

func TestStampTimestampTinyImage(t *testing.T) {
	// The label does not fit; stamping must still produce a valid JPEG.
	original := encodeTestJPEG(t, 8, 8)
	stamped := stampTimestamp(original, "CAM 0", time.Now())

	_, err := jpeg.Decode(bytes.NewReader(stamped))
	assert.NoError(t, err)
}
