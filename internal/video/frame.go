package video

import (
	"fmt"
	"time"
)

// BytesPerPixel is the size of one packed BGR24 pixel
const BytesPerPixel = 3

// Frame represents a single decoded video frame
type Frame struct {
	Seq       uint64    // Monotonic sequence number assigned by the ingestor
	Timestamp time.Time // Capture time
	Width     int
	Height    int
	Data      []byte // Packed BGR24, row-major, Width*Height*3 bytes
}

// FrameSize returns the byte length of a BGR24 frame of the given size
func FrameSize(width, height int) int {
	return width * height * BytesPerPixel
}

// NewFrame allocates a black frame
func NewFrame(width, height int) *Frame {
	return &Frame{
		Timestamp: time.Now(),
		Width:     width,
		Height:    height,
		Data:      make([]byte, FrameSize(width, height)),
	}
}

// Validate checks that the pixel buffer matches the declared size
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if want := FrameSize(f.Width, f.Height); len(f.Data) != want {
		return fmt.Errorf("frame data is %d bytes, want %d for %dx%d", len(f.Data), want, f.Width, f.Height)
	}
	return nil
}

// Clone returns a deep copy of the frame
func (f *Frame) Clone() *Frame {
	c := *f
	c.Data = make([]byte, len(f.Data))
	copy(c.Data, f.Data)
	return &c
}

// WithData returns a new frame with the same metadata and the given pixels
func (f *Frame) WithData(width, height int, data []byte) *Frame {
	return &Frame{
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
		Width:     width,
		Height:    height,
		Data:      data,
	}
}
