package capture

import (
	"image"
	"time"
)

// Frame is one raw captured image in RGBA byte order. Pix is owned by the
// frame; producers must copy out of any transient buffer before handing a
// frame over.
type Frame struct {
	Width  int
	Height int
	Stride int
	Pix    []byte
}

// Image wraps the frame as an *image.RGBA without copying pixel data.
func (f *Frame) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Stride,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// Source yields raw captured frames. Two kinds exist: push sources backed by
// a native pipeline (portal/PipeWire) and pull sources that grab the screen
// synchronously on each call. Callers do not need to know which is in effect.
type Source interface {
	// NextFrame returns the next available frame. A nil frame with a nil
	// error means no frame arrived within the timeout; that is not fatal
	// and callers should simply try again. Pull sources capture
	// synchronously and ignore the timeout.
	NextFrame(timeout time.Duration) (*Frame, error)

	// SelfPaced reports whether the source already throttles frame
	// production to its configured rate. The streaming loop paces
	// non-self-paced sources itself.
	SelfPaced() bool

	// Close releases capture resources. Idempotent.
	Close() error
}
