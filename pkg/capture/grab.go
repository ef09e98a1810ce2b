package capture

import (
	"fmt"
	"image"
	"time"

	"github.com/kbinani/screenshot"
)

// DirectGrab captures a fixed screen region synchronously on each call.
// It is used on platforms where the process may read the screen without
// compositor mediation, so there is no negotiation and no background thread.
type DirectGrab struct {
	display int
	bounds  image.Rectangle
	closed  bool
}

// NewDirectGrab creates a pull source for the given display index. The
// monitor geometry is captured once here and reused for every grab.
func NewDirectGrab(display int) (*DirectGrab, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("direct grab: no active displays")
	}
	if display < 0 || display >= n {
		return nil, fmt.Errorf("direct grab: display %d out of range (have %d)", display, n)
	}
	return &DirectGrab{
		display: display,
		bounds:  screenshot.GetDisplayBounds(display),
	}, nil
}

// Bounds returns the captured monitor geometry.
func (g *DirectGrab) Bounds() image.Rectangle {
	return g.bounds
}

// NextFrame grabs the screen region. The timeout is ignored; the grab is
// synchronous.
func (g *DirectGrab) NextFrame(_ time.Duration) (*Frame, error) {
	if g.closed {
		return nil, fmt.Errorf("direct grab: source closed")
	}
	img, err := screenshot.CaptureRect(g.bounds)
	if err != nil {
		return nil, fmt.Errorf("direct grab: %w", err)
	}
	return &Frame{
		Width:  img.Rect.Dx(),
		Height: img.Rect.Dy(),
		Stride: img.Stride,
		Pix:    img.Pix,
	}, nil
}

// SelfPaced reports false; the streaming loop rate-limits direct grabs.
func (g *DirectGrab) SelfPaced() bool {
	return false
}

// Close marks the source closed. There are no OS resources to release.
func (g *DirectGrab) Close() error {
	g.closed = true
	return nil
}
