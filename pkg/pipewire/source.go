package pipewire

import (
	"time"

	"github.com/vpinleaders/vpin-streamer/pkg/capture"
	"github.com/vpinleaders/vpin-streamer/pkg/portal"
)

// Source adapts a negotiated portal stream into a capture.Source. It is the
// push variant: frames arrive from the pipeline thread through the bridge,
// already throttled to the target fps.
type Source struct {
	adapter *Adapter
}

// NewSource starts a capture pipeline for the negotiated stream. On failure
// the adapter (and the descriptor it owns) is torn down before returning.
func NewSource(stream *portal.Stream, fps int) (*Source, error) {
	adapter := NewAdapter(stream.FD, stream.NodeID, fps)
	if err := adapter.Start(); err != nil {
		adapter.Stop()
		return nil, err
	}
	return &Source{adapter: adapter}, nil
}

// NextFrame waits up to timeout for the bridge to yield a frame. A nil frame
// means the pipeline produced nothing in time (compositor paused, dialog
// still open); callers just try again.
func (s *Source) NextFrame(timeout time.Duration) (*capture.Frame, error) {
	return s.adapter.Frames().Next(timeout), nil
}

// SelfPaced reports true: videorate in the pipeline already throttles to the
// configured fps, so the streaming loop must not sleep on top of it.
func (s *Source) SelfPaced() bool {
	return true
}

// Close stops the pipeline. Idempotent.
func (s *Source) Close() error {
	s.adapter.Stop()
	return nil
}
