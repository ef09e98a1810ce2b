package pipewire

import (
	"sync"
	"time"

	"github.com/vpinleaders/vpin-streamer/pkg/capture"
)

// bridgeCapacity bounds how many frames may sit between the pipeline thread
// and the consumer. Two is enough for one in flight plus one queued; anything
// older is stale for a live stream.
const bridgeCapacity = 2

// Bridge is the latest-wins queue between the GStreamer callback thread and
// the streaming loop. The producer never blocks: when the queue is full the
// oldest frame is evicted to make room, so a stalled consumer always resumes
// with the newest frames, in arrival order.
type Bridge struct {
	mu     sync.Mutex
	frames chan *capture.Frame
	closed bool
}

// NewBridge creates an empty bridge.
func NewBridge() *Bridge {
	return &Bridge{frames: make(chan *capture.Frame, bridgeCapacity)}
}

// Push inserts a frame, evicting the oldest entry if the queue is full.
// Safe to call from the pipeline thread; returns immediately. Frames pushed
// after Close are dropped.
func (b *Bridge) Push(f *capture.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for {
		select {
		case b.frames <- f:
			return
		default:
		}
		// Full: drop the oldest and retry. The consumer may have drained
		// concurrently, hence the loop.
		select {
		case <-b.frames:
		default:
		}
	}
}

// Next waits up to timeout for a frame. Returns nil on timeout or after
// Close; a nil frame is a soft condition, not an error.
func (b *Bridge) Next(timeout time.Duration) *capture.Frame {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f, ok := <-b.frames:
		if !ok {
			return nil
		}
		return f
	case <-timer.C:
		return nil
	}
}

// Len reports how many frames are currently queued.
func (b *Bridge) Len() int {
	return len(b.frames)
}

// Close shuts the bridge. Idempotent. Queued frames remain drainable.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.frames)
	}
}
