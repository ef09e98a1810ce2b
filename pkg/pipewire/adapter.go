// Package pipewire binds a GStreamer capture pipeline to a portal-negotiated
// PipeWire descriptor and surfaces its frames through a bounded latest-wins
// bridge.
package pipewire

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/tinyzimmer/go-glib/glib"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"golang.org/x/sys/unix"

	"github.com/vpinleaders/vpin-streamer/pkg/capture"
)

// ErrPipelineInit is returned when the native pipeline cannot be constructed
// or fails to start.
var ErrPipelineInit = errors.New("capture pipeline init failed")

// Adapter owns one GStreamer pipeline sampling a PipeWire node. A stopped
// adapter cannot be restarted; create a new one.
type Adapter struct {
	fd     int
	nodeID uint32
	fps    int

	bridge   *Bridge
	pipeline *gst.Pipeline
	loop     *glib.MainLoop

	running  atomic.Bool
	stopOnce sync.Once
	log      *logrus.Entry
}

// NewAdapter prepares an adapter for the given descriptor and node. The
// adapter takes ownership of fd and closes it on Stop.
func NewAdapter(fd int, nodeID uint32, fps int) *Adapter {
	if fps <= 0 {
		fps = 10
	}
	return &Adapter{
		fd:     fd,
		nodeID: nodeID,
		fps:    fps,
		bridge: NewBridge(),
		log: logrus.WithFields(logrus.Fields{
			"module": "pipewire",
			"node":   nodeID,
		}),
	}
}

// pipelineDesc builds the capture pipeline. The leaky queue and the drop
// appsink keep the native side from ever backing up; videorate throttles to
// the target fps so the consumer needs no pacing of its own.
func (a *Adapter) pipelineDesc() string {
	return fmt.Sprintf(
		"pipewiresrc fd=%d path=%d do-timestamp=true ! "+
			"queue leaky=downstream max-size-buffers=1 ! "+
			"videoconvert ! videorate ! "+
			"video/x-raw,format=RGBA,framerate=%d/1 ! "+
			"appsink name=sink sync=false max-buffers=1 drop=true",
		a.fd, a.nodeID, a.fps)
}

// Start builds the pipeline, installs the sample callback, and spins up a
// GLib main loop pinned to its own OS thread. GStreamer needs a long-lived
// event loop separate from the consumer's scheduling.
func (a *Adapter) Start() error {
	gst.Init(nil)

	pipeline, err := gst.NewPipelineFromString(a.pipelineDesc())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPipelineInit, err)
	}
	a.pipeline = pipeline

	elem, err := pipeline.GetElementByName("sink")
	if err != nil || elem == nil {
		return fmt.Errorf("%w: appsink not found in pipeline", ErrPipelineInit)
	}
	sink := app.SinkFromElement(elem)
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: a.onNewSample,
	})

	bus := pipeline.GetPipelineBus()
	bus.AddWatch(func(msg *gst.Message) bool {
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			a.log.WithField("debug", gerr.DebugString()).Errorf("pipeline error: %s", gerr.Error())
			a.running.Store(false)
		case gst.MessageEOS:
			a.log.Info("pipeline end of stream")
			a.running.Store(false)
		}
		return true
	})

	a.running.Store(true)
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		a.running.Store(false)
		return fmt.Errorf("%w: set playing: %v", ErrPipelineInit, err)
	}

	a.loop = glib.NewMainLoop(glib.MainContextDefault(), false)
	go func() {
		runtime.LockOSThread()
		a.loop.Run()
	}()

	a.log.WithField("fps", a.fps).Info("capture pipeline started")
	return nil
}

// onNewSample runs on the pipeline thread. It must stay non-blocking and
// allocation-light: read geometry from the caps, copy the mapped bytes into
// an owned buffer, unmap, and hand off. Pipeline memory is never retained
// past the callback's return.
func (a *Adapter) onNewSample(sink *app.Sink) gst.FlowReturn {
	if !a.running.Load() {
		// Stop was requested; end the stream instead of queueing more.
		return gst.FlowEOS
	}

	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	width, height := capsSize(sample.GetCaps())
	if width <= 0 || height <= 0 {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return gst.FlowOK
	}
	data := mapInfo.Bytes()
	pix := make([]byte, len(data))
	copy(pix, data)
	buffer.Unmap()

	a.bridge.Push(&capture.Frame{
		Width:  width,
		Height: height,
		Stride: width * 4,
		Pix:    pix,
	})
	return gst.FlowOK
}

// Frames exposes the bridge feeding the consumer.
func (a *Adapter) Frames() *Bridge {
	return a.bridge
}

// Stop tears the adapter down: running flag first (so the next callback
// short-circuits), then the pipeline, then the worker loop, then the
// descriptor. That order avoids a buffer callback firing against an
// already-dead pipeline. Idempotent and safe after a partially failed Start.
func (a *Adapter) Stop() {
	a.stopOnce.Do(func() {
		a.running.Store(false)
		if a.pipeline != nil {
			if err := a.pipeline.SetState(gst.StateNull); err != nil {
				a.log.WithError(err).Warn("pipeline teardown failed")
			}
		}
		if a.loop != nil {
			a.loop.Quit()
		}
		a.bridge.Close()
		if a.fd >= 0 {
			unix.Close(a.fd)
			a.fd = -1
		}
		a.log.Info("capture pipeline stopped")
	})
}

func capsSize(caps *gst.Caps) (int, int) {
	if caps == nil {
		return 0, 0
	}
	s := caps.GetStructureAt(0)
	if s == nil {
		return 0, 0
	}
	w, err := s.GetValue("width")
	if err != nil {
		return 0, 0
	}
	h, err := s.GetValue("height")
	if err != nil {
		return 0, 0
	}
	width, _ := w.(int)
	height, _ := h.(int)
	return width, height
}
