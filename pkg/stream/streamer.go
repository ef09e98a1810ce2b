// Package stream implements the platform-agnostic delivery loop: take frames
// from a capture source, downscale, JPEG-encode, and ship them over a
// persistent websocket, reconnecting forever on failure.
package stream

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/vpinleaders/vpin-streamer/pkg/capture"
)

const (
	// frameWait bounds how long one iteration waits on a push source
	// before treating the gap as a soft stall and trying again.
	frameWait = 3 * time.Second

	// statsInterval is the wall-clock cadence of throughput lines,
	// independent of frame cadence.
	statsInterval = 5 * time.Second
)

// Config parameterizes one streamer.
type Config struct {
	URL       string
	FPS       int
	Quality   int
	MaxWidth  int
	MaxHeight int
}

// Streamer drives the capture → resize → encode → send loop against a
// single ingest endpoint, surviving any number of transport failures.
type Streamer struct {
	cfg    Config
	src    capture.Source
	dialer *websocket.Dialer
	log    *logrus.Entry

	// Policy controls the reconnect delay; tests swap it for a shorter one.
	Policy ReconnectPolicy
}

// New creates a streamer for the given source and configuration.
func New(src capture.Source, cfg Config) *Streamer {
	return &Streamer{
		cfg:    cfg,
		src:    src,
		dialer: websocket.DefaultDialer,
		Policy: DefaultReconnectPolicy,
		log:    logrus.WithField("module", "stream"),
	}
}

// Run connects and streams until the context is cancelled. Connect and send
// failures never terminate the loop; each one just costs the policy delay.
func (s *Streamer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.WithError(err).Warn("ingest connect failed, retrying")
			if werr := s.Policy.Wait(ctx); werr != nil {
				return werr
			}
			continue
		}

		err = s.runSession(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.WithError(err).Warn("stream session ended, reconnecting")
		if werr := s.Policy.Wait(ctx); werr != nil {
			return werr
		}
	}
}

// session is one connected socket lifetime. The frame counter starts fresh
// with every connection.
type session struct {
	id   string
	conn *websocket.Conn
	sent atomic.Uint64

	mu     sync.Mutex
	width  int
	height int

	closed    chan struct{}
	closeOnce sync.Once
}

func (sess *session) setResolution(w, h int) {
	sess.mu.Lock()
	sess.width, sess.height = w, h
	sess.mu.Unlock()
}

func (sess *session) resolution() (int, int) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.width, sess.height
}

// discardReads drains inbound messages so control frames are processed and
// server-side closure surfaces promptly instead of on the next write.
func (sess *session) discardReads() {
	for {
		if _, _, err := sess.conn.ReadMessage(); err != nil {
			sess.closeOnce.Do(func() { close(sess.closed) })
			return
		}
	}
}

func (s *Streamer) runSession(ctx context.Context, conn *websocket.Conn) error {
	sess := &session{
		id:     uuid.NewString(),
		conn:   conn,
		closed: make(chan struct{}),
	}
	log := s.log.WithField("session", sess.id)
	log.Info("connected to ingest, streaming")

	go sess.discardReads()

	statsDone := make(chan struct{})
	defer close(statsDone)
	go s.reportStats(sess, log, statsDone)

	frameInterval := time.Second / time.Duration(max(1, s.cfg.FPS))
	var buf bytes.Buffer

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sess.closed:
			return fmt.Errorf("connection closed by server")
		default:
		}

		start := time.Now()

		frame, err := s.src.NextFrame(frameWait)
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		if frame == nil {
			// Soft stall (dialog still open, compositor paused). Keep the
			// connection and try again.
			log.Debug("no frame within deadline")
			continue
		}

		img := Downscale(frame.Image(), s.cfg.MaxWidth, s.cfg.MaxHeight)
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.cfg.Quality}); err != nil {
			log.WithError(err).Warn("jpeg encode failed, skipping frame")
			continue
		}

		if err := sess.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		sess.sent.Add(1)
		sess.setResolution(img.Bounds().Dx(), img.Bounds().Dy())

		// Pull sources have no pipeline throttling them; sleep out the
		// remainder of the frame interval, recomputed from wall-clock time.
		if !s.src.SelfPaced() {
			if d := frameInterval - time.Since(start); d > 0 {
				timer := time.NewTimer(d)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				}
			}
		}
	}
}

// reportStats emits one advisory throughput line per statsInterval of
// wall-clock time, whether or not frames are flowing.
func (s *Streamer) reportStats(sess *session, log *logrus.Entry, done <-chan struct{}) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w, h := sess.resolution()
			log.WithFields(logrus.Fields{
				"sent":       sess.sent.Load(),
				"resolution": fmt.Sprintf("%dx%d", w, h),
				"fps_target": s.cfg.FPS,
				"quality":    s.cfg.Quality,
			}).Info("streaming stats")
		case <-done:
			return
		}
	}
}
