// Package portal negotiates screen-share access with the desktop's
// xdg-desktop-portal ScreenCast service over the session bus.
//
// Every portal call follows the same shape: the method returns immediately
// with a request object path, and the real result arrives later as a
// Response signal on that path. The client correlates signals to callers
// through a requestRegistry and exposes the whole dance as one blocking
// Negotiate call.
package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

const (
	portalDest      = "org.freedesktop.portal.Desktop"
	desktopPath     = dbus.ObjectPath("/org/freedesktop/portal/desktop")
	screenCastIface = "org.freedesktop.portal.ScreenCast"
	requestIface    = "org.freedesktop.portal.Request"
	sessionIface    = "org.freedesktop.portal.Session"

	responseSignal = requestIface + ".Response"
)

// stepTimeouts holds the per-step negotiation deadlines. SelectSources and
// Start are long because a human has to act on the permission dialog.
type stepTimeouts struct {
	CreateSession      time.Duration
	SelectSources      time.Duration
	Start              time.Duration
	OpenPipeWireRemote time.Duration
}

var defaultStepTimeouts = stepTimeouts{
	CreateSession:      30 * time.Second,
	SelectSources:      60 * time.Second,
	Start:              90 * time.Second,
	OpenPipeWireRemote: 45 * time.Second,
}

// busConn is the slice of *dbus.Conn the client uses. Tests substitute a
// scripted fake.
type busConn interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	AddMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	SupportsUnixFDs() bool
	Close() error
}

// Stream is the outcome of a successful negotiation: a granted session, the
// PipeWire node to attach to, the geometry the compositor reported for it,
// and the file descriptor for the PipeWire socket. Ownership of FD passes to
// whoever binds the capture pipeline.
type Stream struct {
	SessionHandle dbus.ObjectPath
	NodeID        uint32
	Width         int
	Height        int
	FramerateNum  uint32 // zero when the compositor did not report a rate
	FramerateDen  uint32
	FD            int
}

// Client talks to the ScreenCast portal. One negotiation per client; the
// session dies with the bus connection.
type Client struct {
	conn     busConn
	fdOK     bool
	requests *requestRegistry
	signals  chan *dbus.Signal
	timeouts stepTimeouts
	log      *logrus.Entry
}

// Connect opens a session bus connection and subscribes to portal Response
// signals. Whether the connection negotiated unix fd passing is checked here
// once and remembered.
func Connect() (*Client, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("session bus: %w", err)
	}
	return newClient(conn)
}

func newClient(conn busConn) (*Client, error) {
	c := &Client{
		conn:     conn,
		fdOK:     conn.SupportsUnixFDs(),
		requests: newRequestRegistry(),
		signals:  make(chan *dbus.Signal, 16),
		timeouts: defaultStepTimeouts,
		log:      logrus.WithField("module", "portal"),
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to portal responses: %w", err)
	}
	conn.Signal(c.signals)
	go c.dispatch()
	return c, nil
}

// dispatch is the single shared signal handler: it decodes each Response
// signal and resolves whichever pending request its path matches. Signals
// for unknown or already-resolved paths are dropped. Runs until the bus
// connection closes the signal channel.
func (c *Client) dispatch() {
	for sig := range c.signals {
		if sig.Name != responseSignal || len(sig.Body) < 2 {
			continue
		}
		code, ok := sig.Body[0].(uint32)
		if !ok {
			continue
		}
		results, _ := sig.Body[1].(map[string]dbus.Variant)
		c.requests.resolve(sig.Path, response{Code: code, Results: results})
	}
}

// Negotiate runs the full CreateSession → SelectSources → Start →
// OpenPipeWireRemote sequence. Steps execute in strict order and none is
// retried; the first failure aborts the attempt, closing any session that
// was already created. The caller decides what to do about a failed
// negotiation; this client never re-prompts on its own.
func (c *Client) Negotiate(ctx context.Context) (*Stream, error) {
	session, err := c.createSession(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := c.negotiateStream(ctx, session)
	if err != nil {
		c.CloseSession(session)
		return nil, err
	}
	return stream, nil
}

func (c *Client) negotiateStream(ctx context.Context, session dbus.ObjectPath) (*Stream, error) {
	if err := c.selectSources(ctx, session); err != nil {
		return nil, err
	}
	streams, err := c.start(ctx, session)
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return nil, fmt.Errorf("portal granted no streams")
	}
	// The streamer captures a single monitor; take the first grant.
	first := streams[0]
	c.log.WithFields(logrus.Fields{
		"node": first.nodeID,
		"size": fmt.Sprintf("%dx%d", first.width, first.height),
	}).Info("portal granted stream")

	fd, err := c.openPipeWireRemote(ctx, session)
	if err != nil {
		return nil, err
	}
	c.log.WithField("fd", fd).Info("received PipeWire descriptor")

	return &Stream{
		SessionHandle: session,
		NodeID:        first.nodeID,
		Width:         first.width,
		Height:        first.height,
		FramerateNum:  first.frNum,
		FramerateDen:  first.frDen,
		FD:            fd,
	}, nil
}

func (c *Client) createSession(ctx context.Context) (dbus.ObjectPath, error) {
	c.log.Info("requesting screen share session")
	opts := createSessionOptions{
		SessionHandleToken: randToken(14),
		HandleToken:        randToken(14),
	}
	resp, err := c.requestStep(ctx, "CreateSession", c.timeouts.CreateSession, opts.toVardict())
	if err != nil {
		return "", err
	}
	handle, ok := sessionHandleFrom(resp.Results)
	if !ok {
		return "", fmt.Errorf("CreateSession: portal returned no session_handle")
	}
	return handle, nil
}

func (c *Client) selectSources(ctx context.Context, session dbus.ObjectPath) error {
	opts := selectSourcesOptions{
		Types:       sourceTypeMonitor,
		Multiple:    false,
		HandleToken: randToken(14),
	}
	c.log.Info("select your monitor in the screen share dialog and click Share")
	_, err := c.requestStep(ctx, "SelectSources", c.timeouts.SelectSources, session, opts.toVardict())
	return err
}

func (c *Client) start(ctx context.Context, session dbus.ObjectPath) ([]streamInfo, error) {
	opts := startOptions{HandleToken: randToken(14)}
	// Second argument is the parent window identifier; empty means none.
	resp, err := c.requestStep(ctx, "Start", c.timeouts.Start, session, "", opts.toVardict())
	if err != nil {
		return nil, err
	}
	v, ok := resp.Results["streams"]
	if !ok {
		return nil, fmt.Errorf("Start: portal returned no streams")
	}
	return parseStreams(v.Value()), nil
}

// openPipeWireRemote is the only step that is a plain method call rather
// than a request/response pair: the descriptor comes back out-of-band in
// the reply itself. Without fd passing on the connection the call body is
// never issued.
func (c *Client) openPipeWireRemote(ctx context.Context, session dbus.ObjectPath) (int, error) {
	if !c.fdOK {
		return -1, fmt.Errorf("OpenPipeWireRemote: %w", ErrFDPassingUnsupported)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeouts.OpenPipeWireRemote)
	defer cancel()

	obj := c.conn.Object(portalDest, desktopPath)
	var fd dbus.UnixFD
	call := obj.CallWithContext(callCtx, screenCastIface+".OpenPipeWireRemote", 0, session, map[string]dbus.Variant{})
	if err := call.Store(&fd); err != nil {
		return -1, fmt.Errorf("OpenPipeWireRemote: %w", err)
	}
	if fd < 0 {
		return -1, fmt.Errorf("OpenPipeWireRemote: reply carried no descriptor: %w", ErrFDPassingUnsupported)
	}
	return int(fd), nil
}

// requestStep issues one ScreenCast call, registers the returned request
// path, and waits for its Response signal. A non-zero response code or a
// missed deadline aborts the whole negotiation attempt.
func (c *Client) requestStep(ctx context.Context, member string, timeout time.Duration, args ...interface{}) (response, error) {
	obj := c.conn.Object(portalDest, desktopPath)
	call := obj.CallWithContext(ctx, screenCastIface+"."+member, 0, args...)

	var reqPath dbus.ObjectPath
	if err := call.Store(&reqPath); err != nil {
		return response{}, fmt.Errorf("%s: %w", member, err)
	}

	waiter, err := c.requests.register(reqPath)
	if err != nil {
		return response{}, fmt.Errorf("%s: %w", member, err)
	}
	defer c.requests.cancel(reqPath)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-waiter:
		if resp.Code != 0 {
			return response{}, fmt.Errorf("%s: %w (response=%d)", member, ErrDenied, resp.Code)
		}
		c.log.WithField("step", member).Info("portal step complete")
		return resp, nil
	case <-timer.C:
		return response{}, fmt.Errorf("%s: %w (waited %s)", member, ErrTimeout, timeout)
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// CloseSession tears down a session. Best effort: it is always attempted on
// teardown regardless of which step failed, and errors are ignored because
// the portal drops sessions with their owning connection anyway.
func (c *Client) CloseSession(session dbus.ObjectPath) {
	if session == "" {
		return
	}
	obj := c.conn.Object(portalDest, session)
	if call := obj.Call(sessionIface+".Close", 0); call.Err != nil {
		c.log.WithError(call.Err).Debug("session close failed")
	}
}

// Close releases the signal subscription and the bus connection.
func (c *Client) Close() error {
	c.conn.RemoveSignal(c.signals)
	return c.conn.Close()
}

func sessionHandleFrom(results map[string]dbus.Variant) (dbus.ObjectPath, bool) {
	v, ok := results["session_handle"]
	if !ok {
		return "", false
	}
	switch h := v.Value().(type) {
	case string:
		return dbus.ObjectPath(h), h != ""
	case dbus.ObjectPath:
		return h, h != ""
	}
	return "", false
}
