package portal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepScript tells the fake bus how to answer one ScreenCast request step.
type stepScript struct {
	code    uint32
	results map[string]dbus.Variant
	silent  bool // issue the request path but never send a Response
}

// fakeBus is a scripted session bus. ScreenCast request calls return a
// request path and later deliver a Response signal the way the real portal
// does, including a stray signal for an unrelated path first.
type fakeBus struct {
	mu      sync.Mutex
	client  *Client
	fdOK    bool
	fd      int
	steps   map[string]stepScript
	calls   []string
	signals chan<- *dbus.Signal
	reqSeq  int
}

func newFakeBus(fdOK bool, steps map[string]stepScript) *fakeBus {
	return &fakeBus{fdOK: fdOK, fd: 7, steps: steps}
}

func (f *fakeBus) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return &fakeObject{bus: f, dest: dest, path: path}
}

func (f *fakeBus) AddMatchSignal(options ...dbus.MatchOption) error { return nil }

func (f *fakeBus) Signal(ch chan<- *dbus.Signal) {
	f.mu.Lock()
	f.signals = ch
	f.mu.Unlock()
}

func (f *fakeBus) RemoveSignal(ch chan<- *dbus.Signal) {}

func (f *fakeBus) SupportsUnixFDs() bool { return f.fdOK }

func (f *fakeBus) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signals != nil {
		close(f.signals)
		f.signals = nil
	}
	return nil
}

func (f *fakeBus) record(method string) {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	f.mu.Unlock()
}

func (f *fakeBus) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// respond waits until the client has registered reqPath, then sends a stray
// Response for an unrelated path followed by the scripted one.
func (f *fakeBus) respond(reqPath dbus.ObjectPath, script stepScript) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		c := f.client
		f.mu.Unlock()
		if c != nil {
			c.requests.mu.Lock()
			_, pending := c.requests.pending[reqPath]
			c.requests.mu.Unlock()
			if pending {
				break
			}
		}
		time.Sleep(time.Millisecond)
	}

	f.mu.Lock()
	ch := f.signals
	f.mu.Unlock()
	if ch == nil {
		return
	}
	ch <- &dbus.Signal{
		Path: dbus.ObjectPath("/req/someone-else"),
		Name: responseSignal,
		Body: []interface{}{uint32(0), map[string]dbus.Variant{}},
	}
	ch <- &dbus.Signal{
		Path: reqPath,
		Name: responseSignal,
		Body: []interface{}{script.code, script.results},
	}
}

type fakeObject struct {
	bus  *fakeBus
	dest string
	path dbus.ObjectPath
}

func (o *fakeObject) Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	return o.dispatch(method, args)
}

func (o *fakeObject) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	return o.dispatch(method, args)
}

func (o *fakeObject) dispatch(method string, args []interface{}) *dbus.Call {
	short := method[strings.LastIndex(method, ".")+1:]
	o.bus.record(short)

	if strings.HasPrefix(method, sessionIface+".") {
		return &dbus.Call{}
	}
	if short == "OpenPipeWireRemote" {
		return &dbus.Call{Body: []interface{}{dbus.UnixFD(o.bus.fd)}}
	}

	script, ok := o.bus.steps[short]
	if !ok {
		return &dbus.Call{Err: fmt.Errorf("unscripted method %s", method)}
	}
	o.bus.mu.Lock()
	o.bus.reqSeq++
	reqPath := dbus.ObjectPath(fmt.Sprintf("/req/%d", o.bus.reqSeq))
	o.bus.mu.Unlock()
	if !script.silent {
		go o.bus.respond(reqPath, script)
	}
	return &dbus.Call{Body: []interface{}{reqPath}}
}

func (o *fakeObject) Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	panic("not used")
}

func (o *fakeObject) GoWithContext(ctx context.Context, method string, flags dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	panic("not used")
}

func (o *fakeObject) AddMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{}
}

func (o *fakeObject) RemoveMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{}
}

func (o *fakeObject) GetProperty(p string) (dbus.Variant, error) { return dbus.Variant{}, nil }

func (o *fakeObject) StoreProperty(p string, value interface{}) error { return nil }

func (o *fakeObject) SetProperty(p string, v interface{}) error { return nil }

func (o *fakeObject) Destination() string { return o.dest }

func (o *fakeObject) Path() dbus.ObjectPath { return o.path }

func grantedSteps() map[string]stepScript {
	return map[string]stepScript{
		"CreateSession": {results: map[string]dbus.Variant{
			"session_handle": dbus.MakeVariant("/session/1"),
		}},
		"SelectSources": {},
		"Start": {results: map[string]dbus.Variant{
			"streams": dbus.MakeVariant([][]interface{}{
				{uint32(42), map[string]dbus.Variant{
					"size": dbus.MakeVariant([]interface{}{int32(1920), int32(1080)}),
				}},
			}),
		}},
	}
}

func testClient(t *testing.T, bus *fakeBus) *Client {
	t.Helper()
	c, err := newClient(bus)
	require.NoError(t, err)
	bus.mu.Lock()
	bus.client = c
	bus.mu.Unlock()
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNegotiateGrantsStream(t *testing.T) {
	bus := newFakeBus(true, grantedSteps())
	c := testClient(t, bus)

	stream, err := c.Negotiate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, dbus.ObjectPath("/session/1"), stream.SessionHandle)
	assert.Equal(t, uint32(42), stream.NodeID)
	assert.Equal(t, 1920, stream.Width)
	assert.Equal(t, 1080, stream.Height)
	assert.Equal(t, 7, stream.FD)

	assert.Equal(t, []string{"CreateSession", "SelectSources", "Start", "OpenPipeWireRemote"}, bus.recorded())
}

func TestNegotiateDeniedAbortsAndClosesSession(t *testing.T) {
	steps := grantedSteps()
	steps["SelectSources"] = stepScript{code: 1} // user cancelled the dialog
	bus := newFakeBus(true, steps)
	c := testClient(t, bus)

	_, err := c.Negotiate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDenied)

	calls := bus.recorded()
	assert.NotContains(t, calls, "Start")
	assert.NotContains(t, calls, "OpenPipeWireRemote")
	assert.Equal(t, "Close", calls[len(calls)-1])
}

func TestNegotiateTimesOutOnSilentPortal(t *testing.T) {
	steps := grantedSteps()
	steps["SelectSources"] = stepScript{silent: true}
	bus := newFakeBus(true, steps)
	c := testClient(t, bus)
	c.timeouts.SelectSources = 50 * time.Millisecond

	_, err := c.Negotiate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	// The timed-out request no longer lingers in the registry.
	assert.Equal(t, 0, c.requests.len())
	assert.Equal(t, "Close", bus.recorded()[len(bus.recorded())-1])
}

func TestNegotiateWithoutFDPassing(t *testing.T) {
	bus := newFakeBus(false, grantedSteps())
	c := testClient(t, bus)

	_, err := c.Negotiate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFDPassingUnsupported)

	// The descriptor call must never be issued on such a connection.
	assert.NotContains(t, bus.recorded(), "OpenPipeWireRemote")
}

func TestNegotiateContextCancel(t *testing.T) {
	steps := grantedSteps()
	steps["CreateSession"] = stepScript{silent: true}
	bus := newFakeBus(true, steps)
	c := testClient(t, bus)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Negotiate(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionHandleFrom(t *testing.T) {
	h, ok := sessionHandleFrom(map[string]dbus.Variant{
		"session_handle": dbus.MakeVariant("/s/1"),
	})
	assert.True(t, ok)
	assert.Equal(t, dbus.ObjectPath("/s/1"), h)

	h, ok = sessionHandleFrom(map[string]dbus.Variant{
		"session_handle": dbus.MakeVariant(dbus.ObjectPath("/s/2")),
	})
	assert.True(t, ok)
	assert.Equal(t, dbus.ObjectPath("/s/2"), h)

	_, ok = sessionHandleFrom(map[string]dbus.Variant{})
	assert.False(t, ok)
}
