package portal

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

// response carries the decoded payload of one Request.Response signal.
type response struct {
	Code    uint32
	Results map[string]dbus.Variant
}

// requestRegistry correlates in-flight portal calls with the Response
// signals that eventually resolve them. Each pending request is keyed by
// its request object path and resolved at most once; entries are removed
// on resolution or cancellation so the map never grows unbounded.
type requestRegistry struct {
	mu      sync.Mutex
	pending map[dbus.ObjectPath]chan response
}

func newRequestRegistry() *requestRegistry {
	return &requestRegistry{pending: make(map[dbus.ObjectPath]chan response)}
}

// register creates a pending request for the given path and returns the
// channel its response will be delivered on. At most one request may be
// outstanding per path.
func (r *requestRegistry) register(path dbus.ObjectPath) (<-chan response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[path]; exists {
		return nil, fmt.Errorf("request already pending for %s", path)
	}
	ch := make(chan response, 1)
	r.pending[path] = ch
	return ch, nil
}

// resolve delivers a response to the pending request for path, if any, and
// removes it. Signals for unknown or already-resolved paths are ignored.
func (r *requestRegistry) resolve(path dbus.ObjectPath, resp response) {
	r.mu.Lock()
	ch, ok := r.pending[path]
	if ok {
		delete(r.pending, path)
	}
	r.mu.Unlock()
	if ok {
		ch <- resp
	}
}

// cancel removes a pending request without resolving it (timeout path).
// Safe to call after resolution.
func (r *requestRegistry) cancel(path dbus.ObjectPath) {
	r.mu.Lock()
	delete(r.pending, path)
	r.mu.Unlock()
}

// len reports the number of outstanding requests.
func (r *requestRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
