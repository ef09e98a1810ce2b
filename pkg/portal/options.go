package portal

import (
	"math/rand"
	"time"

	"github.com/godbus/dbus/v5"
)

// Source type bit for SelectSources; the portal also defines 2 (window) and
// 4 (virtual), but the streamer only ever captures a monitor.
const sourceTypeMonitor = uint32(1)

// Each portal call accepts a fixed set of option keys. They are modeled as
// structs so a call can only ever carry the keys it documents, and encoded
// to the a{sv} dict the wire format wants at the call site.

type createSessionOptions struct {
	SessionHandleToken string
	HandleToken        string
}

func (o createSessionOptions) toVardict() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"session_handle_token": dbus.MakeVariant(o.SessionHandleToken),
		"handle_token":         dbus.MakeVariant(o.HandleToken),
	}
}

type selectSourcesOptions struct {
	Types       uint32
	Multiple    bool
	HandleToken string
}

func (o selectSourcesOptions) toVardict() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"types":        dbus.MakeVariant(o.Types),
		"multiple":     dbus.MakeVariant(o.Multiple),
		"handle_token": dbus.MakeVariant(o.HandleToken),
	}
}

type startOptions struct {
	HandleToken string
}

func (o startOptions) toVardict() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(o.HandleToken),
	}
}

const tokenChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var tokenRNG = rand.New(rand.NewSource(time.Now().UnixNano()))

// randToken generates a handle token for a portal call. Tokens end up as
// object path elements, so only letters and digits are used.
func randToken(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = tokenChars[tokenRNG.Intn(len(tokenChars))]
	}
	return string(b)
}
