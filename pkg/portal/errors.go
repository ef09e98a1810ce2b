package portal

import "errors"

var (
	// ErrDenied is returned when a negotiation step comes back with a
	// non-zero response code (the user dismissed or refused the
	// permission dialog, or the portal rejected the request).
	ErrDenied = errors.New("portal request denied")

	// ErrTimeout is returned when no Response signal arrives within the
	// step's deadline.
	ErrTimeout = errors.New("portal request timed out")

	// ErrFDPassingUnsupported is returned when the session bus connection
	// did not negotiate unix fd passing at connect time. OpenPipeWireRemote
	// cannot work without it; this is a transport problem, not a denial.
	ErrFDPassingUnsupported = errors.New("bus connection does not support unix fd passing")
)
