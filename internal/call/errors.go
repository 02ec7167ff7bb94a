package call

import "errors"

// Errors surfaced to the UI layer. Protocol-internal anomalies (glare,
// stale answers, late candidates) are recovered inside the engine and
// never reach callers.
var (
	// ErrMediaAccessDenied means the platform refused camera/microphone
	// permission. The call aborts; it never proceeds silently.
	ErrMediaAccessDenied = errors.New("media access denied")

	// ErrDeviceUnavailable means no usable capture device was found.
	ErrDeviceUnavailable = errors.New("media device unavailable")

	// ErrTransportUnavailable means the signaling channel is down and the
	// call cannot proceed.
	ErrTransportUnavailable = errors.New("signaling transport unavailable")

	// ErrBusy means a session is already active; a second call must be
	// rejected to preserve the one-active-session invariant.
	ErrBusy = errors.New("another call session is active")

	// ErrNoIncomingCall means AcceptCall was invoked without a ringing
	// incoming session.
	ErrNoIncomingCall = errors.New("no incoming call to accept")

	// ErrEngineClosed means the engine loop has stopped.
	ErrEngineClosed = errors.New("call engine closed")
)
