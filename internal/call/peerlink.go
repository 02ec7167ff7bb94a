package call

import "github.com/pion/webrtc/v4"

// TrackSender is the handle for one local track attached to a PeerLink.
// Stop detaches the track from the connection; the underlying transport
// renegotiates the removed m-section.
type TrackSender interface {
	Stop() error
}

// PeerLink abstracts the negotiable connection resource bound to one call
// session. The production implementation wraps a pion PeerConnection; the
// tests use a deterministic fake. The engine loop is the only caller, so
// implementations do not need internal locking beyond what the underlying
// connection requires.
type PeerLink interface {
	// SignalingState mirrors the connection's stable/have-local-offer/
	// have-remote-offer state, the ground truth for glare decisions.
	SignalingState() webrtc.SignalingState

	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription

	// Rollback discards the in-flight local offer so a remote offer can be
	// applied. Only the polite peer does this.
	Rollback() error

	AddICECandidate(webrtc.ICECandidateInit) error

	// AddTrack attaches a local track and returns its sender handle.
	AddTrack(LocalTrack) (TrackSender, error)

	// Callbacks. Handlers may be invoked from transport goroutines; the
	// engine re-posts them onto its own loop.
	OnNegotiationNeeded(func())
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(kind TrackKind))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))

	// Close releases the connection. Idempotent.
	Close() error
}

// LinkFactory builds a PeerLink for a new session. Injected so tests can
// substitute a fake and so independent engines can coexist.
type LinkFactory func(stunServers []string) (PeerLink, error)
