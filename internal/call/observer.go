package call

import "github.com/vovakirdan/wirecall/internal/proto"

// Observer receives engine notifications. The UI layer injects an
// implementation at construction; there is no global event bus.
type Observer interface {
	// SessionStatusChanged fires on every session status transition,
	// including the terminal one right before cleanup.
	SessionStatusChanged(s Session)

	// RemoteTrackAdded fires when the peer's media track arrives.
	RemoteTrackAdded(kind TrackKind)

	// GroupJoinInfo delivers SFU credentials for a group call session.
	GroupJoinInfo(info proto.CallJoinInfo)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) SessionStatusChanged(Session)     {}
func (NopObserver) RemoteTrackAdded(TrackKind)       {}
func (NopObserver) GroupJoinInfo(proto.CallJoinInfo) {}
