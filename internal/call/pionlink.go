package call

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// pionLink implements PeerLink on top of a pion PeerConnection.
type pionLink struct {
	pc *webrtc.PeerConnection

	mu     sync.Mutex
	closed bool
}

// NewPionLink creates a PeerLink backed by pion/webrtc with the given
// STUN servers. It is the default LinkFactory.
func NewPionLink(stunServers []string) (PeerLink, error) {
	cfg := webrtc.Configuration{
		ICETransportPolicy: webrtc.ICETransportPolicyAll,
	}
	if len(stunServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}

	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &pionLink{pc: pc}, nil
}

func (l *pionLink) SignalingState() webrtc.SignalingState {
	return l.pc.SignalingState()
}

func (l *pionLink) CreateOffer() (webrtc.SessionDescription, error) {
	return l.pc.CreateOffer(nil)
}

func (l *pionLink) CreateAnswer() (webrtc.SessionDescription, error) {
	return l.pc.CreateAnswer(nil)
}

func (l *pionLink) SetLocalDescription(sd webrtc.SessionDescription) error {
	return l.pc.SetLocalDescription(sd)
}

func (l *pionLink) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(sd)
}

func (l *pionLink) LocalDescription() *webrtc.SessionDescription {
	return l.pc.LocalDescription()
}

func (l *pionLink) RemoteDescription() *webrtc.SessionDescription {
	return l.pc.RemoteDescription()
}

func (l *pionLink) Rollback() error {
	return l.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (l *pionLink) AddICECandidate(c webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(c)
}

// rtcTrack is implemented by local tracks that carry a pion track, such as
// the mediadevices-backed tracks in internal/media.
type rtcTrack interface {
	RTC() webrtc.TrackLocal
}

func (l *pionLink) AddTrack(t LocalTrack) (TrackSender, error) {
	rt, ok := t.(rtcTrack)
	if !ok {
		return nil, fmt.Errorf("track %s does not wrap a webrtc track", t.Kind())
	}
	sender, err := l.pc.AddTrack(rt.RTC())
	if err != nil {
		return nil, fmt.Errorf("add %s track: %w", t.Kind(), err)
	}
	return &pionSender{pc: l.pc, sender: sender}, nil
}

func (l *pionLink) OnNegotiationNeeded(f func()) {
	l.pc.OnNegotiationNeeded(f)
}

func (l *pionLink) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks end of gathering; trickle consumers don't need it.
		if c == nil {
			return
		}
		f(c.ToJSON())
	})
}

func (l *pionLink) OnTrack(f func(TrackKind)) {
	l.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		switch remote.Kind() {
		case webrtc.RTPCodecTypeAudio:
			f(TrackAudio)
		case webrtc.RTPCodecTypeVideo:
			f(TrackVideo)
		}
	})
}

func (l *pionLink) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	l.pc.OnConnectionStateChange(f)
}

func (l *pionLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.pc.Close()
}

// pionSender removes its track from the connection on Stop.
type pionSender struct {
	pc     *webrtc.PeerConnection
	sender *webrtc.RTPSender

	mu      sync.Mutex
	stopped bool
}

func (s *pionSender) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	return s.pc.RemoveTrack(s.sender)
}
