package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/proto"
	"github.com/vovakirdan/wirecall/internal/signaling"
)

// ---- fake peer link ----

// fakeLink is a deterministic PeerLink for tests. It models the pion
// signaling state machine closely enough to exercise glare handling.
type fakeLink struct {
	state     webrtc.SignalingState
	localDesc *webrtc.SessionDescription
	remote    *webrtc.SessionDescription

	applied    []webrtc.ICECandidateInit
	candErr    error
	offerErr   error
	answerErr  error
	setLocErr  error
	setRemErr  error
	rollbacks  int
	closed     bool
	addedKinds []TrackKind
	addTrkErr  error

	onNegotiation func()
	onICE         func(webrtc.ICECandidateInit)
	onTrack       func(TrackKind)
	onConnState   func(webrtc.PeerConnectionState)
}

func newFakeLink() *fakeLink {
	return &fakeLink{state: webrtc.SignalingStateStable}
}

func (f *fakeLink) SignalingState() webrtc.SignalingState { return f.state }

func (f *fakeLink) CreateOffer() (webrtc.SessionDescription, error) {
	if f.offerErr != nil {
		return webrtc.SessionDescription{}, f.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake-offer"}, nil
}

func (f *fakeLink) CreateAnswer() (webrtc.SessionDescription, error) {
	if f.answerErr != nil {
		return webrtc.SessionDescription{}, f.answerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake-answer"}, nil
}

func (f *fakeLink) SetLocalDescription(desc webrtc.SessionDescription) error {
	if f.setLocErr != nil {
		return f.setLocErr
	}
	f.localDesc = &desc
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		f.state = webrtc.SignalingStateHaveLocalOffer
	case webrtc.SDPTypeAnswer:
		f.state = webrtc.SignalingStateStable
	}
	return nil
}

func (f *fakeLink) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if f.setRemErr != nil {
		return f.setRemErr
	}
	f.remote = &desc
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		f.state = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		f.state = webrtc.SignalingStateStable
	}
	return nil
}

func (f *fakeLink) LocalDescription() *webrtc.SessionDescription  { return f.localDesc }
func (f *fakeLink) RemoteDescription() *webrtc.SessionDescription { return f.remote }

func (f *fakeLink) Rollback() error {
	f.rollbacks++
	f.localDesc = nil
	f.state = webrtc.SignalingStateStable
	return nil
}

func (f *fakeLink) AddICECandidate(c webrtc.ICECandidateInit) error {
	if f.candErr != nil {
		return f.candErr
	}
	f.applied = append(f.applied, c)
	return nil
}

func (f *fakeLink) AddTrack(track LocalTrack) (TrackSender, error) {
	if f.addTrkErr != nil {
		return nil, f.addTrkErr
	}
	f.addedKinds = append(f.addedKinds, track.Kind())
	return &fakeSender{}, nil
}

func (f *fakeLink) OnNegotiationNeeded(fn func())                               { f.onNegotiation = fn }
func (f *fakeLink) OnICECandidate(fn func(webrtc.ICECandidateInit))             { f.onICE = fn }
func (f *fakeLink) OnTrack(fn func(TrackKind))                                  { f.onTrack = fn }
func (f *fakeLink) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) { f.onConnState = fn }

func (f *fakeLink) Close() error {
	f.closed = true
	return nil
}

type fakeSender struct {
	stopped bool
	stopErr error
}

func (s *fakeSender) Stop() error {
	s.stopped = true
	return s.stopErr
}

// ---- fake devices ----

type fakeTrack struct {
	kind    TrackKind
	enabled bool
	closed  bool
}

func (t *fakeTrack) Kind() TrackKind   { return t.kind }
func (t *fakeTrack) Enabled() bool     { return t.enabled }
func (t *fakeTrack) SetEnabled(v bool) { t.enabled = v }
func (t *fakeTrack) Close() error {
	t.closed = true
	return nil
}

type fakeDevices struct {
	audioErr error
	videoErr error

	audioTracks []*fakeTrack
	videoTracks []*fakeTrack
}

func (d *fakeDevices) AcquireAudio(ctx context.Context) (LocalTrack, error) {
	if d.audioErr != nil {
		return nil, d.audioErr
	}
	t := &fakeTrack{kind: TrackAudio, enabled: true}
	d.audioTracks = append(d.audioTracks, t)
	return t, nil
}

func (d *fakeDevices) AcquireVideo(ctx context.Context) (LocalTrack, error) {
	if d.videoErr != nil {
		return nil, d.videoErr
	}
	t := &fakeTrack{kind: TrackVideo, enabled: true}
	d.videoTracks = append(d.videoTracks, t)
	return t, nil
}

// ---- recording observer ----

type recordingObserver struct {
	mu       sync.Mutex
	statuses []Session
	tracks   []TrackKind
	joins    []proto.CallJoinInfo
}

func (o *recordingObserver) SessionStatusChanged(s Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, s)
}

func (o *recordingObserver) RemoteTrackAdded(kind TrackKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tracks = append(o.tracks, kind)
}

func (o *recordingObserver) GroupJoinInfo(info proto.CallJoinInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.joins = append(o.joins, info)
}

func (o *recordingObserver) lastStatus() (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.statuses) == 0 {
		return Session{}, false
	}
	return o.statuses[len(o.statuses)-1], true
}

// mustStatus polls the observer until a session with the wanted status
// shows up.
func mustStatus(t *testing.T, obs *recordingObserver, want Status) Session {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		obs.mu.Lock()
		for _, s := range obs.statuses {
			if s.Status == want {
				obs.mu.Unlock()
				return s
			}
		}
		obs.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status %s never observed", want)
	return Session{}
}

// mustEnvelope polls the transport end until an envelope of the wanted
// type arrives, failing the test on anything unexpected after the
// deadline.
func mustEnvelope(t *testing.T, tr signaling.Transport, typ string) proto.Envelope {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-tr.Events():
			if !ok {
				t.Fatalf("transport closed waiting for %s", typ)
			}
			if env.Type == typ {
				return env
			}
		case <-deadline:
			t.Fatalf("envelope %s never received", typ)
		}
	}
}

// ---- engine harness ----

type engineHarness struct {
	engine  *Engine
	relay   signaling.Transport
	link    *fakeLink
	devices *fakeDevices
	obs     *recordingObserver
	cancel  context.CancelFunc
	runDone chan error
}

// newEngineHarness builds an engine wired to an in-memory pipe and a
// single fake link, and starts its loop.
func newEngineHarness(t *testing.T, userID string, mutate func(*Options)) *engineHarness {
	t.Helper()

	clientEnd, relayEnd := signaling.Pipe()
	link := newFakeLink()
	devices := &fakeDevices{}
	obs := &recordingObserver{}
	logger := zerolog.Nop()

	opts := Options{
		UserID:    userID,
		Transport: clientEnd,
		Devices:   devices,
		Observer:  obs,
		Logger:    &logger,
		LinkFactory: func([]string) (PeerLink, error) {
			return link, nil
		},
		AcceptTimeout: time.Hour,
	}
	if mutate != nil {
		mutate(&opts)
	}

	eng, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- eng.Run(ctx) }()

	h := &engineHarness{
		engine:  eng,
		relay:   relayEnd,
		link:    link,
		devices: devices,
		obs:     obs,
		cancel:  cancel,
		runDone: runDone,
	}
	t.Cleanup(func() {
		cancel()
		select {
		case <-runDone:
		case <-time.After(2 * time.Second):
			t.Error("engine loop did not stop")
		}
	})
	return h
}

// relaySend pushes an envelope into the engine as if the relay sent it.
func (h *engineHarness) relaySend(t *testing.T, typ string, payload any) {
	t.Helper()
	env, err := proto.Encode(typ, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", typ, err)
	}
	if err := h.relay.Send(context.Background(), env); err != nil {
		t.Fatalf("relay send %s: %v", typ, err)
	}
}

// ringCaller walks the caller side through StartCall and the relay's
// RINGING assignment, returning the session id.
func (h *engineHarness) ringCaller(t *testing.T, withVideo bool) string {
	t.Helper()

	sess, err := h.engine.StartCall(context.Background(), "bob", "conv-1", withVideo)
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if sess.Status != StatusRinging || sess.Role != RoleImpolite {
		t.Fatalf("unexpected outgoing session %+v", sess)
	}

	mustEnvelope(t, h.relay, proto.TypeCallRequest)
	h.relaySend(t, proto.TypeCallStatus, proto.CallStatus{
		Status: string(StatusRinging),
		Session: proto.SessionInfo{
			ID:             "sess-1",
			CallerUserID:   h.engine.opts.UserID,
			CalleeUserID:   "bob",
			ConversationID: "conv-1",
			IsVideoCall:    withVideo,
		},
	})
	waitFor(t, func() bool {
		active, _, err := h.engine.Sessions(context.Background())
		return err == nil && active != nil && active.ID == "sess-1"
	})
	return "sess-1"
}

// ringCallee delivers an incoming RINGING session to the engine.
func (h *engineHarness) ringCallee(t *testing.T, withVideo bool) string {
	t.Helper()

	h.relaySend(t, proto.TypeCallStatus, proto.CallStatus{
		Status: string(StatusRinging),
		Session: proto.SessionInfo{
			ID:             "sess-1",
			CallerUserID:   "alice",
			CalleeUserID:   h.engine.opts.UserID,
			ConversationID: "conv-1",
			IsVideoCall:    withVideo,
		},
	})
	waitFor(t, func() bool {
		_, incoming, err := h.engine.Sessions(context.Background())
		return err == nil && incoming != nil
	})
	return "sess-1"
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

var errBoom = errors.New("boom")

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
