package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/call"
	"github.com/vovakirdan/wirecall/internal/proto"
)

func newTestHub(ringTimeout time.Duration) *Hub {
	logger := zerolog.Nop()
	return NewHub(nil, nil, ringTimeout, &logger)
}

func mustEvent(t *testing.T, ch <-chan proto.Envelope, typ string) proto.Envelope {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case env, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed waiting for %s", typ)
			}
			if env.Type == typ {
				return env
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event %s not received", typ)
	return proto.Envelope{}
}

func decodePayload(t *testing.T, env proto.Envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode %s: %v", env.Type, err)
	}
}

func requestCall(t *testing.T, h *Hub, from *Client, to string) string {
	t.Helper()
	h.HandleEnvelope(from, proto.MustEncode(proto.TypeCallRequest, proto.CallRequest{
		CalleeUserID:   to,
		ConversationID: "conv-1",
	}))

	env := mustEvent(t, from.Events, proto.TypeCallStatus)
	var status proto.CallStatus
	decodePayload(t, env, &status)
	if status.Status != string(call.StatusRinging) {
		t.Fatalf("expected RINGING, got %s", status.Status)
	}
	if status.Session.ID == "" {
		t.Fatal("relay must issue a session id")
	}
	return status.Session.ID
}

func TestCallRequestRingsBothParties(t *testing.T) {
	h := newTestHub(0)
	alice := NewClient("c1", "alice", "alice")
	bob := NewClient("c2", "bob", "bob")
	h.Register(alice)
	h.Register(bob)

	id := requestCall(t, h, alice, "bob")

	env := mustEvent(t, bob.Events, proto.TypeCallStatus)
	var status proto.CallStatus
	decodePayload(t, env, &status)
	if status.Status != string(call.StatusRinging) || status.Session.ID != id {
		t.Fatalf("callee got %+v", status)
	}
	if status.Session.CallerUserID != "alice" || status.Session.CalleeUserID != "bob" {
		t.Fatalf("wrong parties %+v", status.Session)
	}
}

func TestCallToOfflineUserEnds(t *testing.T) {
	h := newTestHub(0)
	alice := NewClient("c1", "alice", "alice")
	h.Register(alice)

	h.HandleEnvelope(alice, proto.MustEncode(proto.TypeCallRequest, proto.CallRequest{
		CalleeUserID: "ghost",
	}))

	env := mustEvent(t, alice.Events, proto.TypeCallStatus)
	var status proto.CallStatus
	decodePayload(t, env, &status)
	if status.Status != string(call.StatusEnded) || status.Reason != proto.HangupPeerUnreachable {
		t.Fatalf("expected ENDED/PEER_UNREACHABLE, got %+v", status)
	}
}

func TestCallToBusyUserRejected(t *testing.T) {
	h := newTestHub(0)
	alice := NewClient("c1", "alice", "alice")
	bob := NewClient("c2", "bob", "bob")
	carol := NewClient("c3", "carol", "carol")
	h.Register(alice)
	h.Register(bob)
	h.Register(carol)

	requestCall(t, h, alice, "bob")

	h.HandleEnvelope(carol, proto.MustEncode(proto.TypeCallRequest, proto.CallRequest{
		CalleeUserID: "bob",
	}))
	env := mustEvent(t, carol.Events, proto.TypeCallStatus)
	var status proto.CallStatus
	decodePayload(t, env, &status)
	if status.Status != string(call.StatusRejected) {
		t.Fatalf("expected REJECTED, got %+v", status)
	}
}

func TestSecondRequestFromBusyCallerRefused(t *testing.T) {
	h := newTestHub(0)
	alice := NewClient("c1", "alice", "alice")
	bob := NewClient("c2", "bob", "bob")
	carol := NewClient("c3", "carol", "carol")
	h.Register(alice)
	h.Register(bob)
	h.Register(carol)

	requestCall(t, h, alice, "bob")

	h.HandleEnvelope(alice, proto.MustEncode(proto.TypeCallRequest, proto.CallRequest{
		CalleeUserID: "carol",
	}))
	env := mustEvent(t, alice.Events, proto.TypeError)
	var perr proto.Error
	decodePayload(t, env, &perr)
	if perr.Code != "busy" {
		t.Fatalf("expected busy error, got %+v", perr)
	}
}

func TestAcceptBroadcastsToBoth(t *testing.T) {
	h := newTestHub(0)
	alice := NewClient("c1", "alice", "alice")
	bob := NewClient("c2", "bob", "bob")
	h.Register(alice)
	h.Register(bob)

	id := requestCall(t, h, alice, "bob")
	mustEvent(t, bob.Events, proto.TypeCallStatus)

	h.HandleEnvelope(bob, proto.MustEncode(proto.TypeCallAccept, proto.CallAccept{SessionID: id}))

	for _, c := range []*Client{alice, bob} {
		env := mustEvent(t, c.Events, proto.TypeCallStatus)
		var status proto.CallStatus
		decodePayload(t, env, &status)
		if status.Status != string(call.StatusAccepted) || status.Session.ID != id {
			t.Fatalf("%s got %+v", c.UserID, status)
		}
	}
}

func TestNegotiationEventsForwardedToPeer(t *testing.T) {
	h := newTestHub(0)
	alice := NewClient("c1", "alice", "alice")
	bob := NewClient("c2", "bob", "bob")
	h.Register(alice)
	h.Register(bob)

	id := requestCall(t, h, alice, "bob")
	mustEvent(t, bob.Events, proto.TypeCallStatus)

	h.HandleEnvelope(alice, proto.MustEncode(proto.TypeCallOfferAnswer, proto.CallOfferAnswer{
		SessionID: id,
		SDP:       "v=0 offer",
		Kind:      proto.SDPOffer,
	}))
	env := mustEvent(t, bob.Events, proto.TypeCallOfferAnswer)
	var oa proto.CallOfferAnswer
	decodePayload(t, env, &oa)
	if oa.SDP != "v=0 offer" {
		t.Fatalf("sdp mangled: %+v", oa)
	}

	h.HandleEnvelope(bob, proto.MustEncode(proto.TypeCallICE, proto.CallICE{
		SessionID: id,
		Candidate: "candidate:1",
	}))
	env = mustEvent(t, alice.Events, proto.TypeCallICE)
	var ice proto.CallICE
	decodePayload(t, env, &ice)
	if ice.Candidate != "candidate:1" {
		t.Fatalf("candidate mangled: %+v", ice)
	}
}

func TestCallerHangupWhileRingingCancels(t *testing.T) {
	h := newTestHub(0)
	alice := NewClient("c1", "alice", "alice")
	bob := NewClient("c2", "bob", "bob")
	h.Register(alice)
	h.Register(bob)

	id := requestCall(t, h, alice, "bob")
	mustEvent(t, bob.Events, proto.TypeCallStatus)

	h.HandleEnvelope(alice, proto.MustEncode(proto.TypeCallHangup, proto.CallHangup{
		SessionID: id,
		Reason:    proto.HangupNormal,
	}))

	env := mustEvent(t, bob.Events, proto.TypeCallStatus)
	var status proto.CallStatus
	decodePayload(t, env, &status)
	if status.Status != string(call.StatusCancelled) {
		t.Fatalf("expected CANCELLED, got %+v", status)
	}
}

func TestRejectEndsSession(t *testing.T) {
	h := newTestHub(0)
	alice := NewClient("c1", "alice", "alice")
	bob := NewClient("c2", "bob", "bob")
	h.Register(alice)
	h.Register(bob)

	id := requestCall(t, h, alice, "bob")
	mustEvent(t, bob.Events, proto.TypeCallStatus)

	h.HandleEnvelope(bob, proto.MustEncode(proto.TypeCallReject, proto.CallReject{SessionID: id}))

	env := mustEvent(t, alice.Events, proto.TypeCallStatus)
	var status proto.CallStatus
	decodePayload(t, env, &status)
	if status.Status != string(call.StatusRejected) {
		t.Fatalf("expected REJECTED, got %+v", status)
	}

	// The session is gone; further events on it are refused.
	h.HandleEnvelope(alice, proto.MustEncode(proto.TypeCallICE, proto.CallICE{
		SessionID: id,
		Candidate: "late",
	}))
	mustEvent(t, alice.Events, proto.TypeError)
}

func TestDisconnectEndsSessionForPeer(t *testing.T) {
	h := newTestHub(0)
	alice := NewClient("c1", "alice", "alice")
	bob := NewClient("c2", "bob", "bob")
	h.Register(alice)
	h.Register(bob)

	id := requestCall(t, h, alice, "bob")
	mustEvent(t, bob.Events, proto.TypeCallStatus)
	h.HandleEnvelope(bob, proto.MustEncode(proto.TypeCallAccept, proto.CallAccept{SessionID: id}))
	mustEvent(t, alice.Events, proto.TypeCallStatus)

	h.Unregister(bob)

	env := mustEvent(t, alice.Events, proto.TypeCallStatus)
	var status proto.CallStatus
	decodePayload(t, env, &status)
	if status.Status != string(call.StatusEnded) || status.Reason != proto.HangupPeerUnreachable {
		t.Fatalf("expected ENDED/PEER_UNREACHABLE, got %+v", status)
	}
}

func TestRingTimeoutCancelsUnansweredCall(t *testing.T) {
	h := newTestHub(50 * time.Millisecond)
	alice := NewClient("c1", "alice", "alice")
	bob := NewClient("c2", "bob", "bob")
	h.Register(alice)
	h.Register(bob)

	requestCall(t, h, alice, "bob")
	mustEvent(t, bob.Events, proto.TypeCallStatus)

	env := mustEvent(t, alice.Events, proto.TypeCallStatus)
	var status proto.CallStatus
	decodePayload(t, env, &status)
	if status.Status != string(call.StatusCancelled) || status.Reason != proto.HangupTimeout {
		t.Fatalf("expected CANCELLED/TIMEOUT, got %+v", status)
	}
}

func TestGroupCallWithoutSFURefused(t *testing.T) {
	h := newTestHub(0)
	alice := NewClient("c1", "alice", "alice")
	h.Register(alice)

	h.HandleEnvelope(alice, proto.MustEncode(proto.TypeCallRequest, proto.CallRequest{
		ConversationID: "conv-1",
		IsGroupCall:    true,
	}))
	env := mustEvent(t, alice.Events, proto.TypeError)
	var perr proto.Error
	decodePayload(t, env, &perr)
	if perr.Code != "sfu_disabled" {
		t.Fatalf("expected sfu_disabled, got %+v", perr)
	}
}
