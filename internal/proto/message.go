package proto

import "encoding/json"

// Envelope wraps every signaling event exchanged with the relay.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	ProtocolVersion = 1

	// Client-originated events.
	TypeCallRequest = "call_request"
	TypeCallAccept  = "call_accept"
	TypeCallReject  = "call_reject"
	TypeCallHangup  = "call_hangup"

	// Bidirectional negotiation events, relayed verbatim to the peer.
	TypeCallOfferAnswer = "call_offer_answer"
	TypeCallICE         = "call_ice"

	// Relay-originated events.
	TypeCallStatus   = "call_status"
	TypeCallJoinInfo = "call_join_info"
	TypeError        = "error"
)

// SDPKind distinguishes offers from answers in CallOfferAnswer.
type SDPKind string

const (
	SDPOffer  SDPKind = "OFFER"
	SDPAnswer SDPKind = "ANSWER"
)

// HangupReason is the closed set of reasons a call may end with.
type HangupReason string

const (
	HangupNormal          HangupReason = "NORMAL"
	HangupTimeout         HangupReason = "TIMEOUT"
	HangupMediaFailure    HangupReason = "MEDIA_FAILURE"
	HangupPeerUnreachable HangupReason = "PEER_UNREACHABLE"
)

// CallRequest proposes a call. The relay issues a session id and answers
// with a CallStatus carrying the full session.
type CallRequest struct {
	CalleeUserID   string `json:"callee_user_id"`
	ConversationID string `json:"conversation_id"`
	IsVideoCall    bool   `json:"is_video_call"`
	IsGroupCall    bool   `json:"is_group_call"`
}

// CallAccept signals that the callee accepted the session.
type CallAccept struct {
	SessionID string `json:"session_id"`
}

// CallReject signals an explicit rejection from either side.
type CallReject struct {
	SessionID string `json:"session_id"`
}

// CallHangup terminates an active or pending call.
type CallHangup struct {
	SessionID string       `json:"session_id"`
	Reason    HangupReason `json:"reason"`
}

// CallOfferAnswer carries one SDP in either direction.
type CallOfferAnswer struct {
	SessionID string  `json:"session_id"`
	SDP       string  `json:"sdp"`
	Kind      SDPKind `json:"kind"`
}

// CallICE carries one trickled ICE candidate.
type CallICE struct {
	SessionID     string  `json:"session_id"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

// SessionInfo is the relay's authoritative view of one call session.
type SessionInfo struct {
	ID             string `json:"id"`
	CallerUserID   string `json:"caller_user_id"`
	CalleeUserID   string `json:"callee_user_id"`
	ConversationID string `json:"conversation_id"`
	IsVideoCall    bool   `json:"is_video_call"`
	IsGroupCall    bool   `json:"is_group_call"`
}

// CallStatus is broadcast by the relay to both parties whenever the
// authoritative session status changes.
type CallStatus struct {
	Status  string       `json:"status"`
	Session SessionInfo  `json:"session"`
	Reason  HangupReason `json:"reason,omitempty"`
}

// CallJoinInfo delivers SFU credentials for a group call session.
type CallJoinInfo struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	Token     string `json:"token"`
	RoomName  string `json:"room_name"`
	Identity  string `json:"identity"`
}

// Error describes a protocol-level error response from the relay.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Encode marshals a payload into an envelope of the given type.
func Encode(typ string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Data: data}, nil
}

// MustEncode is Encode for payloads that cannot fail to marshal.
func MustEncode(typ string, payload any) Envelope {
	env, err := Encode(typ, payload)
	if err != nil {
		panic(err)
	}
	return env
}
