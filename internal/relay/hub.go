// Package relay implements the signaling server: it authenticates
// clients, issues session ids, keeps the authoritative call status and
// routes negotiation events between the two parties of a session.
package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/call"
	"github.com/vovakirdan/wirecall/internal/groupcall"
	"github.com/vovakirdan/wirecall/internal/proto"
	"github.com/vovakirdan/wirecall/internal/store"
)

const historyTimeout = 3 * time.Second

// session is the relay's authoritative view of one call.
type session struct {
	info      proto.SessionInfo
	status    call.Status
	ringTimer *time.Timer
}

// Hub coordinates all connected clients and live sessions. Safe for
// concurrent use; every handler runs under the hub lock, so per-session
// status transitions are serialized.
type Hub struct {
	log         *zerolog.Logger
	calls       store.CallStore     // nil disables history
	groups      *groupcall.Provider // nil disables group calls
	ringTimeout time.Duration       // zero disables ring expiry

	mu       sync.Mutex
	clients  map[string]*Client // by user id, one connection per user
	sessions map[string]*session
}

// NewHub creates a hub. calls and groups may be nil.
func NewHub(calls store.CallStore, groups *groupcall.Provider, ringTimeout time.Duration, logger *zerolog.Logger) *Hub {
	return &Hub{
		log:         logger,
		calls:       calls,
		groups:      groups,
		ringTimeout: ringTimeout,
		clients:     make(map[string]*Client),
		sessions:    make(map[string]*session),
	}
}

// Register attaches a client connection. A second connection for the
// same user replaces the first; the old event channel is closed so its
// write loop exits.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.clients[c.UserID]; ok {
		close(old.Events)
	}
	h.clients[c.UserID] = c
	h.log.Info().Str("user_id", c.UserID).Msg("client connected")
}

// Unregister detaches a client and ends every session it is part of.
// The peer is told the party became unreachable.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur, ok := h.clients[c.UserID]
	if !ok || cur.ID != c.ID {
		return
	}
	delete(h.clients, c.UserID)
	close(c.Events)
	h.log.Info().Str("user_id", c.UserID).Msg("client disconnected")

	for id, sess := range h.sessions {
		if sess.info.CallerUserID != c.UserID && sess.info.CalleeUserID != c.UserID {
			continue
		}
		status := call.StatusEnded
		if sess.status == call.StatusRinging && sess.info.CallerUserID == c.UserID {
			status = call.StatusCancelled
		}
		h.endSessionLocked(id, status, proto.HangupPeerUnreachable)
	}
}

// HandleEnvelope processes one inbound client event.
func (h *Hub) HandleEnvelope(c *Client, env proto.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch env.Type {
	case proto.TypeCallRequest:
		var req proto.CallRequest
		if !h.decode(c, env, &req) {
			return
		}
		h.handleRequest(c, req)
	case proto.TypeCallAccept:
		var acc proto.CallAccept
		if !h.decode(c, env, &acc) {
			return
		}
		h.handleAccept(c, acc)
	case proto.TypeCallReject:
		var rej proto.CallReject
		if !h.decode(c, env, &rej) {
			return
		}
		h.handleReject(c, rej)
	case proto.TypeCallHangup:
		var hang proto.CallHangup
		if !h.decode(c, env, &hang) {
			return
		}
		h.handleHangup(c, hang)
	case proto.TypeCallOfferAnswer:
		var oa proto.CallOfferAnswer
		if !h.decode(c, env, &oa) {
			return
		}
		h.forward(c, oa.SessionID, env)
	case proto.TypeCallICE:
		var ice proto.CallICE
		if !h.decode(c, env, &ice) {
			return
		}
		h.forward(c, ice.SessionID, env)
	default:
		h.sendError(c, "unknown_type", "unsupported event type: "+env.Type)
	}
}

func (h *Hub) decode(c *Client, env proto.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		h.log.Warn().Err(err).Str("type", env.Type).Str("user_id", c.UserID).Msg("malformed payload")
		h.sendError(c, "bad_payload", "malformed "+env.Type+" payload")
		return false
	}
	return true
}

func (h *Hub) handleRequest(c *Client, req proto.CallRequest) {
	if h.userBusyLocked(c.UserID) {
		h.sendError(c, "busy", "a call is already in progress")
		return
	}

	if req.IsGroupCall {
		h.handleGroupRequest(c, req)
		return
	}

	callee, ok := h.clients[req.CalleeUserID]
	if !ok {
		// The caller's pending session has no id yet; an empty-session
		// terminal status ends it.
		h.sendStatus(c, proto.CallStatus{
			Status: string(call.StatusEnded),
			Reason: proto.HangupPeerUnreachable,
		})
		return
	}
	if h.userBusyLocked(req.CalleeUserID) {
		h.sendStatus(c, proto.CallStatus{
			Status: string(call.StatusRejected),
		})
		return
	}

	sess := &session{
		info: proto.SessionInfo{
			ID:             uuid.NewString(),
			CallerUserID:   c.UserID,
			CalleeUserID:   req.CalleeUserID,
			ConversationID: req.ConversationID,
			IsVideoCall:    req.IsVideoCall,
		},
		status: call.StatusRinging,
	}
	h.sessions[sess.info.ID] = sess
	h.recordCreate(sess)
	h.armRingTimerLocked(sess)

	ringing := proto.CallStatus{Status: string(call.StatusRinging), Session: sess.info}
	h.sendStatus(c, ringing)
	h.sendStatus(callee, ringing)
	h.log.Info().
		Str("session_id", sess.info.ID).
		Str("caller", c.UserID).
		Str("callee", req.CalleeUserID).
		Msg("call ringing")
}

func (h *Hub) handleGroupRequest(c *Client, req proto.CallRequest) {
	if h.groups == nil || !h.groups.Enabled() {
		h.sendError(c, "sfu_disabled", "group calls are not available")
		return
	}

	sess := &session{
		info: proto.SessionInfo{
			ID:             uuid.NewString(),
			CallerUserID:   c.UserID,
			ConversationID: req.ConversationID,
			IsGroupCall:    true,
		},
		status: call.StatusRinging,
	}
	h.sessions[sess.info.ID] = sess
	h.recordCreate(sess)

	h.sendStatus(c, proto.CallStatus{Status: string(call.StatusRinging), Session: sess.info})

	info, err := h.groups.JoinInfo(sess.info.ID, c.UserID, c.Username)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", sess.info.ID).Msg("sfu token generation failed")
		h.endSessionLocked(sess.info.ID, call.StatusEnded, proto.HangupMediaFailure)
		return
	}
	env, err := proto.Encode(proto.TypeCallJoinInfo, info)
	if err != nil {
		h.log.Error().Err(err).Msg("encode join info")
		return
	}
	if !c.trySend(env) {
		h.log.Warn().Str("user_id", c.UserID).Msg("dropping join info, slow client")
	}

	// The SFU admits the caller directly; there is no ringing phase.
	sess.status = call.StatusAccepted
	h.recordStatus(sess, "")
	h.sendStatus(c, proto.CallStatus{Status: string(call.StatusAccepted), Session: sess.info})
}

func (h *Hub) handleAccept(c *Client, acc proto.CallAccept) {
	sess, ok := h.sessions[acc.SessionID]
	if !ok || sess.info.CalleeUserID != c.UserID || sess.status != call.StatusRinging {
		h.sendError(c, "no_session", "no ringing session to accept")
		return
	}

	sess.status = call.StatusAccepted
	if sess.ringTimer != nil {
		sess.ringTimer.Stop()
		sess.ringTimer = nil
	}
	h.recordStatus(sess, "")

	accepted := proto.CallStatus{Status: string(call.StatusAccepted), Session: sess.info}
	h.broadcastStatus(sess, accepted)
	h.log.Info().Str("session_id", sess.info.ID).Msg("call accepted")
}

func (h *Hub) handleReject(c *Client, rej proto.CallReject) {
	sess, ok := h.sessions[rej.SessionID]
	if !ok {
		return
	}
	if sess.info.CallerUserID != c.UserID && sess.info.CalleeUserID != c.UserID {
		return
	}
	h.endSessionLocked(rej.SessionID, call.StatusRejected, "")
}

func (h *Hub) handleHangup(c *Client, hang proto.CallHangup) {
	sess, ok := h.sessions[hang.SessionID]
	if !ok {
		return
	}
	if sess.info.CallerUserID != c.UserID && sess.info.CalleeUserID != c.UserID {
		return
	}

	status := call.StatusEnded
	if sess.status == call.StatusRinging && sess.info.CallerUserID == c.UserID {
		status = call.StatusCancelled
	}
	reason := hang.Reason
	if reason == "" {
		reason = proto.HangupNormal
	}
	h.endSessionLocked(hang.SessionID, status, reason)
}

// forward relays a negotiation event verbatim to the session peer.
func (h *Hub) forward(c *Client, sessionID string, env proto.Envelope) {
	sess, ok := h.sessions[sessionID]
	if !ok {
		h.sendError(c, "no_session", "unknown session "+sessionID)
		return
	}

	var peerID string
	switch c.UserID {
	case sess.info.CallerUserID:
		peerID = sess.info.CalleeUserID
	case sess.info.CalleeUserID:
		peerID = sess.info.CallerUserID
	default:
		h.sendError(c, "no_session", "not a party of session "+sessionID)
		return
	}

	peer, ok := h.clients[peerID]
	if !ok {
		h.endSessionLocked(sessionID, call.StatusEnded, proto.HangupPeerUnreachable)
		return
	}
	if !peer.trySend(env) {
		h.log.Warn().Str("user_id", peerID).Str("type", env.Type).Msg("dropping event, slow client")
	}
}

// endSessionLocked finalizes a session: status broadcast, history update,
// removal. Caller holds the hub lock.
func (h *Hub) endSessionLocked(id string, status call.Status, reason proto.HangupReason) {
	sess, ok := h.sessions[id]
	if !ok {
		return
	}
	if sess.ringTimer != nil {
		sess.ringTimer.Stop()
		sess.ringTimer = nil
	}
	sess.status = status
	delete(h.sessions, id)
	h.recordStatus(sess, reason)

	h.broadcastStatus(sess, proto.CallStatus{
		Status:  string(status),
		Session: sess.info,
		Reason:  reason,
	})
	h.log.Info().
		Str("session_id", id).
		Str("status", string(status)).
		Msg("call ended")
}

func (h *Hub) broadcastStatus(sess *session, status proto.CallStatus) {
	if c, ok := h.clients[sess.info.CallerUserID]; ok {
		h.sendStatus(c, status)
	}
	if sess.info.CalleeUserID != "" {
		if c, ok := h.clients[sess.info.CalleeUserID]; ok {
			h.sendStatus(c, status)
		}
	}
}

func (h *Hub) sendStatus(c *Client, status proto.CallStatus) {
	env, err := proto.Encode(proto.TypeCallStatus, status)
	if err != nil {
		h.log.Error().Err(err).Msg("encode call status")
		return
	}
	if !c.trySend(env) {
		h.log.Warn().Str("user_id", c.UserID).Msg("dropping status, slow client")
	}
}

func (h *Hub) sendError(c *Client, code, msg string) {
	env, err := proto.Encode(proto.TypeError, proto.Error{Code: code, Msg: msg})
	if err != nil {
		h.log.Error().Err(err).Msg("encode error event")
		return
	}
	c.trySend(env)
}

// armRingTimerLocked expires a session nobody answers.
func (h *Hub) armRingTimerLocked(sess *session) {
	if h.ringTimeout <= 0 {
		return
	}
	id := sess.info.ID
	sess.ringTimer = time.AfterFunc(h.ringTimeout, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if cur, ok := h.sessions[id]; ok && cur.status == call.StatusRinging {
			h.endSessionLocked(id, call.StatusCancelled, proto.HangupTimeout)
		}
	})
}

func (h *Hub) userBusyLocked(userID string) bool {
	for _, sess := range h.sessions {
		if sess.info.CallerUserID == userID || sess.info.CalleeUserID == userID {
			return true
		}
	}
	return false
}

// recordCreate persists the new session, best effort.
func (h *Hub) recordCreate(sess *session) {
	if h.calls == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	rec := &store.CallRecord{
		ID:             sess.info.ID,
		CallerUserID:   sess.info.CallerUserID,
		CalleeUserID:   sess.info.CalleeUserID,
		ConversationID: sess.info.ConversationID,
		IsVideoCall:    sess.info.IsVideoCall,
		IsGroupCall:    sess.info.IsGroupCall,
		Status:         string(sess.status),
		StartedAt:      time.Now().UTC(),
	}
	if err := h.calls.CreateCall(ctx, rec); err != nil {
		h.log.Warn().Err(err).Str("session_id", sess.info.ID).Msg("recording call")
	}
}

// recordStatus persists a status change, best effort.
func (h *Hub) recordStatus(sess *session, reason proto.HangupReason) {
	if h.calls == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	var endedAt *time.Time
	if sess.status.Terminal() {
		now := time.Now().UTC()
		endedAt = &now
	}
	if err := h.calls.UpdateCallStatus(ctx, sess.info.ID, string(sess.status), string(reason), endedAt); err != nil {
		h.log.Warn().Err(err).Str("session_id", sess.info.ID).Msg("updating call record")
	}
}
