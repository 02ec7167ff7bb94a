package call

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/proto"
	"github.com/vovakirdan/wirecall/internal/signaling"
)

const defaultAcceptTimeout = 30 * time.Second

// Options configures a call engine. Transport and Devices are required;
// everything else has a usable default so independent engines (and tests)
// can be built side by side.
type Options struct {
	// UserID is the local participant identity, used to tell the caller
	// and callee sides of a session apart.
	UserID string

	Transport signaling.Transport
	Devices   Devices

	Observer Observer
	Logger   *zerolog.Logger

	// LinkFactory builds PeerLinks; defaults to NewPionLink.
	LinkFactory LinkFactory
	STUNServers []string

	// AcceptTimeout bounds how long an accepted session waits for the
	// caller's offer before it is torn down with reason TIMEOUT.
	AcceptTimeout time.Duration
}

// Engine is the call lifecycle orchestrator: the public entry point for
// starting, accepting, rejecting and ending calls. All state (the
// session store, the PeerLink, the negotiation guards) is owned by a
// single event loop goroutine; public methods post commands into the
// loop, and transport events and connection callbacks are serialized the
// same way. Concurrency is logical interleaving only, never parallel
// mutation.
type Engine struct {
	opts Options
	log  *zerolog.Logger

	store  *SessionStore
	queue  *CandidateQueue
	tracks *TrackManager

	// Per-session resources, nil between sessions.
	link PeerLink
	neg  *Negotiator

	// epoch increments on every cleanup; async results carrying an older
	// epoch belong to a dead session and are discarded.
	epoch       uint64
	acceptTimer *time.Timer

	cmds chan func()
	done chan struct{}
}

// New constructs an engine. Run must be called before any operation.
func New(opts Options) (*Engine, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("call engine: transport is required")
	}
	if opts.Devices == nil {
		return nil, fmt.Errorf("call engine: devices are required")
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	if opts.LinkFactory == nil {
		opts.LinkFactory = NewPionLink
	}
	if opts.AcceptTimeout == 0 {
		opts.AcceptTimeout = defaultAcceptTimeout
	}

	return &Engine{
		opts:   opts,
		log:    opts.Logger,
		store:  NewSessionStore(),
		queue:  NewCandidateQueue(),
		tracks: NewTrackManager(opts.Devices, opts.Logger),
		cmds:   make(chan func(), 16),
		done:   make(chan struct{}),
	}, nil
}

// Run drives the event loop until the context is cancelled or the
// transport goes away. It always leaves the engine cleaned up.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	defer e.cleanupLocked()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-e.cmds:
			fn()
		case env, ok := <-e.opts.Transport.Events():
			if !ok {
				e.log.Warn().Msg("signaling transport closed")
				return ErrTransportUnavailable
			}
			e.handleEvent(env)
		}
	}
}

// do runs fn on the engine loop and waits for its result.
func (e *Engine) do(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case e.cmds <- func() { errCh <- fn() }:
	case <-e.done:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errCh:
		return err
	case <-e.done:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post schedules fn on the loop from a callback goroutine. The send is
// synchronous so events fired in sequence from one goroutine reach the
// loop in firing order. fn is dropped when the engine stops or when the
// session it belongs to was cleaned up.
func (e *Engine) post(epoch uint64, fn func()) {
	select {
	case e.cmds <- func() {
		if e.epoch != epoch {
			e.log.Debug().Msg("discarding stale async result")
			return
		}
		fn()
	}:
	case <-e.done:
	}
}

// StartCall begins an outgoing 1:1 call. Local media is acquired first
// (audio always, video when requested); a media failure aborts the call
// and is surfaced, never swallowed. The relay assigns the session id via
// the RINGING status broadcast. The caller takes the impolite role and
// drives the first offer once the peer accepts.
func (e *Engine) StartCall(ctx context.Context, calleeUserID, conversationID string, withVideo bool) (Session, error) {
	var out Session
	err := e.do(ctx, func() error {
		if e.store.Busy() {
			return ErrBusy
		}

		if err := e.tracks.Acquire(ctx, withVideo); err != nil {
			return err
		}

		env, err := proto.Encode(proto.TypeCallRequest, proto.CallRequest{
			CalleeUserID:   calleeUserID,
			ConversationID: conversationID,
			IsVideoCall:    withVideo,
		})
		if err != nil {
			e.tracks.StopAll()
			return fmt.Errorf("encode call request: %w", err)
		}
		if err := e.opts.Transport.Send(ctx, env); err != nil {
			e.tracks.StopAll()
			return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
		}

		sess := &Session{
			CallerUserID:   e.opts.UserID,
			CalleeUserID:   calleeUserID,
			ConversationID: conversationID,
			IsVideoCall:    withVideo,
			Status:         StatusRinging,
			Role:           RoleImpolite,
		}
		e.store.SetActive(sess)
		e.notifyStatus(sess)
		out = *sess
		return nil
	})
	return out, err
}

// StartGroupCall requests an N-way call for a conversation. Group calls
// are delegated to the SFU: the relay answers with join credentials via
// the observer instead of entering the 1:1 negotiation path.
func (e *Engine) StartGroupCall(ctx context.Context, conversationID string) (Session, error) {
	var out Session
	err := e.do(ctx, func() error {
		if e.store.Busy() {
			return ErrBusy
		}

		env, err := proto.Encode(proto.TypeCallRequest, proto.CallRequest{
			ConversationID: conversationID,
			IsGroupCall:    true,
		})
		if err != nil {
			return fmt.Errorf("encode call request: %w", err)
		}
		if err := e.opts.Transport.Send(ctx, env); err != nil {
			return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
		}

		sess := &Session{
			CallerUserID:   e.opts.UserID,
			ConversationID: conversationID,
			IsGroupCall:    true,
			Status:         StatusRinging,
			Role:           RoleImpolite,
		}
		e.store.SetActive(sess)
		e.notifyStatus(sess)
		out = *sess
		return nil
	})
	return out, err
}

// AcceptCall answers the ringing incoming session. The acceptor takes
// the polite role, acquires audio only (video is opt-in after accept)
// and arms the auto-cleanup timer in case the caller never negotiates.
func (e *Engine) AcceptCall(ctx context.Context) (Session, error) {
	var out Session
	err := e.do(ctx, func() error {
		inc := e.store.Incoming()
		if inc == nil || inc.Status != StatusRinging {
			return ErrNoIncomingCall
		}

		if err := e.tracks.Acquire(ctx, false); err != nil {
			return err
		}

		sess := e.store.PromoteIncoming()
		if err := e.openLink(sess); err != nil {
			e.tracks.StopAll()
			e.store.Clear()
			return err
		}

		env, err := proto.Encode(proto.TypeCallAccept, proto.CallAccept{SessionID: sess.ID})
		if err != nil {
			e.cleanupLocked()
			return fmt.Errorf("encode accept: %w", err)
		}
		if err := e.opts.Transport.Send(ctx, env); err != nil {
			e.cleanupLocked()
			return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
		}

		sess.Status = StatusAccepted
		e.notifyStatus(sess)
		e.armAcceptTimer()
		out = *sess
		return nil
	})
	return out, err
}

// RejectCall declines the incoming or active session. No-op when no
// session exists, when the session is already terminal, or when the call
// is connected (use HangupCall then). Idempotent.
func (e *Engine) RejectCall(ctx context.Context) error {
	return e.do(ctx, func() error {
		sess := e.currentSession()
		if sess == nil || sess.Status.Terminal() || sess.Status == StatusConnected {
			return nil
		}

		e.sendBestEffort(ctx, proto.TypeCallReject, proto.CallReject{SessionID: sess.ID})
		sess.Status = StatusRejected
		e.notifyStatus(sess)
		e.cleanupLocked()
		return nil
	})
}

// HangupCall ends the session with the given reason. A caller hanging up
// while still ringing cancels the call. No-op without a live session;
// idempotent.
func (e *Engine) HangupCall(ctx context.Context, reason proto.HangupReason) error {
	return e.do(ctx, func() error {
		sess := e.currentSession()
		if sess == nil || sess.Status.Terminal() {
			return nil
		}

		e.sendBestEffort(ctx, proto.TypeCallHangup, proto.CallHangup{SessionID: sess.ID, Reason: reason})

		if sess.Role == RoleImpolite && sess.Status == StatusRinging {
			sess.Status = StatusCancelled
		} else {
			sess.Status = StatusEnded
		}
		e.notifyStatus(sess)
		e.cleanupLocked()
		return nil
	})
}

// Cleanup unconditionally releases every call resource. Safe from any
// state, including with no session at all, and never returns an engine
// error.
func (e *Engine) Cleanup(ctx context.Context) error {
	return e.do(ctx, func() error {
		e.cleanupLocked()
		return nil
	})
}

// ToggleVideo switches the local video track on or off and returns the
// new state. Track add/remove renegotiates through the link; with no
// active link this is a no-op returning false.
func (e *Engine) ToggleVideo(ctx context.Context) (bool, error) {
	var enabled bool
	err := e.do(ctx, func() error {
		on, err := e.tracks.ToggleVideo(ctx, e.link)
		if err != nil {
			return err
		}
		enabled = on
		if sess := e.store.Active(); sess != nil {
			sess.IsVideoCall = sess.IsVideoCall || on
		}
		return nil
	})
	return enabled, err
}

// ToggleMic flips the local audio mute flag and returns the new enabled
// state. Local-only; never renegotiates.
func (e *Engine) ToggleMic(ctx context.Context) (bool, error) {
	var enabled bool
	err := e.do(ctx, func() error {
		enabled = e.tracks.ToggleMic()
		return nil
	})
	return enabled, err
}

// Sessions returns copies of the active and incoming sessions, nil when
// absent.
func (e *Engine) Sessions(ctx context.Context) (active, incoming *Session, err error) {
	err = e.do(ctx, func() error {
		if s := e.store.Active(); s != nil {
			cp := *s
			active = &cp
		}
		if s := e.store.Incoming(); s != nil {
			cp := *s
			incoming = &cp
		}
		return nil
	})
	return active, incoming, err
}

// ---- event handling (engine loop only below this point) ----

func (e *Engine) handleEvent(env proto.Envelope) {
	switch env.Type {
	case proto.TypeCallStatus:
		var status proto.CallStatus
		if !e.decode(env, &status) {
			return
		}
		e.handleStatus(status)
	case proto.TypeCallOfferAnswer:
		var oa proto.CallOfferAnswer
		if !e.decode(env, &oa) {
			return
		}
		e.handleOfferAnswer(oa)
	case proto.TypeCallICE:
		var ice proto.CallICE
		if !e.decode(env, &ice) {
			return
		}
		e.handleRemoteICE(ice)
	case proto.TypeCallReject:
		var rej proto.CallReject
		if !e.decode(env, &rej) {
			return
		}
		e.handlePeerTerminal(rej.SessionID, StatusRejected)
	case proto.TypeCallHangup:
		var hang proto.CallHangup
		if !e.decode(env, &hang) {
			return
		}
		status := StatusEnded
		// The caller abandoning a still-ringing call is a cancellation
		// from the callee's point of view.
		if sess := e.currentSession(); sess != nil && sess.Status == StatusRinging {
			status = StatusCancelled
		}
		e.handlePeerTerminal(hang.SessionID, status)
	case proto.TypeCallJoinInfo:
		var info proto.CallJoinInfo
		if !e.decode(env, &info) {
			return
		}
		e.opts.Observer.GroupJoinInfo(info)
	case proto.TypeError:
		var perr proto.Error
		if !e.decode(env, &perr) {
			return
		}
		e.log.Warn().Str("code", perr.Code).Str("msg", perr.Msg).Msg("relay error")
	default:
		e.log.Debug().Str("type", env.Type).Msg("ignoring unknown signaling event")
	}
}

func (e *Engine) decode(env proto.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		e.log.Warn().Err(err).Str("type", env.Type).Msg("malformed signaling payload")
		return false
	}
	return true
}

func (e *Engine) handleStatus(status proto.CallStatus) {
	switch Status(status.Status) {
	case StatusRinging:
		e.handleRinging(status.Session)
	case StatusAccepted:
		e.handlePeerAccepted(status.Session)
	case StatusRejected:
		e.handlePeerTerminal(status.Session.ID, StatusRejected)
	case StatusCancelled:
		e.handlePeerTerminal(status.Session.ID, StatusCancelled)
	case StatusEnded:
		e.handlePeerTerminal(status.Session.ID, StatusEnded)
	default:
		e.log.Warn().Str("status", status.Status).Msg("unknown call status")
	}
}

// handleRinging either adopts the relay-issued session id (caller side)
// or records an incoming session (callee side). A request arriving while
// another session is live is rejected to keep one active session.
func (e *Engine) handleRinging(info proto.SessionInfo) {
	if info.CallerUserID == e.opts.UserID {
		sess := e.store.Active()
		if sess == nil || sess.ID != "" || sess.Status != StatusRinging {
			e.log.Warn().Str("session_id", info.ID).Msg("unexpected ringing status")
			return
		}
		sess.ID = info.ID
		e.log.Debug().Str("session_id", sess.ID).Msg("session id assigned")
		return
	}

	if e.store.Busy() {
		e.log.Info().Str("session_id", info.ID).Msg("busy, rejecting incoming call")
		e.sendBestEffort(context.Background(), proto.TypeCallReject, proto.CallReject{SessionID: info.ID})
		return
	}

	sess := &Session{
		ID:             info.ID,
		CallerUserID:   info.CallerUserID,
		CalleeUserID:   info.CalleeUserID,
		ConversationID: info.ConversationID,
		IsVideoCall:    info.IsVideoCall,
		IsGroupCall:    info.IsGroupCall,
		Status:         StatusRinging,
		Role:           RolePolite,
	}
	e.store.SetIncoming(sess)
	e.notifyStatus(sess)
}

// handlePeerAccepted runs on the caller when the callee accepts: open
// the link and attach the local tracks, which kicks off the first offer
// through negotiation-needed.
func (e *Engine) handlePeerAccepted(info proto.SessionInfo) {
	sess := e.store.Active()
	if sess == nil || sess.ID != info.ID || sess.Status != StatusRinging {
		e.log.Warn().Str("session_id", info.ID).Msg("stale accept, ignoring")
		return
	}
	if sess.IsGroupCall {
		sess.Status = StatusAccepted
		e.notifyStatus(sess)
		return
	}

	if err := e.openLink(sess); err != nil {
		e.log.Error().Err(err).Msg("opening peer link failed")
		e.terminate(sess, StatusEnded, proto.HangupMediaFailure)
		return
	}

	sess.Status = StatusAccepted
	e.notifyStatus(sess)
}

func (e *Engine) handleOfferAnswer(oa proto.CallOfferAnswer) {
	sess := e.store.Active()
	if sess == nil || sess.ID != oa.SessionID || e.neg == nil {
		e.log.Warn().Str("session_id", oa.SessionID).Msg("sdp for unknown session, discarding")
		return
	}

	switch oa.Kind {
	case proto.SDPOffer:
		e.stopAcceptTimer()
		applied, err := e.neg.HandleRemoteOffer(oa.SDP)
		if err != nil {
			// Recovered locally: negotiation will settle on a later pass.
			e.log.Error().Err(err).Msg("applying remote offer failed")
			return
		}
		// A colliding offer the impolite side ignored leaves negotiation
		// open; the session connects when the peer's answer lands.
		if applied && sess.Status == StatusAccepted {
			sess.Status = StatusConnected
			e.notifyStatus(sess)
		}
	case proto.SDPAnswer:
		applied, err := e.neg.HandleRemoteAnswer(oa.SDP)
		if err != nil {
			e.log.Error().Err(err).Msg("applying remote answer failed")
			return
		}
		if applied && sess.Status == StatusAccepted {
			sess.Status = StatusConnected
			e.notifyStatus(sess)
		}
	default:
		e.log.Warn().Str("kind", string(oa.Kind)).Msg("unknown sdp kind")
	}
}

func (e *Engine) handleRemoteICE(ice proto.CallICE) {
	sess := e.currentSession()
	if sess == nil || sess.ID != ice.SessionID {
		e.log.Debug().Str("session_id", ice.SessionID).Msg("ice for unknown session, discarding")
		return
	}

	cand := webrtc.ICECandidateInit{
		Candidate:     ice.Candidate,
		SDPMid:        ice.SDPMid,
		SDPMLineIndex: ice.SDPMLineIndex,
	}
	if e.neg == nil {
		// Candidates can trickle in before the call is accepted.
		e.queue.Enqueue(cand)
		return
	}
	e.neg.HandleRemoteCandidate(cand)
}

func (e *Engine) handlePeerTerminal(sessionID string, status Status) {
	sess := e.currentSession()
	if sess == nil || (sessionID != "" && sess.ID != sessionID) {
		return
	}
	if sess.Status.Terminal() {
		return
	}
	sess.Status = status
	e.notifyStatus(sess)
	e.cleanupLocked()
}

// terminate ends the session locally and tells the peer why.
func (e *Engine) terminate(sess *Session, status Status, reason proto.HangupReason) {
	e.sendBestEffort(context.Background(), proto.TypeCallHangup, proto.CallHangup{SessionID: sess.ID, Reason: reason})
	sess.Status = status
	e.notifyStatus(sess)
	e.cleanupLocked()
}

// ---- link lifecycle ----

// openLink builds the PeerLink for the session, wires its callbacks back
// onto the engine loop and attaches the local tracks.
func (e *Engine) openLink(sess *Session) error {
	link, err := e.opts.LinkFactory(e.opts.STUNServers)
	if err != nil {
		return fmt.Errorf("create peer link: %w", err)
	}

	sessionID := sess.ID
	epoch := e.epoch

	sendSDP := func(kind, sdp string) error {
		sdpKind := proto.SDPAnswer
		if kind == webrtc.SDPTypeOffer.String() {
			sdpKind = proto.SDPOffer
		}
		env, err := proto.Encode(proto.TypeCallOfferAnswer, proto.CallOfferAnswer{
			SessionID: sessionID,
			SDP:       sdp,
			Kind:      sdpKind,
		})
		if err != nil {
			return err
		}
		return e.opts.Transport.Send(context.Background(), env)
	}

	neg := NewNegotiator(link, sess.Role, e.queue, sendSDP, e.log)

	link.OnNegotiationNeeded(func() {
		e.post(epoch, func() {
			if err := e.neg.HandleNegotiationNeeded(); err != nil {
				e.log.Error().Err(err).Msg("negotiation failed")
			}
		})
	})
	link.OnICECandidate(func(c webrtc.ICECandidateInit) {
		e.post(epoch, func() {
			e.sendBestEffort(context.Background(), proto.TypeCallICE, proto.CallICE{
				SessionID:     sessionID,
				Candidate:     c.Candidate,
				SDPMid:        c.SDPMid,
				SDPMLineIndex: c.SDPMLineIndex,
			})
		})
	})
	link.OnTrack(func(kind TrackKind) {
		e.post(epoch, func() {
			e.opts.Observer.RemoteTrackAdded(kind)
		})
	})
	link.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.post(epoch, func() {
			e.log.Debug().Str("state", state.String()).Msg("peer connection state")
			if state == webrtc.PeerConnectionStateFailed {
				if sess := e.store.Active(); sess != nil && !sess.Status.Terminal() {
					e.terminate(sess, StatusEnded, proto.HangupPeerUnreachable)
				}
			}
		})
	})

	if err := e.tracks.AttachTo(link); err != nil {
		if closeErr := link.Close(); closeErr != nil {
			e.log.Warn().Err(closeErr).Msg("closing link after attach failure")
		}
		return err
	}

	e.link = link
	e.neg = neg
	return nil
}

// ---- helpers ----

func (e *Engine) currentSession() *Session {
	if s := e.store.Active(); s != nil {
		return s
	}
	return e.store.Incoming()
}

func (e *Engine) notifyStatus(sess *Session) {
	e.log.Info().
		Str("session_id", sess.ID).
		Str("status", string(sess.Status)).
		Msg("session status changed")
	e.opts.Observer.SessionStatusChanged(*sess)
}

func (e *Engine) sendBestEffort(ctx context.Context, typ string, payload any) {
	env, err := proto.Encode(typ, payload)
	if err != nil {
		e.log.Error().Err(err).Str("type", typ).Msg("encode signaling event")
		return
	}
	if err := e.opts.Transport.Send(ctx, env); err != nil {
		e.log.Warn().Err(err).Str("type", typ).Msg("send signaling event")
	}
}

func (e *Engine) armAcceptTimer() {
	e.stopAcceptTimer()
	epoch := e.epoch
	e.acceptTimer = time.AfterFunc(e.opts.AcceptTimeout, func() {
		e.post(epoch, e.acceptTimedOut)
	})
}

func (e *Engine) stopAcceptTimer() {
	if e.acceptTimer != nil {
		e.acceptTimer.Stop()
		e.acceptTimer = nil
	}
}

// acceptTimedOut tears down an accepted session whose caller never sent
// an offer, so a peer that accepted but never negotiated cannot leak
// resources.
func (e *Engine) acceptTimedOut() {
	sess := e.store.Active()
	if sess == nil || sess.Status != StatusAccepted {
		return
	}
	e.log.Warn().Str("session_id", sess.ID).Msg("no offer within accept window")
	e.terminate(sess, StatusEnded, proto.HangupTimeout)
}

// cleanupLocked releases every per-session resource. Each step is
// independent: a failing track stop never prevents the link close. Safe
// from any state; bumps the epoch so in-flight async work is discarded.
func (e *Engine) cleanupLocked() {
	e.epoch++
	e.stopAcceptTimer()

	e.tracks.StopAll()

	if e.link != nil {
		if err := e.link.Close(); err != nil {
			e.log.Warn().Err(err).Msg("closing peer link")
		}
		e.link = nil
	}
	e.neg = nil
	e.queue.Reset()
	e.store.Clear()
}
