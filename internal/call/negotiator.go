package call

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// guardState consolidates the negotiation guards into one value so
// illegal combinations are unrepresentable. Exactly one phase is in
// effect at a time on the engine loop.
type guardState int

const (
	guardIdle guardState = iota
	guardMakingOffer
	guardApplyingRemote
)

// sdpSender delivers a local description to the peer over signaling.
type sdpSender func(kind string, sdp string) error

// Negotiator implements perfect negotiation for one PeerLink: it decides,
// for every local or remote negotiation event, the SDP operation sequence
// that lets two symmetric peers converge without a coordinator. The role
// is fixed per session; only the polite side ever rolls back.
type Negotiator struct {
	link  PeerLink
	role  Role
	queue *CandidateQueue
	send  sdpSender
	log   *zerolog.Logger

	guard guardState
}

// NewNegotiator binds a negotiator to a link for one session.
func NewNegotiator(link PeerLink, role Role, queue *CandidateQueue, send sdpSender, logger *zerolog.Logger) *Negotiator {
	return &Negotiator{
		link:  link,
		role:  role,
		queue: queue,
		send:  send,
		log:   logger,
	}
}

// HandleNegotiationNeeded creates and sends a local offer. The offer is
// only applied when the signaling state is stable; otherwise another
// negotiation is in flight and the event will fire again once it settles.
// The makingOffer guard is cleared on every exit path.
func (n *Negotiator) HandleNegotiationNeeded() error {
	if n.guard != guardIdle {
		n.log.Debug().Msg("negotiation needed while busy, skipping")
		return nil
	}
	n.guard = guardMakingOffer
	defer func() { n.guard = guardIdle }()

	offer, err := n.link.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if n.link.SignalingState() != webrtc.SignalingStateStable {
		n.log.Debug().Str("state", n.link.SignalingState().String()).Msg("not stable, deferring offer")
		return nil
	}
	if err := n.link.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	if err := n.send(webrtc.SDPTypeOffer.String(), offer.SDP); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	return nil
}

// HandleRemoteOffer resolves glare and answers the remote offer. On a
// collision the polite peer rolls back its own in-flight offer and
// yields; the impolite peer ignores the incoming offer entirely, and its
// own offer wins. After the offer is applied the candidate queue is
// flushed and an answer is produced and sent. Returns whether the offer
// was applied; an ignored colliding offer leaves the link untouched.
func (n *Negotiator) HandleRemoteOffer(sdp string) (bool, error) {
	collision := n.guard == guardMakingOffer || n.link.SignalingState() != webrtc.SignalingStateStable
	if collision {
		if n.role == RoleImpolite {
			n.log.Debug().Msg("offer glare, impolite side ignoring remote offer")
			return false, nil
		}
		if err := n.link.Rollback(); err != nil {
			return false, fmt.Errorf("rollback local offer: %w", err)
		}
		n.log.Debug().Msg("offer glare, polite side rolled back")
	}

	n.guard = guardApplyingRemote
	defer func() { n.guard = guardIdle }()

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := n.link.SetRemoteDescription(offer); err != nil {
		return false, fmt.Errorf("set remote offer: %w", err)
	}
	n.queue.Flush(n.link, n.log)

	answer, err := n.link.CreateAnswer()
	if err != nil {
		return false, fmt.Errorf("create answer: %w", err)
	}
	if err := n.link.SetLocalDescription(answer); err != nil {
		return false, fmt.Errorf("set local answer: %w", err)
	}
	if err := n.send(webrtc.SDPTypeAnswer.String(), answer.SDP); err != nil {
		return false, fmt.Errorf("send answer: %w", err)
	}
	return true, nil
}

// HandleRemoteAnswer applies a remote answer. An answer arriving while
// the link is not in have-local-offer is stale or a protocol violation;
// it is logged and discarded, never surfaced. Returns whether the answer
// was applied.
func (n *Negotiator) HandleRemoteAnswer(sdp string) (bool, error) {
	if n.link.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		n.log.Warn().Str("state", n.link.SignalingState().String()).Msg("discarding answer outside have-local-offer")
		return false, nil
	}

	n.guard = guardApplyingRemote
	defer func() { n.guard = guardIdle }()

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := n.link.SetRemoteDescription(answer); err != nil {
		return false, fmt.Errorf("set remote answer: %w", err)
	}
	n.queue.Flush(n.link, n.log)
	return true, nil
}

// HandleRemoteCandidate applies a trickled candidate, queueing it when
// the remote description is not yet set.
func (n *Negotiator) HandleRemoteCandidate(c webrtc.ICECandidateInit) {
	if err := n.queue.TryApply(n.link, c); err != nil {
		// Routine: stale or malformed candidates are dropped.
		n.log.Warn().Err(err).Msg("dropping remote ice candidate")
	}
}
