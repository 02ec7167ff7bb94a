package call

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// maxQueuedCandidates bounds the buffer against a misbehaving peer.
const maxQueuedCandidates = 256

// CandidateQueue buffers remote ICE candidates that arrive before the
// remote description is applied. Candidates are flushed exactly once, in
// arrival order, and never re-queued afterwards.
type CandidateQueue struct {
	pending []webrtc.ICECandidateInit
}

// NewCandidateQueue returns an empty queue.
func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{}
}

// Enqueue appends a candidate. Always legal. Overflow drops the newest
// candidate; trickle ICE tolerates loss.
func (q *CandidateQueue) Enqueue(c webrtc.ICECandidateInit) {
	if len(q.pending) >= maxQueuedCandidates {
		return
	}
	q.pending = append(q.pending, c)
}

// TryApply applies the candidate immediately when the link already has a
// remote description, and queues it otherwise.
func (q *CandidateQueue) TryApply(link PeerLink, c webrtc.ICECandidateInit) error {
	if link == nil || link.RemoteDescription() == nil {
		q.Enqueue(c)
		return nil
	}
	return link.AddICECandidate(c)
}

// Flush applies every queued candidate in FIFO order and empties the
// queue. A single malformed or stale candidate is logged and skipped; it
// must not block the rest.
func (q *CandidateQueue) Flush(link PeerLink, logger *zerolog.Logger) {
	for _, c := range q.pending {
		if err := link.AddICECandidate(c); err != nil {
			logger.Warn().Err(err).Msg("dropping queued ice candidate")
		}
	}
	q.pending = nil
}

// Len returns the number of buffered candidates.
func (q *CandidateQueue) Len() int { return len(q.pending) }

// Reset discards buffered candidates without applying them.
func (q *CandidateQueue) Reset() { q.pending = nil }
