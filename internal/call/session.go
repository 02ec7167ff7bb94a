package call

// Status is the lifecycle state of a call session.
// Keep values stable because they travel over the signaling protocol.
type Status string

const (
	StatusRinging   Status = "RINGING"
	StatusAccepted  Status = "ACCEPTED"
	StatusConnected Status = "CONNECTED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusEnded     Status = "ENDED"
)

// Terminal reports whether the status ends the session. Terminal sessions
// are cleared from the store on cleanup.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusEnded:
		return true
	}
	return false
}

// Role resolves offer glare: exactly one side must yield when both peers
// offer at once. The caller is impolite (its offer wins), the acceptor is
// polite (it rolls back).
type Role string

const (
	RolePolite   Role = "POLITE"
	RoleImpolite Role = "IMPOLITE"
)

// Session is one call attempt/connection between two users.
type Session struct {
	ID             string
	CallerUserID   string
	CalleeUserID   string
	ConversationID string
	IsVideoCall    bool
	IsGroupCall    bool
	Status         Status
	Role           Role
}

// SessionStore holds at most one active and one incoming session. It is
// exclusively owned by the engine loop and is not safe for concurrent use.
type SessionStore struct {
	active   *Session
	incoming *Session
}

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

// Active returns the active session, or nil.
func (s *SessionStore) Active() *Session { return s.active }

// Incoming returns the pending incoming session, or nil.
func (s *SessionStore) Incoming() *Session { return s.incoming }

// SetActive installs the active session. Only legal when no non-terminal
// session is held.
func (s *SessionStore) SetActive(sess *Session) bool {
	if s.Busy() {
		return false
	}
	s.active = sess
	return true
}

// SetIncoming records a ringing incoming session.
func (s *SessionStore) SetIncoming(sess *Session) bool {
	if s.Busy() {
		return false
	}
	s.incoming = sess
	return true
}

// PromoteIncoming moves the incoming session into the active slot.
func (s *SessionStore) PromoteIncoming() *Session {
	if s.incoming == nil {
		return nil
	}
	s.active = s.incoming
	s.incoming = nil
	return s.active
}

// Busy reports whether any non-terminal session is held. A second call
// request arriving while busy must be refused.
func (s *SessionStore) Busy() bool {
	if s.active != nil && !s.active.Status.Terminal() {
		return true
	}
	if s.incoming != nil && !s.incoming.Status.Terminal() {
		return true
	}
	return false
}

// Clear drops every session reference. Safe to call on an empty store.
func (s *SessionStore) Clear() {
	s.active = nil
	s.incoming = nil
}
