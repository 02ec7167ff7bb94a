// Package groupcall provides SFU join credentials for N-way calls. Group
// calls do not run through the pairwise negotiation engine; every
// participant connects to a LiveKit room instead, so no polite/impolite
// roles need to exist between more than two peers.
package groupcall

import (
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/vovakirdan/wirecall/internal/proto"
)

// Provider issues LiveKit room names and access tokens.
type Provider struct {
	apiKey    string
	apiSecret string
	wsURL     string
}

// New creates a provider for the given LiveKit deployment.
func New(apiKey, apiSecret, wsURL string) *Provider {
	return &Provider{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		wsURL:     wsURL,
	}
}

// Enabled reports whether an SFU is configured. Group call requests are
// refused when it is not.
func (p *Provider) Enabled() bool {
	return p.apiKey != "" && p.apiSecret != "" && p.wsURL != ""
}

// RoomName derives the SFU room for a session. LiveKit creates rooms
// on demand when the first participant joins.
func (p *Provider) RoomName(sessionID string) string {
	return fmt.Sprintf("wirecall-group-%s", sessionID)
}

// JoinInfo creates join credentials for one participant.
func (p *Provider) JoinInfo(sessionID, userID, username string) (*proto.CallJoinInfo, error) {
	room := p.RoomName(sessionID)

	at := auth.NewAccessToken(p.apiKey, p.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     room,
	}
	at.SetVideoGrant(grant).
		SetIdentity(userID).
		SetName(username).
		SetValidFor(time.Hour)

	token, err := at.ToJWT()
	if err != nil {
		return nil, fmt.Errorf("generate sfu token: %w", err)
	}

	return &proto.CallJoinInfo{
		SessionID: sessionID,
		URL:       p.wsURL,
		Token:     token,
		RoomName:  room,
		Identity:  userID,
	}, nil
}
