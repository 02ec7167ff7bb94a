package call

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// TrackKind distinguishes audio from video tracks.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// LocalTrack is one captured media track owned by the TrackManager.
// Enabled is a local-only mute flag; flipping it never renegotiates.
type LocalTrack interface {
	Kind() TrackKind
	Enabled() bool
	SetEnabled(bool)
	Close() error
}

// Devices acquires capture tracks from the platform. Implementations must
// fail with ErrMediaAccessDenied or ErrDeviceUnavailable distinctly and
// never return a partial result as success.
type Devices interface {
	AcquireAudio(ctx context.Context) (LocalTrack, error)
	AcquireVideo(ctx context.Context) (LocalTrack, error)
}

// TrackManager owns the local audio/video tracks for one session and
// attaches them to the active PeerLink. Adding or removing the video
// track triggers renegotiation through the link's negotiation-needed
// callback. Owned by the engine loop; not safe for concurrent use.
type TrackManager struct {
	devices Devices
	log     *zerolog.Logger

	audio       LocalTrack
	video       LocalTrack
	audioSender TrackSender
	videoSender TrackSender
}

// NewTrackManager builds a manager around the given device source.
func NewTrackManager(devices Devices, logger *zerolog.Logger) *TrackManager {
	return &TrackManager{devices: devices, log: logger}
}

// Acquire captures audio, and video when requested. On any failure every
// already-captured track is released so the caller never observes a
// partial stream.
func (m *TrackManager) Acquire(ctx context.Context, withVideo bool) error {
	audio, err := m.devices.AcquireAudio(ctx)
	if err != nil {
		return fmt.Errorf("acquire audio: %w", err)
	}
	m.audio = audio

	if withVideo {
		video, err := m.devices.AcquireVideo(ctx)
		if err != nil {
			m.releaseTrack(&m.audio, &m.audioSender)
			return fmt.Errorf("acquire video: %w", err)
		}
		m.video = video
	}
	return nil
}

// AttachTo adds every held track to the link. The resulting sender
// handles are kept for later detach.
func (m *TrackManager) AttachTo(link PeerLink) error {
	if m.audio != nil && m.audioSender == nil {
		sender, err := link.AddTrack(m.audio)
		if err != nil {
			return fmt.Errorf("attach audio: %w", err)
		}
		m.audioSender = sender
	}
	if m.video != nil && m.videoSender == nil {
		sender, err := link.AddTrack(m.video)
		if err != nil {
			return fmt.Errorf("attach video: %w", err)
		}
		m.videoSender = sender
	}
	return nil
}

// ToggleVideo turns the video track on or off and returns the new state.
// Off→on acquires a fresh track and attaches a sender; on→off stops the
// sender and closes the track. With no active link it is a no-op.
func (m *TrackManager) ToggleVideo(ctx context.Context, link PeerLink) (bool, error) {
	if link == nil {
		return false, nil
	}

	if m.video == nil {
		video, err := m.devices.AcquireVideo(ctx)
		if err != nil {
			return false, fmt.Errorf("acquire video: %w", err)
		}
		sender, err := link.AddTrack(video)
		if err != nil {
			if closeErr := video.Close(); closeErr != nil {
				m.log.Warn().Err(closeErr).Msg("closing unattached video track")
			}
			return false, fmt.Errorf("attach video: %w", err)
		}
		m.video = video
		m.videoSender = sender
		return true, nil
	}

	m.releaseTrack(&m.video, &m.videoSender)
	return false, nil
}

// ToggleMic flips the local mute flag on the audio track and returns the
// new enabled state. Mute is local-only: no track is added or removed and
// no renegotiation happens.
func (m *TrackManager) ToggleMic() bool {
	if m.audio == nil {
		return false
	}
	m.audio.SetEnabled(!m.audio.Enabled())
	return m.audio.Enabled()
}

// VideoEnabled reports whether a live video track is held. The invariant
// is that this always matches video track presence.
func (m *TrackManager) VideoEnabled() bool { return m.video != nil }

// MicEnabled reports the audio mute flag. False when no audio is held.
func (m *TrackManager) MicEnabled() bool {
	return m.audio != nil && m.audio.Enabled()
}

// StopAll releases every track and sender. Each resource is released
// independently; one failure never prevents the others. Safe to call
// repeatedly and with nothing held.
func (m *TrackManager) StopAll() {
	m.releaseTrack(&m.audio, &m.audioSender)
	m.releaseTrack(&m.video, &m.videoSender)
}

func (m *TrackManager) releaseTrack(track *LocalTrack, sender *TrackSender) {
	if *sender != nil {
		if err := (*sender).Stop(); err != nil {
			m.log.Warn().Err(err).Msg("stopping track sender")
		}
		*sender = nil
	}
	if *track != nil {
		if err := (*track).Close(); err != nil {
			m.log.Warn().Err(err).Msg("closing local track")
		}
		*track = nil
	}
}
