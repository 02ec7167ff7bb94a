// Package media captures local audio and video through pion/mediadevices
// and exposes them as call tracks. Opus for audio and VP8 for video, the
// baseline every browser peer decodes.
package media

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	// Driver registration side effects; capture finds nothing without them.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"

	"github.com/vovakirdan/wirecall/internal/call"
)

// Source acquires capture tracks from the platform devices. Safe for use
// from a single engine loop; the codec selector is built once.
type Source struct {
	selector *mediadevices.CodecSelector
}

// NewSource configures the codec stack: Opus at 32 kbps for audio, VP8
// VBR at 100 kbps for video.
func NewSource() (*Source, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 100_000
	vpxParams.KeyFrameInterval = 15
	vpxParams.RateControlEndUsage = vpx.RateControlVBR
	vpxParams.Deadline = 200 * time.Millisecond

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	return &Source{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// AcquireAudio captures the default microphone.
func (s *Source) AcquireAudio(ctx context.Context) (call.LocalTrack, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
			c.Latency = prop.Duration(20 * time.Millisecond)
		},
		Codec: s.selector,
	})
	if err != nil {
		return nil, captureError("microphone", err)
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: no audio track captured", call.ErrDeviceUnavailable)
	}
	return newLocalTrack(call.TrackAudio, tracks[0]), nil
}

// AcquireVideo captures the default camera.
func (s *Source) AcquireVideo(ctx context.Context) (call.LocalTrack, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(640)
			c.Height = prop.Int(480)
			c.FrameRate = prop.Float(30)
		},
		Codec: s.selector,
	})
	if err != nil {
		return nil, captureError("camera", err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: no video track captured", call.ErrDeviceUnavailable)
	}
	return newLocalTrack(call.TrackVideo, tracks[0]), nil
}

// captureError classifies a capture failure as access-denied or
// device-unavailable so callers can branch on the sentinel.
func captureError(device string, err error) error {
	if os.IsPermission(err) || strings.Contains(strings.ToLower(err.Error()), "permission") {
		return fmt.Errorf("%w: %s: %v", call.ErrMediaAccessDenied, device, err)
	}
	return fmt.Errorf("%w: %s: %v", call.ErrDeviceUnavailable, device, err)
}

// localTrack adapts one mediadevices track to the call engine. Enabled is
// a local mute flag; the capture keeps running while muted.
type localTrack struct {
	kind  call.TrackKind
	track mediadevices.Track

	mu      sync.Mutex
	enabled bool
	closed  bool
}

func newLocalTrack(kind call.TrackKind, track mediadevices.Track) *localTrack {
	return &localTrack{kind: kind, track: track, enabled: true}
}

func (t *localTrack) Kind() call.TrackKind { return t.kind }

func (t *localTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *localTrack) SetEnabled(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = v
}

func (t *localTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.track.Close()
}

// RTC exposes the underlying track for attachment to a peer connection.
func (t *localTrack) RTC() webrtc.TrackLocal { return t.track }
