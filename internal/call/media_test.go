package call

import (
	"context"
	"errors"
	"testing"
)

func TestAcquireVideoFailureReleasesAudio(t *testing.T) {
	devices := &fakeDevices{videoErr: ErrMediaAccessDenied}
	m := NewTrackManager(devices, nopLogger())

	err := m.Acquire(context.Background(), true)
	if !errors.Is(err, ErrMediaAccessDenied) {
		t.Fatalf("expected media access error, got %v", err)
	}
	if len(devices.audioTracks) != 1 || !devices.audioTracks[0].closed {
		t.Fatal("audio captured before the failure must be released")
	}
	if m.MicEnabled() || m.VideoEnabled() {
		t.Fatal("no track may survive a failed acquire")
	}
}

func TestToggleVideoRestoresSendingState(t *testing.T) {
	devices := &fakeDevices{}
	m := NewTrackManager(devices, nopLogger())
	link := newFakeLink()

	if err := m.Acquire(context.Background(), false); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := m.AttachTo(link); err != nil {
		t.Fatalf("AttachTo: %v", err)
	}

	on, err := m.ToggleVideo(context.Background(), link)
	if err != nil || !on {
		t.Fatalf("ToggleVideo on: %v %v", on, err)
	}
	if !m.VideoEnabled() {
		t.Fatal("video must be enabled after toggle on")
	}

	on, err = m.ToggleVideo(context.Background(), link)
	if err != nil || on {
		t.Fatalf("ToggleVideo off: %v %v", on, err)
	}
	if m.VideoEnabled() {
		t.Fatal("video must be disabled after toggle off")
	}
	if !devices.videoTracks[0].closed {
		t.Fatal("removed video track must be closed")
	}

	// Back on: a fresh track, a fresh sender.
	on, err = m.ToggleVideo(context.Background(), link)
	if err != nil || !on {
		t.Fatalf("ToggleVideo back on: %v %v", on, err)
	}
	if len(devices.videoTracks) != 2 {
		t.Fatalf("expected a second capture, got %d", len(devices.videoTracks))
	}
	wantKinds := []TrackKind{TrackAudio, TrackVideo, TrackVideo}
	if len(link.addedKinds) != len(wantKinds) {
		t.Fatalf("added kinds %v, want %v", link.addedKinds, wantKinds)
	}
}

func TestToggleVideoWithoutLinkIsNoop(t *testing.T) {
	m := NewTrackManager(&fakeDevices{}, nopLogger())
	on, err := m.ToggleVideo(context.Background(), nil)
	if err != nil || on {
		t.Fatalf("expected silent no-op, got %v %v", on, err)
	}
}

func TestToggleMicIsLocalOnly(t *testing.T) {
	devices := &fakeDevices{}
	m := NewTrackManager(devices, nopLogger())
	link := newFakeLink()

	if err := m.Acquire(context.Background(), false); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := m.AttachTo(link); err != nil {
		t.Fatalf("AttachTo: %v", err)
	}
	attached := len(link.addedKinds)

	if m.ToggleMic() {
		t.Fatal("first toggle must mute")
	}
	if !m.ToggleMic() {
		t.Fatal("second toggle must unmute")
	}
	if len(link.addedKinds) != attached {
		t.Fatal("mute must not add or remove tracks")
	}
}

func TestStopAllIndependentAndRepeatable(t *testing.T) {
	devices := &fakeDevices{}
	m := NewTrackManager(devices, nopLogger())

	if err := m.Acquire(context.Background(), true); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	m.audioSender = &fakeSender{stopErr: errBoom}
	videoSender := &fakeSender{}
	m.videoSender = videoSender

	m.StopAll()
	m.StopAll()

	if !videoSender.stopped {
		t.Fatal("video sender must stop even when audio sender fails")
	}
	if !devices.audioTracks[0].closed || !devices.videoTracks[0].closed {
		t.Fatal("all tracks must be closed")
	}
	if m.MicEnabled() || m.VideoEnabled() {
		t.Fatal("manager must be empty after StopAll")
	}
}
