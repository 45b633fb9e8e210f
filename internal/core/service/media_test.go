package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Wyydra/yacall/internal/core/domain"
)

func TestAcquireWalksLadder(t *testing.T) {
	errOverconstrained := errors.New("could not start video source")
	tests := []struct {
		name     string
		typ      domain.CallType
		camera   bool
		errs     []error
		wantErr  error
		requests int
		tracks   int
	}{
		{name: "voice first try", typ: domain.CallVoice, camera: true, requests: 1, tracks: 1},
		{name: "video first try", typ: domain.CallVideo, camera: true, requests: 1, tracks: 2},
		{name: "camera off", typ: domain.CallVideo, camera: false, requests: 1, tracks: 1},
		{
			name:     "relaxed after overconstrained",
			typ:      domain.CallVideo,
			camera:   true,
			errs:     []error{errOverconstrained},
			requests: 2,
			tracks:   2,
		},
		{
			name:     "any device last",
			typ:      domain.CallVideo,
			camera:   true,
			errs:     []error{domain.ErrDeviceNotFound, domain.ErrDeviceBusy},
			requests: 3,
			tracks:   2,
		},
		{
			name:     "permission denied stops",
			typ:      domain.CallVideo,
			camera:   true,
			errs:     []error{domain.ErrPermissionDenied},
			wantErr:  domain.ErrPermissionDenied,
			requests: 1,
		},
		{
			name:     "voice exhausted",
			typ:      domain.CallVoice,
			camera:   true,
			errs:     []error{domain.ErrDeviceNotFound, domain.ErrDeviceNotFound},
			wantErr:  domain.ErrDeviceNotFound,
			requests: 2,
		},
		{
			name:     "unknown error",
			typ:      domain.CallVoice,
			camera:   true,
			errs:     []error{errOverconstrained, errOverconstrained},
			wantErr:  domain.ErrUnsupported,
			requests: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			devices := &fakeDevices{errs: tt.errs}
			m := NewMediaService(devices, MediaConfig{AudioDeviceID: "mic-1", VideoDeviceID: "cam-1", Width: 1280, Height: 720})

			stream, err := m.Acquire(context.Background(), tt.typ, tt.camera)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Acquire() error = %v, want %v", err, tt.wantErr)
			}
			if got := devices.requestCount(); got != tt.requests {
				t.Errorf("requests = %d, want %d", got, tt.requests)
			}
			if tt.wantErr != nil {
				return
			}
			if got := len(stream.Tracks()); got != tt.tracks {
				t.Errorf("tracks = %d, want %d", got, tt.tracks)
			}
		})
	}
}

func TestLadderConstraints(t *testing.T) {
	devices := &fakeDevices{errs: []error{domain.ErrDeviceNotFound, domain.ErrDeviceNotFound}}
	m := NewMediaService(devices, MediaConfig{AudioDeviceID: "mic-1", VideoDeviceID: "cam-1", Width: 1280, Height: 720, FrameRate: 30})

	if _, err := m.Acquire(context.Background(), domain.CallVideo, true); err != nil {
		t.Fatal(err)
	}
	preferred, relaxed, anyDevice := devices.requests[0], devices.requests[1], devices.requests[2]

	if preferred.VideoDeviceID != "cam-1" || preferred.Width != 1280 || !preferred.EchoCancellation || preferred.SampleRate != 48000 {
		t.Errorf("preferred = %+v", preferred)
	}
	if relaxed.VideoDeviceID != "" || relaxed.Width != 0 || relaxed.AudioDeviceID != "mic-1" {
		t.Errorf("relaxed = %+v", relaxed)
	}
	if anyDevice != (domain.MediaConstraints{Audio: true, Video: true}) {
		t.Errorf("any-device = %+v", anyDevice)
	}
}

func TestVoiceRequestsMono(t *testing.T) {
	devices := &fakeDevices{}
	m := NewMediaService(devices, MediaConfig{})
	if _, err := m.Acquire(context.Background(), domain.CallVoice, true); err != nil {
		t.Fatal(err)
	}
	if c := devices.requests[0]; c.Video || c.ChannelCount != 1 {
		t.Errorf("voice constraints = %+v", c)
	}
}

func TestAcquireCameraIsVideoOnly(t *testing.T) {
	devices := &fakeDevices{}
	m := NewMediaService(devices, MediaConfig{})
	stream, err := m.AcquireCamera(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(stream.AudioTracks()) != 0 || len(stream.VideoTracks()) != 1 {
		t.Errorf("camera stream tracks = %d audio, %d video", len(stream.AudioTracks()), len(stream.VideoTracks()))
	}
}

func TestAcquireDisplay(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{name: "ok"},
		{name: "cancelled", err: domain.ErrCaptureCancelled, wantErr: domain.ErrCaptureCancelled},
		{name: "denied", err: domain.ErrPermissionDenied, wantErr: domain.ErrPermissionDenied},
		{name: "driver", err: errors.New("no x11 display"), wantErr: domain.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMediaService(&fakeDevices{display: tt.err}, MediaConfig{})
			stream, err := m.AcquireDisplay(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("AcquireDisplay() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && len(stream.VideoTracks()) != 1 {
				t.Errorf("display tracks = %d", len(stream.VideoTracks()))
			}
		})
	}
}

func TestAcquireCancelledContext(t *testing.T) {
	devices := &fakeDevices{}
	m := NewMediaService(devices, MediaConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Acquire(ctx, domain.CallVoice, true); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
	if devices.requestCount() != 0 {
		t.Error("devices queried with a cancelled context")
	}
}

func TestReleaseStream(t *testing.T) {
	devices := &fakeDevices{}
	stream, _ := devices.GetUserMedia(context.Background(), domain.MediaConstraints{Audio: true, Video: true})
	releaseStream(stream)
	releaseStream(nil)

	for _, tr := range devices.allTracks() {
		if !tr.stopped() {
			t.Errorf("track %s not stopped", tr.ID())
		}
	}
}
