package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

type MediaConfig struct {
	AudioDeviceID string
	VideoDeviceID string
	Width         int
	Height        int
	FrameRate     float64
	SampleRate    int
}

// MediaService acquires local capture streams. Every request walks a ladder
// of constraint sets from preferred to "any device".
type MediaService struct {
	devices port.MediaDevices
	cfg     MediaConfig
}

func NewMediaService(devices port.MediaDevices, cfg MediaConfig) *MediaService {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	return &MediaService{devices: devices, cfg: cfg}
}

type attempt struct {
	label string
	c     domain.MediaConstraints
}

func (m *MediaService) ladder(audio, video bool, mono bool) []attempt {
	channels := 0
	if mono {
		channels = 1
	}
	preferred := domain.MediaConstraints{
		Audio:            audio,
		Video:            video,
		AudioDeviceID:    m.cfg.AudioDeviceID,
		EchoCancellation: true,
		NoiseSuppression: true,
		SampleRate:       m.cfg.SampleRate,
		ChannelCount:     channels,
	}
	if !video {
		return []attempt{
			{"preferred", preferred},
			{"any-microphone", domain.MediaConstraints{Audio: true}},
		}
	}

	preferred.VideoDeviceID = m.cfg.VideoDeviceID
	preferred.Width = m.cfg.Width
	preferred.Height = m.cfg.Height
	preferred.FrameRate = m.cfg.FrameRate

	relaxed := preferred
	relaxed.VideoDeviceID = ""
	relaxed.Width = 0
	relaxed.Height = 0
	relaxed.FrameRate = 0

	return []attempt{
		{"preferred", preferred},
		{"relaxed", relaxed},
		{"any-device", domain.MediaConstraints{Audio: audio, Video: true}},
	}
}

// Acquire requests the microphone, plus the camera for video calls unless
// withCamera is false.
func (m *MediaService) Acquire(ctx context.Context, typ domain.CallType, withCamera bool) (port.MediaStream, error) {
	video := typ == domain.CallVideo && withCamera
	return m.walk(ctx, m.ladder(true, video, typ == domain.CallVoice))
}

// AcquireCamera requests a camera-only stream.
func (m *MediaService) AcquireCamera(ctx context.Context) (port.MediaStream, error) {
	return m.walk(ctx, m.ladder(false, true, false))
}

// AcquireDisplay requests screen capture. A user cancellation is reported as
// domain.ErrCaptureCancelled, which callers do not treat as a failure.
func (m *MediaService) AcquireDisplay(ctx context.Context) (port.MediaStream, error) {
	stream, err := m.devices.GetDisplayMedia(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrCaptureCancelled) {
			return nil, err
		}
		return nil, classifyMediaError(err)
	}
	return stream, nil
}

func (m *MediaService) walk(ctx context.Context, ladder []attempt) (port.MediaStream, error) {
	var lastErr error
	for _, a := range ladder {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stream, err := m.devices.GetUserMedia(ctx, a.c)
		if err == nil {
			log.Debug().Str("attempt", a.label).Int("tracks", len(stream.Tracks())).Msg("Local media acquired")
			return stream, nil
		}
		lastErr = classifyMediaError(err)
		log.Warn().Err(err).Str("attempt", a.label).Msg("GetUserMedia failed")
		// Relaxing constraints does not help once the user said no.
		if errors.Is(lastErr, domain.ErrPermissionDenied) {
			break
		}
	}
	return nil, lastErr
}

func classifyMediaError(err error) error {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied),
		errors.Is(err, domain.ErrDeviceNotFound),
		errors.Is(err, domain.ErrDeviceBusy),
		errors.Is(err, domain.ErrUnsupported),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrUnsupported, err)
}

// releaseStream stops every track of s. Nil streams are ignored.
func releaseStream(s port.MediaStream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
