package devices

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Devices captures local media with pion/mediadevices. It implements
// port.MediaDevices.
type Devices struct {
	selector *mediadevices.CodecSelector
}

func New(selector *mediadevices.CodecSelector) *Devices {
	return &Devices{selector: selector}
}

type captureResult struct {
	stream mediadevices.MediaStream
	err    error
}

func (d *Devices) GetUserMedia(ctx context.Context, c domain.MediaConstraints) (port.MediaStream, error) {
	if err := available(c); err != nil {
		return nil, err
	}
	msc := streamConstraints(c)
	msc.Codec = d.selector
	return d.capture(ctx, false, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetUserMedia(msc)
	})
}

func (d *Devices) GetDisplayMedia(ctx context.Context) (port.MediaStream, error) {
	msc := mediadevices.MediaStreamConstraints{
		Video: func(*mediadevices.MediaTrackConstraints) {},
		Codec: d.selector,
	}
	return d.capture(ctx, true, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetDisplayMedia(msc)
	})
}

// capture runs a blocking device open. If ctx ends first the stream is
// closed as soon as it arrives.
func (d *Devices) capture(ctx context.Context, screen bool, open func() (mediadevices.MediaStream, error)) (port.MediaStream, error) {
	res := make(chan captureResult, 1)
	go func() {
		s, err := open()
		res <- captureResult{stream: s, err: err}
	}()

	select {
	case r := <-res:
		if r.err != nil {
			return nil, classify(r.err)
		}
		return newStream(r.stream, screen), nil
	case <-ctx.Done():
		go func() {
			if r := <-res; r.err == nil {
				closeAll(r.stream)
			}
		}()
		return nil, ctx.Err()
	}
}

// available fails fast when no device of a requested kind is present.
func available(c domain.MediaConstraints) error {
	var audio, video bool
	for _, dev := range mediadevices.EnumerateDevices() {
		switch dev.Kind {
		case mediadevices.AudioInput:
			audio = true
		case mediadevices.VideoInput:
			video = true
		}
	}
	switch {
	case c.Audio && !audio:
		return fmt.Errorf("%w: no microphone", domain.ErrDeviceNotFound)
	case c.Video && !video:
		return fmt.Errorf("%w: no camera", domain.ErrDeviceNotFound)
	}
	return nil
}

// streamConstraints maps a capture request to mediadevices constraints.
// Echo cancellation and noise suppression have no driver equivalent and are
// left to the encoder pipeline.
func streamConstraints(c domain.MediaConstraints) mediadevices.MediaStreamConstraints {
	var msc mediadevices.MediaStreamConstraints
	if c.Audio {
		msc.Audio = func(t *mediadevices.MediaTrackConstraints) {
			if c.AudioDeviceID != "" {
				t.DeviceID = prop.String(c.AudioDeviceID)
			}
			if c.SampleRate > 0 {
				t.SampleRate = prop.Int(c.SampleRate)
			}
			if c.ChannelCount > 0 {
				t.ChannelCount = prop.Int(c.ChannelCount)
			}
		}
	}
	if c.Video {
		msc.Video = func(t *mediadevices.MediaTrackConstraints) {
			if c.VideoDeviceID != "" {
				t.DeviceID = prop.String(c.VideoDeviceID)
			}
			if c.Width > 0 {
				t.Width = prop.Int(c.Width)
			}
			if c.Height > 0 {
				t.Height = prop.Int(c.Height)
			}
			if c.FrameRate > 0 {
				t.FrameRate = prop.Float(c.FrameRate)
			}
		}
	}
	return msc
}

func classify(err error) error {
	switch {
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	case errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("%w: %w", domain.ErrDeviceBusy, err)
	case errors.Is(err, os.ErrNotExist), errors.Is(err, syscall.ENODEV),
		strings.Contains(err.Error(), "failed to find"):
		return fmt.Errorf("%w: %w", domain.ErrDeviceNotFound, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrUnsupported, err)
}

func closeAll(s mediadevices.MediaStream) {
	for _, t := range s.GetTracks() {
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("track_id", t.ID()).Msg("Failed to close capture track")
		}
	}
}

type stream struct {
	id     string
	tracks []port.MediaTrack
}

func newStream(s mediadevices.MediaStream, screen bool) *stream {
	out := &stream{id: uuid.NewString()}
	for _, t := range s.GetTracks() {
		out.tracks = append(out.tracks, newTrack(t, out.id, screen))
	}
	return out
}

func (s *stream) ID() string { return s.id }
func (s *stream) Tracks() []port.MediaTrack { return s.tracks }

func (s *stream) AudioTracks() []port.MediaTrack {
	return s.byKind(domain.KindAudio)
}

func (s *stream) VideoTracks() []port.MediaTrack {
	var out []port.MediaTrack
	for _, t := range s.tracks {
		if t.Kind() != domain.KindAudio {
			out = append(out, t)
		}
	}
	return out
}

func (s *stream) byKind(kind domain.MediaKind) []port.MediaTrack {
	var out []port.MediaTrack
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// track wraps a capture track. It satisfies the pion adapter's LocalTrack.
type track struct {
	t        mediadevices.Track
	streamID string
	kind     domain.MediaKind

	enabled atomic.Bool
	ended   atomic.Bool
	once    sync.Once
	local   *gatedTrack
}

func newTrack(t mediadevices.Track, streamID string, screen bool) *track {
	kind := domain.KindVideo
	switch {
	case t.Kind() == webrtc.RTPCodecTypeAudio:
		kind = domain.KindAudio
	case screen:
		kind = domain.KindScreen
	}
	out := &track{t: t, streamID: streamID, kind: kind}
	out.enabled.Store(true)
	out.local = &gatedTrack{TrackLocal: t, enabled: &out.enabled}
	t.OnEnded(func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("track_id", t.ID()).Msg("Capture track ended")
		}
		out.ended.Store(true)
	})
	return out
}

func (t *track) ID() string { return t.t.ID() }
func (t *track) StreamID() string { return t.streamID }
func (t *track) Kind() domain.MediaKind { return t.kind }
func (t *track) Enabled() bool { return t.enabled.Load() }
func (t *track) Muted() bool { return false }

// SetEnabled pauses or resumes sending. Capture keeps running so resuming is
// instant.
func (t *track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *track) ReadyState() domain.ReadyState {
	if t.ended.Load() {
		return domain.ReadyEnded
	}
	return domain.ReadyLive
}

func (t *track) Stop() {
	t.once.Do(func() {
		t.ended.Store(true)
		if err := t.t.Close(); err != nil {
			log.Warn().Err(err).Str("track_id", t.t.ID()).Msg("Failed to close capture track")
		}
	})
}

func (t *track) TrackLocal() webrtc.TrackLocal { return t.local }
