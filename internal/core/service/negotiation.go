package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog/log"
)

func (s *CallService) videoGuard() error {
	sess := s.sess
	switch {
	case sess.typ != domain.CallVideo:
		return domain.ErrNotVideoCall
	case sess.state != domain.StateInCall:
		return fmt.Errorf("%w: video in %s", domain.ErrInvalidState, sess.state)
	case len(sess.links) == 0:
		return domain.ErrNoPeerLink
	case !sess.group && sess.video.kind == domain.VideoScreen:
		return domain.ErrScreenShareActive
	}
	return nil
}

func live(t port.MediaTrack) bool {
	return t != nil && t.ReadyState() == domain.ReadyLive
}

// EnableVideo turns the camera on. An existing camera track is re-enabled;
// otherwise a camera is acquired and put on the video sender, which costs a
// renegotiation only when no sender exists yet.
func (s *CallService) EnableVideo(ctx context.Context) error {
	var done bool
	err := s.call(ctx, func() error {
		if err := s.videoGuard(); err != nil {
			return err
		}
		sess := s.sess
		if sess.video.kind == domain.VideoCamera && live(sess.video.track) {
			sess.video.track.SetEnabled(true)
			s.publish(domain.NoticeState, nil)
			done = true
		}
		return nil
	})
	if err != nil || done {
		return err
	}

	stream, err := s.media.AcquireCamera(ctx)
	if err != nil {
		return err
	}

	var rounds []<-chan error
	err = s.call(context.Background(), func() error {
		if err := s.videoGuard(); err != nil {
			return err
		}
		sess := s.sess
		if sess.video.kind == domain.VideoCamera && live(sess.video.track) {
			// Lost a race with another EnableVideo.
			releaseStream(stream)
			return nil
		}
		track := firstTrack(stream.VideoTracks())
		if track == nil {
			return fmt.Errorf("%w: camera stream has no video track", domain.ErrDeviceNotFound)
		}
		placed, err := s.placeVideo(domain.SlotVideo, track)
		if err != nil {
			return err
		}
		rounds = placed
		if old := sess.video.track; old != nil && old != track {
			old.Stop()
		}
		sess.video = cameraSource(track)
		sess.extra = append(sess.extra, stream)
		s.logger().Info().Int("renegotiations", len(rounds)).Msg("Camera enabled")
		s.publish(domain.NoticeState, nil)
		return nil
	})
	if err != nil {
		releaseStream(stream)
		return err
	}
	return s.awaitRounds(ctx, rounds)
}

// DisableVideo disables the camera track. The sender stays, so no
// renegotiation happens.
func (s *CallService) DisableVideo(ctx context.Context) error {
	return s.call(ctx, func() error {
		sess := s.sess
		if sess.typ != domain.CallVideo {
			return domain.ErrNotVideoCall
		}
		if sess.state != domain.StateInCall {
			return fmt.Errorf("%w: video in %s", domain.ErrInvalidState, sess.state)
		}
		if sess.video.kind == domain.VideoCamera {
			sess.video.track.SetEnabled(false)
		}
		if sess.parked != nil {
			sess.parked.SetEnabled(false)
		}
		s.publish(domain.NoticeState, nil)
		return nil
	})
}

// StartScreenShare captures the screen. In a 1:1 call it takes over the
// video sender and parks the camera; in a group call it is an extra sender
// on every link. A cancelled capture prompt is not an error.
func (s *CallService) StartScreenShare(ctx context.Context) error {
	var id domain.CallID
	err := s.call(ctx, func() error {
		sess := s.sess
		switch {
		case sess.state != domain.StateInCall:
			return fmt.Errorf("%w: screen share in %s", domain.ErrInvalidState, sess.state)
		case len(sess.links) == 0:
			return domain.ErrNoPeerLink
		case sess.screen != nil:
			return domain.ErrScreenShareActive
		case sess.capturing:
			return fmt.Errorf("%w: screen capture already requested", domain.ErrInvalidState)
		}
		sess.capturing = true
		id = sess.id
		return nil
	})
	if err != nil {
		return err
	}

	stream, err := s.media.AcquireDisplay(ctx)
	if err != nil {
		s.post(func() {
			if s.sess.id == id {
				s.sess.capturing = false
			}
		})
		if errors.Is(err, domain.ErrCaptureCancelled) {
			log.Info().Str("call_id", id.String()).Msg("Screen capture cancelled")
			return nil
		}
		return err
	}

	var rounds []<-chan error
	err = s.call(context.Background(), func() error {
		sess := s.sess
		if sess.id != id || sess.state != domain.StateInCall {
			return fmt.Errorf("%w: call %s is no longer active", domain.ErrInvalidState, id)
		}
		sess.capturing = false
		track := firstTrack(stream.VideoTracks())
		if track == nil {
			return fmt.Errorf("%w: display stream has no video track", domain.ErrUnsupported)
		}

		var err error
		if sess.group {
			rounds, err = s.placeVideo(domain.SlotScreen, track)
		} else {
			rounds, err = s.placeVideo(domain.SlotVideo, track)
			if err == nil {
				sess.parked = sess.video.track
				sess.video = videoSource{kind: domain.VideoScreen, track: track}
			}
		}
		if err != nil {
			return err
		}
		sess.screen = stream
		s.watch("screen:"+stream.ID(), false, stream.Tracks())
		s.logger().Info().Bool("group", sess.group).Int("renegotiations", len(rounds)).Msg("Screen share started")
		s.publish(domain.NoticeState, nil)
		return nil
	})
	if err != nil {
		releaseStream(stream)
		return err
	}
	return s.awaitRounds(ctx, rounds)
}

// StopScreenShare ends the capture. In a 1:1 call the parked camera goes
// back on the same sender, re-acquired if it ended meanwhile. If no camera
// can be had the call continues without video.
func (s *CallService) StopScreenShare(ctx context.Context) error {
	var (
		id        domain.CallID
		reacquire bool
		rounds    []<-chan error
	)
	err := s.call(ctx, func() error {
		sess := s.sess
		if sess.screen == nil {
			return nil
		}
		id = sess.id
		reacquire, rounds = s.stopScreen()
		s.publish(domain.NoticeState, nil)
		return nil
	})
	if err != nil {
		return err
	}
	if !reacquire {
		return s.awaitRounds(ctx, rounds)
	}

	stream, err := s.media.AcquireCamera(ctx)
	if err != nil {
		log.Warn().Err(err).Str("call_id", id.String()).Msg("Camera unavailable after screen share")
		s.post(func() {
			if s.sess.id == id {
				s.publishError(err)
			}
		})
		return err
	}
	err = s.call(context.Background(), func() error {
		sess := s.sess
		if sess.id != id || sess.state != domain.StateInCall || sess.video.track != nil {
			releaseStream(stream)
			return nil
		}
		track := firstTrack(stream.VideoTracks())
		if track == nil {
			releaseStream(stream)
			return fmt.Errorf("%w: camera stream has no video track", domain.ErrDeviceNotFound)
		}
		more, err := s.placeVideo(domain.SlotVideo, track)
		if err != nil {
			releaseStream(stream)
			return err
		}
		rounds = append(rounds, more...)
		sess.video = cameraSource(track)
		sess.extra = append(sess.extra, stream)
		s.publish(domain.NoticeState, nil)
		return nil
	})
	if err != nil {
		return err
	}
	return s.awaitRounds(ctx, rounds)
}

// stopScreen runs on the loop. It reports whether the camera has to be
// re-acquired before video can resume.
func (s *CallService) stopScreen() (bool, []<-chan error) {
	sess := s.sess
	l := s.logger()
	s.stopWatchers("screen:")
	releaseStream(sess.screen)
	sess.screen = nil

	var rounds []<-chan error
	if sess.group {
		for _, link := range sess.links {
			removed, err := link.RemoveSender(domain.SlotScreen)
			if err != nil {
				link.log.Warn().Err(err).Msg("Failed to remove screen sender")
				continue
			}
			if removed {
				rounds = append(rounds, link.Negotiate())
			}
		}
		l.Info().Int("renegotiations", len(rounds)).Msg("Screen share stopped")
		return false, rounds
	}

	camera := sess.parked
	sess.parked = nil
	reacquire := false
	var next port.MediaTrack
	switch {
	case live(camera):
		next = camera
	case camera != nil && camera.Enabled() && sess.typ == domain.CallVideo:
		camera.Stop()
		reacquire = true
	case camera != nil:
		camera.Stop()
	}

	for _, link := range sess.links {
		if _, err := link.SetTrack(domain.SlotVideo, next); err != nil {
			link.log.Warn().Err(err).Msg("Failed to restore video sender")
		}
	}
	sess.video = cameraSource(next)
	l.Info().Bool("camera_restored", next != nil).Bool("reacquire", reacquire).Msg("Screen share stopped")
	return reacquire, rounds
}

// placeVideo puts track on slot across every link. Links that had no sender
// for slot get one and start a renegotiation. It fails only when no link
// accepted the track.
func (s *CallService) placeVideo(slot int, track port.MediaTrack) ([]<-chan error, error) {
	var rounds []<-chan error
	var lastErr error
	placed := 0
	for _, link := range s.sess.links {
		added, err := link.SetTrack(slot, track)
		if err != nil {
			lastErr = err
			link.log.Warn().Err(err).Int("slot", slot).Msg("Failed to set track")
			continue
		}
		placed++
		if added {
			rounds = append(rounds, link.Negotiate())
		}
	}
	if placed == 0 && lastErr != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRenegotiationFailed, lastErr)
	}
	return rounds, nil
}

// awaitRounds waits for every renegotiation round. A failed round never ends
// the call; it is reported to the UI and returned.
func (s *CallService) awaitRounds(ctx context.Context, rounds []<-chan error) error {
	var failed error
	for _, r := range rounds {
		select {
		case err := <-r:
			if err != nil && failed == nil {
				failed = err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failed == nil {
		return nil
	}
	if !errors.Is(failed, domain.ErrRenegotiationFailed) {
		failed = fmt.Errorf("%w: %w", domain.ErrRenegotiationFailed, failed)
	}
	log.Warn().Err(failed).Msg("Renegotiation failed")
	s.post(func() {
		if !s.sess.state.Idle() {
			s.publishError(failed)
		}
	})
	return failed
}
