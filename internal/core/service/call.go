package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultNoAnswerTimeout   = 60 * time.Second
	DefaultDurationTick      = time.Second
	DefaultTrackPollInterval = 500 * time.Millisecond
	DefaultSendTimeout       = 5 * time.Second

	mailboxSize = 64
)

type Config struct {
	Self              domain.Participant
	NoAnswerTimeout   time.Duration
	DurationTick      time.Duration
	TrackPollInterval time.Duration
	SendTimeout       time.Duration
}

type callOptions struct {
	cameraOff bool
}

type CallOption func(*callOptions)

// WithCameraOff joins a video call with the microphone only. The camera can
// be turned on later with EnableVideo.
func WithCameraOff() CallOption {
	return func(o *callOptions) { o.cameraOff = true }
}

// videoSource is what the local video sender carries. The zero value is
// "none".
type videoSource struct {
	kind  domain.VideoSourceKind
	track port.MediaTrack
}

func cameraSource(t port.MediaTrack) videoSource {
	if t == nil {
		return videoSource{}
	}
	return videoSource{kind: domain.VideoCamera, track: t}
}

func (v videoSource) view() domain.VideoSource {
	if v.track == nil {
		return domain.VideoSource{Kind: domain.VideoNone}
	}
	return domain.VideoSource{Kind: v.kind, TrackID: v.track.ID(), Enabled: v.track.Enabled()}
}

type session struct {
	id      domain.CallID
	typ     domain.CallType
	state   domain.CallState
	remote  domain.Participant
	members []domain.Participant
	group   bool
	caller  bool

	ringing   bool
	answering bool
	capturing bool
	startedAt time.Time

	local  port.MediaStream
	video  videoSource
	parked port.MediaTrack
	screen port.MediaStream
	extra  []port.MediaStream
	muted  bool

	links      map[domain.UserID]*PeerLink
	offered    map[domain.UserID]bool
	candidates map[domain.UserID][]domain.ICECandidate
	offers     map[domain.UserID]domain.SessionDescription
	watchers   map[string]*trackWatcher

	noAnswer     *time.Timer
	stopDuration context.CancelFunc
}

func idleSession() *session {
	return &session{state: domain.StateIdle}
}

func newSession(id domain.CallID, typ domain.CallType, caller, group bool) *session {
	return &session{
		id:         id,
		typ:        typ,
		caller:     caller,
		group:      group,
		links:      make(map[domain.UserID]*PeerLink),
		offered:    make(map[domain.UserID]bool),
		candidates: make(map[domain.UserID][]domain.ICECandidate),
		offers:     make(map[domain.UserID]domain.SessionDescription),
		watchers:   make(map[string]*trackWatcher),
	}
}

type nopNotifier struct{}

func (nopNotifier) Publish(domain.Notice) {}

// CallService owns the single call session. Every mutation runs on the Run
// goroutine; public methods post to its mailbox and wait for the reply.
type CallService struct {
	cfg       Config
	signaling port.Signaling
	directory port.Directory
	media     *MediaService
	connector *Connector
	notifier  port.Notifier

	ops      chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	workers  sync.WaitGroup

	sess     *session
	starting bool
}

func NewCallService(cfg Config, signaling port.Signaling, directory port.Directory, media *MediaService, connector *Connector, notifier port.Notifier) *CallService {
	if cfg.NoAnswerTimeout <= 0 {
		cfg.NoAnswerTimeout = DefaultNoAnswerTimeout
	}
	if cfg.DurationTick <= 0 {
		cfg.DurationTick = DefaultDurationTick
	}
	if cfg.TrackPollInterval <= 0 {
		cfg.TrackPollInterval = DefaultTrackPollInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &CallService{
		cfg:       cfg,
		signaling: signaling,
		directory: directory,
		media:     media,
		connector: connector,
		notifier:  notifier,
		ops:       make(chan func(), mailboxSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		sess:      idleSession(),
	}
}

func (s *CallService) Run() {
	defer close(s.done)

	inbound, unsubscribe := s.signaling.Subscribe()
	defer unsubscribe()

	log.Info().Str("user_id", s.cfg.Self.ID.String()).Msg("Call engine started")
	for {
		select {
		case <-s.quit:
			log.Info().Msg("Stopping call engine")
			s.hangup(domain.ReasonShutdown)
			return

		case fn := <-s.ops:
			fn()

		case env, ok := <-inbound:
			if !ok {
				log.Warn().Msg("Signaling subscription closed")
				inbound = nil
				continue
			}
			s.dispatch(env)
		}
	}
}

// Stop ends any active call and waits for Run to return.
func (s *CallService) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	<-s.done
	s.workers.Wait()
}

// post queues fn on the loop. It is dropped once the engine stopped.
func (s *CallService) post(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.quit:
	}
}

// async runs work off the loop and applies the returned function on it.
func (s *CallService) async(work func() func()) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		s.post(work())
	}()
}

func (s *CallService) call(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.ops <- func() { reply <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return domain.ErrEngineStopped
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		select {
		case err := <-reply:
			return err
		default:
			return domain.ErrEngineStopped
		}
	}
}

// send blocks the loop for at most SendTimeout.
func (s *CallService) send(event string, payload any) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
	defer cancel()
	err := s.signaling.Send(ctx, event, payload)
	if errors.Is(err, context.DeadlineExceeded) {
		s.logger().Warn().Str("event", event).Dur("timeout", s.cfg.SendTimeout).
			Msg("Signaling outbox full, message not sent")
	}
	return err
}

func (s *CallService) logger() *zerolog.Logger {
	l := log.With().Str("call_id", s.sess.id.String()).Logger()
	return &l
}

// Initiate calls peer. Media is acquired before the session exists, so a
// device error leaves the engine idle.
func (s *CallService) Initiate(ctx context.Context, peer domain.Participant, typ domain.CallType, opts ...CallOption) error {
	return s.initiate(ctx, []domain.Participant{peer}, typ, false, opts)
}

// InitiateGroup calls every member. The local side holds one link per member.
func (s *CallService) InitiateGroup(ctx context.Context, members []domain.Participant, typ domain.CallType, opts ...CallOption) error {
	if len(members) == 0 {
		return fmt.Errorf("%w: group call without members", domain.ErrInvalidState)
	}
	return s.initiate(ctx, members, typ, true, opts)
}

func (s *CallService) initiate(ctx context.Context, peers []domain.Participant, typ domain.CallType, group bool, opts []CallOption) error {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	err := s.call(ctx, func() error {
		for _, p := range peers {
			if p.ID == s.cfg.Self.ID {
				return domain.ErrSelfCall
			}
		}
		if !typ.Valid() {
			return fmt.Errorf("%w: %q", domain.ErrInvalidCallType, typ)
		}
		if s.starting || !s.sess.state.Idle() {
			return domain.ErrBusy
		}
		s.starting = true
		return nil
	})
	if err != nil {
		return err
	}

	peers, err = s.reachable(ctx, peers)
	var stream port.MediaStream
	if err == nil {
		stream, err = s.media.Acquire(ctx, typ, !o.cameraOff)
	}
	if err != nil {
		s.post(func() { s.starting = false })
		return err
	}

	err = s.call(context.Background(), func() error {
		s.starting = false
		return s.startOutgoing(peers, typ, group, stream)
	})
	if err != nil {
		releaseStream(stream)
	}
	return err
}

func (s *CallService) reachable(ctx context.Context, peers []domain.Participant) ([]domain.Participant, error) {
	var ok []domain.Participant
	var lastErr error
	for _, p := range peers {
		if err := s.directory.Reachable(ctx, p.ID); err != nil {
			if !errors.Is(err, domain.ErrUnreachable) {
				err = fmt.Errorf("%w: %w", domain.ErrUnreachable, err)
			}
			log.Warn().Err(err).Str("user_id", p.ID.String()).Msg("Participant unreachable")
			lastErr = err
			continue
		}
		ok = append(ok, p)
	}
	if len(ok) == 0 {
		return nil, lastErr
	}
	return ok, nil
}

func (s *CallService) startOutgoing(peers []domain.Participant, typ domain.CallType, group bool, stream port.MediaStream) error {
	sess := newSession(domain.NewCallID(), typ, true, group)
	sess.state = domain.StateCalling
	sess.local = stream
	sess.video = cameraSource(firstTrack(stream.VideoTracks()))
	if group {
		sess.members = peers
	} else {
		sess.remote = peers[0]
	}
	s.sess = sess
	l := s.logger()

	var lastErr error
	for _, p := range peers {
		if _, err := s.openLink(p.ID); err != nil {
			lastErr = err
			l.Warn().Err(err).Str("remote_id", p.ID.String()).Msg("Failed to open peer link")
			continue
		}
		err := s.send(domain.EventInitiate, domain.InitiatePayload{
			CallID:     sess.id,
			ReceiverID: p.ID,
			CallType:   typ,
			CallerInfo: s.cfg.Self,
			Group:      group,
		})
		if err != nil {
			lastErr = err
			l.Warn().Err(err).Str("remote_id", p.ID.String()).Msg("Failed to send call initiation")
			s.dropLink(p.ID)
		}
	}
	if len(sess.links) == 0 {
		s.teardown(domain.ReasonFailed)
		return lastErr
	}

	s.startNoAnswer()
	s.watchLocal(sess.local)
	l.Info().Str("call_type", string(typ)).Int("links", len(sess.links)).Msg("Call initiated")
	s.publish(domain.NoticeState, nil)
	return nil
}

// Answer accepts the ringing call.
func (s *CallService) Answer(ctx context.Context, opts ...CallOption) error {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	var id domain.CallID
	var typ domain.CallType
	err := s.call(ctx, func() error {
		sess := s.sess
		switch {
		case sess.caller && !sess.state.Idle():
			return domain.ErrNotReceiver
		case sess.state != domain.StateRinging:
			return fmt.Errorf("%w: answer in %s", domain.ErrInvalidState, sess.state)
		case sess.answering:
			return fmt.Errorf("%w: already answering", domain.ErrInvalidState)
		}
		sess.answering = true
		id, typ = sess.id, sess.typ
		return nil
	})
	if err != nil {
		return err
	}

	stream, err := s.media.Acquire(ctx, typ, !o.cameraOff)
	if err != nil {
		s.post(func() {
			if s.sess.id == id {
				s.sess.answering = false
			}
		})
		return err
	}

	err = s.call(context.Background(), func() error {
		sess := s.sess
		if sess.id != id || sess.state != domain.StateRinging {
			return fmt.Errorf("%w: call %s is no longer ringing", domain.ErrInvalidState, id)
		}
		sess.answering = false
		sess.local = stream
		sess.video = cameraSource(firstTrack(stream.VideoTracks()))

		if _, err := s.openLink(sess.remote.ID); err != nil {
			if sendErr := s.send(domain.EventReject, domain.RejectPayload{CallID: id, Reason: domain.ReasonFailed}); sendErr != nil {
				log.Warn().Err(sendErr).Msg("Failed to send call rejection")
			}
			s.teardown(domain.ReasonFailed)
			return err
		}
		if err := s.send(domain.EventAnswer, domain.AnswerCallPayload{CallID: id}); err != nil {
			s.teardown(domain.ReasonFailed)
			return err
		}
		s.enterCall()
		s.watchLocal(sess.local)
		s.logger().Info().Msg("Call answered")
		s.publish(domain.NoticeState, nil)
		return nil
	})
	if err != nil {
		releaseStream(stream)
	}
	return err
}

// Reject declines a ringing call, or cancels an outgoing one.
func (s *CallService) Reject(ctx context.Context) error {
	return s.call(ctx, func() error {
		sess := s.sess
		var err error
		switch sess.state {
		case domain.StateRinging:
			err = s.send(domain.EventReject, domain.RejectPayload{CallID: sess.id, Reason: domain.ReasonRejected})
		case domain.StateCalling:
			err = s.send(domain.EventEnd, domain.EndPayload{CallID: sess.id, Reason: domain.ReasonRejected})
		default:
			return fmt.Errorf("%w: reject in %s", domain.ErrInvalidState, sess.state)
		}
		if err != nil {
			s.logger().Warn().Err(err).Msg("Failed to send rejection")
		}
		s.teardown(domain.ReasonRejected)
		return nil
	})
}

// End hangs up. Ending an idle engine is a no-op, so concurrent calls are
// safe.
func (s *CallService) End(ctx context.Context, reason domain.EndReason) error {
	if reason == "" {
		reason = domain.ReasonHangup
	}
	return s.call(ctx, func() error {
		s.hangup(reason)
		return nil
	})
}

func (s *CallService) hangup(reason domain.EndReason) {
	sess := s.sess
	if sess.state.Idle() {
		return
	}
	var err error
	if sess.state == domain.StateRinging {
		err = s.send(domain.EventReject, domain.RejectPayload{CallID: sess.id, Reason: reason})
	} else {
		err = s.send(domain.EventEnd, domain.EndPayload{CallID: sess.id, Reason: reason})
	}
	if err != nil {
		s.logger().Warn().Err(err).Msg("Failed to notify remote of hangup")
	}
	s.teardown(reason)
}

// ToggleMute flips the local microphone and reports whether it is now muted.
func (s *CallService) ToggleMute(ctx context.Context) (bool, error) {
	var muted bool
	err := s.call(ctx, func() error {
		sess := s.sess
		if sess.local == nil || len(sess.local.AudioTracks()) == 0 {
			return fmt.Errorf("%w: no local audio", domain.ErrInvalidState)
		}
		sess.muted = !sess.muted
		for _, t := range sess.local.AudioTracks() {
			t.SetEnabled(!sess.muted)
		}
		muted = sess.muted
		s.publish(domain.NoticeState, nil)
		return nil
	})
	return muted, err
}

func (s *CallService) Snapshot(ctx context.Context) (domain.Session, error) {
	var v domain.Session
	err := s.call(ctx, func() error {
		v = s.snapshot()
		return nil
	})
	return v, err
}

// Deliver dispatches one inbound envelope and returns once the engine has
// processed it.
func (s *CallService) Deliver(ctx context.Context, env domain.Envelope) error {
	return s.call(ctx, func() error {
		s.dispatch(env)
		return nil
	})
}

func (s *CallService) snapshot() domain.Session {
	sess := s.sess
	v := domain.Session{
		CallID:        sess.id,
		Type:          sess.typ,
		State:         sess.state,
		Local:         s.cfg.Self,
		Remote:        sess.remote,
		Participants:  sess.members,
		Group:         sess.group,
		IsCaller:      sess.caller,
		RemoteRinging: sess.ringing,
		Muted:         sess.muted,
		Video:         sess.video.view(),
		ScreenSharing: sess.screen != nil,
		StartedAt:     sess.startedAt,
	}
	if sess.state == domain.StateInCall && !sess.startedAt.IsZero() {
		v.Duration = time.Since(sess.startedAt)
	}
	for _, l := range sess.links {
		if !l.Closed() {
			v.OpenLinks++
		}
	}
	return v
}

func (s *CallService) publish(typ string, err error) {
	n := domain.Notice{Type: typ, CallID: s.sess.id, Session: s.snapshot()}
	if err != nil {
		n.Error = err.Error()
		n.Code = errorCode(err)
	}
	s.notifier.Publish(n)
}

func (s *CallService) publishError(err error) {
	s.publish(domain.NoticeError, err)
}

func (s *CallService) openLink(remote domain.UserID) (*PeerLink, error) {
	sess := s.sess
	pc, cfg, err := s.connector.Create()
	if err != nil {
		return nil, err
	}
	l := newPeerLink(s, pc, linkOptions{callID: sess.id, remote: remote, caller: sess.caller})
	l.onRemoteTrack = s.remoteTrack
	l.onConnectionState = s.connectionState
	sess.links[remote] = l
	l.log.Debug().Str("ice_config", cfg.Name).Msg("Peer link opened")

	s.attachLocal(l)
	for _, c := range sess.candidates[remote] {
		l.HandleCandidate(c)
	}
	delete(sess.candidates, remote)
	if offer, ok := sess.offers[remote]; ok {
		delete(sess.offers, remote)
		l.HandleOffer(offer)
	}
	return l, nil
}

func (s *CallService) attachLocal(l *PeerLink) {
	sess := s.sess
	if sess.local != nil {
		if a := firstTrack(sess.local.AudioTracks()); a != nil {
			if _, err := l.SetTrack(domain.SlotAudio, a); err != nil {
				l.log.Warn().Err(err).Msg("Failed to attach microphone")
			}
		}
	}
	if sess.video.track != nil {
		if _, err := l.SetTrack(domain.SlotVideo, sess.video.track); err != nil {
			l.log.Warn().Err(err).Msg("Failed to attach video")
		}
	}
}

// dropLink closes one link. A group caller left without links ends the call.
func (s *CallService) dropLink(id domain.UserID) {
	sess := s.sess
	l, ok := sess.links[id]
	if !ok {
		return
	}
	delete(sess.links, id)
	delete(sess.offered, id)
	s.stopWatchers("remote:" + id.String() + ":")
	l.Close()

	if len(sess.links) == 0 && sess.state != domain.StateEnded {
		s.teardown(domain.ReasonRemoteEnded)
		return
	}
	s.publish(domain.NoticeState, nil)
}

func (s *CallService) enterCall() {
	sess := s.sess
	sess.state = domain.StateInCall
	sess.startedAt = time.Now()
	if sess.noAnswer != nil {
		sess.noAnswer.Stop()
		sess.noAnswer = nil
	}
	s.startDuration()
}

func (s *CallService) startNoAnswer() {
	sess := s.sess
	id := sess.id
	sess.noAnswer = time.AfterFunc(s.cfg.NoAnswerTimeout, func() {
		s.post(func() { s.noAnswerExpired(id) })
	})
}

func (s *CallService) noAnswerExpired(id domain.CallID) {
	sess := s.sess
	if sess.id != id {
		return
	}
	sess.noAnswer = nil
	switch sess.state {
	case domain.StateCalling:
		s.logger().Info().Dur("timeout", s.cfg.NoAnswerTimeout).Msg("Call not answered")
		if err := s.send(domain.EventEnd, domain.EndPayload{CallID: id, Reason: domain.ReasonNoAnswer}); err != nil {
			s.logger().Warn().Err(err).Msg("Failed to send call end")
		}
		s.publishError(domain.ErrNoAnswer)
		s.teardown(domain.ReasonNoAnswer)
	case domain.StateRinging:
		s.logger().Info().Msg("Incoming call timed out")
		s.publishError(domain.ErrTimeout)
		s.teardown(domain.ReasonNoAnswer)
	}
}

func (s *CallService) startDuration() {
	sess := s.sess
	ctx, cancel := context.WithCancel(context.Background())
	sess.stopDuration = cancel
	id, tick := sess.id, s.cfg.DurationTick

	go func() {
		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.post(func() {
					if s.sess.id == id && s.sess.state == domain.StateInCall {
						s.publish(domain.NoticeState, nil)
					}
				})
			}
		}
	}()
}

func (s *CallService) watchLocal(stream port.MediaStream) {
	if stream == nil {
		return
	}
	s.watch("local:"+stream.ID(), false, stream.Tracks())
}

func (s *CallService) watch(key string, remote bool, tracks []port.MediaTrack) {
	sess := s.sess
	if sess.watchers == nil || len(tracks) == 0 {
		return
	}
	if w, ok := sess.watchers[key]; ok {
		w.Stop()
	}
	sess.watchers[key] = watchTracks(&s.workers, s.cfg.TrackPollInterval, remote, tracks, func(ev domain.TrackEvent) {
		s.post(func() { s.trackEvent(ev) })
	})
}

func (s *CallService) stopWatchers(prefix string) {
	for key, w := range s.sess.watchers {
		if strings.HasPrefix(key, prefix) {
			w.Stop()
			delete(s.sess.watchers, key)
		}
	}
}

func (s *CallService) trackEvent(ev domain.TrackEvent) {
	sess := s.sess
	if sess.state.Idle() {
		return
	}
	s.notifier.Publish(domain.Notice{
		Type:    domain.NoticeTrack,
		CallID:  sess.id,
		Session: s.snapshot(),
		Code:    ev.Type.String(),
		Track: &domain.TrackRef{
			Kind:     ev.Kind,
			TrackID:  ev.TrackID,
			StreamID: ev.StreamID,
			Remote:   ev.Remote,
		},
	})

	if !ev.Remote && ev.Type == domain.TrackEnded && sess.screen != nil && ev.StreamID == sess.screen.ID() {
		s.logger().Info().Msg("Screen capture ended by the system")
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			if err := s.StopScreenShare(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Failed to stop screen share")
			}
		}()
	}
}

func (s *CallService) remoteTrack(l *PeerLink, t port.MediaTrack) {
	sess := s.sess
	ref := &domain.TrackRef{Kind: t.Kind(), TrackID: t.ID(), StreamID: t.StreamID(), Remote: true}
	s.notifier.Publish(domain.Notice{
		Type:    domain.NoticeRemoteTrack,
		CallID:  sess.id,
		Session: s.snapshot(),
		Track:   ref,
	})

	var tracks []port.MediaTrack
	for _, rt := range l.RemoteTracks() {
		if rt.StreamID() == t.StreamID() {
			tracks = append(tracks, rt)
		}
	}
	s.watch("remote:"+l.Remote().String()+":"+t.StreamID(), true, tracks)
}

func (s *CallService) connectionState(l *PeerLink, st domain.ConnectionState) {
	sess := s.sess
	if st != domain.ConnectionFailed || sess.state.Idle() {
		return
	}
	if sess.group && len(sess.links) > 1 {
		l.log.Warn().Msg("Peer connection failed, dropping participant")
		s.dropLink(l.Remote())
		return
	}
	l.log.Error().Msg("Peer connection failed, ending call")
	if err := s.send(domain.EventEnd, domain.EndPayload{CallID: sess.id, Reason: domain.ReasonConnectionFailed}); err != nil {
		l.log.Warn().Err(err).Msg("Failed to send call end")
	}
	s.publishError(domain.ErrConnectionFailed)
	s.teardown(domain.ReasonConnectionFailed)
}

// teardown releases everything the session holds and resets it to idle.
// It never fails: each step recovers and logs on its own.
func (s *CallService) teardown(reason domain.EndReason) {
	sess := s.sess
	if sess.state == domain.StateIdle {
		return
	}
	l := s.logger().With().Str("reason", string(reason)).Logger()
	sess.state = domain.StateEnded
	s.publish(domain.NoticeState, nil)

	safely(l, "timers", func() {
		if sess.noAnswer != nil {
			sess.noAnswer.Stop()
			sess.noAnswer = nil
		}
		if sess.stopDuration != nil {
			sess.stopDuration()
			sess.stopDuration = nil
		}
	})
	for key, w := range sess.watchers {
		safely(l, "watcher", w.Stop)
		delete(sess.watchers, key)
	}
	for id, link := range sess.links {
		safely(l, "peer link", link.Close)
		delete(sess.links, id)
	}
	safely(l, "local media", func() { releaseStream(sess.local) })
	safely(l, "screen capture", func() { releaseStream(sess.screen) })
	for _, extra := range sess.extra {
		safely(l, "camera", func() { releaseStream(extra) })
	}
	if sess.parked != nil {
		safely(l, "camera", sess.parked.Stop)
	}

	var d time.Duration
	if !sess.startedAt.IsZero() {
		d = time.Since(sess.startedAt)
	}
	l.Info().Dur("duration", d).Msg("Call ended")

	s.sess = idleSession()
	s.publish(domain.NoticeState, nil)
}

func safely(l zerolog.Logger, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Str("resource", what).Msg("Recovered while releasing call resource")
		}
	}()
	fn()
}

func firstTrack(tracks []port.MediaTrack) port.MediaTrack {
	if len(tracks) == 0 {
		return nil
	}
	return tracks[0]
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return "permission-denied"
	case errors.Is(err, domain.ErrDeviceNotFound):
		return "device-not-found"
	case errors.Is(err, domain.ErrDeviceBusy):
		return "device-busy"
	case errors.Is(err, domain.ErrRenegotiationFailed):
		return "renegotiation-failed"
	case errors.Is(err, domain.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, domain.ErrNoAnswer):
		return "no-answer"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrBusy):
		return "busy"
	case errors.Is(err, domain.ErrConnectionFailed):
		return "connection-failed"
	case errors.Is(err, domain.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, domain.ErrScreenShareActive):
		return "screen-share-active"
	}
	return "error"
}
