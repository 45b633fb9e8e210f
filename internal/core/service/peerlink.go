package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// linkHost is what a PeerLink needs from the engine loop. post and async
// callbacks always run on the loop goroutine.
type linkHost interface {
	post(fn func())
	async(work func() func())
	send(event string, payload any) error
}

type offerResult struct {
	sd  domain.SessionDescription
	err error
}

// PeerLink is one negotiated connection plus its signaling bookkeeping.
// All methods must be called from the engine loop.
type PeerLink struct {
	callID domain.CallID
	remote domain.UserID
	caller bool
	polite bool
	pc     port.PeerConnection
	host   linkHost
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state  domain.SignalingState
	closed bool
	// epoch invalidates results of SDP work started before a newer one.
	epoch int

	senders      map[int]port.RTPSender
	remoteTracks []port.MediaTrack

	offerInFlight   bool
	answerInFlight  bool
	awaitingAnswer  bool
	answerApplied   bool
	offersSent      int
	answersSent     int
	lastRemoteOffer string
	lastAnswer      string

	pendingAnswer      *domain.SessionDescription
	pendingRemoteOffer *domain.SessionDescription

	candidates []domain.ICECandidate
	seen       map[string]struct{}

	offerWaiters []chan offerResult
	round        []chan error
	queued       []chan error

	onRemoteTrack     func(*PeerLink, port.MediaTrack)
	onConnectionState func(*PeerLink, domain.ConnectionState)
}

type linkOptions struct {
	callID domain.CallID
	remote domain.UserID
	caller bool
}

func newPeerLink(host linkHost, pc port.PeerConnection, o linkOptions) *PeerLink {
	ctx, cancel := context.WithCancel(context.Background())
	l := &PeerLink{
		callID:  o.callID,
		remote:  o.remote,
		caller:  o.caller,
		polite:  !o.caller,
		pc:      pc,
		host:    host,
		ctx:     ctx,
		cancel:  cancel,
		state:   pc.SignalingState(),
		senders: make(map[int]port.RTPSender),
		seen:    make(map[string]struct{}),
		log: log.With().
			Str("call_id", o.callID.String()).
			Str("remote_id", o.remote.String()).
			Logger(),
	}

	pc.OnICECandidate(func(c domain.ICECandidate) {
		host.post(func() { l.localCandidate(c) })
	})
	pc.OnTrack(func(t port.MediaTrack) {
		host.post(func() { l.remoteTrack(t) })
	})
	pc.OnSignalingStateChange(func(domain.SignalingState) {
		host.post(l.syncState)
	})
	pc.OnConnectionStateChange(func(s domain.ConnectionState) {
		host.post(func() {
			if l.closed {
				return
			}
			l.log.Debug().Str("state", s.String()).Msg("Connection state changed")
			if l.onConnectionState != nil {
				l.onConnectionState(l, s)
			}
		})
	})
	return l
}

func (l *PeerLink) Remote() domain.UserID { return l.remote }

func (l *PeerLink) Closed() bool { return l.closed }

func (l *PeerLink) SignalingState() domain.SignalingState { return l.state }

func (l *PeerLink) AnswersSent() int { return l.answersSent }

func (l *PeerLink) syncState() {
	if l.closed {
		return
	}
	l.state = l.pc.SignalingState()
}

// CreateOffer creates and sends an offer. A second request while one is
// being produced, or while the last one is still unanswered, resolves to the
// existing offer instead of creating a duplicate.
func (l *PeerLink) CreateOffer() <-chan offerResult {
	res := make(chan offerResult, 1)
	switch {
	case l.closed:
		res <- offerResult{err: domain.ErrClosed}
	case l.offerInFlight:
		l.log.Debug().Err(domain.ErrSignalingRace).Msg("Offer already in flight, joining it")
		l.offerWaiters = append(l.offerWaiters, res)
	case l.state == domain.SignalingHaveLocalOffer && !l.pc.LocalDescription().IsZero():
		l.log.Debug().Err(domain.ErrSignalingRace).Msg("Local offer already set, returning it")
		res <- offerResult{sd: *l.pc.LocalDescription()}
	case l.state != domain.SignalingStable || l.answerInFlight:
		res <- offerResult{err: fmt.Errorf("%w: create offer in %s", domain.ErrSignalingRace, l.state)}
	default:
		l.round = append(l.round, l.queued...)
		l.queued = nil
		l.offerWaiters = append(l.offerWaiters, res)
		l.startOffer()
	}
	return res
}

// Negotiate asks for a fresh offer/answer round once the link is stable.
// The returned channel resolves when that round's answer has been applied.
func (l *PeerLink) Negotiate() <-chan error {
	done := make(chan error, 1)
	if l.closed {
		done <- domain.ErrClosed
		return done
	}
	l.queued = append(l.queued, done)
	l.maybeStartRound()
	return done
}

func (l *PeerLink) busy() bool {
	return l.offerInFlight || l.answerInFlight || l.awaitingAnswer ||
		l.state != domain.SignalingStable
}

func (l *PeerLink) maybeStartRound() {
	if l.closed || len(l.queued) == 0 || l.busy() {
		return
	}
	l.round = append(l.round, l.queued...)
	l.queued = nil
	l.log.Debug().Int("waiters", len(l.round)).Msg("Starting renegotiation")
	l.startOffer()
}

func (l *PeerLink) startOffer() {
	l.offerInFlight = true
	l.epoch++
	epoch, pc, ctx := l.epoch, l.pc, l.ctx
	l.host.async(func() func() {
		sd, err := pc.CreateOffer(ctx)
		if err == nil {
			err = pc.SetLocalDescription(ctx, sd)
		}
		return func() { l.offerReady(epoch, sd, err) }
	})
}

func (l *PeerLink) offerReady(epoch int, sd domain.SessionDescription, err error) {
	if l.closed || epoch != l.epoch {
		return
	}
	l.offerInFlight = false
	l.syncState()

	if err != nil && l.state == domain.SignalingHaveLocalOffer {
		if local := l.pc.LocalDescription(); !local.IsZero() {
			l.log.Debug().Err(err).Msg("Local description already set, reusing it")
			sd, err = *local, nil
		}
	}
	if err != nil {
		l.log.Warn().Err(err).Msg("Failed to create offer")
		l.failOffer(err)
		return
	}

	err = l.host.send(domain.EventOffer, domain.OfferPayload{
		CallID:     l.callID,
		Offer:      sd,
		ReceiverID: l.remote,
	})
	if err != nil {
		l.log.Warn().Err(err).Msg("Failed to send offer")
		if rbErr := l.rollback(false); rbErr != nil {
			l.log.Warn().Err(rbErr).Msg("Failed to roll back unsent offer")
		}
		l.failOffer(err)
		return
	}
	l.offersSent++
	l.awaitingAnswer = true
	for _, w := range l.offerWaiters {
		w <- offerResult{sd: sd}
	}
	l.offerWaiters = nil

	if a := l.pendingAnswer; a != nil {
		l.pendingAnswer = nil
		l.log.Debug().Msg("Applying buffered answer")
		l.applyAnswer(*a)
		return
	}
	if o := l.pendingRemoteOffer; o != nil {
		l.pendingRemoteOffer = nil
		l.HandleOffer(*o)
	}
}

func (l *PeerLink) failOffer(err error) {
	l.pendingAnswer = nil
	for _, w := range l.offerWaiters {
		w <- offerResult{err: err}
	}
	l.offerWaiters = nil
	l.failRound(err)
}

func (l *PeerLink) failRound(err error) {
	for _, w := range l.round {
		w <- fmt.Errorf("%w: %w", domain.ErrRenegotiationFailed, err)
	}
	l.round = nil
}

// rollback discards the local offer. With requeue the current round is
// retried once the link is stable again.
func (l *PeerLink) rollback(requeue bool) error {
	err := l.pc.SetLocalDescription(l.ctx, domain.SessionDescription{Type: domain.SDPRollback})
	l.awaitingAnswer = false
	l.pendingAnswer = nil
	if requeue {
		l.queued = append(l.round, l.queued...)
		l.round = nil
	}
	l.syncState()
	return err
}

// HandleAnswer applies a remote answer to the outstanding local offer. A
// repeat of an answer that was already applied never counts for a later
// offer.
func (l *PeerLink) HandleAnswer(sd domain.SessionDescription) {
	switch {
	case l.closed:
		l.log.Debug().Msg("Answer after close dropped")
	case l.lastAnswer != "" && sd.SDP == l.lastAnswer:
		l.log.Debug().Err(domain.ErrSignalingRace).Msg("Stale answer ignored")
	case l.offerInFlight:
		if l.pendingAnswer != nil {
			l.log.Debug().Msg("Duplicate early answer ignored")
			return
		}
		l.log.Debug().Msg("Answer arrived before local offer was applied, buffering")
		l.pendingAnswer = &sd
	case l.state == domain.SignalingHaveLocalOffer:
		l.applyAnswer(sd)
	case l.state == domain.SignalingStable && l.offersSent > 0:
		l.log.Debug().Msg("Answer already applied, ignoring")
	default:
		l.log.Warn().Err(domain.ErrSignalingRace).
			Str("signaling_state", l.state.String()).
			Msg("Protocol error: answer outside of a negotiation")
	}
}

func (l *PeerLink) applyAnswer(sd domain.SessionDescription) {
	if err := l.pc.SetRemoteDescription(l.ctx, sd); err != nil {
		l.log.Warn().Err(err).Msg("Failed to apply answer")
		if rbErr := l.rollback(false); rbErr != nil {
			l.log.Warn().Err(rbErr).Msg("Failed to roll back after rejected answer")
		}
		l.failRound(err)
		return
	}
	l.awaitingAnswer = false
	l.answerApplied = true
	l.lastAnswer = sd.SDP
	l.syncState()
	l.drainCandidates()

	for _, w := range l.round {
		w <- nil
	}
	l.round = nil
	l.maybeStartRound()
}

// HandleOffer answers a remote offer: the initial one, or a renegotiation
// once both descriptions exist.
func (l *PeerLink) HandleOffer(sd domain.SessionDescription) {
	if l.closed {
		l.log.Debug().Msg("Offer after close dropped")
		return
	}
	if sd.SDP == l.lastRemoteOffer {
		l.log.Debug().Msg("Duplicate offer ignored")
		return
	}

	switch {
	case l.answerInFlight || l.state == domain.SignalingHaveRemoteOffer:
		l.log.Debug().Err(domain.ErrSignalingRace).Msg("Offer while answering another, ignored")
		return
	case l.offerInFlight || l.state == domain.SignalingHaveLocalOffer:
		if !l.polite {
			l.log.Debug().Err(domain.ErrSignalingRace).Msg("Colliding remote offer ignored")
			return
		}
		if l.offerInFlight {
			l.log.Debug().Err(domain.ErrSignalingRace).Msg("Colliding remote offer deferred")
			l.pendingRemoteOffer = &sd
			return
		}
		l.log.Debug().Err(domain.ErrSignalingRace).Msg("Rolling back local offer for remote offer")
		if err := l.rollback(true); err != nil {
			l.log.Warn().Err(err).Msg("Rollback failed, ignoring remote offer")
			return
		}
	}

	renegotiation := l.answerApplied && !l.pc.LocalDescription().IsZero() && !l.pc.RemoteDescription().IsZero()
	if !renegotiation && l.answerApplied {
		l.log.Debug().Msg("Late initial offer ignored")
		return
	}

	if err := l.pc.SetRemoteDescription(l.ctx, sd); err != nil {
		l.log.Warn().Err(err).Bool("renegotiation", renegotiation).Msg("Failed to apply remote offer")
		l.syncState()
		return
	}
	l.lastRemoteOffer = sd.SDP
	l.syncState()
	l.drainCandidates()

	l.answerInFlight = true
	l.epoch++
	epoch, pc, ctx := l.epoch, l.pc, l.ctx
	l.host.async(func() func() {
		ans, err := pc.CreateAnswer(ctx)
		if err == nil {
			err = pc.SetLocalDescription(ctx, ans)
		}
		return func() { l.answerReady(epoch, ans, renegotiation, err) }
	})
}

func (l *PeerLink) answerReady(epoch int, sd domain.SessionDescription, renegotiation bool, err error) {
	if l.closed || epoch != l.epoch {
		return
	}
	l.answerInFlight = false
	l.syncState()
	if err != nil {
		l.log.Warn().Err(err).Bool("renegotiation", renegotiation).Msg("Failed to create answer")
		return
	}

	err = l.host.send(domain.EventSDPAnswer, domain.SDPAnswerPayload{
		CallID:   l.callID,
		Answer:   sd,
		CallerID: l.remote,
	})
	if err != nil {
		l.log.Warn().Err(err).Msg("Failed to send answer")
	} else {
		l.answersSent++
	}
	if !renegotiation {
		l.answerApplied = true
	}
	l.maybeStartRound()
}

// HandleCandidate applies a remote ICE candidate, queueing it until a remote
// description exists. Queued candidates keep arrival order.
func (l *PeerLink) HandleCandidate(c domain.ICECandidate) {
	if l.closed {
		return
	}
	key := candidateKey(c)
	if _, dup := l.seen[key]; dup {
		l.log.Debug().Msg("Duplicate ICE candidate ignored")
		return
	}
	l.seen[key] = struct{}{}

	if l.pc.RemoteDescription().IsZero() || len(l.candidates) > 0 {
		l.candidates = append(l.candidates, c)
		return
	}
	l.addCandidate(c)
}

func (l *PeerLink) drainCandidates() {
	if l.pc.RemoteDescription().IsZero() {
		return
	}
	queued := l.candidates
	l.candidates = nil
	for _, c := range queued {
		l.addCandidate(c)
	}
}

func (l *PeerLink) addCandidate(c domain.ICECandidate) {
	if err := l.pc.AddICECandidate(c); err != nil {
		l.log.Warn().Err(err).Msg("Failed to add ICE candidate")
	}
}

func candidateKey(c domain.ICECandidate) string {
	key := c.Candidate
	if c.SDPMid != nil {
		key += "|" + *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		key += "|" + strconv.Itoa(int(*c.SDPMLineIndex))
	}
	return key
}

func (l *PeerLink) localCandidate(c domain.ICECandidate) {
	if l.closed {
		return
	}
	err := l.host.send(domain.EventICECandidate, domain.CandidatePayload{
		CallID:     l.callID,
		Candidate:  c,
		ReceiverID: l.remote,
	})
	if err != nil {
		l.log.Warn().Err(err).Msg("Failed to send ICE candidate")
	}
}

func (l *PeerLink) remoteTrack(t port.MediaTrack) {
	if l.closed {
		t.Stop()
		return
	}
	l.remoteTracks = append(l.remoteTracks, t)
	l.log.Debug().Str("kind", string(t.Kind())).Str("track_id", t.ID()).Msg("Received remote track")
	if l.onRemoteTrack != nil {
		l.onRemoteTrack(l, t)
	}
}

// RemoteTracks returns the tracks received on this link.
func (l *PeerLink) RemoteTracks() []port.MediaTrack {
	return l.remoteTracks
}

// Sender returns the sender occupying slot, if any.
func (l *PeerLink) Sender(slot int) port.RTPSender {
	return l.senders[slot]
}

// SetTrack puts t on the sender for slot, replacing the current track when
// the sender exists. It reports whether a sender was added, which requires
// renegotiation.
func (l *PeerLink) SetTrack(slot int, t port.MediaTrack) (bool, error) {
	if l.closed {
		return false, domain.ErrClosed
	}
	if s, ok := l.senders[slot]; ok {
		return false, s.ReplaceTrack(t)
	}
	if t == nil {
		return false, nil
	}
	s, err := l.pc.AddTrack(t)
	if err != nil {
		return false, err
	}
	l.senders[slot] = s
	return true, nil
}

// RemoveSender drops the sender for slot. Removing a sender requires
// renegotiation.
func (l *PeerLink) RemoveSender(slot int) (bool, error) {
	if l.closed {
		return false, domain.ErrClosed
	}
	s, ok := l.senders[slot]
	if !ok {
		return false, nil
	}
	delete(l.senders, slot)
	return true, l.pc.RemoveTrack(s)
}

// Close tears the link down. Pending waiters resolve with domain.ErrClosed.
func (l *PeerLink) Close() {
	if l.closed {
		return
	}
	l.closed = true
	l.state = domain.SignalingClosed
	l.cancel()

	for _, w := range l.offerWaiters {
		w <- offerResult{err: domain.ErrClosed}
	}
	for _, w := range l.round {
		w <- domain.ErrClosed
	}
	for _, w := range l.queued {
		w <- domain.ErrClosed
	}
	l.offerWaiters, l.round, l.queued = nil, nil, nil
	l.pendingAnswer, l.pendingRemoteOffer = nil, nil
	l.candidates = nil

	for _, t := range l.remoteTracks {
		t.Stop()
	}
	l.remoteTracks = nil
	l.senders = make(map[int]port.RTPSender)

	if err := l.pc.Close(); err != nil {
		l.log.Error().Err(err).Msg("Failed to close peer connection")
	}
	l.log.Debug().Msg("Peer link closed")
}
