package service

import (
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// dispatch routes one inbound envelope. Events for a call id other than the
// current one are discarded.
func (s *CallService) dispatch(env domain.Envelope) {
	l := log.With().Str("event", env.Event).Str("from", env.From.String()).Logger()

	switch env.Event {
	case domain.EventIncoming:
		var p domain.IncomingPayload
		if err := env.Decode(&p); err != nil {
			l.Warn().Err(err).Msg("Malformed signaling payload")
			return
		}
		s.incoming(p)

	case domain.EventRinging, domain.EventAnswered, domain.EventRejected, domain.EventEnded, domain.EventFailed:
		var p domain.LifecyclePayload
		if err := env.Decode(&p); err != nil {
			l.Warn().Err(err).Msg("Malformed signaling payload")
			return
		}
		if !s.current(p.CallID) {
			l.Debug().Str("call_id", p.CallID.String()).Msg("Discarding event for stale call")
			return
		}
		who := firstID(p.UserID, env.From)
		switch env.Event {
		case domain.EventRinging:
			s.remoteRinging()
		case domain.EventAnswered:
			s.remoteAnswered(who)
		case domain.EventRejected:
			s.remoteGone(who, domain.ReasonRejected, p.Reason)
		case domain.EventEnded:
			s.remoteGone(who, domain.ReasonRemoteEnded, p.Reason)
		case domain.EventFailed:
			s.remoteGone(who, domain.ReasonFailed, p.Reason)
		}

	case domain.EventOffer:
		var p domain.OfferPayload
		if err := env.Decode(&p); err != nil {
			l.Warn().Err(err).Msg("Malformed signaling payload")
			return
		}
		if !s.current(p.CallID) {
			l.Debug().Str("call_id", p.CallID.String()).Msg("Discarding offer for stale call")
			return
		}
		from := s.resolve(p.SenderID, env.From)
		if link, ok := s.sess.links[from]; ok {
			link.HandleOffer(p.Offer)
			return
		}
		l.Debug().Str("remote_id", from.String()).Msg("Offer before peer link exists, holding it")
		s.sess.offers[from] = p.Offer

	case domain.EventSDPAnswer:
		var p domain.SDPAnswerPayload
		if err := env.Decode(&p); err != nil {
			l.Warn().Err(err).Msg("Malformed signaling payload")
			return
		}
		if !s.current(p.CallID) {
			l.Debug().Str("call_id", p.CallID.String()).Msg("Discarding answer for stale call")
			return
		}
		from := s.resolve(p.SenderID, env.From)
		link, ok := s.sess.links[from]
		if !ok {
			l.Warn().Str("remote_id", from.String()).Msg("Answer without a peer link")
			return
		}
		link.HandleAnswer(p.Answer)

	case domain.EventICECandidate:
		var p domain.CandidatePayload
		if err := env.Decode(&p); err != nil {
			l.Warn().Err(err).Msg("Malformed signaling payload")
			return
		}
		if !s.current(p.CallID) {
			l.Debug().Str("call_id", p.CallID.String()).Msg("Discarding ICE candidate for stale call")
			return
		}
		from := s.resolve(p.SenderID, env.From)
		if link, ok := s.sess.links[from]; ok {
			link.HandleCandidate(p.Candidate)
			return
		}
		s.sess.candidates[from] = append(s.sess.candidates[from], p.Candidate)

	default:
		l.Debug().Msg("Ignoring unknown signaling event")
	}
}

func (s *CallService) current(id domain.CallID) bool {
	return !s.sess.state.Idle() && id != "" && id == s.sess.id
}

// resolve picks the remote a message belongs to. 1:1 calls always map to
// the only remote; group links fall back to the single link if the
// transport omitted the sender.
func (s *CallService) resolve(ids ...domain.UserID) domain.UserID {
	sess := s.sess
	if !sess.group {
		return sess.remote.ID
	}
	if id := firstID(ids...); id != "" {
		return id
	}
	if len(sess.links) == 1 {
		for id := range sess.links {
			return id
		}
	}
	return ""
}

func firstID(ids ...domain.UserID) domain.UserID {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}
	return ""
}

func (s *CallService) incoming(p domain.IncomingPayload) {
	sess := s.sess
	l := log.With().Str("call_id", p.CallID.String()).Str("caller_id", p.CallerID.String()).Logger()

	if sess.state == domain.StateRinging && sess.id == p.CallID {
		l.Debug().Err(domain.ErrSignalingRace).Msg("Duplicate incoming call ignored")
		return
	}
	if p.CallID == "" || p.CallerID == "" || !p.CallType.Valid() {
		l.Warn().Str("call_type", string(p.CallType)).Msg("Invalid incoming call")
		return
	}
	if s.starting || !sess.state.Idle() {
		if sess.id == p.CallID {
			l.Debug().Msg("Incoming event for the active call ignored")
			return
		}
		l.Info().Err(domain.ErrBusy).Msg("Rejecting incoming call")
		if err := s.send(domain.EventReject, domain.RejectPayload{CallID: p.CallID, Reason: domain.ReasonBusy}); err != nil {
			l.Warn().Err(err).Msg("Failed to send busy rejection")
		}
		return
	}

	next := newSession(p.CallID, p.CallType, false, p.Group)
	next.state = domain.StateRinging
	next.remote = p.CallerInfo
	next.remote.ID = p.CallerID
	if p.Group {
		next.members = append(next.members, next.remote)
		for _, id := range p.Members {
			if id != s.cfg.Self.ID && id != p.CallerID {
				next.members = append(next.members, domain.Participant{ID: id})
			}
		}
	}
	s.sess = next
	s.startNoAnswer()

	l.Info().Str("call_type", string(p.CallType)).Bool("group", p.Group).Msg("Incoming call")
	s.publish(domain.NoticeState, nil)
}

func (s *CallService) remoteRinging() {
	sess := s.sess
	if !sess.caller || sess.state != domain.StateCalling || sess.ringing {
		return
	}
	sess.ringing = true
	s.publish(domain.NoticeState, nil)
}

// remoteAnswered starts the offer towards who. A duplicate answered event
// never produces a second offer.
func (s *CallService) remoteAnswered(who domain.UserID) {
	sess := s.sess
	if !sess.caller {
		s.logger().Debug().Msg("Answered event on the receiving side ignored")
		return
	}
	who = s.resolve(who)
	link, ok := sess.links[who]
	if !ok {
		s.logger().Warn().Str("remote_id", who.String()).Msg("Answered by a participant without a peer link")
		return
	}
	if sess.offered[who] {
		s.logger().Debug().Err(domain.ErrSignalingRace).Str("remote_id", who.String()).Msg("Duplicate answered event ignored")
		return
	}
	sess.offered[who] = true

	if sess.state == domain.StateCalling {
		s.enterCall()
		s.logger().Info().Str("remote_id", who.String()).Msg("Call answered by remote")
		s.publish(domain.NoticeState, nil)
	}
	link.CreateOffer()
}

// remoteGone handles rejected, ended and failed. In a group call placed by
// us only that participant's link is dropped.
func (s *CallService) remoteGone(who domain.UserID, local, remote domain.EndReason) {
	sess := s.sess
	l := s.logger().With().Str("remote_id", who.String()).Str("remote_reason", string(remote)).Logger()

	if sess.group && sess.caller && who != "" {
		if _, ok := sess.links[who]; ok && len(sess.links) > 1 {
			l.Info().Msg("Participant left the call")
			s.dropLink(who)
			return
		}
	}

	switch {
	case local == domain.ReasonRejected && remote == domain.ReasonBusy:
		s.publishError(domain.ErrBusy)
	case local == domain.ReasonFailed:
		s.publishError(fmt.Errorf("call failed: %s", remote))
	}
	l.Info().Msg("Call closed by remote")
	s.teardown(local)
}
