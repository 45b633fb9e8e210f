package pion

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// LocalTrack is a capture track pion can send.
type LocalTrack interface {
	port.MediaTrack
	TrackLocal() webrtc.TrackLocal
}

// PeerConnection adapts *webrtc.PeerConnection to port.PeerConnection.
type PeerConnection struct {
	pc *webrtc.PeerConnection
}

func newPeerConnection(pc *webrtc.PeerConnection) *PeerConnection {
	return &PeerConnection{pc: pc}
}

func (p *PeerConnection) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	sd, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromSDP(sd), nil
}

func (p *PeerConnection) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	sd, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromSDP(sd), nil
}

func (p *PeerConnection) SetLocalDescription(ctx context.Context, sd domain.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.pc.SetLocalDescription(toSDP(sd))
}

func (p *PeerConnection) SetRemoteDescription(ctx context.Context, sd domain.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.pc.SetRemoteDescription(toSDP(sd))
}

func (p *PeerConnection) LocalDescription() *domain.SessionDescription {
	return fromSDPPtr(p.pc.LocalDescription())
}

func (p *PeerConnection) RemoteDescription() *domain.SessionDescription {
	return fromSDPPtr(p.pc.RemoteDescription())
}

func (p *PeerConnection) AddICECandidate(c domain.ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (p *PeerConnection) AddTrack(t port.MediaTrack) (port.RTPSender, error) {
	local, err := trackLocal(t)
	if err != nil {
		return nil, err
	}
	rs, err := p.pc.AddTrack(local)
	if err != nil {
		return nil, err
	}
	s := &sender{rs: rs, track: t}
	go s.drainRTCP()
	return s, nil
}

func (p *PeerConnection) RemoveTrack(s port.RTPSender) error {
	ps, ok := s.(*sender)
	if !ok {
		return fmt.Errorf("%w: foreign sender", domain.ErrUnsupported)
	}
	return p.pc.RemoveTrack(ps.rs)
}

func (p *PeerConnection) SignalingState() domain.SignalingState {
	return signalingState(p.pc.SignalingState())
}

func (p *PeerConnection) OnICECandidate(fn func(domain.ICECandidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil {
			return
		}
		init := c.ToJSON()
		fn(domain.ICECandidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (p *PeerConnection) OnTrack(fn func(port.MediaTrack)) {
	p.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Debug().Str("kind", remote.Kind().String()).Str("track_id", remote.ID()).Msg("Received remote track")
		t := newRemoteTrack(remote)
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			go requestKeyframes(p.pc, remote, t)
		}
		fn(t)
	})
}

func (p *PeerConnection) OnSignalingStateChange(fn func(domain.SignalingState)) {
	p.pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
		fn(signalingState(s))
	})
}

func (p *PeerConnection) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(connectionState(s))
	})
}

func (p *PeerConnection) Close() error {
	return p.pc.Close()
}

type sender struct {
	rs *webrtc.RTPSender

	mu    sync.Mutex
	track port.MediaTrack
}

func (s *sender) Track() port.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// ReplaceTrack swaps the outgoing track without renegotiation. A nil track
// keeps the sender but stops sending.
func (s *sender) ReplaceTrack(t port.MediaTrack) error {
	var local webrtc.TrackLocal
	if t != nil {
		var err error
		if local, err = trackLocal(t); err != nil {
			return err
		}
	}
	if err := s.rs.ReplaceTrack(local); err != nil {
		return err
	}
	s.mu.Lock()
	s.track = t
	s.mu.Unlock()
	return nil
}

// drainRTCP reads incoming RTCP so interceptors keep working. It returns
// when the sender is stopped.
func (s *sender) drainRTCP() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := s.rs.Read(buf); err != nil {
			return
		}
	}
}

func trackLocal(t port.MediaTrack) (webrtc.TrackLocal, error) {
	lt, ok := t.(LocalTrack)
	if !ok {
		return nil, fmt.Errorf("%w: track %s cannot be sent", domain.ErrUnsupported, t.ID())
	}
	return lt.TrackLocal(), nil
}

func toSDP(sd domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(string(sd.Type)), SDP: sd.SDP}
}

func fromSDP(sd webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: domain.SDPType(sd.Type.String()), SDP: sd.SDP}
}

func fromSDPPtr(sd *webrtc.SessionDescription) *domain.SessionDescription {
	if sd == nil {
		return nil
	}
	out := fromSDP(*sd)
	return &out
}

func signalingState(s webrtc.SignalingState) domain.SignalingState {
	switch s {
	case webrtc.SignalingStateHaveLocalOffer, webrtc.SignalingStateHaveRemotePranswer:
		return domain.SignalingHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer, webrtc.SignalingStateHaveLocalPranswer:
		return domain.SignalingHaveRemoteOffer
	case webrtc.SignalingStateClosed:
		return domain.SignalingClosed
	}
	return domain.SignalingStable
}

func connectionState(s webrtc.PeerConnectionState) domain.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnectionClosed
	}
	return domain.ConnectionNew
}
