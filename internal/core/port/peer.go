package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// PeerConnection is the WebRTC engine surface the call engine drives.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetLocalDescription(ctx context.Context, sd domain.SessionDescription) error
	SetRemoteDescription(ctx context.Context, sd domain.SessionDescription) error
	LocalDescription() *domain.SessionDescription
	RemoteDescription() *domain.SessionDescription
	AddICECandidate(c domain.ICECandidate) error

	AddTrack(t MediaTrack) (RTPSender, error)
	RemoveTrack(s RTPSender) error

	SignalingState() domain.SignalingState

	OnICECandidate(fn func(domain.ICECandidate))
	OnTrack(fn func(MediaTrack))
	OnSignalingStateChange(fn func(domain.SignalingState))
	OnConnectionStateChange(fn func(domain.ConnectionState))

	Close() error
}

type RTPSender interface {
	Track() MediaTrack
	ReplaceTrack(t MediaTrack) error
}

type PeerConnectionFactory interface {
	NewPeerConnection(cfg domain.ICEConfiguration) (PeerConnection, error)
}
