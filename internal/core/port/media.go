package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type MediaDevices interface {
	GetUserMedia(ctx context.Context, c domain.MediaConstraints) (MediaStream, error)
	GetDisplayMedia(ctx context.Context) (MediaStream, error)
}

type MediaStream interface {
	ID() string
	Tracks() []MediaTrack
	AudioTracks() []MediaTrack
	VideoTracks() []MediaTrack
}

// MediaTrack is a local or remote media track. Tracks without change
// notifications are observed by polling Enabled, Muted and ReadyState.
type MediaTrack interface {
	ID() string
	StreamID() string
	Kind() domain.MediaKind
	Enabled() bool
	SetEnabled(enabled bool)
	Muted() bool
	ReadyState() domain.ReadyState
	Stop()
}
