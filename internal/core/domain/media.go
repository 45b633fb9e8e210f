package domain

type MediaKind string

const (
	KindAudio  MediaKind = "audio"
	KindVideo  MediaKind = "video"
	KindScreen MediaKind = "screen"
)

// Sender slots on a PeerLink. A 1:1 call carries at most one video sender
// that alternates between camera and screen.
const (
	SlotAudio  = 0
	SlotVideo  = 1
	SlotScreen = 2
)

// TrackRef tags a track the engine is sending.
type TrackRef struct {
	Kind     MediaKind `json:"kind"`
	TrackID  string    `json:"track_id"`
	StreamID string    `json:"stream_id"`
	Slot     int       `json:"slot"`
	Remote   bool      `json:"remote,omitempty"`
}

type VideoSourceKind string

const (
	VideoNone   VideoSourceKind = "none"
	VideoCamera VideoSourceKind = "camera"
	VideoScreen VideoSourceKind = "screen"
)

// VideoSource describes what the local video sender currently carries.
type VideoSource struct {
	Kind    VideoSourceKind `json:"kind"`
	TrackID string          `json:"track_id,omitempty"`
	Enabled bool            `json:"enabled"`
}

type ReadyState string

const (
	ReadyLive  ReadyState = "live"
	ReadyEnded ReadyState = "ended"
)

type TrackEventType int

const (
	TrackMuted TrackEventType = iota
	TrackUnmuted
	TrackEnded
)

func (t TrackEventType) String() string {
	switch t {
	case TrackMuted:
		return "muted"
	case TrackUnmuted:
		return "unmuted"
	case TrackEnded:
		return "ended"
	}
	return "unknown"
}

type TrackEvent struct {
	Type     TrackEventType
	Kind     MediaKind
	TrackID  string
	StreamID string
	Remote   bool
}

// MediaConstraints is a device-agnostic capture request. Zero values mean
// "no preference".
type MediaConstraints struct {
	Audio bool
	Video bool

	AudioDeviceID    string
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       int
	ChannelCount     int

	VideoDeviceID string
	Width         int
	Height        int
	FrameRate     float64
}
