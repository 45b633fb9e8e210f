package domain

// Notice types pushed to the UI.
const (
	NoticeState       = "call.state"
	NoticeError       = "call.error"
	NoticeRemoteTrack = "call.remote-track"
	NoticeTrack       = "call.track"
)

// Notice is a UI-facing event emitted by the call engine.
type Notice struct {
	Type    string    `json:"type"`
	CallID  CallID    `json:"call_id,omitempty"`
	Session Session   `json:"session"`
	Error   string    `json:"error,omitempty"`
	Code    string    `json:"code,omitempty"`
	Track   *TrackRef `json:"track,omitempty"`
}
