package domain

import "time"

type CallType string

const (
	CallVoice CallType = "voice"
	CallVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallVoice || t == CallVideo
}

type CallState int

const (
	StateIdle CallState = iota
	StateCalling
	StateRinging
	StateInCall
	StateEnded
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalling:
		return "calling"
	case StateRinging:
		return "ringing"
	case StateInCall:
		return "in-call"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

func (s CallState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Idle reports whether a new call may start from this state.
func (s CallState) Idle() bool {
	return s == StateIdle || s == StateEnded
}

type EndReason string

const (
	ReasonHangup           EndReason = "hangup"
	ReasonNoAnswer         EndReason = "no-answer"
	ReasonRejected         EndReason = "rejected"
	ReasonBusy             EndReason = "busy"
	ReasonRemoteEnded      EndReason = "remote-ended"
	ReasonFailed           EndReason = "failed"
	ReasonConnectionFailed EndReason = "connection-failed"
	ReasonShutdown         EndReason = "shutdown"
)

type Participant struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// Session is the read-only view of the current call handed to the UI.
type Session struct {
	CallID        CallID        `json:"call_id,omitempty"`
	Type          CallType      `json:"call_type,omitempty"`
	State         CallState     `json:"state"`
	Local         Participant   `json:"local"`
	Remote        Participant   `json:"remote"`
	Participants  []Participant `json:"participants,omitempty"`
	Group         bool          `json:"group"`
	IsCaller      bool          `json:"is_caller"`
	RemoteRinging bool          `json:"remote_ringing"`
	Muted         bool          `json:"muted"`
	Video         VideoSource   `json:"video"`
	ScreenSharing bool          `json:"screen_sharing"`
	StartedAt     time.Time     `json:"started_at,omitempty"`
	Duration      time.Duration `json:"duration"`
	OpenLinks     int           `json:"open_links"`
}
