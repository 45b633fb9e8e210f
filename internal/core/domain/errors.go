package domain

import "errors"

// Media and engine capability errors. Each one maps to different remediation
// text in the UI.
var (
	ErrPermissionDenied = errors.New("media permission denied")
	ErrDeviceNotFound   = errors.New("media device not found")
	ErrDeviceBusy       = errors.New("media device busy")
	ErrUnsupported      = errors.New("unsupported by media engine")
	ErrCaptureCancelled = errors.New("screen capture cancelled")
)

// Negotiation errors. These are recoverable and never end a healthy call.
var (
	ErrSignalingRace         = errors.New("signaling race")
	ErrRenegotiationFailed   = errors.New("renegotiation failed")
	ErrConfigurationRejected = errors.New("connection configuration rejected")
)

// Call lifecycle errors.
var (
	ErrNoAnswer = errors.New("no answer")
	ErrTimeout  = errors.New("call timed out")
	ErrBusy     = errors.New("busy")
	ErrClosed   = errors.New("peer link closed")

	ErrConnectionFailed = errors.New("peer connection failed")
)

// Guard errors returned by commands issued in the wrong state.
var (
	ErrInvalidState      = errors.New("invalid call state")
	ErrSelfCall          = errors.New("cannot call yourself")
	ErrInvalidCallType   = errors.New("invalid call type")
	ErrUnreachable       = errors.New("participant unreachable")
	ErrNotReceiver       = errors.New("only the receiver can answer")
	ErrNotVideoCall      = errors.New("not a video call")
	ErrScreenShareActive = errors.New("screen share is active")
	ErrNoPeerLink        = errors.New("no peer link")
	ErrEngineStopped     = errors.New("call engine stopped")
)
