package domain

import "encoding/json"

// Event names on the signaling channel. Both ends must agree on them.
const (
	EventInitiate     = "call:initiate"
	EventAnswer       = "call:answer"
	EventReject       = "call:reject"
	EventEnd          = "call:end"
	EventIncoming     = "call:incoming"
	EventRinging      = "call:ringing"
	EventAnswered     = "call:answered"
	EventRejected     = "call:rejected"
	EventEnded        = "call:ended"
	EventFailed       = "call:failed"
	EventOffer        = "webrtc:offer"
	EventSDPAnswer    = "webrtc:answer"
	EventICECandidate = "webrtc:ice-candidate"
	EventPresence     = "presence:update"
)

// Envelope is one inbound or outbound signaling message.
type Envelope struct {
	Event   string          `json:"event"`
	From    UserID          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(event string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Payload: raw}, nil
}

// CallID returns the payload's call_id, or "" when there is none.
func (e Envelope) CallID() CallID {
	var p struct {
		CallID CallID `json:"call_id"`
	}
	if err := e.Decode(&p); err != nil {
		return ""
	}
	return p.CallID
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Outbound payloads.

type InitiatePayload struct {
	CallID     CallID      `json:"call_id"`
	ReceiverID UserID      `json:"receiver_id"`
	CallType   CallType    `json:"call_type"`
	CallerInfo Participant `json:"caller_info"`
	Group      bool        `json:"group,omitempty"`
}

type AnswerCallPayload struct {
	CallID CallID `json:"call_id"`
}

type RejectPayload struct {
	CallID CallID    `json:"call_id"`
	Reason EndReason `json:"reason,omitempty"`
}

type EndPayload struct {
	CallID CallID    `json:"call_id"`
	Reason EndReason `json:"reason,omitempty"`
}

type OfferPayload struct {
	CallID     CallID             `json:"call_id"`
	Offer      SessionDescription `json:"offer"`
	ReceiverID UserID             `json:"receiver_id,omitempty"`
	SenderID   UserID             `json:"sender_id,omitempty"`
}

type SDPAnswerPayload struct {
	CallID   CallID             `json:"call_id"`
	Answer   SessionDescription `json:"answer"`
	CallerID UserID             `json:"caller_id,omitempty"`
	SenderID UserID             `json:"sender_id,omitempty"`
}

type CandidatePayload struct {
	CallID     CallID       `json:"call_id"`
	Candidate  ICECandidate `json:"candidate"`
	ReceiverID UserID       `json:"receiver_id,omitempty"`
	SenderID   UserID       `json:"sender_id,omitempty"`
}

// Inbound lifecycle payloads.

type IncomingPayload struct {
	CallID     CallID      `json:"call_id"`
	CallerID   UserID      `json:"caller_id"`
	CallerInfo Participant `json:"caller_info"`
	CallType   CallType    `json:"call_type"`
	Group      bool        `json:"group,omitempty"`
	Members    []UserID    `json:"members,omitempty"`
}

type LifecyclePayload struct {
	CallID CallID    `json:"call_id"`
	UserID UserID    `json:"user_id,omitempty"`
	Reason EndReason `json:"reason,omitempty"`
}

// PresencePayload reports a contact going on or offline.
type PresencePayload struct {
	UserID UserID `json:"user_id"`
	Online bool   `json:"online"`
}
