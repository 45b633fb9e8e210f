package domain

import (
	"github.com/google/uuid"
)

// UserID identifies a user as known to the signaling backend.
type UserID string

// CallID is unique per call attempt.
type CallID string

func NewCallID() CallID {
	return CallID(uuid.New().String())
}

func (id UserID) String() string {
	return string(id)
}

func (id CallID) String() string {
	return string(id)
}
