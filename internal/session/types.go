// Package session persists the per-sender conversation state that carries a
// multi-step diagnosis submission across several webhook deliveries.
package session

import (
	"errors"
	"strings"
	"time"
)

// State is the conversation step the sender is currently in. The idle state
// is implicit: no session row exists.
type State string

const (
	StateAwaitingCrop  State = "awaiting_crop"
	StateAwaitingNotes State = "awaiting_notes"
	StateAwaitingImage State = "awaiting_image"
	StateProcessing    State = "processing"
)

// ParseState validates a stored state value. Unknown values trigger the
// fail-safe reset in the conversation machine.
func ParseState(raw string) (State, error) {
	switch State(strings.TrimSpace(raw)) {
	case StateAwaitingCrop:
		return StateAwaitingCrop, nil
	case StateAwaitingNotes:
		return StateAwaitingNotes, nil
	case StateAwaitingImage:
		return StateAwaitingImage, nil
	case StateProcessing:
		return StateProcessing, nil
	default:
		return "", errors.New("unknown session state: " + raw)
	}
}

// Session is one sender's in-progress diagnosis conversation. At most one
// active session exists per SenderChannelID; a session past ExpiresAt is
// treated as absent.
type Session struct {
	SenderChannelID string
	AccountID       string
	State           State
	CropName        string
	UserNotes       string
	ExpiresAt       time.Time
	LastActivityAt  time.Time
}

// Expired reports whether the session's inactivity window has passed.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// ErrNotFound is returned when no active session exists for a sender.
var ErrNotFound = errors.New("session not found")
