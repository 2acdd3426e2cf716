package confirm

import (
	"errors"
	"time"
)

type State string

const (
	Created  State = "CREATED"
	Approved State = "APPROVED"
	Denied   State = "DENIED"
	Expired  State = "EXPIRED"
)

var ErrInvalidTransition = errors.New("invalid confirmation transition")

type Transition string

const (
	TransitionApprove Transition = "APPROVE"
	TransitionDeny    Transition = "DENY"
	TransitionExpire  Transition = "EXPIRE"
)

// CanTransition reports whether from may move to to. Every state other
// than Created is terminal.
func CanTransition(from, to State) bool {
	if from != Created {
		return false
	}
	return to == Approved || to == Denied || to == Expired
}

func Next(from State, t Transition) (State, error) {
	var to State
	switch t {
	case TransitionApprove:
		to = Approved
	case TransitionDeny:
		to = Denied
	case TransitionExpire:
		to = Expired
	default:
		return from, ErrInvalidTransition
	}
	if !CanTransition(from, to) {
		return from, ErrInvalidTransition
	}
	return to, nil
}

func IsTerminal(s State) bool {
	return s == Approved || s == Denied || s == Expired
}

// IsExpired treats the expiry instant itself as expired.
func IsExpired(now, expiresAt time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return !now.UTC().Before(expiresAt.UTC())
}
