// Package build implements the build orchestration pipeline: dispatch,
// engine execution and completion callbacks.
package build

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrTokenMismatch  = errors.New("token mismatch")
	ErrAlreadyDone    = errors.New("already done")
	ErrInvalidMessage = errors.New("invalid message")
)

// State is the build lifecycle state. The callback handler only ever
// moves a build from StateProcessing to StateSuccess or StateError.
type State string

const (
	StateCreated    State = "created"
	StateProcessing State = "processing"
	StateSuccess    State = "success"
	StateError      State = "error"
	StateSkipped    State = "skipped"
)

func ParseState(s string) (state State, known bool) {
	state = State(s)
	switch state {
	case StateCreated, StateProcessing, StateSuccess, StateError, StateSkipped:
		return state, true
	default:
		return state, false
	}
}

// Terminal reports whether no further transition is permitted.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateError, StateSkipped:
		return true
	default:
		return false
	}
}

// Source points a templated build at an alternate repository to clone
// from instead of the site's own.
type Source struct {
	Owner      string
	Repository string
}

// Build is one attempt to render and publish a site at a branch.
// Token is the bearer credential the out-of-process engine runner uses
// to authenticate its completion callback; it is generated once at
// creation and never changes.
type Build struct {
	ID          uuid.UUID
	SiteID      uuid.UUID
	UserID      uuid.UUID
	Branch      string
	State       State
	Error       string
	Token       string
	Source      *Source
	CompletedAt *time.Time
	CreatedAt   time.Time
}
