// Package buildtask implements the auxiliary tasks scheduled after a
// successful build, such as accessibility scans of rendered pages.
package buildtask

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyDone     = errors.New("already done")
	ErrUnknownKind     = errors.New("unknown task kind")
	ErrArtifactMissing = errors.New("artifact required for a successful task")
)

// Status represents the task status as a string. A task is terminal
// once its status leaves StatusProcessing.
type Status string

const (
	StatusCreated    Status = "created"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

func ParseStatus(s string) (status Status, known bool) {
	status = Status(s)
	switch status {
	case StatusCreated, StatusProcessing, StatusSuccess, StatusError:
		return status, true
	default:
		return status, false
	}
}

// Terminal reports whether the status ends a task's lifecycle. Only
// terminal statuses may be written through the task callback.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusError:
		return true
	default:
		return false
	}
}

// Task is one auxiliary unit of work tied to a build. Artifact is the
// object storage key of the produced output; it is set if and only if
// the task succeeded.
type Task struct {
	ID        uuid.UUID
	BuildID   uuid.UUID
	Kind      string
	Status    Status
	Artifact  *string
	CreatedAt time.Time
}

// ArtifactKey is the deterministic object storage key for a task's
// artifact.
func ArtifactKey(taskID uuid.UUID) string {
	return "_tasks/artifacts/" + taskID.String()
}
