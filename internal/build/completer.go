package build

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// TaskScheduler creates and enqueues the auxiliary tasks configured for
// a build's site. Wired to the buildtask package; nil disables task
// scheduling.
type TaskScheduler interface {
	ScheduleTasks(ctx context.Context, b *Build) error
}

// Completer records the engine runner's completion callback. It is the
// single mutation point of a build after dispatch.
type Completer struct {
	Database Database // required
	Tasks    TaskScheduler
}

func NewCompleter(database Database, tasks TaskScheduler) *Completer {
	return &Completer{Database: database, Tasks: tasks}
}

type CompleteParams struct {
	ID    uuid.UUID
	Token string

	// Message is the base64-encoded status message from the request
	// body.
	Message string
}

// Complete authenticates the callback by build id and token and applies
// the reported result. A repeated callback for an already terminal
// build is ignored idempotently and returns the build as is.
func (c *Completer) Complete(ctx context.Context, params *CompleteParams) (*Build, error) {
	b, err := c.Database.GetBuild(ctx, params.ID)
	if err != nil {
		return nil, fmt.Errorf("build.Completer: %w", err)
	}

	// The token is the runner's only credential. Mismatch must not
	// mutate anything.
	if subtle.ConstantTimeCompare([]byte(params.Token), []byte(b.Token)) != 1 {
		slog.Warn("completion callback token mismatch", "build_id", params.ID)
		return nil, fmt.Errorf("build.Completer: %w", ErrTokenMismatch)
	}

	if b.State.Terminal() {
		slog.Info("ignoring repeated completion callback", "build_id", b.ID, "state", b.State)
		return b, nil
	}

	result, err := DecodeResult(params.Message)
	if err != nil {
		return nil, fmt.Errorf("build.Completer: %w", err)
	}

	completeParams := &DatabaseCompleteBuildParams{ID: b.ID}
	if result.Success() {
		completeParams.State = StateSuccess
		completeParams.Error = ""
	} else {
		completeParams.State = StateError
		completeParams.Error = SanitizeError(result.Message)
	}

	b, err = c.Database.CompleteBuild(ctx, completeParams)
	if err != nil {
		if errors.Is(err, ErrAlreadyDone) {
			// Lost the race against another callback; treat like the
			// terminal case above.
			done, getErr := c.Database.GetBuild(ctx, params.ID)
			if getErr != nil {
				return nil, fmt.Errorf("build.Completer: %w", getErr)
			}
			return done, nil
		}
		return nil, fmt.Errorf("build.Completer: %w", err)
	}

	slog.Info("completed build", "build_id", b.ID, "state", b.State)

	if b.State == StateSuccess && c.Tasks != nil {
		if taskErr := c.Tasks.ScheduleTasks(ctx, b); taskErr != nil {
			// The build itself is complete; task scheduling failures
			// surface in logs and through the task reconciler.
			slog.Error("didn't schedule build tasks", "build_id", b.ID, "err", taskErr)
		}
	}

	return b, nil
}
