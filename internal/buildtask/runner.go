package buildtask

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// maxPageSize bounds a fetched rendered page. Pages bigger than this
// fail the task instead of ballooning worker memory.
const maxPageSize = 32 * 1024 * 1024 // 32MB

// RunnerDatabase is the persistence surface the task runner needs. The
// terminal status is written by whoever serves the callback URL, not by
// the runner.
type RunnerDatabase interface {
	MarkTaskProcessing(ctx context.Context, id uuid.UUID) error
}

// Storage is the object store task artifacts land in.
type Storage interface {
	Upload(ctx context.Context, key string, r io.Reader) error
}

// Runner executes one task from the build-tasks queue. That queue makes
// a single attempt, so every failure is returned to the caller for an
// explicit resubmission decision; nothing here retries. The callback
// contract tolerates replays, which the assumed external reconciler
// relies on for tasks stuck in processing.
type Runner struct {
	Database   RunnerDatabase // required
	Storage    Storage        // required
	HTTPClient *http.Client
}

func (r *Runner) httpClient() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return http.DefaultClient
}

func (r *Runner) Run(ctx context.Context, msg *Message) error {
	if err := r.Database.MarkTaskProcessing(ctx, msg.TaskID); err != nil {
		return fmt.Errorf("buildtask.Runner: %w", err)
	}

	artifact, err := r.process(ctx, msg)
	if err != nil {
		return fmt.Errorf("buildtask.Runner: %w", err)
	}

	key := ArtifactKey(msg.TaskID)
	if err = r.Storage.Upload(ctx, key, bytes.NewReader(artifact)); err != nil {
		return fmt.Errorf("buildtask.Runner: %w", err)
	}

	if err = r.callback(ctx, msg.CallbackURL, key); err != nil {
		return fmt.Errorf("buildtask.Runner: %w", err)
	}

	slog.Info("finished build task", "task_id", msg.TaskID, "kind", msg.Kind, "artifact", key)
	return nil
}

func (r *Runner) process(ctx context.Context, msg *Message) ([]byte, error) {
	switch msg.Kind {
	case "rendered-page":
		return r.fetchPage(ctx, msg.PageURL)
	case "archive":
		return msg.Payload, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}
}

// fetchPage downloads a rendered page from the published site.
func (r *Runner) fetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page responded %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
}

// callback reports success to the caller-supplied URL.
func (r *Runner) callback(ctx context.Context, callbackURL, artifactKey string) error {
	body := new(bytes.Buffer)
	err := json.NewEncoder(body).Encode(map[string]string{
		"artifact": artifactKey,
		"status":   "success",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, callbackURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback responded %d", resp.StatusCode)
	}

	return nil
}
