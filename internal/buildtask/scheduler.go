package buildtask

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"github.com/google/uuid"

	"github.com/statichq/pages/internal/build"
	"github.com/statichq/pages/internal/queue"
)

// Message is the build-tasks queue payload.
type Message struct {
	TaskID      uuid.UUID       `json:"task_id"`
	BuildID     uuid.UUID       `json:"build_id"`
	Kind        string          `json:"kind"`
	CallbackURL string          `json:"callback_url"`
	PageURL     string          `json:"page_url,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

func DecodeMessage(body []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("invalid body: %w", err)
	}
	if msg.TaskID == uuid.Nil {
		return nil, fmt.Errorf("missing %s body field", "task_id")
	}
	return &msg, nil
}

// SchedulerDatabase is the persistence surface the scheduler needs.
type SchedulerDatabase interface {
	GetSiteInfo(ctx context.Context, siteID uuid.UUID) (*SiteInfo, error)
	CreateTask(ctx context.Context, buildID uuid.UUID, kind string) (*Task, error)
}

// Scheduler creates the tasks configured for a site when one of its
// builds succeeds and enqueues them onto the build-tasks queue. It
// implements the completion handler's TaskScheduler.
type Scheduler struct {
	Database SchedulerDatabase // required
	Broker   build.Publisher   // required

	// CallbackBase is the base URL tasks report back to, e.g.
	// http://server:8080.
	CallbackBase string // required

	// PublicBase is the base URL published sites are served from; task
	// processors fetch rendered pages beneath it.
	PublicBase string // required
}

var _ build.TaskScheduler = (*Scheduler)(nil)

func (s *Scheduler) ScheduleTasks(ctx context.Context, b *build.Build) error {
	info, err := s.Database.GetSiteInfo(ctx, b.SiteID)
	if err != nil {
		return fmt.Errorf("buildtask.Scheduler: %w", err)
	}

	for _, kind := range info.TaskKinds {
		task, err := s.Database.CreateTask(ctx, b.ID, kind)
		if err != nil {
			return fmt.Errorf("buildtask.Scheduler: %w", err)
		}

		msg := Message{
			TaskID:      task.ID,
			BuildID:     b.ID,
			Kind:        kind,
			CallbackURL: fmt.Sprintf("%s/tasks/%s/status", s.CallbackBase, task.ID),
			PageURL:     s.PublicBase + pagePath(info, b.Branch),
		}
		msgBuf := new(bytes.Buffer)
		if err = json.NewEncoder(msgBuf).Encode(msg); err != nil {
			return fmt.Errorf("buildtask.Scheduler: %w", err)
		}

		if err = s.Broker.Publish(ctx, queue.BuildTasks, msgBuf.Bytes()); err != nil {
			return fmt.Errorf("buildtask.Scheduler: %w", err)
		}

		slog.Info("scheduled build task", "task_id", task.ID, "build_id", b.ID, "kind", kind)
	}

	return nil
}

// pagePath mirrors the build runner's publish layout.
func pagePath(info *SiteInfo, branch string) string {
	if branch == info.DefaultBranch {
		return path.Join("/site", info.Owner, info.Repository) + "/"
	}
	return path.Join("/preview", info.Owner, info.Repository, branch) + "/"
}
