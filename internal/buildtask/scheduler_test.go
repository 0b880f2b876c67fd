package buildtask

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/statichq/pages/internal/build"
	"github.com/statichq/pages/internal/queue"
)

type SpySchedulerDatabase struct {
	Calls *[]string
	Info  *SiteInfo
}

func (d *SpySchedulerDatabase) GetSiteInfo(ctx context.Context, siteID uuid.UUID) (*SiteInfo, error) {
	*d.Calls = append(*d.Calls, "GetSiteInfo")
	return d.Info, nil
}

func (d *SpySchedulerDatabase) CreateTask(ctx context.Context, buildID uuid.UUID, kind string) (*Task, error) {
	*d.Calls = append(*d.Calls, "CreateTask")
	return &Task{ID: uuid.New(), BuildID: buildID, Kind: kind, Status: StatusCreated}, nil
}

type SpyPublisher struct {
	Queues []queue.Config
	Bodies [][]byte
}

func (p *SpyPublisher) Publish(ctx context.Context, c queue.Config, body []byte) error {
	p.Queues = append(p.Queues, c)
	p.Bodies = append(p.Bodies, body)
	return nil
}

func TestSchedulerScheduleTasks(t *testing.T) {
	t.Run("creates and enqueues one task per configured kind", func(t *testing.T) {
		calls := []string{}
		db := &SpySchedulerDatabase{
			Calls: &calls,
			Info: &SiteInfo{
				Owner:         "alice",
				Repository:    "blog",
				DefaultBranch: "main",
				TaskKinds:     []string{"rendered-page", "archive"},
			},
		}
		broker := &SpyPublisher{}
		scheduler := &Scheduler{
			Database:     db,
			Broker:       broker,
			CallbackBase: "http://server:8080",
			PublicBase:   "http://pages.example.com",
		}

		b := &build.Build{ID: uuid.New(), SiteID: uuid.New(), Branch: "main"}

		err := scheduler.ScheduleTasks(context.Background(), b)
		if err != nil {
			t.Fatalf("got %v, want <nil>", err)
		}

		wantCalls := []string{"GetSiteInfo", "CreateTask", "CreateTask"}
		if got, want := calls, wantCalls; !equalStrings(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}

		if got, want := len(broker.Queues), 2; got != want {
			t.Fatalf("got %d messages, want %d", got, want)
		}
		for _, q := range broker.Queues {
			if got, want := q.Name, queue.BuildTasks.Name; got != want {
				t.Errorf("got %v, want %v", got, want)
			}
		}

		var msg Message
		if err = json.Unmarshal(broker.Bodies[0], &msg); err != nil {
			t.Fatalf("got %v, want <nil>", err)
		}
		if got, want := msg.BuildID, b.ID; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := msg.Kind, "rendered-page"; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		wantCallback := "http://server:8080/tasks/" + msg.TaskID.String() + "/status"
		if got, want := msg.CallbackURL, wantCallback; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := msg.PageURL, "http://pages.example.com/site/alice/blog/"; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("points the page URL at the preview path for a non-default branch", func(t *testing.T) {
		calls := []string{}
		db := &SpySchedulerDatabase{
			Calls: &calls,
			Info: &SiteInfo{
				Owner:         "alice",
				Repository:    "blog",
				DefaultBranch: "main",
				TaskKinds:     []string{"rendered-page"},
			},
		}
		broker := &SpyPublisher{}
		scheduler := &Scheduler{
			Database:     db,
			Broker:       broker,
			CallbackBase: "http://server:8080",
			PublicBase:   "http://pages.example.com",
		}

		b := &build.Build{ID: uuid.New(), SiteID: uuid.New(), Branch: "feature"}

		err := scheduler.ScheduleTasks(context.Background(), b)
		if err != nil {
			t.Fatalf("got %v, want <nil>", err)
		}

		var msg Message
		if err = json.Unmarshal(broker.Bodies[0], &msg); err != nil {
			t.Fatalf("got %v, want <nil>", err)
		}
		if got, want := msg.PageURL, "http://pages.example.com/preview/alice/blog/feature/"; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("does nothing for a site without task kinds", func(t *testing.T) {
		calls := []string{}
		db := &SpySchedulerDatabase{
			Calls: &calls,
			Info:  &SiteInfo{Owner: "alice", Repository: "blog", DefaultBranch: "main"},
		}
		broker := &SpyPublisher{}
		scheduler := &Scheduler{Database: db, Broker: broker, CallbackBase: "x", PublicBase: "y"}

		b := &build.Build{ID: uuid.New(), SiteID: uuid.New(), Branch: "main"}

		err := scheduler.ScheduleTasks(context.Background(), b)
		if err != nil {
			t.Fatalf("got %v, want <nil>", err)
		}

		if got, want := calls, []string{"GetSiteInfo"}; !equalStrings(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := len(broker.Bodies), 0; got != want {
			t.Errorf("got %d messages, want %d", got, want)
		}
	})
}

func TestDecodeMessage(t *testing.T) {
	t.Run("rejects a body without a task id", func(t *testing.T) {
		_, err := DecodeMessage([]byte(`{"kind":"archive"}`))
		if err == nil {
			t.Fatal("got <nil>, want error")
		}
	})

	t.Run("rejects invalid JSON", func(t *testing.T) {
		_, err := DecodeMessage([]byte(`{`))
		if err == nil {
			t.Fatal("got <nil>, want error")
		}
	})

	t.Run("round trips a scheduled message", func(t *testing.T) {
		want := Message{
			TaskID:      uuid.New(),
			BuildID:     uuid.New(),
			Kind:        "archive",
			CallbackURL: "http://server:8080/tasks/x/status",
			Payload:     json.RawMessage(`{"files":[]}`),
		}
		body, err := json.Marshal(want)
		if err != nil {
			t.Fatalf("got %v, want <nil>", err)
		}

		got, err := DecodeMessage(body)
		if err != nil {
			t.Fatalf("got %v, want <nil>", err)
		}
		if got.TaskID != want.TaskID || got.Kind != want.Kind || got.CallbackURL != want.CallbackURL {
			t.Errorf("got %+v, want %+v", got, want)
		}
	})
}
