package buildtask

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/statichq/pages/internal/postgrestest"
	"github.com/statichq/pages/internal/postgresutil"
)

func TestStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}

	ctx := context.Background()

	connectionString, teardown, err := postgrestest.Setup(ctx)
	if err != nil {
		t.Fatalf("didn't want %v", err)
	}
	t.Cleanup(func() {
		if teardownErr := teardown(); teardownErr != nil {
			t.Errorf("didn't want %v", teardownErr)
		}
	})

	pool, err := postgresutil.NewPool(ctx, connectionString)
	if err != nil {
		t.Fatalf("didn't want %v", err)
	}
	t.Cleanup(pool.Close)

	store := &Store{DB: pool}

	var siteID, userID, buildID uuid.UUID
	err = pool.QueryRow(ctx, `
		INSERT INTO sites (owner, repository, task_kinds) VALUES ('org', 'repo', '{rendered-page,archive}') RETURNING id
	`).Scan(&siteID)
	if err != nil {
		t.Fatalf("didn't want %v", err)
	}
	err = pool.QueryRow(ctx, `
		INSERT INTO users (username) VALUES ('alice') RETURNING id
	`).Scan(&userID)
	if err != nil {
		t.Fatalf("didn't want %v", err)
	}
	err = pool.QueryRow(ctx, `
		INSERT INTO builds (site_id, user_id, branch, state, token) VALUES ($1, $2, 'main', 'success', 'tok') RETURNING id
	`, siteID, userID).Scan(&buildID)
	if err != nil {
		t.Fatalf("didn't want %v", err)
	}

	info, err := store.GetSiteInfo(ctx, siteID)
	if err != nil {
		t.Fatalf("didn't want %v", err)
	}
	if got, want := len(info.TaskKinds), 2; got != want {
		t.Errorf("got %v, want %d task kinds", info.TaskKinds, want)
	}

	task, err := store.CreateTask(ctx, buildID, "rendered-page")
	if err != nil {
		t.Fatalf("didn't want %v", err)
	}
	if got, want := task.Status, StatusCreated; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	err = store.MarkTaskProcessing(ctx, task.ID)
	if err != nil {
		t.Fatalf("didn't want %v", err)
	}
	err = store.MarkTaskProcessing(ctx, task.ID)
	if !errors.Is(err, ErrAlreadyDone) {
		t.Fatalf("got %v, want %v", err, ErrAlreadyDone)
	}

	_, err = store.CompleteTask(ctx, task.ID, StatusSuccess, nil)
	if !errors.Is(err, ErrArtifactMissing) {
		t.Fatalf("got %v, want %v", err, ErrArtifactMissing)
	}

	artifact := ArtifactKey(task.ID)
	done, err := store.CompleteTask(ctx, task.ID, StatusSuccess, &artifact)
	if err != nil {
		t.Fatalf("didn't want %v", err)
	}
	if got, want := done.Status, StatusSuccess; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if done.Artifact == nil || *done.Artifact != artifact {
		t.Errorf("got %v, want %v", done.Artifact, artifact)
	}

	_, err = store.CompleteTask(ctx, task.ID, StatusError, nil)
	if !errors.Is(err, ErrAlreadyDone) {
		t.Fatalf("got %v, want %v", err, ErrAlreadyDone)
	}

	_, err = store.GetTask(ctx, uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want %v", err, ErrNotFound)
	}
}
