package site

import (
	"context"
	"errors"
	"testing"

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

	_, err = pool.Exec(ctx, `
		INSERT INTO sites (owner, repository, task_kinds) VALUES ('org', 'repo', '{rendered-page}')
	`)
	if err != nil {
		t.Fatalf("didn't want %v", err)
	}

	st, err := store.GetSiteByRepo(ctx, "org", "repo")
	if err != nil {
		t.Fatalf("didn't want %v", err)
	}
	if got, want := st.Owner, "org"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := st.DefaultBranch, "main"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(st.TaskKinds), 1; got != want {
		t.Errorf("got %v, want %d task kinds", st.TaskKinds, want)
	}

	got, err := store.GetSite(ctx, st.ID)
	if err != nil {
		t.Fatalf("didn't want %v", err)
	}
	if got.ID != st.ID {
		t.Errorf("got %v, want %v", got.ID, st.ID)
	}

	_, err = store.GetSiteByRepo(ctx, "org", "unknown")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want %v", err, ErrNotFound)
	}

	u1, err := store.FindOrCreateUser(ctx, "alice")
	if err != nil {
		t.Fatalf("didn't want %v", err)
	}
	u2, err := store.FindOrCreateUser(ctx, "alice")
	if err != nil {
		t.Fatalf("didn't want %v", err)
	}
	if u1.ID != u2.ID {
		t.Errorf("got %v and %v, want the same user", u1.ID, u2.ID)
	}

	err = store.DeleteSite(ctx, st.ID)
	if err != nil {
		t.Fatalf("didn't want %v", err)
	}
	_, err = store.GetSite(ctx, st.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want %v", err, ErrNotFound)
	}
	err = store.DeleteSite(ctx, st.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want %v", err, ErrNotFound)
	}
}
