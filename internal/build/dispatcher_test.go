package build

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/statichq/pages/internal/queue"
	"github.com/statichq/pages/internal/site"
)

type SpyPublisher struct {
	Configs []queue.Config
	Bodies  [][]byte
	Err     error
}

func (p *SpyPublisher) Publish(_ context.Context, c queue.Config, body []byte) error {
	if p.Err != nil {
		return p.Err
	}
	p.Configs = append(p.Configs, c)
	p.Bodies = append(p.Bodies, body)
	return nil
}

func TestDispatcherStart(t *testing.T) {
	ctx := context.Background()

	st := &site.Site{ID: uuid.MustParse("cccccccc-0000-0000-0000-000000000000"), Owner: "org", Repository: "repo"}
	u := &site.User{ID: uuid.MustParse("dddddddd-0000-0000-0000-000000000000"), Username: "alice"}

	t.Run("creates a processing build with a fresh token and enqueues it", func(t *testing.T) {
		database := &SpyDatabase{}
		broker := &SpyPublisher{}
		dispatcher := NewDispatcher(database, broker)

		b, err := dispatcher.Start(ctx, &StartParams{Site: st, User: u, Branch: "main"})
		if err != nil {
			t.Fatalf("didn't want %v", err)
		}

		if got, want := b.State, StateProcessing; got != want {
			t.Errorf("got state %q, want %q", got, want)
		}
		if b.Token == "" {
			t.Error("got empty token")
		}
		if raw, decodeErr := base64.RawURLEncoding.DecodeString(b.Token); decodeErr != nil || len(raw) != 32 {
			t.Errorf("got token %q, want url-safe base64 of 32 bytes", b.Token)
		}

		if got, want := len(broker.Configs), 1; got != want {
			t.Fatalf("got %d published messages, want %d", got, want)
		}
		if got, want := broker.Configs[0].Name, "site-build-queue"; got != want {
			t.Errorf("got queue %q, want %q", got, want)
		}

		buildID, err := DecodeCreatedMessage(broker.Bodies[0])
		if err != nil {
			t.Fatalf("didn't want %v", err)
		}
		if got, want := buildID, b.ID; got != want {
			t.Errorf("got build id %v, want %v", got, want)
		}
	})

	t.Run("routes templated source builds to the editor site queue", func(t *testing.T) {
		database := &SpyDatabase{}
		broker := &SpyPublisher{}
		dispatcher := NewDispatcher(database, broker)

		_, err := dispatcher.Start(ctx, &StartParams{
			Site:   st,
			User:   u,
			Branch: "main",
			Source: &Source{Owner: "templates", Repository: "starter"},
		})
		if err != nil {
			t.Fatalf("didn't want %v", err)
		}

		if got, want := broker.Configs[0].Name, "create-editor-site"; got != want {
			t.Errorf("got queue %q, want %q", got, want)
		}
	})

	t.Run("tokens differ between builds", func(t *testing.T) {
		database := &SpyDatabase{}
		broker := &SpyPublisher{}
		dispatcher := NewDispatcher(database, broker)

		first, err := dispatcher.Start(ctx, &StartParams{Site: st, User: u, Branch: "main"})
		if err != nil {
			t.Fatalf("didn't want %v", err)
		}
		second, err := dispatcher.Start(ctx, &StartParams{Site: st, User: u, Branch: "main"})
		if err != nil {
			t.Fatalf("didn't want %v", err)
		}
		if first.Token == second.Token {
			t.Error("got equal tokens for two builds")
		}
	})
}

func TestDispatcherResubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a fresh build on the bulk queue", func(t *testing.T) {
		prev := &Build{
			ID:     uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001"),
			SiteID: uuid.MustParse("cccccccc-0000-0000-0000-000000000000"),
			UserID: uuid.MustParse("dddddddd-0000-0000-0000-000000000000"),
			Branch: "preview-1",
			State:  StateError,
			Token:  "oldtoken",
		}
		database := &SpyDatabase{GetBuildResult: prev}
		broker := &SpyPublisher{}
		dispatcher := NewDispatcher(database, broker)

		b, err := dispatcher.Resubmit(ctx, prev.ID)
		if err != nil {
			t.Fatalf("didn't want %v", err)
		}

		if got, want := b.Branch, prev.Branch; got != want {
			t.Errorf("got branch %q, want %q", got, want)
		}
		if b.Token == prev.Token {
			t.Error("got the previous build's token, want a fresh one")
		}
		if got, want := broker.Configs[0].Name, "site-builds"; got != want {
			t.Errorf("got queue %q, want %q", got, want)
		}
	})

	t.Run("fails for an unknown build", func(t *testing.T) {
		database := &SpyDatabase{GetBuildErr: ErrNotFound}
		dispatcher := NewDispatcher(database, &SpyPublisher{})

		_, err := dispatcher.Resubmit(ctx, uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000002"))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("got %v, want %v", err, ErrNotFound)
		}
	})
}
