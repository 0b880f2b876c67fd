package build

import (
	"context"
	"encoding/base64"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func encodeResult(t *testing.T, r *Result) string {
	t.Helper()
	message, err := EncodeResult(r)
	if err != nil {
		t.Fatalf("didn't want %v", err)
	}
	return message
}

func TestCompleterComplete(t *testing.T) {
	ctx := context.Background()
	buildID := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000")

	processing := func() *Build {
		return &Build{
			ID:     buildID,
			Branch: "main",
			State:  StateProcessing,
			Token:  "secret-token",
		}
	}

	t.Run("records success", func(t *testing.T) {
		database := &SpyDatabase{GetBuildResult: processing()}
		completer := NewCompleter(database, nil)

		b, err := completer.Complete(ctx, &CompleteParams{
			ID:      buildID,
			Token:   "secret-token",
			Message: encodeResult(t, &Result{Status: "success"}),
		})
		if err != nil {
			t.Fatalf("didn't want %v", err)
		}

		if got, want := b.State, StateSuccess; got != want {
			t.Errorf("got state %q, want %q", got, want)
		}
		if got, want := b.Error, ""; got != want {
			t.Errorf("got error %q, want %q", got, want)
		}
	})

	t.Run("records a sanitized error", func(t *testing.T) {
		database := &SpyDatabase{GetBuildResult: processing()}
		completer := NewCompleter(database, nil)

		message := encodeResult(t, &Result{
			Status:  "error",
			Message: "fatal: could not read from 'https://gho_secret@github.com/org/repo.git'",
		})
		b, err := completer.Complete(ctx, &CompleteParams{ID: buildID, Token: "secret-token", Message: message})
		if err != nil {
			t.Fatalf("didn't want %v", err)
		}

		if got, want := b.State, StateError; got != want {
			t.Errorf("got state %q, want %q", got, want)
		}
		if strings.Contains(b.Error, "gho_secret") {
			t.Errorf("got error %q containing the raw token", b.Error)
		}
		if !strings.Contains(b.Error, "[token_redacted]") {
			t.Errorf("got error %q, want it to contain %q", b.Error, "[token_redacted]")
		}
	})

	t.Run("treats bare text as an error message", func(t *testing.T) {
		database := &SpyDatabase{GetBuildResult: processing()}
		completer := NewCompleter(database, nil)

		message := base64.StdEncoding.EncodeToString([]byte("Liquid Exception in index.html"))
		b, err := completer.Complete(ctx, &CompleteParams{ID: buildID, Token: "secret-token", Message: message})
		if err != nil {
			t.Fatalf("didn't want %v", err)
		}

		if got, want := b.State, StateError; got != want {
			t.Errorf("got state %q, want %q", got, want)
		}
		if got, want := b.Error, "Liquid Exception in index.html"; got != want {
			t.Errorf("got error %q, want %q", got, want)
		}
	})

	t.Run("rejects a mismatched token without mutating", func(t *testing.T) {
		database := &SpyDatabase{GetBuildResult: processing()}
		completer := NewCompleter(database, nil)

		_, err := completer.Complete(ctx, &CompleteParams{
			ID:      buildID,
			Token:   "wrong-token",
			Message: encodeResult(t, &Result{Status: "success"}),
		})
		if !errors.Is(err, ErrTokenMismatch) {
			t.Fatalf("got %v, want %v", err, ErrTokenMismatch)
		}

		gotCalls := *database.Calls
		wantCalls := []string{callGetBuild}
		if !reflect.DeepEqual(gotCalls, wantCalls) {
			t.Errorf("got calls %v, want %v", gotCalls, wantCalls)
		}
	})

	t.Run("rejects a message that is not base64 without mutating", func(t *testing.T) {
		database := &SpyDatabase{GetBuildResult: processing()}
		completer := NewCompleter(database, nil)

		_, err := completer.Complete(ctx, &CompleteParams{
			ID:      buildID,
			Token:   "secret-token",
			Message: "%%% not base64 %%%",
		})
		if !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("got %v, want %v", err, ErrInvalidMessage)
		}

		gotCalls := *database.Calls
		wantCalls := []string{callGetBuild}
		if !reflect.DeepEqual(gotCalls, wantCalls) {
			t.Errorf("got calls %v, want %v", gotCalls, wantCalls)
		}
	})

	t.Run("returns not found for an unknown build", func(t *testing.T) {
		database := &SpyDatabase{GetBuildErr: ErrNotFound}
		completer := NewCompleter(database, nil)

		_, err := completer.Complete(ctx, &CompleteParams{ID: buildID, Token: "secret-token", Message: ""})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("got %v, want %v", err, ErrNotFound)
		}
	})

	t.Run("ignores a repeated callback for a terminal build", func(t *testing.T) {
		done := processing()
		done.State = StateSuccess
		database := &SpyDatabase{GetBuildResult: done}
		completer := NewCompleter(database, nil)

		b, err := completer.Complete(ctx, &CompleteParams{
			ID:      buildID,
			Token:   "secret-token",
			Message: encodeResult(t, &Result{Status: "error", Message: "late failure"}),
		})
		if err != nil {
			t.Fatalf("didn't want %v", err)
		}

		if got, want := b.State, StateSuccess; got != want {
			t.Errorf("got state %q, want %q", got, want)
		}
		gotCalls := *database.Calls
		wantCalls := []string{callGetBuild}
		if !reflect.DeepEqual(gotCalls, wantCalls) {
			t.Errorf("got calls %v, want %v", gotCalls, wantCalls)
		}
	})

	t.Run("schedules tasks after a successful build", func(t *testing.T) {
		database := &SpyDatabase{GetBuildResult: processing()}
		tasks := &SpyTaskScheduler{}
		completer := NewCompleter(database, tasks)

		_, err := completer.Complete(ctx, &CompleteParams{
			ID:      buildID,
			Token:   "secret-token",
			Message: encodeResult(t, &Result{Status: "success"}),
		})
		if err != nil {
			t.Fatalf("didn't want %v", err)
		}

		if got, want := tasks.ScheduledBuilds, 1; got != want {
			t.Errorf("got %d scheduled builds, want %d", got, want)
		}
	})

	t.Run("doesn't schedule tasks after a failed build", func(t *testing.T) {
		database := &SpyDatabase{GetBuildResult: processing()}
		tasks := &SpyTaskScheduler{}
		completer := NewCompleter(database, tasks)

		_, err := completer.Complete(ctx, &CompleteParams{
			ID:      buildID,
			Token:   "secret-token",
			Message: encodeResult(t, &Result{Status: "error", Message: "boom"}),
		})
		if err != nil {
			t.Fatalf("didn't want %v", err)
		}

		if got, want := tasks.ScheduledBuilds, 0; got != want {
			t.Errorf("got %d scheduled builds, want %d", got, want)
		}
	})
}

type SpyTaskScheduler struct {
	ScheduledBuilds int
}

func (s *SpyTaskScheduler) ScheduleTasks(_ context.Context, _ *Build) error {
	s.ScheduledBuilds++
	return nil
}
