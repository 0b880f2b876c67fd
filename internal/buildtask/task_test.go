package buildtask

import (
	"testing"

	"github.com/google/uuid"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		s         string
		wantKnown bool
	}{
		{"created", true},
		{"processing", true},
		{"success", true},
		{"error", true},
		{"done", false},
		{"", false},
	}
	for _, tt := range tests {
		if _, known := ParseStatus(tt.s); known != tt.wantKnown {
			t.Errorf("ParseStatus(%q): got %v, want %v", tt.s, known, tt.wantKnown)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusCreated, false},
		{StatusProcessing, false},
		{StatusSuccess, true},
		{StatusError, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%q.Terminal(): got %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestArtifactKey(t *testing.T) {
	taskID := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000")

	got := ArtifactKey(taskID)
	want := "_tasks/artifacts/aaaaaaaa-0000-0000-0000-000000000000"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
