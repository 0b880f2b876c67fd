package build

import (
	"context"

	"github.com/google/uuid"
)

// Database is the persistence surface of the pipeline.
type Database interface {
	CreateBuild(ctx context.Context, params *DatabaseCreateBuildParams) (*Build, error)

	// GetBuild returns ErrNotFound for an unknown id.
	GetBuild(ctx context.Context, id uuid.UUID) (*Build, error)

	// CompleteBuild transitions a processing build to a terminal state
	// and stamps completed_at. It returns ErrAlreadyDone when the build
	// is no longer in StateProcessing, leaving the row untouched.
	CompleteBuild(ctx context.Context, params *DatabaseCompleteBuildParams) (*Build, error)

	// GetBuildJob resolves everything the engine runner needs to
	// execute a build.
	GetBuildJob(ctx context.Context, id uuid.UUID) (*Job, error)
}

type DatabaseCreateBuildParams struct {
	SiteID uuid.UUID
	UserID uuid.UUID
	Branch string
	State  State
	Token  string
	Source *Source
}

type DatabaseCompleteBuildParams struct {
	ID    uuid.UUID
	State State

	// Error must already be sanitized; the database layer stores it
	// verbatim.
	Error string
}

// Job is a build joined with the site and user details the engine
// runner needs.
type Job struct {
	Build *Build

	SiteOwner      string
	SiteRepository string
	Engine         string
	DefaultBranch  string

	Username    string
	GithubToken string
}
