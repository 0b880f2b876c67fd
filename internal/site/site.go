// Package site holds the site and user records the build pipeline
// resolves webhooks against.
package site

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// Site is a published static site backed by a GitHub repository.
type Site struct {
	ID            uuid.UUID
	Owner         string
	Repository    string
	Engine        string
	DefaultBranch string

	// TaskKinds are the build task processors scheduled after each
	// successful build of this site.
	TaskKinds []string

	CreatedAt time.Time
}

// User is the GitHub account a build acts on behalf of. GithubToken is
// a bearer credential and must never be logged or persisted inside
// error messages.
type User struct {
	ID          uuid.UUID
	Username    string
	GithubToken string
	CreatedAt   time.Time
}
