package site

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store reads and writes sites and users in Postgres.
type Store struct {
	DB *pgxpool.Pool // required
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

func (s *Store) GetSite(ctx context.Context, id uuid.UUID) (*Site, error) {
	st, err := getSite(ctx, s.DB, id)
	if err != nil {
		return nil, fmt.Errorf("site.Store: %w", err)
	}
	return st, nil
}

func (s *Store) GetSiteByRepo(ctx context.Context, owner, repository string) (*Site, error) {
	st, err := getSiteByRepo(ctx, s.DB, owner, repository)
	if err != nil {
		return nil, fmt.Errorf("site.Store: %w", err)
	}
	return st, nil
}

// FindOrCreateUser resolves a user by GitHub login, creating a minimal
// record when none exists.
func (s *Store) FindOrCreateUser(ctx context.Context, username string) (*User, error) {
	u, err := findOrCreateUser(ctx, s.DB, username)
	if err != nil {
		return nil, fmt.Errorf("site.Store: %w", err)
	}
	return u, nil
}

func (s *Store) DeleteSite(ctx context.Context, id uuid.UUID) error {
	err := deleteSite(ctx, s.DB, id)
	if err != nil {
		return fmt.Errorf("site.Store: %w", err)
	}
	return nil
}

type executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (commandTag pgconn.CommandTag, err error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getSite(ctx context.Context, db executor, id uuid.UUID) (*Site, error) {
	query := `
		SELECT id, owner, repository, engine, default_branch, task_kinds, created_at
		FROM sites
		WHERE id = $1
	`
	args := []any{id}

	rows, _ := db.Query(ctx, query, args...)
	st, err := pgx.CollectExactlyOneRow(rows, rowToSite)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return st, nil
}

func getSiteByRepo(ctx context.Context, db executor, owner, repository string) (*Site, error) {
	query := `
		SELECT id, owner, repository, engine, default_branch, task_kinds, created_at
		FROM sites
		WHERE owner = $1 AND repository = $2
	`
	args := []any{owner, repository}

	rows, _ := db.Query(ctx, query, args...)
	st, err := pgx.CollectExactlyOneRow(rows, rowToSite)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return st, nil
}

func findOrCreateUser(ctx context.Context, db executor, username string) (*User, error) {
	query := `
		INSERT INTO users (username)
		VALUES ($1)
		ON CONFLICT (username) DO UPDATE SET username = excluded.username
		RETURNING id, username, github_token, created_at
	`
	args := []any{username}

	rows, _ := db.Query(ctx, query, args...)
	u, err := pgx.CollectExactlyOneRow(rows, rowToUser)
	if err != nil {
		return nil, err
	}

	return u, nil
}

func deleteSite(ctx context.Context, db executor, id uuid.UUID) error {
	query := `
		DELETE FROM sites
		WHERE id = $1
	`
	args := []any{id}

	tag, err := db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func rowToSite(collectableRow pgx.CollectableRow) (*Site, error) {
	type row struct {
		ID            uuid.UUID `db:"id"`
		Owner         string    `db:"owner"`
		Repository    string    `db:"repository"`
		Engine        string    `db:"engine"`
		DefaultBranch string    `db:"default_branch"`
		TaskKinds     []string  `db:"task_kinds"`
		CreatedAt     time.Time `db:"created_at"`
	}
	collectedRow, err := pgx.RowToStructByName[row](collectableRow)
	if err != nil {
		return nil, err
	}

	st := &Site{
		ID:            collectedRow.ID,
		Owner:         collectedRow.Owner,
		Repository:    collectedRow.Repository,
		Engine:        collectedRow.Engine,
		DefaultBranch: collectedRow.DefaultBranch,
		TaskKinds:     collectedRow.TaskKinds,
		CreatedAt:     collectedRow.CreatedAt,
	}
	return st, nil
}

func rowToUser(collectableRow pgx.CollectableRow) (*User, error) {
	type row struct {
		ID          uuid.UUID `db:"id"`
		Username    string    `db:"username"`
		GithubToken string    `db:"github_token"`
		CreatedAt   time.Time `db:"created_at"`
	}
	collectedRow, err := pgx.RowToStructByName[row](collectableRow)
	if err != nil {
		return nil, err
	}

	u := &User{
		ID:          collectedRow.ID,
		Username:    collectedRow.Username,
		GithubToken: collectedRow.GithubToken,
		CreatedAt:   collectedRow.CreatedAt,
	}
	return u, nil
}
