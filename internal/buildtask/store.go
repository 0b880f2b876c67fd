package buildtask

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store reads and writes build tasks in Postgres.
type Store struct {
	DB *pgxpool.Pool // required
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

func (s *Store) CreateTask(ctx context.Context, buildID uuid.UUID, kind string) (*Task, error) {
	task, err := createTask(ctx, s.DB, buildID, kind)
	if err != nil {
		return nil, fmt.Errorf("buildtask.Store: %w", err)
	}
	return task, nil
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	task, err := getTask(ctx, s.DB, id)
	if err != nil {
		return nil, fmt.Errorf("buildtask.Store: %w", err)
	}
	return task, nil
}

func (s *Store) MarkTaskProcessing(ctx context.Context, id uuid.UUID) error {
	err := markTaskProcessing(ctx, s.DB, id)
	if err != nil {
		return fmt.Errorf("buildtask.Store: %w", err)
	}
	return nil
}

// CompleteTask moves a task to a terminal status. The artifact key is
// required on success and rejected otherwise; the task row is the only
// place this invariant is enforced.
func (s *Store) CompleteTask(ctx context.Context, id uuid.UUID, status Status, artifact *string) (*Task, error) {
	if status == StatusSuccess && artifact == nil {
		return nil, fmt.Errorf("buildtask.Store: %w", ErrArtifactMissing)
	}
	if status != StatusSuccess {
		artifact = nil
	}

	task, err := completeTask(ctx, s.DB, id, status, artifact)
	if err != nil {
		return nil, fmt.Errorf("buildtask.Store: %w", err)
	}
	return task, nil
}

// GetSiteInfo resolves the task configuration of a build's site.
func (s *Store) GetSiteInfo(ctx context.Context, siteID uuid.UUID) (*SiteInfo, error) {
	info, err := getSiteInfo(ctx, s.DB, siteID)
	if err != nil {
		return nil, fmt.Errorf("buildtask.Store: %w", err)
	}
	return info, nil
}

// SiteInfo is the slice of a site the task scheduler needs.
type SiteInfo struct {
	Owner         string
	Repository    string
	DefaultBranch string
	TaskKinds     []string
}

type executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (commandTag pgconn.CommandTag, err error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func createTask(ctx context.Context, db executor, buildID uuid.UUID, kind string) (*Task, error) {
	query := `
		INSERT INTO build_tasks (build_id, kind)
		VALUES ($1, $2)
		RETURNING id, build_id, kind, status, artifact, created_at
	`
	args := []any{buildID, kind}

	rows, _ := db.Query(ctx, query, args...)
	task, err := pgx.CollectExactlyOneRow(rows, rowToTask)
	if err != nil {
		// A violated task FK means the build row is gone.
		if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return task, nil
}

func getTask(ctx context.Context, db executor, id uuid.UUID) (*Task, error) {
	query := `
		SELECT id, build_id, kind, status, artifact, created_at
		FROM build_tasks
		WHERE id = $1
	`
	args := []any{id}

	rows, _ := db.Query(ctx, query, args...)
	task, err := pgx.CollectExactlyOneRow(rows, rowToTask)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return task, nil
}

func markTaskProcessing(ctx context.Context, db executor, id uuid.UUID) error {
	query := `
		UPDATE build_tasks
		SET status = 'processing'
		WHERE id = $1 AND status = 'created'
	`
	args := []any{id}

	tag, err := db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := getTask(ctx, db, id); getErr != nil {
			return getErr
		}
		return ErrAlreadyDone
	}

	return nil
}

func completeTask(ctx context.Context, db executor, id uuid.UUID, status Status, artifact *string) (*Task, error) {
	query := `
		UPDATE build_tasks
		SET status = $2, artifact = $3
		WHERE id = $1 AND status IN ('created', 'processing')
		RETURNING id, build_id, kind, status, artifact, created_at
	`
	args := []any{id, string(status), artifact}

	rows, _ := db.Query(ctx, query, args...)
	task, err := pgx.CollectExactlyOneRow(rows, rowToTask)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := getTask(ctx, db, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrAlreadyDone
		}
		return nil, err
	}

	return task, nil
}

func getSiteInfo(ctx context.Context, db executor, siteID uuid.UUID) (*SiteInfo, error) {
	query := `
		SELECT owner, repository, default_branch, task_kinds
		FROM sites
		WHERE id = $1
	`
	args := []any{siteID}

	rows, _ := db.Query(ctx, query, args...)
	info, err := pgx.CollectExactlyOneRow(rows, func(collectableRow pgx.CollectableRow) (*SiteInfo, error) {
		type row struct {
			Owner         string   `db:"owner"`
			Repository    string   `db:"repository"`
			DefaultBranch string   `db:"default_branch"`
			TaskKinds     []string `db:"task_kinds"`
		}
		collectedRow, err := pgx.RowToStructByName[row](collectableRow)
		if err != nil {
			return nil, err
		}
		return &SiteInfo{
			Owner:         collectedRow.Owner,
			Repository:    collectedRow.Repository,
			DefaultBranch: collectedRow.DefaultBranch,
			TaskKinds:     collectedRow.TaskKinds,
		}, nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return info, nil
}

func rowToTask(collectableRow pgx.CollectableRow) (*Task, error) {
	type row struct {
		ID        uuid.UUID `db:"id"`
		BuildID   uuid.UUID `db:"build_id"`
		Kind      string    `db:"kind"`
		Status    string    `db:"status"`
		Artifact  *string   `db:"artifact"`
		CreatedAt time.Time `db:"created_at"`
	}
	collectedRow, err := pgx.RowToStructByName[row](collectableRow)
	if err != nil {
		return nil, err
	}

	task := &Task{
		ID:        collectedRow.ID,
		BuildID:   collectedRow.BuildID,
		Kind:      collectedRow.Kind,
		Status:    Status(collectedRow.Status),
		Artifact:  collectedRow.Artifact,
		CreatedAt: collectedRow.CreatedAt,
	}
	return task, nil
}
