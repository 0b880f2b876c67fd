package build

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

var _ Database = (*PostgresDatabase)(nil)

type PostgresDatabase struct {
	DB *pgxpool.Pool // required
}

func NewPostgresDatabase(db *pgxpool.Pool) *PostgresDatabase {
	return &PostgresDatabase{DB: db}
}

func (d *PostgresDatabase) CreateBuild(ctx context.Context, params *DatabaseCreateBuildParams) (*Build, error) {
	b, err := createBuild(ctx, d.DB, params)
	if err != nil {
		return nil, fmt.Errorf("build.PostgresDatabase: %w", err)
	}
	return b, nil
}

func (d *PostgresDatabase) GetBuild(ctx context.Context, id uuid.UUID) (*Build, error) {
	b, err := getBuild(ctx, d.DB, id)
	if err != nil {
		return nil, fmt.Errorf("build.PostgresDatabase: %w", err)
	}
	return b, nil
}

func (d *PostgresDatabase) CompleteBuild(ctx context.Context, params *DatabaseCompleteBuildParams) (*Build, error) {
	b, err := completeBuild(ctx, d.DB, params)
	if err != nil {
		return nil, fmt.Errorf("build.PostgresDatabase: %w", err)
	}
	return b, nil
}

func (d *PostgresDatabase) GetBuildJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	j, err := getBuildJob(ctx, d.DB, id)
	if err != nil {
		return nil, fmt.Errorf("build.PostgresDatabase: %w", err)
	}
	return j, nil
}

type executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (commandTag pgconn.CommandTag, err error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func createBuild(ctx context.Context, db executor, params *DatabaseCreateBuildParams) (*Build, error) {
	query := `
		INSERT INTO builds (site_id, user_id, branch, state, token, source_owner, source_repository)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, site_id, user_id, branch, state, error, token, source_owner, source_repository, completed_at, created_at
	`
	var sourceOwner, sourceRepository *string
	if params.Source != nil {
		sourceOwner = &params.Source.Owner
		sourceRepository = &params.Source.Repository
	}
	args := []any{params.SiteID, params.UserID, params.Branch, string(params.State), params.Token, sourceOwner, sourceRepository}

	rows, _ := db.Query(ctx, query, args...)
	b, err := pgx.CollectExactlyOneRow(rows, rowToBuild)
	if err != nil {
		// A violated build FK means the site or user row is gone.
		if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return b, nil
}

func getBuild(ctx context.Context, db executor, id uuid.UUID) (*Build, error) {
	query := `
		SELECT id, site_id, user_id, branch, state, error, token, source_owner, source_repository, completed_at, created_at
		FROM builds
		WHERE id = $1
	`
	args := []any{id}

	rows, _ := db.Query(ctx, query, args...)
	b, err := pgx.CollectExactlyOneRow(rows, rowToBuild)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return b, nil
}

// completeBuild is the only mutation of a build after dispatch. The
// state guard in the WHERE clause makes the processing to terminal
// transition atomic; a second completion finds zero rows.
func completeBuild(ctx context.Context, db executor, params *DatabaseCompleteBuildParams) (*Build, error) {
	query := `
		UPDATE builds
		SET state = $2, error = $3, completed_at = now()
		WHERE id = $1 AND state = 'processing'
		RETURNING id, site_id, user_id, branch, state, error, token, source_owner, source_repository, completed_at, created_at
	`
	args := []any{params.ID, string(params.State), params.Error}

	rows, _ := db.Query(ctx, query, args...)
	b, err := pgx.CollectExactlyOneRow(rows, rowToBuild)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := getBuild(ctx, db, params.ID); getErr != nil {
				return nil, getErr
			}
			return nil, ErrAlreadyDone
		}
		return nil, err
	}

	return b, nil
}

func getBuildJob(ctx context.Context, db executor, id uuid.UUID) (*Job, error) {
	query := `
		SELECT
			b.id, b.site_id, b.user_id, b.branch, b.state, b.error, b.token,
			b.source_owner, b.source_repository, b.completed_at, b.created_at,
			s.owner, s.repository, s.engine, s.default_branch,
			u.username, u.github_token
		FROM builds b
		JOIN sites s ON s.id = b.site_id
		JOIN users u ON u.id = b.user_id
		WHERE b.id = $1
	`
	args := []any{id}

	rows, _ := db.Query(ctx, query, args...)
	j, err := pgx.CollectExactlyOneRow(rows, rowToJob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return j, nil
}

type buildRow struct {
	ID               uuid.UUID  `db:"id"`
	SiteID           uuid.UUID  `db:"site_id"`
	UserID           uuid.UUID  `db:"user_id"`
	Branch           string     `db:"branch"`
	State            string     `db:"state"`
	Error            string     `db:"error"`
	Token            string     `db:"token"`
	SourceOwner      *string    `db:"source_owner"`
	SourceRepository *string    `db:"source_repository"`
	CompletedAt      *time.Time `db:"completed_at"`
	CreatedAt        time.Time  `db:"created_at"`
}

func (r *buildRow) build() *Build {
	b := &Build{
		ID:          r.ID,
		SiteID:      r.SiteID,
		UserID:      r.UserID,
		Branch:      r.Branch,
		State:       State(r.State),
		Error:       r.Error,
		Token:       r.Token,
		CompletedAt: r.CompletedAt,
		CreatedAt:   r.CreatedAt,
	}
	if r.SourceOwner != nil && r.SourceRepository != nil {
		b.Source = &Source{Owner: *r.SourceOwner, Repository: *r.SourceRepository}
	}
	return b
}

func rowToBuild(collectableRow pgx.CollectableRow) (*Build, error) {
	collectedRow, err := pgx.RowToStructByName[buildRow](collectableRow)
	if err != nil {
		return nil, err
	}
	return collectedRow.build(), nil
}

func rowToJob(collectableRow pgx.CollectableRow) (*Job, error) {
	type row struct {
		buildRow
		Owner         string `db:"owner"`
		Repository    string `db:"repository"`
		Engine        string `db:"engine"`
		DefaultBranch string `db:"default_branch"`
		Username      string `db:"username"`
		GithubToken   string `db:"github_token"`
	}
	collectedRow, err := pgx.RowToStructByName[row](collectableRow)
	if err != nil {
		return nil, err
	}

	j := &Job{
		Build:          collectedRow.buildRow.build(),
		SiteOwner:      collectedRow.Owner,
		SiteRepository: collectedRow.Repository,
		Engine:         collectedRow.Engine,
		DefaultBranch:  collectedRow.DefaultBranch,
		Username:       collectedRow.Username,
		GithubToken:    collectedRow.GithubToken,
	}
	return j, nil
}
