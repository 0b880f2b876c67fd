package build

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/statichq/pages/internal/queue"
	"github.com/statichq/pages/internal/site"
)

// Publisher enqueues a message onto a named queue.
type Publisher interface {
	Publish(ctx context.Context, c queue.Config, body []byte) error
}

// Dispatcher creates build records and hands them to the engine runner
// through the queue set. The enqueue is an explicit step after the row
// is durably written, never a persistence-layer side effect.
type Dispatcher struct {
	Database Database  // required
	Broker   Publisher // required
}

func NewDispatcher(database Database, broker Publisher) *Dispatcher {
	return &Dispatcher{Database: database, Broker: broker}
}

type StartParams struct {
	Site   *site.Site // required
	User   *site.User // required
	Branch string     // required

	// Source selects an alternate repository for templated builds.
	Source *Source
}

// Start creates a Build in processing state with a fresh callback token
// and enqueues it. The call returns as soon as the job is enqueued;
// completion arrives later through the callback handler.
func (d *Dispatcher) Start(ctx context.Context, params *StartParams) (*Build, error) {
	b, err := d.create(ctx, params)
	if err != nil {
		return nil, err
	}

	if err = d.enqueue(ctx, b, queueFor(params.Source)); err != nil {
		return nil, err
	}

	return b, nil
}

// Resubmit creates a fresh Build for the same site, user and branch as
// an earlier one and enqueues it onto the bulk queue. The bulk queue
// makes a single attempt; resubmitting again is the caller's decision.
func (d *Dispatcher) Resubmit(ctx context.Context, id uuid.UUID) (*Build, error) {
	prev, err := d.Database.GetBuild(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("build.Dispatcher: %w", err)
	}

	token, err := NewToken()
	if err != nil {
		return nil, fmt.Errorf("build.Dispatcher: %w", err)
	}

	b, err := d.Database.CreateBuild(ctx, &DatabaseCreateBuildParams{
		SiteID: prev.SiteID,
		UserID: prev.UserID,
		Branch: prev.Branch,
		State:  StateProcessing,
		Token:  token,
		Source: prev.Source,
	})
	if err != nil {
		return nil, fmt.Errorf("build.Dispatcher: %w", err)
	}

	if err = d.enqueue(ctx, b, queue.SiteBuilds); err != nil {
		return nil, err
	}

	return b, nil
}

func (d *Dispatcher) create(ctx context.Context, params *StartParams) (*Build, error) {
	token, err := NewToken()
	if err != nil {
		return nil, fmt.Errorf("build.Dispatcher: %w", err)
	}

	b, err := d.Database.CreateBuild(ctx, &DatabaseCreateBuildParams{
		SiteID: params.Site.ID,
		UserID: params.User.ID,
		Branch: params.Branch,
		State:  StateProcessing,
		Token:  token,
		Source: params.Source,
	})
	if err != nil {
		return nil, fmt.Errorf("build.Dispatcher: %w", err)
	}

	return b, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, b *Build, c queue.Config) error {
	body, err := EncodeCreatedMessage(b.ID)
	if err != nil {
		return fmt.Errorf("build.Dispatcher: %w", err)
	}

	if err = d.Broker.Publish(ctx, c, body); err != nil {
		// The row stays in processing; it can be resubmitted. The token
		// is never part of the log record.
		slog.Error("didn't enqueue build", "build_id", b.ID, "queue", c.Name, "err", err)
		return fmt.Errorf("build.Dispatcher: %w", err)
	}

	slog.Info("dispatched build", "build_id", b.ID, "queue", c.Name, "branch", b.Branch)
	return nil
}

// queueFor selects the named queue by build kind: templated builds from
// an alternate source go through the editor site queue, ordinary builds
// through the site build queue.
func queueFor(source *Source) queue.Config {
	if source != nil {
		return queue.CreateEditorSite
	}
	return queue.SiteBuild
}
