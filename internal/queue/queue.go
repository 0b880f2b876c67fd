// Package queue implements the named work queues of the build pipeline
// on top of RabbitMQ.
//
// Each queue carries its own retry, backoff and start-delay policy.
// Delays are implemented with a companion wait queue whose dead-letter
// exchange routes expired messages back onto the work queue, so no
// broker plugins are required.
package queue

import (
	"time"
)

// Config describes a named queue and its delivery policy.
type Config struct {
	Name string

	// MaxAttempts is the total number of times a message is handed to a
	// consumer before it is terminally failed. It is always at least 1.
	MaxAttempts int

	// BackoffBase is the delay before the first retry. Subsequent retries
	// double it. Zero means retries are immediate (only meaningful when
	// MaxAttempts > 1).
	BackoffBase time.Duration

	// Delay postpones the first attempt after publishing.
	Delay time.Duration
}

// The named queues of the pipeline. Their policies are load-bearing:
// consumers of single-attempt queues rely on the caller to resubmit,
// and the domain queue deliberately waits out DNS propagation before
// its first attempt.
var (
	SiteBuild        = Config{Name: "site-build-queue", MaxAttempts: 3, BackoffBase: 3000 * time.Millisecond}
	SiteBuilds       = Config{Name: "site-builds", MaxAttempts: 1}
	BuildTasks       = Config{Name: "build-tasks", MaxAttempts: 1}
	CreateEditorSite = Config{Name: "create-editor-site", MaxAttempts: 1}
	Domain           = Config{Name: "domain", MaxAttempts: 3, BackoffBase: 3000 * time.Millisecond, Delay: 2 * time.Minute}
	SiteDeletion     = Config{Name: "site-deletion", MaxAttempts: 3, BackoffBase: 3000 * time.Millisecond}
)

// Backoff returns the delay before retry number retry (the first retry
// is 0). It grows exponentially from BackoffBase.
func (c *Config) Backoff(retry int) time.Duration {
	if c.BackoffBase <= 0 {
		return 0
	}
	d := c.BackoffBase
	for i := 0; i < retry; i++ {
		d *= 2
	}
	return d
}

// waitName is the name of the companion wait queue used for start
// delays and retry backoff.
func (c *Config) waitName() string {
	return c.Name + ".wait"
}
