package tasks

import (
	"context"
	"time"

	"github.com/copyleftdev/postscry/internal/browser"
	"github.com/copyleftdev/postscry/internal/content"
	"github.com/copyleftdev/postscry/internal/publish"
	"github.com/copyleftdev/postscry/internal/taskstypes"
)

// These interfaces decouple the task manager from the concrete resolver,
// session manager and stage executor so tests can script them.

// MediaResolver turns slot references into local files.
type MediaResolver interface {
	Plan(refs content.Refs) *content.Plan
	Resolve(ctx context.Context, refs content.Refs) (*content.Resolution, error)
}

// SessionPool hands out exclusive leases on the browser session.
type SessionPool interface {
	Acquire(ctx context.Context, timeout time.Duration) (*browser.Lease, error)
}

// StageRunner drives the publish stages with a leased driver.
type StageRunner interface {
	Run(ctx context.Context, d browser.Driver, job publish.Job, progress publish.ProgressFunc) (*publish.Outcome, error)
}

// Notifier is told about every task that reaches a terminal state and has a
// callback URL.
type Notifier interface {
	Notify(ctx context.Context, task *taskstypes.Task) error
}

var (
	_ MediaResolver = (*content.Resolver)(nil)
	_ SessionPool   = (*browser.Manager)(nil)
	_ StageRunner   = (*publish.Executor)(nil)
)
