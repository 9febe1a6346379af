package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/copyleftdev/postscry/internal/apperr"
	"github.com/copyleftdev/postscry/internal/browser"
	"github.com/copyleftdev/postscry/internal/publish"
)

// Window is the span one Run call held the driver for.
type Window struct {
	Start, End time.Time
}

// MockStageRunner implements tasks.StageRunner. By default every run
// succeeds immediately; RunFunc replaces that behavior.
type MockStageRunner struct {
	mu      sync.Mutex
	jobs    []publish.Job
	windows []Window
	started chan struct{}

	RunFunc func(ctx context.Context, d browser.Driver, job publish.Job, progress publish.ProgressFunc) (*publish.Outcome, error)
}

func NewMockStageRunner() *MockStageRunner {
	return &MockStageRunner{started: make(chan struct{}, 64)}
}

func (m *MockStageRunner) Run(ctx context.Context, d browser.Driver, job publish.Job, progress publish.ProgressFunc) (*publish.Outcome, error) {
	start := time.Now()
	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.mu.Unlock()
	select {
	case m.started <- struct{}{}:
	default:
	}

	var (
		out *publish.Outcome
		err error
	)
	if m.RunFunc != nil {
		out, err = m.RunFunc(ctx, d, job, progress)
	} else {
		if progress != nil {
			progress(apperr.StageOpen, 40)
		}
		out = &publish.Outcome{URL: "https://creator.example.com/published", Confirmation: "selector:#success"}
	}

	m.mu.Lock()
	m.windows = append(m.windows, Window{Start: start, End: time.Now()})
	m.mu.Unlock()
	return out, err
}

// Started is signalled each time Run begins.
func (m *MockStageRunner) Started() <-chan struct{} { return m.started }

func (m *MockStageRunner) Jobs() []publish.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publish.Job(nil), m.jobs...)
}

func (m *MockStageRunner) Windows() []Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Window(nil), m.windows...)
}

// Blocking returns a RunFunc that waits for release to be closed or ctx to
// end.
func Blocking(release <-chan struct{}) func(context.Context, browser.Driver, publish.Job, publish.ProgressFunc) (*publish.Outcome, error) {
	return func(ctx context.Context, _ browser.Driver, _ publish.Job, _ publish.ProgressFunc) (*publish.Outcome, error) {
		select {
		case <-release:
			return &publish.Outcome{Confirmation: "selector:#success"}, nil
		case <-ctx.Done():
			return nil, apperr.StageFailed(apperr.StageConfirm, ctx.Err())
		}
	}
}

// Sleeping returns a RunFunc that holds the driver for d and then succeeds.
func Sleeping(d time.Duration) func(context.Context, browser.Driver, publish.Job, publish.ProgressFunc) (*publish.Outcome, error) {
	return func(ctx context.Context, _ browser.Driver, _ publish.Job, _ publish.ProgressFunc) (*publish.Outcome, error) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return &publish.Outcome{Confirmation: "selector:#success"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
