package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/postscry/internal/apperr"
	"github.com/copyleftdev/postscry/internal/config"
	"github.com/copyleftdev/postscry/internal/metrics"
	"github.com/copyleftdev/postscry/internal/publish"
	"github.com/copyleftdev/postscry/internal/topics"
	"github.com/copyleftdev/postscry/internal/taskstypes"
)

const notifyTimeout = 30 * time.Second

// ErrClosed is returned by Submit once Shutdown has started.
var ErrClosed = errors.New("task manager is shutting down")

type Options struct {
	ExecutionTimeout time.Duration
	AcquireTimeout   time.Duration
	Retention        time.Duration
	SweepInterval    time.Duration
	MaxTitleRunes    int
	MaxContentRunes  int
	Topics           topics.Limits
}

// OptionsFromConfig maps the tasks and browser sections onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ExecutionTimeout: cfg.Tasks.ExecutionTimeout,
		AcquireTimeout:   cfg.Browser.AcquireTimeout,
		Retention:        cfg.Tasks.Retention,
		SweepInterval:    cfg.Tasks.SweepInterval,
		MaxTitleRunes:    50,
		MaxContentRunes:  1000,
		Topics:           topics.DefaultLimits,
	}
}

// Deps are the collaborators of the background unit. Notifier is optional.
type Deps struct {
	Resolver MediaResolver
	Sessions SessionPool
	Runner   StageRunner
	Notifier Notifier
}

// Manager registers tasks and runs each one in its own goroutine. Browser
// work is serialized by the session lease, not by the manager.
type Manager struct {
	deps    Deps
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics

	tasks sync.Map // uuid.UUID -> *record

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.RWMutex // orders wg.Add against Shutdown
	closing bool
	wg      sync.WaitGroup
}

func NewManager(deps Deps, opts Options, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ExecutionTimeout <= 0 {
		opts.ExecutionTimeout = 10 * time.Minute
	}
	if opts.Topics == (topics.Limits{}) {
		opts.Topics = topics.DefaultLimits
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:    deps,
		opts:    opts,
		logger:  logger,
		metrics: m,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Submit validates params, registers a PENDING task and starts it. It never
// waits for the browser.
func (m *Manager) Submit(params taskstypes.Params) (uuid.UUID, error) {
	text, err := validate(params, m.opts)
	if err != nil {
		return uuid.Nil, err
	}
	params.Content = text
	params.Title = strings.TrimSpace(params.Title)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closing {
		return uuid.Nil, ErrClosed
	}

	now := time.Now()
	task := &taskstypes.Task{
		ID:        uuid.New(),
		Status:    taskstypes.StatusPending,
		Params:    params,
		Stage:     taskstypes.StageQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	rec := newRecord(task)
	m.tasks.Store(task.ID, rec)

	m.wg.Add(1)
	go m.execute(rec)

	m.logger.Info("Task submitted", zap.String("task_id", task.ID.String()))
	return task.ID, nil
}

func (m *Manager) lookup(id uuid.UUID) (*record, error) {
	v, ok := m.tasks.Load(id)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "task %s not found", id)
	}
	return v.(*record), nil
}

// Get returns the current snapshot of a task.
func (m *Manager) Get(id uuid.UUID) (*taskstypes.Task, error) {
	rec, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return rec.load(), nil
}

func (m *Manager) Status(id uuid.UUID) (taskstypes.StatusView, error) {
	rec, err := m.lookup(id)
	if err != nil {
		return taskstypes.StatusView{}, err
	}
	return rec.load().StatusView(), nil
}

// Result returns the payload or error of a terminal task, or NotReady.
func (m *Manager) Result(id uuid.UUID) (taskstypes.ResultView, error) {
	rec, err := m.lookup(id)
	if err != nil {
		return taskstypes.ResultView{}, err
	}
	t := rec.load()
	if !t.Status.Terminal() {
		return taskstypes.ResultView{}, apperr.New(apperr.KindNotReady, "task %s is %s", id, t.Status)
	}
	return taskstypes.ResultView{ID: t.ID, Status: t.Status, Result: t.Result, Error: t.Error}, nil
}

// List returns every registered task, oldest first.
func (m *Manager) List() []taskstypes.StatusView {
	var out []taskstypes.StatusView
	m.tasks.Range(func(_, v any) bool {
		out = append(out, v.(*record).load().StatusView())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Preview runs validation, media planning and topic merging without touching
// the network or the browser.
func (m *Manager) Preview(params taskstypes.Params) (*taskstypes.Preview, error) {
	text, err := validate(params, m.opts)
	if err != nil {
		return nil, err
	}
	refs, err := mediaRefs(params)
	if err != nil {
		return nil, err
	}
	if err := refs.Validate(); err != nil {
		return nil, err
	}
	cleaned, topicList := topics.MergeWithLimits(text, params.Topics, m.opts.Topics)
	plan := m.deps.Resolver.Plan(refs)
	title := strings.TrimSpace(params.Title)
	if title == "" {
		title = DeriveTitle(cleaned, m.opts.MaxTitleRunes)
	}
	return &taskstypes.Preview{
		Title:     title,
		Content:   cleaned,
		Topics:    topicList,
		Plan:      plan,
		ImageNote: !plan.Video(),
	}, nil
}

type outcome struct {
	result   *taskstypes.TaskResult
	warnings []string
	err      error
}

// execute is the background unit of one task. Whatever happens inside run,
// the task ends in exactly one terminal state.
func (m *Manager) execute(rec *record) {
	defer m.wg.Done()

	id := rec.load().ID
	logger := m.logger.With(zap.String("task_id", id.String()))

	ctx, cancel := context.WithTimeout(m.baseCtx, m.opts.ExecutionTimeout)
	defer cancel()

	started := time.Now()
	rec.transition(func(t *taskstypes.Task) bool {
		t.Status = taskstypes.StatusRunning
		t.StartedAt = &started
		t.Stage = taskstypes.StageValidating
		t.Progress = 5
		return true
	})
	m.metrics.TaskStarted()
	logger.Info("Task started")

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Task panicked", zap.Any("panic", r), zap.Stack("stack"))
				done <- outcome{err: apperr.New(apperr.KindInternal, "panic: %v", r)}
			}
		}()
		res, warnings, err := m.run(ctx, rec, logger)
		done <- outcome{result: res, warnings: warnings, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		select {
		case out = <-done:
		default:
			out.err = ctx.Err()
			if lease := rec.lease.Load(); lease != nil {
				logger.Warn("Task overran, tearing down browser session")
				lease.Abort()
			}
		}
	}

	final := m.finish(rec, out)
	m.metrics.TaskFinished(string(final.Status))
	if final.Error != nil {
		logger.Warn("Task finished",
			zap.String("status", string(final.Status)),
			zap.String("kind", string(final.Error.Kind)),
			zap.String("stage", string(final.Error.Stage)),
			zap.String("error", final.Error.Message))
	} else {
		logger.Info("Task finished", zap.String("status", string(final.Status)), zap.Duration("took", time.Since(started)))
	}

	if final.Params.CallbackURL != "" && m.deps.Notifier != nil {
		m.notify(final, logger)
	}
}

// run prepares the media and text, takes the session and drives the stages.
// Warnings are returned even on failure so the error descriptor keeps them.
func (m *Manager) run(ctx context.Context, rec *record, logger *zap.Logger) (*taskstypes.TaskResult, []string, error) {
	p := rec.load().Params

	refs, err := mediaRefs(p)
	if err != nil {
		return nil, nil, err
	}
	if err := refs.Validate(); err != nil {
		return nil, nil, err
	}

	rec.progress(taskstypes.StageResolvingMedia, 10)
	res, err := m.deps.Resolver.Resolve(ctx, refs)
	if err != nil {
		return nil, nil, err
	}
	// Downloads stay pinned until the stages are done with them.
	defer res.Release()
	warnings := res.Warnings
	if len(res.Items) == 0 {
		return nil, warnings, apperr.New(apperr.KindValidation, "no usable media after resolution")
	}

	cleaned, topicList := topics.MergeWithLimits(p.Content, p.Topics, m.opts.Topics)
	if publish.BrowserSafe(cleaned) == "" {
		return nil, warnings, apperr.New(apperr.KindValidation, "content is empty once topics are removed")
	}
	title := p.Title
	if title == "" {
		title = DeriveTitle(cleaned, m.opts.MaxTitleRunes)
	}

	rec.progress(taskstypes.StageAcquiringSession, 30)
	lease, err := m.deps.Sessions.Acquire(ctx, m.opts.AcquireTimeout)
	if err != nil {
		return nil, warnings, err
	}
	rec.lease.Store(lease)
	defer func() {
		if ctx.Err() != nil {
			lease.Abort()
			return
		}
		lease.Release()
	}()
	acquired := lease.AcquiredAt()
	rec.transition(func(t *taskstypes.Task) bool {
		t.SessionAcquiredAt = &acquired
		return true
	})
	logger.Debug("Browser session acquired", zap.Int("items", len(res.Items)), zap.Bool("video", res.HasVideo()))

	job := publish.Job{Title: title, Content: cleaned, Topics: topicList, Items: res.Items}
	out, err := m.deps.Runner.Run(ctx, lease.Driver(), job, func(stage apperr.Stage, percent int) {
		rec.progress(string(stage), percent)
	})
	if err != nil {
		return nil, warnings, err
	}

	return &taskstypes.TaskResult{
		URL:          out.URL,
		Confirmation: out.Confirmation,
		Title:        title,
		Topics:       topicList,
		Media:        res.Items,
		Warnings:     warnings,
		Truncated:    res.Truncated,
		Stages:       out.Stages,
		Uploads:      out.Uploads,
	}, warnings, nil
}

// finish records the terminal state and returns the final snapshot.
func (m *Manager) finish(rec *record, out outcome) *taskstypes.Task {
	now := time.Now()
	status := classify(out.err)
	lease := rec.lease.Load()

	rec.transition(func(t *taskstypes.Task) bool {
		t.Status = status
		t.FinishedAt = &now
		if lease != nil {
			acquired := lease.AcquiredAt()
			t.SessionAcquiredAt = &acquired
			if released := lease.ReleasedAt(); !released.IsZero() {
				t.SessionReleasedAt = &released
			}
		}
		if out.err == nil {
			t.Result = out.result
			t.Stage = taskstypes.StageDone
			t.Progress = 100
			return true
		}
		err := out.err
		if status == taskstypes.StatusTimeout && apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.Wrap(apperr.KindTimeout, err, "task exceeded %s", m.opts.ExecutionTimeout)
		}
		desc := taskstypes.Describe(err)
		if desc.Stage == "" {
			desc.Stage = apperr.Stage(t.Stage)
		}
		desc.Warnings = out.warnings
		t.Error = desc
		return true
	})
	return rec.load()
}

func classify(err error) taskstypes.TaskStatus {
	if err == nil {
		return taskstypes.StatusSucceeded
	}
	switch apperr.KindOf(err) {
	case apperr.KindUploadTimeout, apperr.KindTimeout:
		return taskstypes.StatusTimeout
	case apperr.KindSessionBusy:
		return taskstypes.StatusFailed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return taskstypes.StatusTimeout
	}
	return taskstypes.StatusFailed
}

func (m *Manager) notify(task *taskstypes.Task, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := m.deps.Notifier.Notify(ctx, task); err != nil {
		logger.Warn("Callback notification failed", zap.String("callback_url", task.Params.CallbackURL), zap.Error(err))
		return
	}
	logger.Debug("Callback notification sent", zap.String("callback_url", task.Params.CallbackURL))
}

// Sweep evicts terminal tasks that finished more than the retention window
// before now. Concurrent readers either see the task or NotFound.
func (m *Manager) Sweep(now time.Time) int {
	if m.opts.Retention <= 0 {
		return 0
	}
	cutoff := now.Add(-m.opts.Retention)
	evicted := 0
	m.tasks.Range(func(k, v any) bool {
		t := v.(*record).load()
		if t.Status.Terminal() && t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			m.tasks.Delete(k)
			evicted++
		}
		return true
	})
	if evicted > 0 {
		m.logger.Info("Evicted finished tasks", zap.Int("count", evicted))
	}
	return evicted
}

// RunSweeper calls Sweep every SweepInterval until ctx ends.
func (m *Manager) RunSweeper(ctx context.Context) error {
	interval := m.opts.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Shutdown stops accepting tasks and waits for running ones. If ctx ends
// first the remaining tasks are cancelled and end FAILED.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	m.logger.Info("Shutting down task manager...")
	waited := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		m.cancel()
		m.logger.Info("Task manager shut down")
		return nil
	case <-ctx.Done():
		m.cancel()
		<-waited
		return fmt.Errorf("waiting for running tasks: %w", ctx.Err())
	}
}

// Running counts tasks that are not terminal yet.
func (m *Manager) Running() int {
	n := 0
	m.tasks.Range(func(_, v any) bool {
		if !v.(*record).load().Status.Terminal() {
			n++
		}
		return true
	})
	return n
}
