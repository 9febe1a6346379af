// Package publish drives the composer page through the publish stages.
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/postscry/internal/apperr"
	"github.com/copyleftdev/postscry/internal/browser"
	"github.com/copyleftdev/postscry/internal/config"
	"github.com/copyleftdev/postscry/internal/content"
	"github.com/copyleftdev/postscry/internal/dom"
	"github.com/copyleftdev/postscry/internal/metrics"
)

// Job is everything the stages need, already resolved.
type Job struct {
	Title   string
	Content string
	Topics  []string
	Items   []content.Item
}

func (j Job) video() bool {
	for _, it := range j.Items {
		if it.Kind == content.KindVideo {
			return true
		}
	}
	return false
}

// StageTiming records one completed stage.
type StageTiming struct {
	Stage    apperr.Stage  `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// Outcome describes a confirmed publish.
type Outcome struct {
	URL          string        `json:"url"`
	Confirmation string        `json:"confirmation"`
	Stages       []StageTiming `json:"stages"`
	Uploads      []Readiness   `json:"uploads,omitempty"`
}

// ProgressFunc is told when a stage starts, with a rough percentage.
type ProgressFunc func(stage apperr.Stage, percent int)

var stagePercent = map[apperr.Stage]int{
	apperr.StageOpen:       40,
	apperr.StageAttach:     50,
	apperr.StageUploadWait: 60,
	apperr.StageText:       70,
	apperr.StageTopic:      80,
	apperr.StageSubmit:     90,
	apperr.StageConfirm:    95,
}

// Executor runs the stages strictly in order. Any failure aborts the rest
// and comes back as a StageError naming the stage. Nothing is retried: a
// half-submitted post cannot be safely repeated.
type Executor struct {
	publishURL string
	cfg        config.PublishConfig
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewExecutor(publishURL string, cfg config.PublishConfig, logger *zap.Logger, m *metrics.Metrics) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{publishURL: publishURL, cfg: cfg, logger: logger, metrics: m}
}

type run struct {
	e        *Executor
	d        browser.Driver
	job      Job
	progress ProgressFunc
	watcher  *Watcher
	out      *Outcome
}

func (e *Executor) Run(ctx context.Context, d browser.Driver, job Job, progress ProgressFunc) (*Outcome, error) {
	if progress == nil {
		progress = func(apperr.Stage, int) {}
	}
	r := &run{
		e:        e,
		d:        d,
		job:      job,
		progress: progress,
		watcher:  NewWatcher(&SelectorProbe{Driver: d, Selectors: e.cfg.Selectors}, e.logger, e.metrics),
		out:      &Outcome{},
	}

	steps := []struct {
		stage apperr.Stage
		fn    func(context.Context) error
	}{
		{apperr.StageOpen, r.open},
		{apperr.StageAttach, r.attach},
		{apperr.StageText, r.text},
		{apperr.StageTopic, r.topics},
		{apperr.StageSubmit, r.submit},
		{apperr.StageConfirm, r.confirm},
	}
	for _, step := range steps {
		if err := r.stage(ctx, step.stage, step.fn); err != nil {
			return nil, err
		}
	}
	return r.out, nil
}

func (r *run) stage(ctx context.Context, stage apperr.Stage, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return apperr.StageFailed(stage, err)
	}
	r.progress(stage, stagePercent[stage])
	start := time.Now()
	r.e.logger.Debug("Stage started", zap.String("stage", string(stage)))

	err := fn(ctx)
	elapsed := time.Since(start)
	r.e.metrics.ObserveStage(string(stage), elapsed, err)
	if err != nil {
		// Errors already tagged with a stage (upload-wait inside attach) keep it.
		if apperr.StageOf(err) == "" {
			err = apperr.StageFailed(stage, err)
		}
		r.e.logger.Warn("Stage failed", zap.String("stage", string(apperr.StageOf(err))), zap.Error(err))
		return err
	}
	r.out.Stages = append(r.out.Stages, StageTiming{Stage: stage, Duration: elapsed})
	return nil
}

func (r *run) open(ctx context.Context) error {
	if err := r.d.Navigate(ctx, r.e.publishURL); err != nil {
		return fmt.Errorf("opening composer: %w", err)
	}
	tab := r.e.cfg.Selectors.ImageTab
	if r.job.video() {
		tab = r.e.cfg.Selectors.VideoTab
	}
	if tab == "" {
		return nil
	}
	if err := r.d.Click(ctx, tab); err != nil {
		return fmt.Errorf("switching composer tab: %w", err)
	}
	return nil
}

// attach uploads items one at a time so the page keeps their order. Slow
// items are waited on before the next one goes in.
func (r *run) attach(ctx context.Context) error {
	if len(r.job.Items) == 0 {
		return errors.New("no media to attach")
	}
	for i, item := range r.job.Items {
		if err := r.d.SetUploadFiles(ctx, r.e.cfg.Selectors.FileInput, []string{item.Path}); err != nil {
			return fmt.Errorf("attaching item %d (%s): %w", i+1, item.Origin, err)
		}
		if item.Kind != content.KindVideo {
			continue
		}
		r.progress(apperr.StageUploadWait, stagePercent[apperr.StageUploadWait])
		ready, err := r.watcher.WaitForReady(ctx, item, r.e.cfg.PollInterval, r.e.cfg.VideoMaxWait)
		r.out.Uploads = append(r.out.Uploads, ready)
		if err != nil {
			if apperr.StageOf(err) == "" {
				err = apperr.StageFailed(apperr.StageUploadWait, err)
			}
			return err
		}
	}
	return nil
}

func (r *run) text(ctx context.Context) error {
	s := r.e.cfg.Selectors
	if title := BrowserSafe(r.job.Title); title != "" {
		if err := r.d.SetInputValue(ctx, s.TitleInput, title); err != nil {
			return fmt.Errorf("filling title: %w", err)
		}
	}
	body := BrowserSafe(r.job.Content)
	if body == "" {
		return errors.New("content is empty after cleanup")
	}
	if err := r.d.SendKeys(ctx, s.ContentEditor, body); err != nil {
		return fmt.Errorf("filling content: %w", err)
	}
	return nil
}

// topics types each tag after the body and picks the platform's suggestion
// when one appears, which turns it into a real topic link.
func (r *run) topics(ctx context.Context) error {
	s := r.e.cfg.Selectors
	for _, topic := range r.job.Topics {
		topic = BrowserSafe(topic)
		if topic == "" {
			continue
		}
		if err := r.d.SendKeys(ctx, s.ContentEditor, " #"+topic); err != nil {
			return fmt.Errorf("typing topic %q: %w", topic, err)
		}
		if err := sleep(ctx, r.e.cfg.TopicDropdownWait); err != nil {
			return err
		}
		picked := false
		if s.TopicSuggest != "" {
			present, err := r.d.ElementPresent(ctx, s.TopicSuggest)
			if err != nil {
				return fmt.Errorf("looking for topic suggestion: %w", err)
			}
			if present {
				if err := r.d.Click(ctx, s.TopicSuggest); err != nil {
					return fmt.Errorf("choosing topic %q: %w", topic, err)
				}
				picked = true
			}
		}
		if !picked {
			if err := r.d.SendKeys(ctx, s.ContentEditor, " "); err != nil {
				return fmt.Errorf("closing topic %q: %w", topic, err)
			}
		}
	}
	return nil
}

func (r *run) submit(ctx context.Context) error {
	for _, sel := range r.e.cfg.Selectors.PublishButtons {
		present, err := r.d.ElementPresent(ctx, sel)
		if err != nil {
			return fmt.Errorf("looking for publish button: %w", err)
		}
		if !present {
			continue
		}
		if err := r.d.Click(ctx, sel); err != nil {
			return fmt.Errorf("clicking publish button: %w", err)
		}
		return nil
	}
	return fmt.Errorf("no publish button found (%s)", r.diagnose(ctx))
}

// confirm polls for a success marker or a success URL. An unconfirmed
// submit is a failure: the caller must not assume the post went out.
func (r *run) confirm(ctx context.Context) error {
	s := r.e.cfg.Selectors
	interval := r.e.cfg.PollInterval
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	deadline := time.Now().Add(r.e.cfg.ConfirmTimeout)

	for {
		if s.PublishError != "" {
			failed, err := r.d.ElementPresent(ctx, s.PublishError)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			if failed {
				msg, _ := r.d.Text(ctx, s.PublishError)
				return fmt.Errorf("platform reported an error: %s", strings.TrimSpace(msg))
			}
		}
		if s.PublishSuccess != "" {
			ok, err := r.d.ElementPresent(ctx, s.PublishSuccess)
			if err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			if ok {
				r.out.Confirmation = "selector:" + s.PublishSuccess
				r.out.URL, _ = r.d.Location(ctx)
				return nil
			}
		}
		if loc, err := r.d.Location(ctx); err == nil {
			for _, marker := range r.e.cfg.SuccessURLMarkers {
				if marker != "" && strings.Contains(loc, marker) {
					r.out.Confirmation = "url:" + marker
					r.out.URL = loc
					return nil
				}
			}
		}

		if !time.Now().Before(deadline) {
			return fmt.Errorf("no success marker within %s (%s)", r.e.cfg.ConfirmTimeout, r.diagnose(ctx))
		}
		if err := sleep(ctx, min(interval, time.Until(deadline))); err != nil {
			return err
		}
	}
}

// diagnose summarizes the current page for error messages.
func (r *run) diagnose(ctx context.Context) string {
	loc, _ := r.d.Location(ctx)
	html, err := r.d.HTML(ctx)
	if err != nil {
		return "page: " + loc
	}
	return fmt.Sprintf("page: %s, text: %q", loc, dom.Summarize(html, 200))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
