package publish

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/postscry/internal/apperr"
	"github.com/copyleftdev/postscry/internal/browser"
	"github.com/copyleftdev/postscry/internal/config"
	"github.com/copyleftdev/postscry/internal/content"
	"github.com/copyleftdev/postscry/internal/metrics"
)

// State is what a probe saw on the page for the media being processed.
type State string

const (
	StateUnknown    State = "unknown"
	StateProcessing State = "processing"
	StateReady      State = "ready"
	StateFailed     State = "failed"
)

type Observation struct {
	State  State
	Detail string
}

// Probe inspects the page once.
type Probe interface {
	Observe(ctx context.Context) (Observation, error)
}

// SelectorProbe reads upload state from marker elements. An error marker
// wins; either the video-complete or the upload-success marker means ready.
type SelectorProbe struct {
	Driver    browser.Driver
	Selectors config.Selectors
}

func (p *SelectorProbe) Observe(ctx context.Context) (Observation, error) {
	s := p.Selectors
	if s.UploadError != "" {
		failed, err := p.Driver.ElementPresent(ctx, s.UploadError)
		if err != nil {
			return Observation{}, err
		}
		if failed {
			detail, _ := p.Driver.Text(ctx, s.UploadError)
			return Observation{State: StateFailed, Detail: detail}, nil
		}
	}
	if s.VideoComplete != "" {
		done, err := p.Driver.ElementPresent(ctx, s.VideoComplete)
		if err != nil {
			return Observation{}, err
		}
		if done {
			return Observation{State: StateReady}, nil
		}
	}
	if s.UploadSuccess != "" {
		done, err := p.Driver.ElementPresent(ctx, s.UploadSuccess)
		if err != nil {
			return Observation{}, err
		}
		if done {
			return Observation{State: StateReady}, nil
		}
	}
	if s.VideoProgress != "" {
		busy, err := p.Driver.ElementPresent(ctx, s.VideoProgress)
		if err != nil {
			return Observation{}, err
		}
		if busy {
			detail, _ := p.Driver.Text(ctx, s.VideoProgress)
			return Observation{State: StateProcessing, Detail: detail}, nil
		}
	}
	return Observation{State: StateUnknown}, nil
}

// Readiness reports how long an item took to become usable.
type Readiness struct {
	Path    string        `json:"path"`
	Kind    content.Kind  `json:"kind"`
	Elapsed time.Duration `json:"elapsed"`
	Polls   int           `json:"polls"`
	State   State         `json:"state"`
}

// Watcher waits for attached media to finish server-side processing.
type Watcher struct {
	probe   Probe
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewWatcher(probe Probe, logger *zap.Logger, m *metrics.Metrics) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{probe: probe, logger: logger, metrics: m}
}

// WaitForReady returns at once for images. For videos it polls every
// pollInterval until the ready marker shows, an error marker shows
// (StageError at upload-wait) or maxWait elapses (UploadTimeout). Probe
// errors are logged and polling continues.
func (w *Watcher) WaitForReady(ctx context.Context, item content.Item, pollInterval, maxWait time.Duration) (Readiness, error) {
	r := Readiness{Path: item.Path, Kind: item.Kind, State: StateReady}
	if item.Kind != content.KindVideo {
		return r, nil
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	start := time.Now()
	last := Observation{State: StateUnknown}
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Elapsed, r.State = time.Since(start), last.State
			return r, ctx.Err()
		case <-timer.C:
		}

		obs, err := w.probe.Observe(ctx)
		r.Polls++
		if err != nil {
			if ctx.Err() != nil {
				r.Elapsed, r.State = time.Since(start), last.State
				return r, ctx.Err()
			}
			w.logger.Debug("Upload probe failed", zap.String("path", item.Path), zap.Error(err))
		} else {
			last = obs
		}
		r.Elapsed, r.State = time.Since(start), last.State

		switch last.State {
		case StateReady:
			w.metrics.ObserveUploadWait(r.Elapsed, "ready")
			w.logger.Info("Video processed", zap.String("path", item.Path), zap.Duration("elapsed", r.Elapsed), zap.Int("polls", r.Polls))
			return r, nil
		case StateFailed:
			w.metrics.ObserveUploadWait(r.Elapsed, "failed")
			return r, apperr.StageFailed(apperr.StageUploadWait,
				fmt.Errorf("platform rejected %s: %s", item.Path, last.Detail))
		}

		remaining := maxWait - r.Elapsed
		if remaining <= 0 {
			w.metrics.ObserveUploadWait(r.Elapsed, "timeout")
			return r, &apperr.Error{
				Kind:  apperr.KindUploadTimeout,
				Stage: apperr.StageUploadWait,
				Message: fmt.Sprintf("%s not ready after %s (%d polls, last state %s %q)",
					item.Path, r.Elapsed.Round(time.Millisecond), r.Polls, last.State, last.Detail),
			}
		}
		timer.Reset(min(pollInterval, remaining))
	}
}
