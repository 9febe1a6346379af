package mcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/copyleftdev/postscry/internal/config"
	"github.com/copyleftdev/postscry/internal/taskstypes"
)

// CallbackNotifier POSTs the terminal message of a task to its callback URL.
// Network errors and 5xx answers are retried; anything else is final.
type CallbackNotifier struct {
	client   *http.Client
	token    string
	attempts uint
	backoff  time.Duration
	logger   *zap.Logger
}

func NewCallbackNotifier(cfg *config.Config, logger *zap.Logger) *CallbackNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := cfg.Tasks.CallbackAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &CallbackNotifier{
		client:   &http.Client{Timeout: cfg.Tasks.CallbackTimeout},
		token:    cfg.Security.CallbackToken,
		attempts: uint(attempts),
		backoff:  500 * time.Millisecond,
		logger:   logger,
	}
}

func (n *CallbackNotifier) Notify(ctx context.Context, task *taskstypes.Task) error {
	if task.Params.CallbackURL == "" {
		return nil
	}
	body, err := FormatTask(task)
	if err != nil {
		return fmt.Errorf("formatting callback for task %s: %w", task.ID, err)
	}

	op := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, task.Params.CallbackURL, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Postscry-Task", task.ID.String())
		if n.token != "" {
			req.Header.Set("Authorization", "Bearer "+n.token)
		}

		resp, err := n.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 500:
			return struct{}{}, fmt.Errorf("callback answered %s", resp.Status)
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return struct{}{}, backoff.Permanent(fmt.Errorf("callback answered %s", resp.Status))
		}
		return struct{}{}, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.backoff
	notify := func(err error, wait time.Duration) {
		n.logger.Debug("Retrying callback", zap.String("task_id", task.ID.String()), zap.Duration("wait", wait), zap.Error(err))
	}
	_, err = backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(n.attempts),
		backoff.WithNotify(notify))
	if err != nil {
		return fmt.Errorf("posting callback for task %s: %w", task.ID, err)
	}
	return nil
}
