// Package browser owns the single automation session shared by publish
// tasks and the chromedp driver behind it.
package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/copyleftdev/postscry/internal/apperr"
	"github.com/copyleftdev/postscry/internal/metrics"
)

var errManagerClosed = errors.New("browser session manager is shut down")

// Manager hands out exclusive leases on one lazily created driver. The
// session survives Release and is reused by the next holder.
type Manager struct {
	launch      Launcher
	creds       CredentialProvider
	platformURL string
	logger      *zap.Logger
	metrics     *metrics.Metrics

	sem    *semaphore.Weighted
	held   atomic.Bool
	closed atomic.Bool

	mu         sync.Mutex // guards driver and readySince
	driver     Driver
	readySince time.Time
}

type Options struct {
	// PlatformURL is opened before cookies are injected so they bind to
	// the right origin. Empty skips navigation.
	PlatformURL string
}

func NewManager(launch Launcher, creds CredentialProvider, opts Options, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		launch:      launch,
		creds:       creds,
		platformURL: opts.PlatformURL,
		logger:      logger,
		metrics:     m,
		sem:         semaphore.NewWeighted(1),
	}
}

// EnsureReady bootstraps the session if none exists. It does not take the
// lease, so it can warm the browser while nobody is publishing.
func (m *Manager) EnsureReady(ctx context.Context) error {
	_, err := m.ready(ctx)
	return err
}

func (m *Manager) ready(ctx context.Context) (Driver, error) {
	if m.closed.Load() {
		return nil, apperr.Wrap(apperr.KindSessionInit, errManagerClosed, "session unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.driver != nil {
		return m.driver, nil
	}

	start := time.Now()
	d, err := m.launch(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSessionInit, err, "launching browser")
	}
	if err := m.bootstrap(ctx, d); err != nil {
		_ = d.Close()
		return nil, err
	}
	m.driver = d
	m.readySince = time.Now()
	m.logger.Info("Browser session ready", zap.Duration("took", time.Since(start)))
	return d, nil
}

func (m *Manager) bootstrap(ctx context.Context, d Driver) error {
	if m.creds == nil {
		return nil
	}
	cookies, err := m.creds.LoadCookies(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindSessionInit, err, "loading credentials")
	}
	if m.platformURL != "" {
		if err := d.Navigate(ctx, m.platformURL); err != nil {
			return apperr.Wrap(apperr.KindSessionInit, err, "opening %s", m.platformURL)
		}
	}
	if err := d.SetCookies(ctx, cookies); err != nil {
		return apperr.Wrap(apperr.KindSessionInit, err, "injecting %d cookies", len(cookies))
	}
	m.logger.Debug("Credentials loaded", zap.Int("cookies", len(cookies)))
	return nil
}

// Acquire waits up to timeout for exclusive use of the session and makes sure
// it is bootstrapped. Running out of time yields SessionBusy; a cancelled ctx
// yields the context error. A zero timeout waits as long as ctx allows.
func (m *Manager) Acquire(ctx context.Context, timeout time.Duration) (*Lease, error) {
	if m.closed.Load() {
		return nil, apperr.Wrap(apperr.KindSessionInit, errManagerClosed, "session unavailable")
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	if err := m.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Wrap(apperr.KindSessionBusy, err, "browser session still held after %s", timeout)
	}
	m.held.Store(true)
	m.metrics.ObserveLeaseWait(time.Since(start))

	d, err := m.ready(ctx)
	if err != nil {
		m.held.Store(false)
		m.sem.Release(1)
		return nil, err
	}
	return &Lease{m: m, driver: d, acquiredAt: time.Now()}, nil
}

// discard drops d as the current session so the next holder relaunches.
func (m *Manager) discard(d Driver) {
	m.mu.Lock()
	if m.driver == d {
		m.driver = nil
		m.readySince = time.Time{}
	}
	m.mu.Unlock()
	if err := d.Close(); err != nil {
		m.logger.Warn("Error closing browser session", zap.Error(err))
	}
}

// Close tears the session down. A holder's lease stays valid but its driver
// is dead; the next Acquire starts a fresh session.
func (m *Manager) Close() error {
	m.mu.Lock()
	d := m.driver
	m.driver = nil
	m.readySince = time.Time{}
	m.mu.Unlock()
	if d == nil {
		return nil
	}
	m.logger.Info("Closing browser session")
	return d.Close()
}

// Shutdown waits for the current holder to finish, then closes the session
// and refuses further leases.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser session manager...")
	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.logger.Warn("Shutdown timeout reached while waiting for the active lease")
		m.closed.Store(true)
		_ = m.Close()
		return err
	}
	m.closed.Store(true)
	defer m.sem.Release(1)
	return m.Close()
}

// Info is a point-in-time view of the session for health endpoints.
type Info struct {
	Ready      bool      `json:"ready"`
	Busy       bool      `json:"busy"`
	ReadySince time.Time `json:"ready_since,omitempty"`
}

func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Info{Ready: m.driver != nil, Busy: m.held.Load(), ReadySince: m.readySince}
}

// Lease is exclusive ownership of the session until Release or Abort.
type Lease struct {
	m          *Manager
	driver     Driver
	acquiredAt time.Time

	once       sync.Once
	mu         sync.Mutex
	releasedAt time.Time
}

func (l *Lease) Driver() Driver { return l.driver }

func (l *Lease) AcquiredAt() time.Time { return l.acquiredAt }

// ReleasedAt is zero until the lease ends.
func (l *Lease) ReleasedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releasedAt
}

// Release returns the session for reuse. Only the first Release or Abort has
// an effect.
func (l *Lease) Release() { l.end(false) }

// Abort closes the session before returning ownership, for holders that
// overran and may have left the page in an unknown state.
func (l *Lease) Abort() { l.end(true) }

func (l *Lease) end(teardown bool) {
	l.once.Do(func() {
		if teardown {
			l.m.discard(l.driver)
		}
		l.mu.Lock()
		l.releasedAt = time.Now()
		l.mu.Unlock()
		l.m.held.Store(false)
		l.m.sem.Release(1)
	})
}
