package browser_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/copyleftdev/postscry/internal/apperr"
	"github.com/copyleftdev/postscry/internal/browser"
	"github.com/copyleftdev/postscry/internal/browser/mocks"
)

var testCookies = []browser.Cookie{{Name: "web_session", Value: "abc", Domain: ".example.com"}}

func newManager(l *mocks.MockLauncher, creds browser.CredentialProvider) *browser.Manager {
	return browser.NewManager(l.Launch, creds, browser.Options{PlatformURL: "https://creator.example.com"}, zap.NewNop(), nil)
}

func TestManager_LazyBootstrapAndReuse(t *testing.T) {
	l := &mocks.MockLauncher{}
	m := newManager(l, mocks.StaticCredentials{Cookies: testCookies})
	assert.False(t, m.Info().Ready)

	lease, err := m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	d := l.Last()
	require.NotNil(t, d)
	assert.Equal(t, []string{"navigate https://creator.example.com", "cookies 1"}, d.Calls())
	assert.True(t, m.Info().Busy)
	lease.Release()
	assert.False(t, lease.ReleasedAt().IsZero())
	assert.False(t, m.Info().Busy)

	lease, err = m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Same(t, d, lease.Driver())
	lease.Release()

	assert.Equal(t, 1, l.Launches())
	assert.False(t, d.Closed())
}

func TestManager_AcquireTimesOutWithSessionBusy(t *testing.T) {
	m := newManager(&mocks.MockLauncher{}, nil)

	held, err := m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer held.Release()

	start := time.Now()
	_, err = m.Acquire(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrSessionBusy))
	assert.Less(t, time.Since(start), time.Second)
}

func TestManager_AcquireHonoursCallerContext(t *testing.T) {
	m := newManager(&mocks.MockLauncher{}, nil)
	held, err := m.Acquire(context.Background(), 0)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Acquire(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEqual(t, apperr.KindSessionBusy, apperr.KindOf(err))
}

func TestManager_ExclusiveLeases(t *testing.T) {
	m := newManager(&mocks.MockLauncher{}, nil)

	type window struct{ from, to time.Time }
	var (
		mu      sync.Mutex
		windows []window
		wg      sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := m.Acquire(context.Background(), 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			time.Sleep(10 * time.Millisecond)
			lease.Release()
			mu.Lock()
			windows = append(windows, window{lease.AcquiredAt(), lease.ReleasedAt()})
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, windows, 5)
	for i := range windows {
		for j := range windows {
			if i == j {
				continue
			}
			a, b := windows[i], windows[j]
			overlap := a.from.Before(b.to) && b.from.Before(a.to)
			assert.False(t, overlap, "lease windows %d and %d overlap", i, j)
		}
	}
}

func TestManager_AbortTearsDownSession(t *testing.T) {
	l := &mocks.MockLauncher{}
	m := newManager(l, nil)

	lease, err := m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	first := l.Last()

	lease.Abort()
	lease.Release() // no-op after Abort
	assert.True(t, first.Closed())
	assert.False(t, m.Info().Ready)

	lease, err = m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer lease.Release()
	assert.Equal(t, 2, l.Launches())
	assert.NotSame(t, first, lease.Driver())
}

func TestManager_InitFailures(t *testing.T) {
	l := &mocks.MockLauncher{Err: errors.New("chrome not found")}
	m := newManager(l, nil)
	err := m.EnsureReady(context.Background())
	assert.True(t, errors.Is(err, apperr.ErrSessionInit))

	l = &mocks.MockLauncher{}
	credErr := apperr.New(apperr.KindCredential, "cookie file missing")
	m = newManager(l, mocks.StaticCredentials{Err: credErr})
	_, err = m.Acquire(context.Background(), time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrSessionInit))
	assert.True(t, errors.Is(err, apperr.ErrCredential))
	assert.True(t, l.Last().Closed())

	// the lease was given back
	m = newManager(&mocks.MockLauncher{}, nil)
	lease, err := m.Acquire(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	lease.Release()
}

func TestManager_EnsureReadyIsIdempotent(t *testing.T) {
	l := &mocks.MockLauncher{}
	m := newManager(l, mocks.StaticCredentials{Cookies: testCookies})
	require.NoError(t, m.EnsureReady(context.Background()))
	require.NoError(t, m.EnsureReady(context.Background()))
	assert.Equal(t, 1, l.Launches())
	assert.True(t, m.Info().Ready)

	require.NoError(t, m.Close())
	assert.True(t, l.Last().Closed())
	assert.False(t, m.Info().Ready)
}

func TestManager_ShutdownRefusesNewLeases(t *testing.T) {
	m := newManager(&mocks.MockLauncher{}, nil)
	require.NoError(t, m.EnsureReady(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	_, err := m.Acquire(context.Background(), 10*time.Millisecond)
	assert.True(t, errors.Is(err, apperr.ErrSessionInit))
}

func TestFileCredentialProvider(t *testing.T) {
	dir := t.TempDir()
	future := float64(time.Now().Add(time.Hour).Unix())

	arr := filepath.Join(dir, "arr.json")
	require.NoError(t, os.WriteFile(arr, []byte(`[
		{"name":"a","value":"1","domain":".example.com","expirationDate":`+strconv.FormatFloat(future, 'f', 0, 64)+`},
		{"name":"old","value":"x","expires":1000},
		{"name":"sess","value":"2","expires":-1}
	]`), 0o600))
	cookies, err := (&browser.FileCredentialProvider{Path: arr, DefaultDomain: ".fallback.com"}).LoadCookies(context.Background())
	require.NoError(t, err)
	require.Len(t, cookies, 2)
	assert.Equal(t, ".example.com", cookies[0].Domain)
	assert.False(t, cookies[0].Expires.IsZero())
	assert.Equal(t, ".fallback.com", cookies[1].Domain)

	obj := filepath.Join(dir, "obj.json")
	require.NoError(t, os.WriteFile(obj, []byte(`{"version":1,"domain":".site.com","cookies":[{"name":"b","value":"2"}]}`), 0o600))
	cookies, err = (&browser.FileCredentialProvider{Path: obj}).LoadCookies(context.Background())
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, ".site.com", cookies[0].Domain)

	_, err = (&browser.FileCredentialProvider{Path: filepath.Join(dir, "missing.json")}).LoadCookies(context.Background())
	assert.True(t, errors.Is(err, apperr.ErrCredential))

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`[]`), 0o600))
	_, err = (&browser.FileCredentialProvider{Path: empty}).LoadCookies(context.Background())
	assert.True(t, errors.Is(err, apperr.ErrCredential))
}
