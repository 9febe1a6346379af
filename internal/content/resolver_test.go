package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/copyleftdev/postscry/internal/apperr"
	"github.com/copyleftdev/postscry/internal/config"
)

var (
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
)

type countingFetcher struct {
	calls atomic.Int32
	data  []byte
	err   error
}

func (f *countingFetcher) Get(_ context.Context, _ string) ([]byte, string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, "", f.err
	}
	return f.data, "application/octet-stream", nil
}

func writeFiles(t *testing.T, dir string, names ...string) map[string]string {
	t.Helper()
	paths := make(map[string]string, len(names))
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, jpegBytes, 0o644))
		paths[n] = p
	}
	return paths
}

func newTestResolver(t *testing.T, f Fetcher) *Resolver {
	t.Helper()
	r, err := NewResolver(f, Options{TempDir: t.TempDir(), CacheSize: 8, CacheTTL: time.Minute}, zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestResolve_PreservesSlotOrder(t *testing.T) {
	dir := t.TempDir()
	p := writeFiles(t, dir, "c.jpg", "b1.jpg", "b2.jpg", "e.jpg")
	r := newTestResolver(t, &countingFetcher{})

	// map iteration order must not matter
	refs := Refs{
		SlotClosing: {p["e.jpg"]},
		SlotBody:    {p["b1.jpg"], p["b2.jpg"]},
		SlotCover:   {p["c.jpg"]},
	}
	res, err := r.Resolve(context.Background(), refs)
	require.NoError(t, err)

	assert.Equal(t, []string{p["c.jpg"], p["b1.jpg"], p["b2.jpg"], p["e.jpg"]}, res.Paths())
	assert.Equal(t, SlotCover, res.Items[0].Slot)
	assert.Equal(t, SlotClosing, res.Items[3].Slot)
	assert.Equal(t, KindImage, res.Items[0].Kind)
	assert.Zero(t, res.Truncated)
	assert.Empty(t, res.Warnings)
}

func TestResolve_TruncatesOverflow(t *testing.T) {
	dir := t.TempDir()
	var body []string
	for i := 0; i < 11; i++ {
		name := filepath.Join(dir, "b"+string(rune('a'+i))+".jpg")
		require.NoError(t, os.WriteFile(name, jpegBytes, 0o644))
		body = append(body, name)
	}
	r := newTestResolver(t, &countingFetcher{})

	res, err := r.Resolve(context.Background(), Refs{SlotBody: body})
	require.NoError(t, err)
	assert.Len(t, res.Items, 9)
	assert.Equal(t, body[:9], res.Paths())
	assert.Equal(t, 2, res.Truncated)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "truncated")
}

func TestResolve_MissingLocalFile(t *testing.T) {
	r := newTestResolver(t, &countingFetcher{})
	_, err := r.Resolve(context.Background(), Refs{SlotBody: {filepath.Join(t.TempDir(), "nope.jpg")}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrMediaNotFound))

	_, err = r.Resolve(context.Background(), Refs{SlotBody: {t.TempDir()}})
	assert.True(t, errors.Is(err, apperr.ErrMediaNotFound), "directories are not media")
}

func TestResolve_RemoteIsCached(t *testing.T) {
	f := &countingFetcher{data: pngBytes}
	r := newTestResolver(t, f)
	refs := Refs{SlotBody: {"https://cdn.example.com/a.png"}}

	first, err := r.Resolve(context.Background(), refs)
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	assert.Equal(t, KindImage, first.Items[0].Kind)
	assert.Equal(t, ".png", filepath.Ext(first.Items[0].Path))
	assert.Equal(t, "https://cdn.example.com/a.png", first.Items[0].Origin)
	assert.FileExists(t, first.Items[0].Path)

	second, err := r.Resolve(context.Background(), refs)
	require.NoError(t, err)
	assert.Equal(t, first.Paths(), second.Paths())
	assert.EqualValues(t, 1, f.calls.Load())

	first.Release()
	second.Release()
	assert.Zero(t, r.Pinned())
	assert.FileExists(t, first.Items[0].Path, "released files stay cached")

	require.NoError(t, r.Close())
	assert.NoFileExists(t, first.Items[0].Path)
}

func remoteRefs(task, n int) Refs {
	refs := Refs{}
	for i := 0; i < n; i++ {
		refs.Add(SlotBody, fmt.Sprintf("https://cdn.example.com/%d/%d.png", task, i))
	}
	return refs
}

func TestResolve_QueuedDownloadsSurviveEviction(t *testing.T) {
	media := config.Default().Media
	r, err := NewResolver(&countingFetcher{data: pngBytes}, Options{
		TempDir:   t.TempDir(),
		Limits:    DefaultLimits,
		CacheSize: media.CacheSize,
		CacheTTL:  media.CacheTTL,
	}, zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	// more queued tasks than the cache holds, none of them attached yet
	var queued []*Resolution
	for task := 0; task < 8; task++ {
		res, err := r.Resolve(context.Background(), remoteRefs(task, 9))
		require.NoError(t, err)
		queued = append(queued, res)
	}
	for _, res := range queued {
		for _, p := range res.Paths() {
			assert.FileExists(t, p)
		}
	}

	for _, res := range queued {
		res.Release()
	}
	assert.Zero(t, r.Pinned())
	entries, err := os.ReadDir(r.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, media.CacheSize, "evicted files are removed once released")
	assert.NoFileExists(t, queued[0].Items[0].Path)
}

func TestResolve_CacheSmallerThanOneNote(t *testing.T) {
	f := &countingFetcher{data: pngBytes}
	r, err := NewResolver(f, Options{TempDir: t.TempDir(), CacheSize: 2, CacheTTL: time.Minute}, zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	res, err := r.Resolve(context.Background(), remoteRefs(0, 9))
	require.NoError(t, err)
	require.Len(t, res.Items, 9)
	for _, p := range res.Paths() {
		assert.FileExists(t, p)
	}

	res.Release()
	res.Release()
	assert.NoFileExists(t, res.Items[0].Path)
	assert.FileExists(t, res.Items[8].Path)
}

func TestResolve_FailureReleasesEarlierDownloads(t *testing.T) {
	dir := t.TempDir()
	r, err := NewResolver(&countingFetcher{data: pngBytes}, Options{TempDir: dir, CacheSize: 8, CacheTTL: time.Minute}, zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	refs := remoteRefs(0, 2)
	refs.Add(SlotClosing, filepath.Join(dir, "missing.jpg"))
	_, err = r.Resolve(context.Background(), refs)
	require.Error(t, err)
	assert.Zero(t, r.Pinned())
}

func TestResolve_RemoteWrongContentType(t *testing.T) {
	r := newTestResolver(t, &countingFetcher{data: []byte("<html><body>login</body></html>")})
	_, err := r.Resolve(context.Background(), Refs{SlotBody: {"https://cdn.example.com/a.png"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrMediaFetch))
}

func TestResolve_FetchErrorIsClassified(t *testing.T) {
	r := newTestResolver(t, &countingFetcher{err: errors.New("connection reset")})
	_, err := r.Resolve(context.Background(), Refs{SlotCover: {"http://cdn.example.com/a.png"}})
	assert.Equal(t, apperr.KindMediaFetch, apperr.KindOf(err))
}

func TestResolve_RejectsImagesWithVideos(t *testing.T) {
	dir := t.TempDir()
	p := writeFiles(t, dir, "a.jpg", "v.mp4")
	f := &countingFetcher{}
	r := newTestResolver(t, f)

	_, err := r.Resolve(context.Background(), Refs{SlotBody: {p["a.jpg"]}, SlotVideo: {p["v.mp4"]}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = r.Resolve(context.Background(), Refs{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Zero(t, f.calls.Load())
}

func TestRefs_Validate(t *testing.T) {
	assert.NoError(t, Refs{SlotCover: {"c.jpg"}, SlotClosing: {"e.jpg"}}.Validate())
	assert.NoError(t, Refs{SlotVideo: {"v.mp4"}}.Validate())
	assert.Error(t, Refs{}.Validate())
	assert.Error(t, Refs{SlotSummary: {"s.jpg"}, SlotVideo: {"v.mp4"}}.Validate())
}

func TestRefs_UnmarshalJSON(t *testing.T) {
	var refs Refs
	require.NoError(t, json.Unmarshal([]byte(`{"Cover": ["c.jpg"], "cover-after": ["d.jpg"], "body": [" ", "b.jpg"]}`), &refs))
	assert.Equal(t, Refs{SlotCover: {"c.jpg"}, SlotCoverAfter: {"d.jpg"}, SlotBody: {"b.jpg"}}, refs)

	err := json.Unmarshal([]byte(`{"banner": ["x.jpg"]}`), &refs)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestBuildPlan_VideoLimit(t *testing.T) {
	plan := BuildPlan(Refs{SlotVideo: {"a.mp4", "b.mp4"}}, DefaultLimits)
	require.Len(t, plan.Entries, 1)
	assert.True(t, plan.Video())
	assert.Equal(t, "a.mp4", plan.Entries[0].Ref)
	assert.Equal(t, 1, plan.Truncated)
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://x.example/a.png"))
	assert.True(t, IsRemote("HTTP://x.example/a.png"))
	assert.False(t, IsRemote("/tmp/a.png"))
	assert.False(t, IsRemote("file:///tmp/a.png"))
	assert.False(t, IsRemote("C:\\media\\a.png"))
}

func TestHTTPFetcher_RetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(config.MediaConfig{FetchAttempts: 3, FetchBackoff: time.Millisecond, FetchTimeout: 5 * time.Second})
	data, ct, err := f.Get(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
	assert.Equal(t, "image/png", ct)
	assert.EqualValues(t, 3, hits.Load())
}

func TestHTTPFetcher_GivesUp(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(config.MediaConfig{FetchAttempts: 2, FetchBackoff: time.Millisecond, FetchTimeout: 5 * time.Second})
	_, _, err := f.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrMediaFetch))
	assert.EqualValues(t, 2, hits.Load())
}

func TestHTTPFetcher_NotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(config.MediaConfig{FetchAttempts: 5, FetchBackoff: time.Millisecond, FetchTimeout: 5 * time.Second})
	_, _, err := f.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.EqualValues(t, 1, hits.Load())
}

func TestHTTPFetcher_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(config.MediaConfig{FetchAttempts: 3, FetchBackoff: time.Millisecond, FetchTimeout: 5 * time.Second, MaxBytes: 16})
	_, _, err := f.Get(context.Background(), srv.URL)
	assert.Error(t, err)
}
