package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/copyleftdev/postscry/internal/apperr"
	"github.com/copyleftdev/postscry/internal/metrics"
)

type Options struct {
	TempDir   string // empty creates a private directory removed on Close
	Limits    Limits
	CacheSize int
	CacheTTL  time.Duration
}

// Resolver turns references into local files. Downloads land in a scoped
// temp directory and are cached by URI. A download handed out in a
// Resolution is pinned until the Resolution is released; evicting a pinned
// file defers its deletion to the last release.
type Resolver struct {
	fetcher Fetcher
	limits  Limits
	dir     string
	ownsDir bool
	cache   *expirable.LRU[string, string]
	logger  *zap.Logger
	metrics *metrics.Metrics

	// mu guards pins and evicted. It is never held while calling into the
	// cache, whose eviction callback takes it.
	mu      sync.Mutex
	pins    map[string]int
	evicted map[string]string // path -> uri

	closeOnce sync.Once
}

func NewResolver(fetcher Fetcher, opts Options, logger *zap.Logger, m *metrics.Metrics) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := opts.TempDir
	owns := false
	if dir == "" {
		d, err := os.MkdirTemp("", "postscry-media-")
		if err != nil {
			return nil, fmt.Errorf("creating media temp dir: %w", err)
		}
		dir, owns = d, true
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media temp dir %s: %w", dir, err)
	}

	limits := opts.Limits
	if limits.MaxImages == 0 && limits.MaxVideos == 0 {
		limits = DefaultLimits
	}

	r := &Resolver{
		fetcher: fetcher,
		limits:  limits,
		dir:     dir,
		ownsDir: owns,
		logger:  logger,
		metrics: m,
		pins:    make(map[string]int),
		evicted: make(map[string]string),
	}
	r.cache = expirable.NewLRU[string, string](opts.CacheSize, r.evict, opts.CacheTTL)
	return r, nil
}

func (r *Resolver) evict(uri, path string) {
	r.mu.Lock()
	if r.pins[path] > 0 {
		r.evicted[path] = uri
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.remove(uri, path)
}

func (r *Resolver) remove(uri, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("Failed to remove cached media", zap.String("uri", uri), zap.Error(err))
	}
}

func (r *Resolver) pin(path string) {
	r.mu.Lock()
	r.pins[path]++
	r.mu.Unlock()
}

func (r *Resolver) unpin(path string) {
	r.mu.Lock()
	r.pins[path]--
	if r.pins[path] > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.pins, path)
	uri, gone := r.evicted[path]
	delete(r.evicted, path)
	r.mu.Unlock()
	if gone {
		r.remove(uri, path)
	}
}

// Pinned reports how many downloads are held by unreleased resolutions.
func (r *Resolver) Pinned() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pins)
}

// Dir is where downloads are stored.
func (r *Resolver) Dir() string { return r.dir }

// Plan orders and caps refs without touching the network or filesystem.
func (r *Resolver) Plan(refs Refs) *Plan {
	return BuildPlan(refs, r.limits)
}

// Resolve fetches or validates every planned reference in order. The first
// failure aborts the call; truncation is reported through warnings only.
// Callers must Release the returned Resolution once its files are attached.
func (r *Resolver) Resolve(ctx context.Context, refs Refs) (*Resolution, error) {
	if err := refs.Validate(); err != nil {
		return nil, err
	}
	plan := r.Plan(refs)
	res := &Resolution{
		Items:     make([]Item, 0, len(plan.Entries)),
		Warnings:  plan.Warnings,
		Truncated: plan.Truncated,
	}
	for _, w := range plan.Warnings {
		r.logger.Warn("Media plan adjusted", zap.String("warning", w))
	}

	for _, p := range plan.Entries {
		if err := ctx.Err(); err != nil {
			res.Release()
			return nil, err
		}
		var (
			item Item
			err  error
		)
		if IsRemote(p.Ref) {
			item, err = r.resolveRemote(ctx, p)
			if err == nil {
				path := item.Path
				res.OnRelease(func() { r.unpin(path) })
			}
		} else {
			item, err = r.resolveLocal(p)
		}
		if err != nil {
			res.Release()
			return nil, err
		}
		res.Items = append(res.Items, item)
	}
	return res, nil
}

// IsRemote reports whether ref uses a scheme the resolver downloads.
func IsRemote(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.Host != ""
	default:
		return false
	}
}

// resolveRemote returns a pinned item on success.
func (r *Resolver) resolveRemote(ctx context.Context, p Planned) (Item, error) {
	if path, ok := r.cache.Get(p.Ref); ok {
		// The file may be evicted between Get and pin; the Stat decides.
		r.pin(path)
		if _, err := os.Stat(path); err == nil {
			r.cache.Add(p.Ref, path) // renew TTL
			r.metrics.MediaFetch("cached")
			item, err := r.item(p, path)
			if err != nil {
				r.unpin(path)
			}
			return item, err
		}
		r.unpin(path)
		r.cache.Remove(p.Ref)
	}

	data, _, err := r.fetcher.Get(ctx, p.Ref)
	if err != nil {
		r.metrics.MediaFetch("error")
		if apperr.KindOf(err) == apperr.KindMediaFetch {
			return Item{}, err
		}
		return Item{}, apperr.Wrap(apperr.KindMediaFetch, err, "fetch %s", p.Ref)
	}

	// The declared content type is often wrong for CDN objects, so trust the bytes.
	mt := mimetype.Detect(data)
	kind, ok := kindOf(mt)
	if !ok {
		r.metrics.MediaFetch("error")
		return Item{}, apperr.New(apperr.KindMediaFetch, "fetch %s: unsupported content type %s", p.Ref, mt.String())
	}

	path := filepath.Join(r.dir, uuid.NewString()+mt.Extension())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		r.metrics.MediaFetch("error")
		return Item{}, apperr.Wrap(apperr.KindMediaFetch, err, "store %s", p.Ref)
	}
	r.pin(path)
	r.cache.Add(p.Ref, path)
	r.metrics.MediaFetch("ok")
	r.logger.Debug("Downloaded media",
		zap.String("uri", p.Ref), zap.String("path", path), zap.String("mime", mt.String()), zap.Int("bytes", len(data)))

	return Item{Path: path, Slot: p.Slot, Kind: kind, Origin: p.Ref}, nil
}

func (r *Resolver) resolveLocal(p Planned) (Item, error) {
	path := strings.TrimPrefix(p.Ref, "file://")
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Item{}, apperr.Wrap(apperr.KindMediaNotFound, err, "media %s", p.Ref)
	}
	return r.item(p, abs)
}

// item validates that path is a readable regular file and classifies it.
func (r *Resolver) item(p Planned, path string) (Item, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Item{}, apperr.Wrap(apperr.KindMediaNotFound, err, "media %s", p.Ref)
	}
	if !info.Mode().IsRegular() {
		return Item{}, apperr.New(apperr.KindMediaNotFound, "media %s is not a regular file", p.Ref)
	}
	f, err := os.Open(path)
	if err != nil {
		return Item{}, apperr.Wrap(apperr.KindMediaNotFound, err, "media %s is not readable", p.Ref)
	}
	mt, err := mimetype.DetectReader(f)
	f.Close()
	if err != nil {
		return Item{}, apperr.Wrap(apperr.KindMediaNotFound, err, "media %s is not readable", p.Ref)
	}

	kind, ok := kindOf(mt)
	if !ok {
		kind = KindImage
		if p.Slot == SlotVideo {
			kind = KindVideo
		}
	}
	return Item{Path: path, Slot: p.Slot, Kind: kind, Origin: p.Ref}, nil
}

func kindOf(mt *mimetype.MIME) (Kind, bool) {
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case strings.HasPrefix(m.String(), "image/"):
			return KindImage, true
		case strings.HasPrefix(m.String(), "video/"):
			return KindVideo, true
		}
	}
	return "", false
}

// Close drops the cache, deleting downloaded files that are not pinned, and
// removes the temp directory if the resolver created it.
func (r *Resolver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.cache.Purge()
		if r.ownsDir {
			err = os.RemoveAll(r.dir)
		}
	})
	return err
}
