package tasks

import (
	"net/url"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/copyleftdev/postscry/internal/apperr"
	"github.com/copyleftdev/postscry/internal/browser"
	"github.com/copyleftdev/postscry/internal/content"
	"github.com/copyleftdev/postscry/internal/mediaref"
	"github.com/copyleftdev/postscry/internal/topics"
	"github.com/copyleftdev/postscry/internal/taskstypes"
)

// record is one registry entry. Readers load the snapshot without locking;
// writers swap in a modified copy.
type record struct {
	snap  atomic.Pointer[taskstypes.Task]
	lease atomic.Pointer[browser.Lease]
}

func newRecord(t *taskstypes.Task) *record {
	r := &record{}
	r.snap.Store(t)
	return r
}

func (r *record) load() *taskstypes.Task { return r.snap.Load() }

// transition applies fn to a copy of the current snapshot and publishes it.
// Terminal snapshots are never replaced, and fn may refuse by returning
// false. Reports whether the copy was published.
func (r *record) transition(fn func(t *taskstypes.Task) bool) bool {
	for {
		cur := r.snap.Load()
		if cur.Status.Terminal() {
			return false
		}
		next := *cur
		if !fn(&next) {
			return false
		}
		next.UpdatedAt = time.Now()
		if r.snap.CompareAndSwap(cur, &next) {
			return true
		}
	}
}

func (r *record) progress(stage string, percent int) {
	r.transition(func(t *taskstypes.Task) bool {
		t.Stage = stage
		if percent > t.Progress {
			t.Progress = percent
		}
		return true
	})
}

// validate runs the checks Submit performs synchronously: content, lengths,
// callback URL and the presence of exactly one kind of media. It returns the
// trimmed content.
func validate(p taskstypes.Params, opts Options) (string, error) {
	text := strings.TrimSpace(p.Content)
	if text == "" {
		return "", apperr.New(apperr.KindValidation, "content is required")
	}
	if opts.MaxContentRunes > 0 {
		if n := utf8.RuneCountInString(text); n > opts.MaxContentRunes {
			return "", apperr.New(apperr.KindValidation, "content is %d characters, the limit is %d", n, opts.MaxContentRunes)
		}
	}
	if opts.MaxTitleRunes > 0 {
		if n := utf8.RuneCountInString(strings.TrimSpace(p.Title)); n > opts.MaxTitleRunes {
			return "", apperr.New(apperr.KindValidation, "title is %d characters, the limit is %d", n, opts.MaxTitleRunes)
		}
	}
	if p.CallbackURL != "" {
		u, err := url.Parse(p.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", apperr.New(apperr.KindValidation, "callback_url must be an absolute http(s) URL")
		}
	}
	// Unparseable references are reported by the task itself as
	// InvalidInputFormat; here only missing or mixed media is rejected.
	if refs, err := mediaRefs(p); err == nil {
		if err := refs.Validate(); err != nil {
			return "", err
		}
	}
	return text, nil
}

// mediaRefs collects the slot map plus the loose images and videos fields.
// Loose images are body images and follow any explicit body refs.
func mediaRefs(p taskstypes.Params) (content.Refs, error) {
	refs := content.Refs{}
	for slot, list := range p.Media {
		refs.Add(slot, mediaref.FromSequence(list)...)
	}
	images, err := mediaref.Normalize(p.Images)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInputFormat, err, "images")
	}
	refs.Add(content.SlotBody, images...)
	videos, err := mediaref.Normalize(p.Videos)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInputFormat, err, "videos")
	}
	refs.Add(content.SlotVideo, videos...)
	return refs, nil
}

// DeriveTitle uses the first non-empty line of text, with tags removed, as a
// title of at most maxRunes runes.
func DeriveTitle(text string, maxRunes int) string {
	cleaned, _ := topics.Extract(text)
	var line string
	for _, l := range strings.Split(cleaned, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	if maxRunes <= 0 || utf8.RuneCountInString(line) <= maxRunes {
		return line
	}
	const ellipsis = "..."
	keep := maxRunes - len(ellipsis)
	if keep < 1 {
		return string([]rune(line)[:maxRunes])
	}
	return string([]rune(line)[:keep]) + ellipsis
}

// FromEntry converts a parsed JSON entry into submit parameters.
func FromEntry(e *content.Entry) taskstypes.Params {
	p := taskstypes.Params{
		Title:   e.Title,
		Content: e.Content,
		Media:   content.Refs{},
	}
	for slot, list := range e.Refs {
		p.Media.Add(slot, list...)
	}
	if len(e.Topics) > 0 {
		p.Topics = append([]string(nil), e.Topics...)
	}
	return p
}
