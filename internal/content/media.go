// Package content resolves slot-tagged media references into an ordered list
// of local files ready to be attached to a post.
package content

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/copyleftdev/postscry/internal/apperr"
)

// Slot is the semantic position of a media item in a post.
type Slot string

const (
	SlotCover      Slot = "cover"
	SlotCoverAfter Slot = "cover_after"
	SlotBody       Slot = "body"
	SlotSummary    Slot = "summary"
	SlotClosing    Slot = "closing"
	SlotVideo      Slot = "video"
)

// ImageOrder is the order image slots appear in a post.
var ImageOrder = []Slot{SlotCover, SlotCoverAfter, SlotBody, SlotSummary, SlotClosing}

// ParseSlot accepts the canonical names and the hyphenated cover-after form.
func ParseSlot(s string) (Slot, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cover":
		return SlotCover, nil
	case "cover_after", "cover-after":
		return SlotCoverAfter, nil
	case "body", "":
		return SlotBody, nil
	case "summary":
		return SlotSummary, nil
	case "closing":
		return SlotClosing, nil
	case "video":
		return SlotVideo, nil
	default:
		return "", fmt.Errorf("unknown media slot %q", s)
	}
}

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Item is one resolved media file.
type Item struct {
	Path   string `json:"path"`
	Slot   Slot   `json:"slot"`
	Kind   Kind   `json:"kind"`
	Origin string `json:"origin"` // reference as supplied by the caller
}

// Refs maps a slot to its normalized references, in caller order.
type Refs map[Slot][]string

// Add appends refs to slot, skipping empty strings.
func (r Refs) Add(slot Slot, refs ...string) {
	for _, ref := range refs {
		if ref = strings.TrimSpace(ref); ref != "" {
			r[slot] = append(r[slot], ref)
		}
	}
}

// UnmarshalJSON accepts slot names in any case and the cover-after spelling.
// Unknown slots are rejected.
func (r *Refs) UnmarshalJSON(data []byte) error {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Refs, len(raw))
	for name, list := range raw {
		slot, err := ParseSlot(name)
		if err != nil {
			return apperr.Wrap(apperr.KindValidation, err, "media")
		}
		out.Add(slot, list...)
	}
	*r = out
	return nil
}

// Count returns the number of references across all slots.
func (r Refs) Count() int {
	n := 0
	for _, refs := range r {
		n += len(refs)
	}
	return n
}

func (r Refs) images() int {
	n := 0
	for _, slot := range ImageOrder {
		n += len(r[slot])
	}
	return n
}

// Validate checks that refs describe one kind of note: at least one image,
// or videos alone.
func (r Refs) Validate() error {
	images, videos := r.images(), len(r[SlotVideo])
	switch {
	case images == 0 && videos == 0:
		return apperr.New(apperr.KindValidation, "no media supplied: a note needs at least one image or a video")
	case images > 0 && videos > 0:
		return apperr.New(apperr.KindValidation, "images and videos cannot be published in the same note")
	}
	return nil
}

// Planned is a reference placed at its final position, before any I/O.
type Planned struct {
	Slot Slot   `json:"slot"`
	Ref  string `json:"ref"`
}

// Plan is the ordered, capped list of references a Resolve call would fetch.
type Plan struct {
	Entries   []Planned `json:"entries"`
	Warnings  []string  `json:"warnings,omitempty"`
	Truncated int       `json:"truncated"`
}

// Video reports whether the plan publishes a video note.
func (p *Plan) Video() bool {
	return len(p.Entries) > 0 && p.Entries[0].Slot == SlotVideo
}

// Resolution is the outcome of Resolve. Downloaded files stay on disk until
// Release is called, even if the cache evicts them meanwhile.
type Resolution struct {
	Items     []Item   `json:"items"`
	Warnings  []string `json:"warnings,omitempty"`
	Truncated int      `json:"truncated"`

	release []func()
}

// OnRelease registers fn to run on Release.
func (r *Resolution) OnRelease(fn func()) {
	r.release = append(r.release, fn)
}

// Release hands the files back to the resolver. It is safe to call on nil
// and more than once.
func (r *Resolution) Release() {
	if r == nil {
		return
	}
	fns := r.release
	r.release = nil
	for _, fn := range fns {
		fn()
	}
}

func (r *Resolution) HasVideo() bool {
	for _, it := range r.Items {
		if it.Kind == KindVideo {
			return true
		}
	}
	return false
}

// Paths returns the local paths in order.
func (r *Resolution) Paths() []string {
	out := make([]string, len(r.Items))
	for i, it := range r.Items {
		out[i] = it.Path
	}
	return out
}

// Limits caps what a single post may carry.
type Limits struct {
	MaxImages int
	MaxVideos int
}

// DefaultLimits matches the platform: 9 images or 1 video per post.
var DefaultLimits = Limits{MaxImages: 9, MaxVideos: 1}

// BuildPlan orders refs as cover, cover_after, body, summary, closing and
// applies the limits. Mixed image and video refs are rejected earlier by
// Refs.Validate. Overflow is truncated from the tail, never rejected.
func BuildPlan(refs Refs, limits Limits) *Plan {
	plan := &Plan{}

	var images []Planned
	for _, slot := range ImageOrder {
		for _, ref := range refs[slot] {
			images = append(images, Planned{Slot: slot, Ref: ref})
		}
	}
	videos := make([]Planned, 0, len(refs[SlotVideo]))
	for _, ref := range refs[SlotVideo] {
		videos = append(videos, Planned{Slot: SlotVideo, Ref: ref})
	}

	if limits.MaxImages > 0 && len(images) > limits.MaxImages {
		dropped := len(images) - limits.MaxImages
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("%d image(s) exceed the limit of %d and were truncated", dropped, limits.MaxImages))
		plan.Truncated += dropped
		images = images[:limits.MaxImages]
	}
	if limits.MaxVideos > 0 && len(videos) > limits.MaxVideos {
		dropped := len(videos) - limits.MaxVideos
		plan.Warnings = append(plan.Warnings,
			fmt.Sprintf("%d video(s) exceed the limit of %d and were truncated", dropped, limits.MaxVideos))
		plan.Truncated += dropped
		videos = videos[:limits.MaxVideos]
	}

	plan.Entries = append(images, videos...)
	return plan
}
