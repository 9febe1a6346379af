package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/copyleftdev/postscry/internal/apperr"
	"github.com/copyleftdev/postscry/internal/mediaref"
)

// Entry is one post described as a JSON object, the format content feeds use.
type Entry struct {
	Title   string   `json:"title,omitempty"`
	Content string   `json:"content"`
	Topics  []string `json:"topics,omitempty"`
	Refs    Refs     `json:"refs"`
}

// Keys accepted per field. Older Chinese-language feeds use pinyin
// field names.
var (
	slotKeys = map[Slot][]string{
		SlotCover:      {"cover", "fengmian"},
		SlotCoverAfter: {"cover_after", "fengmianhou"},
		SlotBody:       {"body", "neirongtu", "images"},
		SlotSummary:    {"summary", "zongjie"},
		SlotClosing:    {"closing", "jiewei"},
		SlotVideo:      {"video", "videos", "shipin"},
	}
	contentKeys = []string{"content", "wenan"}
	titleKeys   = []string{"title", "biaoti"}
	topicKeys   = []string{"topics", "tags", "huati"}
)

// ParseEntries decodes either a single entry object or an array of them.
// Malformed JSON is repaired once before giving up.
func ParseEntries(raw []byte) ([]*Entry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, apperr.New(apperr.KindValidation, "empty entry document")
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(string(raw))
		if rerr != nil {
			return nil, apperr.Wrap(apperr.KindValidation, err, "entry document is not valid JSON")
		}
		if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, err, "entry document is not valid JSON")
		}
	}

	var objects []map[string]any
	switch v := doc.(type) {
	case map[string]any:
		objects = []map[string]any{v}
	case []any:
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, apperr.New(apperr.KindValidation, "entry %d is %T, want object", i, item)
			}
			objects = append(objects, obj)
		}
	default:
		return nil, apperr.New(apperr.KindValidation, "entry document is %T, want object or array", doc)
	}

	entries := make([]*Entry, 0, len(objects))
	for i, obj := range objects {
		e, err := entryFromMap(obj)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func entryFromMap(obj map[string]any) (*Entry, error) {
	e := &Entry{Refs: Refs{}}
	e.Title = stringField(obj, titleKeys)
	e.Content = stringField(obj, contentKeys)

	for _, slot := range append(append([]Slot{}, ImageOrder...), SlotVideo) {
		for _, key := range slotKeys[slot] {
			v, ok := obj[key]
			if !ok {
				continue
			}
			refs, err := mediaref.Normalize(v)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", key, err)
			}
			e.Refs.Add(slot, refs...)
			break
		}
	}

	for _, key := range topicKeys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		topics, err := mediaref.Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		for _, t := range topics {
			if t = strings.TrimSpace(strings.TrimLeft(t, "#")); t != "" {
				e.Topics = append(e.Topics, t)
			}
		}
		break
	}
	return e, nil
}

func stringField(obj map[string]any, keys []string) string {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case string:
			return strings.TrimSpace(v)
		case nil:
			continue
		default:
			return strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return ""
}
