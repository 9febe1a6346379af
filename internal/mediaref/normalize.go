// Package mediaref turns loosely encoded "one or more files" parameters into
// an ordered list of paths or URIs.
//
// Callers are chat agents and JSON feeds, so the same logical list arrives as
// a comma string, a bracketed pseudo-array with mixed quoting, a JSON array or
// an actual slice. Normalize tries a fixed chain of parsers and takes the first
// one that yields at least one token.
package mediaref

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/copyleftdev/postscry/internal/apperr"
)

// Strategy parses a raw string into tokens. A nil result means "not applicable".
type Strategy func(raw string) []string

// Chain is the ordered list of string strategies used by Normalize.
var Chain = []Strategy{ParseJSON, ParseLenient, SplitDelimited}

// Normalize returns the trimmed, non-empty tokens of input in their original
// order. nil, "" and empty sequences mean "no media" and return an empty slice.
// Only input that has content but yields no usable token fails with
// InvalidInputFormat.
func Normalize(input any) ([]string, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case []string:
		return FromSequence(v), nil
	case []any:
		return FromSequence(stringify(v)), nil
	case string:
		return NormalizeString(v)
	case fmt.Stringer:
		return NormalizeString(v.String())
	default:
		return nil, apperr.New(apperr.KindInvalidInputFormat, "unsupported media reference type %T", input)
	}
}

// NormalizeString runs the string strategies in order.
func NormalizeString(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, strategy := range Chain {
		if tokens := strategy(raw); len(tokens) > 0 {
			return tokens, nil
		}
	}
	return nil, apperr.New(apperr.KindInvalidInputFormat, "no usable media reference in %q", raw)
}

// FromSequence trims each item and drops empties.
func FromSequence(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ParseJSON accepts strict JSON arrays of scalars, e.g. ["a.jpg","b.jpg"].
func ParseJSON(raw string) []string {
	if !strings.HasPrefix(raw, "[") {
		return nil
	}
	var items []any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	return FromSequence(stringify(items))
}

// ParseLenient repairs quoted pseudo-JSON such as ['a.jpg', "b.jpg"] before
// parsing it as an array. Unquoted lists are left to SplitDelimited.
func ParseLenient(raw string) []string {
	if !strings.HasPrefix(raw, "[") || !strings.HasSuffix(raw, "]") {
		return nil
	}
	if !strings.ContainsAny(raw, `"'`) {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil
	}
	tokens := ParseJSON(repaired)
	// A repaired token must appear verbatim in the input and must not have
	// swallowed a separator.
	for _, tok := range tokens {
		if strings.Contains(tok, ",") || !strings.Contains(raw, tok) {
			return nil
		}
	}
	return tokens
}

// SplitDelimited is the last resort: split on commas and strip brackets and
// quote characters around each token.
func SplitDelimited(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		tok := strings.Trim(strings.TrimSpace(part), `[]"'`+"`")
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func stringify(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case nil:
			continue
		case string:
			out = append(out, v)
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	return out
}
