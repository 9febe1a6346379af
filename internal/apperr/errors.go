// Package apperr classifies the failures a publish task can end with.
package apperr

import (
	"errors"
	"fmt"
)

// Kind names a failure class. The string form is what callers see in task
// results and API responses.
type Kind string

const (
	KindValidation         Kind = "ValidationError"
	KindInvalidInputFormat Kind = "InvalidInputFormat"
	KindMediaFetch         Kind = "MediaFetchError"
	KindMediaNotFound      Kind = "MediaNotFound"
	KindSessionBusy        Kind = "SessionBusy"
	KindSessionInit        Kind = "SessionInitError"
	KindCredential         Kind = "CredentialError"
	KindStage              Kind = "StageError"
	KindUploadTimeout      Kind = "UploadTimeout"
	KindTimeout            Kind = "Timeout"
	KindNotFound           Kind = "NotFound"
	KindNotReady           Kind = "NotReady"
	KindInternal           Kind = "Internal"
)

// Stage identifies the step of the in-browser publish sequence an error
// happened in. Empty for errors outside the stage executor.
type Stage string

const (
	StageOpen       Stage = "open"
	StageAttach     Stage = "attach"
	StageUploadWait Stage = "upload-wait"
	StageText       Stage = "text"
	StageTopic      Stage = "topic"
	StageSubmit     Stage = "submit"
	StageConfirm    Stage = "confirm"
)

// Error is the typed error carried through the orchestrator.
type Error struct {
	Kind    Kind
	Stage   Stage
	Message string
	Err     error
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Stage != "" {
		prefix = fmt.Sprintf("%s[%s]", e.Kind, e.Stage)
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	case e.Message != "":
		return prefix + ": " + e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	default:
		return prefix
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Stage == "" || t.Stage == e.Stage)
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrInvalidFormat = &Error{Kind: KindInvalidInputFormat}
	ErrMediaFetch    = &Error{Kind: KindMediaFetch}
	ErrMediaNotFound = &Error{Kind: KindMediaNotFound}
	ErrSessionBusy   = &Error{Kind: KindSessionBusy}
	ErrSessionInit   = &Error{Kind: KindSessionInit}
	ErrCredential    = &Error{Kind: KindCredential}
	ErrStage         = &Error{Kind: KindStage}
	ErrUploadTimeout = &Error{Kind: KindUploadTimeout}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrNotReady      = &Error{Kind: KindNotReady}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// StageFailed builds a StageError for the given stage.
func StageFailed(stage Stage, err error) *Error {
	return &Error{Kind: KindStage, Stage: stage, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// StageOf returns the stage tag of the first *Error in err's chain that has one.
func StageOf(err error) Stage {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Stage != "" {
			return e.Stage
		}
		err = e.Err
	}
	return ""
}
