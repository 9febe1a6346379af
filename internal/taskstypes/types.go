package taskstypes

import (
	"time"

	"github.com/google/uuid"

	"github.com/copyleftdev/postscry/internal/apperr"
	"github.com/copyleftdev/postscry/internal/content"
	"github.com/copyleftdev/postscry/internal/publish"
)

// Task status constants
type TaskStatus string

const (
	StatusPending   TaskStatus = "PENDING"
	StatusRunning   TaskStatus = "RUNNING"
	StatusSucceeded TaskStatus = "SUCCEEDED"
	StatusFailed    TaskStatus = "FAILED"
	StatusTimeout   TaskStatus = "TIMEOUT"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusTimeout
}

// Progress stages outside the browser sequence. Browser stages use the
// apperr.Stage names.
const (
	StageQueued           = "queued"
	StageValidating       = "validating"
	StageResolvingMedia   = "resolving_media"
	StageAcquiringSession = "acquiring_session"
	StageDone             = "done"
)

// Params is one publish request as a caller sends it. Images, Videos and
// Topics accept any list encoding the path normalizer understands.
type Params struct {
	Title       string       `json:"title,omitempty"`
	Content     string       `json:"content"`
	Images      any          `json:"images,omitempty"`
	Videos      any          `json:"videos,omitempty"`
	Topics      any          `json:"topics,omitempty"`
	Media       content.Refs `json:"media,omitempty"`
	CallbackURL string       `json:"callback_url,omitempty"`
}

// TaskResult is the payload of a SUCCEEDED task.
type TaskResult struct {
	URL          string                `json:"url,omitempty"`
	Confirmation string                `json:"confirmation"`
	Title        string                `json:"title"`
	Topics       []string              `json:"topics,omitempty"`
	Media        []content.Item        `json:"media"`
	Warnings     []string              `json:"warnings,omitempty"`
	Truncated    int                   `json:"truncated,omitempty"`
	Stages       []publish.StageTiming `json:"stages,omitempty"`
	Uploads      []publish.Readiness   `json:"uploads,omitempty"`
}

// ErrorDescriptor is the error of a FAILED or TIMEOUT task.
type ErrorDescriptor struct {
	Kind     apperr.Kind  `json:"kind"`
	Stage    apperr.Stage `json:"stage,omitempty"`
	Message  string       `json:"message"`
	Warnings []string     `json:"warnings,omitempty"`
}

// Describe converts err into a descriptor. Untyped errors become Internal.
func Describe(err error) *ErrorDescriptor {
	if err == nil {
		return nil
	}
	return &ErrorDescriptor{Kind: apperr.KindOf(err), Stage: apperr.StageOf(err), Message: err.Error()}
}

// Task is an immutable snapshot of a task. The registry swaps whole
// snapshots, so a *Task handed out is never mutated afterwards.
type Task struct {
	ID                uuid.UUID        `json:"id"`
	Status            TaskStatus       `json:"status"`
	Params            Params           `json:"params"`
	Stage             string           `json:"stage"`
	Progress          int              `json:"progress"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	StartedAt         *time.Time       `json:"started_at,omitempty"`
	FinishedAt        *time.Time       `json:"finished_at,omitempty"`
	SessionAcquiredAt *time.Time       `json:"session_acquired_at,omitempty"`
	SessionReleasedAt *time.Time       `json:"session_released_at,omitempty"`
	Result            *TaskResult      `json:"result,omitempty"`
	Error             *ErrorDescriptor `json:"error,omitempty"`
}

// Consistent checks the result/error invariant: exactly one is set once
// terminal, neither before.
func (t *Task) Consistent() bool {
	if t.Status.Terminal() {
		return (t.Result == nil) != (t.Error == nil)
	}
	return t.Result == nil && t.Error == nil
}

// StatusView is what a status query returns.
type StatusView struct {
	ID                uuid.UUID  `json:"id"`
	Status            TaskStatus `json:"status"`
	Stage             string     `json:"stage"`
	Progress          int        `json:"progress"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	SessionAcquiredAt *time.Time `json:"session_acquired_at,omitempty"`
	SessionReleasedAt *time.Time `json:"session_released_at,omitempty"`
}

func (t *Task) StatusView() StatusView {
	return StatusView{
		ID:                t.ID,
		Status:            t.Status,
		Stage:             t.Stage,
		Progress:          t.Progress,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		StartedAt:         t.StartedAt,
		FinishedAt:        t.FinishedAt,
		SessionAcquiredAt: t.SessionAcquiredAt,
		SessionReleasedAt: t.SessionReleasedAt,
	}
}

// ResultView is what a result query returns for a terminal task.
type ResultView struct {
	ID     uuid.UUID        `json:"id"`
	Status TaskStatus       `json:"status"`
	Result *TaskResult      `json:"result,omitempty"`
	Error  *ErrorDescriptor `json:"error,omitempty"`
}

// Preview is a dry run of the preparation steps.
type Preview struct {
	Title     string        `json:"title"`
	Content   string        `json:"content"`
	Topics    []string      `json:"topics"`
	Plan      *content.Plan `json:"plan"`
	ImageNote bool          `json:"image_note"`
}
