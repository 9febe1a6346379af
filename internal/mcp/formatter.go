package mcp

import (
	"encoding/json"

	"github.com/copyleftdev/postscry/internal/taskstypes"
)

func marshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// FormatStatus describes a task that is still queued or running.
func FormatStatus(view taskstypes.StatusView, sourceURI string) ([]byte, error) {
	msg := NewBaseMessage(view.ID.String())
	msg.Context.Schema = SchemaTaskStatus
	msg.Context.Metadata.SourceURI = sourceURI
	msg.Context.Metadata.Custom = map[string]any{
		"status":   string(view.Status),
		"stage":    view.Stage,
		"progress": view.Progress,
	}
	msg.Context.Content = Content{
		MIMEType: "application/json",
		Data:     view,
	}
	return marshalMessage(msg)
}

// FormatResult describes a SUCCEEDED task. The published URL becomes the
// source URI.
func FormatResult(task *taskstypes.Task) ([]byte, error) {
	msg := NewBaseMessage(task.ID.String())
	msg.Context.Schema = SchemaTaskResult
	if task.Result != nil {
		msg.Context.Metadata.SourceURI = task.Result.URL
	}
	msg.Context.Metadata.Custom = map[string]any{
		"status": string(task.Status),
	}
	msg.Context.Content = Content{
		MIMEType: "application/json",
		Data:     taskstypes.ResultView{ID: task.ID, Status: task.Status, Result: task.Result},
	}
	return marshalMessage(msg)
}

// FormatError describes a FAILED or TIMEOUT task.
func FormatError(task *taskstypes.Task) ([]byte, error) {
	msg := NewBaseMessage(task.ID.String())
	msg.Context.Schema = SchemaTaskError
	custom := map[string]any{"status": string(task.Status)}
	if task.Error != nil {
		custom["kind"] = string(task.Error.Kind)
		if task.Error.Stage != "" {
			custom["stage"] = string(task.Error.Stage)
		}
	}
	msg.Context.Metadata.Custom = custom
	msg.Context.Content = Content{
		MIMEType: "application/json",
		Data:     taskstypes.ResultView{ID: task.ID, Status: task.Status, Error: task.Error},
	}
	return marshalMessage(msg)
}

// FormatTask picks the message matching the task's state.
func FormatTask(task *taskstypes.Task) ([]byte, error) {
	switch {
	case !task.Status.Terminal():
		return FormatStatus(task.StatusView(), "")
	case task.Error != nil:
		return FormatError(task)
	default:
		return FormatResult(task)
	}
}
