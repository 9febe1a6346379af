// Package mcp renders task events as Model Context Protocol style messages
// and delivers them to caller supplied callback URLs.
package mcp

import (
	"time"
)

const MCPVersion = "2025-03-26"

type Message struct {
	MCPVersion string  `json:"mcp_version"`
	Context    Context `json:"context"`
	RequestID  string  `json:"request_id,omitempty"`
	TaskID     string  `json:"task_id,omitempty"`
}

type Context struct {
	Metadata Metadata `json:"metadata"`
	Actors   []Actor  `json:"actors,omitempty"`
	Content  Content  `json:"content"`
	ParentID string   `json:"parent_id,omitempty"`
	Schema   string   `json:"schema,omitempty"`
}

type Metadata struct {
	SourceURI string         `json:"source_uri,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Custom    map[string]any `json:"custom,omitempty"`
}

type Actor struct {
	ID     string         `json:"id"`
	Role   string         `json:"role"`
	Custom map[string]any `json:"custom,omitempty"`
}

type Content struct {
	MIMEType string         `json:"mime_type"`
	Data     any            `json:"data"`
	Encoding string         `json:"encoding,omitempty"`
	Custom   map[string]any `json:"custom,omitempty"`
}

// Schemas tag what Content.Data holds.
const (
	SchemaTaskStatus = "postscry.task.status"
	SchemaTaskResult = "postscry.task.result"
	SchemaTaskError  = "postscry.task.error"
)

func NewBaseMessage(taskID string) Message {
	return Message{
		MCPVersion: MCPVersion,
		TaskID:     taskID,
		Context: Context{
			Metadata: Metadata{
				Timestamp: time.Now().UTC(),
			},
			Actors: []Actor{
				{ID: "postscry-agent", Role: "publish_orchestrator"},
			},
		},
	}
}
