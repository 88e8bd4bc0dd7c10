// Package model holds gemchat's provider-agnostic domain types: the
// conversation record, the task enumeration, and the bubbletea messages
// exchanged between the backend and the UI.
//
// The model package deliberately has no knowledge of the stream client,
// the store adapter, or the UI. Everything here is plain data.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskType selects the assistant behavior requested for a prompt.
type TaskType string

const (
	TaskCode         TaskType = "code"
	TaskFixBug       TaskType = "fix_bug"
	TaskExplain      TaskType = "explain"
	TaskOptimizeCode TaskType = "optimize_code"
)

// Tasks lists all task types in display order.
var Tasks = []TaskType{TaskCode, TaskFixBug, TaskExplain, TaskOptimizeCode}

// DefaultTask is the selection for a fresh prompt.
const DefaultTask = TaskCode

// Label returns the human-readable name shown in the task selector and
// the history panel badge.
func (t TaskType) Label() string {
	switch t {
	case TaskCode:
		return "Write Code"
	case TaskFixBug:
		return "Fix Bug"
	case TaskExplain:
		return "Explain"
	case TaskOptimizeCode:
		return "Optimize Code"
	default:
		return string(t)
	}
}

// ParseTask validates a task identifier coming from configuration or
// from a persisted record.
func ParseTask(s string) (TaskType, error) {
	for _, t := range Tasks {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown task type: %q", s)
}

// ResponseStatus is the terminal state of a conversation's response.
type ResponseStatus string

const (
	StatusOK    ResponseStatus = "ok"
	StatusError ResponseStatus = "error"
)

// Response is the assistant's answer for one conversation. Content grows
// append-only while Status is ok; once Status flips to error the content
// is the error message and never changes again.
type Response struct {
	Status  ResponseStatus `json:"status"`
	Content string         `json:"content"`
}

// Conversation is one prompt/response exchange.
//
// A conversation starts life as a provisional record with a temporary id
// and a local timestamp. When the stream completes and the record is
// written to the history store, the id is rebound to the store-assigned
// key and the timestamp to the server-assigned write time. An errored
// conversation keeps its temporary id and never reaches the store.
type Conversation struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	Task      TaskType  `json:"task"`
	Response  Response  `json:"response"`
	Timestamp time.Time `json:"timestamp"`
	Warnings  []string  `json:"warnings,omitempty"`
}

// Persisted reports whether the record carries a store-assigned id.
func (c Conversation) Persisted() bool {
	return c.ID != "" && !IsTempID(c.ID)
}

const tempIDPrefix = "temp_"

// NewTempID returns a locally unique provisional id. The prefix marks the
// record as not yet persisted.
func NewTempID() string {
	return tempIDPrefix + uuid.New().String()
}

// IsTempID reports whether id is a provisional id from NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}
