package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Citation points at the document location a context chunk came from.
// Only the document id is guaranteed to be present.
type Citation struct {
	DocID    string  `json:"doc_id"`
	Filename string  `json:"filename,omitempty"`
	Page     *int    `json:"page,omitempty"`
	Section  *string `json:"section,omitempty"`
}

// ContextChunk is one retrieved passage grounding an answer. The server
// sends the full list in a single context frame; chunks are never merged
// incrementally.
type ContextChunk struct {
	Chunk    string   `json:"chunk"`
	Citation Citation `json:"citation"`
}

// Message is one finalized conversation entry. Messages are immutable once
// appended; the id is opaque and unique.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Contexts  []ContextChunk
	Timestamp time.Time
}

func newMessage(role Role, content string, contexts []ContextChunk) Message {
	return Message{
		ID:        fmt.Sprintf("%s-%s", role, uuid.NewString()),
		Role:      role,
		Content:   content,
		Contexts:  contexts,
		Timestamp: time.Now(),
	}
}

// Notifier receives transient user-facing notices, the CLI equivalent of
// the origin UI's toasts. Implementations must not block.
type Notifier interface {
	Success(msg string)
	Info(msg string)
	Warning(msg string)
	Error(msg string)
}

// NopNotifier discards all notices. Used by headless consumers such as the
// MCP server.
type NopNotifier struct{}

func (NopNotifier) Success(string) {}
func (NopNotifier) Info(string)    {}
func (NopNotifier) Warning(string) {}
func (NopNotifier) Error(string)   {}
