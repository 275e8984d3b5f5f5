package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// ToolCall records an auxiliary capability the backend invoked while
// producing a reply, e.g. a knowledge-base lookup.
type ToolCall struct {
	Function    string `json:"function"`
	Query       string `json:"query"`
	ResultCount int    `json:"result_count"`
}

// Message is a single conversation turn. Agent messages may grow via
// incremental text updates while a streamed reply is in flight; user
// messages are immutable once appended.
type Message struct {
	ID        string
	Role      Role
	Text      string
	Timestamp time.Time
	ToolCalls []ToolCall
}

func newMessage(role Role, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
}
