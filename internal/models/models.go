package models

import "time"

// AgentType identifies which specialist handles a message.
type AgentType string

const (
	AgentSupport AgentType = "support"
	AgentOrder   AgentType = "order"
	AgentBilling AgentType = "billing"
)

// Valid reports whether t is one of the known specialist types.
func (t AgentType) Valid() bool {
	switch t {
	case AgentSupport, AgentOrder, AgentBilling:
		return true
	}
	return false
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Conversation groups the messages of a single user.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single turn in a conversation. Messages are immutable once
// created; creation-time order is the canonical conversation order.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Role           Role             `json:"role"`
	Content        string           `json:"content"`
	AgentType      AgentType        `json:"agent_type,omitempty"`
	ToolCalls      []ToolCallRecord `json:"tool_calls,omitempty"`
	DebugTrace     *DebugTrace      `json:"debug_trace,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ConversationSummary is the compacted form of a conversation's older turns.
// It stays valid only while MessageCount equals the number of messages older
// than the most recent summarization-threshold messages.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	Summary        string    `json:"summary"`
	MessageCount   int       `json:"message_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RouterResult is the intent classification outcome. It is never persisted
// on its own, only embedded in a message's debug trace.
type RouterResult struct {
	AgentType AgentType `json:"agentType"`
	Rationale string    `json:"rationale"`
}

// ToolCallRecord logs one tool invocation made while composing a response.
type ToolCallRecord struct {
	Tool string `json:"tool"`
	Args string `json:"args"`
}

// DebugTrace describes how a response was produced. It is persisted with
// the assistant message and returned in the terminal stream event.
type DebugTrace struct {
	SelectedAgent    AgentType `json:"selectedAgent"`
	Rationale        string    `json:"rationale"`
	ContextCompacted bool      `json:"contextCompacted"`
	ToolsCalled      []string  `json:"toolsCalled"`
}
