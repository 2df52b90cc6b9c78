package domain

import (
	"strings"
	"time"
)

// Role constants for message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single turn in a conversation.
// Model is only set on assistant messages and records which backend produced the reply.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model,omitempty"`
}

// NewUserMessage builds a user message stamped with the current time.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now()}
}

// NewAssistantMessage builds an assistant message tagged with the producing backend.
func NewAssistantMessage(content, model string) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: time.Now(), Model: model}
}

// Validate reports whether the message may be stored in a conversation.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser:
		if m.Model != "" {
			return NewDomainError("Message.Validate", ErrInvalidInput, "model tag on user message")
		}
	case RoleAssistant:
	default:
		return NewDomainError("Message.Validate", ErrInvalidInput, "unsupported role "+m.Role)
	}
	if strings.TrimSpace(m.Content) == "" {
		return NewDomainError("Message.Validate", ErrInvalidInput, "empty "+m.Role+" message")
	}
	return nil
}

// ChatRequest is sent to an LLM provider.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// ChatResponse is returned from an LLM provider.
type ChatResponse struct {
	ID        string    `json:"id"`
	Model     string    `json:"model"`
	Message   Message   `json:"message"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Conversation holds an ordered sequence of messages.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy whose message slice does not alias the receiver's.
func (c Conversation) Clone() Conversation {
	cp := c
	cp.Messages = make([]Message, len(c.Messages))
	copy(cp.Messages, c.Messages)
	return cp
}

// ConversationSummary is a lightweight listing entry.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}
