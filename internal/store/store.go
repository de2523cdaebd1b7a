// ABOUTME: Store interface and data types for chatrelay persistence
// ABOUTME: Defines Conversation, HistoryEntry and the tagged Content variant

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested conversation does not exist
var ErrNotFound = errors.New("not found")

// Role constants for history entries
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// InputMode is the per-conversation state for two-step command flows.
type InputMode int

const (
	// ModeNormal means ordinary turn handling
	ModeNormal InputMode = iota
	// ModeAwaitingContext means the next text message becomes the system prompt
	ModeAwaitingContext
	// ModeAwaitingPrompt means the next text message is an image-generation prompt
	ModeAwaitingPrompt
)

// String returns the mode name as stored in the database.
func (m InputMode) String() string {
	switch m {
	case ModeAwaitingContext:
		return "awaiting_context"
	case ModeAwaitingPrompt:
		return "awaiting_prompt"
	default:
		return "normal"
	}
}

// ParseInputMode converts a stored mode name back into an InputMode.
// Unknown values map to ModeNormal.
func ParseInputMode(s string) InputMode {
	switch s {
	case "awaiting_context":
		return ModeAwaitingContext
	case "awaiting_prompt":
		return ModeAwaitingPrompt
	default:
		return ModeNormal
	}
}

// Conversation represents a registered chat: its model choice, system prompt
// and the ephemeral input mode. A conversation must exist before any history
// is appended to it.
type Conversation struct {
	ChatID       string
	Model        string
	SystemPrompt string
	InputMode    InputMode
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HistoryEntry is a single immutable message within a conversation.
// Replay order is by creation timestamp ascending.
type HistoryEntry struct {
	ID        string
	ChatID    string
	Role      string
	Content   Content
	CreatedAt time.Time
}

// Store defines the interface for conversation and history persistence
type Store interface {
	// Conversations
	GetConversation(ctx context.Context, chatID string) (*Conversation, error)
	UpsertConversation(ctx context.Context, conv *Conversation) error
	SetModel(ctx context.Context, chatID, model string) error
	SetSystemPrompt(ctx context.Context, chatID, prompt string) error
	SetInputMode(ctx context.Context, chatID string, mode InputMode) error

	// History. AppendHistory writes all entries in one transaction:
	// either every entry lands or none does.
	AppendHistory(ctx context.Context, chatID string, entries []*HistoryEntry) error
	// ListRecentHistory returns at most limit of the newest entries,
	// ordered oldest-first within the returned window.
	ListRecentHistory(ctx context.Context, chatID string, limit int) ([]*HistoryEntry, error)
	ClearHistory(ctx context.Context, chatID string) error

	// Close releases any resources held by the store
	Close() error
}
