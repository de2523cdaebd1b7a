// Package store provides persistent storage for conversations and history.
//
// # Overview
//
// The store package defines the Store interface and its SQLite implementation.
// Storage is the registration record: a chat exists once its conversation row
// does, and everything else (model choice, system prompt, input mode, history)
// hangs off that row.
//
// # Store Interface
//
// Key operations:
//
//   - GetConversation / UpsertConversation: Conversation row lifecycle
//   - SetModel / SetSystemPrompt / SetInputMode: Field updates, ErrNotFound
//     when the chat is not registered
//   - AppendHistory: Persist a batch of entries in one transaction
//   - ListRecentHistory: The newest N entries, returned oldest-first
//   - ClearHistory: Drop history while keeping the conversation row
//
// # Content
//
// History entries carry a Content value: either plain text or a fragment
// sequence mixing text and inline images. Content marshals to the JSON shape
// the chat-completion backends accept, so stored entries replay into requests
// without translation. See content.go.
//
// # SQLite
//
// NewSQLiteStore opens (and creates) the database file:
//
//	s, err := store.NewSQLiteStore("/path/to/chatrelay.db")
//
// The implementation uses the pure-Go modernc.org/sqlite driver with WAL mode
// and foreign keys enabled. Schema creation is idempotent and runs on open.
package store
