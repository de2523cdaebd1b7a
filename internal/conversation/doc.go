// Package conversation implements the per-chat dialogue orchestrator.
//
// # Overview
//
// The conversation package sits between the Telegram transport and the model
// backends. It owns the turn lifecycle: assembling the request from stored
// history, resolving the right backend for the chat's model, persisting the
// exchange and delivering the reply.
//
// # Service
//
// The Service coordinates conversation operations:
//
//	svc := conversation.New(store, resolver, delivery, logger)
//
// Key operations:
//
//   - Register(ctx, chatID): Connect a chat, assigning the default model
//   - HandleContent(ctx, addr, content): Run one full dialogue turn
//   - SelectModel(ctx, chatID, modelID): Switch the chat to another model
//   - SetSystemPrompt / ClearSystemPrompt: Manage the chat's system prompt
//   - ClearHistory(ctx, chatID): Drop the stored exchange history
//   - TakeInputMode(ctx, chatID): Consume a pending input mode
//
// # Turn Lifecycle
//
// When content arrives for a registered chat:
//
//  1. Load the conversation row; unregistered chats are dropped silently
//  2. Build the request: system prompt, then the newest HistoryWindow
//     entries oldest-first, then the inbound content
//  3. Resolve the backend connector for the conversation's current model
//  4. On success, persist the user and assistant entries in one transaction
//  5. Split the reply at ReplyChunkLimit runes and deliver the chunks in order
//
// A backend failure delivers an error message to the chat and persists
// nothing: the turn never happened as far as the history is concerned.
//
// # Input Modes
//
// Some commands arm a one-shot input mode: the next plain text message is
// consumed as a system prompt or an image prompt instead of becoming a turn.
// Modes are persisted on the conversation row, so they survive restarts, and
// TakeInputMode atomically reads and resets them.
//
// # Model Resolution
//
// The conversation's model is read from storage on every turn and resolved
// through the Resolver. Two chats on different models never interfere, and a
// model switch takes effect on the next turn with no shared state.
package conversation
