// ABOUTME: ConversationService is the per-conversation orchestrator
// ABOUTME: Registration, model/prompt/mode state, turn handling and reply splitting

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/chatrelay/internal/backend"
	"github.com/chatrelay/chatrelay/internal/store"
)

// ErrNotRegistered is returned for operations on a chat that has never been
// registered. Always user-visible, never retried.
var ErrNotRegistered = errors.New("conversation is not registered")

// HistoryWindow is the number of recent entries supplied to a backend call.
const HistoryWindow = 20

// ReplyChunkLimit is the transport's maximum message length in runes.
const ReplyChunkLimit = 4096

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	GetConversation(ctx context.Context, chatID string) (*store.Conversation, error)
	UpsertConversation(ctx context.Context, conv *store.Conversation) error
	SetModel(ctx context.Context, chatID, model string) error
	SetSystemPrompt(ctx context.Context, chatID, prompt string) error
	SetInputMode(ctx context.Context, chatID string, mode store.InputMode) error
	AppendHistory(ctx context.Context, chatID string, entries []*store.HistoryEntry) error
	ListRecentHistory(ctx context.Context, chatID string, limit int) ([]*store.HistoryEntry, error)
	ClearHistory(ctx context.Context, chatID string) error
}

// Connector is one backend's completion operation.
type Connector interface {
	Name() string
	Complete(ctx context.Context, modelID string, messages []backend.Message) (string, error)
}

// Resolver maps a model identifier to the connector that serves it.
// Resolution never fails; unknown models route to the primary connector.
type Resolver interface {
	Resolve(modelID string) Connector
}

// RegistryResolver adapts a backend.Registry to the Resolver interface.
func RegistryResolver(r *backend.Registry) Resolver {
	return registryResolver{r}
}

type registryResolver struct {
	registry *backend.Registry
}

func (r registryResolver) Resolve(modelID string) Connector {
	return r.registry.Resolve(modelID)
}

// Address identifies where a reply goes: the chat, and the inbound message
// the reply answers.
type Address struct {
	ChatID    string
	MessageID int64
}

// Delivery accepts outbound text chunks addressed to a conversation.
type Delivery interface {
	SendText(ctx context.Context, addr Address, text string) error
}

// Service orchestrates conversations: it owns the input-mode state machine,
// builds the bounded history window, invokes the resolved backend and
// persists completed turns. The backend connector is resolved fresh from the
// conversation's stored model on every call; there is no process-wide active
// connector.
type Service struct {
	store    ConversationStore
	resolver Resolver
	delivery Delivery
	logger   *slog.Logger
}

// New creates a conversation service.
func New(st ConversationStore, resolver Resolver, delivery Delivery, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		resolver: resolver,
		delivery: delivery,
		logger:   logger.With("component", "conversation"),
	}
}

// Register creates the conversation if absent, with the default model and an
// empty system prompt. Returns false when the chat was already registered;
// that is a user-visible notice, not an error.
func (s *Service) Register(ctx context.Context, chatID string) (bool, error) {
	_, err := s.store.GetConversation(ctx, chatID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("looking up conversation: %w", err)
	}

	now := time.Now().UTC()
	conv := &store.Conversation{
		ChatID:    chatID,
		Model:     backend.DefaultModel,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.UpsertConversation(ctx, conv); err != nil {
		return false, fmt.Errorf("registering conversation: %w", err)
	}
	s.logger.Info("conversation registered", "chat_id", chatID)
	return true, nil
}

// SetSystemPrompt overwrites the system prompt. Fails with ErrNotRegistered
// for unknown chats.
func (s *Service) SetSystemPrompt(ctx context.Context, chatID, prompt string) error {
	if err := s.store.SetSystemPrompt(ctx, chatID, prompt); err != nil {
		return mapNotFound(err)
	}
	return nil
}

// ClearSystemPrompt resets the system prompt to empty.
func (s *Service) ClearSystemPrompt(ctx context.Context, chatID string) error {
	return s.SetSystemPrompt(ctx, chatID, "")
}

// ClearHistory deletes all history entries for the chat. The system prompt
// is untouched.
func (s *Service) ClearHistory(ctx context.Context, chatID string) error {
	if _, err := s.store.GetConversation(ctx, chatID); err != nil {
		return mapNotFound(err)
	}
	if err := s.store.ClearHistory(ctx, chatID); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	s.logger.Info("history cleared", "chat_id", chatID)
	return nil
}

// SelectModel updates the conversation's model identifier. The connector is
// resolved from this identifier on every turn, so the switch takes effect
// immediately and only for this conversation.
func (s *Service) SelectModel(ctx context.Context, chatID, modelID string) error {
	if err := s.store.SetModel(ctx, chatID, modelID); err != nil {
		return mapNotFound(err)
	}
	s.logger.Info("model selected",
		"chat_id", chatID,
		"model", modelID,
		"provider", s.resolver.Resolve(modelID).Name())
	return nil
}

// SetInputMode puts the conversation into a two-step flow state.
func (s *Service) SetInputMode(ctx context.Context, chatID string, mode store.InputMode) error {
	if err := s.store.SetInputMode(ctx, chatID, mode); err != nil {
		return mapNotFound(err)
	}
	return nil
}

// TakeInputMode returns the current mode and resets it to normal. The mode
// is consumed regardless of what the caller does with it. Unregistered
// chats report ModeNormal.
func (s *Service) TakeInputMode(ctx context.Context, chatID string) (store.InputMode, error) {
	conv, err := s.store.GetConversation(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return store.ModeNormal, nil
	}
	if err != nil {
		return store.ModeNormal, fmt.Errorf("looking up conversation: %w", err)
	}
	if conv.InputMode == store.ModeNormal {
		return store.ModeNormal, nil
	}
	if err := s.store.SetInputMode(ctx, chatID, store.ModeNormal); err != nil {
		return store.ModeNormal, fmt.Errorf("resetting input mode: %w", err)
	}
	return conv.InputMode, nil
}

// Info returns the conversation's current model and system prompt.
func (s *Service) Info(ctx context.Context, chatID string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, chatID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return conv, nil
}

// HandleContent runs one complete turn: build the bounded call history,
// invoke the resolved backend, persist the exchange and deliver the reply.
//
// Unregistered chats are silently dropped: no history is written and no
// backend is called. On backend failure a visible error notice is delivered
// and nothing is persisted for the turn, so the history never contains a
// dangling user entry without its answer.
func (s *Service) HandleContent(ctx context.Context, addr Address, content store.Content) error {
	conv, err := s.store.GetConversation(ctx, addr.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Debug("dropping message for unregistered chat", "chat_id", addr.ChatID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up conversation: %w", err)
	}

	var call []backend.Message
	if conv.SystemPrompt != "" {
		call = append(call, backend.Message{Role: store.RoleSystem, Content: store.Text(conv.SystemPrompt)})
	}

	recent, err := s.store.ListRecentHistory(ctx, addr.ChatID, HistoryWindow)
	if err != nil {
		return fmt.Errorf("loading history window: %w", err)
	}
	for _, entry := range recent {
		call = append(call, backend.Message{Role: entry.Role, Content: entry.Content})
	}
	call = append(call, backend.Message{Role: store.RoleUser, Content: content})

	connector := s.resolver.Resolve(conv.Model)
	s.logger.Debug("invoking backend",
		"chat_id", addr.ChatID,
		"model", conv.Model,
		"provider", connector.Name(),
		"call_messages", len(call))

	reply, err := connector.Complete(ctx, conv.Model, call)
	if err != nil {
		s.logger.Warn("backend call failed",
			"chat_id", addr.ChatID,
			"model", conv.Model,
			"provider", connector.Name(),
			"error", err)
		if sendErr := s.delivery.SendText(ctx, addr, fmt.Sprintf("Error: %v", err)); sendErr != nil {
			s.logger.Error("failed to deliver error notice", "chat_id", addr.ChatID, "error", sendErr)
		}
		return err
	}

	now := time.Now().UTC()
	entries := []*store.HistoryEntry{
		{ID: uuid.New().String(), ChatID: addr.ChatID, Role: store.RoleUser, Content: content, CreatedAt: now},
		{ID: uuid.New().String(), ChatID: addr.ChatID, Role: store.RoleAssistant, Content: store.Text(reply), CreatedAt: now},
	}
	if err := s.store.AppendHistory(ctx, addr.ChatID, entries); err != nil {
		return fmt.Errorf("persisting turn: %w", err)
	}

	for i, chunk := range SplitReply(reply) {
		if err := s.delivery.SendText(ctx, addr, chunk); err != nil {
			return fmt.Errorf("delivering reply chunk %d: %w", i, err)
		}
	}
	return nil
}

// SplitReply splits a reply into consecutive chunks of at most
// ReplyChunkLimit runes. No attempt is made to split on word boundaries.
func SplitReply(text string) []string {
	runes := []rune(text)
	if len(runes) <= ReplyChunkLimit {
		return []string{text}
	}
	var chunks []string
	for start := 0; start < len(runes); start += ReplyChunkLimit {
		end := start + ReplyChunkLimit
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func mapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotRegistered
	}
	return err
}
