// ABOUTME: Telegram-facing bot loop: long polling, command dispatch, callbacks
// ABOUTME: Translates inbound updates into orchestrator calls and group items

package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/chatrelay/chatrelay/internal/aggregate"
	"github.com/chatrelay/chatrelay/internal/backend"
	"github.com/chatrelay/chatrelay/internal/conversation"
	"github.com/chatrelay/chatrelay/internal/extract"
	"github.com/chatrelay/chatrelay/internal/store"
)

// SingleDocumentTextLimit caps the extracted text of a standalone document,
// in runes.
const SingleDocumentTextLimit = 40000

const singleDocTruncatedMarker = "\n... (document text truncated)"

// defaultPhotoPrompt accompanies an inbound photo that has no caption.
const defaultPhotoPrompt = "describe the image"

// pollRetryDelay is the pause after a failed getUpdates call.
const pollRetryDelay = 3 * time.Second

// API is the slice of the Bot API client the bot consumes.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
	SendMessage(ctx context.Context, chatID, text string, opts *SendOptions) (int64, error)
	SendPhoto(ctx context.Context, chatID, photoURL, caption string) error
	EditMessageText(ctx context.Context, chatID string, messageID int64, text string, opts *SendOptions) error
	DeleteMessage(ctx context.Context, chatID string, messageID int64) error
	AnswerCallbackQuery(ctx context.Context, callbackID string) error
	SetMyCommands(ctx context.Context, commands []BotCommand) error
	FetchFile(ctx context.Context, fileID string) ([]byte, error)
}

// Orchestrator is the slice of the conversation service the bot consumes.
type Orchestrator interface {
	Register(ctx context.Context, chatID string) (bool, error)
	SetSystemPrompt(ctx context.Context, chatID, prompt string) error
	ClearSystemPrompt(ctx context.Context, chatID string) error
	ClearHistory(ctx context.Context, chatID string) error
	SelectModel(ctx context.Context, chatID, modelID string) error
	SetInputMode(ctx context.Context, chatID string, mode store.InputMode) error
	TakeInputMode(ctx context.Context, chatID string) (store.InputMode, error)
	Info(ctx context.Context, chatID string) (*store.Conversation, error)
	HandleContent(ctx context.Context, addr conversation.Address, content store.Content) error
}

// Collector buffers media-group items for debounced aggregation.
type Collector interface {
	Add(item aggregate.Item)
}

// ImageGenerator renders an image from a text prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (*backend.GeneratedImage, error)
}

// Messenger adapts the Bot API client to outbound delivery: reply text for
// the conversation service and transient status messages for the aggregator.
type Messenger struct {
	api API
}

func NewMessenger(api API) *Messenger {
	return &Messenger{api: api}
}

func (m *Messenger) SendText(ctx context.Context, addr conversation.Address, text string) error {
	_, err := m.api.SendMessage(ctx, addr.ChatID, text, nil)
	return err
}

func (m *Messenger) Announce(ctx context.Context, chatID, text string) (int64, error) {
	return m.api.SendMessage(ctx, chatID, text, nil)
}

func (m *Messenger) Remove(ctx context.Context, chatID string, messageID int64) error {
	return m.api.DeleteMessage(ctx, chatID, messageID)
}

// Bot runs the Telegram side of the relay.
type Bot struct {
	api         API
	orch        Orchestrator
	groups      Collector
	images      ImageGenerator
	pollTimeout time.Duration
	logger      *slog.Logger
}

func NewBot(api API, orch Orchestrator, groups Collector, images ImageGenerator, pollTimeout time.Duration, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		api:         api,
		orch:        orch,
		groups:      groups,
		images:      images,
		pollTimeout: pollTimeout,
		logger:      logger.With("component", "telegram"),
	}
}

// Run long-polls for updates until the context is cancelled. Each update is
// handled on its own goroutine so a slow backend call never stalls the poll
// loop.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("bot loop started", "poll_timeout", b.pollTimeout)

	var offset int64
	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, err := b.api.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("poll failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollRetryDelay):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			upd := u
			go b.handleUpdate(ctx, upd)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, u Update) {
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *Message) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	switch {
	case msg.MediaGroupID != "":
		b.collectGroupItem(chatID, msg)
	case len(msg.Photo) > 0:
		b.handleSinglePhoto(ctx, chatID, msg)
	case msg.Document != nil:
		b.handleSingleDocument(ctx, chatID, msg)
	case strings.HasPrefix(msg.Text, "/"):
		b.handleCommand(ctx, chatID, msg.Text)
	case msg.Text != "":
		b.handleText(ctx, chatID, msg)
	}
}

// collectGroupItem feeds one media-group element to the aggregator. The
// group's caption rides on whichever item carries it.
func (b *Bot) collectGroupItem(chatID string, msg *Message) {
	item := aggregate.Item{
		GroupID:   msg.MediaGroupID,
		ChatID:    chatID,
		MessageID: msg.MessageID,
		Caption:   msg.Caption,
	}

	switch {
	case len(msg.Photo) > 0:
		photo, _ := LargestPhoto(msg.Photo)
		item.Kind = aggregate.KindPhoto
		item.FileID = photo.FileID
		item.FileName = "photo.jpg"
	case msg.Document != nil:
		item.Kind = aggregate.KindDocument
		item.FileID = msg.Document.FileID
		item.FileName = documentName(msg.Document)
	default:
		return
	}

	b.groups.Add(item)
}

func (b *Bot) handleSinglePhoto(ctx context.Context, chatID string, msg *Message) {
	photo, ok := LargestPhoto(msg.Photo)
	if !ok {
		return
	}
	data, err := b.api.FetchFile(ctx, photo.FileID)
	if err != nil {
		b.logger.Warn("photo download failed", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, fmt.Sprintf("Error: could not load the image: %v", err))
		return
	}

	prompt := msg.Caption
	if prompt == "" {
		prompt = defaultPhotoPrompt
	}
	content := store.Fragments([]store.Fragment{
		store.ImageFragment(extract.ImageDataURL(data, "photo.jpg")),
		store.TextFragment(prompt),
	})

	addr := conversation.Address{ChatID: chatID, MessageID: msg.MessageID}
	if err := b.orch.HandleContent(ctx, addr, content); err != nil {
		b.logger.Debug("photo turn failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleSingleDocument(ctx context.Context, chatID string, msg *Message) {
	name := documentName(msg.Document)

	data, err := b.api.FetchFile(ctx, msg.Document.FileID)
	if err != nil {
		b.logger.Warn("document download failed", "chat_id", chatID, "file", name, "error", err)
		b.reply(ctx, chatID, fmt.Sprintf("Error: could not load file %s: %v", name, err))
		return
	}
	text, err := extract.Text(data, name)
	if err != nil || text == "" {
		b.logger.Warn("document extraction failed", "chat_id", chatID, "file", name, "error", err)
		b.reply(ctx, chatID, fmt.Sprintf("Error: could not extract text from file %s.", name))
		return
	}
	text = extract.Truncate(text, SingleDocumentTextLimit, singleDocTruncatedMarker)

	combined := fmt.Sprintf("[Contents of file %s]:\n%s", name, text)
	if msg.Caption != "" {
		combined = msg.Caption + "\n" + combined
	}

	addr := conversation.Address{ChatID: chatID, MessageID: msg.MessageID}
	if err := b.orch.HandleContent(ctx, addr, store.Text(combined)); err != nil {
		b.logger.Debug("document turn failed", "chat_id", chatID, "error", err)
	}
}

// handleText routes a plain text message through the pending input mode
// before treating it as a conversation turn.
func (b *Bot) handleText(ctx context.Context, chatID string, msg *Message) {
	mode, err := b.orch.TakeInputMode(ctx, chatID)
	if err != nil {
		b.logger.Warn("input mode lookup failed", "chat_id", chatID, "error", err)
		return
	}

	switch mode {
	case store.ModeAwaitingContext:
		if err := b.orch.SetSystemPrompt(ctx, chatID, msg.Text); err != nil {
			b.logger.Warn("saving system prompt failed", "chat_id", chatID, "error", err)
			b.reply(ctx, chatID, "Error: could not save the context.")
			return
		}
		b.reply(ctx, chatID, "Context saved.")
	case store.ModeAwaitingPrompt:
		b.generateImage(ctx, chatID, msg.Text)
	default:
		addr := conversation.Address{ChatID: chatID, MessageID: msg.MessageID}
		if err := b.orch.HandleContent(ctx, addr, store.Text(msg.Text)); err != nil {
			b.logger.Debug("text turn failed", "chat_id", chatID, "error", err)
		}
	}
}

func (b *Bot) generateImage(ctx context.Context, chatID, prompt string) {
	statusID, err := b.api.SendMessage(ctx, chatID, "Generating image...", nil)
	if err != nil {
		b.logger.Warn("status message failed", "chat_id", chatID, "error", err)
	}

	img, err := b.images.GenerateImage(ctx, prompt)
	if err != nil {
		b.logger.Warn("image generation failed", "chat_id", chatID, "error", err)
		if statusID != 0 {
			_ = b.api.EditMessageText(ctx, chatID, statusID, fmt.Sprintf("Error: %v", err), nil)
		} else {
			b.reply(ctx, chatID, fmt.Sprintf("Error: %v", err))
		}
		return
	}

	if statusID != 0 {
		_ = b.api.DeleteMessage(ctx, chatID, statusID)
	}
	if err := b.api.SendPhoto(ctx, chatID, img.URL, img.RevisedPrompt); err != nil {
		b.logger.Warn("sending generated image failed", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, img.URL)
	}
}

func (b *Bot) handleCommand(ctx context.Context, chatID, text string) {
	cmd, _ := splitCommand(text)

	switch cmd {
	case "/start":
		created, err := b.orch.Register(ctx, chatID)
		if err != nil {
			b.logger.Error("registration failed", "chat_id", chatID, "error", err)
			b.reply(ctx, chatID, "Error: could not register this chat.")
			return
		}
		if created {
			b.reply(ctx, chatID, "Hello! This chat is now connected. Send a message to start, or /help for commands.")
		} else {
			b.reply(ctx, chatID, "This chat is already connected. Send /help for commands.")
		}

	case "/help":
		b.reply(ctx, chatID, helpText())

	case "/forget":
		if b.guard(ctx, chatID, b.orch.ClearHistory(ctx, chatID)) {
			b.reply(ctx, chatID, "Conversation history cleared.")
		}

	case "/context":
		if b.guard(ctx, chatID, b.orch.SetInputMode(ctx, chatID, store.ModeAwaitingContext)) {
			keyboard := InlineKeyboard{{{Text: "Cancel", CallbackData: "cancel_context"}}}
			b.send(ctx, chatID, "Send the system prompt for this chat as your next message.", &SendOptions{Keyboard: keyboard})
		}

	case "/reset_context":
		if b.guard(ctx, chatID, b.orch.ClearSystemPrompt(ctx, chatID)) {
			b.reply(ctx, chatID, "System prompt cleared.")
		}

	case "/model":
		b.send(ctx, chatID, "Choose a model category:", &SendOptions{Keyboard: categoryKeyboard()})

	case "/gen":
		if b.guard(ctx, chatID, b.orch.SetInputMode(ctx, chatID, store.ModeAwaitingPrompt)) {
			keyboard := InlineKeyboard{{{Text: "Cancel", CallbackData: "cancel_gen"}}}
			b.send(ctx, chatID, "Describe the image you want as your next message.", &SendOptions{Keyboard: keyboard})
		}

	case "/info":
		conv, err := b.orch.Info(ctx, chatID)
		if !b.guard(ctx, chatID, err) {
			return
		}
		prompt := conv.SystemPrompt
		if prompt == "" {
			prompt = "not set"
		}
		b.reply(ctx, chatID, fmt.Sprintf("Model: %s\nSystem prompt: %s", backend.ModelTitle(conv.Model), prompt))

	case "/update_commands":
		if err := b.api.SetMyCommands(ctx, commandMenu()); err != nil {
			b.logger.Warn("updating command menu failed", "error", err)
			b.reply(ctx, chatID, "Error: could not update the command menu.")
			return
		}
		b.reply(ctx, chatID, "Command menu updated.")

	default:
		b.reply(ctx, chatID, "Unknown command. Send /help for the list of commands.")
	}
}

// guard reports whether a service call succeeded, replying with a hint when
// the chat is not registered yet.
func (b *Bot) guard(ctx context.Context, chatID string, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, conversation.ErrNotRegistered) {
		b.reply(ctx, chatID, "This chat is not connected yet. Send /start first.")
		return false
	}
	b.logger.Error("command failed", "chat_id", chatID, "error", err)
	b.reply(ctx, chatID, fmt.Sprintf("Error: %v", err))
	return false
}

func (b *Bot) handleCallback(ctx context.Context, cb *CallbackQuery) {
	if err := b.api.AnswerCallbackQuery(ctx, cb.ID); err != nil {
		b.logger.Debug("callback ack failed", "callback_id", cb.ID, "error", err)
	}
	if cb.Message == nil {
		return
	}
	chatID := strconv.FormatInt(cb.Message.Chat.ID, 10)
	messageID := cb.Message.MessageID

	switch {
	case strings.HasPrefix(cb.Data, "cat:"):
		key := strings.TrimPrefix(cb.Data, "cat:")
		cat, ok := findCategory(key)
		if !ok {
			return
		}
		b.edit(ctx, chatID, messageID, fmt.Sprintf("%s:", cat.Title), &SendOptions{Keyboard: modelKeyboard(cat)})

	case strings.HasPrefix(cb.Data, "model:"):
		modelID := strings.TrimPrefix(cb.Data, "model:")
		if err := b.orch.SelectModel(ctx, chatID, modelID); err != nil {
			if errors.Is(err, conversation.ErrNotRegistered) {
				b.edit(ctx, chatID, messageID, "This chat is not connected yet. Send /start first.", nil)
				return
			}
			b.logger.Error("model selection failed", "chat_id", chatID, "model", modelID, "error", err)
			b.edit(ctx, chatID, messageID, fmt.Sprintf("Error: %v", err), nil)
			return
		}
		b.edit(ctx, chatID, messageID, fmt.Sprintf("Model set: %s", backend.ModelTitle(modelID)), nil)

	case cb.Data == "back_to_categories":
		b.edit(ctx, chatID, messageID, "Choose a model category:", &SendOptions{Keyboard: categoryKeyboard()})

	case cb.Data == "cancel_context", cb.Data == "cancel_gen":
		if err := b.orch.SetInputMode(ctx, chatID, store.ModeNormal); err != nil && !errors.Is(err, conversation.ErrNotRegistered) {
			b.logger.Warn("resetting input mode failed", "chat_id", chatID, "error", err)
		}
		b.edit(ctx, chatID, messageID, "Cancelled.", nil)
	}
}

func (b *Bot) reply(ctx context.Context, chatID, text string) {
	b.send(ctx, chatID, text, nil)
}

func (b *Bot) send(ctx context.Context, chatID, text string, opts *SendOptions) {
	if _, err := b.api.SendMessage(ctx, chatID, text, opts); err != nil {
		b.logger.Warn("send failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) edit(ctx context.Context, chatID string, messageID int64, text string, opts *SendOptions) {
	if err := b.api.EditMessageText(ctx, chatID, messageID, text, opts); err != nil {
		b.logger.Warn("edit failed", "chat_id", chatID, "error", err)
	}
}

// splitCommand strips the @botname suffix and separates any arguments.
func splitCommand(text string) (string, string) {
	cmd, args, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd, strings.TrimSpace(args)
}

func documentName(doc *Document) string {
	if doc.FileName != "" {
		return doc.FileName
	}
	return "document"
}

func findCategory(key string) (backend.Category, bool) {
	for _, cat := range backend.Catalog() {
		if cat.Key == key {
			return cat, true
		}
	}
	return backend.Category{}, false
}

func categoryKeyboard() InlineKeyboard {
	var rows InlineKeyboard
	for _, cat := range backend.Catalog() {
		rows = append(rows, []InlineKeyboardButton{
			{Text: cat.Title, CallbackData: "cat:" + cat.Key},
		})
	}
	return rows
}

func modelKeyboard(cat backend.Category) InlineKeyboard {
	var rows InlineKeyboard
	for _, m := range cat.Models {
		rows = append(rows, []InlineKeyboardButton{
			{Text: m.Title, CallbackData: "model:" + m.ID},
		})
	}
	rows = append(rows, []InlineKeyboardButton{
		{Text: "Back", CallbackData: "back_to_categories"},
	})
	return rows
}

func commandMenu() []BotCommand {
	return []BotCommand{
		{Command: "start", Description: "Connect this chat"},
		{Command: "model", Description: "Choose the model"},
		{Command: "context", Description: "Set the system prompt"},
		{Command: "reset_context", Description: "Clear the system prompt"},
		{Command: "forget", Description: "Clear the conversation history"},
		{Command: "gen", Description: "Generate an image from a prompt"},
		{Command: "info", Description: "Show the chat settings"},
		{Command: "help", Description: "List the commands"},
		{Command: "update_commands", Description: "Refresh this command menu"},
	}
}

func helpText() string {
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	for _, c := range commandMenu() {
		fmt.Fprintf(&sb, "/%s - %s\n", c.Command, c.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}
