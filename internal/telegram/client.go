// ABOUTME: Minimal Telegram Bot API client over HTTP
// ABOUTME: Covers long polling, messaging, inline keyboards and file downloads

package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrFileTooLarge is returned when an inbound file exceeds the configured cap.
var ErrFileTooLarge = errors.New("file exceeds size limit")

// Update is one long-poll result entry.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// Message is an inbound or sent chat message.
type Message struct {
	MessageID    int64       `json:"message_id"`
	Chat         Chat        `json:"chat"`
	Text         string      `json:"text,omitempty"`
	Caption      string      `json:"caption,omitempty"`
	MediaGroupID string      `json:"media_group_id,omitempty"`
	Photo        []PhotoSize `json:"photo,omitempty"`
	Document     *Document   `json:"document,omitempty"`
}

type Chat struct {
	ID int64 `json:"id"`
}

// PhotoSize is one resolution variant of an inbound photo. Telegram sends the
// variants smallest first.
type PhotoSize struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size,omitempty"`
}

type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data,omitempty"`
	Message *Message `json:"message,omitempty"`
}

type BotCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
}

// InlineKeyboard is rows of buttons attached to a message.
type InlineKeyboard [][]InlineKeyboardButton

type inlineKeyboardMarkup struct {
	InlineKeyboard InlineKeyboard `json:"inline_keyboard"`
}

// SendOptions carries the optional knobs of SendMessage and EditMessageText.
type SendOptions struct {
	ParseMode string
	Keyboard  InlineKeyboard
}

// apiResponse is the Bot API envelope around every method result.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description,omitempty"`
}

// Client talks to the Telegram Bot API for one bot token.
type Client struct {
	baseURL      string
	token        string
	maxFileBytes int64
	client       *http.Client
}

// NewClient creates a Bot API client. maxFileBytes caps inbound file
// downloads; zero means no cap.
func NewClient(baseURL, token string, maxFileBytes int64) *Client {
	return &Client{
		baseURL:      baseURL,
		token:        token,
		maxFileBytes: maxFileBytes,
		client:       &http.Client{Timeout: 90 * time.Second},
	}
}

// GetUpdates long-polls for new updates after offset. The call blocks server
// side for up to timeout before returning an empty batch.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage posts text to a chat and returns the sent message id.
func (c *Client) SendMessage(ctx context.Context, chatID, text string, opts *SendOptions) (int64, error) {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	applyOptions(payload, opts)
	var sent Message
	if err := c.call(ctx, "sendMessage", payload, &sent); err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// SendPhoto posts a photo by URL with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, chatID, photoURL, caption string) error {
	payload := map[string]any{
		"chat_id": chatID,
		"photo":   photoURL,
	}
	if caption != "" {
		payload["caption"] = caption
	}
	return c.call(ctx, "sendPhoto", payload, nil)
}

// EditMessageText replaces the text (and keyboard) of a sent message.
func (c *Client) EditMessageText(ctx context.Context, chatID string, messageID int64, text string, opts *SendOptions) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	applyOptions(payload, opts)
	return c.call(ctx, "editMessageText", payload, nil)
}

// DeleteMessage removes a sent message.
func (c *Client) DeleteMessage(ctx context.Context, chatID string, messageID int64) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}
	return c.call(ctx, "deleteMessage", payload, nil)
}

// AnswerCallbackQuery acknowledges an inline keyboard press so the client
// stops showing a spinner.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID string) error {
	payload := map[string]any{"callback_query_id": callbackID}
	return c.call(ctx, "answerCallbackQuery", payload, nil)
}

// SetMyCommands publishes the bot command menu.
func (c *Client) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	payload := map[string]any{"commands": commands}
	return c.call(ctx, "setMyCommands", payload, nil)
}

type fileInfo struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// FetchFile resolves a file id to its storage path and downloads the bytes.
// The size cap is checked both against the reported size and the actual body.
func (c *Client) FetchFile(ctx context.Context, fileID string) ([]byte, error) {
	var info fileInfo
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &info); err != nil {
		return nil, err
	}
	if c.maxFileBytes > 0 && info.FileSize > c.maxFileBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, info.FileSize)
	}
	if info.FilePath == "" {
		return nil, fmt.Errorf("no file path for file %s", fileID)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, info.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating download request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading file: status %d", resp.StatusCode)
	}

	reader := io.Reader(resp.Body)
	if c.maxFileBytes > 0 {
		reader = io.LimitReader(reader, c.maxFileBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading file body: %w", err)
	}
	if c.maxFileBytes > 0 && int64(len(data)) > c.maxFileBytes {
		return nil, fmt.Errorf("%w: body over %d bytes", ErrFileTooLarge, c.maxFileBytes)
	}
	return data, nil
}

// call posts one Bot API method and decodes the result envelope.
func (c *Client) call(ctx context.Context, method string, payload map[string]any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !envelope.OK {
		if envelope.Description != "" {
			return fmt.Errorf("%s failed: %s", method, envelope.Description)
		}
		return fmt.Errorf("%s failed: status %d", method, resp.StatusCode)
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

func applyOptions(payload map[string]any, opts *SendOptions) {
	if opts == nil {
		return
	}
	if opts.ParseMode != "" {
		payload["parse_mode"] = opts.ParseMode
	}
	if opts.Keyboard != nil {
		payload["reply_markup"] = inlineKeyboardMarkup{InlineKeyboard: opts.Keyboard}
	}
}

// LargestPhoto picks the highest resolution variant of an inbound photo.
func LargestPhoto(sizes []PhotoSize) (PhotoSize, bool) {
	if len(sizes) == 0 {
		return PhotoSize{}, false
	}
	return sizes[len(sizes)-1], true
}
