// ABOUTME: OpenAI-compatible HTTP connector for chat completions and image generation
// ABOUTME: One Client per provider; all providers speak the same wire protocol

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chatrelay/chatrelay/internal/store"
)

// Message is one entry of the ordered call history sent to a backend.
// It carries the same role/content shape as a persisted history entry.
type Message struct {
	Role    string        `json:"role"`
	Content store.Content `json:"content"`
}

// Error is a backend failure surfaced verbatim to the user.
// Calls are never retried automatically.
type Error struct {
	Provider string
	Status   int
	Message  string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s backend error (HTTP %d): %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s backend error: %s", e.Provider, e.Message)
}

// Client talks to one OpenAI-compatible provider.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	models  map[string]bool
	client  *http.Client
}

// NewClient creates a connector for the named provider. models is the set of
// model identifiers this provider serves, used by the registry to resolve
// model selections.
func NewClient(name, baseURL, apiKey string, models []string) *Client {
	set := make(map[string]bool, len(models))
	for _, m := range models {
		set[m] = true
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		models:  set,
		client:  &http.Client{},
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// HasModel reports whether this provider serves the given model identifier.
func (c *Client) HasModel(modelID string) bool { return c.models[modelID] }

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the ordered message history to the provider and returns the
// reply text. A single blocking call with no retry.
func (c *Client) Complete(ctx context.Context, modelID string, messages []Message) (string, error) {
	var resp completionResponse
	err := c.postJSON(ctx, "/chat/completions", completionRequest{
		Model:    modelID,
		Messages: messages,
	}, &resp)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &Error{Provider: c.name, Message: "the model returned an empty reply; try another model or clear the history"}
	}
	return resp.Choices[0].Message.Content, nil
}

// GeneratedImage is the result of an image-generation call.
type GeneratedImage struct {
	URL           string `json:"url"`
	RevisedPrompt string `json:"revised_prompt"`
}

type imageRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size"`
	Quality string `json:"quality"`
}

type imageResponse struct {
	Data []GeneratedImage `json:"data"`
}

// GenerateImage produces one image for the prompt via /images/generations.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (*GeneratedImage, error) {
	var resp imageResponse
	err := c.postJSON(ctx, "/images/generations", imageRequest{
		Model:   "dall-e-3",
		Prompt:  prompt,
		N:       1,
		Size:    "1024x1024",
		Quality: "standard",
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Provider: c.name, Message: "no image returned"}
	}
	return &resp.Data[0], nil
}

// postJSON sends a JSON request and decodes a JSON response, mapping non-2xx
// statuses to *Error with the provider's error message when available.
func (c *Client) postJSON(ctx context.Context, path string, reqBody, respBody any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return &Error{Provider: c.name, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Provider: c.name, Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return &Error{Provider: c.name, Status: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(data, respBody); err != nil {
		return &Error{Provider: c.name, Status: resp.StatusCode, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	return nil
}
