// ABOUTME: Tests for the OpenAI-compatible connector
// ABOUTME: Uses httptest servers to validate request shape and error mapping

package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/store"
)

func TestComplete_Success(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody completionRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hello back"}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("openai", srv.URL, "sk-test", nil)
	reply, err := c.Complete(context.Background(), "gpt-4.1-mini", []Message{
		{Role: store.RoleSystem, Content: store.Text("be nice")},
		{Role: store.RoleUser, Content: store.Text("hello")},
	})

	require.NoError(t, err)
	assert.Equal(t, "hello back", reply)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4.1-mini", gotBody.Model)
	require.Len(t, gotBody.Messages, 2)
	assert.Equal(t, store.RoleSystem, gotBody.Messages[0].Role)
}

func TestComplete_EmptyReplyIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": ""}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("openai", srv.URL, "sk", nil)
	_, err := c.Complete(context.Background(), "o3", []Message{{Role: store.RoleUser, Content: store.Text("hi")}})

	var backendErr *Error
	require.ErrorAs(t, err, &backendErr)
	assert.Contains(t, backendErr.Message, "empty reply")
}

func TestComplete_HTTPErrorMapsProviderMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limit exceeded"},
		})
	}))
	defer srv.Close()

	c := NewClient("groq", srv.URL, "sk", nil)
	_, err := c.Complete(context.Background(), "compound-beta", []Message{{Role: store.RoleUser, Content: store.Text("hi")}})

	var backendErr *Error
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "groq", backendErr.Provider)
	assert.Equal(t, http.StatusTooManyRequests, backendErr.Status)
	assert.Equal(t, "rate limit exceeded", backendErr.Message)
}

func TestComplete_ConnectionRefused(t *testing.T) {
	c := NewClient("openai", "http://127.0.0.1:1", "sk", nil)
	_, err := c.Complete(context.Background(), "gpt-4o", []Message{{Role: store.RoleUser, Content: store.Text("hi")}})

	var backendErr *Error
	require.ErrorAs(t, err, &backendErr)
	assert.Zero(t, backendErr.Status)
}

func TestGenerateImage(t *testing.T) {
	var gotBody imageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"url": "https://img.example/1.png", "revised_prompt": "a refined cat"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("openai", srv.URL, "sk", nil)
	img, err := c.GenerateImage(context.Background(), "a cat")

	require.NoError(t, err)
	assert.Equal(t, "https://img.example/1.png", img.URL)
	assert.Equal(t, "a refined cat", img.RevisedPrompt)
	assert.Equal(t, "dall-e-3", gotBody.Model)
	assert.Equal(t, "1024x1024", gotBody.Size)
	assert.Equal(t, 1, gotBody.N)
}
