// ABOUTME: Tests for the Bot API HTTP client
// ABOUTME: Verifies request shapes, envelope decoding and file size caps

package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUpdatesDecoding(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"ok":true,"result":[
			{"update_id":7,"message":{"message_id":1,"chat":{"id":42},"text":"hi"}},
			{"update_id":8,"callback_query":{"id":"cb1","data":"model:gpt-4o"}}
		]}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token123", 0)
	updates, err := client.GetUpdates(context.Background(), 5, 30*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "/bottoken123/getUpdates", gotPath)
	assert.Equal(t, float64(5), gotBody["offset"])
	assert.Equal(t, float64(30), gotBody["timeout"])

	require.Len(t, updates, 2)
	assert.Equal(t, int64(7), updates[0].UpdateID)
	assert.Equal(t, "hi", updates[0].Message.Text)
	assert.Equal(t, int64(42), updates[0].Message.Chat.ID)
	require.NotNil(t, updates[1].CallbackQuery)
	assert.Equal(t, "model:gpt-4o", updates[1].CallbackQuery.Data)
}

func TestSendMessageWithKeyboard(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":99,"chat":{"id":42}}}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token123", 0)
	keyboard := InlineKeyboard{{{Text: "Cancel", CallbackData: "cancel_gen"}}}
	id, err := client.SendMessage(context.Background(), "42", "pick one", &SendOptions{Keyboard: keyboard})
	require.NoError(t, err)
	assert.Equal(t, int64(99), id)

	assert.Equal(t, "42", gotBody["chat_id"])
	assert.Equal(t, "pick one", gotBody["text"])
	markup := gotBody["reply_markup"].(map[string]any)
	rows := markup["inline_keyboard"].([]any)
	require.Len(t, rows, 1)
	button := rows[0].([]any)[0].(map[string]any)
	assert.Equal(t, "Cancel", button["text"])
	assert.Equal(t, "cancel_gen", button["callback_data"])
}

func TestAPIErrorDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"ok":false,"description":"Bad Request: chat not found"}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token123", 0)
	_, err := client.SendMessage(context.Background(), "42", "hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestFetchFile(t *testing.T) {
	payload := []byte("file payload bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bottoken123/getFile":
			fmt.Fprintf(w, `{"ok":true,"result":{"file_id":"f1","file_size":%d,"file_path":"documents/file_1.txt"}}`, len(payload))
		case "/file/bottoken123/documents/file_1.txt":
			w.Write(payload)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token123", 1024)
	data, err := client.FetchFile(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestFetchFileRejectsOversized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"result":{"file_id":"f1","file_size":5000,"file_path":"documents/big.bin"}}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token123", 1024)
	_, err := client.FetchFile(context.Background(), "f1")
	require.ErrorIs(t, err, ErrFileTooLarge)
}

func TestFetchFileCapsActualBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bottoken123/getFile":
			// Reported size lies under the cap.
			fmt.Fprint(w, `{"ok":true,"result":{"file_id":"f1","file_size":10,"file_path":"documents/sneaky.bin"}}`)
		default:
			w.Write(make([]byte, 2048))
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token123", 1024)
	_, err := client.FetchFile(context.Background(), "f1")
	require.ErrorIs(t, err, ErrFileTooLarge)
}

func TestSetMyCommands(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token123", 0)
	err := client.SetMyCommands(context.Background(), []BotCommand{
		{Command: "start", Description: "Connect this chat"},
	})
	require.NoError(t, err)

	commands := gotBody["commands"].([]any)
	require.Len(t, commands, 1)
	assert.Equal(t, "start", commands[0].(map[string]any)["command"])
}

func TestLargestPhoto(t *testing.T) {
	_, ok := LargestPhoto(nil)
	assert.False(t, ok)

	photo, ok := LargestPhoto([]PhotoSize{
		{FileID: "small", FileSize: 100},
		{FileID: "big", FileSize: 9000},
	})
	require.True(t, ok)
	assert.Equal(t, "big", photo.FileID)
}
