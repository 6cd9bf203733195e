// internal/notification/channel/telegram_test.go
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tgminiapp-notifier/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func createTestNotification() *models.Notification {
	return &models.Notification{
		ID:        "n-1",
		Recipient: models.Recipient{UserID: "user-1", ExternalChatID: "100500"},
		Type:      models.TypeNewPodcast,
		Title:     "New <episode>",
		Content:   "Listen & enjoy",
		Channels:  models.Channels{ChatBot: true, Email: true, Push: true, InApp: true},
		Priority:  models.PriorityNormal,
		Status:    models.StatusSending,
	}
}

func createTestTelegram(t *testing.T, handler http.HandlerFunc) (*TelegramSender, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewTelegramSender(TelegramConfig{
		BotToken: "123:secret",
		BaseURL:  server.URL + "/",
		Timeout:  2 * time.Second,
	}), server
}

// ==========================
// TelegramSender Tests
// ==========================

func TestTelegramSender_SendsHTMLMessageWithButton(t *testing.T) {
	var got map[string]interface{}
	sender, _ := createTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot123:secret/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	})

	n := createTestNotification()
	n.Data = &models.Payload{ActionURL: "https://t.me/app/podcast/42", ButtonText: "Listen"}

	require.NoError(t, sender.Send(context.Background(), n))

	assert.Equal(t, "100500", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "<b>New &lt;episode&gt;</b>\n\nListen &amp; enjoy", got["text"])

	markup := got["reply_markup"].(map[string]interface{})
	rows := markup["inline_keyboard"].([]interface{})
	button := rows[0].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Listen", button["text"])
	assert.Equal(t, "https://t.me/app/podcast/42", button["url"])
}

func TestTelegramSender_Failures(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		mutate   func(n *models.Notification)
		contains string
	}{
		{
			name: "api rejects",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
			},
			contains: "chat not found",
		},
		{
			name: "non 2xx",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"ok":false,"description":"bot was blocked by the user"}`))
			},
			contains: "403",
		},
		{
			name: "missing chat id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				t.Error("no request expected")
			},
			mutate:   func(n *models.Notification) { n.Recipient.ExternalChatID = "" },
			contains: "no chat id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, _ := createTestTelegram(t, tt.handler)
			n := createTestNotification()
			if tt.mutate != nil {
				tt.mutate(n)
			}

			err := sender.Send(context.Background(), n)
			require.Error(t, err)

			var sendErr *SendError
			require.True(t, errors.As(err, &sendErr))
			assert.Equal(t, models.ChannelChatBot, sendErr.Channel)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestTelegramSender_TransportErrorHidesToken(t *testing.T) {
	sender := NewTelegramSender(TelegramConfig{
		BotToken: "123:secret",
		BaseURL:  "http://127.0.0.1:1",
		Timeout:  time.Second,
	})

	err := sender.Send(context.Background(), createTestNotification())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "123:secret")
}

// ==========================
// Rendering and InApp Tests
// ==========================

func TestRenderText_AppendsActionURL(t *testing.T) {
	n := createTestNotification()
	n.Data = &models.Payload{ActionURL: "https://example.com/x"}

	assert.Equal(t, "New <episode>\n\nListen & enjoy\n\nhttps://example.com/x", renderText(n))

	url, text, ok := actionButton(n)
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/x", url)
	assert.Equal(t, defaultButtonText, text)
}

func TestInAppSender(t *testing.T) {
	sender := NewInAppSender()
	assert.NoError(t, sender.Send(context.Background(), createTestNotification()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, sender.Send(ctx, createTestNotification()))
}
