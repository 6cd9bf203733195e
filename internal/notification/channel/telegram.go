// internal/notification/channel/telegram.go
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	commonhttp "tgminiapp-notifier/internal/common/http"
	"tgminiapp-notifier/internal/models"
)

type TelegramConfig struct {
	BotToken string
	BaseURL  string
	Timeout  time.Duration
}

// TelegramSender delivers the chatBot channel through the Bot API sendMessage call.
type TelegramSender struct {
	client  *commonhttp.Client
	baseURL string
	token   string
}

func NewTelegramSender(cfg TelegramConfig) *TelegramSender {
	return &TelegramSender{
		client:  commonhttp.NewClient(cfg.Timeout),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.BotToken,
	}
}

type inlineButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      string          `json:"chat_id"`
	Text        string          `json:"text"`
	ParseMode   string          `json:"parse_mode"`
	ReplyMarkup *inlineKeyboard `json:"reply_markup,omitempty"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (s *TelegramSender) Send(ctx context.Context, n *models.Notification) error {
	if n.Recipient.ExternalChatID == "" {
		return newSendError(models.ChannelChatBot, "recipient has no chat id")
	}

	req := sendMessageRequest{
		ChatID:    n.Recipient.ExternalChatID,
		Text:      renderHTML(n),
		ParseMode: "HTML",
	}
	if url, text, ok := actionButton(n); ok {
		req.ReplyMarkup = &inlineKeyboard{InlineKeyboard: [][]inlineButton{{{Text: text, URL: url}}}}
	}

	var resp sendMessageResponse
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	if err := s.client.PostJSON(ctx, endpoint, req, &resp); err != nil {
		var statusErr *commonhttp.StatusError
		if errors.As(err, &statusErr) {
			return newSendError(models.ChannelChatBot, "telegram API returned %d", statusErr.StatusCode)
		}
		// The token is part of the URL; keep it out of stored errors.
		return newSendError(models.ChannelChatBot, "telegram request failed: %s", strings.ReplaceAll(err.Error(), s.token, "***"))
	}
	if !resp.OK {
		return newSendError(models.ChannelChatBot, "telegram API rejected message: %s", resp.Description)
	}
	return nil
}
