package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Telegram sends messages through the Telegram Bot API.
type Telegram struct {
	client   *resty.Client
	endpoint string
}

// NewTelegram creates a Telegram channel for the given bot token.
// apiURL defaults to https://api.telegram.org.
func NewTelegram(apiURL, botToken string) *Telegram {
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	client := resty.New()
	client.SetTimeout(15 * time.Second)
	client.SetHeader("Content-Type", "application/json")

	return &Telegram{
		client:   client,
		endpoint: fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(apiURL, "/"), botToken),
	}
}

func (t *Telegram) Name() string { return "telegram" }

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Send posts subject and body as one message to chatID.
func (t *Telegram) Send(ctx context.Context, chatID, subject, body string) error {
	text := subject
	if body != "" {
		text = subject + "\n\n" + body
	}

	var result telegramResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(telegramMessage{ChatID: chatID, Text: text, DisableWebPagePreview: true}).
		SetResult(&result).
		SetError(&result).
		Post(t.endpoint)
	if err != nil {
		return fmt.Errorf("failed to call telegram API: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 || !result.OK {
		return fmt.Errorf("telegram API returned HTTP %d: %s", resp.StatusCode(), result.Description)
	}
	return nil
}
