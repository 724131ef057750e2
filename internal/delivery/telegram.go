package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"time"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

// Telegram sends messages through the Bot API.
type Telegram struct {
	Token   string
	BaseURL string
	HTTP    *http.Client
}

// SendMessage posts text to a chat. Text is escaped for HTML parse mode.
func (t *Telegram) SendMessage(ctx context.Context, chatID int64, text string) error {
	if t.Token == "" {
		return fmt.Errorf("missing telegram bot token")
	}
	httpClient := t.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL := t.BaseURL
	if baseURL == "" {
		baseURL = defaultTelegramBaseURL
	}

	body, err := json.Marshal(map[string]any{
		"chat_id":    chatID,
		"text":       html.EscapeString(text),
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/bot"+t.Token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	defer res.Body.Close()

	var resp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description,omitempty"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return fmt.Errorf("telegram sendMessage: decode: %w", err)
	}
	if !resp.OK {
		if resp.Description == "" {
			resp.Description = http.StatusText(res.StatusCode)
		}
		return fmt.Errorf("telegram sendMessage: %s", resp.Description)
	}
	return nil
}

// Notify sends to the chat encoded in channel.
func (t *Telegram) Notify(ctx context.Context, _ string, channel, text string) error {
	chatID, ok := TelegramChatID(channel)
	if !ok {
		return ErrNoRecipient
	}
	return t.SendMessage(ctx, chatID, text)
}

// Update is the subset of a Telegram webhook update this service reads.
type Update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}
