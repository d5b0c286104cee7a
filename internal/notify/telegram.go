package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// DefaultTelegramAPI is the public Bot API endpoint.
const DefaultTelegramAPI = "https://api.telegram.org"

// ChannelTelegram is the name the Telegram channel reports.
const ChannelTelegram = "telegram"

// Telegram sends human-readable messages to one or more chats.
type Telegram struct {
	apiURL  string
	token   string
	chatIDs []string
	device  Device
	client  *http.Client
}

// NewTelegram creates a Telegram channel. An empty apiURL selects the public API.
// client may be nil to use http.DefaultClient.
func NewTelegram(apiURL, token string, chatIDs []string, device Device, client *http.Client) *Telegram {
	if apiURL == "" {
		apiURL = DefaultTelegramAPI
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Telegram{
		apiURL:  strings.TrimRight(apiURL, "/"),
		token:   token,
		chatIDs: chatIDs,
		device:  device,
		client:  client,
	}
}

func (t *Telegram) Name() string { return ChannelTelegram }

// Send renders m and posts it to every chat. Readings are not sent.
func (t *Telegram) Send(ctx context.Context, m Message) error {
	var text string
	switch m.Kind {
	case KindCritical:
		text = FormatCritical(t.device, m.Text)
	case KindEvent:
		text = FormatEvent(t.device, m.Event)
	case KindTest:
		text = FormatTest(t.device, m.Text)
	}
	if text == "" {
		return nil
	}

	var errs []error
	for _, id := range t.chatIDs {
		if err := t.sendMessage(ctx, id, text); err != nil {
			errs = append(errs, fmt.Errorf("chat %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) sendMessage(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "Markdown"})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
		}
		return err
	}
	defer resp.Body.Close()

	var r apiResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &r)

	if resp.StatusCode != http.StatusOK || !r.OK {
		if r.Description != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, r.Description)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
