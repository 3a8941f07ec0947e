package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Notifier delivers one formatted message to the chat transport. Send
// failures are terminal for that message: there is no retry queue.
type Notifier interface {
	Send(text string) error
}

// TelegramClient posts messages to the Telegram bot API.
type TelegramClient struct {
	token   string
	chatID  string
	baseURL string
	http    *http.Client
	log     *logrus.Entry
}

// NewTelegramClient builds a client for the given bot token and chat.
func NewTelegramClient(token, chatID string, log *logrus.Entry) *TelegramClient {
	return &TelegramClient{
		token:   token,
		chatID:  chatID,
		baseURL: "https://api.telegram.org",
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// Probe verifies the bot token against the getMe endpoint.
func (c *TelegramClient) Probe() error {
	resp, err := c.http.Get(fmt.Sprintf("%s/bot%s/getMe", c.baseURL, c.token))
	if err != nil {
		return fmt.Errorf("telegram probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram probe: status %d", resp.StatusCode)
	}
	var body struct {
		OK     bool `json:"ok"`
		Result struct {
			FirstName string `json:"first_name"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("telegram probe: %w", err)
	}
	if !body.OK {
		return fmt.Errorf("telegram probe: API returned not ok")
	}
	c.log.Infof("telegram bot connected: %s", body.Result.FirstName)
	return nil
}

// Send posts one HTML-formatted message to the configured chat.
func (c *TelegramClient) Send(text string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id":                  c.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return err
	}

	resp, err := c.http.Post(
		fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token),
		"application/json",
		bytes.NewReader(payload),
	)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram send: status %d", resp.StatusCode)
	}
	return nil
}
