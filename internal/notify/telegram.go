package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// TelegramSender delivers alerts through the bot HTTP API.
type TelegramSender struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func NewTelegramSender(token string) *TelegramSender {
	return newTelegramSenderWithBaseURL("https://api.telegram.org", token)
}

func newTelegramSenderWithBaseURL(baseURL, token string) *TelegramSender {
	return &TelegramSender{
		baseURL: baseURL,
		token:   token,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *TelegramSender) Deliver(ctx context.Context, a Alert) error {
	if s.token == "" {
		return errors.New("telegram bot token not configured")
	}
	if a.To == "" {
		return errors.New("missing telegram chat id")
	}

	body, err := json.Marshal(map[string]any{
		"chat_id":    a.To,
		"text":       a.telegramText(),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return errors.Wrap(err, "marshal telegram body")
	}

	u := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram http %d", resp.StatusCode)
	}
	return nil
}
