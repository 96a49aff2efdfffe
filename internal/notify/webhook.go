package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookSender posts each message as JSON to a fixed URL.
type WebhookSender struct {
	URL    string
	Secret string
	Client *http.Client
}

func NewWebhookSender(url, secret string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookSender{URL: url, Secret: secret, Client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if msg.Kind != "" {
		req.Header.Set("X-Examline-Kind", msg.Kind)
	}
	if strings.TrimSpace(s.Secret) != "" {
		req.Header.Set("X-Examline-Secret", s.Secret)
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
