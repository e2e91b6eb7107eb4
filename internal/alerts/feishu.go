package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"okx-grid-bot/internal/config"
)

// Feishu posts text messages to a custom bot webhook.
type Feishu struct {
	url    string
	client *http.Client
}

func NewFeishu(cfg config.FeishuConfig) *Feishu {
	return newFeishu(cfg, defaultHTTPClient())
}

func newFeishu(cfg config.FeishuConfig, client *http.Client) *Feishu {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &Feishu{url: strings.TrimSpace(cfg.WebhookURL), client: client}
}

func (f *Feishu) Name() string { return "feishu" }

func (f *Feishu) Send(ctx context.Context, message string) error {
	if f.url == "" {
		return errors.New("feishu webhook_url is required")
	}
	if strings.TrimSpace(message) == "" {
		return errors.New("feishu message is empty")
	}
	payload := map[string]any{
		"msg_type": "text",
		"content":  map[string]string{"text": message},
	}
	raw, err := postJSON(ctx, f.client, f.url, payload)
	if err != nil {
		return fmt.Errorf("feishu send failed: %w", err)
	}
	// The webhook answers 200 with a non-zero code on rejection.
	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &result); err == nil && result.Code != 0 {
		return fmt.Errorf("feishu send failed: code %d: %s", result.Code, result.Msg)
	}
	return nil
}
