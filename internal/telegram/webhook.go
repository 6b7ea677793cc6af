package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RegisterWebhook points Telegram at our front door. It talks to the Bot API
// over plain HTTP on purpose: the SDK client is constructed lazily inside
// the worker stream, and webhook registration must happen before the first
// update arrives.
func RegisterWebhook(ctx context.Context, apiBase, token, webhookURL string) error {
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	client := &http.Client{Timeout: 15 * time.Second}

	if err := callBotAPI(ctx, client, apiBase, token, "deleteWebhook", url.Values{
		"drop_pending_updates": {"true"},
	}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}

	if err := callBotAPI(ctx, client, apiBase, token, "setWebhook", url.Values{
		"url":             {webhookURL},
		"allowed_updates": {`["message","callback_query","pre_checkout_query"]`},
	}); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

func callBotAPI(ctx context.Context, client *http.Client, apiBase, token, method string, params url.Values) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", apiBase, token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var out struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !out.OK {
		return fmt.Errorf("%s rejected: %s", method, out.Description)
	}
	return nil
}
