package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/italolelis/fileloader/internal/loader"
	"github.com/italolelis/fileloader/internal/logctx"
)

// notifyTimeout bounds one webhook delivery.
const notifyTimeout = 10 * time.Second

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

// NewDiscordNotifier creates a notifier posting to webhookURL.
func NewDiscordNotifier(webhookURL string, client *http.Client) *DiscordNotifier {
	if client == nil {
		client = &http.Client{Timeout: notifyTimeout}
	}

	return &DiscordNotifier{WebhookURL: webhookURL, Client: client}
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return errors.New("webhook URL is not set")
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// FailureHook returns a loader failure hook that reports each rejected
// download through n. Delivery runs in the background and never delays the
// download's settlement.
func FailureHook(n Notifier) func(ctx context.Context, f *loader.Failure) {
	return func(ctx context.Context, f *loader.Failure) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)

		go func() {
			defer cancel()

			if err := n.Notify(ctx, FailureMessage(f)); err != nil {
				logctx.LoggerFromContext(ctx).Error("failed to send notification", "kind", f.Kind, "err", err)
			}
		}()
	}
}

// FailureMessage renders f for a chat message.
func FailureMessage(f *loader.Failure) string {
	msg := fmt.Sprintf("❌ Download failed for %s (%s)", f.URL, f.Kind)
	if f.Detail != "" {
		msg += ": " + f.Detail
	}

	return msg
}
