package notification

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"context"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"
)

var (
	_ contract.INotifier = (*LogNotifier)(nil)
	_ contract.INotifier = (*WebhookNotifier)(nil)
)

// LogNotifier is used when no webhook is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, target domain.Identity, preview, deepLink string) error {
	n.log.Info("Notification", "target", target, "preview", preview, "deep_link", deepLink)
	return nil
}

type webhookPayload struct {
	Target   domain.Identity `json:"target"`
	Preview  string          `json:"preview"`
	DeepLink string          `json:"deepLink"`
}

// WebhookNotifier posts one JSON document per notification to the email/SMS sender.
// Any non 2xx answer counts as a failed attempt.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

func NewWebhookNotifier(client *resty.Client, url string) *WebhookNotifier {
	return &WebhookNotifier{client: client, url: url}
}

func (n *WebhookNotifier) Notify(ctx context.Context, target domain.Identity, preview, deepLink string) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(webhookPayload{Target: target, Preview: preview, DeepLink: deepLink}).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("notify %s: %w", target, err)
	}
	if resp.IsError() {
		return fmt.Errorf("notify %s: webhook answered %s", target, resp.Status())
	}
	return nil
}
