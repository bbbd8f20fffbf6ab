package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leakscan/internal/config"
)

// WebhookNotifier posts events as JSON to a webhook URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a WebhookNotifier. A zero timeout defaults to 10s.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

// Notify implements Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	zap.L().Debug("notify: event sent",
		zap.String("component", "notify"),
		zap.String("kind", string(ev.Kind)),
	)
	return nil
}

// New builds the notifier for cfg. Events are always logged; a webhook is
// added when notify.webhook_url is set.
func New(cfg config.NotifyConfig) Notifier {
	if cfg.WebhookURL == "" {
		return LogNotifier{}
	}
	return Multi{
		LogNotifier{},
		NewWebhookNotifier(cfg.WebhookURL, time.Duration(cfg.TimeoutSecs)*time.Second),
	}
}
