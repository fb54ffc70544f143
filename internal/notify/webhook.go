package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"
)

const (
	// webhookTimeout bounds a single webhook delivery.
	webhookTimeout = 15 * time.Second

	// webhookMaxRedirects caps redirect following for webhook posts.
	webhookMaxRedirects = 3

	webhookContentType = "application/json; charset=utf-8"

	// defaultWebhookTemplate renders the summary message when no custom
	// template is configured.
	defaultWebhookTemplate = "{{.Subject}}: {{.Message}} ({{.BrokenCount}}/{{.TotalChecked}} broken)"
)

// ErrTooManyRedirects is returned when a webhook delivery exceeds the
// redirect cap.
var ErrTooManyRedirects = errors.New("webhook redirect limit exceeded")

// webhookPayload is the channel-shaped JSON body posted to webhooks.
type webhookPayload struct {
	DatasetType  string    `json:"dataset_type"`
	Severity     string    `json:"severity"`
	Subject      string    `json:"subject"`
	Message      string    `json:"message"`
	Context      string    `json:"context,omitempty"`
	TotalChecked int       `json:"total_checked"`
	BrokenCount  int       `json:"broken_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// newWebhookClient builds the bounded-timeout, capped-redirect client used
// for webhook deliveries.
func newWebhookClient() *http.Client {
	return &http.Client{
		Timeout: webhookTimeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= webhookMaxRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}
}

// renderMessage renders tmpl against the summary. An empty template falls
// back to the default; a broken template falls back to the raw message.
func renderMessage(tmpl string, summary Summary) string {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = defaultWebhookTemplate
	}

	parsed, err := template.New("webhook").Parse(tmpl)
	if err != nil {
		return summary.Message
	}

	var buf bytes.Buffer
	if err := parsed.Execute(&buf, summary); err != nil {
		return summary.Message
	}
	return buf.String()
}

// postWebhook serializes and delivers the payload. Any non-2xx response is
// a failure.
func (m *Manager) postWebhook(ctx context.Context, url string, payload webhookPayload) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", webhookContentType)

	resp, err := m.webhookClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, fmt.Errorf("webhook returned %s", resp.Status)
	}
	return resp.StatusCode, nil
}
