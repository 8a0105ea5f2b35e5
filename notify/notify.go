// ABOUTME: Webhook alert delivery for the operations channel
// ABOUTME: Posts structured card messages with exponential-backoff retries
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/liveport/crmsync/errs"
	"github.com/liveport/crmsync/retry"
)

// Alert severity levels.
const (
	SeverityError   = "ERROR"
	SeverityWarning = "WARNING"
	SeverityInfo    = "INFO"
)

// Alert is the structured payload handed to the alerting channel. Thresholds
// and delivery policy live with the channel, not with the sync run.
type Alert struct {
	Timestamp time.Time              `json:"timestamp"`
	Category  string                 `json:"category"`
	Severity  string                 `json:"severity"`
	ErrorType string                 `json:"error_type"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Notifier posts alert cards to a chat webhook. An empty URL disables
// delivery entirely; alerting is a collaborator, never a dependency of the
// sync itself.
type Notifier struct {
	WebhookURL string
	HTTPClient *http.Client
	Policy     retry.Policy
}

func NewNotifier(webhookURL string, timeout time.Duration) *Notifier {
	return &Notifier{
		WebhookURL: webhookURL,
		HTTPClient: &http.Client{Timeout: timeout},
		Policy:     retry.Exponential(3, 2*time.Second),
	}
}

// Send delivers one alert. Failures are logged but should never abort a run;
// callers are expected to ignore the returned error outside of tests.
func (n *Notifier) Send(ctx context.Context, alert Alert) error {
	if n == nil || n.WebhookURL == "" {
		return nil
	}

	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	card := buildCard(alert)
	if err := n.post(ctx, card); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"category":   alert.Category,
			"error_type": alert.ErrorType,
		}).Error("failed to deliver alert")
		return err
	}

	return nil
}

// Test sends a connection-test card so operators can verify the webhook.
func (n *Notifier) Test(ctx context.Context) error {
	if n == nil || n.WebhookURL == "" {
		return fmt.Errorf("no alert webhook configured")
	}

	card := map[string]interface{}{
		"text": "Test notification from the CRM sync monitoring system",
		"cards": []interface{}{
			map[string]interface{}{
				"header": map[string]interface{}{
					"title":    "Connection Test",
					"subtitle": "Monitoring system is working correctly",
				},
			},
		},
	}

	return n.post(ctx, card)
}

func buildCard(alert Alert) map[string]interface{} {
	widgets := []interface{}{
		keyValue("Timestamp", alert.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC")),
		keyValue("Category", alert.Category),
		keyValue("Error Type", alert.ErrorType),
		keyValue("Alert Level", alert.Severity),
		map[string]interface{}{
			"textParagraph": map[string]interface{}{
				"text": "<b>Message:</b><br>" + alert.Message,
			},
		},
	}

	sections := []interface{}{
		map[string]interface{}{"widgets": widgets},
	}

	if len(alert.Details) > 0 {
		detailWidgets := make([]interface{}, 0, len(alert.Details))
		for key, value := range alert.Details {
			detailWidgets = append(detailWidgets, keyValue(key, fmt.Sprintf("%v", value)))
		}
		sections = append(sections, map[string]interface{}{
			"header":  "Details",
			"widgets": detailWidgets,
		})
	}

	return map[string]interface{}{
		"text": fmt.Sprintf("CRM Sync Alert - %s", alert.ErrorType),
		"cards": []interface{}{
			map[string]interface{}{
				"header": map[string]interface{}{
					"title":    "CRM Sync Alert",
					"subtitle": fmt.Sprintf("%s - %s", alert.Category, alert.ErrorType),
				},
				"sections": sections,
			},
		},
	}
}

func keyValue(label, content string) map[string]interface{} {
	return map[string]interface{}{
		"keyValue": map[string]interface{}{
			"topLabel": label,
			"content":  content,
		},
	}
}

func (n *Notifier) post(ctx context.Context, card map[string]interface{}) error {
	body, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	return n.Policy.Do(ctx, "alert webhook", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.HTTPClient.Do(req)
		if err != nil {
			return &errs.TransientError{Op: "alert webhook", Err: err}
		}
		defer func() { _ = resp.Body.Close() }()

		// Webhook throttling is retried like any transient failure; the
		// payload is tiny and idempotent.
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &errs.TransientError{Op: "alert webhook", StatusCode: resp.StatusCode}
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
		}
		return nil
	})
}
