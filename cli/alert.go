// ABOUTME: The send-test-alert command
// ABOUTME: Verifies the alert webhook end to end
package cli

import (
	"context"
	"fmt"

	"github.com/liveport/crmsync/config"
	"github.com/liveport/crmsync/notify"
)

// TestAlertCommand posts a connection-test card to the configured webhook.
func TestAlertCommand(ctx context.Context, cfg *config.Config) error {
	notifier := notify.NewNotifier(cfg.AlertWebhookURL, cfg.RequestTimeout)

	if err := notifier.Test(ctx); err != nil {
		return fmt.Errorf("test alert failed: %w", err)
	}

	fmt.Println("Test alert delivered")
	return nil
}
