// ABOUTME: The run-sync command
// ABOUTME: Wires config, store, and API clients into a reconciler run
package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/liveport/crmsync/config"
	"github.com/liveport/crmsync/db"
	"github.com/liveport/crmsync/dest"
	"github.com/liveport/crmsync/models"
	"github.com/liveport/crmsync/notify"
	"github.com/liveport/crmsync/retry"
	"github.com/liveport/crmsync/source"
	"github.com/liveport/crmsync/syncer"
)

// SyncCommand runs one full reconciliation. Returns nil only when the run
// finished with a success outcome; a second concurrent invocation no-ops.
func SyncCommand(ctx context.Context, database *sql.DB, cfg *config.Config) error {
	notifier := notify.NewNotifier(cfg.AlertWebhookURL, cfg.RequestTimeout)
	policy := retry.Fixed(cfg.RetryAttempts, cfg.RetryDelay)

	sourceClient := source.NewClient(cfg.SourceBaseURL, cfg.SourceAPIKey, cfg.RequestTimeout, policy)
	destClient := dest.NewClient(cfg.DestBaseURL, cfg.DestAPIKey, cfg.RequestTimeout, policy,
		cfg.RateLimitPerMinute, cfg.RateLimitCooldown)

	reconciler := &syncer.Reconciler{
		DB:     database,
		Source: sourceClient,
		Dest:   destClient,
		Reporter: &syncer.Reporter{
			DB:             database,
			Alerts:         notifier,
			ErrorThreshold: cfg.AlertErrorThreshold,
		},
		Filter:      source.LabelFilter(cfg.IncludeLabelSet(), cfg.ExcludeStatusSet()),
		CountryCode: cfg.DefaultCountryCode,
		BatchSize:   cfg.BatchSize,
		InboxName:   cfg.DestInboxName,
	}

	log.Info("starting CRM to support-platform sync")

	summary, err := reconciler.Run(ctx)
	if errors.Is(err, db.ErrRunActive) {
		log.Warn("another sync run is active, nothing to do")
		return nil
	}
	if err != nil {
		_ = notifier.Send(ctx, notify.Alert{
			Category:  "sync",
			Severity:  notify.SeverityError,
			ErrorType: "system error",
			Message:   fmt.Sprintf("Sync run failed: %v", err),
			Details:   map[string]interface{}{"error": err.Error()},
		})
		return fmt.Errorf("sync run failed: %w", err)
	}

	printSummary(summary)

	if summary.Outcome != models.OutcomeSuccess {
		return fmt.Errorf("sync finished with outcome %q", summary.Outcome)
	}
	return nil
}

func printSummary(summary *syncer.RunSummary) {
	for _, cat := range []syncer.CategorySummary{summary.Organizations, summary.Persons} {
		fmt.Printf("%s: processed %d, pushed %d, skipped %d, failed %d\n",
			cat.Category, cat.Processed, cat.Pushed, cat.Skipped, cat.Failed)
	}
	if summary.Assignments.Processed > 0 {
		fmt.Printf("inbox assignments: %d of %d new contacts assigned\n",
			summary.Assignments.Pushed, summary.Assignments.Processed)
	}
	fmt.Printf("outcome: %s (%s)\n", summary.Outcome, summary.CompletedAt.Sub(summary.StartedAt).Round(time.Millisecond))
}
