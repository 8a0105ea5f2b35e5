// ABOUTME: Run reporting: sync log lifecycle, outcome classification, health signals
// ABOUTME: Exposes derived signals as data for the alerting collaborator
package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/liveport/crmsync/db"
	"github.com/liveport/crmsync/models"
	"github.com/liveport/crmsync/notify"
)

// AlertSender is the delivery collaborator. The reporter decides what is
// alert-worthy; the sender owns formatting and transport.
type AlertSender interface {
	Send(ctx context.Context, alert notify.Alert) error
}

// Reporter owns sync_log entries for a run and turns counts into outcomes.
type Reporter struct {
	DB             *sql.DB
	Alerts         AlertSender
	ErrorThreshold float64 // percent of failed records that triggers an alert
}

// Start opens a running sync_log entry for a category.
func (r *Reporter) Start(category string) (*models.SyncLog, error) {
	return db.StartSyncLog(r.DB, category)
}

// Finalize closes an entry. runErr marks a run-level failure (fetch phase or
// store unreachable); otherwise the outcome is derived from the counts.
func (r *Reporter) Finalize(entry *models.SyncLog, processed, synced, failed int, runErr error) error {
	outcome := Classify(processed, synced, failed, runErr)

	message := ""
	if runErr != nil {
		message = runErr.Error()
	} else if failed > 0 {
		message = fmt.Sprintf("%d errors occurred", failed)
	}

	if err := db.FinalizeSyncLog(r.DB, entry.ID, outcome, processed, synced, failed, message); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"category":  entry.Category,
		"outcome":   outcome,
		"processed": processed,
		"synced":    synced,
		"failed":    failed,
	}).Info("sync category completed")

	return nil
}

// Classify maps counts to an outcome: success when nothing failed, partial
// when some records made it, error when a run-level failure stopped the
// category or every record failed.
func Classify(processed, synced, failed int, runErr error) string {
	if runErr != nil {
		return models.OutcomeError
	}
	if failed == 0 {
		return models.OutcomeSuccess
	}
	if synced > 0 {
		return models.OutcomePartial
	}
	return models.OutcomeError
}

// ReportRun emits the high-error-rate alert when the run's failure share
// crosses the threshold. Alert delivery failures never fail the run.
func (r *Reporter) ReportRun(ctx context.Context, processed, synced, failed int) {
	if processed == 0 || r.Alerts == nil {
		return
	}

	errorRate := float64(failed) / float64(processed) * 100
	if errorRate <= r.ErrorThreshold {
		return
	}

	_ = r.Alerts.Send(ctx, notify.Alert{
		Category:  "sync",
		Severity:  notify.SeverityWarning,
		ErrorType: "high error rate",
		Message:   fmt.Sprintf("Sync completed with high error rate: %.1f%%", errorRate),
		Details: map[string]interface{}{
			"total_processed": processed,
			"synced_count":    synced,
			"error_count":     failed,
			"error_rate":      fmt.Sprintf("%.1f%%", errorRate),
		},
	})
}

// HealthSignals are the derived run-health numbers the monitor and alerting
// collaborator consume. Data only; no notification side effects here.
type HealthSignals struct {
	UnsyncedCount     int     `json:"unsynced_count"`
	StaleCount        int     `json:"stale_count"`
	ErrorRate         float64 `json:"error_rate"`
	ConsecutiveErrors int     `json:"consecutive_errors"`
	RecentRuns        int     `json:"recent_runs"`
}

// ComputeHealthSignals derives signals from the mirror and the trailing
// sync_log window: rows never pushed, rows unsynced past staleAge, and the
// error share of runs within window.
func (r *Reporter) ComputeHealthSignals(window, staleAge time.Duration) (*HealthSignals, error) {
	now := time.Now()
	staleCutoff := now.Add(-staleAge)

	_, orgUnsynced, orgStale, err := db.CountOrganizations(r.DB, staleCutoff)
	if err != nil {
		return nil, err
	}
	_, personUnsynced, personStale, err := db.CountPersons(r.DB, staleCutoff)
	if err != nil {
		return nil, err
	}

	entries, err := db.RecentSyncLogs(r.DB, now.Add(-window))
	if err != nil {
		return nil, err
	}

	signals := &HealthSignals{
		UnsyncedCount: orgUnsynced + personUnsynced,
		StaleCount:    orgStale + personStale,
		RecentRuns:    len(entries),
	}

	errorCount := 0
	for _, entry := range entries {
		if entry.Outcome == models.OutcomeError {
			errorCount++
		}
	}
	if len(entries) > 0 {
		signals.ErrorRate = float64(errorCount) / float64(len(entries)) * 100
	}

	// Errors inside the most recent quarter of the window suggest the sync
	// is currently broken, not just historically flaky.
	recentCutoff := now.Add(-window / 4)
	for _, entry := range entries {
		if entry.Outcome == models.OutcomeError && entry.StartedAt.After(recentCutoff) {
			signals.ConsecutiveErrors++
		}
	}

	return signals, nil
}
