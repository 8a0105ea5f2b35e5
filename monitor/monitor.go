// ABOUTME: Health-check engine for the sync pipeline
// ABOUTME: Checks API connectivity, sync backlog, and source/mirror consistency
package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/liveport/crmsync/db"
	"github.com/liveport/crmsync/notify"
	"github.com/liveport/crmsync/syncer"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// SourceAPI is the connectivity surface the monitor needs from the CRM.
type SourceAPI interface {
	Ping(ctx context.Context) error
	CountOrganizations(ctx context.Context) (int, error)
}

// DestAPI is the connectivity surface for the support platform.
type DestAPI interface {
	Ping(ctx context.Context) error
	CountContacts(ctx context.Context) (int, error)
}

// Check is one health-check result.
type Check struct {
	Status string                 `json:"status"`
	Data   map[string]interface{} `json:"data"`
	Issues []string               `json:"issues,omitempty"`
}

// Report is the structured health-check output consumed by operators and
// the alerting collaborator.
type Report struct {
	Timestamp     time.Time        `json:"timestamp"`
	OverallStatus string           `json:"overall_status"`
	Checks        map[string]Check `json:"checks"`
}

func (r *Report) Healthy() bool {
	return r.OverallStatus == StatusHealthy
}

// Monitor runs the health checks. Thresholds come from configuration; the
// monitor reports data and lets the alert channel decide what operators see.
type Monitor struct {
	DB             *sql.DB
	Source         SourceAPI
	Dest           DestAPI
	Reporter       *syncer.Reporter
	Alerts         syncer.AlertSender
	ErrorThreshold float64
	MaxSyncAge     time.Duration
}

// RunHealthCheck executes every check and aggregates an overall status.
func (m *Monitor) RunHealthCheck(ctx context.Context) *Report {
	report := &Report{
		Timestamp:     time.Now(),
		OverallStatus: StatusHealthy,
		Checks:        make(map[string]Check),
	}

	sourceCheck, sourceCount := m.checkSource(ctx)
	report.Checks["source_api"] = sourceCheck
	if sourceCheck.Status != StatusHealthy {
		report.OverallStatus = StatusUnhealthy
		m.alert(ctx, notify.SeverityError, "API failure",
			fmt.Sprintf("Source API connectivity failed: %v", sourceCheck.Data["error"]), sourceCheck.Data)
	}

	destCheck := m.checkDest(ctx)
	report.Checks["dest_api"] = destCheck
	if destCheck.Status != StatusHealthy {
		report.OverallStatus = StatusUnhealthy
		m.alert(ctx, notify.SeverityError, "API failure",
			fmt.Sprintf("Destination API connectivity failed: %v", destCheck.Data["error"]), destCheck.Data)
	}

	syncCheck := m.checkSyncStatus()
	report.Checks["database_sync"] = syncCheck
	if syncCheck.Status != StatusHealthy {
		report.OverallStatus = StatusUnhealthy
		if len(syncCheck.Issues) > 0 {
			m.alert(ctx, notify.SeverityWarning, "sync issues",
				"Database sync problems detected: "+joinIssues(syncCheck.Issues), syncCheck.Data)
		}
	}

	consistencyCheck := m.checkConsistency(sourceCheck.Status == StatusHealthy, sourceCount)
	report.Checks["data_consistency"] = consistencyCheck
	if consistencyCheck.Status != StatusHealthy {
		report.OverallStatus = StatusUnhealthy
		if len(consistencyCheck.Issues) > 0 {
			m.alert(ctx, notify.SeverityWarning, "data mismatch",
				"Data consistency problems detected: "+joinIssues(consistencyCheck.Issues), consistencyCheck.Data)
		}
	}

	log.WithField("overall_status", report.OverallStatus).Info("health check completed")
	return report
}

func (m *Monitor) checkSource(ctx context.Context) (Check, int) {
	if err := m.Source.Ping(ctx); err != nil {
		return unhealthy(err), 0
	}

	count, err := m.Source.CountOrganizations(ctx)
	if err != nil {
		return unhealthy(err), 0
	}

	return Check{
		Status: StatusHealthy,
		Data: map[string]interface{}{
			"total_customer_orgs": count,
			"api_status":          StatusHealthy,
		},
	}, count
}

func (m *Monitor) checkDest(ctx context.Context) Check {
	if err := m.Dest.Ping(ctx); err != nil {
		return unhealthy(err)
	}

	count, err := m.Dest.CountContacts(ctx)
	if err != nil {
		return unhealthy(err)
	}

	return Check{
		Status: StatusHealthy,
		Data: map[string]interface{}{
			"total_contacts": count,
			"api_status":     StatusHealthy,
		},
	}
}

func (m *Monitor) checkSyncStatus() Check {
	signals, err := m.Reporter.ComputeHealthSignals(24*time.Hour, m.MaxSyncAge)
	if err != nil {
		return unhealthy(err)
	}

	var issues []string
	if signals.StaleCount > 0 {
		issues = append(issues, fmt.Sprintf("%d records unsynced for over %s", signals.StaleCount, m.MaxSyncAge))
	}
	if signals.ErrorRate > m.ErrorThreshold {
		issues = append(issues, fmt.Sprintf("high error rate: %.1f%% in last 24 hours", signals.ErrorRate))
	}
	if signals.ConsecutiveErrors >= 3 {
		issues = append(issues, fmt.Sprintf("%d recent consecutive sync errors", signals.ConsecutiveErrors))
	}

	check := Check{
		Status: StatusHealthy,
		Data: map[string]interface{}{
			"unsynced_count":     signals.UnsyncedCount,
			"stale_count":        signals.StaleCount,
			"error_rate":         signals.ErrorRate,
			"consecutive_errors": signals.ConsecutiveErrors,
			"recent_syncs_count": signals.RecentRuns,
		},
		Issues: issues,
	}
	if len(issues) > 0 {
		check.Status = StatusUnhealthy
	}

	return check
}

func (m *Monitor) checkConsistency(sourceHealthy bool, sourceCount int) Check {
	if !sourceHealthy {
		return unhealthy(fmt.Errorf("cannot check consistency, source API unavailable"))
	}

	mirrorTotal, _, _, err := db.CountOrganizations(m.DB, time.Now())
	if err != nil {
		return unhealthy(err)
	}
	syncedCount, err := db.CountSyncedOrganizations(m.DB)
	if err != nil {
		return unhealthy(err)
	}

	var issues []string

	discrepancy := sourceCount - mirrorTotal
	if discrepancy < 0 {
		discrepancy = -discrepancy
	}
	tolerance := sourceCount / 10
	if tolerance < 10 {
		tolerance = 10
	}
	if discrepancy > tolerance {
		issues = append(issues, fmt.Sprintf("large discrepancy: source has %d organizations, mirror has %d", sourceCount, mirrorTotal))
	}

	syncRate := 0.0
	if mirrorTotal > 0 {
		syncRate = float64(syncedCount) / float64(mirrorTotal) * 100
		if syncRate < 90 {
			issues = append(issues, fmt.Sprintf("low sync rate: only %.1f%% of mirror records synced", syncRate))
		}
	}

	check := Check{
		Status: StatusHealthy,
		Data: map[string]interface{}{
			"source_count": sourceCount,
			"mirror_count": mirrorTotal,
			"synced_count": syncedCount,
			"sync_rate":    syncRate,
			"discrepancy":  discrepancy,
		},
		Issues: issues,
	}
	if len(issues) > 0 {
		check.Status = StatusUnhealthy
	}

	return check
}

func (m *Monitor) alert(ctx context.Context, severity, errorType, message string, details map[string]interface{}) {
	if m.Alerts == nil {
		return
	}
	_ = m.Alerts.Send(ctx, notify.Alert{
		Category:  "monitor",
		Severity:  severity,
		ErrorType: errorType,
		Message:   message,
		Details:   details,
	})
}

func unhealthy(err error) Check {
	return Check{
		Status: StatusUnhealthy,
		Data:   map[string]interface{}{"error": err.Error()},
	}
}

func joinIssues(issues []string) string {
	out := ""
	for i, issue := range issues {
		if i > 0 {
			out += "; "
		}
		out += issue
	}
	return out
}
