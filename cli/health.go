// ABOUTME: The run-health-check command
// ABOUTME: Prints the structured report and fails on an unhealthy status
package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/liveport/crmsync/config"
	"github.com/liveport/crmsync/dest"
	"github.com/liveport/crmsync/monitor"
	"github.com/liveport/crmsync/notify"
	"github.com/liveport/crmsync/retry"
	"github.com/liveport/crmsync/source"
	"github.com/liveport/crmsync/syncer"
)

// HealthCommand runs every health check and reports the findings. A
// non-nil return means the overall status is unhealthy. With -watch the
// checks repeat every MONITOR_INTERVAL_MINUTES until interrupted.
func HealthCommand(ctx context.Context, database *sql.DB, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	watch := fs.Bool("watch", false, "Re-run checks on the monitor interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	notifier := notify.NewNotifier(cfg.AlertWebhookURL, cfg.RequestTimeout)
	policy := retry.Fixed(cfg.RetryAttempts, cfg.RetryDelay)

	mon := &monitor.Monitor{
		DB:     database,
		Source: source.NewClient(cfg.SourceBaseURL, cfg.SourceAPIKey, cfg.RequestTimeout, policy),
		Dest: dest.NewClient(cfg.DestBaseURL, cfg.DestAPIKey, cfg.RequestTimeout, policy,
			cfg.RateLimitPerMinute, cfg.RateLimitCooldown),
		Reporter:       &syncer.Reporter{DB: database},
		Alerts:         notifier,
		ErrorThreshold: cfg.AlertErrorThreshold,
		MaxSyncAge:     cfg.MaxSyncAgeDuration(),
	}

	if !*watch {
		report := mon.RunHealthCheck(ctx)
		printReport(report)
		if !report.Healthy() {
			return fmt.Errorf("health check reported unhealthy status")
		}
		return nil
	}

	interval := time.Duration(cfg.MonitorIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	log.WithField("interval", interval.String()).Info("starting health monitor")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		printReport(mon.RunHealthCheck(ctx))
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printReport(report *monitor.Report) {
	fmt.Printf("Health check - %s\n", report.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Printf("Overall status: %s\n\n", report.OverallStatus)

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		check := report.Checks[name]
		fmt.Printf("  %s: %s\n", name, check.Status)
		for _, issue := range check.Issues {
			fmt.Printf("    - %s\n", issue)
		}
	}
	fmt.Println()
}
