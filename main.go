// ABOUTME: Entry point for the CRM sync utility
// ABOUTME: Routes to sync, health, and alert commands based on arguments
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/liveport/crmsync/cli"
	"github.com/liveport/crmsync/config"
	"github.com/liveport/crmsync/db"
)

const version = "0.3.1"

func main() {
	// Global flags
	showVersion := flag.Bool("version", false, "Show version and exit")
	dbPath := flag.String("db-path", "", "Database path (default: ~/.local/share/crmsync/sync.db)")
	initOnly := flag.Bool("init", false, "Initialize database and exit")

	_ = flag.CommandLine.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("crmsync version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 && !*initOnly {
		printUsage()
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	setupLogging(cfg.LogLevel)

	finalDBPath := cfg.DatabasePath(*dbPath)
	database, err := db.OpenDatabase(finalDBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	log.Debugf("Sync database: %s", finalDBPath)

	if *initOnly {
		log.Info("Database initialized successfully")
		os.Exit(0)
	}

	// Cancel in-flight work on Ctrl-C; a second signal kills the process.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := args[0]
	switch command {
	case "sync":
		if err := cli.SyncCommand(ctx, database, cfg); err != nil {
			log.Fatalf("Error: %v", err)
		}

	case "health":
		if err := cli.HealthCommand(ctx, database, cfg, args[1:]); err != nil {
			log.Fatalf("Error: %v", err)
		}

	case "test-alert":
		if err := cli.TestAlertCommand(ctx, cfg); err != nil {
			log.Fatalf("Error: %v", err)
		}

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func setupLogging(level string) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

func printUsage() {
	fmt.Printf(`crmsync v%s - CRM to support-platform contact sync

USAGE:
  crmsync [global flags] <command>

GLOBAL FLAGS:
  --version              Show version and exit
  --db-path <path>       Database path (default: ~/.local/share/crmsync/sync.db)
  --init                 Initialize database and exit

COMMANDS:
  sync                   Run one full reconciliation pass
  health                 Run health checks and print the report
    --watch                Keep running on MONITOR_INTERVAL_MINUTES
  test-alert             Send a test card to the alert webhook

CONFIGURATION:
  Options come from the environment (or a .env file). SOURCE_API_KEY and
  DEST_API_KEY are required; everything else has a default:

  SOURCE_BASE_URL, DEST_BASE_URL       API endpoints
  BATCH_SIZE                           Push batch size (default: 50)
  RETRY_ATTEMPTS, RETRY_DELAY          Transient-failure retries (3, 5s)
  RATE_LIMIT_PER_MINUTE                Destination request budget (60)
  RATE_LIMIT_COOLDOWN                  Sleep after a 429 (60s)
  DEFAULT_COUNTRY_CODE                 Phone normalization region (AU)
  INCLUDE_LABELS, EXCLUDE_STATUSES     Record filter (Customer / Suspended,Cancelled)
  DEST_INBOX_NAME                      Inbox for new contacts (Customer Database)
  ALERT_WEBHOOK_URL                    Chat webhook for alerts (disabled if empty)
  ALERT_ERROR_THRESHOLD                Error-rate alert percent (10)
  MAX_SYNC_AGE_HOURS                   Staleness threshold for health checks (2)
  DB_PATH, LOG_LEVEL                   Local store and log verbosity

EXAMPLES:
  # One-off sync
  crmsync sync

  # Cron-friendly health probe (non-zero exit when unhealthy)
  crmsync health

  # Verify the webhook is wired up
  crmsync test-alert

`, version)
}
