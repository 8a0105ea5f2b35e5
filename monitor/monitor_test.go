package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/liveport/crmsync/db"
	"github.com/liveport/crmsync/models"
	"github.com/liveport/crmsync/notify"
	"github.com/liveport/crmsync/syncer"
)

type fakeSourceAPI struct {
	pingErr error
	count   int
}

func (f *fakeSourceAPI) Ping(context.Context) error { return f.pingErr }

func (f *fakeSourceAPI) CountOrganizations(context.Context) (int, error) {
	return f.count, f.pingErr
}

type fakeDestAPI struct {
	pingErr error
	count   int
}

func (f *fakeDestAPI) Ping(context.Context) error { return f.pingErr }

func (f *fakeDestAPI) CountContacts(context.Context) (int, error) {
	return f.count, f.pingErr
}

type captureSender struct {
	alerts []notify.Alert
}

func (s *captureSender) Send(_ context.Context, alert notify.Alert) error {
	s.alerts = append(s.alerts, alert)
	return nil
}

func testMonitor(t *testing.T, src *fakeSourceAPI, dst *fakeDestAPI) (*Monitor, *captureSender) {
	t.Helper()

	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("OpenDatabase failed: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	sender := &captureSender{}
	return &Monitor{
		DB:             database,
		Source:         src,
		Dest:           dst,
		Reporter:       &syncer.Reporter{DB: database},
		Alerts:         sender,
		ErrorThreshold: 10,
		MaxSyncAge:     2 * time.Hour,
	}, sender
}

func TestRunHealthCheckAllHealthy(t *testing.T) {
	mon, sender := testMonitor(t, &fakeSourceAPI{count: 0}, &fakeDestAPI{count: 0})

	report := mon.RunHealthCheck(context.Background())

	if !report.Healthy() {
		t.Errorf("expected healthy report, got %+v", report)
	}
	for _, name := range []string{"source_api", "dest_api", "database_sync", "data_consistency"} {
		check, ok := report.Checks[name]
		if !ok {
			t.Errorf("missing check %s", name)
			continue
		}
		if check.Status != StatusHealthy {
			t.Errorf("check %s = %s: %v", name, check.Status, check.Issues)
		}
	}
	if len(sender.alerts) != 0 {
		t.Errorf("healthy system should not alert, got %d alerts", len(sender.alerts))
	}
}

func TestRunHealthCheckSourceAPIFailure(t *testing.T) {
	mon, sender := testMonitor(t, &fakeSourceAPI{pingErr: errors.New("connection refused")}, &fakeDestAPI{})

	report := mon.RunHealthCheck(context.Background())

	if report.Healthy() {
		t.Error("expected unhealthy report")
	}
	if report.Checks["source_api"].Status != StatusUnhealthy {
		t.Errorf("source_api = %s", report.Checks["source_api"].Status)
	}
	// Consistency cannot be judged without the source count.
	if report.Checks["data_consistency"].Status != StatusUnhealthy {
		t.Errorf("data_consistency = %s", report.Checks["data_consistency"].Status)
	}

	found := false
	for _, alert := range sender.alerts {
		if alert.Severity == notify.SeverityError && alert.ErrorType == "API failure" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an API failure alert, got %+v", sender.alerts)
	}
}

func TestRunHealthCheckDetectsDiscrepancy(t *testing.T) {
	// Source says 200 organizations; the mirror has none.
	mon, sender := testMonitor(t, &fakeSourceAPI{count: 200}, &fakeDestAPI{})

	report := mon.RunHealthCheck(context.Background())

	check := report.Checks["data_consistency"]
	if check.Status != StatusUnhealthy || len(check.Issues) == 0 {
		t.Errorf("expected discrepancy issue, got %+v", check)
	}

	warned := false
	for _, alert := range sender.alerts {
		if alert.ErrorType == "data mismatch" {
			warned = true
		}
	}
	if !warned {
		t.Errorf("expected data mismatch warning, got %+v", sender.alerts)
	}
}

func TestRunHealthCheckDetectsLowSyncRate(t *testing.T) {
	mon, _ := testMonitor(t, &fakeSourceAPI{count: 10}, &fakeDestAPI{})

	// Ten mirrored organizations, only one synced.
	for i := int64(1); i <= 10; i++ {
		orgRecord := &models.Organization{ExternalID: i, Name: "Org", Fingerprint: "fp"}
		if err := db.InsertOrganization(mon.DB, orgRecord); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.MarkOrganizationSynced(mon.DB, 1, 900); err != nil {
		t.Fatal(err)
	}

	report := mon.RunHealthCheck(context.Background())

	check := report.Checks["data_consistency"]
	if check.Status != StatusUnhealthy {
		t.Errorf("expected low sync rate to flag, got %+v", check)
	}
}

func TestRunHealthCheckDetectsHighErrorRate(t *testing.T) {
	mon, _ := testMonitor(t, &fakeSourceAPI{}, &fakeDestAPI{})

	// A finalized error run inside the trailing window.
	entry, err := db.StartSyncLog(mon.DB, models.CategoryOrganizations)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.FinalizeSyncLog(mon.DB, entry.ID, models.OutcomeError, 0, 0, 0, "fetch failed"); err != nil {
		t.Fatal(err)
	}

	report := mon.RunHealthCheck(context.Background())

	check := report.Checks["database_sync"]
	if check.Status != StatusUnhealthy || len(check.Issues) == 0 {
		t.Errorf("expected error-rate issue, got %+v", check)
	}
}
