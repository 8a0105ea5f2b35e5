// ABOUTME: Reconciliation engine deciding skip, upsert, and push per record
// ABOUTME: Drives idempotent find-then-create-or-update pushes with failure isolation
package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/liveport/crmsync/db"
	"github.com/liveport/crmsync/dest"
	"github.com/liveport/crmsync/errs"
	"github.com/liveport/crmsync/models"
	"github.com/liveport/crmsync/source"
)

// SourceClient is the fetch side of the pipeline.
type SourceClient interface {
	FetchOrganizations(ctx context.Context, since *time.Time, keep source.LabelPredicate) ([]models.Organization, int, error)
	FetchPersons(ctx context.Context, since *time.Time, keep source.LabelPredicate) ([]models.Person, int, error)
}

// DestClient is the push side. Pushes always go find-then-create-or-update;
// a blind create would break idempotence whenever a prior run's mark-synced
// step was lost.
type DestClient interface {
	FindContactByExternalKey(ctx context.Context, key string) (*dest.ContactRef, error)
	CreateContact(ctx context.Context, payload dest.ContactPayload) (*dest.ContactRef, error)
	UpdateContact(ctx context.Context, ref *dest.ContactRef, payload dest.ContactPayload) (*dest.ContactRef, error)
	ListInboxes(ctx context.Context) ([]dest.Inbox, error)
	AssignContactToInbox(ctx context.Context, ref *dest.ContactRef, inboxID int64, sourceID string) error
}

// CategorySummary aggregates one category's counts within a run.
type CategorySummary struct {
	Category  string
	Processed int // records examined (including unchanged skips)
	Skipped   int // unchanged and already synced: no local write, no push
	Pushed    int // confirmed destination upserts
	Failed    int // malformed records plus push failures
}

// RunSummary is the whole run's outcome.
type RunSummary struct {
	StartedAt     time.Time
	CompletedAt   time.Time
	Organizations CategorySummary
	Persons       CategorySummary
	Assignments   CategorySummary
	Outcome       string
}

func (s *RunSummary) totals() (processed, synced, failed int) {
	processed = s.Organizations.Processed + s.Persons.Processed
	synced = s.Organizations.Pushed + s.Persons.Pushed
	failed = s.Organizations.Failed + s.Persons.Failed
	return
}

type createdContact struct {
	ref *dest.ContactRef
	key string
}

// Reconciler runs the sync: fetch canonical records, upsert the mirror,
// push candidates, and mark rows synced only after a confirmed push.
// Single-run-at-a-time; the run lock rejects overlapping invocations.
type Reconciler struct {
	DB          *sql.DB
	Source      SourceClient
	Dest        DestClient
	Reporter    *Reporter
	Filter      source.LabelPredicate
	CountryCode string
	BatchSize   int
	InboxName   string
	LockMaxAge  time.Duration

	created []createdContact
}

// Run executes one full sync. Returns db.ErrRunActive untouched when another
// run holds the lock so callers can no-op instead of failing.
func (r *Reconciler) Run(ctx context.Context) (*RunSummary, error) {
	holder, _ := os.Hostname()
	holder = fmt.Sprintf("%s:%d", holder, os.Getpid())

	lockMaxAge := r.LockMaxAge
	if lockMaxAge <= 0 {
		lockMaxAge = 2 * time.Hour
	}

	if err := db.AcquireRunLock(r.DB, holder, lockMaxAge); err != nil {
		return nil, err
	}
	defer func() {
		if err := db.ReleaseRunLock(r.DB); err != nil {
			log.WithError(err).Warn("failed to release run lock")
		}
	}()

	summary := &RunSummary{StartedAt: time.Now()}
	r.created = nil

	runEntry, err := r.Reporter.Start(models.CategoryFull)
	if err != nil {
		return nil, err
	}

	runErr := r.runCategories(ctx, summary)

	processed, synced, failed := summary.totals()
	summary.CompletedAt = time.Now()
	summary.Outcome = Classify(processed, synced, failed, runErr)

	if err := r.Reporter.Finalize(runEntry, processed, synced, failed, runErr); err != nil {
		log.WithError(err).Error("failed to finalize run log entry")
	}
	r.Reporter.ReportRun(ctx, processed, synced, failed)

	if runErr != nil {
		return summary, runErr
	}
	return summary, nil
}

func (r *Reconciler) runCategories(ctx context.Context, summary *RunSummary) error {
	var err error

	summary.Organizations, err = r.reconcileOrganizations(ctx)
	if err != nil {
		return err
	}

	summary.Persons, err = r.reconcilePersons(ctx)
	if err != nil {
		return err
	}

	summary.Assignments = r.assignInboxes(ctx)
	return nil
}

func (r *Reconciler) reconcileOrganizations(ctx context.Context) (CategorySummary, error) {
	sum := CategorySummary{Category: models.CategoryOrganizations}

	entry, err := r.Reporter.Start(models.CategoryOrganizations)
	if err != nil {
		return sum, err
	}
	finalize := func(runErr error) {
		if err := r.Reporter.Finalize(entry, sum.Processed, sum.Pushed, sum.Failed, runErr); err != nil {
			log.WithError(err).Error("failed to finalize sync log entry")
		}
	}

	since, err := db.GetLastSyncTime(r.DB, models.CategoryOrganizations)
	if err != nil {
		finalize(err)
		return sum, err
	}

	fetchStart := time.Now()
	organizations, malformed, err := r.Source.FetchOrganizations(ctx, since, r.filter())
	if err != nil {
		finalize(err)
		return sum, err
	}
	sum.Failed += malformed

	for i := range organizations {
		// Cancellation is only honored between records so no record is
		// ever left half-written.
		if err := ctx.Err(); err != nil {
			finalize(err)
			return sum, err
		}

		org := &organizations[i]
		org.Phone = NormalizePhone(org.Phone, r.CountryCode)
		org.Fingerprint = OrganizationFingerprint(org)

		existing, err := db.GetOrganizationByExternalID(r.DB, org.ExternalID)
		if err != nil {
			finalize(err)
			return sum, err
		}

		switch {
		case existing == nil:
			if err := db.InsertOrganization(r.DB, org); err != nil {
				finalize(err)
				return sum, err
			}
		case existing.Fingerprint == org.Fingerprint && existing.SyncStatus == models.SyncSynced:
			sum.Skipped++
		default:
			if err := db.UpdateOrganization(r.DB, org); err != nil {
				finalize(err)
				return sum, err
			}
		}
		sum.Processed++
	}

	candidates, err := db.ListUnsyncedOrganizations(r.DB)
	if err != nil {
		finalize(err)
		return sum, err
	}

	if err := r.pushOrganizations(ctx, candidates, &sum); err != nil {
		finalize(err)
		return sum, err
	}

	if err := db.SetLastSyncTime(r.DB, models.CategoryOrganizations, fetchStart); err != nil {
		finalize(err)
		return sum, err
	}

	finalize(nil)
	return sum, nil
}

func (r *Reconciler) pushOrganizations(ctx context.Context, candidates []models.Organization, sum *CategorySummary) error {
	batchSize := r.batchSize()

	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			org := &candidates[i]
			key := fmt.Sprintf("org-%d", org.ExternalID)

			ref, created, pushErr := r.pushContact(ctx, key, r.organizationPayload(org))
			if pushErr != nil {
				if errs.IsAuth(pushErr) || errs.IsPersistence(pushErr) {
					return pushErr
				}
				sum.Failed++
				log.WithError(pushErr).WithFields(log.Fields{
					"external_id": org.ExternalID,
					"name":        org.Name,
				}).Error("failed to push organization")
				if err := db.MarkOrganizationFailed(r.DB, org.ExternalID, pushErr.Error()); err != nil {
					return err
				}
				continue
			}

			// Mark synced in the same breath as the push confirmation: a
			// crash between push and mark leaves at most this record as
			// pushed-but-unmarked, which the next run's find-by-key absorbs.
			if err := db.MarkOrganizationSynced(r.DB, org.ExternalID, ref.ID); err != nil {
				return err
			}
			if err := r.saveProjection(key, models.RoleOrganization, org.Name, org.Phone, org.Email, ref, r.organizationPayload(org)); err != nil {
				return err
			}
			if created {
				r.created = append(r.created, createdContact{ref: ref, key: key})
			}
			sum.Pushed++
		}

		if end < len(candidates) {
			log.WithFields(log.Fields{
				"category": sum.Category,
				"pushed":   sum.Pushed,
				"failed":   sum.Failed,
				"total":    len(candidates),
			}).Info("push batch completed")
		}
	}

	return nil
}

func (r *Reconciler) reconcilePersons(ctx context.Context) (CategorySummary, error) {
	sum := CategorySummary{Category: models.CategoryPersons}

	entry, err := r.Reporter.Start(models.CategoryPersons)
	if err != nil {
		return sum, err
	}
	finalize := func(runErr error) {
		if err := r.Reporter.Finalize(entry, sum.Processed, sum.Pushed, sum.Failed, runErr); err != nil {
			log.WithError(err).Error("failed to finalize sync log entry")
		}
	}

	since, err := db.GetLastSyncTime(r.DB, models.CategoryPersons)
	if err != nil {
		finalize(err)
		return sum, err
	}

	fetchStart := time.Now()
	persons, malformed, err := r.Source.FetchPersons(ctx, since, r.filter())
	if err != nil {
		finalize(err)
		return sum, err
	}
	sum.Failed += malformed

	for i := range persons {
		if err := ctx.Err(); err != nil {
			finalize(err)
			return sum, err
		}

		person := &persons[i]
		person.Phone = NormalizePhone(person.Phone, r.CountryCode)
		person.Fingerprint = PersonFingerprint(person)

		existing, err := db.GetPersonByExternalID(r.DB, person.ExternalID)
		if err != nil {
			finalize(err)
			return sum, err
		}

		switch {
		case existing == nil:
			// The organization reference is stored even when the referenced
			// organization has not been mirrored yet; it resolves on a later
			// run instead of failing this record.
			if err := db.InsertPerson(r.DB, person); err != nil {
				finalize(err)
				return sum, err
			}
		case existing.Fingerprint == person.Fingerprint && existing.SyncStatus == models.SyncSynced:
			sum.Skipped++
		default:
			if err := db.UpdatePerson(r.DB, person); err != nil {
				finalize(err)
				return sum, err
			}
		}
		sum.Processed++
	}

	candidates, err := db.ListUnsyncedPersons(r.DB)
	if err != nil {
		finalize(err)
		return sum, err
	}

	if err := r.pushPersons(ctx, candidates, &sum); err != nil {
		finalize(err)
		return sum, err
	}

	if err := db.SetLastSyncTime(r.DB, models.CategoryPersons, fetchStart); err != nil {
		finalize(err)
		return sum, err
	}

	finalize(nil)
	return sum, nil
}

func (r *Reconciler) pushPersons(ctx context.Context, candidates []models.Person, sum *CategorySummary) error {
	batchSize := r.batchSize()

	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			person := &candidates[i]
			key := fmt.Sprintf("person-%d", person.ExternalID)

			payload, err := r.personPayload(person)
			if err != nil {
				return err
			}

			ref, created, pushErr := r.pushContact(ctx, key, payload)
			if pushErr != nil {
				if errs.IsAuth(pushErr) || errs.IsPersistence(pushErr) {
					return pushErr
				}
				sum.Failed++
				log.WithError(pushErr).WithFields(log.Fields{
					"external_id": person.ExternalID,
					"name":        person.Name,
				}).Error("failed to push person")
				if err := db.MarkPersonFailed(r.DB, person.ExternalID, pushErr.Error()); err != nil {
					return err
				}
				continue
			}

			if err := db.MarkPersonSynced(r.DB, person.ExternalID, ref.ID); err != nil {
				return err
			}
			if err := r.saveProjection(key, models.RolePerson, person.Name, person.Phone, person.Email, ref, payload); err != nil {
				return err
			}
			if created {
				r.created = append(r.created, createdContact{ref: ref, key: key})
			}
			sum.Pushed++
		}

		if end < len(candidates) {
			log.WithFields(log.Fields{
				"category": sum.Category,
				"pushed":   sum.Pushed,
				"failed":   sum.Failed,
				"total":    len(candidates),
			}).Info("push batch completed")
		}
	}

	return nil
}

// pushContact runs the idempotent upsert: find by external key, then update
// or create. Returns whether a new destination contact was created.
func (r *Reconciler) pushContact(ctx context.Context, key string, payload dest.ContactPayload) (*dest.ContactRef, bool, error) {
	ref, err := r.Dest.FindContactByExternalKey(ctx, key)
	if err != nil {
		return nil, false, err
	}

	if ref != nil {
		updated, err := r.Dest.UpdateContact(ctx, ref, payload)
		if err != nil {
			return nil, false, err
		}
		return updated, false, nil
	}

	created, err := r.Dest.CreateContact(ctx, payload)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func (r *Reconciler) saveProjection(key, role, name, phone, email string, ref *dest.ContactRef, payload dest.ContactPayload) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode contact payload: %w", err)
	}

	return db.SaveContact(r.DB, &models.Contact{
		ExternalKey:   key,
		Role:          role,
		Name:          name,
		Phone:         phone,
		Email:         email,
		Payload:       string(encoded),
		DestContactID: ref.ID,
	})
}

// assignInboxes links contacts created this run to the configured inbox so
// they are visible in the support interface. Assignment failures are
// warnings, never record or run failures.
func (r *Reconciler) assignInboxes(ctx context.Context) CategorySummary {
	sum := CategorySummary{Category: models.CategoryContacts}
	if len(r.created) == 0 || r.InboxName == "" {
		return sum
	}

	entry, err := r.Reporter.Start(models.CategoryContacts)
	if err != nil {
		log.WithError(err).Warn("failed to start inbox assignment log entry")
		return sum
	}
	sum.Processed = len(r.created)

	inboxes, err := r.Dest.ListInboxes(ctx)
	if err != nil {
		log.WithError(err).Warn("could not list destination inboxes, skipping assignment")
		_ = r.Reporter.Finalize(entry, sum.Processed, 0, 0, err)
		return sum
	}

	var inboxID int64
	for _, inbox := range inboxes {
		if strings.Contains(strings.ToLower(inbox.Name), strings.ToLower(r.InboxName)) {
			inboxID = inbox.ID
			break
		}
	}
	if inboxID == 0 {
		err := fmt.Errorf("inbox %q not found, contacts may not be visible in the support interface", r.InboxName)
		log.Warn(err.Error())
		_ = r.Reporter.Finalize(entry, sum.Processed, 0, 0, err)
		return sum
	}

	for _, created := range r.created {
		if ctx.Err() != nil {
			break
		}
		if err := r.Dest.AssignContactToInbox(ctx, created.ref, inboxID, "crm_"+created.key); err != nil {
			sum.Failed++
			log.WithError(err).WithField("contact", created.ref.ID).Warn("could not assign contact to inbox")
			continue
		}
		sum.Pushed++
	}

	if err := r.Reporter.Finalize(entry, sum.Processed, sum.Pushed, sum.Failed, nil); err != nil {
		log.WithError(err).Warn("failed to finalize inbox assignment log entry")
	}
	return sum
}

func (r *Reconciler) organizationPayload(org *models.Organization) dest.ContactPayload {
	return dest.ContactPayload{
		Name:        org.Name,
		PhoneNumber: optional(org.Phone),
		Email:       optional(org.Email),
		CustomAttributes: map[string]interface{}{
			dest.ExternalKeyAttribute: fmt.Sprintf("org-%d", org.ExternalID),
			"external_id":             org.ExternalID,
			"type":                    models.RoleOrganization,
			"status":                  org.Status,
			"city":                    org.City,
			"country":                 org.Country,
			"support_link":            org.SupportLink,
			"company_name":            org.Name,
			"organization_name":       org.Name,
			"deal_title":              org.DealTitle,
			"owner_name":              org.OwnerName,
		},
	}
}

func (r *Reconciler) personPayload(person *models.Person) (dest.ContactPayload, error) {
	orgName := ""
	if person.OrgExternalID != nil {
		org, err := db.GetOrganizationByExternalID(r.DB, *person.OrgExternalID)
		if err != nil {
			return dest.ContactPayload{}, err
		}
		// A missing organization row is tolerated; the reference resolves
		// once the organization is mirrored.
		if org != nil {
			orgName = org.Name
		}
	}

	return dest.ContactPayload{
		Name:        person.Name,
		PhoneNumber: optional(person.Phone),
		Email:       optional(person.Email),
		CustomAttributes: map[string]interface{}{
			dest.ExternalKeyAttribute: fmt.Sprintf("person-%d", person.ExternalID),
			"external_id":             person.ExternalID,
			"type":                    models.RolePerson,
			"status":                  person.Status,
			"organization_name":       orgName,
		},
	}, nil
}

func (r *Reconciler) filter() source.LabelPredicate {
	if r.Filter != nil {
		return r.Filter
	}
	return source.All()
}

func (r *Reconciler) batchSize() int {
	if r.BatchSize > 0 {
		return r.BatchSize
	}
	return 50
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
