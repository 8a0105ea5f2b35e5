// ABOUTME: Data models for mirrored CRM entities and sync bookkeeping
// ABOUTME: Defines Organization, Person, Contact, SyncLog, and SyncMetadata structs
package models

import (
	"time"

	"github.com/google/uuid"
)

// Sync lifecycle states for a mirrored row. Failed is distinct from Pending
// so that failure counts survive across runs, but a failed row is still a
// push candidate on the next run.
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncFailed  = "failed"
)

// Sync log outcome constants.
const (
	OutcomeRunning = "running"
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeError   = "error"
)

// Sync categories recorded in sync_log and sync_metadata.
const (
	CategoryOrganizations = "organizations"
	CategoryPersons       = "persons"
	CategoryContacts      = "contacts"
	CategoryFull          = "full"
)

// Contact role discriminators.
const (
	RoleOrganization = "organization"
	RolePerson       = "person"
)

type Organization struct {
	ID            int64      `json:"id"`
	ExternalID    int64      `json:"external_id"`
	Name          string     `json:"name"`
	Phone         string     `json:"phone,omitempty"`
	Email         string     `json:"email,omitempty"`
	City          string     `json:"city,omitempty"`
	Country       string     `json:"country,omitempty"`
	Status        string     `json:"status,omitempty"`
	SupportLink   string     `json:"support_link,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	DealTitle     string     `json:"deal_title,omitempty"`
	OwnerName     string     `json:"owner_name,omitempty"`
	RawData       string     `json:"raw_data,omitempty"`
	Fingerprint   string     `json:"fingerprint,omitempty"`
	SyncStatus    string     `json:"sync_status"`
	DestContactID *int64     `json:"dest_contact_id,omitempty"`
	FailureCount  int        `json:"failure_count,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	SourceUpdated *time.Time `json:"source_updated,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type Person struct {
	ID            int64      `json:"id"`
	ExternalID    int64      `json:"external_id"`
	Name          string     `json:"name"`
	Email         string     `json:"email,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	OrgExternalID *int64     `json:"org_external_id,omitempty"`
	Status        string     `json:"status,omitempty"`
	RawData       string     `json:"raw_data,omitempty"`
	Fingerprint   string     `json:"fingerprint,omitempty"`
	SyncStatus    string     `json:"sync_status"`
	DestContactID *int64     `json:"dest_contact_id,omitempty"`
	FailureCount  int        `json:"failure_count,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	SourceUpdated *time.Time `json:"source_updated,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Contact is the destination-facing projection of an organization or person,
// recorded after a confirmed push. ExternalKey is the natural key used for
// idempotent matching in the destination ("org-<id>" or "person-<id>").
type Contact struct {
	ID            int64     `json:"id"`
	ExternalKey   string    `json:"external_key"`
	Role          string    `json:"role"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone,omitempty"`
	Email         string    `json:"email,omitempty"`
	Payload       string    `json:"payload,omitempty"`
	DestContactID int64     `json:"dest_contact_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SyncLog is an append-only audit record for one sync category within a run.
// Created when the category starts, finalized exactly once, never mutated
// afterward.
type SyncLog struct {
	ID               uuid.UUID  `json:"id"`
	Category         string     `json:"category"`
	Outcome          string     `json:"outcome"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsSynced    int        `json:"records_synced"`
	RecordsFailed    int        `json:"records_failed"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

type SyncMetadata struct {
	Category     string     `json:"category"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
