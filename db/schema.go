// ABOUTME: Database schema definitions
// ABOUTME: Creates the mirror tables, sync log, sync metadata, and run lock
package db

import (
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS organizations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id INTEGER NOT NULL UNIQUE,
	name TEXT NOT NULL,
	phone TEXT,
	email TEXT,
	city TEXT,
	country TEXT,
	status TEXT,
	support_link TEXT,
	notes TEXT,
	deal_title TEXT,
	owner_name TEXT,
	raw_data TEXT,
	fingerprint TEXT NOT NULL,
	sync_status TEXT NOT NULL DEFAULT 'pending' CHECK(sync_status IN ('pending', 'synced', 'failed')),
	dest_contact_id INTEGER,
	failure_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	source_updated DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_organizations_sync_status ON organizations(sync_status);

CREATE TABLE IF NOT EXISTS persons (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id INTEGER NOT NULL UNIQUE,
	name TEXT NOT NULL,
	email TEXT,
	phone TEXT,
	org_external_id INTEGER,
	status TEXT,
	raw_data TEXT,
	fingerprint TEXT NOT NULL,
	sync_status TEXT NOT NULL DEFAULT 'pending' CHECK(sync_status IN ('pending', 'synced', 'failed')),
	dest_contact_id INTEGER,
	failure_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	source_updated DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_persons_sync_status ON persons(sync_status);
CREATE INDEX IF NOT EXISTS idx_persons_org_external_id ON persons(org_external_id);

CREATE TABLE IF NOT EXISTS contacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	external_key TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL CHECK(role IN ('organization', 'person')),
	name TEXT NOT NULL,
	phone TEXT,
	email TEXT,
	payload TEXT,
	dest_contact_id INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contacts_role ON contacts(role);

CREATE TABLE IF NOT EXISTS sync_log (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL CHECK(category IN ('organizations', 'persons', 'contacts', 'full')),
	outcome TEXT NOT NULL CHECK(outcome IN ('running', 'success', 'partial', 'error')),
	records_processed INTEGER NOT NULL DEFAULT 0,
	records_synced INTEGER NOT NULL DEFAULT 0,
	records_failed INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	started_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sync_log_category ON sync_log(category, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_sync_log_started ON sync_log(started_at DESC);

CREATE TABLE IF NOT EXISTS sync_metadata (
	category TEXT PRIMARY KEY CHECK(category IN ('organizations', 'persons', 'contacts', 'full')),
	last_sync_time DATETIME,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS run_lock (
	id INTEGER PRIMARY KEY CHECK(id = 1),
	holder TEXT NOT NULL,
	acquired_at DATETIME NOT NULL
);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
