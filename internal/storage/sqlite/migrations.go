package sqlite

import "database/sql"

// migrations contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
//
// Amounts are stored as decimal strings, never floats; timestamps are
// Unix seconds. The UNIQUE constraint on (cycle_id, participant_id) is
// the idempotency key for the whole confirmation flow.
const schema = `
CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY,
    cycle_id TEXT NOT NULL,
    participant_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    reference TEXT NOT NULL,
    settled_at INTEGER NOT NULL,
    received_at INTEGER NOT NULL,
    UNIQUE (cycle_id, participant_id)
);

CREATE TABLE IF NOT EXISTS cycle_closures (
    cycle_id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    attempted_at INTEGER NOT NULL,
    closed_at INTEGER,
    last_error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS operators (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_cycle_id ON notifications(cycle_id);
CREATE INDEX IF NOT EXISTS idx_cycle_closures_state ON cycle_closures(state);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
