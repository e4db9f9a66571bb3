// ABOUTME: SQLite database schema for durable migration state
// ABOUTME: Creates the retry task, sync checkpoint, and tombstone tables
package sqlite

// Schema contains all SQL statements for database initialization
const Schema = `
-- Deferred secondary-store operations awaiting retry
CREATE TABLE IF NOT EXISTS retry_tasks (
    id TEXT PRIMARY KEY,
    tenant_name TEXT NOT NULL,
    record_key TEXT NOT NULL,
    kind TEXT NOT NULL,
    payload TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    next_attempt_at DATETIME NOT NULL,
    created_at DATETIME NOT NULL,
    state TEXT NOT NULL DEFAULT 'pending',
    last_error TEXT
);

CREATE INDEX IF NOT EXISTS idx_retry_tasks_due
    ON retry_tasks(state, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_retry_tasks_key
    ON retry_tasks(tenant_name, record_key, created_at);

-- Per-tenant reconciliation watermark (unix millis of last synced record)
CREATE TABLE IF NOT EXISTS sync_checkpoints (
    tenant_name TEXT PRIMARY KEY,
    last_synced_at INTEGER NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Deletion tombstones so device sync can propagate removals
CREATE TABLE IF NOT EXISTS tombstones (
    uniqueid TEXT NOT NULL,
    tenant_name TEXT NOT NULL,
    record_type TEXT NOT NULL,
    last_modified INTEGER NOT NULL,
    s3_path TEXT,
    PRIMARY KEY (tenant_name, uniqueid)
);

CREATE INDEX IF NOT EXISTS idx_tombstones_since
    ON tombstones(tenant_name, last_modified);
`
