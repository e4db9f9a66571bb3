// ABOUTME: Reconciliation checkpoint persistence for SQLite
// ABOUTME: Stores the per-tenant last-synced lastModified watermark
package sqlite

import (
	"database/sql"
	"fmt"
)

// CheckpointStore handles per-tenant sync watermarks
type CheckpointStore struct {
	db *DB
}

// NewCheckpointStore creates a new CheckpointStore
func NewCheckpointStore(db *DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Get returns the tenant's last-synced watermark in unix millis, or zero
// (epoch) when the tenant has never been synced.
func (s *CheckpointStore) Get(tenant string) (int64, error) {
	var watermark int64
	err := s.db.QueryRow(`
		SELECT last_synced_at FROM sync_checkpoints WHERE tenant_name = ?
	`, tenant).Scan(&watermark)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sync checkpoint: %w", err)
	}
	return watermark, nil
}

// Set advances the tenant's watermark. A watermark older than the stored
// one is ignored so a re-run of an old window cannot move sync backwards.
func (s *CheckpointStore) Set(tenant string, watermark int64) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_checkpoints (tenant_name, last_synced_at)
		VALUES (?, ?)
		ON CONFLICT(tenant_name) DO UPDATE SET
			last_synced_at = MAX(last_synced_at, excluded.last_synced_at),
			updated_at = CURRENT_TIMESTAMP
	`, tenant, watermark)
	if err != nil {
		return fmt.Errorf("failed to set sync checkpoint: %w", err)
	}
	return nil
}

// Tenants lists every tenant with a checkpoint
func (s *CheckpointStore) Tenants() ([]string, error) {
	rows, err := s.db.Query(`SELECT tenant_name FROM sync_checkpoints ORDER BY tenant_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpointed tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}
