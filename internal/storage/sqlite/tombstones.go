// ABOUTME: Deletion tombstone persistence for SQLite
// ABOUTME: Default store.Tombstones sink used by the coordinator
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/constella-app/vecbridge/internal/models"
)

// TombstoneStore persists deletion tombstones for device sync
type TombstoneStore struct {
	db *DB
}

// NewTombstoneStore creates a new TombstoneStore
func NewTombstoneStore(db *DB) *TombstoneStore {
	return &TombstoneStore{db: db}
}

// Record upserts tombstones; replaying a deletion refreshes lastModified
func (s *TombstoneStore) Record(ctx context.Context, stones []*models.Tombstone) error {
	for _, stone := range stones {
		_, err := s.db.Exec(`
			INSERT INTO tombstones (uniqueid, tenant_name, record_type, last_modified, s3_path)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(tenant_name, uniqueid) DO UPDATE SET
				last_modified = excluded.last_modified,
				s3_path = excluded.s3_path
		`, stone.UniqueID, stone.TenantName, string(stone.RecordType),
			stone.LastModified, stone.S3Path)
		if err != nil {
			return fmt.Errorf("failed to record tombstone: %w", err)
		}
	}
	return nil
}

// Since returns the tenant's tombstones with last_modified >= since
func (s *TombstoneStore) Since(ctx context.Context, tenant string, since int64) ([]*models.Tombstone, error) {
	rows, err := s.db.Query(`
		SELECT uniqueid, tenant_name, record_type, last_modified, s3_path
		FROM tombstones
		WHERE tenant_name = ? AND last_modified >= ?
		ORDER BY last_modified
	`, tenant, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list tombstones: %w", err)
	}
	defer rows.Close()

	var stones []*models.Tombstone
	for rows.Next() {
		var (
			stone      models.Tombstone
			recordType string
			s3Path     sql.NullString
		)
		if err := rows.Scan(&stone.UniqueID, &stone.TenantName, &recordType,
			&stone.LastModified, &s3Path); err != nil {
			return nil, err
		}
		stone.RecordType = models.RecordType(recordType)
		if s3Path.Valid {
			stone.S3Path = s3Path.String
		}
		stones = append(stones, &stone)
	}
	return stones, rows.Err()
}
