// ABOUTME: Shared operation surface implemented by both vector store adapters
// ABOUTME: Defines the Store interface, query parameters, and result shapes
package store

import (
	"context"

	"github.com/constella-app/vecbridge/internal/models"
)

// FilterOp is a comparison operator for backend-neutral filters
type FilterOp string

const (
	FilterEq          FilterOp = "eq"
	FilterNeq         FilterOp = "neq"
	FilterGte         FilterOp = "gte"
	FilterLte         FilterOp = "lte"
	FilterContainsAny FilterOp = "contains_any"
)

// Filter is a single field condition. Adapters translate it to their
// backend's filter syntax; conditions in a slice are ANDed.
type Filter struct {
	Field  string
	Op     FilterOp
	Value  any
	Values []string // for FilterContainsAny
}

// SearchResult pairs a record with its similarity score
type SearchResult struct {
	Record *models.Record
	Score  float32
}

// SyncPage is one page of records modified since a watermark, plus the
// deletions that happened in the same window (first page only).
type SyncPage struct {
	Records    []*models.Record
	Tombstones []*models.Tombstone
}

// Store is the operation surface shared by the primary (Weaviate) and
// secondary (Milvus) adapters. All operations are tenant-scoped and must
// never cross tenant boundaries.
type Store interface {
	// Insert upserts a single record and returns its unique id,
	// generating one when the record arrives without an id.
	Insert(ctx context.Context, rec *models.Record) (string, error)

	// UpsertMany batch-upserts records for one tenant
	UpsertMany(ctx context.Context, tenant string, recs []*models.Record) error

	// UpdateVector replaces a record's vector, optionally with metadata
	UpdateVector(ctx context.Context, tenant, uniqueID string, vector []float32, metadata map[string]any) error

	// UpdateMetadata merges metadata fields into an existing record
	UpdateMetadata(ctx context.Context, tenant, uniqueID string, metadata map[string]any) error

	// Delete removes one record; deleting an absent id is a no-op
	Delete(ctx context.Context, tenant, uniqueID string) error

	// DeleteMany removes records by id
	DeleteMany(ctx context.Context, tenant string, uniqueIDs []string) error

	// DeleteAll removes every record in the tenant's partition
	DeleteAll(ctx context.Context, tenant string) error

	// QueryByVector returns up to topK results ordered by descending
	// similarity, ties broken by most recent lastModified. Results below
	// the similarity threshold are dropped.
	QueryByVector(ctx context.Context, tenant string, vector []float32, topK int, similarityThreshold float32) ([]SearchResult, error)

	// QueryByKeyword searches text fields for the keyword
	QueryByKeyword(ctx context.Context, tenant, keyword string, topK int) ([]SearchResult, error)

	// QueryByFilter returns records matching all filter conditions
	QueryByFilter(ctx context.Context, tenant string, filters []Filter, topK int) ([]*models.Record, error)

	// GetByID fetches one record, ErrNotFound when absent
	GetByID(ctx context.Context, tenant, uniqueID string) (*models.Record, error)

	// GetByIDs fetches records by id; absent ids are skipped
	GetByIDs(ctx context.Context, tenant string, uniqueIDs []string) ([]*models.Record, error)

	// GetMostRecent returns records ordered by descending lastModified
	GetMostRecent(ctx context.Context, tenant string, limit int) ([]*models.Record, error)

	// SyncByLastModified pages records with lastModified >= since (unix
	// millis), excluding records last written by deviceID. Tombstones are
	// only populated when offset is zero.
	SyncByLastModified(ctx context.Context, tenant string, since int64, deviceID string, limit, offset int) (*SyncPage, error)
}

// Tombstones records deletions for device sync. The document-store
// persistence behind it is a collaborator decision; the coordinator only
// depends on this seam.
type Tombstones interface {
	Record(ctx context.Context, stones []*models.Tombstone) error
	Since(ctx context.Context, tenant string, since int64) ([]*models.Tombstone, error)
}
