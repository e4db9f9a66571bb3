// ABOUTME: Reconciliation engine that replays primary-store changes onto the secondary
// ABOUTME: Pages by lastModified watermark, applies tombstones, and checkpoints progress
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/constella-app/vecbridge/internal/models"
	"github.com/constella-app/vecbridge/internal/storage/sqlite"
	"github.com/constella-app/vecbridge/internal/store"
)

// lookbackSlack rewinds the watermark so writes that landed with slightly
// older timestamps (clock skew, in-flight batches) are not missed. Replays
// are harmless because every operation is an upsert.
const lookbackSlack = int64(time.Minute / time.Millisecond)

// Failure is one record that could not be applied to the target
type Failure struct {
	UniqueID string
	Err      error
}

// Report summarizes one reconciliation run for a tenant
type Report struct {
	Tenant    string
	Scanned   int
	Upserted  int
	Deleted   int
	Failures  []Failure
	Watermark int64 // highest lastModified seen, unix millis
}

// Embedder supplies vectors for records that arrive without one
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Engine copies changed records from the source store to the target store.
// During migration the source is Weaviate and the target is Milvus; after
// cutover the same engine can verify the reverse direction.
type Engine struct {
	source      store.Store
	target      store.Store
	checkpoints *sqlite.CheckpointStore
	pageSize    int
	logger      zerolog.Logger

	// OnRecord, when set, observes every record as it is applied
	OnRecord func(rec *models.Record)

	// Embedder, when set, regenerates vectors for records that lost
	// theirs (older clients stored some records without one)
	Embedder Embedder
}

// New creates a reconciliation engine. checkpoints may be nil for one-off
// runs that manage their own watermark.
func New(source, target store.Store, checkpoints *sqlite.CheckpointStore, pageSize int) *Engine {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Engine{
		source:      source,
		target:      target,
		checkpoints: checkpoints,
		pageSize:    pageSize,
		logger:      log.With().Str("component", "syncer").Logger(),
	}
}

// SyncTenant reconciles one tenant from the given watermark. A negative
// since resumes from the stored checkpoint; zero backfills everything.
// deviceID, when set, skips records last written by that device.
func (e *Engine) SyncTenant(ctx context.Context, tenant string, since int64, deviceID string) (*Report, error) {
	if since < 0 {
		if e.checkpoints == nil {
			since = 0
		} else {
			stored, err := e.checkpoints.Get(tenant)
			if err != nil {
				return nil, fmt.Errorf("failed to load checkpoint for %s: %w", tenant, err)
			}
			since = stored
		}
	}

	effective := since - lookbackSlack
	if effective < 0 {
		effective = 0
	}

	report := &Report{Tenant: tenant, Watermark: since}
	offset := 0
	for {
		page, err := e.source.SyncByLastModified(ctx, tenant, effective, deviceID, e.pageSize, offset)
		if err != nil {
			return report, fmt.Errorf("failed to page changes for %s: %w", tenant, err)
		}

		if offset == 0 && len(page.Tombstones) > 0 {
			e.applyTombstones(ctx, tenant, page.Tombstones, report)
		}

		if len(page.Records) == 0 {
			break
		}
		report.Scanned += len(page.Records)
		e.applyPage(ctx, tenant, page.Records, report)

		for _, rec := range page.Records {
			if rec.LastModified > report.Watermark {
				report.Watermark = rec.LastModified
			}
		}
		if len(page.Records) < e.pageSize {
			break
		}
		offset += len(page.Records)
	}

	// Only advance the checkpoint on a clean run so failed records are
	// retried by the next pass.
	if e.checkpoints != nil && len(report.Failures) == 0 && report.Watermark > since {
		if err := e.checkpoints.Set(tenant, report.Watermark); err != nil {
			return report, fmt.Errorf("failed to store checkpoint for %s: %w", tenant, err)
		}
	}

	e.logger.Info().
		Str("tenant", tenant).
		Int("scanned", report.Scanned).
		Int("upserted", report.Upserted).
		Int("deleted", report.Deleted).
		Int("failures", len(report.Failures)).
		Int64("watermark", report.Watermark).
		Msg("reconciliation pass complete")
	return report, nil
}

// applyPage upserts a page, falling back to per-record writes when the
// batch fails so one bad record cannot block the rest.
func (e *Engine) applyPage(ctx context.Context, tenant string, recs []*models.Record, report *Report) {
	recs = e.fillVectors(ctx, recs, report)
	if len(recs) == 0 {
		return
	}
	if err := e.target.UpsertMany(ctx, tenant, recs); err == nil {
		report.Upserted += len(recs)
		e.observe(recs)
		return
	}

	for _, rec := range recs {
		if _, err := e.target.Insert(ctx, rec); err != nil {
			report.Failures = append(report.Failures, Failure{UniqueID: rec.UniqueID, Err: err})
			continue
		}
		report.Upserted++
		e.observe([]*models.Record{rec})
	}
}

// fillVectors regenerates missing vectors, dropping records whose text
// cannot be embedded right now into the failure list.
func (e *Engine) fillVectors(ctx context.Context, recs []*models.Record, report *Report) []*models.Record {
	ready := recs[:0]
	for _, rec := range recs {
		if len(rec.Vector) > 0 || e.Embedder == nil {
			ready = append(ready, rec)
			continue
		}
		vec, err := e.Embedder.GenerateEmbedding(ctx, rec.EmbeddingText())
		if err != nil {
			report.Failures = append(report.Failures, Failure{UniqueID: rec.UniqueID, Err: err})
			continue
		}
		rec.Vector = vec
		ready = append(ready, rec)
	}
	return ready
}

// applyTombstones deletes records the source dropped in the sync window
func (e *Engine) applyTombstones(ctx context.Context, tenant string, stones []*models.Tombstone, report *Report) {
	ids := make([]string, 0, len(stones))
	for _, s := range stones {
		ids = append(ids, s.UniqueID)
	}
	if err := e.target.DeleteMany(ctx, tenant, ids); err != nil {
		for _, id := range ids {
			report.Failures = append(report.Failures, Failure{UniqueID: id, Err: err})
		}
		return
	}
	report.Deleted += len(ids)
}

func (e *Engine) observe(recs []*models.Record) {
	if e.OnRecord == nil {
		return
	}
	for _, rec := range recs {
		e.OnRecord(rec)
	}
}

// SyncAll reconciles every tenant with a stored checkpoint
func (e *Engine) SyncAll(ctx context.Context, deviceID string) ([]*Report, error) {
	if e.checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store required for SyncAll")
	}
	tenants, err := e.checkpoints.Tenants()
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	reports := make([]*Report, 0, len(tenants))
	for _, tenant := range tenants {
		report, err := e.SyncTenant(ctx, tenant, -1, deviceID)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
