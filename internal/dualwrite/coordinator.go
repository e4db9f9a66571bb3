// ABOUTME: Dual-write coordinator that keeps the secondary store shadowing the primary
// ABOUTME: Primary failures surface to the caller, secondary failures become retry tasks
package dualwrite

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/constella-app/vecbridge/internal/models"
	"github.com/constella-app/vecbridge/internal/store"
)

// TaskQueue is the durable sink for failed mirror operations
type TaskQueue interface {
	Enqueue(task *models.RetryTask) error
}

// SecondaryFailure describes one mirror attempt that had to be deferred
type SecondaryFailure struct {
	Task  *models.RetryTask
	Cause error
}

// Coordinator implements store.Store by writing to the primary first and
// mirroring successful writes to the secondary. The caller only ever sees
// the primary's outcome; a failed mirror is queued for replay.
type Coordinator struct {
	primary    store.Store
	secondary  store.Store
	queue      TaskQueue
	tombstones store.Tombstones

	mirrorTimeout time.Duration
	logger        zerolog.Logger

	// OnSecondaryFailure, when set, observes each deferred mirror. Tests
	// and metrics hooks use it; the write path never blocks on it.
	OnSecondaryFailure func(SecondaryFailure)
}

// New creates a coordinator. tombstones may be nil to skip deletion markers.
func New(primary, secondary store.Store, queue TaskQueue, tombstones store.Tombstones, mirrorTimeout time.Duration) *Coordinator {
	if mirrorTimeout <= 0 {
		mirrorTimeout = 3 * time.Second
	}
	return &Coordinator{
		primary:       primary,
		secondary:     secondary,
		queue:         queue,
		tombstones:    tombstones,
		mirrorTimeout: mirrorTimeout,
		logger:        log.With().Str("component", "dualwrite").Logger(),
	}
}

// mirror runs a secondary-store operation decoupled from the caller's
// cancellation, bounded by the mirror timeout. On failure the prepared task
// is enqueued for replay and the error never reaches the caller.
func (c *Coordinator) mirror(ctx context.Context, task *models.RetryTask, op func(context.Context) error) {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.mirrorTimeout)
	defer cancel()

	err := op(mctx)
	if err == nil {
		return
	}
	// A mirror replaying onto an already-deleted record is settled, not failed
	if errors.Is(err, store.ErrNotFound) {
		return
	}

	c.logger.Warn().
		Err(err).
		Str("kind", string(task.Kind)).
		Str("tenant", task.TenantName).
		Str("key", task.RecordKey).
		Msg("secondary write failed, queueing for retry")

	if qerr := c.queue.Enqueue(task); qerr != nil {
		// Divergence until the next reconciliation run
		c.logger.Error().
			Err(qerr).
			Str("kind", string(task.Kind)).
			Str("tenant", task.TenantName).
			Msg("failed to enqueue retry task")
	}
	if c.OnSecondaryFailure != nil {
		c.OnSecondaryFailure(SecondaryFailure{Task: task, Cause: err})
	}
}

// Insert writes the record to the primary, then mirrors it
func (c *Coordinator) Insert(ctx context.Context, rec *models.Record) (string, error) {
	id, err := c.primary.Insert(ctx, rec)
	if err != nil {
		return "", err
	}
	rec.UniqueID = id

	task := models.NewRetryTask(rec.TenantName, id, models.TaskInsert,
		models.TaskPayload{Record: rec})
	c.mirror(ctx, task, func(mctx context.Context) error {
		_, err := c.secondary.Insert(mctx, rec)
		return err
	})
	return id, nil
}

// UpsertMany batch-writes to the primary, then mirrors the batch
func (c *Coordinator) UpsertMany(ctx context.Context, tenant string, recs []*models.Record) error {
	if err := c.primary.UpsertMany(ctx, tenant, recs); err != nil {
		return err
	}

	task := models.NewRetryTask(tenant, models.BatchKey, models.TaskUpsertMany,
		models.TaskPayload{Records: recs})
	c.mirror(ctx, task, func(mctx context.Context) error {
		return c.secondary.UpsertMany(mctx, tenant, recs)
	})
	return nil
}

// UpdateVector updates the primary's vector, then mirrors the update
func (c *Coordinator) UpdateVector(ctx context.Context, tenant, uniqueID string, vector []float32, metadata map[string]any) error {
	if err := c.primary.UpdateVector(ctx, tenant, uniqueID, vector, metadata); err != nil {
		return err
	}

	task := models.NewRetryTask(tenant, uniqueID, models.TaskUpdateVector,
		models.TaskPayload{UniqueID: uniqueID, Vector: vector, Metadata: metadata})
	c.mirror(ctx, task, func(mctx context.Context) error {
		return c.secondary.UpdateVector(mctx, tenant, uniqueID, vector, metadata)
	})
	return nil
}

// UpdateMetadata merges metadata on the primary, then mirrors the merge
func (c *Coordinator) UpdateMetadata(ctx context.Context, tenant, uniqueID string, metadata map[string]any) error {
	if err := c.primary.UpdateMetadata(ctx, tenant, uniqueID, metadata); err != nil {
		return err
	}

	task := models.NewRetryTask(tenant, uniqueID, models.TaskUpdateMetadata,
		models.TaskPayload{UniqueID: uniqueID, Metadata: metadata})
	c.mirror(ctx, task, func(mctx context.Context) error {
		return c.secondary.UpdateMetadata(mctx, tenant, uniqueID, metadata)
	})
	return nil
}

// Delete removes the record from the primary, records a tombstone, then
// mirrors the deletion.
func (c *Coordinator) Delete(ctx context.Context, tenant, uniqueID string) error {
	if err := c.primary.Delete(ctx, tenant, uniqueID); err != nil {
		return err
	}
	c.recordTombstones(ctx, tenant, []string{uniqueID})

	task := models.NewRetryTask(tenant, uniqueID, models.TaskDelete,
		models.TaskPayload{UniqueID: uniqueID})
	c.mirror(ctx, task, func(mctx context.Context) error {
		return c.secondary.Delete(mctx, tenant, uniqueID)
	})
	return nil
}

// DeleteMany removes records from the primary, records tombstones, then
// mirrors the deletion.
func (c *Coordinator) DeleteMany(ctx context.Context, tenant string, uniqueIDs []string) error {
	if err := c.primary.DeleteMany(ctx, tenant, uniqueIDs); err != nil {
		return err
	}
	c.recordTombstones(ctx, tenant, uniqueIDs)

	task := models.NewRetryTask(tenant, models.BatchKey, models.TaskDeleteMany,
		models.TaskPayload{UniqueIDs: uniqueIDs})
	c.mirror(ctx, task, func(mctx context.Context) error {
		return c.secondary.DeleteMany(mctx, tenant, uniqueIDs)
	})
	return nil
}

// DeleteAll wipes the tenant's partition on the primary, then mirrors the wipe
func (c *Coordinator) DeleteAll(ctx context.Context, tenant string) error {
	if err := c.primary.DeleteAll(ctx, tenant); err != nil {
		return err
	}

	task := models.NewRetryTask(tenant, models.BatchKey, models.TaskDeleteAll,
		models.TaskPayload{})
	c.mirror(ctx, task, func(mctx context.Context) error {
		return c.secondary.DeleteAll(mctx, tenant)
	})
	return nil
}

// recordTombstones writes deletion markers, best effort
func (c *Coordinator) recordTombstones(ctx context.Context, tenant string, uniqueIDs []string) {
	if c.tombstones == nil {
		return
	}
	now := time.Now().UnixMilli()
	stones := make([]*models.Tombstone, 0, len(uniqueIDs))
	for _, id := range uniqueIDs {
		stones = append(stones, &models.Tombstone{
			UniqueID:     id,
			TenantName:   tenant,
			LastModified: now,
		})
	}
	if err := c.tombstones.Record(ctx, stones); err != nil {
		c.logger.Error().Err(err).Str("tenant", tenant).Msg("failed to record tombstones")
	}
}

// Reads go straight to the primary; the secondary stays write-only until
// its reads are turned on and callers point at it directly.

func (c *Coordinator) QueryByVector(ctx context.Context, tenant string, vector []float32, topK int, similarityThreshold float32) ([]store.SearchResult, error) {
	return c.primary.QueryByVector(ctx, tenant, vector, topK, similarityThreshold)
}

func (c *Coordinator) QueryByKeyword(ctx context.Context, tenant, keyword string, topK int) ([]store.SearchResult, error) {
	return c.primary.QueryByKeyword(ctx, tenant, keyword, topK)
}

func (c *Coordinator) QueryByFilter(ctx context.Context, tenant string, filters []store.Filter, topK int) ([]*models.Record, error) {
	return c.primary.QueryByFilter(ctx, tenant, filters, topK)
}

func (c *Coordinator) GetByID(ctx context.Context, tenant, uniqueID string) (*models.Record, error) {
	return c.primary.GetByID(ctx, tenant, uniqueID)
}

func (c *Coordinator) GetByIDs(ctx context.Context, tenant string, uniqueIDs []string) ([]*models.Record, error) {
	return c.primary.GetByIDs(ctx, tenant, uniqueIDs)
}

func (c *Coordinator) GetMostRecent(ctx context.Context, tenant string, limit int) ([]*models.Record, error) {
	return c.primary.GetMostRecent(ctx, tenant, limit)
}

func (c *Coordinator) SyncByLastModified(ctx context.Context, tenant string, since int64, deviceID string, limit, offset int) (*store.SyncPage, error) {
	return c.primary.SyncByLastModified(ctx, tenant, since, deviceID, limit, offset)
}

var _ store.Store = (*Coordinator)(nil)
