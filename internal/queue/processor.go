// ABOUTME: Drains the durable retry queue against the secondary store
// ABOUTME: Preserves per-record ordering while draining distinct keys concurrently
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/constella-app/vecbridge/internal/models"
	"github.com/constella-app/vecbridge/internal/storage/sqlite"
	"github.com/constella-app/vecbridge/internal/store"
	"github.com/constella-app/vecbridge/internal/util"
)

// Options tunes the drain loop
type Options struct {
	Interval    time.Duration
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	BatchSize   int
	Concurrency int
	MaxAttempts int
}

// DefaultOptions returns the drain defaults
func DefaultOptions() Options {
	return Options{
		Interval:    5 * time.Second,
		BaseDelay:   2 * time.Second,
		MaxDelay:    5 * time.Minute,
		BatchSize:   100,
		Concurrency: 4,
		MaxAttempts: 8,
	}
}

// Processor replays queued mirror operations against the secondary store.
// Tasks sharing an ordering key run sequentially in submission order;
// different keys drain concurrently.
type Processor struct {
	tasks     *sqlite.TaskStore
	secondary store.Store
	opts      Options
	logger    zerolog.Logger
}

// NewProcessor creates a drain processor
func NewProcessor(tasks *sqlite.TaskStore, secondary store.Store, opts Options) *Processor {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 8
	}
	return &Processor{
		tasks:     tasks,
		secondary: secondary,
		opts:      opts,
		logger:    log.With().Str("component", "queue").Logger(),
	}
}

// Run drains on an interval until the context is canceled. Claimed tasks are
// released on shutdown so nothing stays stranded inflight.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		applied, err := p.DrainOnce(ctx)
		if err != nil {
			p.logger.Error().Err(err).Msg("drain pass failed")
		} else if applied > 0 {
			p.logger.Info().Int("applied", applied).Msg("drained retry tasks")
		}

		select {
		case <-ctx.Done():
			if err := p.tasks.Release(); err != nil {
				p.logger.Error().Err(err).Msg("failed to release inflight tasks")
			}
			return nil
		case <-ticker.C:
		}
	}
}

// DrainOnce claims due tasks and applies them, returning how many succeeded
func (p *Processor) DrainOnce(ctx context.Context) (int, error) {
	claimed, err := p.tasks.ClaimDue(time.Now(), p.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	// Group by ordering key, keeping claim order inside each group
	order := make([]string, 0, len(claimed))
	groups := make(map[string][]*models.RetryTask)
	for _, task := range claimed {
		key := task.GroupKey()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], task)
	}

	var applied atomic.Int64
	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for _, key := range order {
		group := groups[key]
		g.Go(func() error {
			applied.Add(int64(p.drainGroup(ctx, group)))
			return nil
		})
	}
	_ = g.Wait()
	return int(applied.Load()), nil
}

// drainGroup applies one key's tasks in order. A failure stops the group:
// the failed task backs off and the rest return to pending untouched, so
// replay never reorders writes to a record. The group is skipped entirely
// while an older task on the same key is still backing off outside the
// claimed batch; applying the newer writes first would let the older
// replay overwrite them later.
func (p *Processor) drainGroup(ctx context.Context, tasks []*models.RetryTask) int {
	head := tasks[0]
	blocked, err := p.tasks.PendingForKey(head.TenantName, head.RecordKey, head.CreatedAt)
	if err != nil || blocked {
		if err != nil {
			p.logger.Error().Err(err).Str("task", head.ID).Msg("failed to check key ordering")
		}
		p.releaseAll(tasks)
		return 0
	}

	applied := 0
	for i, task := range tasks {
		if err := p.apply(ctx, task); err != nil {
			delay := util.CalculateBackoff(p.opts.BaseDelay, task.Attempts+1, p.opts.MaxDelay)
			if ferr := p.tasks.Fail(task.ID, err, time.Now().Add(delay), p.opts.MaxAttempts); ferr != nil {
				p.logger.Error().Err(ferr).Str("task", task.ID).Msg("failed to record task failure")
			}
			p.logger.Warn().
				Err(err).
				Str("task", task.ID).
				Str("kind", string(task.Kind)).
				Int("attempts", task.Attempts+1).
				Msg("retry task failed")

			p.releaseAll(tasks[i+1:])
			return applied
		}
		if cerr := p.tasks.Complete(task.ID); cerr != nil {
			p.logger.Error().Err(cerr).Str("task", task.ID).Msg("failed to complete task")
		}
		applied++
	}
	return applied
}

// releaseAll returns held tasks to pending without counting an attempt
func (p *Processor) releaseAll(tasks []*models.RetryTask) {
	for _, held := range tasks {
		if rerr := p.tasks.ReleaseTask(held.ID); rerr != nil {
			p.logger.Error().Err(rerr).Str("task", held.ID).Msg("failed to release held task")
		}
	}
}

// apply replays one task against the secondary store. A record that has
// since been deleted settles the task instead of failing it.
func (p *Processor) apply(ctx context.Context, task *models.RetryTask) error {
	var err error
	switch task.Kind {
	case models.TaskInsert:
		if task.Payload.Record == nil {
			return fmt.Errorf("insert task %s has no record payload", task.ID)
		}
		_, err = p.secondary.Insert(ctx, task.Payload.Record)
	case models.TaskUpsertMany:
		err = p.secondary.UpsertMany(ctx, task.TenantName, task.Payload.Records)
	case models.TaskUpdateVector:
		err = p.secondary.UpdateVector(ctx, task.TenantName, task.Payload.UniqueID,
			task.Payload.Vector, task.Payload.Metadata)
	case models.TaskUpdateMetadata:
		err = p.secondary.UpdateMetadata(ctx, task.TenantName, task.Payload.UniqueID,
			task.Payload.Metadata)
	case models.TaskDelete:
		err = p.secondary.Delete(ctx, task.TenantName, task.Payload.UniqueID)
	case models.TaskDeleteMany:
		err = p.secondary.DeleteMany(ctx, task.TenantName, task.Payload.UniqueIDs)
	case models.TaskDeleteAll:
		err = p.secondary.DeleteAll(ctx, task.TenantName)
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}
