// ABOUTME: Tests for the dual-write coordinator
// ABOUTME: Verifies failure isolation, task capture, tombstones, and tenant scoping
package dualwrite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/constella-app/vecbridge/internal/models"
	"github.com/constella-app/vecbridge/internal/store/storetest"
)

type captureQueue struct {
	tasks []*models.RetryTask
	err   error
}

func (q *captureQueue) Enqueue(task *models.RetryTask) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func note(tenant, id, title string) *models.Record {
	return &models.Record{
		UniqueID:     id,
		TenantName:   tenant,
		Type:         models.TypeNote,
		Vector:       []float32{0.1, 0.2, 0.3},
		LastModified: time.Now().UnixMilli(),
		Fields:       map[string]any{"title": title},
	}
}

func newCoordinator() (*Coordinator, *storetest.Fake, *storetest.Fake, *captureQueue, *storetest.FakeTombstones) {
	primary := storetest.NewFake()
	secondary := storetest.NewFake()
	queue := &captureQueue{}
	stones := storetest.NewFakeTombstones()
	return New(primary, secondary, queue, stones, time.Second), primary, secondary, queue, stones
}

func TestInsertMirrorsToSecondary(t *testing.T) {
	coord, _, secondary, queue, _ := newCoordinator()

	id, err := coord.Insert(context.Background(), note("t1", "n1", "hello"))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if id != "n1" {
		t.Errorf("Expected id n1, got %s", id)
	}
	if len(secondary.Records("t1")) != 1 {
		t.Errorf("Expected record mirrored to secondary")
	}
	if len(queue.tasks) != 0 {
		t.Errorf("Expected no retry tasks, got %d", len(queue.tasks))
	}
}

func TestPrimaryFailureNeverTouchesSecondary(t *testing.T) {
	coord, primary, secondary, queue, _ := newCoordinator()
	primary.FailNext(1, errors.New("weaviate down"))

	_, err := coord.Insert(context.Background(), note("t1", "n1", "hello"))
	if err == nil {
		t.Fatal("Expected primary error to surface")
	}
	if secondary.CallCount("insert") != 0 {
		t.Errorf("Secondary must not be touched when primary fails")
	}
	if len(queue.tasks) != 0 {
		t.Errorf("No retry task should be queued on primary failure, got %d", len(queue.tasks))
	}
}

func TestSecondaryFailureQueuesTaskAndHidesError(t *testing.T) {
	coord, primary, secondary, queue, _ := newCoordinator()
	secondary.FailNext(1, errors.New("milvus down"))

	var observed []SecondaryFailure
	coord.OnSecondaryFailure = func(f SecondaryFailure) { observed = append(observed, f) }

	rec := note("t1", "n1", "hello")
	id, err := coord.Insert(context.Background(), rec)
	if err != nil {
		t.Fatalf("Caller must not see secondary failure: %v", err)
	}
	if len(primary.Records("t1")) != 1 {
		t.Errorf("Primary write should have landed")
	}

	if len(queue.tasks) != 1 {
		t.Fatalf("Expected 1 retry task, got %d", len(queue.tasks))
	}
	task := queue.tasks[0]
	if task.Kind != models.TaskInsert || task.TenantName != "t1" || task.RecordKey != id {
		t.Errorf("Task captured wrong operation: %+v", task)
	}
	if task.Attempts != 0 || task.State != models.TaskPending {
		t.Errorf("Task should start pending with zero attempts: %+v", task)
	}
	if task.Payload.Record == nil || task.Payload.Record.UniqueID != id {
		t.Errorf("Task payload must carry the record: %+v", task.Payload)
	}
	if len(observed) != 1 || observed[0].Cause == nil {
		t.Errorf("Failure hook should have fired once with the cause")
	}
}

func TestUpsertManyUsesBatchKey(t *testing.T) {
	coord, _, secondary, queue, _ := newCoordinator()
	secondary.FailNext(1, errors.New("milvus down"))

	recs := []*models.Record{note("t1", "n1", "a"), note("t1", "n2", "b")}
	if err := coord.UpsertMany(context.Background(), "t1", recs); err != nil {
		t.Fatalf("UpsertMany failed: %v", err)
	}
	if len(queue.tasks) != 1 {
		t.Fatalf("Expected 1 retry task, got %d", len(queue.tasks))
	}
	task := queue.tasks[0]
	if task.Kind != models.TaskUpsertMany || task.RecordKey != models.BatchKey {
		t.Errorf("Batch task should use the batch key: %+v", task)
	}
	if len(task.Payload.Records) != 2 {
		t.Errorf("Payload should carry both records, got %d", len(task.Payload.Records))
	}
}

func TestUpdateVectorMirrors(t *testing.T) {
	coord, primary, secondary, queue, _ := newCoordinator()
	primary.Seed(note("t1", "n1", "hello"))
	secondary.Seed(note("t1", "n1", "hello"))

	vec := []float32{0.9, 0.8, 0.7}
	err := coord.UpdateVector(context.Background(), "t1", "n1", vec, map[string]any{"content": "updated"})
	if err != nil {
		t.Fatalf("UpdateVector failed: %v", err)
	}

	for _, f := range []*storetest.Fake{primary, secondary} {
		recs := f.Records("t1")
		if len(recs) != 1 || recs[0].Vector[0] != 0.9 {
			t.Errorf("Vector not updated: %+v", recs)
		}
		if recs[0].Fields["content"] != "updated" {
			t.Errorf("Metadata not merged: %+v", recs[0].Fields)
		}
	}
	if len(queue.tasks) != 0 {
		t.Errorf("Expected no retry tasks, got %d", len(queue.tasks))
	}
}

func TestDeleteRecordsTombstone(t *testing.T) {
	coord, primary, secondary, _, stones := newCoordinator()
	primary.Seed(note("t1", "n1", "hello"))
	secondary.Seed(note("t1", "n1", "hello"))

	if err := coord.Delete(context.Background(), "t1", "n1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if len(primary.Records("t1")) != 0 || len(secondary.Records("t1")) != 0 {
		t.Errorf("Record should be gone from both stores")
	}
	if len(stones.Stones) != 1 || stones.Stones[0].UniqueID != "n1" {
		t.Errorf("Expected tombstone for n1, got %+v", stones.Stones)
	}
}

func TestDeleteAllScopedToTenant(t *testing.T) {
	coord, primary, secondary, _, _ := newCoordinator()
	primary.Seed(note("t1", "n1", "a"), note("t2", "n2", "b"))
	secondary.Seed(note("t1", "n1", "a"), note("t2", "n2", "b"))

	if err := coord.DeleteAll(context.Background(), "t1"); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	if len(primary.Records("t1")) != 0 || len(secondary.Records("t1")) != 0 {
		t.Errorf("Tenant t1 should be empty")
	}
	if len(primary.Records("t2")) != 1 || len(secondary.Records("t2")) != 1 {
		t.Errorf("Tenant t2 must be untouched")
	}
}

func TestMirrorSurvivesCallerCancellation(t *testing.T) {
	coord, _, secondary, queue, _ := newCoordinator()

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // caller already gone

	// The fakes ignore ctx, so only the mirror's context plumbing is in play:
	// a canceled caller context must not poison the mirror attempt.
	if _, err := coord.Insert(ctx, note("t1", "n1", "hello")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if len(secondary.Records("t1")) != 1 {
		t.Errorf("Mirror should run despite canceled caller context")
	}
	if len(queue.tasks) != 0 {
		t.Errorf("Expected no retry tasks, got %d", len(queue.tasks))
	}
}

func TestReadsDelegateToPrimary(t *testing.T) {
	coord, primary, secondary, _, _ := newCoordinator()
	primary.Seed(note("t1", "n1", "hello"))

	rec, err := coord.GetByID(context.Background(), "t1", "n1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if rec.UniqueID != "n1" {
		t.Errorf("Wrong record: %+v", rec)
	}
	if secondary.CallCount("get_by_id") != 0 {
		t.Errorf("Reads must not hit the secondary")
	}
}
