// ABOUTME: Unit tests for retry task persistence
// ABOUTME: Covers enqueue, claim, failure backoff, dead-letter, and requeue
package sqlite

import (
	"errors"
	"testing"
	"time"

	"github.com/constella-app/vecbridge/internal/models"
)

func newTaskStore(t *testing.T) *TaskStore {
	t.Helper()
	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewTaskStore(db)
}

func TestEnqueueAndClaim(t *testing.T) {
	store := newTaskStore(t)

	task := models.NewRetryTask("t1", "n1", models.TaskInsert, models.TaskPayload{UniqueID: "n1"})
	if err := store.Enqueue(task); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	claimed, err := store.ClaimDue(time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("Expected 1 claimed task, got %d", len(claimed))
	}
	if claimed[0].ID != task.ID || claimed[0].Kind != models.TaskInsert {
		t.Errorf("Claimed wrong task: %+v", claimed[0])
	}
	if claimed[0].Payload.UniqueID != "n1" {
		t.Errorf("Payload not preserved: %+v", claimed[0].Payload)
	}

	// A second claim must not see the inflight task
	again, err := store.ClaimDue(time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("Failed to claim again: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("Expected inflight task to be invisible, got %d", len(again))
	}
}

func TestClaimSkipsFutureTasks(t *testing.T) {
	store := newTaskStore(t)

	task := models.NewRetryTask("t1", "n1", models.TaskDelete, models.TaskPayload{UniqueID: "n1"})
	task.NextAttemptAt = time.Now().Add(time.Hour)
	if err := store.Enqueue(task); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	claimed, err := store.ClaimDue(time.Now(), 10)
	if err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Errorf("Expected no due tasks, got %d", len(claimed))
	}
}

func TestClaimOrdersByCreation(t *testing.T) {
	store := newTaskStore(t)

	older := models.NewRetryTask("t1", "n1", models.TaskUpdateMetadata, models.TaskPayload{UniqueID: "n1"})
	older.CreatedAt = time.Now().UTC().Add(-time.Minute)
	newer := models.NewRetryTask("t1", "n1", models.TaskUpdateVector, models.TaskPayload{UniqueID: "n1"})

	// Enqueue newest first to prove ordering comes from created_at
	if err := store.Enqueue(newer); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if err := store.Enqueue(older); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	claimed, err := store.ClaimDue(time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", len(claimed))
	}
	if claimed[0].ID != older.ID {
		t.Errorf("Expected oldest task first, got %s", claimed[0].Kind)
	}
}

func TestFailBacksOffThenDeadLetters(t *testing.T) {
	store := newTaskStore(t)

	task := models.NewRetryTask("t1", "n1", models.TaskInsert, models.TaskPayload{UniqueID: "n1"})
	if err := store.Enqueue(task); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	maxAttempts := 3
	cause := errors.New("milvus timeout")
	for i := 0; i < maxAttempts; i++ {
		claimed, err := store.ClaimDue(time.Now().Add(time.Hour), 10)
		if err != nil {
			t.Fatalf("Failed to claim on attempt %d: %v", i, err)
		}
		if len(claimed) != 1 {
			t.Fatalf("Expected 1 task on attempt %d, got %d", i, len(claimed))
		}
		if err := store.Fail(task.ID, cause, time.Now(), maxAttempts); err != nil {
			t.Fatalf("Failed to record failure: %v", err)
		}
	}

	// Exhausted: must be dead-lettered, not deleted
	pending, inflight, dead, err := store.Depth()
	if err != nil {
		t.Fatalf("Failed to get depth: %v", err)
	}
	if pending != 0 || inflight != 0 || dead != 1 {
		t.Errorf("Expected 0/0/1, got %d/%d/%d", pending, inflight, dead)
	}

	letters, err := store.DeadLetters("t1", 10)
	if err != nil {
		t.Fatalf("Failed to list dead letters: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("Expected 1 dead letter, got %d", len(letters))
	}
	if letters[0].Attempts != maxAttempts {
		t.Errorf("Expected %d attempts, got %d", maxAttempts, letters[0].Attempts)
	}
	if letters[0].LastError != "milvus timeout" {
		t.Errorf("Expected cause retained, got %q", letters[0].LastError)
	}
}

func TestRequeueDeadLetter(t *testing.T) {
	store := newTaskStore(t)

	task := models.NewRetryTask("t1", "n1", models.TaskInsert, models.TaskPayload{UniqueID: "n1"})
	if err := store.Enqueue(task); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if _, err := store.ClaimDue(time.Now().Add(time.Second), 10); err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}
	if err := store.Fail(task.ID, errors.New("down"), time.Now(), 1); err != nil {
		t.Fatalf("Failed to fail: %v", err)
	}

	if err := store.Requeue(task.ID); err != nil {
		t.Fatalf("Failed to requeue: %v", err)
	}

	claimed, err := store.ClaimDue(time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].Attempts != 0 {
		t.Errorf("Expected requeued task with fresh attempts, got %+v", claimed)
	}

	// Requeueing a non-dead task must fail
	if err := store.Requeue(task.ID); err == nil {
		t.Errorf("Expected error requeueing inflight task")
	}
}

func TestCompleteRemovesTask(t *testing.T) {
	store := newTaskStore(t)

	task := models.NewRetryTask("t1", "n1", models.TaskDelete, models.TaskPayload{UniqueID: "n1"})
	if err := store.Enqueue(task); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if err := store.Complete(task.ID); err != nil {
		t.Fatalf("Failed to complete: %v", err)
	}

	pending, inflight, dead, err := store.Depth()
	if err != nil {
		t.Fatalf("Failed to get depth: %v", err)
	}
	if pending+inflight+dead != 0 {
		t.Errorf("Expected empty queue, got %d/%d/%d", pending, inflight, dead)
	}
}

func TestReleaseReturnsInflight(t *testing.T) {
	store := newTaskStore(t)

	task := models.NewRetryTask("t1", "n1", models.TaskInsert, models.TaskPayload{UniqueID: "n1"})
	if err := store.Enqueue(task); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if _, err := store.ClaimDue(time.Now().Add(time.Second), 10); err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}

	if err := store.Release(); err != nil {
		t.Fatalf("Failed to release: %v", err)
	}

	claimed, err := store.ClaimDue(time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("Failed to claim after release: %v", err)
	}
	if len(claimed) != 1 {
		t.Errorf("Expected released task claimable, got %d", len(claimed))
	}
}
