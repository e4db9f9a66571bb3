// ABOUTME: Unit tests for the retry task model
// ABOUTME: Covers construction defaults, grouping keys, and payload codec
package models

import (
	"testing"
	"time"
)

func TestNewRetryTaskDefaults(t *testing.T) {
	task := NewRetryTask("t1", "n1", TaskInsert, TaskPayload{UniqueID: "n1"})

	if task.ID == "" {
		t.Errorf("Expected generated id")
	}
	if task.Attempts != 0 {
		t.Errorf("Expected attempts 0, got %d", task.Attempts)
	}
	if task.State != TaskPending {
		t.Errorf("Expected pending state, got %s", task.State)
	}
	if task.NextAttemptAt.After(time.Now().UTC().Add(time.Second)) {
		t.Errorf("Expected task due immediately")
	}
	if task.GroupKey() != "t1/n1" {
		t.Errorf("Expected group key t1/n1, got %s", task.GroupKey())
	}
}

func TestTaskPayloadCodec(t *testing.T) {
	task := NewRetryTask("t1", BatchKey, TaskDeleteMany, TaskPayload{
		UniqueIDs: []string{"a", "b"},
	})

	data, err := task.MarshalPayload()
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	loaded := &RetryTask{}
	if err := loaded.UnmarshalPayload(data); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	if len(loaded.Payload.UniqueIDs) != 2 || loaded.Payload.UniqueIDs[0] != "a" {
		t.Errorf("Payload not preserved: %+v", loaded.Payload)
	}
}

func TestTaskPayloadCarriesRecord(t *testing.T) {
	rec := makeNote()
	task := NewRetryTask(rec.TenantName, rec.UniqueID, TaskInsert, TaskPayload{Record: rec})

	data, err := task.MarshalPayload()
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	loaded := &RetryTask{}
	if err := loaded.UnmarshalPayload(data); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	got := loaded.Payload.Record
	if got == nil || got.UniqueID != "n1" || got.LastModified != rec.LastModified {
		t.Errorf("Record not preserved through payload codec: %+v", got)
	}
}
