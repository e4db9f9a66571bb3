// ABOUTME: Retry task model for deferred secondary-store operations
// ABOUTME: Captures the operation kind, payload, and retry lifecycle state
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskKind names the mutating operation a retry task will replay
type TaskKind string

const (
	TaskInsert         TaskKind = "insert"
	TaskUpsertMany     TaskKind = "upsert_many"
	TaskUpdateVector   TaskKind = "update_vector"
	TaskUpdateMetadata TaskKind = "update_metadata"
	TaskDelete         TaskKind = "delete"
	TaskDeleteMany     TaskKind = "delete_many"
	TaskDeleteAll      TaskKind = "delete_all"
)

// TaskState is the retry lifecycle state
type TaskState string

const (
	TaskPending      TaskState = "pending"
	TaskInFlight     TaskState = "inflight"
	TaskDeadLettered TaskState = "dead"
)

// BatchKey is the ordering key used by tasks that touch many records
// (upsert_many, delete_many, delete_all). Batch tasks for a tenant
// serialize against each other.
const BatchKey = "*"

// TaskPayload holds the original arguments of the mirrored operation,
// captured at enqueue time. Only the fields relevant to the kind are set.
type TaskPayload struct {
	Record    *Record        `json:"record,omitempty"`
	Records   []*Record      `json:"records,omitempty"`
	UniqueID  string         `json:"uniqueid,omitempty"`
	UniqueIDs []string       `json:"uniqueids,omitempty"`
	Vector    []float32      `json:"vector,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RetryTask is one deferred mirror operation against the secondary store
type RetryTask struct {
	ID            string      `json:"id"`
	TenantName    string      `json:"tenantName"`
	RecordKey     string      `json:"recordKey"` // unique id, or BatchKey for multi-record ops
	Kind          TaskKind    `json:"kind"`
	Payload       TaskPayload `json:"payload"`
	Attempts      int         `json:"attempts"`
	NextAttemptAt time.Time   `json:"nextAttemptAt"`
	CreatedAt     time.Time   `json:"createdAt"`
	State         TaskState   `json:"state"`
	LastError     string      `json:"lastError,omitempty"`
}

// NewRetryTask builds a pending task due immediately
func NewRetryTask(tenant, recordKey string, kind TaskKind, payload TaskPayload) *RetryTask {
	now := time.Now().UTC()
	return &RetryTask{
		ID:            uuid.New().String(),
		TenantName:    tenant,
		RecordKey:     recordKey,
		Kind:          kind,
		Payload:       payload,
		Attempts:      0,
		NextAttemptAt: now,
		CreatedAt:     now,
		State:         TaskPending,
	}
}

// GroupKey identifies the per-record ordering domain for the drainer
func (t *RetryTask) GroupKey() string {
	return t.TenantName + "/" + t.RecordKey
}

// MarshalPayload encodes the payload for durable storage
func (t *RetryTask) MarshalPayload() ([]byte, error) {
	data, err := json.Marshal(t.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}
	return data, nil
}

// UnmarshalPayload decodes a payload loaded from durable storage
func (t *RetryTask) UnmarshalPayload(data []byte) error {
	if err := json.Unmarshal(data, &t.Payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	return nil
}

// Tombstone records a deletion so device sync can propagate it. Kept when
// records are deleted; s3Path lets blob cleanup find orphaned uploads.
type Tombstone struct {
	UniqueID     string     `json:"uniqueid"`
	TenantName   string     `json:"tenantName"`
	RecordType   RecordType `json:"recordType"`
	LastModified int64      `json:"lastModified"`
	S3Path       string     `json:"s3Path,omitempty"`
}
