// ABOUTME: Backend-neutral vector record model with per-backend conversions
// ABOUTME: Defines record types, required fields, and Weaviate/Milvus shapes
package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSchemaMismatch is returned when a record has an unknown type or is
// missing a field required for its type. Checked before any store I/O.
var ErrSchemaMismatch = errors.New("schema mismatch")

// RecordType identifies the kind of content a record holds
type RecordType string

const (
	TypeNote      RecordType = "note"
	TypeTag       RecordType = "tag"
	TypeMisc      RecordType = "misc"
	TypeNoteBody  RecordType = "noteBody"
	TypeDailyNote RecordType = "dailyNote"
)

// typeFields maps each record type to the metadata fields it may carry.
// Field names match the Weaviate property names used by the clients.
var typeFields = map[RecordType][]string{
	TypeNote: {"title", "content", "filePath", "tags", "tagIds",
		"incomingConnections", "outgoingConnections",
		"fileData", "fileType", "fileText", "noteType"},
	TypeTag:       {"name", "color"},
	TypeNoteBody:  {"text", "referenceId", "referenceTitle", "type", "position", "journalDate"},
	TypeDailyNote: {"date", "content"},
	TypeMisc:      {"foreignId", "miscData", "startId", "startData", "endId", "endData"},
}

// requiredFields maps each record type to the fields that must be present
var requiredFields = map[RecordType][]string{
	TypeNote:      {"title"},
	TypeTag:       {"name"},
	TypeNoteBody:  {"text", "referenceId"},
	TypeDailyNote: {"date"},
	TypeMisc:      {"foreignId"},
}

// Record is one unit of user content, scoped to a tenant and searchable by
// vector similarity. (TenantName, UniqueID) is the key in both stores.
type Record struct {
	UniqueID           string         `json:"uniqueid"`
	TenantName         string         `json:"tenantName"`
	Vector             []float32      `json:"vector"`
	Type               RecordType     `json:"recordType"`
	Created            int64          `json:"created"`      // unix millis
	LastModified       int64          `json:"lastModified"` // unix millis, sync watermark
	LastUpdateDevice   string         `json:"lastUpdateDevice"`
	LastUpdateDeviceID string         `json:"lastUpdateDeviceId"`
	S3Path             string         `json:"s3Path,omitempty"`
	Fields             map[string]any `json:"fields"` // type-specific metadata
}

// Validate checks the record shape against its type. All conversions call
// this first so a malformed record is rejected before reaching a store.
func (r *Record) Validate() error {
	if r.TenantName == "" {
		return fmt.Errorf("%w: missing tenant name", ErrSchemaMismatch)
	}
	required, ok := requiredFields[r.Type]
	if !ok {
		return fmt.Errorf("%w: unknown record type %q", ErrSchemaMismatch, r.Type)
	}
	for _, f := range required {
		v, present := r.Fields[f]
		if !present || v == nil {
			return fmt.Errorf("%w: %s record missing required field %q", ErrSchemaMismatch, r.Type, f)
		}
		if s, isStr := v.(string); isStr && s == "" {
			return fmt.Errorf("%w: %s record missing required field %q", ErrSchemaMismatch, r.Type, f)
		}
	}
	return nil
}

// Key returns the per-record ordering key used by the retry queue
func (r *Record) Key() string {
	return r.TenantName + "/" + r.UniqueID
}

// NormalizeVector pads with zeros or truncates so the vector matches the
// backend schema dimension. The original clients did this for note vectors
// produced by older embedding models.
func (r *Record) NormalizeVector(dim int) {
	if dim <= 0 {
		return
	}
	switch {
	case len(r.Vector) < dim:
		padded := make([]float32, dim)
		copy(padded, r.Vector)
		r.Vector = padded
	case len(r.Vector) > dim:
		r.Vector = r.Vector[:dim]
	}
}

// EmbeddingText returns the text a record's vector is generated from
func (r *Record) EmbeddingText() string {
	get := func(f string) string { return asString(r.Fields[f]) }
	switch r.Type {
	case TypeNote:
		return get("title") + "\n" + get("content")
	case TypeTag:
		return get("name")
	case TypeNoteBody:
		return get("text")
	case TypeDailyNote:
		return get("date") + "\n" + get("content")
	case TypeMisc:
		return get("miscData")
	default:
		return ""
	}
}

// WeaviateObject is the primary store's native shape: the id and vector
// ride outside the property map.
type WeaviateObject struct {
	UniqueID   string
	Vector     []float32
	Properties map[string]any
}

// WeaviateObject converts the record to its primary-store shape. Pure:
// no I/O, the receiver is not modified.
func (r *Record) WeaviateObject() (*WeaviateObject, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	props := map[string]any{
		"created":            r.Created,
		"lastModified":       r.LastModified,
		"recordType":         string(r.Type),
		"lastUpdateDevice":   r.LastUpdateDevice,
		"lastUpdateDeviceId": r.LastUpdateDeviceID,
	}
	for _, f := range typeFields[r.Type] {
		if v, ok := r.Fields[f]; ok && v != nil {
			props[f] = v
		}
	}
	return &WeaviateObject{
		UniqueID:   r.UniqueID,
		Vector:     append([]float32(nil), r.Vector...),
		Properties: props,
	}, nil
}

// MilvusRow converts the record to the secondary store's flat row shape.
// The tenant rides in the row (partition key) and tags collapse to a JSON
// string for the VARCHAR column. Pure: no I/O, the receiver is not modified.
func (r *Record) MilvusRow() (map[string]any, error) {
	obj, err := r.WeaviateObject()
	if err != nil {
		return nil, err
	}
	row := make(map[string]any, len(obj.Properties)+3)
	for k, v := range obj.Properties {
		row[k] = v
	}
	row["uniqueid"] = r.UniqueID
	row["tenantName"] = r.TenantName
	row["vector"] = append([]float32(nil), r.Vector...)

	if tags, ok := row["tags"]; ok && tags != nil {
		if _, isStr := tags.(string); !isStr {
			encoded, err := json.Marshal(tags)
			if err != nil {
				encoded = []byte("[]")
			}
			row["tags"] = string(encoded)
		}
	}
	return row, nil
}

// FromWeaviateObject reconstructs a Record from the primary store's shape
func FromWeaviateObject(tenant string, obj *WeaviateObject) (*Record, error) {
	rec := &Record{
		UniqueID:   obj.UniqueID,
		TenantName: tenant,
		Vector:     append([]float32(nil), obj.Vector...),
		Fields:     map[string]any{},
	}
	rec.Type = RecordType(asString(obj.Properties["recordType"]))
	rec.Created = asInt64(obj.Properties["created"])
	rec.LastModified = asInt64(obj.Properties["lastModified"])
	rec.LastUpdateDevice = asString(obj.Properties["lastUpdateDevice"])
	rec.LastUpdateDeviceID = asString(obj.Properties["lastUpdateDeviceId"])
	for _, f := range typeFields[rec.Type] {
		if v, ok := obj.Properties[f]; ok && v != nil {
			rec.Fields[f] = v
		}
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// FromMilvusRow reconstructs a Record from the secondary store's flat row
func FromMilvusRow(row map[string]any) (*Record, error) {
	rec := &Record{
		UniqueID:   asString(row["uniqueid"]),
		TenantName: asString(row["tenantName"]),
		Fields:     map[string]any{},
	}
	if vec, ok := row["vector"].([]float32); ok {
		rec.Vector = append([]float32(nil), vec...)
	}
	rec.Type = RecordType(asString(row["recordType"]))
	rec.Created = asInt64(row["created"])
	rec.LastModified = asInt64(row["lastModified"])
	rec.LastUpdateDevice = asString(row["lastUpdateDevice"])
	rec.LastUpdateDeviceID = asString(row["lastUpdateDeviceId"])
	for _, f := range typeFields[rec.Type] {
		if v, ok := row[f]; ok && v != nil {
			rec.Fields[f] = v
		}
	}
	// tags come back as the JSON string stored in the VARCHAR column
	if raw, ok := rec.Fields["tags"].(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
			rec.Fields["tags"] = decoded
		}
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// MetadataFields returns the metadata field names valid for a record type,
// or nil for an unknown type.
func MetadataFields(t RecordType) []string {
	fields, ok := typeFields[t]
	if !ok {
		return nil
	}
	return append([]string(nil), fields...)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}
