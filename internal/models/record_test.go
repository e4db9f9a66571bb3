// ABOUTME: Unit tests for the record model and backend conversions
// ABOUTME: Covers validation, round-trips, and vector normalization
package models

import (
	"errors"
	"reflect"
	"testing"
)

func makeNote() *Record {
	return &Record{
		UniqueID:           "n1",
		TenantName:         "t1",
		Vector:             []float32{0.1, 0.2, 0.3},
		Type:               TypeNote,
		Created:            1700000000000,
		LastModified:       1700000001000,
		LastUpdateDevice:   "desktop",
		LastUpdateDeviceID: "dev-1",
		Fields: map[string]any{
			"title":   "meeting notes",
			"content": "discussed the rollout",
			"tagIds":  []string{"tag-1", "tag-2"},
			"tags":    []any{map[string]any{"uniqueid": "tag-1", "name": "work"}},
		},
	}
}

func TestRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Record)
		wantErr bool
	}{
		{"valid note", func(r *Record) {}, false},
		{"unknown type", func(r *Record) { r.Type = "video" }, true},
		{"missing tenant", func(r *Record) { r.TenantName = "" }, true},
		{"missing title", func(r *Record) { delete(r.Fields, "title") }, true},
		{"empty title", func(r *Record) { r.Fields["title"] = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := makeNote()
			tt.mutate(rec)
			err := rec.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrSchemaMismatch) {
					t.Fatalf("Expected ErrSchemaMismatch, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("Expected valid record, got %v", err)
			}
		})
	}
}

func TestWeaviateObjectRoundTrip(t *testing.T) {
	rec := makeNote()

	obj, err := rec.WeaviateObject()
	if err != nil {
		t.Fatalf("Failed to convert: %v", err)
	}

	if obj.UniqueID != "n1" {
		t.Errorf("Expected id n1, got %s", obj.UniqueID)
	}
	if obj.Properties["recordType"] != "note" {
		t.Errorf("Expected recordType note, got %v", obj.Properties["recordType"])
	}

	back, err := FromWeaviateObject("t1", obj)
	if err != nil {
		t.Fatalf("Failed to parse back: %v", err)
	}

	if back.UniqueID != rec.UniqueID || back.TenantName != rec.TenantName {
		t.Errorf("Key mismatch after round-trip: %s/%s", back.TenantName, back.UniqueID)
	}
	if back.LastModified != rec.LastModified || back.Created != rec.Created {
		t.Errorf("Timestamp mismatch after round-trip")
	}
	if !reflect.DeepEqual(back.Vector, rec.Vector) {
		t.Errorf("Vector mismatch after round-trip")
	}
	if back.Fields["title"] != "meeting notes" {
		t.Errorf("Expected title preserved, got %v", back.Fields["title"])
	}
}

func TestMilvusRowRoundTrip(t *testing.T) {
	types := []struct {
		recType RecordType
		fields  map[string]any
	}{
		{TypeNote, map[string]any{"title": "a note", "content": "body"}},
		{TypeTag, map[string]any{"name": "work", "color": "#ff0000"}},
		{TypeNoteBody, map[string]any{"text": "para", "referenceId": "n1"}},
		{TypeDailyNote, map[string]any{"date": "2025-03-01", "content": "today"}},
		{TypeMisc, map[string]any{"foreignId": "ext-1", "miscData": "{}"}},
	}

	for _, tt := range types {
		t.Run(string(tt.recType), func(t *testing.T) {
			rec := &Record{
				UniqueID:     "r1",
				TenantName:   "t1",
				Vector:       []float32{1, 2},
				Type:         tt.recType,
				Created:      100,
				LastModified: 200,
				Fields:       tt.fields,
			}

			row, err := rec.MilvusRow()
			if err != nil {
				t.Fatalf("Failed to convert: %v", err)
			}
			if row["tenantName"] != "t1" {
				t.Errorf("Expected tenantName in row, got %v", row["tenantName"])
			}

			back, err := FromMilvusRow(row)
			if err != nil {
				t.Fatalf("Failed to parse back: %v", err)
			}
			if back.Type != tt.recType {
				t.Errorf("Expected type %s, got %s", tt.recType, back.Type)
			}
			for k, v := range tt.fields {
				if back.Fields[k] != v {
					t.Errorf("Field %s: expected %v, got %v", k, v, back.Fields[k])
				}
			}
		})
	}
}

func TestMilvusRowEncodesTags(t *testing.T) {
	rec := makeNote()

	row, err := rec.MilvusRow()
	if err != nil {
		t.Fatalf("Failed to convert: %v", err)
	}

	encoded, ok := row["tags"].(string)
	if !ok {
		t.Fatalf("Expected tags as JSON string, got %T", row["tags"])
	}
	if encoded == "" || encoded == "[]" {
		t.Errorf("Expected encoded tags, got %q", encoded)
	}

	back, err := FromMilvusRow(row)
	if err != nil {
		t.Fatalf("Failed to parse back: %v", err)
	}
	if _, isStr := back.Fields["tags"].(string); isStr {
		t.Errorf("Expected tags decoded from JSON string on the way back")
	}
}

func TestConversionIsPure(t *testing.T) {
	rec := makeNote()
	original := append([]float32(nil), rec.Vector...)

	obj, err := rec.WeaviateObject()
	if err != nil {
		t.Fatalf("Failed to convert: %v", err)
	}
	obj.Vector[0] = 99
	obj.Properties["title"] = "mutated"

	if rec.Vector[0] != original[0] {
		t.Errorf("Conversion aliased the record vector")
	}
	if rec.Fields["title"] != "meeting notes" {
		t.Errorf("Conversion aliased the record fields")
	}
}

func TestNormalizeVector(t *testing.T) {
	rec := makeNote()

	rec.NormalizeVector(5)
	if len(rec.Vector) != 5 {
		t.Fatalf("Expected padded vector of 5, got %d", len(rec.Vector))
	}
	if rec.Vector[4] != 0 {
		t.Errorf("Expected zero padding, got %v", rec.Vector[4])
	}

	rec.NormalizeVector(2)
	if len(rec.Vector) != 2 {
		t.Fatalf("Expected truncated vector of 2, got %d", len(rec.Vector))
	}
}
