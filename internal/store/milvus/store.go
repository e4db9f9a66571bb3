// ABOUTME: Secondary store adapter backed by a partition-keyed Milvus collection
// ABOUTME: Mirrors every record operation; reads stay behind a cutover flag
package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/constella-app/vecbridge/internal/models"
	"github.com/constella-app/vecbridge/internal/store"
)

// idChunkSize bounds the id list per delete or get expression
const idChunkSize = 100

// jsonArrayFields are stored JSON-encoded in VARCHAR columns and decoded on read
var jsonArrayFields = map[string]bool{
	"tags": true, "tagIds": true,
	"incomingConnections": true, "outgoingConnections": true,
}

// Store implements store.Store against Milvus. Writes are always accepted so
// the mirror stays warm; reads return ErrReadsDisabled until the cutover flag
// is turned on.
type Store struct {
	client       *Client
	readsEnabled bool
	tombstones   store.Tombstones
}

// NewStore creates the secondary adapter. tombstones may be nil when deletion
// sync is not needed.
func NewStore(client *Client, readsEnabled bool, tombstones store.Tombstones) *Store {
	return &Store{client: client, readsEnabled: readsEnabled, tombstones: tombstones}
}

func (s *Store) readGate() error {
	if !s.readsEnabled {
		return store.ErrReadsDisabled
	}
	return nil
}

// Insert upserts one record, generating an id when the record has none
func (s *Store) Insert(ctx context.Context, rec *models.Record) (string, error) {
	if rec.UniqueID == "" {
		rec.UniqueID = uuid.NewString()
	}
	row, err := rec.MilvusRow()
	if err != nil {
		return "", err
	}
	if err := s.upsertRows(ctx, []map[string]any{row}); err != nil {
		return "", fmt.Errorf("failed to insert record %s: %w", rec.UniqueID, err)
	}
	return rec.UniqueID, nil
}

// UpsertMany batch-upserts records for one tenant
func (s *Store) UpsertMany(ctx context.Context, tenant string, recs []*models.Record) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		if rec.UniqueID == "" {
			rec.UniqueID = uuid.NewString()
		}
		row, err := rec.MilvusRow()
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if err := s.upsertRows(ctx, rows); err != nil {
		return fmt.Errorf("failed to upsert %d records: %w", len(rows), err)
	}
	return nil
}

// UpdateVector replaces a record's vector via read-modify-write. Milvus
// upserts want the full row, so the current row is fetched and merged.
func (s *Store) UpdateVector(ctx context.Context, tenant, uniqueID string, vector []float32, metadata map[string]any) error {
	row, err := s.fetchRow(ctx, tenant, uniqueID)
	if err != nil {
		return err
	}
	row[vectorField] = append([]float32(nil), vector...)
	for k, v := range metadata {
		row[k] = v
	}
	if err := s.upsertRows(ctx, []map[string]any{row}); err != nil {
		return fmt.Errorf("failed to update vector for %s: %w", uniqueID, err)
	}
	return nil
}

// UpdateMetadata merges metadata fields into an existing record
func (s *Store) UpdateMetadata(ctx context.Context, tenant, uniqueID string, metadata map[string]any) error {
	row, err := s.fetchRow(ctx, tenant, uniqueID)
	if err != nil {
		return err
	}
	for k, v := range metadata {
		row[k] = v
	}
	if err := s.upsertRows(ctx, []map[string]any{row}); err != nil {
		return fmt.Errorf("failed to update metadata for %s: %w", uniqueID, err)
	}
	return nil
}

// Delete removes one record; deleting an absent id is a no-op
func (s *Store) Delete(ctx context.Context, tenant, uniqueID string) error {
	expr := fmt.Sprintf("%s == %s && %s == %s",
		partitionField, quote(tenant), primaryField, quote(uniqueID))
	if err := s.client.api.Delete(ctx, s.client.collection, "", expr); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", uniqueID, err)
	}
	return nil
}

// DeleteMany removes records by id
func (s *Store) DeleteMany(ctx context.Context, tenant string, uniqueIDs []string) error {
	for start := 0; start < len(uniqueIDs); start += idChunkSize {
		end := start + idChunkSize
		if end > len(uniqueIDs) {
			end = len(uniqueIDs)
		}
		expr := fmt.Sprintf("%s == %s && %s in %s",
			partitionField, quote(tenant), primaryField, quoteList(uniqueIDs[start:end]))
		if err := s.client.api.Delete(ctx, s.client.collection, "", expr); err != nil {
			return fmt.Errorf("failed to delete %d records: %w", end-start, err)
		}
	}
	return nil
}

// DeleteAll removes every record in the tenant's partition
func (s *Store) DeleteAll(ctx context.Context, tenant string) error {
	expr := fmt.Sprintf("%s == %s", partitionField, quote(tenant))
	if err := s.client.api.Delete(ctx, s.client.collection, "", expr); err != nil {
		return fmt.Errorf("failed to delete tenant %s: %w", tenant, err)
	}
	return nil
}

// QueryByVector returns up to topK nearest records above the similarity
// threshold, most similar first.
func (s *Store) QueryByVector(ctx context.Context, tenant string, vector []float32, topK int, similarityThreshold float32) ([]store.SearchResult, error) {
	if err := s.readGate(); err != nil {
		return nil, err
	}

	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}
	expr := fmt.Sprintf("%s == %s", partitionField, quote(tenant))
	searchResults, err := s.client.api.Search(ctx, s.client.collection, nil, expr,
		s.outputFields(), []entity.Vector{entity.FloatVector(vector)},
		vectorField, entity.COSINE, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	var results []store.SearchResult
	for _, sr := range searchResults {
		rows := rowsFromColumns(sr.Fields, sr.ResultCount)
		for i, row := range rows {
			score := sr.Scores[i]
			if score < similarityThreshold {
				continue
			}
			rec, err := models.FromMilvusRow(row)
			if err != nil {
				continue
			}
			results = append(results, store.SearchResult{Record: rec, Score: score})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.LastModified > results[j].Record.LastModified
	})
	return results, nil
}

// QueryByKeyword matches text fields with substring expressions. Milvus has
// no lexical ranking here, so results come back most recent first.
func (s *Store) QueryByKeyword(ctx context.Context, tenant, keyword string, topK int) ([]store.SearchResult, error) {
	if err := s.readGate(); err != nil {
		return nil, err
	}

	needle := quote("%" + keyword + "%")
	textExprs := make([]string, 0, 5)
	for _, f := range []string{"title", "content", "text", "name", "fileText"} {
		textExprs = append(textExprs, fmt.Sprintf("%s like %s", f, needle))
	}
	expr := fmt.Sprintf("%s == %s && (%s)",
		partitionField, quote(tenant), strings.Join(textExprs, " || "))

	records, err := s.queryRecords(ctx, expr, int64(topK), 0)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LastModified > records[j].LastModified
	})
	results := make([]store.SearchResult, 0, len(records))
	for _, rec := range records {
		results = append(results, store.SearchResult{Record: rec})
	}
	return results, nil
}

// QueryByFilter returns records matching all filter conditions
func (s *Store) QueryByFilter(ctx context.Context, tenant string, conds []store.Filter, topK int) ([]*models.Record, error) {
	if err := s.readGate(); err != nil {
		return nil, err
	}
	expr, err := buildExpr(tenant, conds)
	if err != nil {
		return nil, err
	}
	return s.queryRecords(ctx, expr, int64(topK), 0)
}

// GetByID fetches one record, ErrNotFound when absent
func (s *Store) GetByID(ctx context.Context, tenant, uniqueID string) (*models.Record, error) {
	if err := s.readGate(); err != nil {
		return nil, err
	}
	row, err := s.fetchRow(ctx, tenant, uniqueID)
	if err != nil {
		return nil, err
	}
	return models.FromMilvusRow(row)
}

// GetByIDs fetches records by id in chunks; absent ids are skipped
func (s *Store) GetByIDs(ctx context.Context, tenant string, uniqueIDs []string) ([]*models.Record, error) {
	if err := s.readGate(); err != nil {
		return nil, err
	}
	var records []*models.Record
	for start := 0; start < len(uniqueIDs); start += idChunkSize {
		end := start + idChunkSize
		if end > len(uniqueIDs) {
			end = len(uniqueIDs)
		}
		expr := fmt.Sprintf("%s == %s && %s in %s",
			partitionField, quote(tenant), primaryField, quoteList(uniqueIDs[start:end]))
		chunk, err := s.queryRecords(ctx, expr, int64(end-start), 0)
		if err != nil {
			return nil, err
		}
		records = append(records, chunk...)
	}
	return records, nil
}

// GetMostRecent returns records ordered by descending lastModified
func (s *Store) GetMostRecent(ctx context.Context, tenant string, limit int) ([]*models.Record, error) {
	if err := s.readGate(); err != nil {
		return nil, err
	}
	expr := fmt.Sprintf("%s == %s", partitionField, quote(tenant))
	records, err := s.queryRecords(ctx, expr, int64(limit), 0)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LastModified > records[j].LastModified
	})
	return records, nil
}

// SyncByLastModified pages records modified since the watermark, excluding
// writes made by the requesting device. Tombstones ride on the first page.
func (s *Store) SyncByLastModified(ctx context.Context, tenant string, since int64, deviceID string, limit, offset int) (*store.SyncPage, error) {
	if err := s.readGate(); err != nil {
		return nil, err
	}
	expr := fmt.Sprintf("%s == %s && lastModified >= %d", partitionField, quote(tenant), since)
	if deviceID != "" {
		expr += fmt.Sprintf(" && lastUpdateDeviceId != %s", quote(deviceID))
	}
	records, err := s.queryRecords(ctx, expr, int64(limit), int64(offset))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LastModified < records[j].LastModified
	})

	page := &store.SyncPage{Records: records}
	if offset == 0 && s.tombstones != nil {
		stones, err := s.tombstones.Since(ctx, tenant, since)
		if err != nil {
			return nil, fmt.Errorf("failed to load tombstones: %w", err)
		}
		page.Tombstones = stones
	}
	return page, nil
}

// fetchRow loads one full row by primary key, bypassing the read gate so the
// write path's read-modify-write keeps working before cutover.
func (s *Store) fetchRow(ctx context.Context, tenant, uniqueID string) (map[string]any, error) {
	expr := fmt.Sprintf("%s == %s && %s == %s",
		partitionField, quote(tenant), primaryField, quote(uniqueID))
	rs, err := s.client.api.Query(ctx, s.client.collection, nil, expr, s.outputFields())
	if err != nil {
		return nil, fmt.Errorf("failed to query record %s: %w", uniqueID, err)
	}
	rows := rowsFromColumns(rs, rowCount(rs))
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: record %s", store.ErrNotFound, uniqueID)
	}
	return rows[0], nil
}

// queryRecords runs a scalar query and converts the rows, skipping any that
// fail validation.
func (s *Store) queryRecords(ctx context.Context, expr string, limit, offset int64) ([]*models.Record, error) {
	opts := []client.SearchQueryOptionFunc{client.WithLimit(limit)}
	if offset > 0 {
		opts = append(opts, client.WithOffset(offset))
	}
	rs, err := s.client.api.Query(ctx, s.client.collection, nil, expr, s.outputFields(), opts...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	rows := rowsFromColumns(rs, rowCount(rs))
	records := make([]*models.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := models.FromMilvusRow(row)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// upsertRows converts flat rows to the full static column set and upserts.
// Fields a record type does not carry are filled with zero values so every
// column has the same length.
func (s *Store) upsertRows(ctx context.Context, rows []map[string]any) error {
	n := len(rows)
	ids := make([]string, n)
	tenants := make([]string, n)
	vectors := make([][]float32, n)
	varchars := make(map[string][]string, len(varcharFields))
	ints := make(map[string][]int64, len(int64Fields))
	for _, f := range varcharFields {
		varchars[f] = make([]string, n)
	}
	for _, f := range int64Fields {
		ints[f] = make([]int64, n)
	}

	for i, row := range rows {
		ids[i] = asString(row[primaryField])
		tenants[i] = asString(row[partitionField])
		if vec, ok := row[vectorField].([]float32); ok {
			vectors[i] = vec
		} else {
			vectors[i] = make([]float32, s.client.dim)
		}
		for _, f := range varcharFields {
			varchars[f][i] = stringify(row[f])
		}
		for _, f := range int64Fields {
			ints[f][i] = asInt64(row[f])
		}
	}

	columns := make([]entity.Column, 0, 3+len(varcharFields)+len(int64Fields))
	columns = append(columns,
		entity.NewColumnVarChar(primaryField, ids),
		entity.NewColumnVarChar(partitionField, tenants),
		entity.NewColumnFloatVector(vectorField, s.client.dim, vectors),
	)
	for _, f := range varcharFields {
		columns = append(columns, entity.NewColumnVarChar(f, varchars[f]))
	}
	for _, f := range int64Fields {
		columns = append(columns, entity.NewColumnInt64(f, ints[f]))
	}

	_, err := s.client.api.Upsert(ctx, s.client.collection, "", columns...)
	return err
}

// outputFields lists every column for queries and searches
func (s *Store) outputFields() []string {
	fields := make([]string, 0, 3+len(varcharFields)+len(int64Fields))
	fields = append(fields, primaryField, partitionField, vectorField)
	fields = append(fields, varcharFields...)
	fields = append(fields, int64Fields...)
	return fields
}

// rowsFromColumns inverts a column-oriented result set into flat rows.
// Empty VARCHAR values are dropped and JSON-encoded arrays decoded back.
func rowsFromColumns(columns []entity.Column, count int) []map[string]any {
	rows := make([]map[string]any, count)
	for i := range rows {
		rows[i] = map[string]any{}
	}
	for _, col := range columns {
		name := col.Name()
		switch c := col.(type) {
		case *entity.ColumnVarChar:
			for i := 0; i < count; i++ {
				v, err := c.ValueByIdx(i)
				if err != nil || v == "" {
					continue
				}
				if jsonArrayFields[name] {
					var decoded any
					if err := json.Unmarshal([]byte(v), &decoded); err == nil {
						rows[i][name] = decoded
						continue
					}
				}
				rows[i][name] = v
			}
		case *entity.ColumnInt64:
			for i := 0; i < count; i++ {
				if v, err := c.ValueByIdx(i); err == nil {
					rows[i][name] = v
				}
			}
		case *entity.ColumnFloatVector:
			data := c.Data()
			for i := 0; i < count && i < len(data); i++ {
				rows[i][name] = data[i]
			}
		}
	}
	return rows
}

// rowCount returns the shortest column length, the safe row count to read
func rowCount(columns []entity.Column) int {
	count := 0
	for i, col := range columns {
		if i == 0 || col.Len() < count {
			count = col.Len()
		}
	}
	return count
}

// buildExpr translates backend-neutral filters to a Milvus boolean expression
func buildExpr(tenant string, conds []store.Filter) (string, error) {
	parts := []string{fmt.Sprintf("%s == %s", partitionField, quote(tenant))}
	for _, c := range conds {
		switch c.Op {
		case store.FilterEq:
			parts = append(parts, fmt.Sprintf("%s == %s", c.Field, quoteValue(c.Value)))
		case store.FilterNeq:
			parts = append(parts, fmt.Sprintf("%s != %s", c.Field, quoteValue(c.Value)))
		case store.FilterGte:
			parts = append(parts, fmt.Sprintf("%s >= %s", c.Field, quoteValue(c.Value)))
		case store.FilterLte:
			parts = append(parts, fmt.Sprintf("%s <= %s", c.Field, quoteValue(c.Value)))
		case store.FilterContainsAny:
			parts = append(parts, fmt.Sprintf("%s in %s", c.Field, quoteList(c.Values)))
		default:
			return "", fmt.Errorf("unsupported filter op %q", c.Op)
		}
	}
	return strings.Join(parts, " && "), nil
}

func quote(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

func quoteValue(v any) string {
	switch x := v.(type) {
	case string:
		return quote(x)
	case bool:
		return fmt.Sprintf("%t", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quote(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
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
	default:
		return 0
	}
}

// stringify renders a metadata value for its VARCHAR column; non-string
// values (tag arrays, connection lists) are JSON-encoded.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		encoded, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
