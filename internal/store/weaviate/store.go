// ABOUTME: Primary store adapter backed by Weaviate multi-tenant classes
// ABOUTME: Implements every record operation with a consistency retry ladder on reads
package weaviate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/data/replication"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	wvmodels "github.com/weaviate/weaviate/entities/models"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"

	"github.com/constella-app/vecbridge/internal/models"
	"github.com/constella-app/vecbridge/internal/store"
)

// idChunkSize bounds the ContainsAny id list per query; very large id sets
// are split into multiple requests.
const idChunkSize = 100

// fallbackPageSize is the page size used to retry a failed large read
const fallbackPageSize = 50

// Store implements store.Store against Weaviate. Writes go straight through
// at the backend's default consistency; reads walk a retry ladder that ends
// in a single degraded attempt before giving up.
type Store struct {
	client     *Client
	readTries  int
	tombstones store.Tombstones
}

// NewStore creates the primary adapter. tombstones may be nil when deletion
// sync is not needed (e.g. backfill runs).
func NewStore(client *Client, readTries int, tombstones store.Tombstones) *Store {
	if readTries < 1 {
		readTries = 1
	}
	return &Store{client: client, readTries: readTries, tombstones: tombstones}
}

// withTenantRetry runs a write, provisioning the tenant and retrying once
// when the partition does not exist yet.
func (s *Store) withTenantRetry(ctx context.Context, tenant string, fn func() error) error {
	err := fn()
	if err == nil || !isTenantError(err) {
		return err
	}
	if terr := s.client.EnsureTenant(ctx, tenant); terr != nil {
		return terr
	}
	return fn()
}

// readLadder runs a read at consistency ALL up to readTries times, then once
// at consistency ONE. Not-found and validation errors short-circuit; anything
// else surfaces as ErrPrimaryUnavailable.
func (s *Store) readLadder(ctx context.Context, fn func(consistency string) error) error {
	var lastErr error
	for attempt := 0; attempt < s.readTries; attempt++ {
		lastErr = fn(replication.ConsistencyLevel.ALL)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, store.ErrNotFound) || errors.Is(lastErr, models.ErrSchemaMismatch) {
			return lastErr
		}
	}
	log.Warn().Err(lastErr).Msg("consistent read failed, retrying degraded")
	if err := fn(replication.ConsistencyLevel.ONE); err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, models.ErrSchemaMismatch) {
			return err
		}
		return fmt.Errorf("%w: %v", store.ErrPrimaryUnavailable, err)
	}
	return nil
}

// Insert upserts one record, generating an id when the record has none
func (s *Store) Insert(ctx context.Context, rec *models.Record) (string, error) {
	if rec.UniqueID == "" {
		rec.UniqueID = uuid.NewString()
	}
	obj, err := rec.WeaviateObject()
	if err != nil {
		return "", err
	}

	err = s.withTenantRetry(ctx, rec.TenantName, func() error {
		// Batch path so an existing id is overwritten instead of rejected
		_, err := s.client.api.Batch().ObjectsBatcher().
			WithObjects(&wvmodels.Object{
				Class:      s.client.class,
				ID:         strfmt.UUID(obj.UniqueID),
				Tenant:     rec.TenantName,
				Properties: obj.Properties,
				Vector:     obj.Vector,
			}).
			Do(ctx)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to insert record %s: %w", rec.UniqueID, err)
	}
	return rec.UniqueID, nil
}

// UpsertMany batch-upserts records for one tenant
func (s *Store) UpsertMany(ctx context.Context, tenant string, recs []*models.Record) error {
	if len(recs) == 0 {
		return nil
	}
	objects := make([]*wvmodels.Object, 0, len(recs))
	for _, rec := range recs {
		if rec.UniqueID == "" {
			rec.UniqueID = uuid.NewString()
		}
		obj, err := rec.WeaviateObject()
		if err != nil {
			return err
		}
		objects = append(objects, &wvmodels.Object{
			Class:      s.client.class,
			ID:         strfmt.UUID(obj.UniqueID),
			Tenant:     tenant,
			Properties: obj.Properties,
			Vector:     obj.Vector,
		})
	}

	return s.withTenantRetry(ctx, tenant, func() error {
		resp, err := s.client.api.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert %d records: %w", len(objects), err)
		}
		for _, r := range resp {
			if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
				return fmt.Errorf("failed to upsert record %s: %s", r.ID, r.Result.Errors.Error[0].Message)
			}
		}
		return nil
	})
}

// UpdateVector replaces a record's vector, merging in metadata when present
func (s *Store) UpdateVector(ctx context.Context, tenant, uniqueID string, vector []float32, metadata map[string]any) error {
	props := map[string]any{}
	for k, v := range metadata {
		props[k] = v
	}
	err := s.withTenantRetry(ctx, tenant, func() error {
		return s.client.api.Data().Updater().
			WithMerge().
			WithClassName(s.client.class).
			WithID(uniqueID).
			WithTenant(tenant).
			WithProperties(props).
			WithVector(vector).
			Do(ctx)
	})
	if isStatus(err, 404) {
		return fmt.Errorf("%w: record %s", store.ErrNotFound, uniqueID)
	}
	if err != nil {
		return fmt.Errorf("failed to update vector for %s: %w", uniqueID, err)
	}
	return nil
}

// UpdateMetadata merges metadata fields into an existing record
func (s *Store) UpdateMetadata(ctx context.Context, tenant, uniqueID string, metadata map[string]any) error {
	err := s.withTenantRetry(ctx, tenant, func() error {
		return s.client.api.Data().Updater().
			WithMerge().
			WithClassName(s.client.class).
			WithID(uniqueID).
			WithTenant(tenant).
			WithProperties(metadata).
			Do(ctx)
	})
	if isStatus(err, 404) {
		return fmt.Errorf("%w: record %s", store.ErrNotFound, uniqueID)
	}
	if err != nil {
		return fmt.Errorf("failed to update metadata for %s: %w", uniqueID, err)
	}
	return nil
}

// Delete removes one record; deleting an absent id is a no-op
func (s *Store) Delete(ctx context.Context, tenant, uniqueID string) error {
	err := s.client.api.Data().Deleter().
		WithClassName(s.client.class).
		WithID(uniqueID).
		WithTenant(tenant).
		Do(ctx)
	if err == nil || isStatus(err, 404) || isTenantError(err) {
		return nil
	}
	return fmt.Errorf("failed to delete record %s: %w", uniqueID, err)
}

// DeleteMany removes records by id
func (s *Store) DeleteMany(ctx context.Context, tenant string, uniqueIDs []string) error {
	if len(uniqueIDs) == 0 {
		return nil
	}
	for start := 0; start < len(uniqueIDs); start += idChunkSize {
		end := min(start+idChunkSize, len(uniqueIDs))
		where := filters.Where().
			WithPath([]string{"id"}).
			WithOperator(filters.ContainsAny).
			WithValueText(uniqueIDs[start:end]...)
		_, err := s.client.api.Batch().ObjectsBatchDeleter().
			WithClassName(s.client.class).
			WithTenant(tenant).
			WithWhere(where).
			WithOutput("minimal").
			Do(ctx)
		if err != nil && !isTenantError(err) {
			return fmt.Errorf("failed to delete %d records: %w", end-start, err)
		}
	}
	return nil
}

// DeleteAll drops the tenant's partition entirely. The tenant is recreated
// on the next write.
func (s *Store) DeleteAll(ctx context.Context, tenant string) error {
	err := s.client.api.Schema().TenantsDeleter().
		WithClassName(s.client.class).
		WithTenants(tenant).
		Do(ctx)
	if err != nil && !isStatus(err, 404) && !isTenantError(err) {
		return fmt.Errorf("failed to delete tenant %s: %w", tenant, err)
	}
	s.client.ForgetTenant(tenant)
	return nil
}

// QueryByVector returns up to topK nearest records above the similarity
// threshold, most similar first.
func (s *Store) QueryByVector(ctx context.Context, tenant string, vector []float32, topK int, similarityThreshold float32) ([]store.SearchResult, error) {
	// Weaviate certainty is (1+cosine)/2
	certainty := (1 + similarityThreshold) / 2

	var results []store.SearchResult
	err := s.readLadder(ctx, func(consistency string) error {
		nearVector := s.client.api.GraphQL().NearVectorArgBuilder().
			WithVector(vector).
			WithCertainty(certainty)
		resp, err := s.client.api.GraphQL().Get().
			WithClassName(s.client.class).
			WithTenant(tenant).
			WithNearVector(nearVector).
			WithLimit(topK).
			WithFields(s.queryFields()...).
			WithConsistencyLevel(consistency).
			Do(ctx)
		if err != nil {
			return err
		}
		hits, err := s.parseHits(resp, tenant)
		if err != nil {
			return err
		}
		results = results[:0]
		for _, h := range hits {
			results = append(results, store.SearchResult{
				Record: h.record,
				Score:  float32(2*h.certainty - 1),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByScore(results)
	return results, nil
}

// QueryByKeyword searches text fields with BM25
func (s *Store) QueryByKeyword(ctx context.Context, tenant, keyword string, topK int) ([]store.SearchResult, error) {
	var results []store.SearchResult
	err := s.readLadder(ctx, func(consistency string) error {
		bm25 := s.client.api.GraphQL().Bm25ArgBuilder().
			WithQuery(keyword).
			WithProperties("title", "content", "text", "name", "fileText")
		resp, err := s.client.api.GraphQL().Get().
			WithClassName(s.client.class).
			WithTenant(tenant).
			WithBM25(bm25).
			WithLimit(topK).
			WithFields(s.queryFields()...).
			WithConsistencyLevel(consistency).
			Do(ctx)
		if err != nil {
			return err
		}
		hits, err := s.parseHits(resp, tenant)
		if err != nil {
			return err
		}
		results = results[:0]
		for _, h := range hits {
			results = append(results, store.SearchResult{Record: h.record, Score: float32(h.score)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// QueryByFilter returns records matching all filter conditions
func (s *Store) QueryByFilter(ctx context.Context, tenant string, conds []store.Filter, topK int) ([]*models.Record, error) {
	where, err := buildWhere(conds)
	if err != nil {
		return nil, err
	}

	var records []*models.Record
	err = s.readLadder(ctx, func(consistency string) error {
		builder := s.client.api.GraphQL().Get().
			WithClassName(s.client.class).
			WithTenant(tenant).
			WithLimit(topK).
			WithFields(s.queryFields()...).
			WithConsistencyLevel(consistency)
		if where != nil {
			builder = builder.WithWhere(where)
		}
		resp, err := builder.Do(ctx)
		if err != nil {
			return err
		}
		hits, err := s.parseHits(resp, tenant)
		if err != nil {
			return err
		}
		records = records[:0]
		for _, h := range hits {
			records = append(records, h.record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetByID fetches one record, ErrNotFound when absent
func (s *Store) GetByID(ctx context.Context, tenant, uniqueID string) (*models.Record, error) {
	var rec *models.Record
	err := s.readLadder(ctx, func(consistency string) error {
		objects, err := s.client.api.Data().ObjectsGetter().
			WithClassName(s.client.class).
			WithID(uniqueID).
			WithTenant(tenant).
			WithVector().
			WithConsistencyLevel(consistency).
			Do(ctx)
		if isStatus(err, 404) || isTenantError(err) {
			return fmt.Errorf("%w: record %s", store.ErrNotFound, uniqueID)
		}
		if err != nil {
			return err
		}
		if len(objects) == 0 {
			return fmt.Errorf("%w: record %s", store.ErrNotFound, uniqueID)
		}
		obj := objects[0]
		props, _ := obj.Properties.(map[string]any)
		rec, err = models.FromWeaviateObject(tenant, &models.WeaviateObject{
			UniqueID:   string(obj.ID),
			Vector:     obj.Vector,
			Properties: props,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetByIDs fetches records by id in chunks; absent ids are skipped
func (s *Store) GetByIDs(ctx context.Context, tenant string, uniqueIDs []string) ([]*models.Record, error) {
	var records []*models.Record
	for start := 0; start < len(uniqueIDs); start += idChunkSize {
		end := min(start+idChunkSize, len(uniqueIDs))
		chunk := uniqueIDs[start:end]

		where := filters.Where().
			WithPath([]string{"id"}).
			WithOperator(filters.ContainsAny).
			WithValueText(chunk...)
		err := s.readLadder(ctx, func(consistency string) error {
			resp, err := s.client.api.GraphQL().Get().
				WithClassName(s.client.class).
				WithTenant(tenant).
				WithWhere(where).
				WithLimit(len(chunk)).
				WithFields(s.queryFields()...).
				WithConsistencyLevel(consistency).
				Do(ctx)
			if err != nil {
				return err
			}
			hits, err := s.parseHits(resp, tenant)
			if err != nil {
				return err
			}
			for _, h := range hits {
				records = append(records, h.record)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}

// GetMostRecent returns records ordered by descending lastModified. A failed
// large read is retried in smaller pages before giving up.
func (s *Store) GetMostRecent(ctx context.Context, tenant string, limit int) ([]*models.Record, error) {
	records, err := s.mostRecentPage(ctx, tenant, limit, 0)
	if err == nil {
		return records, nil
	}
	if limit <= fallbackPageSize || errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	var all []*models.Record
	for offset := 0; offset < limit; offset += fallbackPageSize {
		size := min(fallbackPageSize, limit-offset)
		page, perr := s.mostRecentPage(ctx, tenant, size, offset)
		if perr != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < size {
			break
		}
	}
	return all, nil
}

func (s *Store) mostRecentPage(ctx context.Context, tenant string, limit, offset int) ([]*models.Record, error) {
	var records []*models.Record
	err := s.readLadder(ctx, func(consistency string) error {
		resp, err := s.client.api.GraphQL().Get().
			WithClassName(s.client.class).
			WithTenant(tenant).
			WithSort(graphql.Sort{Path: []string{"lastModified"}, Order: graphql.Desc}).
			WithLimit(limit).
			WithOffset(offset).
			WithFields(s.queryFields()...).
			WithConsistencyLevel(consistency).
			Do(ctx)
		if err != nil {
			return err
		}
		hits, err := s.parseHits(resp, tenant)
		if err != nil {
			return err
		}
		records = records[:0]
		for _, h := range hits {
			records = append(records, h.record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SyncByLastModified pages records modified since the watermark, excluding
// writes made by the requesting device. Tombstones ride on the first page.
func (s *Store) SyncByLastModified(ctx context.Context, tenant string, since int64, deviceID string, limit, offset int) (*store.SyncPage, error) {
	operands := []*filters.WhereBuilder{
		filters.Where().
			WithPath([]string{"lastModified"}).
			WithOperator(filters.GreaterThanEqual).
			WithValueInt(since),
	}
	if deviceID != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"lastUpdateDeviceId"}).
			WithOperator(filters.NotEqual).
			WithValueText(deviceID))
	}
	where := operands[0]
	if len(operands) > 1 {
		where = filters.Where().WithOperator(filters.And).WithOperands(operands)
	}

	page := &store.SyncPage{}
	err := s.readLadder(ctx, func(consistency string) error {
		resp, err := s.client.api.GraphQL().Get().
			WithClassName(s.client.class).
			WithTenant(tenant).
			WithWhere(where).
			WithSort(graphql.Sort{Path: []string{"lastModified"}, Order: graphql.Asc}).
			WithLimit(limit).
			WithOffset(offset).
			WithFields(s.queryFields()...).
			WithConsistencyLevel(consistency).
			Do(ctx)
		if err != nil {
			return err
		}
		hits, err := s.parseHits(resp, tenant)
		if err != nil {
			return err
		}
		page.Records = page.Records[:0]
		for _, h := range hits {
			page.Records = append(page.Records, h.record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if offset == 0 && s.tombstones != nil {
		stones, err := s.tombstones.Since(ctx, tenant, since)
		if err != nil {
			return nil, fmt.Errorf("failed to load tombstones: %w", err)
		}
		page.Tombstones = stones
	}
	return page, nil
}

type hit struct {
	record    *models.Record
	certainty float64
	score     float64
}

// queryFields lists every property plus the _additional block for GraphQL gets
func (s *Store) queryFields() []graphql.Field {
	fields := make([]graphql.Field, 0, len(textProps)+len(textArrayProps)+len(intProps)+1)
	for _, name := range textProps {
		fields = append(fields, graphql.Field{Name: name})
	}
	for _, name := range textArrayProps {
		fields = append(fields, graphql.Field{Name: name})
	}
	for _, name := range intProps {
		fields = append(fields, graphql.Field{Name: name})
	}
	fields = append(fields, graphql.Field{
		Name: "_additional",
		Fields: []graphql.Field{
			{Name: "id"},
			{Name: "vector"},
			{Name: "certainty"},
			{Name: "score"},
		},
	})
	return fields
}

// parseHits unpacks a GraphQL Get response into records
func (s *Store) parseHits(resp *wvmodels.GraphQLResponse, tenant string) ([]hit, error) {
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("graphql query failed: %s", resp.Errors[0].Message)
	}
	get, ok := resp.Data["Get"].(map[string]any)
	if !ok {
		return nil, nil
	}
	items, ok := get[s.client.class].([]any)
	if !ok {
		return nil, nil
	}

	hits := make([]hit, 0, len(items))
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		h := hit{}
		obj := &models.WeaviateObject{Properties: map[string]any{}}
		for k, v := range item {
			if k == "_additional" {
				continue
			}
			obj.Properties[k] = v
		}
		if additional, ok := item["_additional"].(map[string]any); ok {
			if id, ok := additional["id"].(string); ok {
				obj.UniqueID = id
			}
			if vec, ok := additional["vector"].([]any); ok {
				obj.Vector = make([]float32, len(vec))
				for i, v := range vec {
					if f, ok := v.(float64); ok {
						obj.Vector[i] = float32(f)
					}
				}
			}
			if c, ok := additional["certainty"].(float64); ok {
				h.certainty = c
			}
			switch sc := additional["score"].(type) {
			case float64:
				h.score = sc
			case string:
				fmt.Sscanf(sc, "%g", &h.score)
			}
		}
		rec, err := models.FromWeaviateObject(tenant, obj)
		if err != nil {
			// Skip malformed rows rather than failing the whole page
			log.Warn().Err(err).Str("id", obj.UniqueID).Msg("skipping malformed record")
			continue
		}
		h.record = rec
		hits = append(hits, h)
	}
	return hits, nil
}

// buildWhere translates backend-neutral filters to a Weaviate where clause
func buildWhere(conds []store.Filter) (*filters.WhereBuilder, error) {
	if len(conds) == 0 {
		return nil, nil
	}
	operands := make([]*filters.WhereBuilder, 0, len(conds))
	for _, c := range conds {
		w := filters.Where().WithPath([]string{c.Field})
		switch c.Op {
		case store.FilterEq:
			w = w.WithOperator(filters.Equal)
		case store.FilterNeq:
			w = w.WithOperator(filters.NotEqual)
		case store.FilterGte:
			w = w.WithOperator(filters.GreaterThanEqual)
		case store.FilterLte:
			w = w.WithOperator(filters.LessThanEqual)
		case store.FilterContainsAny:
			operands = append(operands, w.
				WithOperator(filters.ContainsAny).
				WithValueText(c.Values...))
			continue
		default:
			return nil, fmt.Errorf("unsupported filter op %q", c.Op)
		}
		switch v := c.Value.(type) {
		case string:
			w = w.WithValueText(v)
		case bool:
			w = w.WithValueBoolean(v)
		case int:
			w = w.WithValueInt(int64(v))
		case int64:
			w = w.WithValueInt(v)
		case float64:
			w = w.WithValueNumber(v)
		default:
			return nil, fmt.Errorf("unsupported filter value type %T for field %s", c.Value, c.Field)
		}
		operands = append(operands, w)
	}
	if len(operands) == 1 {
		return operands[0], nil
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands), nil
}

// sortByScore orders by descending score, ties broken by recency
func sortByScore(results []store.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.LastModified > results[j].Record.LastModified
	})
}

// isStatus reports whether err is a Weaviate client error with the status code
func isStatus(err error, code int) bool {
	var clientErr *fault.WeaviateClientError
	return errors.As(err, &clientErr) && clientErr.StatusCode == code
}
