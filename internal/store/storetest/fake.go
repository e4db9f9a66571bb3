// ABOUTME: In-memory Store implementation for tests
// ABOUTME: Supports failure injection, call recording, and tenant isolation
package storetest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/constella-app/vecbridge/internal/models"
	"github.com/constella-app/vecbridge/internal/store"
)

// Fake is an in-memory store.Store. Mutations are idempotent upserts keyed
// by (tenant, uniqueid), matching the contract both adapters provide.
type Fake struct {
	mu      sync.Mutex
	tenants map[string]map[string]*models.Record

	// failures remaining; while positive, every operation returns failErr
	failCount int
	failErr   error

	// Calls records operation names in invocation order
	Calls []string

	// Tombs, when set, supplies tombstones for the first sync page
	Tombs store.Tombstones
}

// NewFake creates an empty fake store
func NewFake() *Fake {
	return &Fake{tenants: map[string]map[string]*models.Record{}}
}

// FailNext makes the next n operations fail with err
func (f *Fake) FailNext(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCount = n
	f.failErr = err
}

// CallCount returns how many times op was invoked
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, c := range f.Calls {
		if c == op {
			count++
		}
	}
	return count
}

// Records returns a copy of a tenant's records
func (f *Fake) Records(tenant string) []*models.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	recs := make([]*models.Record, 0, len(f.tenants[tenant]))
	for _, r := range f.tenants[tenant] {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].UniqueID < recs[j].UniqueID })
	return recs
}

// Seed inserts records directly, bypassing failure injection
func (f *Fake) Seed(recs ...*models.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range recs {
		f.put(r)
	}
}

func (f *Fake) put(r *models.Record) {
	byID, ok := f.tenants[r.TenantName]
	if !ok {
		byID = map[string]*models.Record{}
		f.tenants[r.TenantName] = byID
	}
	clone := *r
	byID[r.UniqueID] = &clone
}

func (f *Fake) begin(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, op)
	if f.failCount > 0 {
		f.failCount--
		return f.failErr
	}
	return nil
}

func (f *Fake) Insert(ctx context.Context, rec *models.Record) (string, error) {
	if err := f.begin("insert"); err != nil {
		return "", err
	}
	if err := rec.Validate(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.UniqueID == "" {
		rec.UniqueID = uuid.New().String()
	}
	f.put(rec)
	return rec.UniqueID, nil
}

func (f *Fake) UpsertMany(ctx context.Context, tenant string, recs []*models.Record) error {
	if err := f.begin("upsert_many"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range recs {
		r.TenantName = tenant
		f.put(r)
	}
	return nil
}

func (f *Fake) UpdateVector(ctx context.Context, tenant, uniqueID string, vector []float32, metadata map[string]any) error {
	if err := f.begin("update_vector"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.tenants[tenant][uniqueID]
	if !ok {
		return nil
	}
	rec.Vector = append([]float32(nil), vector...)
	for k, v := range metadata {
		rec.Fields[k] = v
	}
	return nil
}

func (f *Fake) UpdateMetadata(ctx context.Context, tenant, uniqueID string, metadata map[string]any) error {
	if err := f.begin("update_metadata"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.tenants[tenant][uniqueID]
	if !ok {
		return nil
	}
	for k, v := range metadata {
		if k == "lastModified" {
			if n, ok := v.(int64); ok {
				rec.LastModified = n
			}
			continue
		}
		rec.Fields[k] = v
	}
	return nil
}

func (f *Fake) Delete(ctx context.Context, tenant, uniqueID string) error {
	if err := f.begin("delete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tenants[tenant], uniqueID)
	return nil
}

func (f *Fake) DeleteMany(ctx context.Context, tenant string, uniqueIDs []string) error {
	if err := f.begin("delete_many"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range uniqueIDs {
		delete(f.tenants[tenant], id)
	}
	return nil
}

func (f *Fake) DeleteAll(ctx context.Context, tenant string) error {
	if err := f.begin("delete_all"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tenants, tenant)
	return nil
}

func (f *Fake) QueryByVector(ctx context.Context, tenant string, vector []float32, topK int, similarityThreshold float32) ([]store.SearchResult, error) {
	if err := f.begin("query_by_vector"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var results []store.SearchResult
	for _, rec := range f.tenants[tenant] {
		score := cosine(vector, rec.Vector)
		if score < similarityThreshold {
			continue
		}
		results = append(results, store.SearchResult{Record: rec, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.LastModified > results[j].Record.LastModified
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (f *Fake) QueryByKeyword(ctx context.Context, tenant, keyword string, topK int) ([]store.SearchResult, error) {
	if err := f.begin("query_by_keyword"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var results []store.SearchResult
	for _, rec := range f.tenants[tenant] {
		title, _ := rec.Fields["title"].(string)
		content, _ := rec.Fields["content"].(string)
		if strings.Contains(strings.ToLower(title+" "+content), strings.ToLower(keyword)) {
			results = append(results, store.SearchResult{Record: rec, Score: 1})
		}
		if len(results) >= topK {
			break
		}
	}
	return results, nil
}

func (f *Fake) QueryByFilter(ctx context.Context, tenant string, filters []store.Filter, topK int) ([]*models.Record, error) {
	if err := f.begin("query_by_filter"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var recs []*models.Record
	for _, rec := range f.tenants[tenant] {
		if matchesFilters(rec, filters) {
			recs = append(recs, rec)
		}
		if len(recs) >= topK {
			break
		}
	}
	return recs, nil
}

func (f *Fake) GetByID(ctx context.Context, tenant, uniqueID string) (*models.Record, error) {
	if err := f.begin("get_by_id"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.tenants[tenant][uniqueID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, uniqueID)
	}
	clone := *rec
	return &clone, nil
}

func (f *Fake) GetByIDs(ctx context.Context, tenant string, uniqueIDs []string) ([]*models.Record, error) {
	if err := f.begin("get_by_ids"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var recs []*models.Record
	for _, id := range uniqueIDs {
		if rec, ok := f.tenants[tenant][id]; ok {
			clone := *rec
			recs = append(recs, &clone)
		}
	}
	return recs, nil
}

func (f *Fake) GetMostRecent(ctx context.Context, tenant string, limit int) ([]*models.Record, error) {
	if err := f.begin("get_most_recent"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	recs := make([]*models.Record, 0, len(f.tenants[tenant]))
	for _, r := range f.tenants[tenant] {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].LastModified > recs[j].LastModified })
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (f *Fake) SyncByLastModified(ctx context.Context, tenant string, since int64, deviceID string, limit, offset int) (*store.SyncPage, error) {
	if err := f.begin("sync_by_last_modified"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var recs []*models.Record
	for _, r := range f.tenants[tenant] {
		if r.LastModified < since {
			continue
		}
		if deviceID != "" && r.LastUpdateDeviceID == deviceID {
			continue
		}
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].LastModified != recs[j].LastModified {
			return recs[i].LastModified < recs[j].LastModified
		}
		return recs[i].UniqueID < recs[j].UniqueID
	})
	if offset >= len(recs) {
		recs = nil
	} else {
		recs = recs[offset:]
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	page := &store.SyncPage{}
	for _, r := range recs {
		clone := *r
		page.Records = append(page.Records, &clone)
	}
	if offset == 0 && f.Tombs != nil {
		stones, err := f.Tombs.Since(ctx, tenant, since)
		if err != nil {
			return nil, err
		}
		page.Tombstones = stones
	}
	return page, nil
}

func matchesFilters(rec *models.Record, filters []store.Filter) bool {
	for _, flt := range filters {
		var val any
		switch flt.Field {
		case "recordType":
			val = string(rec.Type)
		case "lastModified":
			val = rec.LastModified
		default:
			val = rec.Fields[flt.Field]
		}
		switch flt.Op {
		case store.FilterEq:
			if val != flt.Value {
				return false
			}
		case store.FilterNeq:
			if val == flt.Value {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// FakeTombstones is an in-memory store.Tombstones
type FakeTombstones struct {
	mu     sync.Mutex
	Stones []*models.Tombstone
}

// NewFakeTombstones creates an empty tombstone sink
func NewFakeTombstones() *FakeTombstones {
	return &FakeTombstones{}
}

func (f *FakeTombstones) Record(ctx context.Context, stones []*models.Tombstone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Stones = append(f.Stones, stones...)
	return nil
}

func (f *FakeTombstones) Since(ctx context.Context, tenant string, since int64) ([]*models.Tombstone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Tombstone
	for _, s := range f.Stones {
		if s.TenantName == tenant && s.LastModified >= since {
			out = append(out, s)
		}
	}
	return out, nil
}
