package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/frothlab/froth/pkg/metrics"
)

// entry holds one stored document plus its revision.
type entry struct {
	doc Document
	rev Revision
}

// MemStore is the default in-process Store. All mutations happen under one
// lock, so Put's compare-and-swap and Increment are trivially atomic.
type MemStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]entry
	counters    map[string]map[string]int64 // "collection/key" -> field -> value
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		collections: make(map[string]map[string]entry),
		counters:    make(map[string]map[string]int64),
	}
}

// Get implements Store.Get.
func (s *MemStore) Get(ctx context.Context, collection, key string) (Document, Revision, error) {
	defer observe("get", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.collections[collection][key]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return cloneDoc(e.doc), e.rev, nil
}

// Put implements Store.Put.
func (s *MemStore) Put(ctx context.Context, collection, key string, doc Document, rev Revision) (Revision, error) {
	defer observe("put", time.Now())
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[collection]
	if !ok {
		col = make(map[string]entry)
		s.collections[collection] = col
	}

	current := Revision(0)
	if e, exists := col[key]; exists {
		current = e.rev
	}
	if current != rev {
		metrics.RecordStoreConflict(collection)
		return 0, ErrRevisionMismatch
	}
	next := current + 1
	col[key] = entry{doc: cloneDoc(doc), rev: next}
	return next, nil
}

// Delete implements Store.Delete.
func (s *MemStore) Delete(ctx context.Context, collection, key string, rev Revision) error {
	defer observe("delete", time.Now())
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[collection]
	if !ok {
		return ErrNotFound
	}
	e, exists := col[key]
	if !exists {
		return ErrNotFound
	}
	if rev != 0 && e.rev != rev {
		metrics.RecordStoreConflict(collection)
		return ErrRevisionMismatch
	}
	delete(col, key)
	return nil
}

// Increment implements Store.Increment.
func (s *MemStore) Increment(ctx context.Context, collection, key, field string, delta int64) (int64, error) {
	defer observe("increment", time.Now())
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ck := collection + "/" + key
	fields, ok := s.counters[ck]
	if !ok {
		fields = make(map[string]int64)
		s.counters[ck] = fields
	}
	fields[field] += delta
	return fields[field], nil
}

// List implements Store.List.
func (s *MemStore) List(ctx context.Context, collection string, offset, limit int) ([]Document, error) {
	defer observe("list", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.collections[collection]
	keys := make([]string, 0, len(col))
	for k := range col {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if offset >= len(keys) {
		return nil, nil
	}
	end := offset + limit
	if end > len(keys) {
		end = len(keys)
	}
	out := make([]Document, 0, end-offset)
	for _, k := range keys[offset:end] {
		out = append(out, cloneDoc(col[k].doc))
	}
	return out, nil
}

// Count implements Store.Count.
func (s *MemStore) Count(ctx context.Context, collection string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection]), nil
}

// Close implements Store.Close.
func (s *MemStore) Close() error { return nil }

// cloneDoc copies the payload so callers cannot mutate stored bytes.
func cloneDoc(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	copy(out, doc)
	return out
}

// observe records the operation latency metric.
func observe(op string, start time.Time) {
	metrics.RecordStoreOpLatency(op, float64(time.Since(start).Microseconds())/1000.0)
}
