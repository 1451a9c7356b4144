package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/kagami/internal/apperr"
	"github.com/hyperjump/kagami/internal/models"
)

// MemoryStore is an in-process Store. It honors the same contract as SQLStore, including the
// delete cascade, and is safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[string]*models.Entity
	// records are kept in creation order.
	records []*models.EmbeddingRecord
	closed  bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[string]*models.Entity)}
}

func (m *MemoryStore) checkOpen(op string) error {
	if m.closed {
		return apperr.New(apperr.KindStoreFailure, op, "store is closed")
	}
	return nil
}

// CreateEntity inserts a copy of e.
func (m *MemoryStore) CreateEntity(_ context.Context, e *models.Entity) error {
	const op = "storage.create_entity"
	if err := e.Validate(); err != nil {
		return apperr.Wrap(apperr.KindInvalidRequest, op, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(op); err != nil {
		return err
	}
	if _, ok := m.entities[e.ID]; ok {
		return apperr.InvalidRequest(op, "entity already exists: %s", e.ID)
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	m.entities[e.ID] = copyEntity(e)
	return nil
}

// GetEntity returns a copy of the entity with the given id.
func (m *MemoryStore) GetEntity(_ context.Context, id string) (*models.Entity, error) {
	const op = "storage.get_entity"
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(op); err != nil {
		return nil, err
	}
	e, ok := m.entities[id]
	if !ok {
		return nil, entityNotFound(op, id)
	}
	return copyEntity(e), nil
}

// ListEntities returns entities newest first.
func (m *MemoryStore) ListEntities(_ context.Context, offset, limit int) ([]*models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen("storage.list_entities"); err != nil {
		return nil, err
	}
	all := make([]*models.Entity, 0, len(m.entities))
	for _, e := range m.entities {
		all = append(all, copyEntity(e))
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if offset >= len(all) {
		return []*models.Entity{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// DeleteEntity removes the entity and its records.
func (m *MemoryStore) DeleteEntity(_ context.Context, id string) error {
	const op = "storage.delete_entity"
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(op); err != nil {
		return err
	}
	if _, ok := m.entities[id]; !ok {
		return entityNotFound(op, id)
	}
	delete(m.entities, id)
	kept := m.records[:0]
	for _, r := range m.records {
		if r.ParentID != id {
			kept = append(kept, r)
		}
	}
	m.records = kept
	return nil
}

// CreateEmbedding appends a record and optionally updates the parent's image_url. Both happen
// under one lock, so they are observed together or not at all.
func (m *MemoryStore) CreateEmbedding(_ context.Context, in *models.NewEmbedding) (*models.EmbeddingRecord, error) {
	const op = "storage.create_embedding"
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(op); err != nil {
		return nil, err
	}
	parent, ok := m.entities[in.ParentID]
	if !ok {
		return nil, entityNotFound(op, in.ParentID)
	}

	now := time.Now().UTC()
	rec := &models.EmbeddingRecord{
		ID:        uuid.New().String(),
		Source:    in.Source,
		Vector:    append([]float32(nil), in.Vector...),
		Metadata:  copyMap(in.Metadata),
		ParentID:  in.ParentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.records = append(m.records, rec)
	if in.UpdateParentReference {
		parent.ImageURL = in.ParentReference
		parent.UpdatedAt = now
	}
	return copyRecord(rec), nil
}

// ListAllWithParent returns a snapshot of all records in creation order.
func (m *MemoryStore) ListAllWithParent(_ context.Context) ([]*models.RecordWithParent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen("storage.list_all_with_parent"); err != nil {
		return nil, err
	}
	out := make([]*models.RecordWithParent, 0, len(m.records))
	for _, r := range m.records {
		parent, ok := m.entities[r.ParentID]
		if !ok {
			continue
		}
		out = append(out, &models.RecordWithParent{Record: copyRecord(r), Parent: copyEntity(parent).Snapshot()})
	}
	return out, nil
}

// DeleteAll removes all records.
func (m *MemoryStore) DeleteAll(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen("storage.delete_all"); err != nil {
		return 0, err
	}
	n := int64(len(m.records))
	m.records = nil
	return n, nil
}

// CountEmbeddings returns the number of records.
func (m *MemoryStore) CountEmbeddings(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen("storage.count_embeddings"); err != nil {
		return 0, err
	}
	return int64(len(m.records)), nil
}

// CountEntitiesWithEmbeddings returns the number of distinct parents referenced by records.
func (m *MemoryStore) CountEntitiesWithEmbeddings(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen("storage.count_entities_with_embeddings"); err != nil {
		return 0, err
	}
	seen := make(map[string]struct{})
	for _, r := range m.records {
		seen[r.ParentID] = struct{}{}
	}
	return int64(len(seen)), nil
}

// Ping fails once the store is closed.
func (m *MemoryStore) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkOpen("storage.ping")
}

// Close marks the store closed; later calls fail with a store failure.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Stored values never share maps or slices with callers.

func copyRecord(r *models.EmbeddingRecord) *models.EmbeddingRecord {
	cp := *r
	cp.Vector = append([]float32(nil), r.Vector...)
	cp.Metadata = copyMap(r.Metadata)
	return &cp
}

func copyEntity(e *models.Entity) *models.Entity {
	cp := *e
	cp.TechnicalSpecs = copyMap(e.TechnicalSpecs)
	return &cp
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, x := range t {
			out[i] = copyValue(x)
		}
		return out
	default:
		return v
	}
}
