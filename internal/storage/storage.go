// Package storage defines the persistence interface for entities and embedding records.
package storage

import (
	"context"

	"github.com/hyperjump/kagami/internal/models"
)

// Store owns the entity and embedding record collections.
//
// Every mutation is atomic. CreateEmbedding returns a KindParentNotFound error when the parent
// does not exist; all other failures are KindStoreFailure.
type Store interface {
	// Entity operations
	CreateEntity(ctx context.Context, e *models.Entity) error
	GetEntity(ctx context.Context, id string) (*models.Entity, error)
	ListEntities(ctx context.Context, offset, limit int) ([]*models.Entity, error)
	// DeleteEntity removes the entity and, by cascade, all of its records.
	DeleteEntity(ctx context.Context, id string) error

	// Embedding operations
	CreateEmbedding(ctx context.Context, in *models.NewEmbedding) (*models.EmbeddingRecord, error)
	// ListAllWithParent returns every record joined with its parent, ordered by creation
	// time then id.
	ListAllWithParent(ctx context.Context) ([]*models.RecordWithParent, error)
	// DeleteAll removes every embedding record and leaves entities untouched.
	DeleteAll(ctx context.Context) (int64, error)

	// Stats
	CountEmbeddings(ctx context.Context) (int64, error)
	CountEntitiesWithEmbeddings(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
