// Package keyword provides keyword search over entity descriptions.
package keyword

import (
	"context"

	"github.com/hyperjump/kagami/internal/models"
)

// EntityQuery selects entities by their descriptive fields. All matching is case-insensitive
// and a word matches any indexed word it is a prefix of. Empty fields do not constrain.
type EntityQuery struct {
	// Text must match, word by word, in at least one of name, type, country, description
	// or technical specs.
	Text        string
	Name        string
	Type        string
	Country     string
	Description string
	// InService filters on the in-service flag when set.
	InService *bool
}

// IsZero reports whether q has no constraints.
func (q *EntityQuery) IsZero() bool {
	return q == nil || (q.Text == "" && q.Name == "" && q.Type == "" && q.Country == "" &&
		q.Description == "" && q.InService == nil)
}

// EntityIndex defines entity keyword search operations.
type EntityIndex interface {
	Index(ctx context.Context, e *models.Entity) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, q *EntityQuery, offset, limit int) (*SearchResult, error)
	DocCount() (uint64, error)
	Close() error
}

// Hit is a single keyword search hit.
type Hit struct {
	ID    string
	Score float64
}

// SearchResult is one page of hits plus the total number of matches.
type SearchResult struct {
	Hits  []*Hit
	Total uint64
}

// EntitySource pages through stored entities.
type EntitySource interface {
	ListEntities(ctx context.Context, offset, limit int) ([]*models.Entity, error)
}
