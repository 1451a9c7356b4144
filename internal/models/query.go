package models

import "fmt"

// QueryType selects how the query vector is produced.
type QueryType string

const (
	QueryImage QueryType = "image"
	QueryText  QueryType = "text"
)

// SearchQuery represents a similarity search request.
type SearchQuery struct {
	Type   QueryType `json:"query_type"`
	Source string    `json:"image_source,omitempty"`
	Text   string    `json:"text_query,omitempty"`
	TopK   int       `json:"top_k"`
}

// Validate ensures the query has the input its type needs. Type defaults to image.
// TopK must already be resolved by the caller; there is no upper bound.
func (q *SearchQuery) Validate() error {
	if q.Type == "" {
		q.Type = QueryImage
	}
	switch q.Type {
	case QueryImage:
		if q.Source == "" {
			return fmt.Errorf("image_source is required for image queries")
		}
	case QueryText:
		if q.Text == "" {
			return fmt.Errorf("text_query is required for text queries")
		}
	default:
		return fmt.Errorf("unknown query_type %q", q.Type)
	}
	if q.TopK <= 0 {
		return fmt.Errorf("top_k must be positive")
	}
	return nil
}
