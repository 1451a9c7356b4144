package models

// SearchResult represents a single ranked hit.
type SearchResult struct {
	EmbeddingID string                 `json:"image_id"`
	Similarity  float64                `json:"similarity"`
	Rank        int                    `json:"rank"`
	Source      string                 `json:"image_source"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Entity      EntitySnapshot         `json:"entity"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryType QueryType       `json:"query_type"`
	TopK      int             `json:"top_k"`
	// Candidates is the number of stored records scanned.
	Candidates int   `json:"candidates"`
	QueryTime  int64 `json:"query_time_ms"`
}
