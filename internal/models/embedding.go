package models

import (
	"fmt"
	"strconv"
	"time"
)

// EmbeddingRecord is a stored feature vector for one source image. Records are never mutated
// after creation.
type EmbeddingRecord struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	Vector    []float32              `json:"-"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	ParentID  string                 `json:"parent_id"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// RecordWithParent is a record joined with its parent entity.
type RecordWithParent struct {
	Record *EmbeddingRecord
	Parent EntitySnapshot
}

// NewEmbedding is the input to a store write. When UpdateParentReference is set the parent's
// image_url becomes ParentReference in the same transaction.
type NewEmbedding struct {
	Source                string
	Vector                []float32
	ParentID              string
	Metadata              map[string]interface{}
	UpdateParentReference bool
	ParentReference       string
}

// IngestRequest asks the pipeline to embed one source and attach it to a parent entity.
type IngestRequest struct {
	Source                string
	ParentID              string
	Metadata              map[string]interface{}
	UpdateParentReference bool
}

// parentIDKeys are metadata keys that carry the parent id when it is not given directly.
var parentIDKeys = []string{"equipment_id", "entity_id"}

// Validate fills ParentID from metadata when absent and checks required fields.
func (r *IngestRequest) Validate() error {
	if r.ParentID == "" {
		r.ParentID = parentIDFromMetadata(r.Metadata)
	}
	if r.Source == "" {
		return fmt.Errorf("image source is required")
	}
	if r.ParentID == "" {
		return fmt.Errorf("entity id is required")
	}
	return nil
}

func parentIDFromMetadata(md map[string]interface{}) string {
	for _, key := range parentIDKeys {
		switch v := md[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		}
	}
	return ""
}

// IngestResult is the outcome of a successful single ingestion.
type IngestResult struct {
	EmbeddingID string
	// ParentReferenceUpdatedTo is the new image_url when the parent was updated.
	ParentReferenceUpdatedTo *string
	ProcessingTime           time.Duration
}

// Outcome statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ItemOutcome reports what happened to one item of a bulk request.
type ItemOutcome struct {
	Index                  int    `json:"index"`
	ParentID               string `json:"equipment_id"`
	Status                 string `json:"status"`
	EmbeddingID            string `json:"embedding_id,omitempty"`
	ParentReferenceUpdated bool   `json:"image_url_updated"`
	UpdatedURL             string `json:"updated_url,omitempty"`
	Error                  string `json:"error,omitempty"`
	ErrorKind              string `json:"error_kind,omitempty"`
}

// Stats summarizes the stored collection.
type Stats struct {
	TotalEmbeddings        int64  `json:"total_embeddings"`
	EntitiesWithEmbeddings int64  `json:"entities_with_embeddings"`
	Model                  string `json:"model"`
	Dimensions             int    `json:"dimensions"`
}
