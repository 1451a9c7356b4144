package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hyperjump/kagami/internal/models"
)

// flexibleID accepts an id given as a JSON string or number.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number")
	}
	*f = flexibleID(n.String())
	return nil
}

type embedRequest struct {
	ImageSource string                 `json:"image_source" validate:"required"`
	EquipmentID flexibleID             `json:"equipment_id"`
	EntityID    flexibleID             `json:"entity_id"`
	Metadata    map[string]interface{} `json:"metadata"`
	// UpdateImageURL defaults to true when omitted.
	UpdateImageURL *bool `json:"update_image_url"`
}

func (r *embedRequest) toIngest() *models.IngestRequest {
	parent := string(r.EquipmentID)
	if parent == "" {
		parent = string(r.EntityID)
	}
	update := true
	if r.UpdateImageURL != nil {
		update = *r.UpdateImageURL
	}
	return &models.IngestRequest{
		Source:                r.ImageSource,
		ParentID:              parent,
		Metadata:              r.Metadata,
		UpdateParentReference: update,
	}
}

type embedResponse struct {
	Status                string  `json:"status"`
	Message               string  `json:"message"`
	EmbeddingID           string  `json:"embedding_id"`
	EquipmentID           string  `json:"equipment_id"`
	ImageURLUpdated       bool    `json:"image_url_updated"`
	UpdatedURL            string  `json:"updated_url,omitempty"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
}

type bulkRequest struct {
	Images []embedRequest `json:"images" validate:"required,min=1"`
}

type bulkResponse struct {
	Status  string                `json:"status"`
	Message string                `json:"message"`
	Results []*models.ItemOutcome `json:"results"`
}

type searchRequest struct {
	QueryType   string `json:"query_type" validate:"omitempty,oneof=image text"`
	ImageSource string `json:"image_source"`
	TextQuery   string `json:"text_query"`
	TopK        *int   `json:"top_k"`
}

type searchResponse struct {
	Status string `json:"status"`
	*models.SearchResponse
}

type statsResponse struct {
	Status string `json:"status"`
	models.Stats
	DatabaseSizeBytes *int64 `json:"database_size_bytes,omitempty"`
}

type clearResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Deleted int64  `json:"deleted"`
}

type entityRequest struct {
	ID             string                 `json:"id" validate:"required,max=255"`
	Name           string                 `json:"name" validate:"required,max=255"`
	Type           string                 `json:"type" validate:"max=100"`
	Country        string                 `json:"country" validate:"max=100"`
	InService      bool                   `json:"in_service"`
	Description    string                 `json:"description"`
	Year           int                    `json:"year" validate:"omitempty,gte=0"`
	ImageURL       string                 `json:"image_url"`
	TechnicalSpecs map[string]interface{} `json:"technical_specs"`
}

func (r *entityRequest) toEntity() *models.Entity {
	return &models.Entity{
		ID:             r.ID,
		Name:           r.Name,
		Type:           r.Type,
		Country:        r.Country,
		InService:      r.InService,
		Description:    r.Description,
		Year:           r.Year,
		ImageURL:       r.ImageURL,
		TechnicalSpecs: r.TechnicalSpecs,
	}
}

type entityResponse struct {
	Status string         `json:"status"`
	Entity *models.Entity `json:"entity"`
}

type entityListResponse struct {
	Status   string           `json:"status"`
	Entities []*models.Entity `json:"entities"`
	Offset   int              `json:"offset"`
	Limit    int              `json:"limit"`
	// Total counts every match of a filtered list.
	Total *uint64 `json:"total,omitempty"`
}

type messageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type errorResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage flattens validator errors into one line.
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must have at least %s items", field, fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
