package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/kagami/internal/models"
)

// Client talks to a running kagami server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// EmbedRequest is the body of a single ingestion call.
type EmbedRequest struct {
	ImageSource    string                 `json:"image_source"`
	EquipmentID    string                 `json:"equipment_id,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	UpdateImageURL *bool                  `json:"update_image_url,omitempty"`
}

// EmbedResponse is the reply to a single ingestion call.
type EmbedResponse struct {
	Status                string  `json:"status"`
	Message               string  `json:"message"`
	EmbeddingID           string  `json:"embedding_id"`
	EquipmentID           string  `json:"equipment_id"`
	ImageURLUpdated       bool    `json:"image_url_updated"`
	UpdatedURL            string  `json:"updated_url,omitempty"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
}

// SearchRequest is the body of a search call. A nil TopK uses the server default.
type SearchRequest struct {
	QueryType   models.QueryType `json:"query_type,omitempty"`
	ImageSource string           `json:"image_source,omitempty"`
	TextQuery   string           `json:"text_query,omitempty"`
	TopK        *int             `json:"top_k,omitempty"`
}

// StatsResponse is the reply to a stats call.
type StatsResponse struct {
	models.Stats
	DatabaseSizeBytes *int64 `json:"database_size_bytes,omitempty"`
}

// Embed ingests one image.
func (c *Client) Embed(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error) {
	var out EmbedResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/embeddings", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EmbedBulk ingests a batch and returns the per-item outcomes.
func (c *Client) EmbedBulk(ctx context.Context, reqs []*EmbedRequest) ([]*models.ItemOutcome, error) {
	var out struct {
		Results []*models.ItemOutcome `json:"results"`
	}
	body := struct {
		Images []*EmbedRequest `json:"images"`
	}{reqs}
	if err := c.do(ctx, http.MethodPost, "/api/v1/embeddings/bulk", body, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Search runs an image or text query.
func (c *Client) Search(ctx context.Context, req *SearchRequest) (*models.SearchResponse, error) {
	var out models.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns collection statistics.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var out StatsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Clear deletes every embedding record and returns how many were removed.
func (c *Client) Clear(ctx context.Context) (int64, error) {
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/admin/clear", nil, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// CreateEntity registers a parent entity.
func (c *Client) CreateEntity(ctx context.Context, e *models.Entity) error {
	return c.do(ctx, http.MethodPost, "/api/v1/entities", e, nil)
}

// EntityFilter narrows an entity listing. Empty fields do not constrain.
type EntityFilter struct {
	Query     string
	Type      string
	Country   string
	InService *bool
	Offset    int
	Limit     int
}

func (f *EntityFilter) values() url.Values {
	v := url.Values{}
	for key, val := range map[string]string{"q": f.Query, "type": f.Type, "country": f.Country} {
		if val != "" {
			v.Set(key, val)
		}
	}
	if f.InService != nil {
		v.Set("in_service", strconv.FormatBool(*f.InService))
	}
	if f.Offset > 0 {
		v.Set("offset", strconv.Itoa(f.Offset))
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	return v
}

// ListEntities returns one page of entities matching f.
func (c *Client) ListEntities(ctx context.Context, f *EntityFilter) ([]*models.Entity, error) {
	path := "/api/v1/entities"
	if q := f.values().Encode(); q != "" {
		path += "?" + q
	}
	var out struct {
		Entities []*models.Entity `json:"entities"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}

// EmbedEntity embeds the image the entity's image_url points at.
func (c *Client) EmbedEntity(ctx context.Context, id string) (*EmbedResponse, error) {
	var out EmbedResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/entities/"+url.PathEscape(id)+"/embed", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
		var payload struct {
			Error     string `json:"error"`
			ErrorKind string `json:"error_kind"`
		}
		if json.Unmarshal(b, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
			apiErr.Kind = payload.ErrorKind
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
