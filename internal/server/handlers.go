package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/apperr"
	"github.com/hyperjump/kagami/internal/keyword"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/storage"
)

const defaultEntityPageSize = 50

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, messageResponse{Status: models.StatusSuccess, Message: "kagami is running"})
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if !s.decode(w, r, &req) {
		return
	}
	in := req.toIngest()
	s.logger.Debug("Embed request", zap.String("source", in.Source), zap.String("parent_id", in.ParentID))

	res, err := s.ingester.IngestOne(r.Context(), in)
	if err != nil {
		s.respondError(w, err)
		return
	}
	resp := embedResponse{
		Status:                models.StatusSuccess,
		Message:               "Embedding created",
		EmbeddingID:           res.EmbeddingID,
		EquipmentID:           in.ParentID,
		ProcessingTimeSeconds: res.ProcessingTime.Seconds(),
	}
	if res.ParentReferenceUpdatedTo != nil {
		resp.ImageURLUpdated = true
		resp.UpdatedURL = *res.ParentReferenceUpdatedTo
	}
	s.respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleEmbedBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !s.decode(w, r, &req) {
		return
	}
	reqs := make([]*models.IngestRequest, len(req.Images))
	for i := range req.Images {
		reqs[i] = req.Images[i].toIngest()
	}
	s.logger.Debug("Bulk embed request", zap.Int("items", len(reqs)))

	outcomes, err := s.batch.IngestMany(r.Context(), reqs)
	if err != nil {
		s.respondError(w, err)
		return
	}
	succeeded := 0
	for _, out := range outcomes {
		if out.Status == models.StatusSuccess {
			succeeded++
		}
	}
	s.respondJSON(w, http.StatusOK, bulkResponse{
		Status:  models.StatusSuccess,
		Message: fmt.Sprintf("Processed %d images: %d succeeded, %d failed", len(outcomes), succeeded, len(outcomes)-succeeded),
		Results: outcomes,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	q := &models.SearchQuery{
		Type:   models.QueryType(req.QueryType),
		Source: req.ImageSource,
		Text:   req.TextQuery,
		TopK:   s.config.Search.DefaultTopK,
	}
	if req.TopK != nil {
		q.TopK = *req.TopK
	}
	s.logger.Debug("Search request", zap.String("query_type", req.QueryType), zap.Int("top_k", q.TopK))

	resp, err := s.searcher.Query(r.Context(), q)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, searchResponse{Status: models.StatusSuccess, SearchResponse: resp})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	total, err := s.store.CountEmbeddings(ctx)
	if err != nil {
		s.respondError(w, err)
		return
	}
	entities, err := s.store.CountEntitiesWithEmbeddings(ctx)
	if err != nil {
		s.respondError(w, err)
		return
	}
	resp := statsResponse{
		Status: models.StatusSuccess,
		Stats: models.Stats{
			TotalEmbeddings:        total,
			EntitiesWithEmbeddings: entities,
			Model:                  s.config.Embedding.ModelName,
			Dimensions:             s.config.Embedding.Dimensions,
		},
	}
	if sizer, ok := s.store.(storage.Sizer); ok {
		if n, err := sizer.SizeBytes(ctx); err == nil {
			resp.DatabaseSizeBytes = &n
		} else {
			s.logger.Warn("Failed to read database size", zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.DeleteAll(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.logger.Info("Cleared all embeddings", zap.Int64("deleted", n))
	s.respondJSON(w, http.StatusOK, clearResponse{
		Status:  models.StatusSuccess,
		Message: fmt.Sprintf("Deleted %d embeddings", n),
		Deleted: n,
	})
}

func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req entityRequest
	if !s.decode(w, r, &req) {
		return
	}
	e := req.toEntity()
	if err := s.store.CreateEntity(r.Context(), e); err != nil {
		s.respondError(w, err)
		return
	}
	if s.entities != nil {
		if err := s.entities.Index(r.Context(), e); err != nil {
			s.logger.Warn("Failed to index entity", zap.String("parent_id", e.ID), zap.Error(err))
		}
	}
	s.respondJSON(w, http.StatusCreated, entityResponse{Status: models.StatusSuccess, Entity: e})
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.respondError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultEntityPageSize)
	if err != nil {
		s.respondError(w, err)
		return
	}
	q, err := entityQueryFrom(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !q.IsZero() {
		s.searchEntities(w, r, q, offset, limit)
		return
	}
	entities, err := s.store.ListEntities(r.Context(), offset, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if entities == nil {
		entities = []*models.Entity{}
	}
	s.respondJSON(w, http.StatusOK, entityListResponse{
		Status:   models.StatusSuccess,
		Entities: entities,
		Offset:   offset,
		Limit:    limit,
	})
}

// searchEntities answers a filtered entity list from the keyword index. Hits whose entity
// is gone from the store are dropped from the page.
func (s *Server) searchEntities(w http.ResponseWriter, r *http.Request, q *keyword.EntityQuery, offset, limit int) {
	if s.entities == nil {
		s.respondError(w, apperr.InvalidRequest("server", "entity search is not enabled"))
		return
	}
	res, err := s.entities.Search(r.Context(), q, offset, limit)
	if err != nil {
		s.respondError(w, apperr.Wrap(apperr.KindStoreFailure, "server.search_entities", err))
		return
	}
	entities := make([]*models.Entity, 0, len(res.Hits))
	for _, hit := range res.Hits {
		e, err := s.store.GetEntity(r.Context(), hit.ID)
		if errors.Is(err, apperr.ErrParentNotFound) {
			s.logger.Debug("Skipping stale entity hit", zap.String("parent_id", hit.ID))
			continue
		}
		if err != nil {
			s.respondError(w, err)
			return
		}
		entities = append(entities, e)
	}
	total := res.Total
	s.respondJSON(w, http.StatusOK, entityListResponse{
		Status:   models.StatusSuccess,
		Entities: entities,
		Offset:   offset,
		Limit:    limit,
		Total:    &total,
	})
}

func entityQueryFrom(r *http.Request) (*keyword.EntityQuery, error) {
	v := r.URL.Query()
	q := &keyword.EntityQuery{
		Text:        v.Get("q"),
		Name:        v.Get("name"),
		Type:        v.Get("type"),
		Country:     v.Get("country"),
		Description: v.Get("description"),
	}
	if raw := v.Get("in_service"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, apperr.InvalidRequest("server", "in_service must be true or false")
		}
		q.InService = &b
	}
	return q, nil
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.GetEntity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, entityResponse{Status: models.StatusSuccess, Entity: e})
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteEntity(r.Context(), id); err != nil {
		s.respondError(w, err)
		return
	}
	if s.entities != nil {
		if err := s.entities.Delete(r.Context(), id); err != nil {
			s.logger.Warn("Failed to remove entity from index", zap.String("parent_id", id), zap.Error(err))
		}
	}
	s.logger.Info("Deleted entity", zap.String("parent_id", id))
	s.respondJSON(w, http.StatusOK, messageResponse{Status: models.StatusSuccess, Message: "Entity deleted"})
}

// handleEmbedEntity embeds the image the entity already points at. The entity's image_url
// is left as it is.
func (s *Server) handleEmbedEntity(w http.ResponseWriter, r *http.Request) {
	e, err := s.store.GetEntity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if e.ImageURL == "" {
		s.respondError(w, apperr.InvalidRequest("server", "entity %s has no image_url", e.ID))
		return
	}
	res, err := s.ingester.IngestOne(r.Context(), &models.IngestRequest{
		Source:   e.ImageURL,
		ParentID: e.ID,
		Metadata: entityMetadata(e),
	})
	if err != nil {
		s.logger.Warn("Failed to embed entity image", zap.String("parent_id", e.ID), zap.Error(err))
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, embedResponse{
		Status:                models.StatusSuccess,
		Message:               "Embedding created",
		EmbeddingID:           res.EmbeddingID,
		EquipmentID:           e.ID,
		ProcessingTimeSeconds: res.ProcessingTime.Seconds(),
	})
}

// entityMetadata describes e on the records embedded from its own image.
func entityMetadata(e *models.Entity) map[string]interface{} {
	md := map[string]interface{}{
		"equipment_id": e.ID,
		"name":         e.Name,
		"type":         e.Type,
		"country":      e.Country,
	}
	if e.Year != 0 {
		md["year"] = e.Year
	}
	if e.Description != "" {
		md["description"] = e.Description
	}
	return md
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.InvalidRequest("server", "%s must be a non-negative integer", key)
	}
	return n, nil
}

// decode reads a JSON body into dst and validates it. On failure it writes a 400 and
// returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := r.Body
	if s.config.Server.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	}
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.respondJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Status: models.StatusError,
				Error:  "request body too large",
			})
			return false
		}
		s.respondError(w, apperr.InvalidRequest("server", "invalid request body: %v", err))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.respondError(w, apperr.InvalidRequest("server", "%s", validationMessage(err)))
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError maps err to its status code. Server-side failures are logged.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	s.respondJSON(w, status, errorResponse{
		Status:    models.StatusError,
		Error:     err.Error(),
		ErrorKind: string(kind),
	})
}
