// Package search ranks stored embedding records against an image or text query.
package search

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/apperr"
	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/metrics"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/vector"
)

// RecordSource supplies the snapshot scanned by every query.
type RecordSource interface {
	ListAllWithParent(ctx context.Context) ([]*models.RecordWithParent, error)
}

// SourceFetcher resolves an image source to its bytes.
type SourceFetcher interface {
	Fetch(ctx context.Context, source string) ([]byte, error)
}

// Engine runs exact similarity search. It holds no copy of the store contents; every query
// reads a fresh snapshot.
type Engine struct {
	records   RecordSource
	extractor embedding.Extractor
	fetcher   SourceFetcher
	ranker    vector.Ranker
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithRanker replaces the default exact ranker.
func WithRanker(r vector.Ranker) Option {
	return func(e *Engine) { e.ranker = r }
}

// WithMetrics records search counts and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(records RecordSource, extractor embedding.Extractor, fetcher SourceFetcher, opts ...Option) *Engine {
	e := &Engine{
		records:   records,
		extractor: extractor,
		fetcher:   fetcher,
		ranker:    vector.NewExactRanker(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search returns at most topK records ranked by cosine similarity to query, highest first.
// Ties keep store order. Records whose dimension differs from the query are skipped.
func (e *Engine) Search(ctx context.Context, query []float32, topK int) ([]*models.SearchResult, error) {
	results, _, err := e.search(ctx, query, topK)
	return results, err
}

func (e *Engine) search(ctx context.Context, query []float32, topK int) ([]*models.SearchResult, int, error) {
	const op = "search"
	if topK <= 0 {
		return nil, 0, apperr.InvalidRequest(op, "top_k must be positive, got %d", topK)
	}
	if len(query) == 0 {
		return nil, 0, apperr.InvalidRequest(op, "query vector is empty")
	}

	records, err := e.records.ListAllWithParent(ctx)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindStoreFailure, op, err)
	}

	candidates := make([][]float32, len(records))
	for i, r := range records {
		candidates[i] = r.Record.Vector
	}
	ranking, err := e.ranker.Rank(ctx, query, candidates, topK)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindStoreFailure, op, err)
	}
	for _, i := range ranking.Skipped {
		e.logger.Warn("Skipping record with mismatched dimensions",
			zap.String("embedding_id", records[i].Record.ID),
			zap.String("parent_id", records[i].Record.ParentID),
			zap.Int("dimensions", len(records[i].Record.Vector)),
			zap.Int("query_dimensions", len(query)))
	}

	results := make([]*models.SearchResult, 0, len(ranking.Hits))
	for rank, hit := range ranking.Hits {
		r := records[hit.Index]
		results = append(results, &models.SearchResult{
			EmbeddingID: r.Record.ID,
			Similarity:  hit.Score,
			Rank:        rank + 1,
			Source:      r.Record.Source,
			Metadata:    r.Record.Metadata,
			Entity:      r.Parent,
		})
	}
	return results, len(records), nil
}

// SearchImage resolves source, extracts its image vector and searches with it.
func (e *Engine) SearchImage(ctx context.Context, source string, topK int) ([]*models.SearchResult, error) {
	resp, err := e.Query(ctx, &models.SearchQuery{Type: models.QueryImage, Source: source, TopK: topK})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// SearchText extracts a text vector and searches with it.
func (e *Engine) SearchText(ctx context.Context, text string, topK int) ([]*models.SearchResult, error) {
	resp, err := e.Query(ctx, &models.SearchQuery{Type: models.QueryText, Text: text, TopK: topK})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Query validates q, builds the query vector for its type and runs the search.
func (e *Engine) Query(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	const op = "search.query"
	start := time.Now()
	if err := q.Validate(); err != nil {
		return nil, apperr.InvalidRequest(op, "%v", err)
	}

	vec, err := e.queryVector(ctx, q)
	if err != nil {
		e.logger.Error("Failed to build query vector",
			zap.String("query_type", string(q.Type)),
			zap.String("source", q.Source),
			zap.Error(err))
		return nil, err
	}

	results, scanned, err := e.search(ctx, vec, q.TopK)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	e.metrics.RecordSearch(string(q.Type), scanned, elapsed)
	e.logger.Debug("Search completed",
		zap.String("query_type", string(q.Type)),
		zap.Int("candidates", scanned),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", elapsed))

	return &models.SearchResponse{
		Results:    results,
		Total:      len(results),
		QueryType:  q.Type,
		TopK:       q.TopK,
		Candidates: scanned,
		QueryTime:  elapsed.Milliseconds(),
	}, nil
}

func (e *Engine) queryVector(ctx context.Context, q *models.SearchQuery) ([]float32, error) {
	const op = "search.extract"
	var (
		vec []float32
		err error
	)
	switch q.Type {
	case models.QueryText:
		vec, err = e.extractor.ExtractText(ctx, q.Text)
	default:
		data, ferr := e.fetcher.Fetch(ctx, q.Source)
		if ferr != nil {
			return nil, apperr.Wrap(apperr.KindSourceUnavailable, op, ferr)
		}
		vec, err = e.extractor.ExtractImage(ctx, data)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExtractionFailed, op, err)
	}
	if err := embedding.CheckVector(vec, e.extractor.Dimensions()); err != nil {
		return nil, apperr.Wrap(apperr.KindExtractionFailed, op, err)
	}
	embedding.NormalizeL2(vec)
	return vec, nil
}
