// Package ingest turns image sources into stored embedding records, one at a time or in batches.
package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/apperr"
	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/metrics"
	"github.com/hyperjump/kagami/internal/models"
)

// Store is the part of storage.Store the pipeline writes through.
type Store interface {
	CreateEmbedding(ctx context.Context, in *models.NewEmbedding) (*models.EmbeddingRecord, error)
	Ping(ctx context.Context) error
}

// SourceResolver fetches source bytes and builds the reference stored on the parent entity.
type SourceResolver interface {
	Fetch(ctx context.Context, source string) ([]byte, error)
	PublicURL(source string) string
}

// Pipeline ingests a single image: fetch, extract, persist. Fetch and extraction complete
// before the store is touched, so no connection is held across slow external calls.
type Pipeline struct {
	store     Store
	resolver  SourceResolver
	extractor embedding.Extractor
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets a logger; every failure is logged with its source and parent id.
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics records ingestion outcomes and latency.
func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline creates a pipeline with the given dependencies.
func NewPipeline(store Store, resolver SourceResolver, extractor embedding.Extractor, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:     store,
		resolver:  resolver,
		extractor: extractor,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IngestOne embeds req.Source and stores the vector under req.ParentID. Errors are classified
// with apperr kinds; on any error nothing has been written.
func (p *Pipeline) IngestOne(ctx context.Context, req *models.IngestRequest) (*models.IngestResult, error) {
	start := time.Now()
	res, err := p.ingest(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		kind := apperr.KindOf(err)
		p.metrics.RecordIngest(models.StatusError, string(kind), elapsed)
		fields := []zap.Field{zap.String("kind", string(kind)), zap.Error(err)}
		if req != nil {
			fields = append(fields, zap.String("source", req.Source), zap.String("parent_id", req.ParentID))
		}
		p.logger.Error("Ingestion failed", fields...)
		return nil, err
	}
	p.metrics.RecordIngest(models.StatusSuccess, "", elapsed)
	res.ProcessingTime = elapsed
	p.logger.Debug("Ingested image",
		zap.String("source", req.Source),
		zap.String("parent_id", req.ParentID),
		zap.String("embedding_id", res.EmbeddingID),
		zap.Duration("elapsed", elapsed))
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context, req *models.IngestRequest) (*models.IngestResult, error) {
	const op = "ingest"
	if req == nil {
		return nil, apperr.InvalidRequest(op, "request is empty")
	}
	if err := req.Validate(); err != nil {
		return nil, apperr.InvalidRequest(op, "%v", err)
	}

	data, err := p.resolver.Fetch(ctx, req.Source)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSourceUnavailable, op, err)
	}

	vec, err := p.extract(ctx, data)
	if err != nil {
		return nil, err
	}

	in := &models.NewEmbedding{
		Source:                req.Source,
		Vector:                vec,
		ParentID:              req.ParentID,
		Metadata:              req.Metadata,
		UpdateParentReference: req.UpdateParentReference,
	}
	if req.UpdateParentReference {
		in.ParentReference = p.resolver.PublicURL(req.Source)
	}

	rec, err := p.store.CreateEmbedding(ctx, in)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreFailure, op, err)
	}

	res := &models.IngestResult{EmbeddingID: rec.ID}
	if in.UpdateParentReference {
		ref := in.ParentReference
		res.ParentReferenceUpdatedTo = &ref
	}
	return res, nil
}

// extract returns a unit-norm copy of the image vector.
func (p *Pipeline) extract(ctx context.Context, data []byte) ([]float32, error) {
	const op = "ingest.extract"
	raw, err := p.extractor.ExtractImage(ctx, data)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExtractionFailed, op, err)
	}
	if err := embedding.CheckVector(raw, p.extractor.Dimensions()); err != nil {
		return nil, apperr.Wrap(apperr.KindExtractionFailed, op, err)
	}
	vec := append([]float32(nil), raw...)
	embedding.NormalizeL2(vec)
	return vec, nil
}
