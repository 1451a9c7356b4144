package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hyperjump/kagami/internal/apperr"
	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/models"
)

// Orchestrator runs a batch of ingestions through a Pipeline. Items are independent: a failed
// item yields an error outcome and never affects the others, and earlier successes are kept.
type Orchestrator struct {
	pipeline    *Pipeline
	workers     int
	limiter     *rate.Limiter
	itemTimeout time.Duration
	maxBatch    int
}

// NewOrchestrator creates an orchestrator. Workers below 1 mean sequential processing;
// a zero rate disables pacing.
func NewOrchestrator(p *Pipeline, cfg config.IngestConfig) *Orchestrator {
	o := &Orchestrator{
		pipeline:    p,
		workers:     cfg.Workers,
		itemTimeout: cfg.ItemTimeout,
		maxBatch:    cfg.MaxBatchSize,
	}
	if o.workers < 1 {
		o.workers = 1
	}
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return o
}

// IngestMany returns one outcome per request, in input order. The call itself fails only when
// the batch is rejected outright (too large) or the store is unreachable before it starts.
func (o *Orchestrator) IngestMany(ctx context.Context, reqs []*models.IngestRequest) ([]*models.ItemOutcome, error) {
	const op = "ingest.batch"
	if o.maxBatch > 0 && len(reqs) > o.maxBatch {
		return nil, apperr.InvalidRequest(op, "batch of %d items exceeds the limit of %d", len(reqs), o.maxBatch)
	}
	if err := o.pipeline.store.Ping(ctx); err != nil {
		o.pipeline.logger.Error("Store unavailable, rejecting batch", zap.Int("items", len(reqs)), zap.Error(err))
		return nil, apperr.Wrap(apperr.KindStoreFailure, op, err)
	}

	start := time.Now()
	outcomes := make([]*models.ItemOutcome, len(reqs))
	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, req := range reqs {
		g.Go(func() error {
			outcomes[i] = o.ingestItem(ctx, i, req)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, out := range outcomes {
		if out.Status != models.StatusSuccess {
			failed++
		}
	}
	o.pipeline.logger.Info("Bulk ingestion completed",
		zap.Int("items", len(reqs)),
		zap.Int("succeeded", len(reqs)-failed),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)))
	return outcomes, nil
}

func (o *Orchestrator) ingestItem(ctx context.Context, index int, req *models.IngestRequest) *models.ItemOutcome {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return failedOutcome(index, req, err)
		}
	}
	if o.itemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.itemTimeout)
		defer cancel()
	}
	res, err := o.pipeline.IngestOne(ctx, req)
	if err != nil {
		return failedOutcome(index, req, err)
	}
	out := &models.ItemOutcome{
		Index:       index,
		ParentID:    req.ParentID,
		Status:      models.StatusSuccess,
		EmbeddingID: res.EmbeddingID,
	}
	if res.ParentReferenceUpdatedTo != nil {
		out.ParentReferenceUpdated = true
		out.UpdatedURL = *res.ParentReferenceUpdatedTo
	}
	return out
}

func failedOutcome(index int, req *models.IngestRequest, err error) *models.ItemOutcome {
	out := &models.ItemOutcome{
		Index:     index,
		Status:    models.StatusError,
		Error:     err.Error(),
		ErrorKind: string(apperr.KindOf(err)),
	}
	if req != nil {
		out.ParentID = req.ParentID
	}
	return out
}
