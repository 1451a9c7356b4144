package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/blob"
	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/models"
)

// Ingester embeds and stores one image.
type Ingester interface {
	IngestOne(ctx context.Context, req *models.IngestRequest) (*models.IngestResult, error)
}

// Inbox ingests files written to <root>/<entity id>/<name>. The object key is the path
// relative to the root and the parent entity is its first segment.
type Inbox struct {
	store     *blob.LocalStore
	ingester  Ingester
	updateRef bool
	watcher   *Watcher
	logger    *zap.Logger
	ctx       context.Context
}

// NewInbox creates an inbox over the local blob store root.
func NewInbox(store *blob.LocalStore, ingester Ingester, cfg config.WatchConfig, logger *zap.Logger, opts ...Option) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	in := &Inbox{
		store:     store,
		ingester:  ingester,
		updateRef: cfg.UpdateParentReferenceOrDefault(),
		logger:    logger,
		ctx:       context.Background(),
	}
	opts = append([]Option{WithLogger(logger)}, opts...)
	in.watcher = New(store.Root(), cfg.Extensions, in.handle, opts...)
	return in
}

// Start begins watching. Ingestion runs under ctx.
func (in *Inbox) Start(ctx context.Context) error {
	in.ctx = ctx
	if err := in.watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to watch %s: %w", in.store.Root(), err)
	}
	in.logger.Info("Watching inbox", zap.String("root", in.store.Root()))
	return nil
}

// Stop stops watching.
func (in *Inbox) Stop() {
	in.watcher.Stop()
}

// Request builds the ingest request for a file under the root.
func (in *Inbox) Request(path string) (*models.IngestRequest, error) {
	key, err := in.store.Key(path)
	if err != nil {
		return nil, err
	}
	parent, name, ok := strings.Cut(key, "/")
	if !ok || parent == "" || name == "" {
		return nil, fmt.Errorf("file %q is not inside an entity directory", key)
	}
	return &models.IngestRequest{
		Source:   key,
		ParentID: parent,
		Metadata: map[string]interface{}{
			"filename": filepath.Base(path),
			"origin":   "inbox",
		},
		UpdateParentReference: in.updateRef,
	}, nil
}

func (in *Inbox) handle(path string) {
	req, err := in.Request(path)
	if err != nil {
		in.logger.Warn("Skipping inbox file", zap.String("path", path), zap.Error(err))
		return
	}
	res, err := in.ingester.IngestOne(in.ctx, req)
	if err != nil {
		// The pipeline logs the failure with its kind.
		return
	}
	in.logger.Info("Ingested inbox file",
		zap.String("source", req.Source),
		zap.String("parent_id", req.ParentID),
		zap.String("embedding_id", res.EmbeddingID))
}
