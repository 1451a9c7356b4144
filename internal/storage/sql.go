package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/apperr"
	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/models"
)

// SQLStore implements Store on a SQL database. Supported drivers are postgres and sqlite3.
type SQLStore struct {
	db           *sqlx.DB
	driver       string
	path         string
	queryTimeout time.Duration
	logger       *zap.Logger
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithLogger sets a logger for store diagnostics.
func WithLogger(l *zap.Logger) SQLOption {
	return func(s *SQLStore) { s.logger = l }
}

// WithQueryTimeout bounds each store operation.
func WithQueryTimeout(d time.Duration) SQLOption {
	return func(s *SQLStore) { s.queryTimeout = d }
}

// NewSQLStore connects using cfg, configures the pool and initializes the schema.
// For sqlite3 the parent directory of the database file is created if missing.
func NewSQLStore(ctx context.Context, cfg config.DatabaseConfig, opts ...SQLOption) (*SQLStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	inMemory := cfg.Driver == config.DriverSQLite && cfg.Path == ":memory:"
	if cfg.Driver == config.DriverSQLite && !inMemory {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	connectCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	db, err := sqlx.ConnectContext(connectCtx, cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch {
	case inMemory:
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if cfg.Driver == config.DriverSQLite && !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	if err := initSchema(ctx, db, cfg.Driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := NewSQLStoreWithDB(db)
	s.queryTimeout = cfg.QueryTimeout
	if cfg.Driver == config.DriverSQLite && !inMemory {
		s.path = cfg.Path
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewSQLStoreWithDB wraps an existing connection. The dialect is taken from db.DriverName().
// The schema is not initialized.
func NewSQLStoreWithDB(db *sqlx.DB, opts ...SQLOption) *SQLStore {
	s := &SQLStore{
		db:     db,
		driver: db.DriverName(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQLStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout > 0 {
		return context.WithTimeout(ctx, s.queryTimeout)
	}
	return context.WithCancel(ctx)
}

func entityNotFound(op, id string) error {
	return apperr.New(apperr.KindParentNotFound, op, "entity not found: %s", id)
}

type entityRow struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	Type           string         `db:"type"`
	Country        string         `db:"country"`
	InService      bool           `db:"in_service"`
	Description    string         `db:"description"`
	Year           int            `db:"year"`
	ImageURL       string         `db:"image_url"`
	TechnicalSpecs sql.NullString `db:"technical_specs"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r *entityRow) toModel() (*models.Entity, error) {
	e := &models.Entity{
		ID:          r.ID,
		Name:        r.Name,
		Type:        r.Type,
		Country:     r.Country,
		InService:   r.InService,
		Description: r.Description,
		Year:        r.Year,
		ImageURL:    r.ImageURL,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.TechnicalSpecs.Valid && r.TechnicalSpecs.String != "" {
		if err := json.Unmarshal([]byte(r.TechnicalSpecs.String), &e.TechnicalSpecs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal technical specs: %w", err)
		}
	}
	return e, nil
}

const entityColumns = `id, name, type, country, in_service, description, year, image_url,
	technical_specs, created_at, updated_at`

// CreateEntity inserts an entity. An existing id is an invalid request.
func (s *SQLStore) CreateEntity(ctx context.Context, e *models.Entity) error {
	const op = "storage.create_entity"
	if err := e.Validate(); err != nil {
		return apperr.Wrap(apperr.KindInvalidRequest, op, err)
	}
	specsJSON, err := json.Marshal(e.TechnicalSpecs)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalidRequest, op, fmt.Errorf("failed to marshal technical specs: %w", err))
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM entities WHERE id = ?`), e.ID); err != nil {
			return err
		}
		if n > 0 {
			return apperr.InvalidRequest(op, "entity already exists: %s", e.ID)
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO entities (`+entityColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			e.ID, e.Name, e.Type, e.Country, e.InService, e.Description, e.Year, e.ImageURL,
			string(specsJSON), now, now,
		)
		return err
	})
	if isUniqueViolation(err) {
		return apperr.InvalidRequest(op, "entity already exists: %s", e.ID)
	}
	if err != nil {
		return apperr.Wrap(apperr.KindStoreFailure, op, err)
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

// GetEntity returns an entity by ID.
func (s *SQLStore) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	const op = "storage.get_entity"
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var row entityRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+entityColumns+` FROM entities WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entityNotFound(op, id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreFailure, op, err)
	}
	e, err := row.toModel()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreFailure, op, err)
	}
	return e, nil
}

// ListEntities returns entities with offset and limit, newest first.
func (s *SQLStore) ListEntities(ctx context.Context, offset, limit int) ([]*models.Entity, error) {
	const op = "storage.list_entities"
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var rows []entityRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT `+entityColumns+` FROM entities ORDER BY created_at DESC, id LIMIT ? OFFSET ?`),
		limit, offset,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreFailure, op, err)
	}
	entities := make([]*models.Entity, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toModel()
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStoreFailure, op, err)
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// DeleteEntity removes an entity; its records go with it through the foreign key cascade.
func (s *SQLStore) DeleteEntity(ctx context.Context, id string) error {
	const op = "storage.delete_entity"
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM entities WHERE id = ?`), id)
		if err != nil {
			return err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return entityNotFound(op, id)
		}
		return nil
	})
	return apperr.Wrap(apperr.KindStoreFailure, op, err)
}

// CreateEmbedding inserts a record and optionally repoints the parent's image_url, in one
// transaction. The parent row is locked first so writers for the same parent serialize.
func (s *SQLStore) CreateEmbedding(ctx context.Context, in *models.NewEmbedding) (*models.EmbeddingRecord, error) {
	const op = "storage.create_embedding"
	vectorJSON, err := json.Marshal(in.Vector)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreFailure, op, fmt.Errorf("failed to marshal vector: %w", err))
	}
	metadataJSON, err := json.Marshal(in.Metadata)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreFailure, op, fmt.Errorf("failed to marshal metadata: %w", err))
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	rec := &models.EmbeddingRecord{
		ID:        uuid.New().String(),
		Source:    in.Source,
		Vector:    in.Vector,
		Metadata:  in.Metadata,
		ParentID:  in.ParentID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	lockQuery := `SELECT id FROM entities WHERE id = ?`
	if s.driver == config.DriverPostgres {
		lockQuery += ` FOR UPDATE`
	}

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		var parentID string
		if err := tx.GetContext(ctx, &parentID, tx.Rebind(lockQuery), in.ParentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return entityNotFound(op, in.ParentID)
			}
			return err
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO embedding_records (id, source, vector, metadata, parent_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`),
			rec.ID, rec.Source, string(vectorJSON), string(metadataJSON), rec.ParentID, rec.CreatedAt, rec.UpdatedAt,
		); err != nil {
			return err
		}

		if in.UpdateParentReference {
			if _, err := tx.ExecContext(ctx, tx.Rebind(
				`UPDATE entities SET image_url = ?, updated_at = ? WHERE id = ?`),
				in.ParentReference, now, in.ParentID,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreFailure, op, err)
	}
	return rec, nil
}

type recordRow struct {
	ID             string         `db:"id"`
	Source         string         `db:"source"`
	Vector         string         `db:"vector"`
	Metadata       sql.NullString `db:"metadata"`
	ParentID       string         `db:"parent_id"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	ParentName     string         `db:"parent_name"`
	ParentType     string         `db:"parent_type"`
	ParentCountry  string         `db:"parent_country"`
	ParentImageURL string         `db:"parent_image_url"`
}

// ListAllWithParent returns every record joined with its parent in a single query.
// Rows with an unreadable vector are skipped and logged.
func (s *SQLStore) ListAllWithParent(ctx context.Context) ([]*models.RecordWithParent, error) {
	const op = "storage.list_all_with_parent"
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx,
		`SELECT r.id, r.source, r.vector, r.metadata, r.parent_id, r.created_at, r.updated_at,
		        e.name AS parent_name, e.type AS parent_type, e.country AS parent_country,
		        e.image_url AS parent_image_url
		 FROM embedding_records r
		 JOIN entities e ON e.id = r.parent_id
		 ORDER BY r.created_at, r.id`,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreFailure, op, err)
	}
	defer rows.Close()

	var out []*models.RecordWithParent
	for rows.Next() {
		var row recordRow
		if err := rows.StructScan(&row); err != nil {
			return nil, apperr.Wrap(apperr.KindStoreFailure, op, err)
		}
		rec := &models.EmbeddingRecord{
			ID:        row.ID,
			Source:    row.Source,
			ParentID:  row.ParentID,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		}
		if err := json.Unmarshal([]byte(row.Vector), &rec.Vector); err != nil {
			s.logger.Warn("skipping record with unreadable vector",
				zap.String("embedding_id", row.ID), zap.Error(err))
			continue
		}
		if row.Metadata.Valid && row.Metadata.String != "" {
			if err := json.Unmarshal([]byte(row.Metadata.String), &rec.Metadata); err != nil {
				s.logger.Warn("dropping unreadable record metadata",
					zap.String("embedding_id", row.ID), zap.Error(err))
				rec.Metadata = nil
			}
		}
		out = append(out, &models.RecordWithParent{
			Record: rec,
			Parent: models.EntitySnapshot{
				ID:       row.ParentID,
				Name:     row.ParentName,
				Type:     row.ParentType,
				Country:  row.ParentCountry,
				ImageURL: row.ParentImageURL,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindStoreFailure, op, err)
	}
	return out, nil
}

// DeleteAll removes every embedding record. Entities are untouched.
func (s *SQLStore) DeleteAll(ctx context.Context) (int64, error) {
	const op = "storage.delete_all"
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var deleted int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM embedding_records`)
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStoreFailure, op, err)
	}
	return deleted, nil
}

// CountEmbeddings returns the total number of embedding records.
func (s *SQLStore) CountEmbeddings(ctx context.Context) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var count int64
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM embedding_records`); err != nil {
		return 0, apperr.Wrap(apperr.KindStoreFailure, "storage.count_embeddings", err)
	}
	return count, nil
}

// CountEntitiesWithEmbeddings returns the number of distinct entities with at least one record.
func (s *SQLStore) CountEntitiesWithEmbeddings(ctx context.Context) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var count int64
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(DISTINCT e.id) FROM entities e JOIN embedding_records r ON r.parent_id = e.id`)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStoreFailure, "storage.count_entities_with_embeddings", err)
	}
	return count, nil
}

// Ping verifies a connection can be acquired.
func (s *SQLStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return apperr.Wrap(apperr.KindStoreFailure, "storage.ping", s.db.PingContext(ctx))
}

// Close closes the database connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a primary key or unique constraint failure. A
// concurrent insert of the same entity id passes the existence check and lands here.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
