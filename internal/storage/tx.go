package storage

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// withTx runs fn in a transaction. The transaction is rolled back when fn returns an error or
// panics, and committed otherwise.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", zap.Error(rbErr), zap.NamedError("cause", err))
		}
		return err
	}

	return tx.Commit()
}
