package storage

import (
	"context"
	"os"

	"github.com/hyperjump/kagami/internal/apperr"
	"github.com/hyperjump/kagami/internal/config"
)

// Sizer is implemented by stores that can report their on-disk footprint.
type Sizer interface {
	SizeBytes(ctx context.Context) (int64, error)
}

// SizeBytes returns the database size. For sqlite3 this is the database file plus its WAL and
// shared-memory files; for postgres it is pg_database_size of the current database.
func (s *SQLStore) SizeBytes(ctx context.Context) (int64, error) {
	switch s.driver {
	case config.DriverPostgres:
		ctx, cancel := s.opContext(ctx)
		defer cancel()
		var n int64
		if err := s.db.GetContext(ctx, &n, `SELECT pg_database_size(current_database())`); err != nil {
			return 0, apperr.Wrap(apperr.KindStoreFailure, "storage.size", err)
		}
		return n, nil
	default:
		if s.path == "" {
			return 0, nil
		}
		return fileSizes(s.path, s.path+"-wal", s.path+"-shm")
	}
}

// fileSizes sums the sizes of the given files. Missing files contribute 0.
func fileSizes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
