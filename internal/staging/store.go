// Package staging persists raw extracted records as one parquet file per
// entity kind. A partition is replaced atomically and is read-only for the
// rest of the run.
package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/forecastlab/pm-warehouse/internal/domain"
)

// Store defines the interface for staging operations to enable mocking
//
//go:generate mockgen -source=store.go -destination=../mocks/staging_store.go -package=mocks -mock_names=Store=MockStagingStore
type Store interface {
	// Replace atomically replaces the staged partition for an entity kind
	Replace(ctx context.Context, kind domain.EntityKind, records []domain.RawRecord) error
	// Scan reads the whole staged partition for an entity kind
	Scan(ctx context.Context, kind domain.EntityKind) ([]domain.RawRecord, error)
	// Exists reports whether a staged partition exists for an entity kind
	Exists(kind domain.EntityKind) bool
}

// row is the parquet row shape. The raw JSON object rides along as a string
// column beside the columnar identity metadata.
type row struct {
	ID        string `parquet:"id"`
	Kind      string `parquet:"kind"`
	Payload   string `parquet:"payload,zstd"`
	FetchedAt int64  `parquet:"fetched_at,timestamp(millisecond)"`
}

type parquetStore struct {
	dir string
}

// NewParquetStore creates a staging store rooted at dir. The directory is
// created on first write.
func NewParquetStore(dir string) Store {
	return &parquetStore{dir: dir}
}

func (s *parquetStore) path(kind domain.EntityKind) string {
	return filepath.Join(s.dir, string(kind)+".parquet")
}

// Replace atomically replaces the staged partition for an entity kind.
// The file is written to a temp path and renamed into place so readers never
// observe a partial partition.
func (s *parquetStore) Replace(ctx context.Context, kind domain.EntityKind, records []domain.RawRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, string(kind)+"-*.parquet.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp partition: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath) // no-op after a successful rename
	}()

	w := parquet.NewGenericWriter[row](tmp)
	rows := make([]row, len(records))
	for i, r := range records {
		rows[i] = row{
			ID:        r.ID,
			Kind:      string(r.Kind),
			Payload:   string(r.Payload),
			FetchedAt: r.FetchedAt.UnixMilli(),
		}
	}
	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("failed to write partition rows: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to finalize partition: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp partition: %w", err)
	}

	if err := os.Rename(tmpPath, s.path(kind)); err != nil {
		return fmt.Errorf("failed to replace partition: %w", err)
	}
	return nil
}

// Scan reads the whole staged partition for an entity kind
func (s *parquetStore) Scan(ctx context.Context, kind domain.EntityKind) ([]domain.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.path(kind)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrStagingPartitionMissing, kind)
	}

	rows, err := parquet.ReadFile[row](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read partition %s: %w", kind, err)
	}

	records := make([]domain.RawRecord, len(rows))
	for i, r := range rows {
		records[i] = domain.RawRecord{
			ID:        r.ID,
			Kind:      domain.EntityKind(r.Kind),
			Payload:   []byte(r.Payload),
			FetchedAt: time.UnixMilli(r.FetchedAt).UTC(),
		}
	}
	return records, nil
}

// Exists reports whether a staged partition exists for an entity kind
func (s *parquetStore) Exists(kind domain.EntityKind) bool {
	_, err := os.Stat(s.path(kind))
	return err == nil
}
