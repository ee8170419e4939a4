package writer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the writer uses.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// WriterConfig holds batching settings.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	Source        string // Stored in the source column, usually the instance id
}

// DefaultWriterConfig returns default configuration.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
	}
}

// WriterMetrics counts writer activity.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}

// changeRow is one value_changes row.
type changeRow struct {
	ID         uuid.UUID
	ReceivedAt time.Time
	InstanceID string
	Property   string
	Value      json.RawMessage
	SetReason  string
	Source     string
}
