// Package storage defines the persistent sink the pipeline loads into and
// the quarantine side-channel for records that fail validation.
package storage

import (
	"context"
	"database/sql"
	"time"

	"gridflow/internal/etl"
)

type StorageInterface interface {
	GetConnection() *sql.DB
	Records() RecordStore
	Quarantine() QuarantineStore
	Close(ctx context.Context) error
}

// RecordStore is the load target. UpsertBatch must be idempotent on the
// composite identity (source, country, indicator, year): loading the same
// record twice yields one logical row.
type RecordStore interface {
	UpsertBatch(ctx context.Context, records []*etl.DataRecord) error
	Count(ctx context.Context) (int64, error)
	DeleteOlderThan(ctx context.Context, age time.Duration) error
}

// QuarantinedRecord is the externally persisted shape: the original record
// plus why and when it was quarantined.
type QuarantinedRecord struct {
	Record        *etl.DataRecord  `json:"record"`
	JobID         string           `json:"jobId"`
	Errors        []etl.FieldError `json:"validationErrors"`
	QuarantinedAt time.Time        `json:"quarantinedAt"`
}

type QuarantineStore interface {
	Add(ctx context.Context, qr QuarantinedRecord) error
	List(ctx context.Context, jobID string, limit int) ([]QuarantinedRecord, error)
	Count(ctx context.Context) (int64, error)
	DeleteOlderThan(ctx context.Context, age time.Duration) error
}
