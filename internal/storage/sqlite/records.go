package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gridflow/internal/etl"
	"gridflow/internal/storage"
)

type recordStore struct {
	db *sql.DB
}

func newRecordStore(db *sql.DB) storage.RecordStore {
	return &recordStore{db: db}
}

// UpsertBatch writes one batch inside a transaction. The conflict target is
// the composite identity index, so re-loading the same fact updates the
// existing row instead of inserting a second one.
func (s *recordStore) UpsertBatch(ctx context.Context, records []*etl.DataRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (id, source_id, country_code, indicator_code, year, value, data, quality_score, lineage, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, country_code, indicator_code, year) DO UPDATE SET
			value = excluded.value,
			data = excluded.data,
			quality_score = excluded.quality_score,
			lineage = excluded.lineage,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, rec := range records {
		data, err := json.Marshal(rec.Data)
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
		}
		lineage, _ := json.Marshal(rec.Meta.Lineage)

		var value any
		if v, ok := rec.Data["value"]; ok {
			value = v
		}

		_, err = stmt.ExecContext(ctx,
			rec.ID,
			rec.SourceID,
			stringOr(rec.Data["countryCode"]),
			stringOr(rec.Data["indicatorCode"]),
			intOr(rec.Data["year"]),
			value,
			string(data),
			rec.Meta.QualityScore,
			string(lineage),
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	slog.Debug("Upserted record batch", "count", len(records))
	return nil
}

func (s *recordStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

func (s *recordStore) DeleteOlderThan(ctx context.Context, age time.Duration) error {
	cutoff := time.Now().Add(-age)
	result, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE updated_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete old records: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		slog.Debug("Deleted old records", "count", rows)
	}
	return nil
}

func stringOr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func intOr(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
