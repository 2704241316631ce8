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

type quarantineStore struct {
	db *sql.DB
}

func newQuarantineStore(db *sql.DB) storage.QuarantineStore {
	return &quarantineStore{db: db}
}

func (s *quarantineStore) Add(ctx context.Context, qr storage.QuarantinedRecord) error {
	record, err := json.Marshal(qr.Record)
	if err != nil {
		return fmt.Errorf("failed to encode quarantined record: %w", err)
	}
	errs, err := json.Marshal(qr.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode validation errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quarantine (record_id, job_id, record, validation_errors, quarantined_at)
		VALUES (?, ?, ?, ?, ?)
	`, qr.Record.ID, qr.JobID, string(record), string(errs), qr.QuarantinedAt)
	if err != nil {
		return fmt.Errorf("failed to quarantine record %s: %w", qr.Record.ID, err)
	}

	slog.Debug("Quarantined record", "record_id", qr.Record.ID, "job_id", qr.JobID, "errors", len(qr.Errors))
	return nil
}

func (s *quarantineStore) List(ctx context.Context, jobID string, limit int) ([]storage.QuarantinedRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT record, validation_errors, job_id, quarantined_at
		FROM quarantine
		WHERE job_id = ? OR ? = ''
		ORDER BY quarantined_at DESC
		LIMIT ?
	`, jobID, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list quarantine: %w", err)
	}
	defer rows.Close()

	var out []storage.QuarantinedRecord
	for rows.Next() {
		var recordJSON, errsJSON string
		var qr storage.QuarantinedRecord
		if err := rows.Scan(&recordJSON, &errsJSON, &qr.JobID, &qr.QuarantinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan quarantine row: %w", err)
		}
		var rec etl.DataRecord
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode quarantined record: %w", err)
		}
		if err := json.Unmarshal([]byte(errsJSON), &qr.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode validation errors: %w", err)
		}
		qr.Record = &rec
		out = append(out, qr)
	}
	return out, rows.Err()
}

func (s *quarantineStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quarantine`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count quarantine: %w", err)
	}
	return count, nil
}

func (s *quarantineStore) DeleteOlderThan(ctx context.Context, age time.Duration) error {
	cutoff := time.Now().Add(-age)
	_, err := s.db.ExecContext(ctx, `DELETE FROM quarantine WHERE quarantined_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete old quarantine rows: %w", err)
	}
	return nil
}
