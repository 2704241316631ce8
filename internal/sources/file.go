package sources

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gridflow/internal/etl"
)

// FileExtractor reads record batches from local JSON or CSV drops, for
// providers that publish bulk exports instead of APIs.
type FileExtractor struct{}

func NewFileExtractor() *FileExtractor {
	return &FileExtractor{}
}

func (f *FileExtractor) Type() etl.SourceType {
	return etl.SourceFile
}

func (f *FileExtractor) Extract(ctx context.Context, src etl.DataSource) ([]*etl.DataRecord, error) {
	if src.Path == "" {
		return nil, etl.NewConfigurationError("source %s has no file path", src.ID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", src.Path, err)
	}

	var rows []map[string]any
	switch strings.ToLower(filepath.Ext(src.Path)) {
	case ".json":
		rows, err = decodeRows(data)
	case ".csv":
		rows, err = decodeCSV(data)
	default:
		err = etl.NewConfigurationError("source %s: unsupported file type %s", src.ID, filepath.Ext(src.Path))
	}
	if err != nil {
		return nil, err
	}

	records := make([]*etl.DataRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, etl.NewRecord(src.ID, src.Name, row))
	}
	slog.Info("File extractor finished", "source", src.ID, "path", src.Path, "records", len(records))
	return records, nil
}

// decodeCSV maps each row against the header line, parsing numeric cells so
// downstream range rules see numbers rather than strings.
func decodeCSV(data []byte) ([]map[string]any, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	lines, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	if len(lines) < 2 {
		return nil, nil
	}

	header := lines[0]
	rows := make([]map[string]any, 0, len(lines)-1)
	for _, line := range lines[1:] {
		row := make(map[string]any, len(header))
		for i, col := range header {
			if i >= len(line) {
				continue
			}
			cell := strings.TrimSpace(line[i])
			if cell == "" {
				continue
			}
			if n, err := strconv.ParseFloat(cell, 64); err == nil {
				row[col] = n
			} else {
				row[col] = cell
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
