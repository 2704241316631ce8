package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"gridflow/internal/etl"
)

// APIExtractor pulls JSON payloads from HTTP data providers. It accepts
// either a top-level array of objects or an envelope with a "data" array,
// which covers the indicator-style APIs the catalog configures.
type APIExtractor struct {
	client *http.Client
}

func NewAPIExtractor() *APIExtractor {
	return &APIExtractor{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *APIExtractor) Type() etl.SourceType {
	return etl.SourceAPI
}

func (a *APIExtractor) Extract(ctx context.Context, src etl.DataSource) ([]*etl.DataRecord, error) {
	if src.Endpoint == "" {
		return nil, etl.NewConfigurationError("source %s has no endpoint", src.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", src.ID, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range src.Headers {
		req.Header.Set(k, v)
	}
	q := req.URL.Query()
	for k, v := range src.Query {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()

	slog.Debug("API extractor fetching", "source", src.ID, "url", req.URL.String())

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, etl.Transient("extract:"+src.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, etl.Transient("extract:"+src.ID, fmt.Errorf("upstream returned %s", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source %s returned %s", src.ID, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, etl.Transient("extract:"+src.ID, err)
	}

	rows, err := decodeRows(body)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.ID, err)
	}

	records := make([]*etl.DataRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, etl.NewRecord(src.ID, src.Name, row))
	}
	slog.Info("API extractor finished", "source", src.ID, "records", len(records))
	return records, nil
}

func decodeRows(body []byte) ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err == nil {
		return rows, nil
	}

	var envelope struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Data != nil {
		return envelope.Data, nil
	}
	return nil, fmt.Errorf("payload is neither a record array nor a data envelope")
}
