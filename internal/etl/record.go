package etl

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DataRecord is the unit of work moving through the pipeline. Data holds the
// raw extracted payload until the transformation stage replaces it with the
// canonical target-schema mapping.
type DataRecord struct {
	ID        string         `json:"id"`
	SourceID  string         `json:"sourceId"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Meta      Metadata       `json:"metadata"`
}

// Metadata is the append-only bag attached to every record. Lineage records
// every operation applied, in order. Extra carries provider-specific
// passthrough values that have no place in the canonical schema.
type Metadata struct {
	Source             string         `json:"source,omitempty"`
	IngestionTime      time.Time      `json:"ingestionTime"`
	Lineage            []string       `json:"lineage,omitempty"`
	TransformationTime time.Time      `json:"transformationTime,omitzero"`
	QualityScore       float64        `json:"qualityScore"`
	Extra              map[string]any `json:"extra,omitempty"`
}

// NewRecord wraps a raw payload in a DataRecord. The id is deterministic when
// the payload carries the composite identity fields, so re-extracting the same
// fact yields the same record id.
func NewRecord(sourceID, sourceName string, data map[string]any) *DataRecord {
	now := time.Now().UTC()
	return &DataRecord{
		ID:        recordID(sourceID, data, now),
		SourceID:  sourceID,
		Timestamp: now,
		Data:      data,
		Meta: Metadata{
			Source:        sourceName,
			IngestionTime: now,
			Lineage:       []string{"extract:" + sourceID},
		},
	}
}

func recordID(sourceID string, data map[string]any, ts time.Time) string {
	country, okC := stringField(data, "countryCode")
	indicator, okI := stringField(data, "indicatorCode")
	year, okY := intField(data, "year")
	if okC && okI && okY {
		return fmt.Sprintf("%s_%s_%s_%d", sourceID, country, indicator, year)
	}
	return fmt.Sprintf("%s_%d_%s", sourceID, ts.UnixNano(), uuid.NewString()[:8])
}

func stringField(data map[string]any, key string) (string, bool) {
	v, ok := data[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func intField(data map[string]any, key string) (int, bool) {
	switch v := data[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// AddLineage appends one operation to the record's lineage trail.
func (r *DataRecord) AddLineage(op string) {
	r.Meta.Lineage = append(r.Meta.Lineage, op)
}

// Clone returns a deep copy of the record's data map and a shallow copy of
// everything else. The dedup merge path mutates the copy, never the original.
func (r *DataRecord) Clone() *DataRecord {
	c := *r
	c.Data = make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		c.Data[k] = v
	}
	c.Meta.Lineage = append([]string(nil), r.Meta.Lineage...)
	return &c
}
