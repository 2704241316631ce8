// Package sources provides one extraction strategy per configured source
// type. Extractors fetch raw payloads and wrap them in DataRecords; they know
// nothing about transformation or validation.
package sources

import (
	"context"
	"sync"

	"gridflow/internal/etl"
)

// Extractor fetches all records for one configured source. Implementations
// wrap transient network failures in etl.TransientError so the pipeline's
// retry policy can distinguish them from permanent errors.
type Extractor interface {
	Type() etl.SourceType
	Extract(ctx context.Context, src etl.DataSource) ([]*etl.DataRecord, error)
}

// Registry maps source types to extractors. The default registry covers the
// built-in api, file, and scraper strategies; tests register fakes.
type Registry struct {
	mu         sync.RWMutex
	extractors map[etl.SourceType]Extractor
}

func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[etl.SourceType]Extractor)}
	r.Register(NewAPIExtractor())
	r.Register(NewFileExtractor())
	r.Register(NewScraperExtractor())
	return r
}

func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[e.Type()] = e
}

// Lookup returns the extractor for a source type, or a ConfigurationError
// when none is registered.
func (r *Registry) Lookup(t etl.SourceType) (Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[t]
	if !ok {
		return nil, etl.NewConfigurationError("no extractor registered for source type %q", t)
	}
	return e, nil
}
