package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gridflow/internal/etl"
	"gridflow/internal/pipeline"
	"gridflow/internal/sources"
	"gridflow/internal/storage"
)

// fakeExtractor serves canned records or a canned error for one source type.
type fakeExtractor struct {
	sourceType etl.SourceType
	build      func(src etl.DataSource) []*etl.DataRecord
	err        error
	calls      atomic.Int32
}

func (f *fakeExtractor) Type() etl.SourceType { return f.sourceType }

func (f *fakeExtractor) Extract(_ context.Context, src etl.DataSource) ([]*etl.DataRecord, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.build(src), nil
}

type fakeSink struct {
	mu      sync.Mutex
	batches [][]*etl.DataRecord
	err     error
}

func (s *fakeSink) UpsertBatch(_ context.Context, records []*etl.DataRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	batch := make([]*etl.DataRecord, len(records))
	copy(batch, records)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *fakeSink) loaded() []*etl.DataRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*etl.DataRecord
	for _, b := range s.batches {
		all = append(all, b...)
	}
	return all
}

type fakeQuarantine struct {
	mu      sync.Mutex
	entries []storage.QuarantinedRecord
}

func (q *fakeQuarantine) Add(_ context.Context, qr storage.QuarantinedRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, qr)
	return nil
}

func indicatorRecord(country string, value float64) map[string]any {
	data := map[string]any{
		"indicatorCode": "EG.ELC.ACCS.ZS",
		"year":          2022,
		"value":         value,
	}
	if country != "" {
		data["countryCode"] = country
	}
	return data
}

func flatRule() etl.TransformationRule {
	return etl.TransformationRule{
		Mappings: []etl.Mapping{
			{SourceField: "countryCode", TargetField: "countryCode"},
			{SourceField: "indicatorCode", TargetField: "indicatorCode"},
			{SourceField: "year", TargetField: "year"},
			{SourceField: "value", TargetField: "value"},
		},
		Validations: []etl.Rule{
			{Field: "countryCode", Type: etl.RuleRequired},
		},
	}
}

func baseConfig(srcs ...etl.DataSource) etl.PipelineConfig {
	return etl.PipelineConfig{
		Name:    "energy-indicators",
		Sources: srcs,
		Transformations: map[etl.SourceType]etl.TransformationRule{
			etl.SourceFile: flatRule(),
		},
		Retry: etl.RetryPolicy{
			MaxRetries:        3,
			BackoffMultiplier: 2.0,
			InitialDelay:      time.Millisecond,
			MaxDelay:          time.Millisecond,
		},
		ErrorHandling: etl.ErrorHandling{
			OnValidationError: etl.OnErrorQuarantine,
			OnTransformError:  etl.OnErrorSkip,
		},
		Dedup: etl.DuplicateDetectionConfig{
			Strategy:  etl.DedupKey,
			KeyFields: []string{"countryCode", "indicatorCode", "year"},
			Action:    etl.ActionMerge,
		},
	}
}

func fileSource(id string, required bool) etl.DataSource {
	return etl.DataSource{ID: id, Name: id, Type: etl.SourceFile, Required: required}
}

func TestRun_QuarantinesInvalidRecords(t *testing.T) {
	countries := []string{"USA", "DEU", "", "FRA", "JPN"}
	fake := &fakeExtractor{sourceType: etl.SourceFile, build: func(src etl.DataSource) []*etl.DataRecord {
		var out []*etl.DataRecord
		for _, c := range countries {
			out = append(out, etl.NewRecord(src.ID, src.Name, indicatorRecord(c, 50)))
		}
		return out
	}}
	registry := sources.NewRegistry()
	registry.Register(fake)

	sink := &fakeSink{}
	quar := &fakeQuarantine{}
	o, err := pipeline.New("job-1", baseConfig(fileSource("wb", true)), registry, sink, quar)
	require.NoError(t, err)

	require.NoError(t, o.Run(context.Background()))

	require.Len(t, sink.loaded(), 4)
	require.Len(t, quar.entries, 1)
	require.Equal(t, "job-1", quar.entries[0].JobID)
	require.Equal(t, "countryCode", quar.entries[0].Errors[0].Field)

	m := o.Metrics()
	require.Equal(t, int64(5), m.RecordsExtracted)
	require.Equal(t, int64(4), m.RecordsValidated)
	require.Equal(t, int64(1), m.RecordsValidationFailed)
	require.Equal(t, int64(1), m.RecordsQuarantined)
	require.Equal(t, int64(4), m.RecordsLoaded)
	// Nothing vanishes: every extracted record is accounted for.
	require.Equal(t, m.RecordsExtracted, m.RecordsLoaded+m.RecordsQuarantined)
}

func TestRun_MergesDuplicateKeys(t *testing.T) {
	now := time.Now()
	fake := &fakeExtractor{sourceType: etl.SourceFile, build: func(src etl.DataSource) []*etl.DataRecord {
		older := etl.NewRecord(src.ID, src.Name, indicatorRecord("USA", 100))
		older.Timestamp = now
		newer := etl.NewRecord(src.ID, src.Name, indicatorRecord("USA", 99.5))
		newer.Timestamp = now.Add(time.Minute)
		return []*etl.DataRecord{older, newer}
	}}
	registry := sources.NewRegistry()
	registry.Register(fake)

	sink := &fakeSink{}
	o, err := pipeline.New("job-2", baseConfig(fileSource("wb", true)), registry, sink, &fakeQuarantine{})
	require.NoError(t, err)

	require.NoError(t, o.Run(context.Background()))

	m := o.Metrics()
	require.Equal(t, int64(1), m.RecordsDedupUnique)
	require.Equal(t, int64(1), m.RecordsDedupMerged)

	stats := o.PipelineStats()
	require.Equal(t, 1, stats.Accepted)

	// The reconciled record carries the re-reported value.
	loaded := sink.loaded()
	last := loaded[len(loaded)-1]
	require.Equal(t, 99.5, last.Data["value"])
}

func TestRun_SkipActionDropsDuplicates(t *testing.T) {
	fake := &fakeExtractor{sourceType: etl.SourceFile, build: func(src etl.DataSource) []*etl.DataRecord {
		return []*etl.DataRecord{
			etl.NewRecord(src.ID, src.Name, indicatorRecord("USA", 100)),
			etl.NewRecord(src.ID, src.Name, indicatorRecord("USA", 99.5)),
		}
	}}
	registry := sources.NewRegistry()
	registry.Register(fake)

	cfg := baseConfig(fileSource("wb", true))
	cfg.Dedup.Action = etl.ActionSkip

	sink := &fakeSink{}
	o, err := pipeline.New("job-3", cfg, registry, sink, &fakeQuarantine{})
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background()))

	require.Len(t, sink.loaded(), 1)
	require.Equal(t, float64(100), sink.loaded()[0].Data["value"])
	require.Equal(t, int64(1), o.Metrics().RecordsDedupSkipped)
}

func TestRun_RetriesTransientExtractThenFails(t *testing.T) {
	fake := &fakeExtractor{
		sourceType: etl.SourceFile,
		err:        etl.Transient("extract:wb", errors.New("connection reset")),
	}
	registry := sources.NewRegistry()
	registry.Register(fake)

	o, err := pipeline.New("job-4", baseConfig(fileSource("wb", true)), registry, &fakeSink{}, &fakeQuarantine{})
	require.NoError(t, err)

	err = o.Run(context.Background())
	require.Error(t, err)

	var sf *etl.SourceFailure
	require.ErrorAs(t, err, &sf)
	require.Equal(t, 3, sf.Attempts)
	require.Equal(t, int32(3), fake.calls.Load())
}

func TestRun_OptionalSourceFailureDoesNotAbort(t *testing.T) {
	good := &fakeExtractor{sourceType: etl.SourceFile, build: func(src etl.DataSource) []*etl.DataRecord {
		return []*etl.DataRecord{etl.NewRecord(src.ID, src.Name, indicatorRecord("USA", 50))}
	}}
	bad := &fakeExtractor{sourceType: etl.SourceScraper, err: errors.New("layout changed")}
	registry := sources.NewRegistry()
	registry.Register(good)
	registry.Register(bad)

	cfg := baseConfig(
		fileSource("wb", true),
		etl.DataSource{ID: "iea", Name: "iea", Type: etl.SourceScraper, Required: false},
	)
	cfg.Transformations[etl.SourceScraper] = flatRule()

	sink := &fakeSink{}
	o, err := pipeline.New("job-5", cfg, registry, sink, &fakeQuarantine{})
	require.NoError(t, err)

	require.NoError(t, o.Run(context.Background()))
	require.Len(t, sink.loaded(), 1)
}

func TestRun_RequiredSourceFailureAborts(t *testing.T) {
	bad := &fakeExtractor{sourceType: etl.SourceFile, err: errors.New("no such file")}
	registry := sources.NewRegistry()
	registry.Register(bad)

	o, err := pipeline.New("job-6", baseConfig(fileSource("wb", true)), registry, &fakeSink{}, &fakeQuarantine{})
	require.NoError(t, err)
	require.Error(t, o.Run(context.Background()))
}

func TestRun_BatchSizeSplitsLoads(t *testing.T) {
	countries := []string{"USA", "DEU", "FRA", "JPN", "GBR"}
	fake := &fakeExtractor{sourceType: etl.SourceFile, build: func(src etl.DataSource) []*etl.DataRecord {
		var out []*etl.DataRecord
		for _, c := range countries {
			out = append(out, etl.NewRecord(src.ID, src.Name, indicatorRecord(c, 50)))
		}
		return out
	}}
	registry := sources.NewRegistry()
	registry.Register(fake)

	cfg := baseConfig(fileSource("wb", true))
	cfg.BatchSize = 2

	sink := &fakeSink{}
	o, err := pipeline.New("job-7", cfg, registry, sink, &fakeQuarantine{})
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background()))

	require.Len(t, sink.batches, 3)
	require.Len(t, sink.batches[0], 2)
	require.Len(t, sink.batches[1], 2)
	require.Len(t, sink.batches[2], 1)
}

func TestRun_ParallelSourcesShareDedupIndex(t *testing.T) {
	// Two sources report the same indicator; whichever lands second must be
	// detected as a duplicate of the first.
	build := func(src etl.DataSource) []*etl.DataRecord {
		return []*etl.DataRecord{etl.NewRecord(src.ID, src.Name, indicatorRecord("USA", 50))}
	}
	registry := sources.NewRegistry()
	registry.Register(&fakeExtractor{sourceType: etl.SourceFile, build: build})

	cfg := baseConfig(fileSource("wb", true), fileSource("irena", true))
	cfg.Parallelism = 2

	sink := &fakeSink{}
	o, err := pipeline.New("job-8", cfg, registry, sink, &fakeQuarantine{})
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background()))

	m := o.Metrics()
	require.Equal(t, int64(1), m.RecordsDedupUnique)
	require.Equal(t, int64(1), m.RecordsDedupMerged)
	require.Equal(t, 1, o.PipelineStats().Accepted)
}

func TestRun_FailPolicyAbortsOnInvalidRecord(t *testing.T) {
	fake := &fakeExtractor{sourceType: etl.SourceFile, build: func(src etl.DataSource) []*etl.DataRecord {
		return []*etl.DataRecord{etl.NewRecord(src.ID, src.Name, indicatorRecord("", 50))}
	}}
	registry := sources.NewRegistry()
	registry.Register(fake)

	cfg := baseConfig(fileSource("wb", true))
	cfg.ErrorHandling.OnValidationError = etl.OnErrorFail

	o, err := pipeline.New("job-9", cfg, registry, &fakeSink{}, &fakeQuarantine{})
	require.NoError(t, err)

	err = o.Run(context.Background())
	require.Error(t, err)
	require.True(t, etl.IsValidation(err))
}

func TestRun_FailPolicyAbortsOnOptionalSource(t *testing.T) {
	fake := &fakeExtractor{sourceType: etl.SourceFile, build: func(src etl.DataSource) []*etl.DataRecord {
		return []*etl.DataRecord{etl.NewRecord(src.ID, src.Name, indicatorRecord("", 50))}
	}}
	registry := sources.NewRegistry()
	registry.Register(fake)

	cfg := baseConfig(fileSource("wb", false))
	cfg.ErrorHandling.OnValidationError = etl.OnErrorFail

	o, err := pipeline.New("job-12", cfg, registry, &fakeSink{}, &fakeQuarantine{})
	require.NoError(t, err)

	err = o.Run(context.Background())
	require.Error(t, err)
	require.True(t, etl.IsValidation(err))
}

func TestRun_TransformFailPolicyAbortsOnOptionalSource(t *testing.T) {
	fake := &fakeExtractor{sourceType: etl.SourceFile, build: func(src etl.DataSource) []*etl.DataRecord {
		return []*etl.DataRecord{etl.NewRecord(src.ID, src.Name, indicatorRecord("", 50))}
	}}
	registry := sources.NewRegistry()
	registry.Register(fake)

	cfg := baseConfig(fileSource("wb", false))
	cfg.ErrorHandling.OnTransformError = etl.OnErrorFail
	rule := cfg.Transformations[etl.SourceFile]
	rule.Mappings[0].Required = true
	cfg.Transformations[etl.SourceFile] = rule

	o, err := pipeline.New("job-13", cfg, registry, &fakeSink{}, &fakeQuarantine{})
	require.NoError(t, err)

	err = o.Run(context.Background())
	require.Error(t, err)
	require.True(t, etl.IsTransform(err))
}

func TestNew_MalformedRuleFailsEarly(t *testing.T) {
	cfg := baseConfig(fileSource("wb", true))
	rule := cfg.Transformations[etl.SourceFile]
	rule.Validations = append(rule.Validations, etl.Rule{Field: "x", Type: etl.RuleRegex, Pattern: "["})
	cfg.Transformations[etl.SourceFile] = rule

	_, err := pipeline.New("job-10", cfg, sources.NewRegistry(), &fakeSink{}, &fakeQuarantine{})
	require.Error(t, err)
	require.True(t, etl.IsConfiguration(err))
}

func TestClear_ReleasesJobState(t *testing.T) {
	fake := &fakeExtractor{sourceType: etl.SourceFile, build: func(src etl.DataSource) []*etl.DataRecord {
		return []*etl.DataRecord{etl.NewRecord(src.ID, src.Name, indicatorRecord("USA", 50))}
	}}
	registry := sources.NewRegistry()
	registry.Register(fake)

	o, err := pipeline.New("job-11", baseConfig(fileSource("wb", true)), registry, &fakeSink{}, &fakeQuarantine{})
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background()))
	require.Equal(t, 1, o.PipelineStats().Accepted)

	o.Clear()
	stats := o.PipelineStats()
	require.Zero(t, stats.Accepted)
	require.Zero(t, stats.Duplicates["keyEntries"])
}
