package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gridflow/internal/etl"
	"gridflow/internal/storage"
	"gridflow/internal/storage/sqlite"
)

func newStore(t *testing.T) storage.StorageInterface {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close(context.Background()) })
	return st
}

func indicatorRecord(country string, value float64) *etl.DataRecord {
	rec := etl.NewRecord("world-bank", "World Bank", map[string]any{
		"countryCode":   country,
		"indicatorCode": "EG.ELC.ACCS.ZS",
		"year":          2022,
		"value":         value,
	})
	rec.Meta.QualityScore = 0.9
	return rec
}

func TestFactoryRegistration(t *testing.T) {
	st, err := storage.New("sqlite", filepath.Join(t.TempDir(), "factory.db"))
	require.NoError(t, err)
	require.NotNil(t, st.GetConnection())
	require.NoError(t, st.Close(context.Background()))
}

func TestRecords_UpsertIsIdempotent(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	rec := indicatorRecord("USA", 100)
	require.NoError(t, st.Records().UpsertBatch(ctx, []*etl.DataRecord{rec}))

	count, err := st.Records().Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	// Same identity with a corrected value stays one row.
	updated := indicatorRecord("USA", 99.5)
	require.NoError(t, st.Records().UpsertBatch(ctx, []*etl.DataRecord{updated}))

	count, err = st.Records().Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	var value float64
	row := st.GetConnection().QueryRow(`SELECT value FROM records WHERE country_code = 'USA'`)
	require.NoError(t, row.Scan(&value))
	require.Equal(t, 99.5, value)
}

func TestRecords_DistinctIdentities(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	batch := []*etl.DataRecord{
		indicatorRecord("USA", 100),
		indicatorRecord("DEU", 100),
		indicatorRecord("FRA", 100),
	}
	require.NoError(t, st.Records().UpsertBatch(ctx, batch))

	count, err := st.Records().Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
}

func TestRecords_EmptyBatchIsNoop(t *testing.T) {
	st := newStore(t)
	require.NoError(t, st.Records().UpsertBatch(context.Background(), nil))
}

func TestQuarantine_AddListCount(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	rec := etl.NewRecord("world-bank", "World Bank", map[string]any{"value": 50.0})
	qr := storage.QuarantinedRecord{
		Record: rec,
		JobID:  "job-1",
		Errors: []etl.FieldError{
			{Field: "countryCode", Rule: "required", Message: "field is required"},
		},
		QuarantinedAt: time.Now().UTC(),
	}
	require.NoError(t, st.Quarantine().Add(ctx, qr))

	count, err := st.Quarantine().Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	listed, err := st.Quarantine().List(ctx, "job-1", 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, "job-1", listed[0].JobID)
	require.Equal(t, rec.ID, listed[0].Record.ID)
	require.Equal(t, "countryCode", listed[0].Errors[0].Field)

	// Other jobs see nothing.
	other, err := st.Quarantine().List(ctx, "job-2", 10)
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestDeleteOlderThan(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	require.NoError(t, st.Records().UpsertBatch(ctx, []*etl.DataRecord{indicatorRecord("USA", 100)}))

	// Nothing is old enough yet.
	require.NoError(t, st.Records().DeleteOlderThan(ctx, time.Hour))
	count, err := st.Records().Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	// A zero cutoff sweeps everything written before now.
	require.NoError(t, st.Records().DeleteOlderThan(ctx, -time.Second))
	count, err = st.Records().Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}
