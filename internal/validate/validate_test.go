package validate_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gridflow/internal/etl"
	"gridflow/internal/validate"
)

func f(v float64) *float64 { return &v }

func record(data map[string]any) *etl.DataRecord {
	return etl.NewRecord("test-src", "Test", data)
}

func TestRegisterRules_MalformedRules(t *testing.T) {
	v := validate.New()

	cases := []struct {
		name string
		rule etl.Rule
	}{
		{"no field", etl.Rule{Type: etl.RuleRequired}},
		{"unknown type", etl.Rule{Field: "x", Type: "bogus"}},
		{"bad regex", etl.Rule{Field: "x", Type: etl.RuleRegex, Pattern: "["}},
		{"empty range", etl.Rule{Field: "x", Type: etl.RuleRange}},
		{"inverted range", etl.Rule{Field: "x", Type: etl.RuleRange, Min: f(10), Max: f(1)}},
		{"empty enum", etl.Rule{Field: "x", Type: etl.RuleEnum}},
		{"bad data type", etl.Rule{Field: "x", Type: etl.RuleDataType, DataType: "decimal"}},
		{"bad consistency op", etl.Rule{Field: "x", Type: etl.RuleConsistency, OtherField: "y", Op: "neq"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.RegisterRules(etl.SourceAPI, []etl.Rule{tc.rule})
			require.Error(t, err)
			require.True(t, etl.IsConfiguration(err))
		})
	}
}

func TestValidateRecord_RequiredFieldFails(t *testing.T) {
	v := validate.New()
	require.NoError(t, v.RegisterRules(etl.SourceAPI, []etl.Rule{
		{Field: "countryCode", Type: etl.RuleRequired},
	}))

	status := v.ValidateRecord(record(map[string]any{"value": 1.0}), etl.SourceAPI)
	require.False(t, status.Valid)
	require.Len(t, status.Errors, 1)
	require.Equal(t, "countryCode", status.Errors[0].Field)
	require.Equal(t, "required", status.Errors[0].Rule)
}

func TestValidateRecord_NonCriticalBecomesWarning(t *testing.T) {
	v := validate.New()
	require.NoError(t, v.RegisterRules(etl.SourceAPI, []etl.Rule{
		{Field: "value", Type: etl.RuleRange, Min: f(0), Max: f(100)},
	}))

	status := v.ValidateRecord(record(map[string]any{"value": 150.0}), etl.SourceAPI)
	require.True(t, status.Valid)
	require.Empty(t, status.Errors)
	require.Len(t, status.Warnings, 1)
}

func TestValidateRecord_CriticalRangeFails(t *testing.T) {
	v := validate.New()
	require.NoError(t, v.RegisterRules(etl.SourceAPI, []etl.Rule{
		{Field: "year", Type: etl.RuleRange, Min: f(1900), Max: f(2100), Critical: true},
	}))

	status := v.ValidateRecord(record(map[string]any{"year": 1850}), etl.SourceAPI)
	require.False(t, status.Valid)
}

func TestValidateRecord_RegexEnumType(t *testing.T) {
	v := validate.New()
	require.NoError(t, v.RegisterRules(etl.SourceAPI, []etl.Rule{
		{Field: "countryCode", Type: etl.RuleRegex, Pattern: `^[A-Z]{3}$`, Critical: true},
		{Field: "unit", Type: etl.RuleEnum, Values: []string{"percent", "GWh"}, Critical: true},
		{Field: "value", Type: etl.RuleDataType, DataType: "number", Critical: true},
	}))

	good := record(map[string]any{"countryCode": "USA", "unit": "percent", "value": 99.5})
	require.True(t, v.ValidateRecord(good, etl.SourceAPI).Valid)

	bad := record(map[string]any{"countryCode": "usa", "unit": "furlongs", "value": "abc"})
	status := v.ValidateRecord(bad, etl.SourceAPI)
	require.False(t, status.Valid)
	require.Len(t, status.Errors, 3)
}

func TestValidateRecord_CrossFieldConsistency(t *testing.T) {
	v := validate.New()
	require.NoError(t, v.RegisterRules(etl.SourceAPI, []etl.Rule{
		{Field: "renewableShare", Type: etl.RuleConsistency, OtherField: "totalShare", Op: "lte", Critical: true},
	}))

	ok := record(map[string]any{"renewableShare": 40.0, "totalShare": 100.0})
	require.True(t, v.ValidateRecord(ok, etl.SourceAPI).Valid)

	bad := record(map[string]any{"renewableShare": 120.0, "totalShare": 100.0})
	require.False(t, v.ValidateRecord(bad, etl.SourceAPI).Valid)
}

func TestValidateRecord_NeverMutatesData(t *testing.T) {
	v := validate.New()
	require.NoError(t, v.RegisterRules(etl.SourceAPI, []etl.Rule{
		{Field: "countryCode", Type: etl.RuleRequired},
	}))

	rec := record(map[string]any{"value": 42.0})
	v.ValidateRecord(rec, etl.SourceAPI)
	require.Equal(t, map[string]any{"value": 42.0}, rec.Data)
}

func TestQualityScore_Bounds(t *testing.T) {
	v := validate.New()
	require.NoError(t, v.RegisterRules(etl.SourceAPI, []etl.Rule{
		{Field: "countryCode", Type: etl.RuleRequired},
		{Field: "value", Type: etl.RuleRange, Min: f(0), Max: f(100)},
	}))

	full := record(map[string]any{"countryCode": "USA", "value": 99.5, "year": 2025})
	score := v.QualityScore(full, etl.SourceAPI)
	require.GreaterOrEqual(t, score, 0.0)
	require.LessOrEqual(t, score, 1.0)

	empty := record(map[string]any{})
	require.Less(t, v.QualityScore(empty, etl.SourceAPI), score)
}

func TestQualityScore_PlausibilityPenalty(t *testing.T) {
	v := validate.New()
	require.NoError(t, v.RegisterRules(etl.SourceAPI, []etl.Rule{
		{Field: "value", Type: etl.RuleRange, Min: f(0), Max: f(100)},
	}))

	inBounds := record(map[string]any{"value": 50.0, "year": 2025})
	outOfBounds := record(map[string]any{"value": 500.0, "year": 2025})

	require.Greater(t, v.QualityScore(inBounds, etl.SourceAPI), v.QualityScore(outOfBounds, etl.SourceAPI))
}
