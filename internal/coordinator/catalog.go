package coordinator

import (
	"strconv"

	"gridflow/internal/etl"
)

// DefaultTransformations maps the indicator-style payloads the built-in
// sources emit onto the canonical schema. API payloads follow the
// countryiso3code/date/value shape; file and scraper payloads already use
// flat column names.
func DefaultTransformations() map[etl.SourceType]etl.TransformationRule {
	validations := []etl.Rule{
		{Field: "countryCode", Type: etl.RuleRequired},
		{Field: "indicatorCode", Type: etl.RuleRequired},
		{Field: "year", Type: etl.RuleRequired},
		{Field: "countryCode", Type: etl.RuleRegex, Pattern: `^[A-Z]{3}$`, Critical: true},
		{Field: "year", Type: etl.RuleRange, Min: f(1900), Max: f(2100), Critical: true},
		{Field: "value", Type: etl.RuleRange, Min: f(0), Max: f(100)},
	}

	apiRule := etl.TransformationRule{
		Mappings: []etl.Mapping{
			{SourceField: "countryiso3code", TargetField: "countryCode", Required: true},
			{SourceField: "indicator.id", TargetField: "indicatorCode", Required: true},
			{SourceField: "country.value", TargetField: "countryName"},
			{SourceField: "date", TargetField: "year", Required: true, Transform: ParseYear},
			{SourceField: "value", TargetField: "value"},
			{SourceField: "unit", TargetField: "unit"},
		},
		Validations: validations,
	}

	flatRule := etl.TransformationRule{
		Mappings: []etl.Mapping{
			{SourceField: "countryCode", TargetField: "countryCode", Required: true},
			{SourceField: "indicatorCode", TargetField: "indicatorCode", Required: true},
			{SourceField: "countryName", TargetField: "countryName"},
			{SourceField: "year", TargetField: "year", Required: true, Transform: ParseYear},
			{SourceField: "value", TargetField: "value"},
			{SourceField: "unit", TargetField: "unit"},
		},
		Validations: validations,
	}

	return map[etl.SourceType]etl.TransformationRule{
		etl.SourceAPI:     apiRule,
		etl.SourceFile:    flatRule,
		etl.SourceScraper: flatRule,
	}
}

// ParseYear coerces string or float year representations into an int. Out of
// domain input yields nil rather than a panic, so a bad row fails its
// required mapping instead of aborting the batch.
func ParseYear(v any) any {
	switch y := v.(type) {
	case int:
		return y
	case int64:
		return int(y)
	case float64:
		return int(y)
	case string:
		if n, err := strconv.Atoi(y); err == nil {
			return n
		}
		return nil
	default:
		return nil
	}
}

func f(v float64) *float64 { return &v }
