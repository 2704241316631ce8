// Package validate decides per-record pass/fail against declarative rule sets
// and scores record quality on a continuous [0,1] scale.
package validate

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"sync"
	"time"

	"gridflow/internal/etl"
)

type compiledRule struct {
	etl.Rule
	pattern *regexp.Regexp
}

// Validator holds one compiled rule set per source type. Malformed rules are
// rejected at registration time; Validate never fails on rule shape.
type Validator struct {
	mu    sync.RWMutex
	rules map[etl.SourceType][]compiledRule
}

func New() *Validator {
	return &Validator{rules: make(map[etl.SourceType][]compiledRule)}
}

// RegisterRules replaces the rule set for a source type. A malformed rule
// definition is a ConfigurationError.
func (v *Validator) RegisterRules(sourceType etl.SourceType, rules []etl.Rule) error {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{Rule: r}
		if r.Field == "" {
			return etl.NewConfigurationError("validation rule for %s has no field", sourceType)
		}
		switch r.Type {
		case etl.RuleRequired:
			cr.Critical = true
		case etl.RuleDataType:
			switch r.DataType {
			case "string", "number", "int", "bool":
			default:
				return etl.NewConfigurationError("rule %s: unknown data type %q", r.Field, r.DataType)
			}
		case etl.RuleRange:
			if r.Min == nil && r.Max == nil {
				return etl.NewConfigurationError("rule %s: range rule needs min or max", r.Field)
			}
			if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
				return etl.NewConfigurationError("rule %s: range min %v exceeds max %v", r.Field, *r.Min, *r.Max)
			}
		case etl.RuleRegex:
			p, err := regexp.Compile(r.Pattern)
			if err != nil {
				return etl.NewConfigurationError("rule %s: invalid pattern: %v", r.Field, err)
			}
			cr.pattern = p
		case etl.RuleEnum:
			if len(r.Values) == 0 {
				return etl.NewConfigurationError("rule %s: enum rule needs values", r.Field)
			}
		case etl.RuleConsistency:
			if r.OtherField == "" {
				return etl.NewConfigurationError("rule %s: consistency rule needs otherField", r.Field)
			}
			switch r.Op {
			case "lte", "gte", "eq":
			default:
				return etl.NewConfigurationError("rule %s: unknown consistency op %q", r.Field, r.Op)
			}
		default:
			return etl.NewConfigurationError("rule %s: unknown rule type %q", r.Field, r.Type)
		}
		compiled = append(compiled, cr)
	}

	v.mu.Lock()
	v.rules[sourceType] = compiled
	v.mu.Unlock()
	return nil
}

// ValidateRecord evaluates every registered rule against the record. Critical
// failures make the record invalid; the rest become warnings. The record's
// data is never mutated.
func (v *Validator) ValidateRecord(rec *etl.DataRecord, sourceType etl.SourceType) etl.ValidationStatus {
	v.mu.RLock()
	rules := v.rules[sourceType]
	v.mu.RUnlock()

	status := etl.ValidationStatus{Valid: true}
	for _, r := range rules {
		ferr, ok := r.check(rec.Data)
		if ok {
			continue
		}
		if r.Critical {
			status.Valid = false
			status.Errors = append(status.Errors, ferr)
		} else {
			status.Warnings = append(status.Warnings, ferr)
		}
	}
	return status
}

func (r compiledRule) check(data map[string]any) (etl.FieldError, bool) {
	val, present := data[r.Field]
	fail := func(msg string) (etl.FieldError, bool) {
		if r.Message != "" {
			msg = r.Message
		}
		return etl.FieldError{Field: r.Field, Rule: string(r.Type), Message: msg}, false
	}

	switch r.Type {
	case etl.RuleRequired:
		if !present || val == nil || val == "" {
			return fail("field is required")
		}
	case etl.RuleDataType:
		if !present || val == nil {
			return etl.FieldError{}, true
		}
		if !matchesType(val, r.DataType) {
			return fail(fmt.Sprintf("expected %s, got %T", r.DataType, val))
		}
	case etl.RuleRange:
		f, ok := asFloat(val)
		if !ok {
			return etl.FieldError{}, true
		}
		if r.Min != nil && f < *r.Min {
			return fail(fmt.Sprintf("value %v below minimum %v", f, *r.Min))
		}
		if r.Max != nil && f > *r.Max {
			return fail(fmt.Sprintf("value %v above maximum %v", f, *r.Max))
		}
	case etl.RuleRegex:
		s, ok := val.(string)
		if !ok {
			return etl.FieldError{}, true
		}
		if !r.pattern.MatchString(s) {
			return fail(fmt.Sprintf("value %q does not match %s", s, r.Pattern))
		}
	case etl.RuleEnum:
		s := fmt.Sprintf("%v", val)
		if !present || val == nil {
			return etl.FieldError{}, true
		}
		if !slices.Contains(r.Values, s) {
			return fail(fmt.Sprintf("value %q not in allowed set", s))
		}
	case etl.RuleConsistency:
		a, okA := asFloat(val)
		b, okB := asFloat(data[r.OtherField])
		if !okA || !okB {
			return etl.FieldError{}, true
		}
		var consistent bool
		switch r.Op {
		case "lte":
			consistent = a <= b
		case "gte":
			consistent = a >= b
		case "eq":
			consistent = a == b
		}
		if !consistent {
			return fail(fmt.Sprintf("%s=%v not %s %s=%v", r.Field, a, r.Op, r.OtherField, b))
		}
	}
	return etl.FieldError{}, true
}

func matchesType(val any, dataType string) bool {
	switch dataType {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		_, ok := asFloat(val)
		return ok
	case "int":
		switch v := val.(type) {
		case int, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "bool":
		_, ok := val.(bool)
		return ok
	}
	return false
}

func asFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Quality score weights. Completeness dominates: a sparse record is worth
// less than a stale one.
const (
	weightCompleteness = 0.4
	weightFreshness    = 0.3
	weightPlausibility = 0.3
)

// QualityScore computes a weighted quality score in [0,1], independent of
// pass/fail: completeness of expected fields, freshness of the year field,
// and plausibility of range-bounded values. Callers persist the score into
// record metadata.
func (v *Validator) QualityScore(rec *etl.DataRecord, sourceType etl.SourceType) float64 {
	v.mu.RLock()
	rules := v.rules[sourceType]
	v.mu.RUnlock()

	score := weightCompleteness*completeness(rec, rules) +
		weightFreshness*freshness(rec) +
		weightPlausibility*plausibility(rec, rules)
	return min(1, max(0, score))
}

func completeness(rec *etl.DataRecord, rules []compiledRule) float64 {
	expected := make(map[string]bool)
	for _, r := range rules {
		expected[r.Field] = true
	}
	if len(expected) == 0 {
		return 1
	}
	populated := 0
	for f := range expected {
		if val, ok := rec.Data[f]; ok && val != nil && val != "" {
			populated++
		}
	}
	return float64(populated) / float64(len(expected))
}

// freshness decays linearly over ten years of age, using the record's year
// field when present and its extraction timestamp otherwise.
func freshness(rec *etl.DataRecord) float64 {
	now := time.Now()
	ageYears := now.Sub(rec.Timestamp).Hours() / (24 * 365)
	if y, ok := asFloat(rec.Data["year"]); ok && y > 0 {
		ageYears = float64(now.Year()) - y
	}
	if ageYears <= 1 {
		return 1
	}
	return max(0, 1-(ageYears-1)/10)
}

func plausibility(rec *etl.DataRecord, rules []compiledRule) float64 {
	checked, plausible := 0, 0
	for _, r := range rules {
		if r.Type != etl.RuleRange {
			continue
		}
		f, ok := asFloat(rec.Data[r.Field])
		if !ok {
			continue
		}
		checked++
		if (r.Min == nil || f >= *r.Min) && (r.Max == nil || f <= *r.Max) {
			plausible++
		}
	}
	if checked == 0 {
		return 1
	}
	return float64(plausible) / float64(checked)
}
