// Package transform converts raw extracted records into the canonical target
// schema via declarative field mappings and ordered post-processing steps.
package transform

import (
	"fmt"
	"sort"
	"time"

	"gridflow/internal/etl"
)

// Engine applies per-source-type transformation rules. Rules are fixed at
// construction; one engine serves one job execution.
type Engine struct {
	rules map[etl.SourceType]etl.TransformationRule
}

func New(rules map[etl.SourceType]etl.TransformationRule) *Engine {
	if rules == nil {
		rules = make(map[etl.SourceType]etl.TransformationRule)
	}
	return &Engine{rules: rules}
}

// Rule returns the transformation rule registered for a source type.
func (e *Engine) Rule(sourceType etl.SourceType) (etl.TransformationRule, bool) {
	r, ok := e.rules[sourceType]
	return r, ok
}

// Apply runs the mappings for sourceType against one record, replacing its
// raw data with the mapped target-schema fields. A required target field that
// cannot be resolved is a TransformError; everything else maps best-effort.
func (e *Engine) Apply(rec *etl.DataRecord, sourceType etl.SourceType) error {
	rule, ok := e.rules[sourceType]
	if !ok {
		// No rule registered: the record passes through unchanged.
		return nil
	}

	out := make(map[string]any, len(rule.Mappings))
	for _, m := range rule.Mappings {
		val := Resolve(rec.Data, m.SourceField)
		if val == nil && m.Default != nil {
			val = m.Default
		}
		if m.Transform != nil {
			val = m.Transform(val)
		}
		if val == nil {
			if m.Required {
				return &etl.TransformError{
					RecordID: rec.ID,
					Field:    m.TargetField,
					Reason:   fmt.Sprintf("source field %s unresolved and no default", m.SourceField),
				}
			}
			continue
		}
		out[m.TargetField] = val
	}

	rec.Data = out
	rec.Meta.TransformationTime = time.Now().UTC()
	rec.AddLineage("transform:" + string(sourceType))
	return nil
}

// PostProcess runs the rule's post-processing steps over a whole batch in
// ascending Order. Each step returns one partial update map per record,
// merged shallowly; a nil entry leaves that record untouched.
func (e *Engine) PostProcess(batch []*etl.DataRecord, sourceType etl.SourceType) {
	rule, ok := e.rules[sourceType]
	if !ok || len(rule.PostProcessing) == 0 {
		return
	}

	steps := make([]etl.PostStep, len(rule.PostProcessing))
	copy(steps, rule.PostProcessing)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	for _, step := range steps {
		if step.Apply == nil {
			continue
		}
		updates := step.Apply(batch)
		for i, upd := range updates {
			if i >= len(batch) || upd == nil {
				continue
			}
			for k, v := range upd {
				batch[i].Data[k] = v
			}
			batch[i].AddLineage("post:" + step.Name)
		}
	}
}

// Resolve reads a dot-path out of a nested map. Missing intermediate
// segments yield nil, never an error.
func Resolve(data map[string]any, path string) any {
	if path == "" {
		return nil
	}
	var cur any = data
	start := 0
	for i := 0; i <= len(path); i++ {
		if i != len(path) && path[i] != '.' {
			continue
		}
		seg := path[start:i]
		start = i + 1
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}
