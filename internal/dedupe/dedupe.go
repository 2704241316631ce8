// Package dedupe decides whether a record duplicates one already accepted in
// the same job, and how the pair is reconciled. The detector's index is
// scoped to a single job and must be cleared between jobs.
package dedupe

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gridflow/internal/etl"
)

// SimilarityThreshold is the token-overlap score above which two records are
// considered the same entity.
const SimilarityThreshold = 0.85

// Detector indexes accepted records by content hash and composite key for one
// job execution. It is not shared across jobs; cross-job leakage and
// unbounded growth are avoided by construction.
type Detector struct {
	cfg etl.DuplicateDetectionConfig

	mu         sync.Mutex
	hashIndex  map[string]string // content hash -> record id
	keyIndex   map[string]string // composite key -> record id
	similarSet map[string]bool   // record ids already compared as unique
}

func New(cfg etl.DuplicateDetectionConfig) *Detector {
	if cfg.Strategy == "" {
		cfg.Strategy = etl.DedupKey
	}
	if cfg.Action == "" {
		cfg.Action = etl.ActionMerge
	}
	return &Detector{
		cfg:        cfg,
		hashIndex:  make(map[string]string),
		keyIndex:   make(map[string]string),
		similarSet: make(map[string]bool),
	}
}

// Check decides whether rec duplicates one of existing. The scan runs newest
// to oldest so the most recent match wins for merge bookkeeping.
func (d *Detector) Check(rec *etl.DataRecord, existing []*etl.DataRecord) etl.DuplicateResult {
	switch d.cfg.Strategy {
	case etl.DedupHash:
		return d.checkHash(rec)
	case etl.DedupSimilarity:
		return d.checkSimilarity(rec, existing)
	default:
		return d.checkKey(rec)
	}
}

func (d *Detector) checkHash(rec *etl.DataRecord) etl.DuplicateResult {
	h := ContentHash(rec)
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.hashIndex[h]; ok {
		return etl.DuplicateResult{IsDuplicate: true, ExistingID: id}
	}
	d.hashIndex[h] = rec.ID
	return etl.DuplicateResult{}
}

func (d *Detector) checkKey(rec *etl.DataRecord) etl.DuplicateResult {
	k := d.compositeKey(rec)
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.keyIndex[k]; ok {
		return etl.DuplicateResult{IsDuplicate: true, ExistingID: id}
	}
	d.keyIndex[k] = rec.ID
	return etl.DuplicateResult{}
}

func (d *Detector) checkSimilarity(rec *etl.DataRecord, existing []*etl.DataRecord) etl.DuplicateResult {
	recTokens := tokenize(rec)
	best := etl.DuplicateResult{}
	for i := len(existing) - 1; i >= 0; i-- {
		cand := existing[i]
		score := overlap(recTokens, tokenize(cand))
		if score >= SimilarityThreshold && score > best.Similarity {
			best = etl.DuplicateResult{IsDuplicate: true, ExistingID: cand.ID, Similarity: score}
		}
	}
	if !best.IsDuplicate {
		d.mu.Lock()
		d.similarSet[rec.ID] = true
		d.mu.Unlock()
	}
	return best
}

// compositeKey joins the configured key fields; unset fields contribute an
// empty segment so key shape stays stable across records.
func (d *Detector) compositeKey(rec *etl.DataRecord) string {
	fields := d.cfg.KeyFields
	if len(fields) == 0 {
		fields = []string{"countryCode", "indicatorCode", "year"}
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = strings.ToLower(fmt.Sprintf("%v", rec.Data[f]))
	}
	return strings.Join(parts, "|")
}

// Resolve reconciles a detected duplicate pair according to the configured
// action. Skip returns nil (new record discarded); replace returns the new
// record verbatim; merge unions fields with the newer record winning.
func (d *Detector) Resolve(newRec, existing *etl.DataRecord) *etl.DataRecord {
	switch d.cfg.Action {
	case etl.ActionSkip:
		return nil
	case etl.ActionReplace:
		return newRec
	default:
		return merge(newRec, existing)
	}
}

// merge is commutative under processing order: the record with the newer
// timestamp overlays the older one field by field, nil fields never
// overwrite, and lineage trails are concatenated oldest first.
func merge(incoming, existing *etl.DataRecord) *etl.DataRecord {
	// On equal timestamps the incoming record wins, matching re-report
	// semantics.
	older, newer := existing, incoming
	if existing.Timestamp.After(incoming.Timestamp) {
		older, newer = incoming, existing
	}
	out := older.Clone()
	out.ID = older.ID
	for k, v := range newer.Data {
		if v != nil {
			out.Data[k] = v
		}
	}
	out.Meta.Lineage = append(out.Meta.Lineage, newer.Meta.Lineage...)
	out.Meta.Lineage = append(out.Meta.Lineage, "dedupe:merge")
	if newer.Meta.QualityScore > out.Meta.QualityScore {
		out.Meta.QualityScore = newer.Meta.QualityScore
	}
	return out
}

// CacheStats reports index sizes for the pipeline stats endpoint.
func (d *Detector) CacheStats() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]int{
		"hashEntries":       len(d.hashIndex),
		"keyEntries":        len(d.keyIndex),
		"similarityEntries": len(d.similarSet),
	}
}

// ClearCache drops the per-job index. Must be called when the job reaches a
// terminal state.
func (d *Detector) ClearCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hashIndex = make(map[string]string)
	d.keyIndex = make(map[string]string)
	d.similarSet = make(map[string]bool)
}

// ContentHash computes a stable sha256 over the record's transformed data
// payload, with keys in sorted order so map iteration cannot change the hash.
func ContentHash(rec *etl.DataRecord) string {
	keys := make([]string, 0, len(rec.Data))
	for k := range rec.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		v, _ := json.Marshal(rec.Data[k])
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.Write(v)
		sb.WriteByte(';')
	}
	return fmt.Sprintf("%x", sha256.Sum256([]byte(sb.String())))
}

func overlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if b[t] {
			shared++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(shared) / float64(smaller)
}

func tokenize(rec *etl.DataRecord) map[string]bool {
	tokens := make(map[string]bool)
	for _, v := range rec.Data {
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, tok := range strings.Fields(Normalize(s)) {
			tokens[tok] = true
		}
	}
	return tokens
}
