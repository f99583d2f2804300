package toolindex

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agentcore/core/runtime/toolerror"
)

// Schema identifiers stamped on serialized search results so callers can
// dispatch on record shape without sniffing fields.
const (
	SchemaVectorSearch = "agentcore.search.v1"
	SchemaHybridSearch = "agentcore.hybrid.v1"
	SchemaToolSearch   = "agentcore.tool_search.v1"
)

// VectorResult is one row from a vector-only search.
type VectorResult struct {
	Schema   string         `json:"schema"`
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Distance float64        `json:"distance"`
	Score    float64        `json:"score"`
}

// HybridResult is one row from a fused vector+keyword search.
type HybridResult struct {
	Schema       string         `json:"schema"`
	ID           string         `json:"id"`
	Content      string         `json:"content"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Source       string         `json:"source"`
	Score        float64        `json:"score"`
	VectorScore  float64        `json:"vector_score"`
	KeywordScore float64        `json:"keyword_score"`
}

// ToolResult is one calibrated tool candidate from SearchTools or
// AgenticSearch.
type ToolResult struct {
	Schema          string         `json:"schema"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	InputSchema     map[string]any `json:"input_schema,omitempty"`
	Score           float64        `json:"score"`
	VectorScore     float64        `json:"vector_score,omitempty"`
	KeywordScore    float64        `json:"keyword_score,omitempty"`
	FinalScore      float64        `json:"final_score"`
	Confidence      Confidence     `json:"confidence"`
	SkillName       string         `json:"skill_name"`
	ToolName        string         `json:"tool_name"`
	FilePath        string         `json:"file_path,omitempty"`
	RoutingKeywords []string       `json:"routing_keywords,omitempty"`
	Intents         []string       `json:"intents,omitempty"`
	Category        string         `json:"category,omitempty"`
}

// SearchOptions narrows a search before ranking. SkillName and Category are
// equality predicates; Filter, when set, is ANDed with them.
type SearchOptions struct {
	SkillName string
	Category  string
	Filter    func(*ToolDescriptor) bool
}

func (o SearchOptions) predicate() func(*ToolDescriptor) bool {
	if o.SkillName == "" && o.Category == "" && o.Filter == nil {
		return nil
	}
	return func(d *ToolDescriptor) bool {
		if o.SkillName != "" && d.SkillName != o.SkillName {
			return false
		}
		if o.Category != "" && d.Category != o.Category {
			return false
		}
		if o.Filter != nil && !o.Filter(d) {
			return false
		}
		return true
	}
}

// Search performs a vector-only scan against the named table and returns the
// top limit rows.
func (ix *Index) Search(ctx context.Context, table string, qvec []float32, limit int, opts SearchOptions) ([]VectorResult, error) {
	start := time.Now()
	ctx, span := ix.obs.startSpan(ctx, opSearch, attribute.String("table", table))
	out, err := ix.search(ctx, table, qvec, limit, opts)
	ix.finish(ctx, span, operationEvent{Operation: opSearch, Table: table, Duration: time.Since(start), ResultCount: len(out)}, err)
	return out, err
}

func (ix *Index) search(ctx context.Context, table string, qvec []float32, limit int, opts SearchOptions) ([]VectorResult, error) {
	t, err := ix.lookup(table)
	if err != nil {
		return nil, err
	}
	hits, err := t.ScanNearest(ctx, qvec, limit, opts.predicate())
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]VectorResult, len(hits))
	for i, h := range hits {
		out[i] = VectorResult{
			Schema:   SchemaVectorSearch,
			ID:       h.row.id,
			Content:  h.row.content,
			Metadata: h.row.metadata,
			Distance: h.distance,
			Score:    h.score,
		}
	}
	return out, nil
}

// SearchHybrid fuses vector and keyword rankings with the default weights
// and returns the top limit rows as hybrid records.
func (ix *Index) SearchHybrid(ctx context.Context, table string, qvec []float32, qtext string, limit int, opts SearchOptions) ([]HybridResult, error) {
	start := time.Now()
	ctx, span := ix.obs.startSpan(ctx, opSearch, attribute.String("table", table))
	out, err := ix.searchHybrid(ctx, table, qvec, qtext, limit, opts)
	ix.finish(ctx, span, operationEvent{Operation: opSearch, Table: table, Query: qtext, Duration: time.Since(start), ResultCount: len(out)}, err)
	return out, err
}

func (ix *Index) searchHybrid(ctx context.Context, table string, qvec []float32, qtext string, limit int, opts SearchOptions) ([]HybridResult, error) {
	t, err := ix.lookup(table)
	if err != nil {
		return nil, err
	}
	cands, err := ix.rank(ctx, t, qvec, qtext, limit, 0.5, 0.5, false, opts)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]HybridResult, len(cands))
	for i, c := range cands {
		out[i] = HybridResult{
			Schema:       SchemaHybridSearch,
			ID:           c.descriptor.ToolName,
			Content:      c.descriptor.Description,
			Metadata:     c.descriptor.Metadata,
			Source:       "hybrid",
			Score:        c.score,
			VectorScore:  c.vectorScore,
			KeywordScore: c.keywordScore,
		}
	}
	return out, nil
}

// SearchTools runs the full hybrid pipeline: fused ranking, rerank boosts,
// threshold filtering, and confidence calibration. qtext may be empty for a
// vector-only search; qvec may be empty for a keyword-only search.
func (ix *Index) SearchTools(ctx context.Context, table string, qvec []float32, qtext string, limit int, threshold float64, opts SearchOptions) ([]ToolResult, error) {
	start := time.Now()
	ctx, span := ix.obs.startSpan(ctx, opSearchTools, attribute.String("table", table))
	out, err := ix.searchTools(ctx, table, qvec, qtext, limit, threshold, 0.5, 0.5, ix.cfg.Rerank, ix.cfg.ConfidenceProfile, opts)
	ix.finish(ctx, span, operationEvent{Operation: opSearchTools, Table: table, Query: qtext, Duration: time.Since(start), ResultCount: len(out)}, err)
	return out, err
}

// AgenticSearch runs an intent-driven search: the intent picks the fusion
// weights and whether rerank boosts apply, and the config's skill/category
// filters are applied as equality predicates before ranking.
func (ix *Index) AgenticSearch(ctx context.Context, table string, qvec []float32, qtext string, cfg AgenticSearchConfig) ([]ToolResult, error) {
	start := time.Now()
	ctx, span := ix.obs.startSpan(ctx, opAgentic,
		attribute.String("table", table), attribute.String("intent", string(cfg.Intent)))

	wv, wk := weightsForIntent(cfg.Intent)
	rerank := ix.cfg.Rerank && cfg.Intent != IntentUnknown
	profile := cfg.ConfidenceProfile
	if profile == (ConfidenceProfile{}) {
		profile = ix.cfg.ConfidenceProfile
	}
	opts := SearchOptions{SkillName: cfg.SkillNameFilter, Category: cfg.CategoryFilter}

	out, err := ix.searchTools(ctx, table, qvec, qtext, cfg.Limit, cfg.Threshold, wv, wk, rerank, profile, opts)
	ix.finish(ctx, span, operationEvent{Operation: opAgentic, Table: table, Query: qtext, Duration: time.Since(start), ResultCount: len(out)}, err)
	return out, err
}

func (ix *Index) searchTools(ctx context.Context, table string, qvec []float32, qtext string, limit int, threshold, wv, wk float64, rerank bool, profile ConfidenceProfile, opts SearchOptions) ([]ToolResult, error) {
	t, err := ix.lookup(table)
	if err != nil {
		return nil, err
	}
	cands, err := ix.rank(ctx, t, qvec, qtext, limit, wv, wk, rerank, opts)
	if err != nil {
		return nil, err
	}

	filtered := cands[:0]
	for _, c := range cands {
		if c.score >= threshold {
			filtered = append(filtered, c)
		}
	}
	cands = filtered
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}

	out := make([]ToolResult, len(cands))
	for i, c := range cands {
		ev := calibrationEvidence{vectorScore: c.vectorScore, keywordScore: c.keywordScore}
		if i == 0 && len(cands) > 1 {
			ev.gapToRunnerUp = c.score - cands[1].score
		}
		label, final := calibrate(c.score, ev, profile)
		d := c.descriptor
		out[i] = ToolResult{
			Schema:          SchemaToolSearch,
			Name:            d.ToolName,
			Description:     d.Description,
			InputSchema:     decodeSchema(d.InputSchema),
			Score:           c.score,
			VectorScore:     c.vectorScore,
			KeywordScore:    c.keywordScore,
			FinalScore:      final,
			Confidence:      label,
			SkillName:       d.SkillName,
			ToolName:        d.ToolName,
			FilePath:        d.FilePath,
			RoutingKeywords: d.RoutingKeywords,
			Intents:         d.Intents,
			Category:        d.Category,
		}
	}
	return out, nil
}

// candidate is one fused, optionally boosted ranking entry.
type candidate struct {
	descriptor   *ToolDescriptor
	score        float64
	vectorScore  float64
	keywordScore float64
}

// rank runs both scans, fuses them with weighted RRF, and applies rerank
// boosts. It returns candidates sorted by descending score; ties are broken
// by the candidate's first appearance across the two ranked lists.
func (ix *Index) rank(ctx context.Context, t *Table, qvec []float32, qtext string, limit int, wv, wk float64, rerank bool, opts SearchOptions) ([]candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pred := opts.predicate()
	hasVec := len(qvec) > 0
	hasKw := qtext != "" && t.keywordEnabled()
	if !hasVec && !hasKw {
		// Degraded both ways: no searchable signal for this table.
		return nil, toolerror.Errorf(toolerror.NotFound, "table %q has no usable index for this query", t.name)
	}

	fetch := limit
	if fetch <= 0 {
		fetch = t.Len()
	}

	vectorScores := make(map[string]float64)
	var vectorRanked []string
	if hasVec {
		hits, err := t.ScanNearest(ctx, qvec, fetch, pred)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			vectorRanked = append(vectorRanked, h.row.id)
			vectorScores[h.row.id] = h.score
		}
	}

	keywordScores := make(map[string]float64)
	var keywordRanked []string
	if hasKw {
		hits := t.searchKeyword(qtext)
		var maxScore float64
		for _, h := range hits {
			if h.score > maxScore {
				maxScore = h.score
			}
		}
		for _, h := range hits {
			d, ok := t.Get(h.docID)
			if !ok {
				continue
			}
			if pred != nil && !pred(d) {
				continue
			}
			keywordRanked = append(keywordRanked, h.docID)
			// Normalize so keyword evidence is comparable to the vector
			// similarity's (0,1] range.
			keywordScores[h.docID] = h.score / maxScore
		}
	}

	fused := fuseRRF(vectorRanked, keywordRanked, wv, wk)

	queryTokens := tokenize(qtext)
	seen := make(map[string]bool, len(fused))
	cands := make([]candidate, 0, len(fused))
	for _, id := range append(append([]string(nil), vectorRanked...), keywordRanked...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		d, ok := t.Get(id)
		if !ok {
			continue
		}
		score := fused[id]
		if rerank && len(queryTokens) > 0 {
			score = applyRerankBoosts(d, queryTokens, score)
		}
		cands = append(cands, candidate{
			descriptor:   d,
			score:        score,
			vectorScore:  vectorScores[id],
			keywordScore: keywordScores[id],
		})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	return cands, nil
}

// decodeSchema parses the raw input schema into a map for serialization.
// Unknown keys are preserved; a malformed schema (which ingestion rejects)
// decodes to nil.
func decodeSchema(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
