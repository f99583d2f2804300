package toolindex

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/agentcore/core/runtime/toolerror"
)

// row is the columnar representation of one ToolDescriptor. Field names
// mirror the on-disk schema: id (tool_name), a fixed-size vector column,
// dictionary-style low-cardinality strings, and variable-length text/lists.
type row struct {
	id              string
	vector          []float32
	content         string
	skillName       string
	category        string
	toolName        string
	filePath        string
	routingKeywords []string
	intents         []string
	metadata        map[string]any
	inputSchema     []byte
}

func rowFromDescriptor(d *ToolDescriptor, dimension int) *row {
	vec := d.Embedding
	if len(vec) == 0 {
		vec = zeroVector(dimension)
	}
	return &row{
		id:              d.ToolName,
		vector:          vec,
		content:         d.Description,
		skillName:       d.SkillName,
		category:        d.Category,
		toolName:        d.ToolName,
		filePath:        d.FilePath,
		routingKeywords: append([]string(nil), d.RoutingKeywords...),
		intents:         append([]string(nil), d.Intents...),
		metadata:        d.Metadata,
		inputSchema:     d.InputSchema,
	}
}

func (r *row) toDescriptor() *ToolDescriptor {
	return &ToolDescriptor{
		ToolName:        r.toolName,
		SkillName:       r.skillName,
		Category:        r.category,
		Description:     r.content,
		FilePath:        r.filePath,
		RoutingKeywords: append([]string(nil), r.routingKeywords...),
		Intents:         append([]string(nil), r.intents...),
		InputSchema:     r.inputSchema,
		Embedding:       append([]float32(nil), r.vector...),
		Metadata:        r.metadata,
	}
}

// Table is the abstract columnar-table capability behind the tool index:
// append/merge-insert of rows keyed on tool_name, a nearest-neighbor vector
// scan, and a pluggable keyword index built over the same rows. Any backing
// store that preserves these operations and the column layout is
// admissible; this implementation keeps rows in memory while callers still
// observe search/add/merge/create_index as cancellable, deadline-aware
// operations.
type Table struct {
	mu            sync.RWMutex
	name          string
	dimension     int
	enableKeyword bool
	rows          map[string]*row
	order         []string // insertion order, for stable iteration
	keyword       *keywordIndex
	refCount      int32
}

// newTable constructs an empty table for the given name and vector dimension.
func newTable(name string, dimension int, enableKeyword bool) *Table {
	t := &Table{
		name:          name,
		dimension:     dimension,
		enableKeyword: enableKeyword,
		rows:          make(map[string]*row),
	}
	if enableKeyword {
		t.keyword = newKeywordIndex()
	}
	return t
}

// AppendBatch inserts new rows, failing the whole batch on a dimension
// mismatch for any row (per the Hybrid Tool Index's "dimension mismatch at
// insert is fatal for that batch" failure semantics).
func (t *Table) AppendBatch(ctx context.Context, tools []*ToolDescriptor) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for _, d := range tools {
		if err := d.Validate(t.dimension); err != nil {
			return 0, err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, d := range tools {
		r := rowFromDescriptor(d, t.dimension)
		if _, exists := t.rows[r.id]; !exists {
			t.order = append(t.order, r.id)
		}
		t.rows[r.id] = r
		n++
	}
	return n, nil
}

// MergeUpsert inserts or updates rows keyed on tool_name. Upserting the same
// tool twice with an identical payload is idempotent: the second call
// reports an update but leaves the table state unchanged.
func (t *Table) MergeUpsert(ctx context.Context, tools []*ToolDescriptor) (inserted, updated int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	for _, d := range tools {
		if err := d.Validate(t.dimension); err != nil {
			return 0, 0, err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, d := range tools {
		r := rowFromDescriptor(d, t.dimension)
		if _, exists := t.rows[r.id]; exists {
			updated++
		} else {
			inserted++
			t.order = append(t.order, r.id)
		}
		t.rows[r.id] = r
	}
	return inserted, updated, nil
}

// CreateIndex (re)builds the keyword index from the current row set. Calling
// it on an empty table is a no-op, matching "empty table yields an empty
// result" rather than an error.
func (t *Table) CreateIndex(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.enableKeyword {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := newKeywordIndex()
	for _, id := range t.order {
		r, ok := t.rows[id]
		if !ok {
			continue
		}
		idx.upsert(r)
	}
	t.keyword = idx
	return nil
}

// Get returns the descriptor for the given tool name.
func (t *Table) Get(id string) (*ToolDescriptor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rows[id]
	if !ok {
		return nil, false
	}
	return r.toDescriptor(), true
}

// keywordEnabled reports whether the table carries a keyword index.
func (t *Table) keywordEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.keyword != nil
}

// searchKeyword runs a BM25 query against the table's keyword index,
// returning nil when the index is disabled.
func (t *Table) searchKeyword(query string) []keywordHit {
	t.mu.RLock()
	idx := t.keyword
	t.mu.RUnlock()
	if idx == nil {
		return nil
	}
	return idx.search(query)
}

// Len returns the number of rows currently in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Rows returns every row projected back to a ToolDescriptor, in insertion
// order (load_registry).
func (t *Table) Rows() []*ToolDescriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*ToolDescriptor, 0, len(t.order))
	for _, id := range t.order {
		if r, ok := t.rows[id]; ok {
			out = append(out, r.toDescriptor())
		}
	}
	return out
}

// vectorHit is one scored candidate from a nearest-neighbor scan.
type vectorHit struct {
	row      *row
	distance float64 // squared Euclidean distance
	score    float64 // monotone similarity, 1/(1+sqrt(dist))
}

// ScanNearest computes squared-Euclidean distance against the projected
// vector column, converts to the monotone similarity 1/(1+sqrt(dist)), and
// returns the top `limit*2` (over-fetch) hits, letting the caller filter and
// truncate. filter, if non-nil, is applied before ranking.
func (t *Table) ScanNearest(ctx context.Context, query []float32, limit int, filter func(*ToolDescriptor) bool) ([]vectorHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	hits := make([]vectorHit, 0, len(t.rows))
	for _, id := range t.order {
		r, ok := t.rows[id]
		if !ok {
			continue
		}
		if filter != nil && !filter(r.toDescriptor()) {
			continue
		}
		dist := squaredEuclidean(query, r.vector)
		score := 1.0 / (1.0 + math.Sqrt(dist))
		hits = append(hits, vectorHit{row: r, distance: dist, score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	overFetch := limit * 2
	if overFetch <= 0 || overFetch > len(hits) {
		overFetch = len(hits)
	}
	return hits[:overFetch], nil
}

// squaredEuclidean computes the squared Euclidean distance between two
// vectors of possibly mismatched length (missing components treated as 0),
// so a zero-vector sentinel for "no embedding" always scores very low
// against any non-trivial query.
func squaredEuclidean(a, b []float32) float64 {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		var av, bv float32
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		d := float64(av - bv)
		sum += d * d
	}
	return sum
}

// errTableNotFound is returned by index lookups when the named table has
// never been built.
var errTableNotFound = toolerror.New(toolerror.NotFound, "table not found")
