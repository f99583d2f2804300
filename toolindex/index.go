package toolindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agentcore/core/runtime/telemetry"
	"github.com/agentcore/core/runtime/toolerror"
)

// DescriptorSink receives every descriptor written through the index before
// it is projected into the columnar table. It is the write-through seam to
// the system-of-record catalog; the catalog.Catalog interface satisfies it.
type DescriptorSink interface {
	SaveDescriptor(ctx context.Context, d *ToolDescriptor) error
}

// Index is the hybrid tool index: a set of named columnar tables with
// per-table keyword indexes, a bounded handle cache, calibrated ranking, and
// an optional write-through descriptor catalog.
//
// Index is safe for concurrent use. Table mutation (Add, MergeUpsert,
// CreateIndex, Drop) and search may interleave freely; searches observe a
// consistent row set per the table's reader-writer discipline.
type Index struct {
	basePath string
	cfg      Config
	catalog  DescriptorSink
	obs      *observability

	mu     sync.RWMutex
	tables map[string]*Table
	cache  *tableCache
}

// Option customizes Index construction.
type Option func(*Index)

// WithCatalog routes every Add/MergeUpsert descriptor through the given
// system-of-record sink before projecting it into the columnar table.
func WithCatalog(sink DescriptorSink) Option {
	return func(ix *Index) { ix.catalog = sink }
}

// WithTelemetry wires structured logging, metrics, and tracing into the
// index. Nil components fall back to no-ops.
func WithTelemetry(logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) Option {
	return func(ix *Index) { ix.obs = newObservability(logger, metrics, tracer) }
}

// New constructs an index rooted at basePath with the given configuration.
// basePath names the filesystem root for any durable artifacts the backing
// columnar implementation chooses to write; the in-memory implementation
// keeps it for identification only.
func New(basePath string, cfg Config, opts ...Option) *Index {
	if cfg.MaxCachedTables <= 0 {
		cfg.MaxCachedTables = DefaultConfig(cfg.Dimension).MaxCachedTables
	}
	ix := &Index{
		basePath: basePath,
		cfg:      cfg,
		tables:   make(map[string]*Table),
		cache:    newTableCache(cfg.MaxCachedTables),
	}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.obs == nil {
		ix.obs = newObservability(nil, nil, nil)
	}
	return ix
}

// Build creates the named table if it does not exist and returns its handle.
// Building an existing table returns the existing handle, so startup is
// idempotent.
func (ix *Index) Build(ctx context.Context, table string) (*Table, error) {
	start := time.Now()
	ctx, span := ix.obs.startSpan(ctx, opBuild, attribute.String("table", table))
	t, err := ix.build(ctx, table)
	ix.finish(ctx, span, operationEvent{Operation: opBuild, Table: table, Duration: time.Since(start)}, err)
	return t, err
}

func (ix *Index) build(ctx context.Context, table string) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if table == "" {
		return nil, toolerror.New(toolerror.Validation, "table name is required")
	}
	if ix.cfg.Dimension <= 0 {
		return nil, toolerror.New(toolerror.Validation, "vector dimension must be positive")
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if t, ok := ix.tables[table]; ok {
		ix.cache.put(table, t)
		return t, nil
	}
	t := newTable(table, ix.cfg.Dimension, ix.cfg.EnableKeywordIndex)
	ix.tables[table] = t
	ix.cache.put(table, t)
	return t, nil
}

// Add appends the given descriptors to the named table, validating each and
// writing through the catalog when one is configured. Returns the number of
// rows written. A dimension mismatch on any descriptor fails the whole batch.
func (ix *Index) Add(ctx context.Context, table string, tools []*ToolDescriptor) (int, error) {
	start := time.Now()
	ctx, span := ix.obs.startSpan(ctx, opAdd, attribute.String("table", table))
	n, err := ix.add(ctx, table, tools)
	ix.finish(ctx, span, operationEvent{Operation: opAdd, Table: table, Duration: time.Since(start), ResultCount: n}, err)
	return n, err
}

func (ix *Index) add(ctx context.Context, table string, tools []*ToolDescriptor) (int, error) {
	t, err := ix.lookup(table)
	if err != nil {
		return 0, err
	}
	if err := ix.validateBatch(ctx, tools); err != nil {
		return 0, err
	}
	return t.AppendBatch(ctx, tools)
}

// MergeUpsert inserts or updates descriptors keyed on tool name, reporting
// how many rows were inserted versus updated.
func (ix *Index) MergeUpsert(ctx context.Context, table string, tools []*ToolDescriptor) (inserted, updated int, err error) {
	start := time.Now()
	ctx, span := ix.obs.startSpan(ctx, opMergeUpsert, attribute.String("table", table))
	inserted, updated, err = ix.mergeUpsert(ctx, table, tools)
	ix.finish(ctx, span, operationEvent{Operation: opMergeUpsert, Table: table, Duration: time.Since(start), ResultCount: inserted + updated}, err)
	return inserted, updated, err
}

func (ix *Index) mergeUpsert(ctx context.Context, table string, tools []*ToolDescriptor) (int, int, error) {
	t, err := ix.lookup(table)
	if err != nil {
		return 0, 0, err
	}
	if err := ix.validateBatch(ctx, tools); err != nil {
		return 0, 0, err
	}
	return t.MergeUpsert(ctx, tools)
}

// CreateIndex (re)builds the keyword index for the named table.
func (ix *Index) CreateIndex(ctx context.Context, table string) error {
	start := time.Now()
	ctx, span := ix.obs.startSpan(ctx, opCreateIndex, attribute.String("table", table))
	t, err := ix.lookup(table)
	if err == nil {
		err = t.CreateIndex(ctx)
	}
	ix.finish(ctx, span, operationEvent{Operation: opCreateIndex, Table: table, Duration: time.Since(start)}, err)
	return err
}

// Drop removes the named table and coherently evicts its cached handle.
func (ix *Index) Drop(ctx context.Context, table string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.tables[table]; !ok {
		return errTableNotFound
	}
	delete(ix.tables, table)
	ix.cache.evict(table)
	return nil
}

// LoadRegistry returns every descriptor in the named table in insertion
// order.
func (ix *Index) LoadRegistry(ctx context.Context, table string) ([]*ToolDescriptor, error) {
	start := time.Now()
	ctx, span := ix.obs.startSpan(ctx, opLoadReg, attribute.String("table", table))
	var out []*ToolDescriptor
	t, err := ix.lookup(table)
	if err == nil {
		if err = ctx.Err(); err == nil {
			out = t.Rows()
		}
	}
	ix.finish(ctx, span, operationEvent{Operation: opLoadReg, Table: table, Duration: time.Since(start), ResultCount: len(out)}, err)
	return out, err
}

// lookup returns the live table handle for name, consulting the handle cache
// before the authoritative map.
func (ix *Index) lookup(name string) (*Table, error) {
	if t, ok := ix.cache.get(name); ok {
		return t, nil
	}
	ix.mu.RLock()
	t, ok := ix.tables[name]
	ix.mu.RUnlock()
	if !ok {
		return nil, errTableNotFound
	}
	ix.cache.put(name, t)
	return t, nil
}

// validateBatch enforces descriptor invariants and, when a descriptor
// carries an input schema, compiles it so malformed schemas are rejected at
// ingestion rather than surfacing at call time. It then writes each
// descriptor through the catalog when one is configured.
func (ix *Index) validateBatch(ctx context.Context, tools []*ToolDescriptor) error {
	for _, d := range tools {
		if err := d.Validate(ix.cfg.Dimension); err != nil {
			return err
		}
		if err := validateInputSchema(d); err != nil {
			return err
		}
	}
	if ix.catalog == nil {
		return nil
	}
	for _, d := range tools {
		if err := ix.catalog.SaveDescriptor(ctx, d); err != nil {
			return toolerror.Wrap(toolerror.Transient, fmt.Sprintf("catalog save %q", d.ToolName), err)
		}
	}
	return nil
}

// validateInputSchema compiles the descriptor's input schema, if any.
func validateInputSchema(d *ToolDescriptor) error {
	if len(d.InputSchema) == 0 {
		return nil
	}
	var doc any
	if err := json.Unmarshal(d.InputSchema, &doc); err != nil {
		return toolerror.Wrap(toolerror.Validation, fmt.Sprintf("tool %q input schema is not valid JSON", d.ToolName), err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", doc); err != nil {
		return toolerror.Wrap(toolerror.Validation, fmt.Sprintf("tool %q input schema resource", d.ToolName), err)
	}
	if _, err := compiler.Compile("schema.json"); err != nil {
		return toolerror.Wrap(toolerror.Validation, fmt.Sprintf("tool %q input schema does not compile", d.ToolName), err)
	}
	return nil
}

// finish records the completion event for an operation: one structured log
// line, one set of metrics, and span closure.
func (ix *Index) finish(ctx context.Context, span telemetry.Span, e operationEvent, err error) {
	e.Outcome = outcomeSuccess
	if err != nil {
		e.Outcome = outcomeError
		e.Error = err.Error()
	}
	ix.obs.logOperation(ctx, e)
	ix.obs.recordMetrics(e)
	ix.obs.endSpan(span, e.Outcome, err)
}
