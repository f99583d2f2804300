package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentcore/core/runtime/telemetry"
	"github.com/agentcore/core/runtime/toolerror"
)

// Snapshot is the persistence contract: the ordered episode list plus the
// authoritative Q-value map. Snapshots are values; Store.Snapshot copies on
// read and Restore copies on load.
type Snapshot struct {
	Episodes []*Episode         `json:"episodes"`
	QValues  map[string]float32 `json:"q_values"`
}

// SnapshotBackend persists snapshots durably. Implementations must make
// Save atomic: a failed write leaves the previous snapshot intact, and a
// concurrent load never observes a partial write.
type SnapshotBackend interface {
	// Save durably replaces the snapshot stored under table.
	Save(ctx context.Context, table string, snap *Snapshot) error
	// Load returns the snapshot stored under table, or (nil, nil) when none
	// has been saved yet.
	Load(ctx context.Context, table string) (*Snapshot, error)
}

// FileBackend stores snapshots as JSON files, one per table, using the
// write-temp-then-rename idiom for atomicity.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the directory if needed and returns a backend
// rooted there.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, toolerror.Wrap(toolerror.Transient, "create snapshot directory", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(table string) string {
	return filepath.Join(b.dir, table+".json")
}

// Save implements SnapshotBackend. The snapshot is written to a temp file
// in the same directory and atomically renamed over the target.
func (b *FileBackend) Save(ctx context.Context, table string, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return toolerror.Wrap(toolerror.Transient, "marshal snapshot", err)
	}
	tmp, err := os.CreateTemp(b.dir, table+".*.tmp")
	if err != nil {
		return toolerror.Wrap(toolerror.Transient, "create snapshot temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return toolerror.Wrap(toolerror.Transient, "write snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return toolerror.Wrap(toolerror.Transient, "close snapshot temp file", err)
	}
	if err := os.Rename(tmpName, b.path(table)); err != nil {
		_ = os.Remove(tmpName)
		return toolerror.Wrap(toolerror.Transient, "rename snapshot into place", err)
	}
	return nil
}

// Load implements SnapshotBackend.
func (b *FileBackend) Load(ctx context.Context, table string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.path(table))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, toolerror.Wrap(toolerror.Transient, "read snapshot", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, toolerror.Wrap(toolerror.Transient, "decode snapshot", err)
	}
	return &snap, nil
}

// SnapshotManager schedules durable saves of a Store's state. Save triggers
// carry a reason tag and are coalesced inside a debounce window: many
// triggers collapse into one write, the last state wins. Flush and Close
// force any pending write out synchronously.
type SnapshotManager struct {
	store    *Store
	backend  SnapshotBackend
	table    string
	strict   bool
	debounce time.Duration
	logger   telemetry.Logger

	mu      sync.Mutex
	pending map[string]int // reason tag -> trigger count since last write
	timer   *time.Timer
	closed  bool
}

// SnapshotManagerOption customizes manager construction.
type SnapshotManagerOption func(*SnapshotManager)

// WithDebounce overrides the coalescing window (default one second).
func WithDebounce(d time.Duration) SnapshotManagerOption {
	return func(m *SnapshotManager) { m.debounce = d }
}

// WithManagerLogger wires structured logging into the manager.
func WithManagerLogger(logger telemetry.Logger) SnapshotManagerOption {
	return func(m *SnapshotManager) { m.logger = logger }
}

// NewSnapshotManager binds a store to a backend under the given table key.
// strict selects strict-startup semantics: Startup propagates load failures
// instead of starting empty.
func NewSnapshotManager(store *Store, backend SnapshotBackend, table string, strict bool, opts ...SnapshotManagerOption) *SnapshotManager {
	m := &SnapshotManager{
		store:    store,
		backend:  backend,
		table:    table,
		strict:   strict,
		debounce: time.Second,
		pending:  make(map[string]int),
		logger:   telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Startup restores the store from the backend. Under strict startup a load
// failure is fatal to the caller; otherwise the store starts empty and the
// failure is logged.
func (m *SnapshotManager) Startup(ctx context.Context) error {
	snap, err := m.backend.Load(ctx, m.table)
	if err != nil {
		if m.strict {
			return toolerror.Wrap(toolerror.Fatal, fmt.Sprintf("strict startup: load snapshot %q", m.table), err)
		}
		m.logger.Warn(ctx, "snapshot load failed, starting empty", "table", m.table, "err", err.Error())
		return nil
	}
	if snap != nil {
		m.store.Restore(snap)
	}
	return nil
}

// ScheduleSave records a save trigger under the reason tag and arms the
// debounce timer. Multiple triggers within the window collapse into one
// write.
func (m *SnapshotManager) ScheduleSave(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.pending[reason]++
	if m.timer == nil {
		m.timer = time.AfterFunc(m.debounce, m.flushAsync)
	}
}

func (m *SnapshotManager) flushAsync() {
	if err := m.Flush(context.Background()); err != nil {
		m.logger.Warn(context.Background(), "snapshot save failed", "table", m.table, "err", err.Error())
	}
}

// Flush writes the store's current state if any trigger is pending. A save
// failure leaves the previous snapshot intact and the triggers pending, so
// the next window retries.
func (m *SnapshotManager) Flush(ctx context.Context) error {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if len(m.pending) == 0 {
		m.mu.Unlock()
		return nil
	}
	reasons := m.pending
	m.pending = make(map[string]int)
	m.mu.Unlock()

	snap := m.store.Snapshot()
	if err := m.backend.Save(ctx, m.table, snap); err != nil {
		m.mu.Lock()
		for tag, n := range reasons {
			m.pending[tag] += n
		}
		m.mu.Unlock()
		return err
	}
	for tag, n := range reasons {
		m.logger.Debug(ctx, "snapshot saved", "table", m.table, "reason", tag, "coalesced", n)
	}
	return nil
}

// Close flushes any pending save and stops the manager. Subsequent
// ScheduleSave calls are ignored.
func (m *SnapshotManager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Flush(ctx)
}
