package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQTableDefault(t *testing.T) {
	q := NewQTable()
	require.InDelta(t, 0.5, q.Get("missing"), 1e-9)
	require.Zero(t, q.Len())
}

func TestQTableUpdate(t *testing.T) {
	q := NewQTable()
	next := q.Update("e1", 1.0)
	require.InDelta(t, 0.5+0.2*(1.0-0.5), next, 1e-9)
	require.InDelta(t, next, q.Get("e1"), 1e-9)
}

func TestQTableSetClamps(t *testing.T) {
	q := NewQTable()
	q.Set("hi", 1.5)
	q.Set("lo", -0.5)
	require.InDelta(t, 1.0, q.Get("hi"), 1e-9)
	require.InDelta(t, 0.0, q.Get("lo"), 1e-9)
}

func TestQTableSnapshotRestore(t *testing.T) {
	q := NewQTable()
	q.Set("a", 0.9)
	q.Set("b", 0.1)

	snap := q.Snapshot()
	q.Set("a", 0.2)

	restored := NewQTable()
	restored.Restore(snap)
	require.InDelta(t, 0.9, restored.Get("a"), 1e-9)
	require.InDelta(t, 0.1, restored.Get("b"), 1e-9)

	// The snapshot is a value: mutating it later does not affect the table.
	snap["a"] = 0.0
	require.InDelta(t, 0.9, restored.Get("a"), 1e-9)
}

func TestQTableDelete(t *testing.T) {
	q := NewQTable()
	q.Set("a", 0.9)
	q.Delete("a")
	require.InDelta(t, 0.5, q.Get("a"), 1e-9)
}
