package session

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWindow(t *testing.T, maxTurns int) *Window {
	t.Helper()
	cfg := DefaultConfig()
	cfg.WindowMaxTurns = maxTurns
	w, err := NewWindow(cfg)
	require.NoError(t, err)
	return w
}

func TestWindowEviction(t *testing.T) {
	w := newTestWindow(t, 2)
	w.AppendTurn("s", "first question", "first answer", 0)
	w.AppendTurn("s", "second question", "second answer", 1)
	w.AppendTurn("s", "third question", "third answer", 2)

	// Capacity is 2*max_turns slots: asking for three turns returns exactly
	// the last two turns' four slots.
	slots := w.GetRecentMessages("s", 3)
	require.Len(t, slots, 4)
	assert.Equal(t, "second question", slots[0].Content)
	assert.Equal(t, RoleUser, slots[0].Role)
	assert.Equal(t, "third answer", slots[3].Content)
	assert.Equal(t, RoleAssistant, slots[3].Role)
	assert.Equal(t, 2, slots[3].ToolCount)
}

func TestWindowRingCapacityInvariant(t *testing.T) {
	w := newTestWindow(t, 3)
	for i := 0; i < 20; i++ {
		w.AppendTurn("s", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i), 0)
		st := w.Stats("s")
		assert.LessOrEqual(t, st.SlotCount, 6)
	}
	assert.Equal(t, 3, w.TurnCount("s"))
}

func TestWindowDrainOldestTurnsFIFO(t *testing.T) {
	w := newTestWindow(t, 5)
	for i := 0; i < 4; i++ {
		w.AppendTurn("s", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i), 0)
	}

	drained := w.DrainOldestTurns("s", 2)
	require.Len(t, drained, 4)
	assert.Equal(t, "q0", drained[0].Content)
	assert.Equal(t, "a1", drained[3].Content)
	assert.Equal(t, 2, w.TurnCount("s"))

	// Draining more than remains returns what's there.
	drained = w.DrainOldestTurns("s", 10)
	require.Len(t, drained, 4)
	assert.Zero(t, w.TurnCount("s"))
	assert.Empty(t, w.DrainOldestTurns("s", 1))
	assert.Empty(t, w.DrainOldestTurns("unknown", 1))
}

func TestWindowSessionsAreIndependent(t *testing.T) {
	w := newTestWindow(t, 2)
	w.AppendTurn("a", "qa", "aa", 0)
	w.AppendTurn("b", "qb", "ab", 0)
	assert.Equal(t, 1, w.TurnCount("a"))
	assert.Equal(t, 1, w.TurnCount("b"))
	w.Clear("a")
	assert.Zero(t, w.TurnCount("a"))
	assert.Equal(t, 1, w.TurnCount("b"))
}

func TestSummarySegmentTruncation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SummaryMaxChars = 10
	w, err := NewWindow(cfg)
	require.NoError(t, err)

	w.AppendSummarySegment("s", "this segment is far too long")
	segments := w.GetRecentSummarySegments("s", 1)
	require.Len(t, segments, 1)
	assert.Len(t, []rune(segments[0]), 10)
	assert.True(t, strings.HasSuffix(segments[0], "..."))

	w.AppendSummarySegment("s", "short")
	segments = w.GetRecentSummarySegments("s", 2)
	require.Len(t, segments, 2)
	assert.Equal(t, "short", segments[1])
}

func TestSummarySegmentTruncationIsRuneSafe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SummaryMaxChars = 10
	w, err := NewWindow(cfg)
	require.NoError(t, err)

	// Multi-byte content landing on the boundary is cut on rune
	// boundaries, never mid-rune.
	w.AppendSummarySegment("s", strings.Repeat("héllo wörld ", 4))
	segments := w.GetRecentSummarySegments("s", 1)
	require.Len(t, segments, 1)
	assert.True(t, utf8.ValidString(segments[0]))
	assert.Len(t, []rune(segments[0]), 10)
	assert.True(t, strings.HasSuffix(segments[0], "..."))

	// An empty segment is dropped rather than enqueued.
	w.AppendSummarySegment("s", "")
	assert.Len(t, w.GetRecentSummarySegments("s", 10), 1)
}

func TestSummaryFIFOCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SummaryMaxSegments = 3
	w, err := NewWindow(cfg)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		w.AppendSummarySegment("s", fmt.Sprintf("segment %d", i))
	}
	segments := w.GetRecentSummarySegments("s", 10)
	require.Len(t, segments, 3)
	assert.Equal(t, "segment 2", segments[0])
	assert.Equal(t, "segment 4", segments[2])
}

func TestSnapshotResetResumeDrop(t *testing.T) {
	w := newTestWindow(t, 5)
	w.AppendTurn("s", "before", "answer", 0)
	w.AppendSummarySegment("s", "old summary")

	require.NoError(t, w.SnapshotReset("s", "checkpoint"))
	assert.Zero(t, w.TurnCount("s"))
	assert.Empty(t, w.GetRecentSummarySegments("s", 10))

	savedAt, err := w.BackupSavedAt("s", "checkpoint")
	require.NoError(t, err)
	assert.Positive(t, savedAt)

	// A second reset under the same name conflicts.
	require.Error(t, w.SnapshotReset("s", "checkpoint"))

	// Work accumulated after the reset is discarded by resume.
	w.AppendTurn("s", "scratch", "scratch answer", 0)
	require.NoError(t, w.Resume("s", "checkpoint"))
	slots := w.GetRecentMessages("s", 10)
	require.Len(t, slots, 2)
	assert.Equal(t, "before", slots[0].Content)
	assert.Equal(t, []string{"old summary"}, w.GetRecentSummarySegments("s", 10))

	// The backup is consumed by resume.
	require.Error(t, w.Resume("s", "checkpoint"))

	require.NoError(t, w.SnapshotReset("s", "other"))
	require.NoError(t, w.DropBackup("s", "other"))
	require.Error(t, w.DropBackup("s", "other"))
	require.Error(t, w.Resume("s", "other"))
}

func TestReplaceWindowSlots(t *testing.T) {
	w := newTestWindow(t, 2)
	w.AppendTurn("s", "q", "a", 0)

	replacement := []TurnSlot{
		{Role: RoleUser, Content: "u1"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, Content: "u2"},
		{Role: RoleAssistant, Content: "a2"},
		{Role: RoleUser, Content: "u3"},
		{Role: RoleAssistant, Content: "a3"},
	}
	w.ReplaceWindowSlots("s", replacement)

	slots := w.GetRecentMessages("s", 10)
	require.Len(t, slots, 4) // trimmed to capacity from the head
	assert.Equal(t, "u2", slots[0].Content)
}

func TestWindowStats(t *testing.T) {
	w := newTestWindow(t, 5)
	assert.Equal(t, WindowStats{}, w.Stats("missing"))

	w.AppendTurn("s", "q", "a", 0)
	w.AppendSummarySegment("s", "sum")
	require.NoError(t, w.SnapshotReset("s", "b"))
	w.AppendTurn("s", "q2", "a2", 0)

	st := w.Stats("s")
	assert.Equal(t, 2, st.SlotCount)
	assert.Equal(t, 1, st.TurnCount)
	assert.Zero(t, st.SummaryCount)
	assert.Equal(t, 1, st.BackupCount)
}

func TestEstimateTokens(t *testing.T) {
	assert.Zero(t, estimateTokens(""))
	assert.Zero(t, estimateTokens("   "))
	assert.Equal(t, 1, estimateTokens("ab"))
	assert.Equal(t, 3, estimateTokens("12345678"))
}
