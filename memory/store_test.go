package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	s, err := NewStore(DefaultConfig(32), opts...)
	require.NoError(t, err)
	return s
}

func TestStoreAssignsDefaults(t *testing.T) {
	s := newTestStore(t)
	id := s.Store(&Episode{Intent: "deploy the service", Experience: "ran deploy", Outcome: OutcomeSuccess})
	require.NotEmpty(t, id)

	e, err := s.GetEpisode(id)
	require.NoError(t, err)
	assert.Equal(t, GlobalScope, e.Scope)
	assert.InDelta(t, 0.5, e.QValue, 1e-9)
	assert.Len(t, e.IntentEmbedding, 32)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Equal(t, e.CreatedAt.UnixMilli(), e.CreatedAtMS)
}

func TestStoreForScopeNormalizes(t *testing.T) {
	s := newTestStore(t)
	id := s.StoreForScope("  Session-A ", &Episode{Intent: "x"})
	e, err := s.GetEpisode(id)
	require.NoError(t, err)
	assert.Equal(t, "session-a", e.Scope)
}

func TestQConvergenceToSuccess(t *testing.T) {
	s := newTestStore(t)
	s.Store(&Episode{ID: "e1", Intent: "deploy"})
	for i := 0; i < 20; i++ {
		s.UpdateQ("e1", 1.0)
	}
	e, err := s.GetEpisode("e1")
	require.NoError(t, err)
	assert.Less(t, 1.0-e.QValue, 0.02)
}

func TestQRangeInvariant(t *testing.T) {
	s := newTestStore(t)
	s.Store(&Episode{ID: "e1", Intent: "a"})
	s.Store(&Episode{ID: "e2", Intent: "b"})
	rewards := []float64{1, 0, 1, 1, 0, 0.3, 0.9, 0}
	for _, r := range rewards {
		s.UpdateQ("e1", r)
		s.UpdateQ("e2", 1-r)
	}
	require.NoError(t, s.ApplyDecay(0.985))
	for _, id := range []string{"e1", "e2"} {
		e, err := s.GetEpisode(id)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, e.QValue, 0.0)
		assert.LessOrEqual(t, e.QValue, 1.0)
	}
}

func TestRecallRanksBySimilarity(t *testing.T) {
	s := newTestStore(t)
	s.Store(&Episode{ID: "deploy", Intent: "deploy the service"})
	s.Store(&Episode{ID: "coffee", Intent: "brew some coffee"})

	results := s.Recall("deploy the service", 2)
	require.Len(t, results, 2)
	assert.Equal(t, "deploy", results[0].Episode.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-5)
}

func TestRecallEmptyQueryReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	s.Store(&Episode{Intent: "something"})
	assert.Empty(t, s.Recall("", 5))
	assert.Empty(t, s.MultiHopRecall(nil, 5, 0.3))
	assert.Empty(t, s.MultiHopRecall([]string{""}, 5, 0.3))
}

func TestRecallTiesBrokenByInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	s.Store(&Episode{ID: "first", Intent: "identical"})
	s.Store(&Episode{ID: "second", Intent: "identical"})
	s.Store(&Episode{ID: "third", Intent: "identical"})

	results := s.Recall("identical", 3)
	require.Len(t, results, 3)
	assert.Equal(t, "first", results[0].Episode.ID)
	assert.Equal(t, "second", results[1].Episode.ID)
	assert.Equal(t, "third", results[2].Episode.ID)
}

func TestTwoPhaseRecallPrefersUtility(t *testing.T) {
	s := newTestStore(t)
	s.Store(&Episode{ID: "high", Intent: "fix the build", QValue: 0.9})
	s.Store(&Episode{ID: "mid", Intent: "fix the build", QValue: 0.5})
	s.Store(&Episode{ID: "low", Intent: "fix the build", QValue: 0.1})

	results := s.TwoPhaseRecall("fix the build", 3, 1, 0.8)
	require.Len(t, results, 1)
	assert.Equal(t, "high", results[0].Episode.ID)
}

func TestScopeIsolation(t *testing.T) {
	s := newTestStore(t)
	s.StoreForScope("session-a", &Episode{ID: "a1", Intent: "shared intent"})
	s.StoreForScope("session-b", &Episode{ID: "b1", Intent: "shared intent"})
	s.Store(&Episode{ID: "g1", Intent: "shared intent"})

	for _, r := range s.RecallForScope("Session-A", "shared intent", 10) {
		assert.Equal(t, "session-a", r.Episode.Scope)
	}
	require.Len(t, s.RecallForScope("session-a", "shared intent", 10), 1)

	two := s.TwoPhaseRecallForScope("session-b", "shared intent", 10, 5, 0.3)
	require.Len(t, two, 1)
	assert.Equal(t, "b1", two[0].Episode.ID)

	global := s.RecallForScope(GlobalScope, "shared intent", 10)
	require.Len(t, global, 1)
	assert.Equal(t, "g1", global[0].Episode.ID)
}

func TestZeroVectorQueryRanksAllEqual(t *testing.T) {
	s := newTestStore(t)
	s.Store(&Episode{ID: "a", Intent: "one"})
	s.Store(&Episode{ID: "b", Intent: "two"})

	results := s.RecallWithEmbedding(make([]float32, 32), 2)
	require.Len(t, results, 2)
	assert.Zero(t, results[0].Similarity)
	assert.Zero(t, results[1].Similarity)
	// Equal scores fall back to insertion order.
	assert.Equal(t, "a", results[0].Episode.ID)
}

func TestMultiHopRecallReturnsFinalHop(t *testing.T) {
	s := newTestStore(t)
	s.Store(&Episode{ID: "deploy", Intent: "deploy the service"})
	s.Store(&Episode{ID: "rollback", Intent: "roll back the deploy"})
	s.Store(&Episode{ID: "coffee", Intent: "brew some coffee"})

	results := s.MultiHopRecall([]string{"deploy the service", "roll back the deploy"}, 2, 0.3)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 2)
	// Only the final hop's ranking is returned: its query matches the
	// rollback episode's intent exactly.
	assert.Equal(t, "rollback", results[0].Episode.ID)

	// A single-hop call degenerates to a two-phase style recall.
	single := s.MultiHopRecall([]string{"brew some coffee"}, 1, 0.3)
	require.Len(t, single, 1)
	assert.Equal(t, "coffee", single[0].Episode.ID)
}

func TestRecordFeedback(t *testing.T) {
	s := newTestStore(t)
	s.Store(&Episode{ID: "e1", Intent: "x"})
	require.NoError(t, s.RecordFeedback("e1", true))
	require.NoError(t, s.RecordFeedback("e1", false))
	require.NoError(t, s.MarkAccessed("e1"))

	e, err := s.GetEpisode("e1")
	require.NoError(t, err)
	assert.Equal(t, 2, e.SuccessCount)
	assert.Equal(t, 1, e.FailureCount)

	require.Error(t, s.RecordFeedback("missing", true))
}

func TestApplyDecayFixedPoints(t *testing.T) {
	s := newTestStore(t)
	s.Store(&Episode{ID: "e1", Intent: "x", QValue: 0.9})
	s.Store(&Episode{ID: "e2", Intent: "y", QValue: 0.2})

	// Factor 1.0 leaves every Q unchanged.
	require.NoError(t, s.ApplyDecay(1.0))
	e1, _ := s.GetEpisode("e1")
	e2, _ := s.GetEpisode("e2")
	assert.InDelta(t, 0.9, e1.QValue, 1e-9)
	assert.InDelta(t, 0.2, e2.QValue, 1e-9)

	// Factor 0.0 resets every Q to the neutral 0.5.
	require.NoError(t, s.ApplyDecay(0.0))
	e1, _ = s.GetEpisode("e1")
	e2, _ = s.GetEpisode("e2")
	assert.InDelta(t, 0.5, e1.QValue, 1e-9)
	assert.InDelta(t, 0.5, e2.QValue, 1e-9)

	require.Error(t, s.ApplyDecay(1.5))
}

func TestApplyDecayMovesTowardNeutral(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s := newTestStore(t, WithClock(func() time.Time { return now }))

	s.Store(&Episode{ID: "old", Intent: "x", QValue: 0.9})
	now = base.Add(48 * time.Hour)

	require.NoError(t, s.ApplyDecay(0.985))
	e, _ := s.GetEpisode("old")
	assert.Less(t, e.QValue, 0.9)
	assert.Greater(t, e.QValue, 0.5)

	// Decay is monotone toward 0.5 but never evicts.
	for i := 0; i < 50; i++ {
		require.NoError(t, s.ApplyDecay(0.985))
	}
	e, _ = s.GetEpisode("old")
	assert.InDelta(t, 0.5, e.QValue, 0.05)
	assert.Equal(t, 1, s.Stats().EpisodeCount)
}

func TestDeleteEpisode(t *testing.T) {
	s := newTestStore(t)
	s.Store(&Episode{ID: "e1", Intent: "x"})
	require.NoError(t, s.DeleteEpisode("e1"))
	_, err := s.GetEpisode("e1")
	require.Error(t, err)
	require.Error(t, s.DeleteEpisode("e1"))
	assert.Empty(t, s.Recall("x", 5))
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	s.StoreForScope("session-a", &Episode{ID: "a", Intent: "alpha", Experience: "did alpha", Outcome: OutcomeSuccess})
	s.Store(&Episode{ID: "b", Intent: "beta"})
	s.UpdateQ("a", 1.0)
	s.UpdateQ("orphan", 0.0) // orphan Q entries survive round-trips

	snap := s.Snapshot()

	restored := newTestStore(t)
	restored.Restore(snap)

	require.Equal(t, s.Stats().EpisodeCount, restored.Stats().EpisodeCount)
	orig, _ := s.GetEpisode("a")
	back, _ := restored.GetEpisode("a")
	assert.Equal(t, orig.Scope, back.Scope)
	assert.Equal(t, orig.Intent, back.Intent)
	assert.Equal(t, orig.IntentEmbedding, back.IntentEmbedding)
	assert.InDelta(t, orig.QValue, back.QValue, 1e-6)

	// Order is preserved.
	results := restored.RecallWithEmbedding(make([]float32, 32), 10)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Episode.ID)
	assert.Equal(t, "b", results[1].Episode.ID)
}

func TestSnapshotIsValueNotReference(t *testing.T) {
	s := newTestStore(t)
	s.Store(&Episode{ID: "a", Intent: "alpha"})
	snap := s.Snapshot()

	s.UpdateQ("a", 1.0)
	require.NoError(t, s.RecordFeedback("a", true))

	require.Len(t, snap.Episodes, 1)
	assert.InDelta(t, 0.5, float64(snap.QValues["a"]), 1e-6)
	assert.Zero(t, snap.Episodes[0].SuccessCount)
}

func TestApplyRecallCredit(t *testing.T) {
	cfg := DefaultConfig(32)
	cfg.RecallCreditMaxCandidates = 2
	s, err := NewStore(cfg)
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		s.Store(&Episode{ID: id, Intent: "shared"})
	}
	recalled := s.Recall("shared", 3)
	require.Len(t, recalled, 3)

	s.ApplyRecallCredit(recalled, OutcomeSuccess)
	a, _ := s.GetEpisode("a")
	b, _ := s.GetEpisode("b")
	c, _ := s.GetEpisode("c")
	assert.Equal(t, 1, a.SuccessCount)
	assert.Equal(t, 1, b.SuccessCount)
	assert.Zero(t, c.SuccessCount) // capped at two candidates

	s.ApplyRecallCredit(recalled[:1], OutcomeError)
	a, _ = s.GetEpisode("a")
	assert.Equal(t, 1, a.FailureCount)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	s.StoreForScope("session-a", &Episode{ID: "a", Intent: "x"})
	s.Store(&Episode{ID: "g", Intent: "y"})
	require.NoError(t, s.RecordFeedback("a", true))

	st := s.Stats()
	assert.Equal(t, 2, st.EpisodeCount)
	assert.Equal(t, 1, st.ScopeCounts["session-a"])
	assert.Equal(t, 1, st.ScopeCounts[GlobalScope])
	assert.Equal(t, 1, st.SuccessTotal)
	assert.Greater(t, st.AverageQ, 0.0)
}

func TestConcurrentStoreAndRecall(t *testing.T) {
	s := newTestStore(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			s.Store(&Episode{Intent: "concurrent intent"})
			s.UpdateQ("e", 1.0)
		}
	}()
	for i := 0; i < 200; i++ {
		s.Recall("concurrent intent", 5)
		s.Stats()
	}
	<-done
}
