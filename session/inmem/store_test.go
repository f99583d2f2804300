package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentcore/core/session"
)

func TestCreateLoadEndSession(t *testing.T) {
	r := New()
	now := time.Now().UTC()

	sess, err := r.CreateSession(context.Background(), "sess-1", now)
	require.NoError(t, err)
	require.Equal(t, session.StatusActive, sess.Status)

	loaded, err := r.LoadSession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, sess, loaded)

	ended, err := r.EndSession(context.Background(), "sess-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, session.StatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)

	// Ending again is idempotent; creating again is rejected.
	again, err := r.EndSession(context.Background(), "sess-1", now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, ended, again)
	_, err = r.CreateSession(context.Background(), "sess-1", now)
	require.ErrorIs(t, err, session.ErrSessionEnded)
}

func TestCreateSessionIdempotentWhileActive(t *testing.T) {
	r := New()
	now := time.Now().UTC()
	first, err := r.CreateSession(context.Background(), "sess-1", now)
	require.NoError(t, err)
	second, err := r.CreateSession(context.Background(), "sess-1", now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestLoadSessionNotFound(t *testing.T) {
	r := New()
	_, err := r.LoadSession(context.Background(), "missing")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestUpsertRunLifecycle(t *testing.T) {
	r := New()
	run := session.RunMeta{
		RunID:     "run-1",
		AgentID:   "agent.chat",
		SessionID: "sess-1",
		Status:    session.RunStatusPending,
		Labels:    map[string]string{"org": "demo"},
	}
	require.NoError(t, r.UpsertRun(context.Background(), run))

	stored, err := r.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.False(t, stored.StartedAt.IsZero())

	// started_at is immutable once set.
	run.StartedAt = stored.StartedAt.Add(time.Hour)
	require.Error(t, r.UpsertRun(context.Background(), run))

	run.StartedAt = stored.StartedAt
	run.Status = session.RunStatusCompleted
	require.NoError(t, r.UpsertRun(context.Background(), run))
	updated, err := r.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, session.RunStatusCompleted, updated.Status)
}

func TestListRunsBySessionFiltersStatus(t *testing.T) {
	r := New()
	for _, run := range []session.RunMeta{
		{RunID: "run-1", AgentID: "a", SessionID: "sess-1", Status: session.RunStatusRunning},
		{RunID: "run-2", AgentID: "a", SessionID: "sess-1", Status: session.RunStatusFailed},
		{RunID: "run-3", AgentID: "a", SessionID: "sess-2", Status: session.RunStatusRunning},
	} {
		require.NoError(t, r.UpsertRun(context.Background(), run))
	}

	out, err := r.ListRunsBySession(context.Background(), "sess-1", []session.RunStatus{session.RunStatusRunning})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "run-1", out[0].RunID)

	all, err := r.ListRunsBySession(context.Background(), "sess-1", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestClonesProtectInternalState(t *testing.T) {
	r := New()
	run := session.RunMeta{
		RunID:     "run-1",
		AgentID:   "a",
		SessionID: "sess-1",
		Labels:    map[string]string{"k": "v"},
	}
	require.NoError(t, r.UpsertRun(context.Background(), run))

	loaded, err := r.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)
	loaded.Labels["k"] = "mutated"

	fresh, err := r.LoadRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, "v", fresh.Labels["k"])
}
