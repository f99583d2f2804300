// Package memory implements the episodic memory store: a scope-partitioned,
// Q-learning-ranked episode log with two-phase semantic+utility recall, time
// decay, recall-credit feedback, a promote/obsolete gate, and durable
// snapshots.
package memory

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GlobalScope is the reserved scope key for episodes not tied to a session.
const GlobalScope = "GLOBAL"

// Outcome labels attached to episodes by callers and the consolidator.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCompleted = "completed"
)

// Episode is one unit of long-term experience: what was asked, what
// happened, and how useful it has proven to be.
type Episode struct {
	// ID uniquely identifies the episode. Store assigns a fresh UUID when
	// the caller leaves it empty.
	ID string `json:"id"`
	// Scope partitions the episode: a normalized session id or GlobalScope.
	Scope string `json:"scope"`
	// Intent is the user-facing ask this episode answers.
	Intent string `json:"intent"`
	// IntentEmbedding is the length-D embedding of Intent.
	IntentEmbedding []float32 `json:"intent_embedding"`
	// Experience is what was done and learned.
	Experience string `json:"experience"`
	// Outcome labels how the episode ended (success, error, completed, ...).
	Outcome string `json:"outcome"`
	// QValue is the learned utility in [0,1].
	QValue float64 `json:"q_value"`
	// SuccessCount and FailureCount accumulate recall-credit feedback.
	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`
	// CreatedAt anchors time decay.
	CreatedAt time.Time `json:"-"`
	// CreatedAtMS is the serialized form of CreatedAt.
	CreatedAtMS int64 `json:"created_at_ms"`
}

// NormalizeScope canonicalizes a session id into a scope key. Empty input
// and any casing of "GLOBAL" map to GlobalScope; everything else is
// lower-cased with surrounding whitespace removed so "Session-A " and
// "session-a" share one partition.
func NormalizeScope(sessionID string) string {
	s := strings.TrimSpace(sessionID)
	if s == "" || strings.EqualFold(s, GlobalScope) {
		return GlobalScope
	}
	return strings.ToLower(s)
}

// newEpisodeID returns a fresh unique episode identifier.
func newEpisodeID() string {
	return uuid.NewString()
}

// clone returns a deep copy so readers never observe later mutation.
func (e *Episode) clone() *Episode {
	out := *e
	out.IntentEmbedding = append([]float32(nil), e.IntentEmbedding...)
	return &out
}
