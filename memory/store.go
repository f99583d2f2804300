package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/agentcore/core/runtime/telemetry"
	"github.com/agentcore/core/runtime/toolerror"
)

// multiHopBoostWeight scales the mean-cosine boost each hop applies toward
// the previous hop's results.
const multiHopBoostWeight = 0.1

// RecallResult is one ranked episode from a recall operation.
type RecallResult struct {
	Episode *Episode
	// Similarity is the cosine similarity of the query to the episode's
	// intent embedding.
	Similarity float64
	// Score is the ranking score: plain similarity for single-phase recall,
	// the (1-lambda)*sim + lambda*Q blend for two-phase recall.
	Score float64
}

// Store is the episodic memory store: an in-memory episode log partitioned
// by scope, ranked by semantic similarity and learned utility.
//
// The episode list follows a single-writer/many-reader discipline: recall
// sees a consistent snapshot, writers briefly exclude readers. Q-table
// updates are atomic per id.
type Store struct {
	cfg     Config
	encoder Encoder
	logger  telemetry.Logger
	now     func() time.Time

	mu       sync.RWMutex
	episodes []*Episode
	byID     map[string]*Episode

	qtable *QTable
}

// StoreOption customizes Store construction.
type StoreOption func(*Store)

// WithEncoder replaces the deterministic hash encoder with an external
// embedder.
func WithEncoder(enc Encoder) StoreOption {
	return func(s *Store) { s.encoder = enc }
}

// WithLogger wires structured logging into the store.
func WithLogger(logger telemetry.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the store's time source (used by decay tests).
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore constructs an empty store for the given configuration.
func NewStore(cfg Config, opts ...StoreOption) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		cfg:    cfg,
		byID:   make(map[string]*Episode),
		qtable: NewQTable(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.encoder == nil {
		s.encoder = NewHashEncoder(cfg.EmbeddingDim)
	}
	if s.logger == nil {
		s.logger = telemetry.NewNoopLogger()
	}
	return s, nil
}

// Store appends an episode to the log. A missing id is assigned, a missing
// scope defaults to GlobalScope, a missing embedding is encoded from the
// intent, and a missing Q-value defaults to 0.5. Well-formed input never
// fails.
func (s *Store) Store(e *Episode) string {
	if e.ID == "" {
		e.ID = newEpisodeID()
	}
	e.Scope = NormalizeScope(e.Scope)
	if len(e.IntentEmbedding) == 0 && e.Intent != "" {
		e.IntentEmbedding = s.encoder.Encode(e.Intent)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	e.CreatedAtMS = e.CreatedAt.UnixMilli()
	if e.QValue == 0 {
		e.QValue = s.qtable.Get(e.ID)
	} else {
		e.QValue = clamp01(e.QValue)
	}
	s.qtable.Set(e.ID, e.QValue)

	stored := e.clone()
	s.mu.Lock()
	if prev, ok := s.byID[stored.ID]; ok {
		// Replace in place, preserving insertion order.
		for i, ep := range s.episodes {
			if ep == prev {
				s.episodes[i] = stored
				break
			}
		}
	} else {
		s.episodes = append(s.episodes, stored)
	}
	s.byID[stored.ID] = stored
	s.mu.Unlock()
	return stored.ID
}

// StoreForScope normalizes the scope key onto the episode before storing.
func (s *Store) StoreForScope(scope string, e *Episode) string {
	e.Scope = NormalizeScope(scope)
	return s.Store(e)
}

// Recall returns the top-k episodes across all scopes ranked by cosine
// similarity to the deterministic encoding of intent. An empty intent
// returns nothing.
func (s *Store) Recall(intent string, k int) []RecallResult {
	if intent == "" {
		return nil
	}
	return s.RecallWithEmbedding(s.encoder.Encode(intent), k)
}

// RecallWithEmbedding skips encoding and ranks directly by the given vector.
func (s *Store) RecallWithEmbedding(vec []float32, k int) []RecallResult {
	return s.recallScoped(vec, k, "", false)
}

// RecallForScope restricts recall to episodes whose normalized scope equals
// the normalized requested scope.
func (s *Store) RecallForScope(scope, intent string, k int) []RecallResult {
	if intent == "" {
		return nil
	}
	return s.RecallWithEmbeddingForScope(scope, s.encoder.Encode(intent), k)
}

// RecallWithEmbeddingForScope is the scoped variant of RecallWithEmbedding.
func (s *Store) RecallWithEmbeddingForScope(scope string, vec []float32, k int) []RecallResult {
	return s.recallScoped(vec, k, NormalizeScope(scope), true)
}

// recallScoped ranks episodes by cosine similarity. Ties are broken by
// insertion order (the sort is stable over the insertion-ordered list).
func (s *Store) recallScoped(vec []float32, k int, scope string, scoped bool) []RecallResult {
	if k <= 0 {
		return nil
	}
	s.mu.RLock()
	results := make([]RecallResult, 0, len(s.episodes))
	for _, e := range s.episodes {
		if scoped && e.Scope != scope {
			continue
		}
		sim := cosine(vec, e.IntentEmbedding)
		results = append(results, RecallResult{Episode: e.clone(), Similarity: sim, Score: sim})
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// TwoPhaseRecall ranks top-k1 by similarity, reranks that set by
// (1-lambda)*sim + lambda*Q, and keeps the top-k2.
func (s *Store) TwoPhaseRecall(intent string, k1, k2 int, lambda float64) []RecallResult {
	if intent == "" {
		return nil
	}
	return s.TwoPhaseRecallWithEmbedding(s.encoder.Encode(intent), k1, k2, lambda)
}

// TwoPhaseRecallWithEmbedding is TwoPhaseRecall without the encoding step.
func (s *Store) TwoPhaseRecallWithEmbedding(vec []float32, k1, k2 int, lambda float64) []RecallResult {
	return s.rerankByUtility(s.RecallWithEmbedding(vec, k1), k2, lambda)
}

// TwoPhaseRecallForScope is the scoped variant of TwoPhaseRecall.
func (s *Store) TwoPhaseRecallForScope(scope, intent string, k1, k2 int, lambda float64) []RecallResult {
	if intent == "" {
		return nil
	}
	return s.TwoPhaseRecallWithEmbeddingForScope(scope, s.encoder.Encode(intent), k1, k2, lambda)
}

// TwoPhaseRecallWithEmbeddingForScope is the scoped variant of
// TwoPhaseRecallWithEmbedding.
func (s *Store) TwoPhaseRecallWithEmbeddingForScope(scope string, vec []float32, k1, k2 int, lambda float64) []RecallResult {
	return s.rerankByUtility(s.RecallWithEmbeddingForScope(scope, vec, k1), k2, lambda)
}

func (s *Store) rerankByUtility(phase1 []RecallResult, k2 int, lambda float64) []RecallResult {
	for i := range phase1 {
		q := s.qtable.Get(phase1[i].Episode.ID)
		phase1[i].Score = (1-lambda)*phase1[i].Similarity + lambda*q
	}
	sort.SliceStable(phase1, func(i, j int) bool { return phase1[i].Score > phase1[j].Score })
	if k2 > 0 && len(phase1) > k2 {
		phase1 = phase1[:k2]
	}
	return phase1
}

// MultiHopRecall chains recalls across the given queries. Each hop after
// the first boosts candidates by multiHopBoostWeight times their mean
// cosine similarity to the previous hop's results, so later hops prefer
// episodes connected to what was already found. Only the final hop's
// reranked top-k is returned. An empty query list returns empty.
func (s *Store) MultiHopRecall(queries []string, k int, lambda float64) []RecallResult {
	vecs := make([][]float32, 0, len(queries))
	for _, q := range queries {
		if q == "" {
			continue
		}
		vecs = append(vecs, s.encoder.Encode(q))
	}
	return s.MultiHopRecallWithEmbeddings(vecs, k, lambda)
}

// MultiHopRecallWithEmbeddings is MultiHopRecall without the encoding step.
func (s *Store) MultiHopRecallWithEmbeddings(queries [][]float32, k int, lambda float64) []RecallResult {
	if len(queries) == 0 || k <= 0 {
		return nil
	}
	var current []RecallResult
	for hop, vec := range queries {
		candidates := s.RecallWithEmbedding(vec, k*2)
		for i := range candidates {
			q := s.qtable.Get(candidates[i].Episode.ID)
			score := (1-lambda)*candidates[i].Similarity + lambda*q
			if hop > 0 && len(current) > 0 {
				var sum float64
				for _, prev := range current {
					sum += cosine(candidates[i].Episode.IntentEmbedding, prev.Episode.IntentEmbedding)
				}
				score += multiHopBoostWeight * (sum / float64(len(current)))
			}
			candidates[i].Score = score
		}
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
		if len(candidates) > k {
			candidates = candidates[:k]
		}
		current = candidates
	}
	return current
}

// UpdateQ applies the learning step Q <- Q + 0.2*(reward - Q), writing both
// the table and the episode when present. Unknown ids still update the
// table (orphan entries are allowed).
func (s *Store) UpdateQ(id string, reward float64) float64 {
	next := s.qtable.Update(id, reward)
	s.mu.Lock()
	if e, ok := s.byID[id]; ok {
		e.QValue = next
	}
	s.mu.Unlock()
	return next
}

// RecordFeedback increments the episode's success or failure count and
// refreshes its Q-value from the table.
func (s *Store) RecordFeedback(id string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return toolerror.Errorf(toolerror.NotFound, "episode %q not found", id)
	}
	if success {
		e.SuccessCount++
	} else {
		e.FailureCount++
	}
	e.QValue = s.qtable.Get(id)
	return nil
}

// MarkAccessed bumps the episode's success count, which doubles as its
// access frequency.
func (s *Store) MarkAccessed(id string) error {
	return s.RecordFeedback(id, true)
}

// ApplyDecay moves every episode's Q-value toward the neutral 0.5 by
// factor^age_hours. A factor of 1 is a fixed point; a factor of 0 resets
// every Q to 0.5. Episodes are never evicted by decay; only the gate
// deletes.
func (s *Store) ApplyDecay(factor float64) error {
	if factor < 0 || factor > 1 {
		return toolerror.Errorf(toolerror.Validation, "decay factor %v out of [0,1]", factor)
	}
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.episodes {
		ageHours := now.Sub(e.CreatedAt).Hours()
		decay := factor
		if ageHours > 0.01 {
			decay = math.Pow(factor, ageHours)
		}
		q := s.qtable.Get(e.ID)
		next := 0.5 + (q-0.5)*decay
		s.qtable.Set(e.ID, next)
		e.QValue = clamp01(next)
	}
	return nil
}

// DeleteEpisode removes the episode from the list and the Q-table.
func (s *Store) DeleteEpisode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return toolerror.Errorf(toolerror.NotFound, "episode %q not found", id)
	}
	delete(s.byID, id)
	for i, ep := range s.episodes {
		if ep == e {
			s.episodes = append(s.episodes[:i], s.episodes[i+1:]...)
			break
		}
	}
	s.qtable.Delete(id)
	return nil
}

// GetEpisode returns a copy of the episode with the given id.
func (s *Store) GetEpisode(id string) (*Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, toolerror.Errorf(toolerror.NotFound, "episode %q not found", id)
	}
	return e.clone(), nil
}

// Snapshot captures the store's full state as a value: episodes in
// insertion order plus the authoritative Q-value map. Writers are excluded
// for the duration, so the snapshot is consistent.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	episodes := make([]*Episode, len(s.episodes))
	for i, e := range s.episodes {
		episodes[i] = e.clone()
	}
	s.mu.RUnlock()

	qvals := s.qtable.Snapshot()
	q32 := make(map[string]float32, len(qvals))
	for k, v := range qvals {
		q32[k] = float32(v)
	}
	return &Snapshot{Episodes: episodes, QValues: q32}
}

// Restore replaces the store's state with the snapshot's, preserving
// episode order. The q_values map is authoritative: each episode's Q-value
// is refreshed from it after load.
func (s *Store) Restore(snap *Snapshot) {
	if snap == nil {
		return
	}
	qvals := make(map[string]float64, len(snap.QValues))
	for k, v := range snap.QValues {
		qvals[k] = float64(v)
	}
	s.qtable.Restore(qvals)

	episodes := make([]*Episode, 0, len(snap.Episodes))
	byID := make(map[string]*Episode, len(snap.Episodes))
	for _, e := range snap.Episodes {
		c := e.clone()
		if c.CreatedAt.IsZero() && c.CreatedAtMS > 0 {
			c.CreatedAt = time.UnixMilli(c.CreatedAtMS).UTC()
		}
		c.QValue = s.qtable.Get(c.ID)
		episodes = append(episodes, c)
		byID[c.ID] = c
	}

	s.mu.Lock()
	s.episodes = episodes
	s.byID = byID
	s.mu.Unlock()
}

// Stats summarizes the store's contents.
type Stats struct {
	EpisodeCount int            `json:"episode_count"`
	ScopeCounts  map[string]int `json:"scope_counts"`
	AverageQ     float64        `json:"average_q"`
	SuccessTotal int            `json:"success_total"`
	FailureTotal int            `json:"failure_total"`
}

// Stats returns counts and averages over the current episode set.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		EpisodeCount: len(s.episodes),
		ScopeCounts:  make(map[string]int),
	}
	var qSum float64
	for _, e := range s.episodes {
		st.ScopeCounts[e.Scope]++
		st.SuccessTotal += e.SuccessCount
		st.FailureTotal += e.FailureCount
		qSum += s.qtable.Get(e.ID)
	}
	if st.EpisodeCount > 0 {
		st.AverageQ = qSum / float64(st.EpisodeCount)
	}
	return st
}

// ApplyRecallCredit applies post-turn feedback: each of the most recently
// recalled episodes (capped by the config) is credited with success when
// the turn's memory label is anything but error. Missing episodes are
// skipped.
func (s *Store) ApplyRecallCredit(recalled []RecallResult, label string) {
	if !s.cfg.RecallCreditEnabled {
		return
	}
	maxCandidates := s.cfg.RecallCreditMaxCandidates
	if maxCandidates <= 0 || maxCandidates > len(recalled) {
		maxCandidates = len(recalled)
	}
	success := label != OutcomeError
	for _, r := range recalled[:maxCandidates] {
		if err := s.RecordFeedback(r.Episode.ID, success); err != nil {
			s.logger.Warn(context.Background(), "recall credit skipped missing episode",
				"episode_id", r.Episode.ID)
		}
	}
}

// EvaluateEpisodeGate builds the episode's utility ledger, evaluates it
// under the policy, deletes the episode on an obsolete verdict, and emits a
// gate event to the publisher when one is configured.
func (s *Store) EvaluateEpisodeGate(ctx context.Context, id string, rReact, rGraph, rOmega, ttlScore float64, sessionID, turnID string, source EpisodeSource, publisher GatePublisher) (GateDecision, error) {
	e, err := s.GetEpisode(id)
	if err != nil {
		return GateDecision{}, err
	}
	ledger := BuildLedger(e, rReact, rGraph, rOmega, ttlScore, DefaultLedgerWeights())
	decision := EvaluateGate(ledger, s.cfg.Gate)

	stateAfter := e.Scope
	if decision.Verdict == VerdictObsolete {
		if err := s.DeleteEpisode(id); err != nil {
			return decision, err
		}
		stateAfter = "deleted"
	}

	if publisher != nil {
		event := GateEvent{
			Kind:          GateEventKind,
			SessionID:     sessionID,
			EpisodeID:     id,
			EpisodeSource: source,
			TurnID:        turnID,
			StateBefore:   e.Scope,
			StateAfter:    stateAfter,
			TTLScore:      ttlScore,
			Verdict:       decision.Verdict,
			Confidence:    decision.Confidence,
			NextAction:    decision.NextAction,
			Reason:        decision.Reason,
			At:            s.now().UTC(),
		}
		if err := publisher.Publish(ctx, event); err != nil {
			// The publish is attempted once and a failure is only logged;
			// the in-memory state is authoritative either way.
			s.logger.Warn(ctx, "gate event publish failed", "episode_id", id, "err", err.Error())
		}
	}
	return decision, nil
}
