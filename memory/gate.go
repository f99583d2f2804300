package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/agentcore/core/runtime/toolerror"
)

// Verdict is the gate's classification of an episode.
type Verdict string

const (
	VerdictPromote  Verdict = "promote"
	VerdictRetain   Verdict = "retain"
	VerdictObsolete Verdict = "obsolete"
)

// EpisodeSource tags whether a gated episode was created this turn.
type EpisodeSource string

const (
	EpisodeSourceNew      EpisodeSource = "new"
	EpisodeSourceExisting EpisodeSource = "existing"
)

// UtilityLedger is the per-episode view the gate evaluates: usage and
// failure statistics derived from episode counts plus three sub-scores
// supplied by callers.
type UtilityLedger struct {
	UsageCount   int     `json:"usage_count"`
	FailureRate  float64 `json:"failure_rate"`
	TTLScore     float64 `json:"ttl_score"`
	UtilityScore float64 `json:"utility_score"`
	RReact       float64 `json:"r_react"`
	RGraph       float64 `json:"r_graph"`
	ROmega       float64 `json:"r_omega"`
}

// LedgerWeights are the policy weights combining the three sub-scores into
// the utility score.
type LedgerWeights struct {
	React float64 `json:"react"`
	Graph float64 `json:"graph"`
	Omega float64 `json:"omega"`
}

// DefaultLedgerWeights weight the reactive signal highest: direct recall
// feedback is the strongest evidence of usefulness.
func DefaultLedgerWeights() LedgerWeights {
	return LedgerWeights{React: 0.5, Graph: 0.3, Omega: 0.2}
}

// BuildLedger derives a ledger from an episode's counters and the supplied
// sub-scores, weighting them into the utility score.
func BuildLedger(e *Episode, rReact, rGraph, rOmega, ttlScore float64, w LedgerWeights) UtilityLedger {
	usage := e.SuccessCount + e.FailureCount
	var failureRate float64
	if usage > 0 {
		failureRate = float64(e.FailureCount) / float64(usage)
	}
	return UtilityLedger{
		UsageCount:   usage,
		FailureRate:  failureRate,
		TTLScore:     ttlScore,
		UtilityScore: w.React*rReact + w.Graph*rGraph + w.Omega*rOmega,
		RReact:       rReact,
		RGraph:       rGraph,
		ROmega:       rOmega,
	}
}

// GatePolicy holds the promote/obsolete thresholds. All scores are in [0,1]
// and PromoteThreshold must exceed ObsoleteThreshold.
type GatePolicy struct {
	PromoteThreshold          float64 `json:"promote_threshold"`
	ObsoleteThreshold         float64 `json:"obsolete_threshold"`
	PromoteMinUsage           int     `json:"promote_min_usage"`
	ObsoleteMinUsage          int     `json:"obsolete_min_usage"`
	PromoteFailureRateCeiling float64 `json:"promote_failure_rate_ceiling"`
	ObsoleteFailureRateFloor  float64 `json:"obsolete_failure_rate_floor"`
	PromoteMinTTLScore        float64 `json:"promote_min_ttl_score"`
	ObsoleteMaxTTLScore       float64 `json:"obsolete_max_ttl_score"`
}

// DefaultGatePolicy returns a conservative policy: promotion requires
// repeated successful use, obsoletion requires repeated failure.
func DefaultGatePolicy() GatePolicy {
	return GatePolicy{
		PromoteThreshold:          0.7,
		ObsoleteThreshold:         0.3,
		PromoteMinUsage:           3,
		ObsoleteMinUsage:          2,
		PromoteFailureRateCeiling: 0.3,
		ObsoleteFailureRateFloor:  0.7,
		PromoteMinTTLScore:        0.5,
		ObsoleteMaxTTLScore:       0.5,
	}
}

// Validate enforces the policy's range and ordering invariants.
func (p GatePolicy) Validate() error {
	for name, v := range map[string]float64{
		"promote_threshold":            p.PromoteThreshold,
		"obsolete_threshold":           p.ObsoleteThreshold,
		"promote_failure_rate_ceiling": p.PromoteFailureRateCeiling,
		"obsolete_failure_rate_floor":  p.ObsoleteFailureRateFloor,
		"promote_min_ttl_score":        p.PromoteMinTTLScore,
		"obsolete_max_ttl_score":       p.ObsoleteMaxTTLScore,
	} {
		if v < 0 || v > 1 {
			return toolerror.Errorf(toolerror.Validation, "gate policy %s %v out of [0,1]", name, v)
		}
	}
	if p.PromoteThreshold <= p.ObsoleteThreshold {
		return toolerror.Errorf(toolerror.Validation,
			"gate policy promote_threshold %v must exceed obsolete_threshold %v",
			p.PromoteThreshold, p.ObsoleteThreshold)
	}
	if p.PromoteMinUsage < 1 || p.ObsoleteMinUsage < 1 {
		return toolerror.New(toolerror.Validation, "gate policy min usage must be positive")
	}
	return nil
}

// GateDecision is the evaluator's output for one episode.
type GateDecision struct {
	Verdict      Verdict  `json:"verdict"`
	Confidence   float64  `json:"confidence"`
	NextAction   string   `json:"next_action"`
	Reason       string   `json:"reason"`
	EvidenceTags []string `json:"evidence_tags,omitempty"`
}

// GateEvent is the durable record emitted for every gate evaluation.
type GateEvent struct {
	Kind          string        `json:"kind"`
	SessionID     string        `json:"session_id"`
	EpisodeID     string        `json:"episode_id"`
	EpisodeSource EpisodeSource `json:"episode_source"`
	TurnID        string        `json:"turn_id"`
	StateBefore   string        `json:"state_before"`
	StateAfter    string        `json:"state_after"`
	TTLScore      float64       `json:"ttl_score"`
	Verdict       Verdict       `json:"verdict"`
	Confidence    float64       `json:"confidence"`
	NextAction    string        `json:"next_action"`
	Reason        string        `json:"reason"`
	At            time.Time     `json:"at"`
}

// GateEventKind labels gate evaluation events on the emitted stream.
const GateEventKind = "memory_gate_decision"

// GatePublisher is the durable event stream sink for gate evaluations.
type GatePublisher interface {
	Publish(ctx context.Context, event GateEvent) error
}

// EvaluateGate classifies a ledger under the policy. The promote rules are
// conjunctive; any unmet rule falls through to the obsolete rules, and any
// unmet obsolete rule falls through to retain.
func EvaluateGate(ledger UtilityLedger, policy GatePolicy) GateDecision {
	if ledger.UtilityScore >= policy.PromoteThreshold &&
		ledger.UsageCount >= policy.PromoteMinUsage &&
		ledger.FailureRate <= policy.PromoteFailureRateCeiling &&
		ledger.TTLScore >= policy.PromoteMinTTLScore {
		return GateDecision{
			Verdict:    VerdictPromote,
			Confidence: clamp01(ledger.UtilityScore),
			NextAction: "promote_to_global",
			Reason: fmt.Sprintf("utility %.2f >= %.2f with %d uses and failure rate %.2f",
				ledger.UtilityScore, policy.PromoteThreshold, ledger.UsageCount, ledger.FailureRate),
			EvidenceTags: []string{"utility_high", "usage_sufficient", "failure_low", "ttl_fresh"},
		}
	}
	if ledger.UtilityScore <= policy.ObsoleteThreshold &&
		ledger.UsageCount >= policy.ObsoleteMinUsage &&
		ledger.FailureRate >= policy.ObsoleteFailureRateFloor &&
		ledger.TTLScore <= policy.ObsoleteMaxTTLScore {
		return GateDecision{
			Verdict:    VerdictObsolete,
			Confidence: clamp01(1 - ledger.UtilityScore),
			NextAction: "delete_episode",
			Reason: fmt.Sprintf("utility %.2f <= %.2f with failure rate %.2f over %d uses",
				ledger.UtilityScore, policy.ObsoleteThreshold, ledger.FailureRate, ledger.UsageCount),
			EvidenceTags: []string{"utility_low", "usage_sufficient", "failure_high", "ttl_stale"},
		}
	}
	return GateDecision{
		Verdict:    VerdictRetain,
		Confidence: 0.5,
		NextAction: "keep_in_scope",
		Reason:     "neither promote nor obsolete rules fully met",
	}
}
