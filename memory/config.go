package memory

import "github.com/agentcore/core/runtime/toolerror"

// Config is the memory configuration surface.
type Config struct {
	// Path is the filesystem root for the local snapshot backend.
	Path string
	// EmbeddingDim is the intent embedding dimension D.
	EmbeddingDim int
	// RecallK1 and RecallK2 are the two-phase recall fan-out and keep sizes.
	RecallK1 int
	RecallK2 int
	// RecallLambda weights learned utility against semantic similarity in
	// phase-2 reranking.
	RecallLambda float64
	// DecayEnabled, DecayEveryTurns and DecayFactor describe periodic time
	// decay. Validate range-checks DecayFactor, but the Store does not read
	// any of the three: periodic decay runs only through
	// session.WithDecayEvery, which applies the fixed factor 0.985.
	DecayEnabled    bool
	DecayEveryTurns int
	DecayFactor     float64
	// Gate is the promote/obsolete policy.
	Gate GatePolicy
	// RecallCreditEnabled applies post-turn feedback to recalled episodes,
	// at most RecallCreditMaxCandidates per turn.
	RecallCreditEnabled       bool
	RecallCreditMaxCandidates int
	// StrictStartup makes snapshot load failures fatal instead of starting
	// empty with a warning.
	StrictStartup bool
}

// DefaultConfig returns the default memory configuration for the given
// embedding dimension.
func DefaultConfig(embeddingDim int) Config {
	return Config{
		EmbeddingDim:              embeddingDim,
		RecallK1:                  20,
		RecallK2:                  5,
		RecallLambda:              0.3,
		DecayEnabled:              true,
		DecayEveryTurns:           24,
		DecayFactor:               0.985,
		Gate:                      DefaultGatePolicy(),
		RecallCreditEnabled:       true,
		RecallCreditMaxCandidates: 4,
	}
}

// Validate enforces the configuration's range invariants.
func (c Config) Validate() error {
	if c.EmbeddingDim <= 0 {
		return toolerror.New(toolerror.Validation, "embedding dimension must be positive")
	}
	if c.RecallK1 <= 0 || c.RecallK2 <= 0 {
		return toolerror.New(toolerror.Validation, "recall k1 and k2 must be positive")
	}
	if c.RecallLambda < 0 || c.RecallLambda > 1 {
		return toolerror.Errorf(toolerror.Validation, "recall lambda %v out of [0,1]", c.RecallLambda)
	}
	if c.DecayFactor < 0 || c.DecayFactor > 1 {
		return toolerror.Errorf(toolerror.Validation, "decay factor %v out of [0,1]", c.DecayFactor)
	}
	if c.RecallCreditMaxCandidates < 0 {
		return toolerror.New(toolerror.Validation, "recall credit max candidates must be non-negative")
	}
	return c.Gate.Validate()
}
