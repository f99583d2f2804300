package toolindex

// Config is the tool-search configuration surface.
type Config struct {
	Dimension           int
	EnableKeywordIndex  bool
	IndexCacheSizeBytes int64
	MaxCachedTables     int
	ConfidenceProfile   ConfidenceProfile
	Rerank              bool
}

// DefaultConfig returns the default tool-search configuration.
func DefaultConfig(dimension int) Config {
	return Config{
		Dimension:           dimension,
		EnableKeywordIndex:  true,
		IndexCacheSizeBytes: 64 << 20,
		MaxCachedTables:     16,
		ConfidenceProfile:   DefaultConfidenceProfile(),
		Rerank:              true,
	}
}

// Intent selects the ranking strategy for AgenticSearch.
type Intent string

const (
	// IntentExact restricts to keyword-only ranking (wv=0, wk=1).
	IntentExact Intent = "exact"
	// IntentSemantic restricts to vector-only ranking (wv=1, wk=0).
	IntentSemantic Intent = "semantic"
	// IntentHybrid fuses both signals with default weights. This is the
	// default when Intent is unset.
	IntentHybrid Intent = "hybrid"
	// IntentUnknown fuses both signals but disables rerank boosting.
	IntentUnknown Intent = "unknown"
)

// weightsForIntent returns the fusion weights for an intent-driven search.
func weightsForIntent(intent Intent) (wv, wk float64) {
	switch intent {
	case IntentExact:
		return 0, 1
	case IntentSemantic:
		return 1, 0
	default:
		return 0.5, 0.5
	}
}

// AgenticSearchConfig configures an intent-driven search.
type AgenticSearchConfig struct {
	Intent            Intent
	SkillNameFilter   string
	CategoryFilter    string
	Limit             int
	Threshold         float64
	ConfidenceProfile ConfidenceProfile
}
