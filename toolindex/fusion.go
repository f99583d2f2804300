package toolindex

import "strings"

// rrfK is the rank constant used by weighted reciprocal-rank fusion.
const rrfK = 60.0

// rerankBoostCap bounds the total additive boost applied during reranking.
const rerankBoostCap = 0.50

// fileDiscoveryTerms are the tokens that trigger the file-discovery
// intent special case in rerank boosting.
var fileDiscoveryTerms = map[string]bool{
	"find": true, "list": true, "file": true, "files": true,
	"directory": true, "dir": true, "path": true, "glob": true,
}

// fuseRRF applies weighted reciprocal-rank fusion over two already-ranked
// candidate lists (best first), returning a fused score per tool name.
// rrf(r) = wv * 1/(K+rank_v(r)) + wk * 1/(K+rank_k(r)); a tool absent from
// one list simply contributes 0 for that term.
func fuseRRF(vectorRanked, keywordRanked []string, wv, wk float64) map[string]float64 {
	fused := make(map[string]float64)
	for rank, id := range vectorRanked {
		fused[id] += wv * (1.0 / (rrfK + float64(rank+1)))
	}
	for rank, id := range keywordRanked {
		fused[id] += wk * (1.0 / (rrfK + float64(rank+1)))
	}
	return fused
}

// isFileDiscoveryQuery reports whether the query tokens match the
// file-discovery intent special case (tokens like find/list/file/directory
// or a glob pattern "*.ext").
func isFileDiscoveryQuery(tokens []string) bool {
	for _, tok := range tokens {
		if fileDiscoveryTerms[tok] {
			return true
		}
		if strings.HasPrefix(tok, "*.") {
			return true
		}
	}
	return false
}

// isFinderTool reports whether a descriptor is the designated file-finder
// tool for the file-discovery special case: its category is "file" and its
// command part names a discovery operation (find/list/search/glob).
func isFinderTool(d *ToolDescriptor) bool {
	if !strings.EqualFold(d.Category, "file") {
		return false
	}
	parts := strings.SplitN(d.ToolName, ".", 2)
	if len(parts) != 2 {
		return false
	}
	switch parts[1] {
	case "find", "list", "search", "glob", "list_files", "find_files":
		return true
	}
	return false
}

// applyRerankBoosts adds small, bounded, per-token boosts for category,
// description, routing-keyword, and intent matches, then applies the
// file-discovery special case. The total boost is capped at
// rerankBoostCap, except for the file-discovery case which uses its own
// fixed +0.70/+0.30 boosts per the Hybrid Tool Index's rerank algorithm.
func applyRerankBoosts(d *ToolDescriptor, queryTokens []string, base float64) float64 {
	if isFileDiscoveryQuery(queryTokens) {
		if isFinderTool(d) {
			return base + 0.70
		}
		if strings.EqualFold(d.Category, "file") || containsAnyFold(d.Description, fileDiscoveryTerms) {
			return base + 0.30
		}
	}

	var boost float64
	for _, tok := range queryTokens {
		if len(tok) <= 2 {
			continue
		}
		if containsFold(d.Category, tok) {
			boost += 0.05
		}
		if containsFold(d.Description, tok) {
			boost += 0.03
		}
		if containsAnyFold2(d.RoutingKeywords, tok) {
			boost += 0.07
		}
		if containsAnyFold2(d.Intents, tok) {
			boost += 0.08
		}
	}
	if boost > rerankBoostCap {
		boost = rerankBoostCap
	}
	return base + boost
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func containsAnyFold2(haystack []string, needle string) bool {
	for _, h := range haystack {
		if containsFold(h, needle) {
			return true
		}
	}
	return false
}

func containsAnyFold(haystack string, terms map[string]bool) bool {
	lower := strings.ToLower(haystack)
	for term := range terms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// Confidence is the calibrated label attached to a search result.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ConfidenceProfile holds the thresholds and coefficients used to map a
// fused score to a confidence label and a final score.
type ConfidenceProfile struct {
	HighThreshold   float64
	MediumThreshold float64
	HighBase        float64
	HighScale       float64
	HighCap         float64
	MediumBase      float64
	MediumScale     float64
	MediumCap       float64
	LowFloor        float64
}

// DefaultConfidenceProfile returns reasonable defaults satisfying the
// sanitization invariant HighThreshold >= MediumThreshold and caps >= bases.
func DefaultConfidenceProfile() ConfidenceProfile {
	return ConfidenceProfile{
		HighThreshold:   0.70,
		MediumThreshold: 0.40,
		HighBase:        0.80,
		HighScale:       0.20,
		HighCap:         1.00,
		MediumBase:      0.50,
		MediumScale:     0.30,
		MediumCap:       0.80,
		LowFloor:        0.10,
	}
}

// Sanitize clamps the profile into a consistent shape: HighThreshold is
// never below MediumThreshold, and each cap is never below its base.
func (p ConfidenceProfile) Sanitize() ConfidenceProfile {
	if p.HighThreshold < p.MediumThreshold {
		p.HighThreshold = p.MediumThreshold
	}
	if p.HighCap < p.HighBase {
		p.HighCap = p.HighBase
	}
	if p.MediumCap < p.MediumBase {
		p.MediumCap = p.MediumBase
	}
	if p.LowFloor < 0 {
		p.LowFloor = 0
	}
	if p.LowFloor > 1 {
		p.LowFloor = 1
	}
	return p
}

// calibrationEvidence carries the per-signal scores used by the four
// medium-to-high promotion rules.
type calibrationEvidence struct {
	vectorScore   float64
	keywordScore  float64
	gapToRunnerUp float64
}

// calibrate maps a fused score and its evidence to a confidence label and a
// bounded final score, following the Hybrid Tool Index's calibration
// formula and its four promotion rules.
func calibrate(score float64, ev calibrationEvidence, profile ConfidenceProfile) (Confidence, float64) {
	profile = profile.Sanitize()

	var label Confidence
	var final float64
	switch {
	case score >= profile.HighThreshold:
		label = ConfidenceHigh
		final = minFloat(profile.HighBase+score*profile.HighScale, profile.HighCap)
	case score >= profile.MediumThreshold:
		label = ConfidenceMedium
		final = minFloat(profile.MediumBase+score*profile.MediumScale, profile.MediumCap)
	default:
		label = ConfidenceLow
		final = maxFloat(score, profile.LowFloor)
	}

	if label == ConfidenceMedium && promoteToHigh(ev) {
		label = ConfidenceHigh
		final = minFloat(profile.HighBase+score*profile.HighScale, profile.HighCap)
	}

	return label, final
}

// promoteToHigh implements the four medium->high promotion rules: a clear
// winner gap >= 0.15, strong vector evidence >= 0.55, strong keyword
// evidence >= 0.20, or keyword dominance over a weak vector signal.
func promoteToHigh(ev calibrationEvidence) bool {
	if ev.gapToRunnerUp >= 0.15 {
		return true
	}
	if ev.vectorScore >= 0.55 {
		return true
	}
	if ev.keywordScore >= 0.20 {
		return true
	}
	if ev.keywordScore > 0 && ev.vectorScore < 0.5 && ev.keywordScore > ev.vectorScore {
		return true
	}
	return false
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
