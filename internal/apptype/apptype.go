package apptype

import "time"

// Alignment actions recorded in AlignmentResult.
const (
	ActionMatched = "matched"
	ActionCreated = "created"
)

// CanonicalEntity is the single authoritative record a set of alias
// vulnerability-type names resolve to.
type CanonicalEntity struct {
	ID            int64     `json:"id"`
	CanonicalName string    `json:"canonicalName"`
	Embedding     []float32 `json:"embedding,omitempty"`
	Aliases       []string  `json:"aliases,omitempty"`
	UsageCount    int64     `json:"usageCount"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
}

// AlignmentResult describes the outcome of aligning one raw name.
// Similarity is nil when the entity was freshly created; BestSubthreshold
// carries the best sub-threshold score for near-miss visibility and never
// gates the decision.
type AlignmentResult struct {
	OriginalName     string   `json:"originalName"`
	AlignedName      string   `json:"alignedName"`
	Action           string   `json:"action"`
	Similarity       *float64 `json:"similarity"`
	BestSubthreshold *float64 `json:"bestSubthresholdSimilarity,omitempty"`
	EntityID         int64    `json:"entityId"`
}

// RootCauseAnalysis explains why a vulnerability exists.
type RootCauseAnalysis struct {
	LogicFlow         []string `json:"logic_flow"`
	ViolatedInvariant string   `json:"violated_invariant"`
}

// RemediationSuggestion describes how to fix a vulnerability.
type RemediationSuggestion struct {
	Technique  string `json:"technique"`
	CodeChange string `json:"code_change"`
}

// VulnerabilityRecord is one structured finding extracted from an audit
// report chunk. Only VulnerabilityType is required; its absence is a
// per-record validation failure, not an engine error.
type VulnerabilityRecord struct {
	VulnerabilityType       string                `json:"vulnerability_type"`
	Severity                string                `json:"severity,omitempty"`
	RootCauseAnalysis       RootCauseAnalysis     `json:"root_cause_analysis,omitzero"`
	CodePatternAbstract     string                `json:"code_pattern_abstract,omitempty"`
	Impact                  string                `json:"impact,omitempty"`
	RemediationSuggestion   RemediationSuggestion `json:"remediation_suggestion,omitzero"`
	FalsePositiveIndicators string                `json:"false_positive_indicators,omitempty"`
}

// SearchResult pairs an entity with its vector distance from a query.
type SearchResult struct {
	Entity   CanonicalEntity `json:"entity"`
	Distance float64         `json:"distance"`
}

// FileAlignment is the per-file alignment artifact: original name to outcome.
type FileAlignment struct {
	File    string                     `json:"file"`
	Results map[string]AlignmentResult `json:"results"`
	Errors  map[string]string          `json:"errors,omitempty"`
}

// ExtractSummary is the batch artifact written after an extraction run.
type ExtractSummary struct {
	RunID   string `json:"run_id"`
	Total   int    `json:"total"`
	Success int    `json:"success"`
	Failed  int    `json:"failed"`
}

// AlignSummary is the batch artifact written after an alignment run.
// Aligned counts both matched and created outcomes.
type AlignSummary struct {
	RunID         string  `json:"run_id"`
	Total         int     `json:"total"`
	Aligned       int     `json:"aligned"`
	Failed        int     `json:"failed"`
	AlignmentRate float64 `json:"alignment_rate"`
}
