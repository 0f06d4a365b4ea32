package advisor

import "context"

// Optimization types a suggestion may carry.
const (
	TypeIndex     = "index"
	TypeRewrite   = "rewrite"
	TypeCache     = "cache"
	TypePartition = "partition"
)

// Suggestion is one optimization recommendation for a query.
type Suggestion struct {
	OptimizationType     string `json:"optimizationType"` // index, rewrite, cache, partition
	Suggestion           string `json:"suggestion"`
	Confidence           int    `json:"confidence"` // 0-100
	EstimatedImprovement *int   `json:"estimatedImprovement,omitempty"`
	SQLBefore            string `json:"sqlBefore,omitempty"`
	SQLAfter             string `json:"sqlAfter,omitempty"`
}

// QuerySample is one query in an Insights request.
type QuerySample struct {
	QueryText     string `json:"queryText"`
	ExecutionTime int    `json:"executionTime"`
	Frequency     int    `json:"frequency"`
}

// Insights is an aggregate health report over a set of queries.
type Insights struct {
	Summary         string   `json:"summary"`
	TopIssues       []string `json:"topIssues"`
	Recommendations []string `json:"recommendations"`
}

// Client defines the standard interface for any advisor backend.
//
// Analyze may return zero suggestions. Implementations are treated as
// remote calls with variable latency; the pipeline applies its own timeout
// and handles any error identically to "no suggestions".
type Client interface {
	Analyze(ctx context.Context, queryText string, executionTimeMs int) ([]Suggestion, error)
	GenerateInsights(ctx context.Context, samples []QuerySample) (Insights, error)
}

// ValidType reports whether t is a recognized optimization type.
func ValidType(t string) bool {
	switch t {
	case TypeIndex, TypeRewrite, TypeCache, TypePartition:
		return true
	}
	return false
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
