package advisor

import (
	"context"
	"fmt"
	"strings"
)

// HeuristicAdvisor is a deterministic, rule-based backend used when no
// OpenAI key is configured. It keeps the demo producing suggestions
// offline; the rules are deliberately simple and transparent.
type HeuristicAdvisor struct{}

// NewHeuristicAdvisor returns the rule-based advisor.
func NewHeuristicAdvisor() *HeuristicAdvisor {
	return &HeuristicAdvisor{}
}

// Analyze derives suggestions from the query shape and timing alone.
func (h *HeuristicAdvisor) Analyze(ctx context.Context, queryText string, executionTimeMs int) ([]Suggestion, error) {
	q := strings.ToUpper(queryText)
	var suggestions []Suggestion

	if strings.Contains(q, "SELECT *") {
		improvement := 25
		suggestions = append(suggestions, Suggestion{
			OptimizationType:     TypeRewrite,
			Suggestion:           "Replace SELECT * with an explicit column list to reduce row width and allow covering indexes.",
			Confidence:           70,
			EstimatedImprovement: &improvement,
		})
	}
	if strings.Contains(q, "WHERE") {
		improvement := 55
		suggestions = append(suggestions, Suggestion{
			OptimizationType:     TypeIndex,
			Suggestion:           "Add an index covering the WHERE predicate columns to avoid a full table scan.",
			Confidence:           65,
			EstimatedImprovement: &improvement,
		})
	}
	if strings.Count(q, "JOIN") >= 2 {
		improvement := 40
		suggestions = append(suggestions, Suggestion{
			OptimizationType:     TypePartition,
			Suggestion:           "Multiple joins over large tables; consider partitioning the largest table or pre-aggregating the join result.",
			Confidence:           50,
			EstimatedImprovement: &improvement,
		})
	}
	if strings.HasPrefix(strings.TrimSpace(q), "SELECT") && executionTimeMs > 200 {
		improvement := 80
		suggestions = append(suggestions, Suggestion{
			OptimizationType:     TypeCache,
			Suggestion:           fmt.Sprintf("Read query took %dms; cache the result set with a short TTL if the data tolerates staleness.", executionTimeMs),
			Confidence:           60,
			EstimatedImprovement: &improvement,
		})
	}
	return suggestions, nil
}

// GenerateInsights summarizes the sample set from tier counts.
func (h *HeuristicAdvisor) GenerateInsights(ctx context.Context, samples []QuerySample) (Insights, error) {
	if len(samples) == 0 {
		return Insights{Summary: "No query activity recorded yet."}, nil
	}

	var slow, critical, totalMs int
	for _, s := range samples {
		totalMs += s.ExecutionTime
		switch {
		case s.ExecutionTime > 200:
			critical++
		case s.ExecutionTime > 100:
			slow++
		}
	}
	avg := totalMs / len(samples)

	insights := Insights{
		Summary: fmt.Sprintf("Observed %d queries averaging %dms; %d slow and %d critical.",
			len(samples), avg, slow, critical),
	}
	if critical > 0 {
		insights.TopIssues = append(insights.TopIssues,
			fmt.Sprintf("%d queries exceed the 200ms critical threshold", critical))
		insights.Recommendations = append(insights.Recommendations,
			"Review pending index suggestions for the critical queries first.")
	}
	if slow > 0 {
		insights.TopIssues = append(insights.TopIssues,
			fmt.Sprintf("%d queries sit in the 100-200ms slow band", slow))
		insights.Recommendations = append(insights.Recommendations,
			"Consider caching frequently repeated read queries.")
	}
	if len(insights.TopIssues) == 0 {
		insights.Summary += " Performance is healthy."
	}
	return insights, nil
}
