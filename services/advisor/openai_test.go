package advisor

import "testing"

func TestSanitize(t *testing.T) {
	improvement := 30
	in := []Suggestion{
		{OptimizationType: TypeIndex, Suggestion: "Add index", Confidence: 85, EstimatedImprovement: &improvement},
		{OptimizationType: "sharding", Suggestion: "Not a real type", Confidence: 50},
		{OptimizationType: TypeCache, Suggestion: "   ", Confidence: 50},
		{OptimizationType: TypeRewrite, Suggestion: "Drop SELECT *", Confidence: 140},
		{OptimizationType: TypePartition, Suggestion: "Partition", Confidence: -5},
	}

	out := sanitize(in)
	if len(out) != 3 {
		t.Fatalf("sanitize kept %d suggestions, want 3", len(out))
	}
	if out[0].OptimizationType != TypeIndex || out[0].Confidence != 85 {
		t.Errorf("valid suggestion was altered: %+v", out[0])
	}
	if out[1].Confidence != 100 {
		t.Errorf("overflowing confidence = %d, want clamped to 100", out[1].Confidence)
	}
	if out[2].Confidence != 0 {
		t.Errorf("negative confidence = %d, want clamped to 0", out[2].Confidence)
	}
}
