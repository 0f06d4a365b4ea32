package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const analyzeSystemPrompt = `You are a database optimization expert. Analyze SQL queries and provide specific optimization suggestions.

Respond with JSON of the form:
{
  "suggestions": [
    {
      "optimizationType": "index|rewrite|cache|partition",
      "suggestion": "Detailed explanation of the optimization",
      "confidence": 85,
      "estimatedImprovement": 67,
      "sqlBefore": "original query if relevant",
      "sqlAfter": "optimized query if suggesting a rewrite"
    }
  ]
}

Focus on practical, actionable recommendations.`

const insightsSystemPrompt = `You are a database performance analyst. Analyze a collection of queries and provide insights about overall database health and optimization opportunities.

Respond with JSON of the form:
{
  "summary": "Overall assessment of database performance",
  "topIssues": ["Issue 1", "Issue 2", "Issue 3"],
  "recommendations": ["Recommendation 1", "Recommendation 2", "Recommendation 3"]
}`

// OpenAIAdvisor generates optimization suggestions via the OpenAI chat
// completion API with a JSON response format.
type OpenAIAdvisor struct {
	client *openai.Client
	model  string
}

// NewOpenAIAdvisor reads OPENAI_API_KEY (or the container secret file)
// and OPENAI_MODEL from the environment.
func NewOpenAIAdvisor() (*OpenAIAdvisor, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI advisor", "model", model)
	return &OpenAIAdvisor{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Analyze implements the Client interface.
func (o *OpenAIAdvisor) Analyze(ctx context.Context, queryText string, executionTimeMs int) ([]Suggestion, error) {
	slog.Debug("Analyzing query via OpenAI", "model", o.model, "execution_ms", executionTimeMs)

	userPrompt := fmt.Sprintf(
		"Analyze this SQL query for optimization opportunities:\n\nQuery: %s\nExecution Time: %dms\n\nProvide specific suggestions to improve performance.",
		queryText, executionTimeMs)

	raw, err := o.complete(ctx, analyzeSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse advisor response: %w", err)
	}
	return sanitize(parsed.Suggestions), nil
}

// GenerateInsights implements the Client interface.
func (o *OpenAIAdvisor) GenerateInsights(ctx context.Context, samples []QuerySample) (Insights, error) {
	var sb strings.Builder
	for i, s := range samples {
		preview := s.QueryText
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}
		fmt.Fprintf(&sb, "Query %d: %s (%dms, frequency: %d)\n", i+1, preview, s.ExecutionTime, s.Frequency)
	}

	raw, err := o.complete(ctx, insightsSystemPrompt,
		"Analyze these database queries:\n\n"+sb.String())
	if err != nil {
		return Insights{}, err
	}

	var insights Insights
	if err := json.Unmarshal([]byte(raw), &insights); err != nil {
		return Insights{}, fmt.Errorf("parse insights response: %w", err)
	}
	return insights, nil
}

func (o *OpenAIAdvisor) complete(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices or empty content")
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// sanitize drops suggestions with unknown types or empty text and clamps
// confidence into [0,100].
func sanitize(in []Suggestion) []Suggestion {
	out := make([]Suggestion, 0, len(in))
	for _, s := range in {
		if !ValidType(s.OptimizationType) || strings.TrimSpace(s.Suggestion) == "" {
			slog.Warn("Dropping malformed advisor suggestion", "type", s.OptimizationType)
			continue
		}
		s.Confidence = clampConfidence(s.Confidence)
		out = append(out, s)
	}
	return out
}
