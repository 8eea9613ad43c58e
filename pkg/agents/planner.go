package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
)

// Planner turns a research topic into a set of concrete search queries
// before the first iteration runs.
type Planner struct {
	LLM    llms.Model
	Logger *slog.Logger
}

func NewPlanner(model llms.Model) *Planner {
	return &Planner{LLM: model, Logger: slog.Default()}
}

const plannerSystemPrompt = `You are a research planner.
Generate 3 specific search queries to gather information about the topic.`

func plannerSchema() string {
	return `Return the JSON object directly without any formatting or additional text. Make sure to answer in valid json and include all necessary properties:{
  "type": "object",
  "properties": {
    "queries": {
      "type": "array",
      "items": {
        "type": "string"
      },
      "description": "List of 3 specific search queries"
    }
  },
  "required": ["queries"]
}`
}

// PlanQueries returns search queries seeding the first iteration. When the
// LLM cannot produce a usable plan the topic itself is the fallback query,
// so a planner failure never blocks a session.
func (p *Planner) PlanQueries(ctx context.Context, topic string) []string {
	type queryResponse struct {
		Queries []string `json:"queries"`
	}
	var queryResp queryResponse

	input := fmt.Sprintf("Topic: %s", topic)

	_, err := generateWithRetry(ctx, p.Logger, p.LLM, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, plannerSystemPrompt+"\n\n# Response Format: \n\n"+plannerSchema()),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, func(content string) error {
		// Reset for retry
		queryResp = queryResponse{}

		if err := json.Unmarshal([]byte(content), &queryResp); err != nil {
			return fmt.Errorf("json parse error: %w (content: %s)", err, content)
		}
		if len(queryResp.Queries) == 0 {
			return fmt.Errorf("empty queries list")
		}
		return nil
	})
	if err != nil {
		p.Logger.Warn("Query planning failed, falling back to the raw topic", "topic", topic, "error", err)
		return []string{topic}
	}

	p.Logger.Info("Generated queries", "queries", queryResp.Queries)
	return queryResp.Queries
}
