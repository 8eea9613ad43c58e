package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// QueryRefiner implements research.QueryRefiner: it turns the unresolved
// gaps into the next search query. On error the loop falls back to the
// previous query, so refinement failures degrade rather than abort.
type QueryRefiner struct {
	LLM    llms.Model
	Logger *slog.Logger
}

func NewQueryRefiner(model llms.Model) *QueryRefiner {
	return &QueryRefiner{LLM: model, Logger: slog.Default()}
}

const refineSystemPrompt = `You are a search query writer.
Given the unresolved gaps from the last research pass and the previous query, write ONE improved search query targeting the gaps.`

func refineSchema() string {
	return `Return the JSON object directly without any formatting or additional text. Make sure to answer in valid json and include all necessary properties:{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "The next search query"
    }
  },
  "required": ["query"]
}`
}

// Refine produces the next query seeded with the unresolved gaps.
func (q *QueryRefiner) Refine(ctx context.Context, gaps []string, previousQuery string) (string, error) {
	input := fmt.Sprintf("Previous query: %s\n\nUnresolved gaps:\n- %s", previousQuery, strings.Join(gaps, "\n- "))

	type refineResponse struct {
		Query string `json:"query"`
	}
	var refineResp refineResponse

	_, err := generateWithRetry(ctx, q.Logger, q.LLM, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, refineSystemPrompt+"\n\n# Response Format:\n"+refineSchema()),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, func(content string) error {
		refineResp = refineResponse{}
		if err := json.Unmarshal([]byte(content), &refineResp); err != nil {
			return fmt.Errorf("json parse error: %w", err)
		}
		if strings.TrimSpace(refineResp.Query) == "" {
			return fmt.Errorf("empty query")
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("query refinement failed: %w", err)
	}

	return strings.TrimSpace(refineResp.Query), nil
}
