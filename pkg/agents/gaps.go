package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/research-agent/pkg/research"
)

// GapAnalyzer implements research.GapAnalyzer by asking the model which
// sub-questions the gathered sources still leave open. An empty gap list
// signals sufficient confidence to the loop.
type GapAnalyzer struct {
	LLM    llms.Model
	Logger *slog.Logger
	// MaxSnippet caps the per-source excerpt sent to the model.
	MaxSnippet int
}

func NewGapAnalyzer(model llms.Model) *GapAnalyzer {
	return &GapAnalyzer{LLM: model, Logger: slog.Default(), MaxSnippet: 220}
}

const gapSystemPrompt = `You are a research manager.
Review the gathered sources and list the sub-questions about the topic that they still leave unanswered.
If the sources answer the topic comprehensively, return an empty list.`

func gapSchema() string {
	return `Return the JSON object directly without any formatting or additional text. Make sure to answer in valid json and include all necessary properties:{
  "type": "object",
  "properties": {
    "gaps": {
      "type": "array",
      "items": {
        "type": "string"
      },
      "description": "Unanswered sub-questions, empty when the topic is covered"
    }
  },
  "required": ["gaps"]
}`
}

// IdentifyGaps returns the open sub-questions for the topic given the
// current source snapshot.
func (g *GapAnalyzer) IdentifyGaps(ctx context.Context, topic string, snapshot []research.SourceRecord) ([]string, error) {
	var sourcesList strings.Builder
	for _, r := range snapshot {
		excerpt := r.Snippet
		if g.MaxSnippet > 0 {
			if runes := []rune(excerpt); len(runes) > g.MaxSnippet {
				excerpt = string(runes[:g.MaxSnippet])
			}
		}
		fmt.Fprintf(&sourcesList, "Title: %s\nURL: %s\nExcerpt: %s\n\n", r.Title, r.URL, excerpt)
	}

	input := fmt.Sprintf("Topic: %s\n\nSources:\n%s", topic, sourcesList.String())

	type gapResponse struct {
		Gaps []string `json:"gaps"`
	}
	var gapResp gapResponse

	_, err := generateWithRetry(ctx, g.Logger, g.LLM, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, gapSystemPrompt+"\n\n# Response Format:\n"+gapSchema()),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, func(content string) error {
		gapResp = gapResponse{}
		if err := json.Unmarshal([]byte(content), &gapResp); err != nil {
			return fmt.Errorf("json parse error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gap analysis failed: %w", err)
	}

	g.Logger.Info("Gap analysis complete", "topic", topic, "gaps", len(gapResp.Gaps))
	return gapResp.Gaps, nil
}
