package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/research-agent/pkg/research"
)

// Reporter compiles the final markdown report from a terminal research
// result. The source list it cites is exactly the compacted context the
// session ended with.
type Reporter struct {
	LLM    llms.Model
	Logger *slog.Logger
}

func NewReporter(model llms.Model) *Reporter {
	return &Reporter{LLM: model, Logger: slog.Default()}
}

// WriteReport generates the report body and appends formatted citations.
func (r *Reporter) WriteReport(ctx context.Context, result *research.Result) (string, error) {
	r.Logger.Info("Compiling final report", "topic", result.Topic, "sources", len(result.Sources))

	var facts strings.Builder
	for _, s := range result.Sources {
		fmt.Fprintf(&facts, "Source: %s\nURL: %s\nSnippet: %s\n\n", s.Title, s.URL, s.Snippet)
	}

	prompt := fmt.Sprintf(`Write a comprehensive research report on "%s".
Use the following gathered sources:

%s

Format as Markdown with Introduction, Key Findings, Methodology/Discussion, and Conclusion.`,
		result.Topic, facts.String())

	resp, err := r.LLM.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
	if err != nil {
		return "", fmt.Errorf("report generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("report generation returned no choices")
	}

	report := resp.Choices[0].Content
	report += "\n\n## Sources\n\n" + strings.Join(FormatCitations(result.Sources), "\n")

	r.Logger.Info("Final report generated", "length", len(report))
	return report, nil
}

// FormatCitations renders one citation line per source record.
func FormatCitations(sources []research.SourceRecord) []string {
	citations := make([]string, 0, len(sources))
	for _, s := range sources {
		title := s.Title
		if title == "" {
			title = "Untitled"
		}
		citations = append(citations, fmt.Sprintf("- %s - %s", title, s.URL))
	}
	return citations
}
