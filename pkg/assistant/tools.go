package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mikeboe/research-agent/pkg/memory"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"
)

// MemoryToolset exposes the memory bank to the assistant agent and, via
// the MCP endpoint, to external clients.
type MemoryToolset struct {
	Bank *memory.Bank
}

func NewMemoryToolset(bank *memory.Bank) *MemoryToolset {
	return &MemoryToolset{Bank: bank}
}

func (t *MemoryToolset) Name() string {
	return "memory_tools"
}

func (t *MemoryToolset) Tools(ctx agent.ReadonlyContext) ([]tool.Tool, error) {
	searchTool, err := functiontool.New[SearchMemoryArgs, SearchMemoryResp](
		functiontool.Config{
			Name:        "search_memory",
			Description: "Search past research findings using semantic search.",
		},
		t.searchMemoryTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search tool: %w", err)
	}

	topicTool, err := functiontool.New[TopicHistoryArgs, TopicHistoryResp](
		functiontool.Config{
			Name:        "find_memory_by_topic",
			Description: "Retrieve everything remembered about a specific research topic.",
		},
		t.topicHistoryTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create topic tool: %w", err)
	}

	filterTool, err := functiontool.New[FilterMemoryArgs, FilterMemoryResp](
		functiontool.Config{
			Name:        "find_memory_by_metadata",
			Description: "Find memories using complex logical filters on metadata.",
		},
		t.filterMemoryTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter tool: %w", err)
	}

	statsTool, err := functiontool.New[StatisticsArgs, StatisticsResp](
		functiontool.Config{
			Name:        "memory_statistics",
			Description: "Summarize what the memory bank holds, per category.",
		},
		t.statisticsTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create statistics tool: %w", err)
	}

	return []tool.Tool{searchTool, topicTool, filterTool, statsTool}, nil
}

// --- Tool Implementations ---

type SearchMemoryArgs struct {
	Query    string `json:"query" description:"The search query"`
	TopK     int    `json:"topK,omitempty" description:"Number of results to return (default 5)"`
	Category string `json:"category,omitempty" description:"Optional category filter: source, finding, or report"`
}

type SearchMemoryResp struct {
	Results string `json:"results"`
}

func (t *MemoryToolset) searchMemoryTool(ctx tool.Context, args SearchMemoryArgs) (SearchMemoryResp, error) {
	return t.SearchMemory(ctx, args)
}

// SearchMemory runs a similarity search and formats hits for the model.
func (t *MemoryToolset) SearchMemory(ctx context.Context, args SearchMemoryArgs) (SearchMemoryResp, error) {
	if args.TopK == 0 {
		args.TopK = 5
	}

	slog.Info("Search memory", "query", args.Query, "topK", args.TopK, "category", args.Category)

	results, err := t.Bank.RelatedResearch(ctx, args.Query, args.TopK, args.Category)
	if err != nil {
		return SearchMemoryResp{}, fmt.Errorf("failed to search memory: %w", err)
	}

	var formattedResults []string
	for _, result := range results {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("[Category]: %s\n[Content]: %s", result.Entry.Category, result.Entry.Content))
		for k, v := range result.Entry.Metadata {
			sb.WriteString(fmt.Sprintf("\n[%s]: %v", k, v))
		}
		formattedResults = append(formattedResults, sb.String())
	}

	return SearchMemoryResp{Results: strings.Join(formattedResults, "\n\n")}, nil
}

type TopicHistoryArgs struct {
	Topic string `json:"topic" description:"The research topic to retrieve memories for"`
}

type TopicHistoryResp struct {
	Content string `json:"content"`
}

func (t *MemoryToolset) topicHistoryTool(ctx tool.Context, args TopicHistoryArgs) (TopicHistoryResp, error) {
	return t.TopicHistory(ctx, args)
}

func (t *MemoryToolset) TopicHistory(ctx context.Context, args TopicHistoryArgs) (TopicHistoryResp, error) {
	entries, err := t.Bank.TopicHistory(ctx, args.Topic)
	if err != nil {
		return TopicHistoryResp{}, fmt.Errorf("failed to retrieve topic history: %w", err)
	}

	var formattedResults []string
	for _, entry := range entries {
		formattedResults = append(formattedResults, entry.Content)
	}

	return TopicHistoryResp{Content: strings.Join(formattedResults, "\n\n")}, nil
}

type FilterMemoryArgs struct {
	Filter map[string]interface{} `json:"filter" description:"JSON filter object with logical operators ($and, $or, $not)"`
}

type FilterMemoryResp struct {
	Content string `json:"content"`
}

func (t *MemoryToolset) filterMemoryTool(ctx tool.Context, args FilterMemoryArgs) (FilterMemoryResp, error) {
	return t.FilterMemory(ctx, args)
}

func (t *MemoryToolset) FilterMemory(ctx context.Context, args FilterMemoryArgs) (FilterMemoryResp, error) {
	entries, err := t.Bank.FilterByMetadata(ctx, args.Filter)
	if err != nil {
		return FilterMemoryResp{}, fmt.Errorf("failed to filter memories: %w", err)
	}

	var formattedResults []string
	for _, entry := range entries {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("[Content]: %s", entry.Content))
		for k, v := range entry.Metadata {
			sb.WriteString(fmt.Sprintf("\n[%s]: %v", k, v))
		}
		formattedResults = append(formattedResults, sb.String())
	}

	return FilterMemoryResp{Content: strings.Join(formattedResults, "\n\n")}, nil
}

type StatisticsArgs struct{}

type StatisticsResp struct {
	Summary string `json:"summary"`
}

func (t *MemoryToolset) statisticsTool(ctx tool.Context, args StatisticsArgs) (StatisticsResp, error) {
	return t.Statistics(ctx, args)
}

func (t *MemoryToolset) Statistics(ctx context.Context, args StatisticsArgs) (StatisticsResp, error) {
	stats, err := t.Bank.Statistics(ctx)
	if err != nil {
		return StatisticsResp{}, fmt.Errorf("failed to load statistics: %w", err)
	}

	var lines []string
	for _, cs := range stats {
		lines = append(lines, fmt.Sprintf("%s: %d memories, avg importance %.2f", cs.Category, cs.Count, cs.AvgImportance))
	}

	return StatisticsResp{Summary: strings.Join(lines, "\n")}, nil
}
