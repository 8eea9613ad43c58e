package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/mikeboe/research-agent/pkg/research"
)

const tavilyBaseURL = "https://api.tavily.com/search"

// WebSearcher queries the Tavily web search API. Tavily returns its own
// relevance score per hit, which is passed through untouched.
type WebSearcher struct {
	Client     *http.Client
	BaseURL    string
	APIKey     string
	MaxResults int
}

// NewWebSearcher reads TAVILY_API_KEY from the environment when apiKey is
// empty.
func NewWebSearcher(apiKey string, maxResults int) (*WebSearcher, error) {
	if apiKey == "" {
		apiKey = os.Getenv("TAVILY_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("TAVILY_API_KEY is not set")
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearcher{
		Client:     http.DefaultClient,
		BaseURL:    tavilyBaseURL,
		APIKey:     apiKey,
		MaxResults: maxResults,
	}, nil
}

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResult struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type tavilyResponse struct {
	Results []tavilyResult `json:"results"`
}

// Search implements research.Searcher against the Tavily API.
func (w *WebSearcher) Search(ctx context.Context, query string) ([]research.SearchResult, error) {
	reqBody := tavilyRequest{
		APIKey:     w.APIKey,
		Query:      query,
		MaxResults: w.MaxResults,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.BaseURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", research.ErrSearchUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %s, body: %s", research.ErrSearchUnavailable, resp.Status, string(body))
	}

	var parsed tavilyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search response: %w", err)
	}

	results := make([]research.SearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, research.SearchResult{
			URL:       r.URL,
			Title:     r.Title,
			Snippet:   r.Content,
			Relevance: clampScore(r.Score),
		})
	}
	return results, nil
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
