package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mikeboe/research-agent/pkg/research"
)

// ArxivEntry struct to hold arXiv entry data
type ArxivEntry struct {
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []ArxivLink `xml:"link"`
}

// ArxivLink struct to hold arXiv link data
type ArxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

// ArxivFeed struct to hold the entire arXiv feed
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

// ArxivSearcher queries the arXiv Atom API. arXiv reports no relevance
// score of its own, so results carry a rank-derived score: the first hit
// gets 1.0 and each following hit steps down linearly.
type ArxivSearcher struct {
	Client     *http.Client
	MaxResults int
}

// NewArxivSearcher returns a searcher with the given result cap (<=0
// falls back to 5).
func NewArxivSearcher(maxResults int) *ArxivSearcher {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &ArxivSearcher{Client: http.DefaultClient, MaxResults: maxResults}
}

// Search implements research.Searcher against the arXiv API.
func (a *ArxivSearcher) Search(ctx context.Context, query string) ([]research.SearchResult, error) {
	baseURL := "https://export.arxiv.org/api/query?"
	params := url.Values{}
	params.Add("search_query", query)
	params.Add("max_results", strconv.Itoa(a.MaxResults))
	params.Add("start", "0")

	apiURL := baseURL + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build API request: %w", err)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", research.ErrSearchUnavailable, err)
	}
	defer resp.Body.Close()

	slog.Info("arXiv request made", "query", query, "max_results", a.MaxResults)

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		slog.Error("arXiv returned non-200 status code", "status", resp.StatusCode, "body", string(bodyBytes))
		return nil, fmt.Errorf("%w: status %d", research.ErrSearchUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var feed ArxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal XML: %w", err)
	}

	return arxivResults(feed, a.MaxResults), nil
}

func arxivResults(feed ArxivFeed, maxResults int) []research.SearchResult {
	var results []research.SearchResult
	for i, entry := range feed.Entry {
		title := strings.TrimSpace(entry.Title)
		if title == "" {
			continue
		}

		pdfLink := ""
		for _, link := range entry.Link {
			if link.Type == "application/pdf" {
				pdfLink = link.Href
				break
			}
		}

		results = append(results, research.SearchResult{
			URL:       pdfLink,
			Title:     title,
			Snippet:   strings.TrimSpace(entry.Summary),
			Relevance: rankScore(i, maxResults),
		})
	}
	return results
}

// rankScore maps position i of n to a score in (0,1], best first.
func rankScore(i, n int) float64 {
	if n <= 0 {
		n = 1
	}
	if i >= n {
		i = n - 1
	}
	return float64(n-i) / float64(n)
}
