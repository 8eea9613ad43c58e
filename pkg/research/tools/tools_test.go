package tools

import (
	"context"
	"encoding/xml"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mikeboe/research-agent/pkg/research"
)

func TestRankScore(t *testing.T) {
	tests := []struct {
		name     string
		i, n     int
		expected float64
	}{
		{"First of five", 0, 5, 1.0},
		{"Last of five", 4, 5, 0.2},
		{"Middle", 2, 4, 0.5},
		{"Out of range clamps", 9, 5, 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rankScore(tt.i, tt.n); got != tt.expected {
				t.Errorf("rankScore(%d, %d) = %v, want %v", tt.i, tt.n, got, tt.expected)
			}
		})
	}
}

func TestArxivResults(t *testing.T) {
	raw := `
	<feed xmlns="http://www.w3.org/2005/Atom">
		<entry>
			<title> Paper One </title>
			<summary> First summary. </summary>
			<link href="https://arxiv.org/abs/1" type="text/html"/>
			<link href="https://arxiv.org/pdf/1" type="application/pdf"/>
		</entry>
		<entry>
			<title>Paper Two</title>
			<summary>Second summary.</summary>
			<link href="https://arxiv.org/abs/2" type="text/html"/>
		</entry>
		<entry>
			<title></title>
			<summary>No title, dropped.</summary>
		</entry>
	</feed>`

	var feed ArxivFeed
	if err := xml.Unmarshal([]byte(raw), &feed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	results := arxivResults(feed, 2)
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Title != "Paper One" || results[0].Snippet != "First summary." {
		t.Errorf("first result not trimmed: %+v", results[0])
	}
	if results[0].URL != "https://arxiv.org/pdf/1" {
		t.Errorf("first result URL = %q, want the PDF link", results[0].URL)
	}
	if results[1].URL != "" {
		t.Errorf("second result URL = %q, want empty (no PDF link)", results[1].URL)
	}
	if results[0].Relevance <= results[1].Relevance {
		t.Errorf("rank scores not descending: %v, %v", results[0].Relevance, results[1].Relevance)
	}
}

func TestWebSearcherParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": [
			{"url": "https://a.example", "title": "A", "content": "snippet a", "score": 0.93},
			{"url": "https://b.example", "title": "B", "content": "snippet b", "score": 1.7}
		]}`))
	}))
	defer srv.Close()

	ws := &WebSearcher{Client: srv.Client(), BaseURL: srv.URL, APIKey: "test", MaxResults: 5}
	results, err := ws.Search(context.Background(), "query")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Relevance != 0.93 {
		t.Errorf("Relevance = %v, want score passed through", results[0].Relevance)
	}
	if results[1].Relevance != 1.0 {
		t.Errorf("Relevance = %v, want clamped to 1.0", results[1].Relevance)
	}
}

func TestWebSearcherTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	ws := &WebSearcher{Client: srv.Client(), BaseURL: srv.URL, APIKey: "test", MaxResults: 5}
	_, err := ws.Search(context.Background(), "query")
	if !errors.Is(err, research.ErrSearchUnavailable) {
		t.Errorf("Search() error = %v, want ErrSearchUnavailable", err)
	}
}

func TestNewWebSearcherRequiresKey(t *testing.T) {
	t.Setenv("TAVILY_API_KEY", "")
	if _, err := NewWebSearcher("", 5); err == nil {
		t.Error("NewWebSearcher() should fail without an API key")
	}
}

type stubSearcher struct {
	results []research.SearchResult
	err     error
}

func (s *stubSearcher) Search(ctx context.Context, query string) ([]research.SearchResult, error) {
	return s.results, s.err
}

func TestMultiSearcherMergesResults(t *testing.T) {
	a := &stubSearcher{results: []research.SearchResult{{URL: "https://a.example"}}}
	b := &stubSearcher{results: []research.SearchResult{{URL: "https://b.example"}}}

	m := NewMultiSearcher(a, b)
	results, err := m.Search(context.Background(), "query")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
}

func TestMultiSearcherSkipsFailedBackend(t *testing.T) {
	broken := &stubSearcher{err: research.ErrSearchUnavailable}
	ok := &stubSearcher{results: []research.SearchResult{{URL: "https://a.example"}}}

	m := NewMultiSearcher(broken, ok)
	results, err := m.Search(context.Background(), "query")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
}

func TestMultiSearcherAllBackendsDown(t *testing.T) {
	m := NewMultiSearcher(
		&stubSearcher{err: research.ErrSearchUnavailable},
		&stubSearcher{err: research.ErrSearchUnavailable},
	)
	_, err := m.Search(context.Background(), "query")
	if !errors.Is(err, research.ErrSearchUnavailable) {
		t.Errorf("Search() error = %v, want ErrSearchUnavailable", err)
	}
}

func TestPDFURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Abstract to PDF", "https://arxiv.org/abs/2401.1", "https://arxiv.org/pdf/2401.1"},
		{"Plain HTTP upgraded", "http://arxiv.org/abs/2401.1", "https://arxiv.org/pdf/2401.1"},
		{"Non-arxiv untouched", "https://example.com/paper.pdf", "https://example.com/paper.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PDFURL(tt.input); got != tt.expected {
				t.Errorf("PDFURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestScrapePDFConcatenatesPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pages": [
			{"index": 0, "markdown": "page one"},
			{"index": 1, "markdown": "page two"}
		]}`))
	}))
	defer srv.Close()

	p := &PDFScraper{Client: srv.Client(), BaseURL: srv.URL, APIKey: "test"}
	text, err := p.ScrapePDF(context.Background(), "https://arxiv.org/abs/2401.1")
	if err != nil {
		t.Fatalf("ScrapePDF() error = %v", err)
	}
	if text != "page one\n\npage two\n\n" {
		t.Errorf("ScrapePDF() = %q", text)
	}
}
