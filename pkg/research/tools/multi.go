package tools

import (
	"context"
	"log/slog"

	"github.com/mikeboe/research-agent/pkg/research"
)

// MultiSearcher queries several backends and merges their results.
// Individual backend failures are logged and skipped; the combined search
// only fails when every backend does, so a single flaky provider never
// stalls a session.
type MultiSearcher struct {
	Backends []research.Searcher
	Logger   *slog.Logger
}

func NewMultiSearcher(backends ...research.Searcher) *MultiSearcher {
	return &MultiSearcher{Backends: backends, Logger: slog.Default()}
}

func (m *MultiSearcher) Search(ctx context.Context, query string) ([]research.SearchResult, error) {
	var merged []research.SearchResult
	failures := 0

	for _, backend := range m.Backends {
		results, err := backend.Search(ctx, query)
		if err != nil {
			failures++
			m.Logger.Warn("Search backend failed", "query", query, "error", err)
			continue
		}
		merged = append(merged, results...)
	}

	if failures == len(m.Backends) && len(m.Backends) > 0 {
		return nil, research.ErrSearchUnavailable
	}
	return merged, nil
}
