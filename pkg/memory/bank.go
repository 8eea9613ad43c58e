package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mikeboe/research-agent/pkg/research"
	"github.com/mikeboe/research-agent/pkg/splitter"
)

// Memory categories. Sources are raw material, findings are distilled
// statements, reports are finished syntheses.
const (
	CategorySource  = "source"
	CategoryFinding = "finding"
	CategoryReport  = "report"
)

// Embedder turns text into vectors for similarity search.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Bank is the high-level memory API: it chunks, embeds, and stores
// research output, and answers similarity queries over past sessions.
type Bank struct {
	store    *Store
	embedder Embedder
	splitter *splitter.TextSplitter
	logger   *slog.Logger
}

func NewBank(store *Store, embedder Embedder, logger *slog.Logger) *Bank {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bank{
		store:    store,
		embedder: embedder,
		splitter: splitter.NewDefault(),
		logger:   logger,
	}
}

// StoreResult persists a completed session: each retained source becomes
// one or more source memories, with the source relevance carried over as
// importance so later retrieval can favor what the compactor favored.
func (b *Bank) StoreResult(ctx context.Context, result *research.Result) error {
	var entries []Entry

	for _, src := range result.Sources {
		chunks, err := b.splitter.SplitText(src.Snippet)
		if err != nil {
			b.logger.Warn("failed to split source, storing whole", "url", src.URL, "error", err)
			chunks = []string{src.Snippet}
		}

		for _, chunk := range chunks {
			if chunk == "" {
				continue
			}
			entries = append(entries, Entry{
				Category:   CategorySource,
				Content:    chunk,
				Importance: src.Relevance,
				Metadata: map[string]interface{}{
					"topic":     result.Topic,
					"url":       src.URL,
					"title":     src.Title,
					"stored_at": time.Now().UTC().Format(time.RFC3339),
				},
			})
		}
	}

	if len(entries) == 0 {
		return nil
	}

	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entry.Content
	}

	vectors, err := b.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed sources: %w", err)
	}
	for i := range entries {
		entries[i].Embedding = vectors[i]
	}

	if err := b.store.Add(ctx, entries); err != nil {
		return err
	}

	b.logger.Info("stored research result", "topic", result.Topic, "memories", len(entries))
	return nil
}

// StoreDocument chunks and stores the full text of one source document,
// carrying the source's relevance as importance.
func (b *Bank) StoreDocument(ctx context.Context, topic, url, title, text string, importance float64) error {
	chunks, err := b.splitter.SplitText(text)
	if err != nil {
		return fmt.Errorf("failed to split document: %w", err)
	}

	var entries []Entry
	for _, chunk := range chunks {
		if chunk == "" {
			continue
		}
		entries = append(entries, Entry{
			Category:   CategorySource,
			Content:    chunk,
			Importance: importance,
			Metadata: map[string]interface{}{
				"topic":     topic,
				"url":       url,
				"title":     title,
				"full_text": true,
				"stored_at": time.Now().UTC().Format(time.RFC3339),
			},
		})
	}
	if len(entries) == 0 {
		return nil
	}

	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entry.Content
	}
	vectors, err := b.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed document: %w", err)
	}
	for i := range entries {
		entries[i].Embedding = vectors[i]
	}

	if err := b.store.Add(ctx, entries); err != nil {
		return err
	}
	b.logger.Info("stored full document", "topic", topic, "url", url, "chunks", len(entries))
	return nil
}

// StoreReport saves a finished report as one high-importance memory.
func (b *Bank) StoreReport(ctx context.Context, topic, report string) error {
	vector, err := b.embedder.EmbedText(ctx, report)
	if err != nil {
		return fmt.Errorf("failed to embed report: %w", err)
	}

	return b.store.Add(ctx, []Entry{{
		Category:   CategoryReport,
		Content:    report,
		Importance: 1.0,
		Metadata: map[string]interface{}{
			"topic":     topic,
			"stored_at": time.Now().UTC().Format(time.RFC3339),
		},
		Embedding: vector,
	}})
}

// RelatedResearch finds stored memories similar to the query, across all
// categories unless one is given.
func (b *Bank) RelatedResearch(ctx context.Context, query string, topK int, category string) ([]SearchResult, error) {
	vector, err := b.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if topK <= 0 {
		topK = 5
	}
	return b.store.Search(ctx, vector, topK, category)
}

// TopicHistory returns everything remembered about a topic.
func (b *Bank) TopicHistory(ctx context.Context, topic string) ([]Entry, error) {
	return b.store.GetByTopic(ctx, topic)
}

// FilterByMetadata exposes the store's logical metadata filtering.
func (b *Bank) FilterByMetadata(ctx context.Context, filter map[string]interface{}) ([]Entry, error) {
	return b.store.GetByMetadata(ctx, filter)
}

// Statistics reports what the bank holds, per category.
func (b *Bank) Statistics(ctx context.Context) ([]CategoryStats, error) {
	return b.store.Statistics(ctx)
}
