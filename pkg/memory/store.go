// Package memory persists research findings across sessions so later
// sessions can draw on what earlier ones found.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Entry is one stored memory: a chunk of researched content with its
// embedding, a category, and an importance weight used for ranking.
type Entry struct {
	ID         string                 `json:"id"`
	Category   string                 `json:"category"`
	Content    string                 `json:"content"`
	Importance float64                `json:"importance"`
	Metadata   map[string]interface{} `json:"metadata"`
	Embedding  []float32              `json:"embedding,omitempty"`
}

// Store handles pgvector operations against a memories table.
type Store struct {
	pool      *pgxpool.Pool
	tableName string
}

// isValidTableName validates that a table name contains only safe characters
// to prevent SQL injection attacks
func isValidTableName(name string) bool {
	// Only allow alphanumeric characters and underscores
	// Table names must start with a letter or underscore and be between 1-63 chars (PostgreSQL limit)
	matched, _ := regexp.MatchString(`^[a-z_][a-zA-Z0-9_]{0,62}$`, name)
	return matched
}

// NewStore creates a memory store over the given table.
func NewStore(pool *pgxpool.Pool, tableName string) (*Store, error) {
	if !isValidTableName(tableName) {
		return nil, fmt.Errorf("invalid table name: must contain only alphanumeric characters and underscores, start with a letter or underscore, and be 1-63 characters long")
	}
	return &Store{
		pool:      pool,
		tableName: tableName,
	}, nil
}

// Add inserts entries in a single batch.
func (s *Store) Add(ctx context.Context, entries []Entry) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (category, content, importance, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5)
	`, pgx.Identifier{s.tableName}.Sanitize())

	batch := &pgx.Batch{}
	for _, entry := range entries {
		metadataJSON, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		embedding := pgvector.NewVector(entry.Embedding)
		batch.Queue(query, entry.Category, entry.Content, entry.Importance, metadataJSON, embedding)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert memory: %w", err)
		}
	}

	return nil
}

// SearchResult pairs an entry with its cosine similarity to the query.
type SearchResult struct {
	Entry Entry
	Score float64
}

// Search performs a similarity search, optionally restricted to a category.
// Results are ordered by distance, with importance breaking near-ties.
func (s *Store) Search(ctx context.Context, queryEmbedding []float32, topK int, category string) ([]SearchResult, error) {
	var query string
	var args []interface{}

	embedding := pgvector.NewVector(queryEmbedding)

	if category != "" {
		query = fmt.Sprintf(`
			SELECT id, category, content, importance, metadata, 1 - (embedding <=> $1) as similarity
			FROM %s
			WHERE category = $2
			ORDER BY embedding <=> $1, importance DESC
			LIMIT $3
		`, pgx.Identifier{s.tableName}.Sanitize())
		args = []interface{}{embedding, category, topK}
	} else {
		query = fmt.Sprintf(`
			SELECT id, category, content, importance, metadata, 1 - (embedding <=> $1) as similarity
			FROM %s
			ORDER BY embedding <=> $1, importance DESC
			LIMIT $2
		`, pgx.Identifier{s.tableName}.Sanitize())
		args = []interface{}{embedding, topK}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var entry Entry
		var metadataJSON []byte
		var similarity float64

		if err := rows.Scan(&entry.ID, &entry.Category, &entry.Content, &entry.Importance, &metadataJSON, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}

		results = append(results, SearchResult{
			Entry: entry,
			Score: similarity,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return results, nil
}

// GetByTopic retrieves all entries recorded under a topic.
func (s *Store) GetByTopic(ctx context.Context, topic string) ([]Entry, error) {
	query := fmt.Sprintf(`
		SELECT id, category, content, importance, metadata
		FROM %s
		WHERE metadata->>'topic' = $1
	`, pgx.Identifier{s.tableName}.Sanitize())

	rows, err := s.pool.Query(ctx, query, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetByMetadata retrieves entries matching a complex JSON filter.
// Supports logical operators $and, $or, $not within the filter map.
func (s *Store) GetByMetadata(ctx context.Context, filter map[string]interface{}) ([]Entry, error) {
	var args []interface{}
	whereClause, err := s.buildMetadataQuery(filter, &args)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata query: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, category, content, importance, metadata
		FROM %s
		WHERE %s
	`, pgx.Identifier{s.tableName}.Sanitize(), whereClause)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var entry Entry
		var metadataJSON []byte

		if err := rows.Scan(&entry.ID, &entry.Category, &entry.Content, &entry.Importance, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return entries, nil
}

// buildMetadataQuery recursively builds a SQL WHERE clause for list of conditions
func (s *Store) buildMetadataQuery(filter map[string]interface{}, args *[]interface{}) (string, error) {
	if len(filter) == 0 {
		return "TRUE", nil
	}

	var conditions []string

	for key, value := range filter {
		switch key {
		case "$and", "$or":
			list, ok := value.([]interface{})
			if !ok {
				return "", fmt.Errorf("value for %s must be a list of conditions", key)
			}
			var subConditions []string
			for _, item := range list {
				subMap, ok := item.(map[string]interface{})
				if !ok {
					return "", fmt.Errorf("item in %s list must be a JSON object", key)
				}
				subQuery, err := s.buildMetadataQuery(subMap, args)
				if err != nil {
					return "", err
				}
				subConditions = append(subConditions, "("+subQuery+")")
			}

			if len(subConditions) == 0 {
				continue
			}

			op := " AND "
			if key == "$or" {
				op = " OR "
			}
			conditions = append(conditions, "("+strings.Join(subConditions, op)+")")

		case "$not":
			subMap, ok := value.(map[string]interface{})
			if !ok {
				return "", fmt.Errorf("value for $not must be a JSON object")
			}
			subQuery, err := s.buildMetadataQuery(subMap, args)
			if err != nil {
				return "", err
			}
			conditions = append(conditions, "NOT ("+subQuery+")")

		default:
			// Treat as simple equality match: metadata @> '{"key": value}'
			pair := map[string]interface{}{key: value}
			jsonBytes, err := json.Marshal(pair)
			if err != nil {
				return "", fmt.Errorf("failed to marshal metadata pair: %w", err)
			}
			*args = append(*args, jsonBytes)
			conditions = append(conditions, fmt.Sprintf("metadata @> $%d", len(*args)))
		}
	}

	if len(conditions) == 0 {
		return "TRUE", nil
	}

	return strings.Join(conditions, " AND "), nil
}

// UpdateImportance sets the importance weight for a memory.
func (s *Store) UpdateImportance(ctx context.Context, id string, importance float64) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET importance = $1
		WHERE id = $2
	`, pgx.Identifier{s.tableName}.Sanitize())

	result, err := s.pool.Exec(ctx, query, importance, id)
	if err != nil {
		return fmt.Errorf("failed to execute update query: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("no memory found with id %s", id)
	}

	return nil
}

// CategoryStats summarizes stored memories for one category.
type CategoryStats struct {
	Category      string  `json:"category"`
	Count         int64   `json:"count"`
	AvgImportance float64 `json:"avg_importance"`
}

// Statistics returns per-category counts and average importance.
func (s *Store) Statistics(ctx context.Context) ([]CategoryStats, error) {
	query := fmt.Sprintf(`
		SELECT category, COUNT(*), COALESCE(AVG(importance), 0)
		FROM %s
		GROUP BY category
		ORDER BY category
	`, pgx.Identifier{s.tableName}.Sanitize())

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query statistics: %w", err)
	}
	defer rows.Close()

	var stats []CategoryStats
	for rows.Next() {
		var cs CategoryStats
		if err := rows.Scan(&cs.Category, &cs.Count, &cs.AvgImportance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		stats = append(stats, cs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return stats, nil
}
