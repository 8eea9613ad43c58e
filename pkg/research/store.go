package research

// ContextStore holds the source records accumulated by a research session,
// in discovery order, together with a running token estimate. A store is
// owned by a single session and is not safe for concurrent use.
type ContextStore struct {
	records []SourceRecord
	tokens  int
}

// NewContextStore returns an empty store.
func NewContextStore() *ContextStore {
	return &ContextStore{}
}

// Append inserts a record at the tail and updates the running token
// estimate. Duplicate URLs are accepted; deduplication is the caller's
// concern.
func (s *ContextStore) Append(r SourceRecord) {
	s.records = append(s.records, r)
	s.tokens += r.Tokens()
}

// Snapshot returns a copy of the record sequence in discovery order.
// Mutating the returned slice does not affect the store.
func (s *ContextStore) Snapshot() []SourceRecord {
	out := make([]SourceRecord, len(s.records))
	copy(out, s.records)
	return out
}

// TotalTokens returns the running token estimate.
func (s *ContextStore) TotalTokens() int {
	return s.tokens
}

// Len returns the number of records held.
func (s *ContextStore) Len() int {
	return len(s.records)
}
