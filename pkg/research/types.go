package research

import "time"

// Config holds runtime configuration for a research session.
type Config struct {
	// MaxIterations caps the number of search passes. Defaults to 3,
	// which bounds cost and latency against search/LLM backends with
	// unpredictable response times.
	MaxIterations int
	// TokenBudget caps the total context size held by the session. It is
	// measured in a model-agnostic unit proportional to text length.
	TokenBudget int
	// CallTimeout bounds each collaborator call (search, gap analysis,
	// query refinement). Defaults to 30s.
	CallTimeout time.Duration
	// InitialQuery overrides the opening search query. When empty the
	// topic itself is used. Later queries always come from refinement.
	InitialQuery string
}

// DefaultMaxIterations matches the documented loop bound.
const DefaultMaxIterations = 3

// DefaultCallTimeout is applied when Config.CallTimeout is zero.
const DefaultCallTimeout = 30 * time.Second

// SearchResult is a single hit returned by a search collaborator.
// Relevance is an opaque score in [0,1] supplied by the backend.
type SearchResult struct {
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Snippet   string  `json:"snippet"`
	Relevance float64 `json:"relevance"`
}

// SourceRecord is a search result as accumulated in the context store.
// Records are immutable once appended; relevance is assigned at append
// time and never updated retroactively.
type SourceRecord struct {
	URL            string  `json:"url"`
	Title          string  `json:"title"`
	Snippet        string  `json:"snippet"`
	Relevance      float64 `json:"relevance"`
	IterationFound int     `json:"iteration_found"`
}

// Tokens estimates the context cost of the record.
func (r SourceRecord) Tokens() int {
	return EstimateTokens(r.URL) + EstimateTokens(r.Snippet)
}

// StubTokens is the cost of the record with its snippet stripped. This is
// the floor below which compaction cannot shrink a record.
func (r SourceRecord) StubTokens() int {
	return EstimateTokens(r.URL)
}

// IterationState tracks the progress of one loop iteration.
type IterationState struct {
	// Index is the zero-based index of the current iteration.
	Index int `json:"index"`
	// NewSources is the number of records appended by the most recent
	// search pass, after deduplication.
	NewSources int `json:"new_sources"`
	// Gaps holds the unresolved sub-questions identified after reviewing
	// the current sources.
	Gaps []string `json:"gaps"`
	// QueriesIssued records every query sent to the search collaborator,
	// in order.
	QueriesIssued []string `json:"queries_issued"`
}

// Phase is the observable state of the research loop.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSearching  Phase = "searching"
	PhaseCompacting Phase = "compacting"
	PhaseAssessing  Phase = "assessing"
	PhaseDone       Phase = "done"
)

// Status is a point-in-time view of a running session.
type Status struct {
	Phase       Phase `json:"phase"`
	Iteration   int   `json:"iteration"`
	SourceCount int   `json:"source_count"`
}

// Result is the terminal output of a research session.
type Result struct {
	Topic      string         `json:"topic"`
	Sources    []SourceRecord `json:"sources"`
	StopReason StopReason     `json:"stop_reason"`
	// Iterations is the number of search passes that ran.
	Iterations int `json:"iterations"`
	// State is the final iteration state summary.
	State IterationState `json:"state"`
}
