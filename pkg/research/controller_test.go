package research

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// scriptedSearcher returns one prepared batch per call, then empty
// batches forever.
type scriptedSearcher struct {
	batches [][]SearchResult
	queries []string
}

func (s *scriptedSearcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	s.queries = append(s.queries, query)
	call := len(s.queries) - 1
	if call >= len(s.batches) {
		return nil, nil
	}
	return s.batches[call], nil
}

type failingSearcher struct{ calls int }

func (s *failingSearcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	s.calls++
	return nil, ErrSearchUnavailable
}

// blockingSearcher waits for the call context to expire, like a hung
// backend.
type blockingSearcher struct{}

func (s *blockingSearcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type staticGaps struct {
	gaps []string
	err  error
}

func (g *staticGaps) IdentifyGaps(ctx context.Context, topic string, snapshot []SourceRecord) ([]string, error) {
	return g.gaps, g.err
}

type countingRefiner struct {
	calls int
	err   error
}

func (r *countingRefiner) Refine(ctx context.Context, gaps []string, previousQuery string) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return fmt.Sprintf("%s refined %d", previousQuery, r.calls), nil
}

type recordingCheckpointer struct {
	snapshots []Snapshot
}

func (c *recordingCheckpointer) SaveCheckpoint(ctx context.Context, snapshot Snapshot) error {
	c.snapshots = append(c.snapshots, snapshot)
	return nil
}

func batch(iteration, n int) []SearchResult {
	out := make([]SearchResult, n)
	for i := range out {
		out[i] = SearchResult{
			URL:       fmt.Sprintf("https://example.com/%d/%d", iteration, i),
			Snippet:   "some snippet text",
			Relevance: 0.8,
		}
	}
	return out
}

func newTestController(cfg Config, s Searcher, gaps []string) *Controller {
	return NewController(cfg, s, &staticGaps{gaps: gaps}, &countingRefiner{})
}

func TestControllerStopsOnNoNewSources(t *testing.T) {
	// Two productive passes, then an empty third: the stop reason must
	// be no-new-sources at iteration index 2, not the iteration cap.
	searcher := &scriptedSearcher{batches: [][]SearchResult{batch(0, 2), batch(1, 2), nil}}
	c := newTestController(Config{MaxIterations: 3, TokenBudget: 10000}, searcher, []string{"open gap"})

	result, err := c.Run(context.Background(), "test topic")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.StopReason != StopNoNewSources {
		t.Errorf("StopReason = %q, want %q", result.StopReason, StopNoNewSources)
	}
	if result.State.Index != 2 {
		t.Errorf("final iteration index = %d, want 2", result.State.Index)
	}
	if result.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3", result.Iterations)
	}
	if len(result.Sources) != 4 {
		t.Errorf("len(Sources) = %d, want 4", len(result.Sources))
	}
}

func TestControllerStopsOnEmptyGaps(t *testing.T) {
	// The gap analyzer finds nothing: the loop stops with sufficient
	// confidence after the first pass regardless of the iteration cap.
	searcher := &scriptedSearcher{batches: [][]SearchResult{batch(0, 3), batch(1, 3)}}
	c := newTestController(Config{MaxIterations: 10, TokenBudget: 10000}, searcher, nil)

	result, err := c.Run(context.Background(), "test topic")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.StopReason != StopSufficientConfidence {
		t.Errorf("StopReason = %q, want %q", result.StopReason, StopSufficientConfidence)
	}
	if result.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", result.Iterations)
	}
}

func TestControllerHitsIterationCap(t *testing.T) {
	batches := [][]SearchResult{batch(0, 1), batch(1, 1), batch(2, 1), batch(3, 1)}
	searcher := &scriptedSearcher{batches: batches}
	c := newTestController(Config{MaxIterations: 3, TokenBudget: 10000}, searcher, []string{"still open"})

	result, err := c.Run(context.Background(), "test topic")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.StopReason != StopMaxIterationsReached {
		t.Errorf("StopReason = %q, want %q", result.StopReason, StopMaxIterationsReached)
	}
	if len(searcher.queries) != 3 {
		t.Errorf("search passes = %d, want exactly 3", len(searcher.queries))
	}
}

func TestControllerTerminatesForAnyCap(t *testing.T) {
	for _, maxIter := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("max %d", maxIter), func(t *testing.T) {
			searcher := &scriptedSearcher{batches: make([][]SearchResult, maxIter+5)}
			for i := range searcher.batches {
				searcher.batches[i] = batch(i, 1)
			}
			c := newTestController(Config{MaxIterations: maxIter, TokenBudget: 10000}, searcher, []string{"g"})

			result, err := c.Run(context.Background(), "topic")
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if result.Iterations > maxIter {
				t.Errorf("Iterations = %d, want <= %d", result.Iterations, maxIter)
			}
		})
	}
}

func TestControllerTreatsSearchFailureAsEmpty(t *testing.T) {
	searcher := &failingSearcher{}
	c := newTestController(Config{MaxIterations: 3, TokenBudget: 1000}, searcher, []string{"g"})

	result, err := c.Run(context.Background(), "topic")
	if err != nil {
		t.Fatalf("Run() error = %v (transport failures must not be fatal)", err)
	}
	if result.StopReason != StopNoNewSources {
		t.Errorf("StopReason = %q, want %q", result.StopReason, StopNoNewSources)
	}
	if searcher.calls != 1 {
		t.Errorf("search calls = %d, want 1", searcher.calls)
	}
}

func TestControllerTreatsTimeoutAsEmpty(t *testing.T) {
	c := newTestController(Config{MaxIterations: 3, TokenBudget: 1000, CallTimeout: 10 * time.Millisecond}, &blockingSearcher{}, []string{"g"})

	done := make(chan struct{})
	var result *Result
	var err error
	go func() {
		result, err = c.Run(context.Background(), "topic")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("controller hung on a timed-out search call")
	}
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.StopReason != StopNoNewSources {
		t.Errorf("StopReason = %q, want %q", result.StopReason, StopNoNewSources)
	}
}

func TestControllerTreatsGapFailureAsNoGaps(t *testing.T) {
	searcher := &scriptedSearcher{batches: [][]SearchResult{batch(0, 2)}}
	c := NewController(Config{MaxIterations: 3, TokenBudget: 1000}, searcher,
		&staticGaps{err: errors.New("analyzer down")}, &countingRefiner{})

	result, err := c.Run(context.Background(), "topic")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.StopReason != StopSufficientConfidence {
		t.Errorf("StopReason = %q, want %q (gap analysis fails open)", result.StopReason, StopSufficientConfidence)
	}
}

func TestControllerRefineFailureReusesQueryOnce(t *testing.T) {
	searcher := &scriptedSearcher{batches: [][]SearchResult{batch(0, 1), batch(1, 1), batch(2, 1)}}
	refiner := &countingRefiner{err: errors.New("refiner down")}
	c := NewController(Config{MaxIterations: 5, TokenBudget: 10000}, searcher,
		&staticGaps{gaps: []string{"g"}}, refiner)

	result, err := c.Run(context.Background(), "topic")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2 (one verbatim retry, then stop)", result.Iterations)
	}
	if result.StopReason != StopNoNewSources {
		t.Errorf("StopReason = %q, want %q", result.StopReason, StopNoNewSources)
	}
	if len(searcher.queries) != 2 || searcher.queries[0] != searcher.queries[1] {
		t.Errorf("retry must reuse the previous query verbatim, got %v", searcher.queries)
	}
}

func TestControllerDeduplicatesByURL(t *testing.T) {
	same := []SearchResult{{URL: "https://example.com/only", Snippet: "s", Relevance: 0.9}}
	searcher := &scriptedSearcher{batches: [][]SearchResult{same, same}}
	c := newTestController(Config{MaxIterations: 3, TokenBudget: 1000}, searcher, []string{"g"})

	result, err := c.Run(context.Background(), "topic")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.StopReason != StopNoNewSources {
		t.Errorf("StopReason = %q, want %q", result.StopReason, StopNoNewSources)
	}
	if len(result.Sources) != 1 {
		t.Errorf("len(Sources) = %d, want 1", len(result.Sources))
	}
}

func TestControllerRejectsUnusableBudget(t *testing.T) {
	searcher := &scriptedSearcher{batches: [][]SearchResult{batch(0, 1)}}
	c := newTestController(Config{MaxIterations: 3, TokenBudget: 0}, searcher, nil)

	_, err := c.Run(context.Background(), "topic")
	if !errors.Is(err, ErrBudgetTooSmall) {
		t.Fatalf("Run() error = %v, want ErrBudgetTooSmall", err)
	}
	if len(searcher.queries) != 0 {
		t.Error("no search may be attempted with an unusable budget")
	}
}

func TestControllerHoldsBudgetInvariant(t *testing.T) {
	big := make([]SearchResult, 10)
	for i := range big {
		big[i] = SearchResult{
			URL:       fmt.Sprintf("https://example.com/%d", i),
			Snippet:   string(make([]byte, 800)),
			Relevance: 0.9 - float64(i)*0.05,
		}
	}
	searcher := &scriptedSearcher{batches: [][]SearchResult{big, big[:1]}}
	c := newTestController(Config{MaxIterations: 3, TokenBudget: 500}, searcher, []string{"g"})

	result, err := c.Run(context.Background(), "topic")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	total := 0
	for _, r := range result.Sources {
		total += r.Tokens()
	}
	if total > 500 {
		t.Errorf("final context = %d tokens, exceeds budget 500", total)
	}
}

func TestControllerCheckpointsBetweenIterations(t *testing.T) {
	searcher := &scriptedSearcher{batches: [][]SearchResult{batch(0, 2), nil}}
	cp := &recordingCheckpointer{}
	c := newTestController(Config{MaxIterations: 3, TokenBudget: 10000}, searcher, []string{"g"})
	c.Checkpoint = cp

	_, err := c.Run(context.Background(), "topic")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(cp.snapshots) != 1 {
		t.Fatalf("checkpoints = %d, want 1", len(cp.snapshots))
	}
	snap := cp.snapshots[0]
	if snap.State.Index != 1 {
		t.Errorf("checkpoint index = %d, want 1 (taken before the next search)", snap.State.Index)
	}
	if snap.NextQuery == "" {
		t.Error("checkpoint must carry the next query")
	}
	total := 0
	for _, r := range snap.Sources {
		total += r.Tokens()
	}
	if total > 10000 {
		t.Errorf("checkpoint snapshot = %d tokens, exceeds budget", total)
	}
}

func TestControllerPhaseTransitions(t *testing.T) {
	searcher := &scriptedSearcher{batches: [][]SearchResult{batch(0, 1)}}
	c := newTestController(Config{MaxIterations: 3, TokenBudget: 1000}, searcher, nil)

	var phases []Phase
	c.OnStateUpdate = func(st Status) { phases = append(phases, st.Phase) }

	if _, err := c.Run(context.Background(), "topic"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []Phase{PhaseSearching, PhaseCompacting, PhaseAssessing, PhaseDone}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phase %d = %q, want %q", i, phases[i], want[i])
		}
	}
}

func records(iteration, n int) []SourceRecord {
	results := batch(iteration, n)
	out := make([]SourceRecord, n)
	for i, r := range results {
		out[i] = SourceRecord{
			URL:            r.URL,
			Snippet:        r.Snippet,
			Relevance:      r.Relevance,
			IterationFound: iteration,
		}
	}
	return out
}

func TestControllerResumeContinuesFromSnapshot(t *testing.T) {
	// A snapshot taken after iteration 0 carries its sources and the
	// already-refined next query; the resumed loop must issue that query
	// first and keep the snapshot sources in the final result.
	snap := Snapshot{
		Topic:     "test topic",
		NextQuery: "follow-up query",
		State:     IterationState{Index: 1, NewSources: 2},
		Sources:   records(0, 2),
	}
	searcher := &scriptedSearcher{batches: [][]SearchResult{batch(1, 2), nil}}
	c := newTestController(Config{MaxIterations: 5, TokenBudget: 10000}, searcher, []string{"open gap"})

	result, err := c.Resume(context.Background(), snap)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if searcher.queries[0] != "follow-up query" {
		t.Errorf("first query = %q, want the snapshot's next query", searcher.queries[0])
	}
	if result.StopReason != StopNoNewSources {
		t.Errorf("StopReason = %q, want %q", result.StopReason, StopNoNewSources)
	}
	if len(result.Sources) != 4 {
		t.Fatalf("sources = %d, want 2 resumed + 2 new", len(result.Sources))
	}
	got := make(map[string]bool, len(result.Sources))
	for _, r := range result.Sources {
		got[r.URL] = true
	}
	for _, r := range snap.Sources {
		if !got[r.URL] {
			t.Errorf("resumed source %q missing from result", r.URL)
		}
	}
	if result.State.Index != 2 {
		t.Errorf("final index = %d, want 2", result.State.Index)
	}
	if result.Topic != "test topic" {
		t.Errorf("Topic = %q, want the snapshot topic", result.Topic)
	}
}

func TestControllerResumeDeduplicatesSnapshotSources(t *testing.T) {
	// The first search pass after resume returns one URL the snapshot
	// already holds; only the genuinely new one may be appended.
	snap := Snapshot{
		Topic:     "test topic",
		NextQuery: "follow-up query",
		State:     IterationState{Index: 1},
		Sources:   records(0, 2),
	}
	dup := batch(0, 1)[0]
	fresh := batch(1, 1)[0]
	searcher := &scriptedSearcher{batches: [][]SearchResult{{dup, fresh}, nil}}
	c := newTestController(Config{MaxIterations: 5, TokenBudget: 10000}, searcher, []string{"open gap"})

	result, err := c.Resume(context.Background(), snap)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if len(result.Sources) != 3 {
		t.Errorf("sources = %d, want 3 (duplicate dropped)", len(result.Sources))
	}
}

func TestControllerResumeRespectsIterationCap(t *testing.T) {
	// Resuming at index 2 with a cap of 3 leaves exactly one pass.
	snap := Snapshot{
		Topic:     "test topic",
		NextQuery: "follow-up query",
		State:     IterationState{Index: 2},
		Sources:   records(0, 1),
	}
	searcher := &scriptedSearcher{batches: [][]SearchResult{batch(2, 1), batch(3, 1), batch(4, 1)}}
	c := newTestController(Config{MaxIterations: 3, TokenBudget: 10000}, searcher, []string{"open gap"})

	result, err := c.Resume(context.Background(), snap)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if len(searcher.queries) != 1 {
		t.Errorf("queries issued = %d, want 1", len(searcher.queries))
	}
	if result.StopReason != StopMaxIterationsReached {
		t.Errorf("StopReason = %q, want %q", result.StopReason, StopMaxIterationsReached)
	}
}

func TestControllerResumeFallsBackToTopicQuery(t *testing.T) {
	snap := Snapshot{
		Topic:   "test topic",
		State:   IterationState{Index: 1},
		Sources: records(0, 1),
	}
	searcher := &scriptedSearcher{}
	c := newTestController(Config{MaxIterations: 3, TokenBudget: 10000}, searcher, nil)

	if _, err := c.Resume(context.Background(), snap); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if searcher.queries[0] != "test topic" {
		t.Errorf("first query = %q, want the topic when the snapshot has no next query", searcher.queries[0])
	}
}
