package research

import (
	"context"
	"errors"
	"log/slog"
)

// ErrSearchUnavailable signals a transport failure in a search backend.
// The controller treats it identically to a zero-result response.
var ErrSearchUnavailable = errors.New("search backend unavailable")

// Searcher is the external search collaborator. Implementations live
// outside the core; relevance scores are opaque to the controller.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// GapAnalyzer reviews the current sources and identifies unresolved
// sub-questions. It is purely advisory: a failure is treated as "no gaps
// identified", which biases the loop toward stopping.
type GapAnalyzer interface {
	IdentifyGaps(ctx context.Context, topic string, snapshot []SourceRecord) ([]string, error)
}

// QueryRefiner turns the unresolved gaps into the next search query. On
// failure the controller reuses the previous query verbatim for at most
// one retry before stopping.
type QueryRefiner interface {
	Refine(ctx context.Context, gaps []string, previousQuery string) (string, error)
}

// Checkpointer persists a session snapshot so a session can be resumed.
// The controller invokes it exactly between assessment and the next
// search pass, never mid-compaction, so the token budget invariant holds
// on resume.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, snapshot Snapshot) error
}

// Snapshot is the persistable state between two iterations.
type Snapshot struct {
	Topic     string         `json:"topic"`
	NextQuery string         `json:"next_query"`
	State     IterationState `json:"state"`
	Sources   []SourceRecord `json:"sources"`
}

// Controller drives the research loop for a single session:
// search, append, compact, assess, then continue or stop. Iterations run
// strictly sequentially; each iteration's query depends on the previous
// iteration's gaps. One controller serves one session.
type Controller struct {
	Config     Config
	Searcher   Searcher
	Gaps       GapAnalyzer
	Refiner    QueryRefiner
	Checkpoint Checkpointer // optional
	Logger     *slog.Logger

	// OnStateUpdate, when set, observes every phase transition. It is
	// invoked from the goroutine running the loop; concurrent readers
	// should go through Session.Status instead.
	OnStateUpdate func(Status)
}

// NewController wires a controller with its collaborators. Zero config
// fields fall back to defaults; TokenBudget has no default and is
// validated by Run.
func NewController(cfg Config, searcher Searcher, gaps GapAnalyzer, refiner QueryRefiner) *Controller {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Controller{
		Config:   cfg,
		Searcher: searcher,
		Gaps:     gaps,
		Refiner:  refiner,
		Logger:   slog.Default(),
	}
}

// Run executes the loop until a stop decision or the iteration cap. The
// only fatal error is a token budget too small to hold any source; every
// collaborator failure is recovered locally.
func (c *Controller) Run(ctx context.Context, topic string) (*Result, error) {
	query := topic
	if c.Config.InitialQuery != "" {
		query = c.Config.InitialQuery
	}
	return c.run(ctx, topic, NewContextStore(), IterationState{}, query)
}

// Resume continues a previously checkpointed session. Snapshots are
// taken between assessment and the next search pass, so the restored
// store already satisfies the token budget and the loop picks up
// exactly where it left off.
func (c *Controller) Resume(ctx context.Context, snap Snapshot) (*Result, error) {
	store := NewContextStore()
	for _, r := range snap.Sources {
		store.Append(r)
	}
	query := snap.NextQuery
	if query == "" {
		query = snap.Topic
	}
	return c.run(ctx, snap.Topic, store, snap.State, query)
}

func (c *Controller) run(ctx context.Context, topic string, store *ContextStore, state IterationState, query string) (*Result, error) {
	// A budget that cannot hold a single record is a configuration
	// error; reject it before any search is attempted.
	if c.Config.TokenBudget <= 0 {
		return nil, ErrBudgetTooSmall
	}

	seen := make(map[string]bool)
	for _, r := range store.Snapshot() {
		seen[r.URL] = true
	}
	refineRetried := false
	passes := 0
	var reason StopReason

	c.Logger.Info("Starting research loop", "topic", topic, "iteration", state.Index, "max_iterations", c.Config.MaxIterations, "token_budget", c.Config.TokenBudget)

	for {
		c.setPhase(PhaseSearching, state.Index, store.Len())
		results := c.search(ctx, state.Index, query)
		state.QueriesIssued = append(state.QueriesIssued, query)
		passes++

		added := 0
		for _, r := range results {
			if r.URL != "" && seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			store.Append(SourceRecord{
				URL:            r.URL,
				Title:          r.Title,
				Snippet:        r.Snippet,
				Relevance:      r.Relevance,
				IterationFound: state.Index,
			})
			added++
		}
		state.NewSources = added
		c.Logger.Info("Search pass complete", "iteration", state.Index, "new_sources", added, "total_tokens", store.TotalTokens())

		c.setPhase(PhaseCompacting, state.Index, store.Len())
		compacted, err := Compact(store, c.Config.TokenBudget)
		if err != nil {
			c.setPhase(PhaseDone, state.Index, store.Len())
			return nil, err
		}
		if compacted.Len() != store.Len() {
			c.Logger.Info("Context compacted", "iteration", state.Index, "kept", compacted.Len(), "dropped", store.Len()-compacted.Len(), "total_tokens", compacted.TotalTokens())
		}
		store = compacted

		c.setPhase(PhaseAssessing, state.Index, store.Len())
		state.Gaps = c.identifyGaps(ctx, state.Index, topic, store)

		decision := EvaluateSufficiency(state, store, c.Config.MaxIterations)
		if decision.Stop {
			reason = decision.Reason
			break
		}

		next, err := c.refine(ctx, state.Gaps, query)
		if err != nil || next == "" {
			if refineRetried {
				c.Logger.Warn("Query refinement failed twice, stopping", "iteration", state.Index, "error", err)
				reason = StopNoNewSources
				break
			}
			c.Logger.Warn("Query refinement failed, reusing previous query", "iteration", state.Index, "error", err)
			refineRetried = true
			next = query
		} else {
			refineRetried = false
		}

		state.Index++
		if state.Index >= c.Config.MaxIterations {
			reason = StopMaxIterationsReached
			break
		}

		if c.Checkpoint != nil {
			snap := Snapshot{Topic: topic, NextQuery: next, State: state, Sources: store.Snapshot()}
			if err := c.Checkpoint.SaveCheckpoint(ctx, snap); err != nil {
				c.Logger.Warn("Checkpoint save failed", "iteration", state.Index, "error", err)
			}
		}

		query = next
	}

	c.setPhase(PhaseDone, state.Index, store.Len())
	c.Logger.Info("Research loop finished", "topic", topic, "reason", reason, "iterations", passes, "sources", store.Len())

	return &Result{
		Topic:      topic,
		Sources:    store.Snapshot(),
		StopReason: reason,
		Iterations: passes,
		State:      state,
	}, nil
}

func (c *Controller) search(ctx context.Context, iteration int, query string) []SearchResult {
	cctx, cancel := context.WithTimeout(ctx, c.Config.CallTimeout)
	defer cancel()

	results, err := c.Searcher.Search(cctx, query)
	if err != nil {
		// Transport failure and timeout both degrade to an empty
		// result set, which feeds the no-new-sources stop rule.
		c.Logger.Warn("Search failed, treating as zero results", "iteration", iteration, "query", query, "error", err)
		return nil
	}
	return results
}

func (c *Controller) identifyGaps(ctx context.Context, iteration int, topic string, store *ContextStore) []string {
	if c.Gaps == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, c.Config.CallTimeout)
	defer cancel()

	gaps, err := c.Gaps.IdentifyGaps(cctx, topic, store.Snapshot())
	if err != nil {
		c.Logger.Warn("Gap analysis failed, assuming no gaps", "iteration", iteration, "error", err)
		return nil
	}
	return gaps
}

func (c *Controller) refine(ctx context.Context, gaps []string, previousQuery string) (string, error) {
	if c.Refiner == nil {
		return previousQuery, nil
	}
	cctx, cancel := context.WithTimeout(ctx, c.Config.CallTimeout)
	defer cancel()

	return c.Refiner.Refine(cctx, gaps, previousQuery)
}

func (c *Controller) setPhase(p Phase, iteration, sources int) {
	if c.OnStateUpdate != nil {
		c.OnStateUpdate(Status{Phase: p, Iteration: iteration, SourceCount: sources})
	}
}
