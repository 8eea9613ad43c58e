package research

// StopReason reports why a research session terminated. Stop reasons are
// normal terminal outcomes, not errors.
type StopReason string

const (
	// StopSufficientConfidence means no unresolved gaps remain.
	StopSufficientConfidence StopReason = "sufficient_confidence"
	// StopMaxIterationsReached means the iteration cap was hit.
	StopMaxIterationsReached StopReason = "max_iterations_reached"
	// StopNoNewSources means the most recent pass added nothing new.
	StopNoNewSources StopReason = "no_new_sources"
)

// StopDecision is produced fresh each iteration. Either Stop is set with a
// Reason, or the loop continues with NextQuery.
type StopDecision struct {
	Stop      bool       `json:"stop"`
	Reason    StopReason `json:"reason,omitempty"`
	NextQuery string     `json:"next_query,omitempty"`
}

// ContinueWith returns a continue decision carrying the next query.
func ContinueWith(query string) StopDecision {
	return StopDecision{NextQuery: query}
}

// StopBecause returns a terminal decision with the given reason.
func StopBecause(reason StopReason) StopDecision {
	return StopDecision{Stop: true, Reason: reason}
}

// EvaluateSufficiency maps the current iteration state to a stop/continue
// decision. Rules are checked in order, first match wins:
//
//  1. the iteration index reached the cap
//  2. the most recent pass added zero new records
//  3. no gaps remain after gap analysis
//  4. otherwise continue; the caller seeds the next query from the gaps
//
// The function is pure and deterministic: identical inputs always yield
// the identical decision.
func EvaluateSufficiency(state IterationState, store *ContextStore, maxIterations int) StopDecision {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if state.Index >= maxIterations {
		return StopBecause(StopMaxIterationsReached)
	}
	if state.NewSources == 0 {
		return StopBecause(StopNoNewSources)
	}
	if len(state.Gaps) == 0 {
		return StopBecause(StopSufficientConfidence)
	}
	return ContinueWith("")
}
