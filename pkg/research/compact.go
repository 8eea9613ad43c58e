package research

import (
	"errors"
	"sort"
)

// ErrBudgetTooSmall is returned when the token budget cannot hold even a
// URL-only stub of the highest-relevance record. The caller must raise the
// budget or abandon compaction; the session cannot proceed.
var ErrBudgetTooSmall = errors.New("token budget below single-record floor")

// Compact reduces a store to fit within the given token budget. If the
// store already fits it is returned unchanged. Otherwise records are ranked
// by relevance descending (ties broken by earlier discovery) and the
// highest-relevance prefix that fits is kept; the record straddling the
// budget boundary has its snippet truncated to the remaining allowance,
// keeping its URL and relevance. Kept records stay in discovery order.
//
// Compact is pure: the same store and budget always produce the same
// output, and compacting an already-compacted store is a no-op.
func Compact(store *ContextStore, budget int) (*ContextStore, error) {
	if store.TotalTokens() <= budget {
		return store, nil
	}

	records := store.Snapshot()
	ranked := make([]int, len(records))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return records[ranked[a]].Relevance > records[ranked[b]].Relevance
	})

	kept := make(map[int]SourceRecord, len(records))
	remaining := budget
	for _, idx := range ranked {
		r := records[idx]
		cost := r.Tokens()
		if cost <= remaining {
			kept[idx] = r
			remaining -= cost
			continue
		}
		// Boundary record: truncate the snippet to the remaining
		// allowance, or drop it when not even the stub fits.
		if stub := r.StubTokens(); stub <= remaining {
			r.Snippet = TruncateToTokens(r.Snippet, remaining-stub)
			kept[idx] = r
		}
		break
	}

	if len(kept) == 0 {
		return nil, ErrBudgetTooSmall
	}

	out := NewContextStore()
	for i := range records {
		if r, ok := kept[i]; ok {
			out.Append(r)
		}
	}
	return out, nil
}
