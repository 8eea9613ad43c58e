package research

import "testing"

func TestEvaluateSufficiencyRuleOrder(t *testing.T) {
	store := NewContextStore()

	tests := []struct {
		name       string
		state      IterationState
		maxIter    int
		wantStop   bool
		wantReason StopReason
	}{
		{
			name:       "Iteration cap wins over everything",
			state:      IterationState{Index: 3, NewSources: 0, Gaps: nil},
			maxIter:    3,
			wantStop:   true,
			wantReason: StopMaxIterationsReached,
		},
		{
			name:       "Zero new sources before gap check",
			state:      IterationState{Index: 1, NewSources: 0, Gaps: []string{"open question"}},
			maxIter:    3,
			wantStop:   true,
			wantReason: StopNoNewSources,
		},
		{
			name:       "Empty gaps means sufficient confidence",
			state:      IterationState{Index: 1, NewSources: 4, Gaps: nil},
			maxIter:    3,
			wantStop:   true,
			wantReason: StopSufficientConfidence,
		},
		{
			name:     "Gaps remain, continue",
			state:    IterationState{Index: 1, NewSources: 4, Gaps: []string{"open question"}},
			maxIter:  3,
			wantStop: false,
		},
		{
			name:       "Zero max iterations falls back to default",
			state:      IterationState{Index: 3, NewSources: 4, Gaps: []string{"g"}},
			maxIter:    0,
			wantStop:   true,
			wantReason: StopMaxIterationsReached,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateSufficiency(tt.state, store, tt.maxIter)
			if got.Stop != tt.wantStop {
				t.Errorf("Stop = %v, want %v", got.Stop, tt.wantStop)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestEvaluateSufficiencyIsDeterministic(t *testing.T) {
	store := NewContextStore()
	store.Append(SourceRecord{URL: "u", Snippet: "s", Relevance: 0.5})
	state := IterationState{Index: 1, NewSources: 2, Gaps: []string{"a", "b"}}

	first := EvaluateSufficiency(state, store, 3)
	for i := 0; i < 10; i++ {
		if got := EvaluateSufficiency(state, store, 3); got != first {
			t.Fatalf("evaluation %d = %+v, want %+v", i, got, first)
		}
	}
}
