package research

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSessionManagerLifecycle(t *testing.T) {
	m := NewSessionManager()
	searcher := &scriptedSearcher{batches: [][]SearchResult{batch(0, 2)}}
	c := newTestController(Config{MaxIterations: 3, TokenBudget: 1000}, searcher, nil)

	s := m.Start(context.Background(), "topic", c)

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != s {
		t.Error("Get() returned a different session")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if result.StopReason != StopSufficientConfidence {
		t.Errorf("StopReason = %q, want %q", result.StopReason, StopSufficientConfidence)
	}
	if st := s.Status(); st.Phase != PhaseDone {
		t.Errorf("Phase = %q, want %q", st.Phase, PhaseDone)
	}
}

func TestSessionManagerResume(t *testing.T) {
	m := NewSessionManager()
	snap := Snapshot{
		Topic:     "resumed topic",
		NextQuery: "follow-up query",
		State:     IterationState{Index: 1},
		Sources:   records(0, 1),
	}
	searcher := &scriptedSearcher{}
	c := newTestController(Config{MaxIterations: 3, TokenBudget: 1000}, searcher, nil)

	s := m.Resume(context.Background(), snap, c)
	if s.Topic != "resumed topic" {
		t.Errorf("Topic = %q, want the snapshot topic", s.Topic)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if searcher.queries[0] != "follow-up query" {
		t.Errorf("first query = %q, want the snapshot's next query", searcher.queries[0])
	}
	if len(result.Sources) != 1 {
		t.Errorf("sources = %d, want the snapshot source retained", len(result.Sources))
	}
	if st := s.Status(); st.Phase != PhaseDone {
		t.Errorf("Phase = %q, want %q", st.Phase, PhaseDone)
	}
}

func TestSessionResultBeforeCompletion(t *testing.T) {
	m := NewSessionManager()
	c := newTestController(Config{MaxIterations: 3, TokenBudget: 1000, CallTimeout: time.Second}, &blockingSearcher{}, nil)

	s := m.Start(context.Background(), "topic", c)
	if _, err := s.Result(); !errors.Is(err, ErrSessionRunning) {
		t.Errorf("Result() error = %v, want ErrSessionRunning", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestSessionManagerUnknownHandle(t *testing.T) {
	m := NewSessionManager()
	if _, err := m.Get(uuid.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	m := NewSessionManager()

	run := func(topic string) *Session {
		searcher := &scriptedSearcher{batches: [][]SearchResult{batch(0, 1)}}
		c := newTestController(Config{MaxIterations: 3, TokenBudget: 1000}, searcher, nil)
		return m.Start(context.Background(), topic, c)
	}

	a := run("topic a")
	b := run("topic b")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ra, err := a.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait(a) error = %v", err)
	}
	rb, err := b.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait(b) error = %v", err)
	}
	if ra.Topic != "topic a" || rb.Topic != "topic b" {
		t.Errorf("sessions leaked state: %q, %q", ra.Topic, rb.Topic)
	}
}
