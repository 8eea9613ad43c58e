package memory

import (
	"context"
	"testing"

	"github.com/mikeboe/research-agent/pkg/research"
)

func TestStoreResultEmptySession(t *testing.T) {
	// A session that kept no sources should not touch the embedder or
	// the database at all.
	bank := NewBank(nil, nil, nil)

	err := bank.StoreResult(context.Background(), &research.Result{
		Topic:      "empty topic",
		StopReason: research.StopNoNewSources,
	})
	if err != nil {
		t.Fatalf("StoreResult() on empty result: %v", err)
	}
}
