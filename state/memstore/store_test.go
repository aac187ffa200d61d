package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/PipeOpsHQ/sai/chain"
	"github.com/PipeOpsHQ/sai/state"
)

var _ state.Store = (*Store)(nil)

func TestStore_ChainRunsNewestFirstWithPaging(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, id := range []string{"r1", "r2", "r3"} {
		if err := s.SaveChainRun(ctx, state.ChainRunRecord{SessionID: "s", Run: chain.Run{ID: id}}); err != nil {
			t.Fatalf("SaveChainRun failed: %v", err)
		}
	}
	runs, _ := s.ListChainRuns(ctx, state.ListChainRunsQuery{Offset: 1, Limit: 1})
	if len(runs) != 1 || runs[0].Run.ID != "r2" {
		t.Fatalf("unexpected page: %#v", runs)
	}
}

func TestStore_FailWrites(t *testing.T) {
	s := New()
	s.FailWrites = true
	err := s.SaveTemplate(context.Background(), chain.Template{Name: "t", Steps: []string{"a"}})
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("expected ErrWriteFailed, got %v", err)
	}
	if _, err := s.LoadTemplate(context.Background(), "t"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
