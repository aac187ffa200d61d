package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/PipeOpsHQ/sai/chain"
	"github.com/PipeOpsHQ/sai/state"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestSQLiteStore_SettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.LoadSettings(ctx, "sess-1"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := state.SettingsRecord{
		SessionID:     "sess-1",
		Model:         "gemini-1.5-flash",
		Temperature:   0.4,
		MaxTokens:     512,
		TopP:          0.8,
		TopK:          10,
		MemoryEnabled: false,
		MemoryWindow:  6,
		UpdatedAt:     now,
	}
	if err := s.SaveSettings(ctx, rec); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}
	rec.Temperature = 1.1
	if err := s.SaveSettings(ctx, rec); err != nil {
		t.Fatalf("SaveSettings upsert failed: %v", err)
	}

	got, err := s.LoadSettings(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Fatalf("settings mismatch (-want +got):\n%s", diff)
	}

	if err := s.SaveSettings(ctx, state.SettingsRecord{}); !errors.Is(err, state.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestSQLiteStore_Templates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for _, name := range []string{"zeta", "alpha"} {
		tpl := chain.Template{Name: name, Steps: []string{"Summarize", "Translate"}, CreatedAt: created}
		if err := s.SaveTemplate(ctx, tpl); err != nil {
			t.Fatalf("SaveTemplate failed: %v", err)
		}
	}
	list, err := s.ListTemplates(ctx)
	if err != nil {
		t.Fatalf("ListTemplates failed: %v", err)
	}
	if len(list) != 2 || list[0].Name != "alpha" {
		t.Fatalf("unexpected template list: %#v", list)
	}

	got, err := s.LoadTemplate(ctx, "zeta")
	if err != nil {
		t.Fatalf("LoadTemplate failed: %v", err)
	}
	want := chain.Template{Name: "zeta", Steps: []string{"Summarize", "Translate"}, CreatedAt: created}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("template mismatch (-want +got):\n%s", diff)
	}

	if err := s.DeleteTemplate(ctx, "zeta"); err != nil {
		t.Fatalf("DeleteTemplate failed: %v", err)
	}
	if err := s.DeleteTemplate(ctx, "zeta"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := s.SaveTemplate(ctx, chain.Template{Name: "bad"}); !errors.Is(err, state.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for empty template, got %v", err)
	}
}

func TestSQLiteStore_ChainRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		run := chain.Run{
			ID:           id,
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
			Instructions: []string{"Summarize"},
			InitialInput: "text",
			Steps:        []chain.Step{{Index: 1, Instruction: "Summarize", Input: "text", Output: "sum-" + id}},
			FinalOutput:  "sum-" + id,
		}
		session := "sess-1"
		if id == "r3" {
			session = "sess-2"
		}
		if err := s.SaveChainRun(ctx, state.ChainRunRecord{SessionID: session, Run: run}); err != nil {
			t.Fatalf("SaveChainRun failed: %v", err)
		}
	}

	runs, err := s.ListChainRuns(ctx, state.ListChainRunsQuery{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("ListChainRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].Run.ID != "r2" || runs[1].Run.ID != "r1" {
		t.Fatalf("unexpected runs: %#v", runs)
	}
	if diff := cmp.Diff([]chain.Step{{Index: 1, Instruction: "Summarize", Input: "text", Output: "sum-r2"}}, runs[0].Run.Steps); diff != "" {
		t.Fatalf("steps mismatch (-want +got):\n%s", diff)
	}

	all, err := s.ListChainRuns(ctx, state.ListChainRunsQuery{Limit: 1})
	if err != nil {
		t.Fatalf("ListChainRuns failed: %v", err)
	}
	if len(all) != 1 || all[0].Run.ID != "r3" {
		t.Fatalf("unexpected limited list: %#v", all)
	}
}
