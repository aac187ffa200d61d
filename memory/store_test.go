package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/PipeOpsHQ/sai/types"
)

func TestStore_WindowKeepsLastTurns(t *testing.T) {
	for _, capacity := range []int{1, 2, 3, 10} {
		s := New(capacity, true)
		var appended []string
		for i := 0; i < 25; i++ {
			content := fmt.Sprintf("turn-%d", i)
			s.Append(types.RoleUser, content)
			appended = append(appended, content)

			if s.Len() > capacity {
				t.Fatalf("capacity %d exceeded: %d", capacity, s.Len())
			}
			want := appended
			if len(want) > capacity {
				want = want[len(want)-capacity:]
			}
			var got []string
			for _, turn := range s.Snapshot() {
				got = append(got, turn.Content)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("capacity %d after %d appends (-want +got):\n%s", capacity, i+1, diff)
			}
		}
	}
}

func TestStore_ContextMapsRoles(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(4, true, WithClock(func() time.Time { return fixed }))
	s.Append(types.RoleUser, "hi")
	s.Append(types.RoleAssistant, "hello")

	want := []types.Message{
		{Role: types.RoleUser, Content: "hi"},
		{Role: types.RoleAssistant, Content: "hello"},
	}
	if diff := cmp.Diff(want, s.Context()); diff != "" {
		t.Fatalf("unexpected context (-want +got):\n%s", diff)
	}
	if got := s.Snapshot()[0].CreatedAt; !got.Equal(fixed) {
		t.Fatalf("unexpected timestamp %v", got)
	}
}

func TestStore_Disabled(t *testing.T) {
	s := New(3, true)
	s.Append(types.RoleUser, "kept")
	s.SetEnabled(false)
	s.Append(types.RoleUser, "dropped")

	if len(s.Snapshot()) != 0 || len(s.Context()) != 0 || s.Len() != 0 {
		t.Fatalf("disabled memory must expose nothing")
	}
	if kept := s.Retained(); len(kept) != 1 || kept[0].Content != "kept" {
		t.Fatalf("retained turns should survive disabling: %#v", kept)
	}
	if s.Capacity() != 3 {
		t.Fatalf("capacity should survive disabling, got %d", s.Capacity())
	}

	s.SetEnabled(true)
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Content != "kept" {
		t.Fatalf("unexpected snapshot after re-enable: %#v", snap)
	}
}

func TestStore_SetCapacityAppliesOnNextAppend(t *testing.T) {
	s := New(5, true)
	for i := 0; i < 5; i++ {
		s.Append(types.RoleUser, fmt.Sprint(i))
	}
	s.SetCapacity(2)
	if s.Len() != 5 {
		t.Fatalf("capacity change must not trim immediately, got %d", s.Len())
	}
	s.Append(types.RoleUser, "5")
	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].Content != "4" || snap[1].Content != "5" {
		t.Fatalf("unexpected window after shrink: %#v", snap)
	}
	s.SetCapacity(0)
	if s.Capacity() != 2 {
		t.Fatalf("non-positive capacity must be ignored")
	}
}

func TestStore_Clear(t *testing.T) {
	s := New(3, true)
	s.Append(types.RoleUser, "a")
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("expected empty store after clear")
	}
}
