package workflow

import "testing"

func TestGetOrCreateIsIdempotentPerItem(t *testing.T) {
	ps := NewProjectState("demo")
	a := ps.GetOrCreate("item-1")
	b := ps.GetOrCreate("item-1")
	if a != b {
		t.Fatal("expected the same backlog item pointer on repeated GetOrCreate")
	}
}

func TestTransitionAppendsHistory(t *testing.T) {
	ps := NewProjectState("demo")
	item := ps.GetOrCreate("item-1")
	item.Transition("in_dev")
	item.Transition("in_qa")
	item.Transition("done")

	want := []string{"in_dev", "in_qa", "done"}
	if len(item.History) != len(want) {
		t.Fatalf("got history %v", item.History)
	}
	for i, s := range want {
		if item.History[i] != s {
			t.Fatalf("history[%d]=%s, want %s", i, item.History[i], s)
		}
	}
	if item.Status != "done" {
		t.Fatalf("expected final status done, got %s", item.Status)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	ps := NewProjectState("demo")
	item := ps.GetOrCreate("item-1")
	item.Transition("done")

	snap := ps.Snapshot()
	snap["item-1"].History[0] = "mutated"
	if ps.GetOrCreate("item-1").History[0] != "done" {
		t.Fatal("expected Snapshot to return a deep copy, not aliased state")
	}
}
