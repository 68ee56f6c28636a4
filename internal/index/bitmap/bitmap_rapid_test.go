package bitmap

import (
	"sort"
	"testing"

	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// TestLabelIndexMatchesReferenceSetModel checks the bitmap index against
// a plain map[uint64]bool reference model under an arbitrary sequence of
// Add/Remove calls: whatever the model says is a member of labelID, the
// index's Iterator must report exactly that set, in sorted order.
func TestLabelIndexMatchesReferenceSetModel(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		idx, err := Open(t.TempDir(), zap.NewNop())
		if err != nil {
			rt.Fatal(err)
		}

		const labelID = uint32(1)
		model := map[uint64]bool{}

		n := rapid.IntRange(1, 200).Draw(rt, "n")
		for i := 0; i < n; i++ {
			id := rapid.Uint64Range(0, 64).Draw(rt, "id")
			if rapid.Bool().Draw(rt, "add") {
				idx.Add(labelID, id)
				model[id] = true
			} else {
				idx.Remove(labelID, id)
				delete(model, id)
			}
		}

		var want []uint64
		for id, present := range model {
			if present {
				want = append(want, id)
			}
		}
		sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

		got := idx.Iterator(labelID)
		if len(got) != len(want) {
			rt.Fatalf("cardinality mismatch: got %v want %v", got, want)
		}
		for i := range got {
			if got[i] != want[i] {
				rt.Fatalf("iterator mismatch at %d: got %v want %v", i, got, want)
			}
		}
		if idx.Cardinality(labelID) != uint64(len(want)) {
			rt.Fatalf("cardinality %d != len(want) %d", idx.Cardinality(labelID), len(want))
		}
	})
}

// TestLabelIndexFlushReloadRoundTrips checks that persisting a bitmap to
// disk and reopening the index (as engine.Open does at boot) reproduces
// the exact same member set — the on-disk roaring serialization round
// trip spec §4.6 relies on for "lazy index load".
func TestLabelIndexFlushReloadRoundTrips(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dir := t.TempDir()
		idx, err := Open(dir, zap.NewNop())
		if err != nil {
			rt.Fatal(err)
		}

		const labelID = uint32(7)
		members := map[uint64]bool{}
		n := rapid.IntRange(0, 100).Draw(rt, "n")
		for i := 0; i < n; i++ {
			members[rapid.Uint64Range(0, 500).Draw(rt, "id")] = true
		}
		for id := range members {
			idx.Add(labelID, id)
		}
		if err := idx.Flush(); err != nil {
			rt.Fatal(err)
		}

		reopened, err := Open(dir, zap.NewNop())
		if err != nil {
			rt.Fatal(err)
		}

		var want []uint64
		for id := range members {
			want = append(want, id)
		}
		sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
		got := reopened.Iterator(labelID)
		if len(got) != len(want) {
			rt.Fatalf("reload cardinality mismatch: got %d want %d", len(got), len(want))
		}
		for i := range got {
			if got[i] != want[i] {
				rt.Fatalf("reload mismatch at %d: got %v want %v", i, got, want)
			}
		}
	})
}
