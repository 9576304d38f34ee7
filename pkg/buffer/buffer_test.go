package buffer

import "testing"

type testMsg struct {
	idx uint64
}

func (m testMsg) Index() uint64 { return m.idx }

func indices(msgs []Indexed) []uint64 {
	out := make([]uint64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Index()
	}
	return out
}

func equalIndices(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestInOrderDeliveryPassesThrough(t *testing.T) {
	b := New()
	for i := uint64(0); i < 3; i++ {
		ready := b.Deliver(testMsg{idx: i})
		if !equalIndices(indices(ready), []uint64{i}) {
			t.Fatalf("index %d: got %v", i, indices(ready))
		}
	}
}

func TestOutOfOrderDeliveryBuffersUntilGapCloses(t *testing.T) {
	b := New()

	ready := b.Deliver(testMsg{idx: 1})
	if len(ready) != 0 {
		t.Fatalf("expected index 1 to be withheld, got %v", indices(ready))
	}
	if b.Pending() != 1 {
		t.Fatalf("expected 1 pending message, got %d", b.Pending())
	}

	ready = b.Deliver(testMsg{idx: 0})
	if !equalIndices(indices(ready), []uint64{0, 1}) {
		t.Fatalf("expected [0 1], got %v", indices(ready))
	}
	if b.Pending() != 0 {
		t.Fatalf("expected buffer drained, got %d pending", b.Pending())
	}
}

func TestDuplicateIndexIsDropped(t *testing.T) {
	b := New()
	b.Deliver(testMsg{idx: 0})
	ready := b.Deliver(testMsg{idx: 0})
	if len(ready) != 0 {
		t.Fatalf("expected duplicate to be dropped, got %v", indices(ready))
	}
	if b.NextExpected() != 1 {
		t.Fatalf("expected cursor at 1, got %d", b.NextExpected())
	}
}

func TestGapThatNeverClosesStallsBuffer(t *testing.T) {
	b := New()
	b.Deliver(testMsg{idx: 2})
	b.Deliver(testMsg{idx: 3})
	if b.NextExpected() != 0 {
		t.Fatalf("expected cursor to remain at 0, got %d", b.NextExpected())
	}
	if b.Pending() != 2 {
		t.Fatalf("expected 2 pending messages, got %d", b.Pending())
	}
}

func TestPermutationsProduceSameOrder(t *testing.T) {
	permutations := [][]uint64{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{1, 0, 3, 2},
		{2, 3, 0, 1},
	}

	for _, order := range permutations {
		b := New()
		var got []uint64
		for _, idx := range order {
			ready := b.Deliver(testMsg{idx: idx})
			got = append(got, indices(ready)...)
		}
		if !equalIndices(got, []uint64{0, 1, 2, 3}) {
			t.Fatalf("order %v: delivered %v, want [0 1 2 3]", order, got)
		}
	}
}
