package billing

import "testing"

func TestRefCounterMintsDescending(t *testing.T) {
	ctr := newRefCounter()
	a := ctr.mint()
	b := ctr.mint()
	c := ctr.mint()

	if a.Int64() != -1 || b.Int64() != -2 || c.Int64() != -3 {
		t.Fatalf("expected -1,-2,-3 got %d,%d,%d", a.Int64(), b.Int64(), c.Int64())
	}
	if !a.IsTransient() || a.IsPersisted() {
		t.Error("minted ref should be transient")
	}
}

func TestServiceRefClamped(t *testing.T) {
	if got := TransientRef(3).Clamped(); got != 0 {
		t.Errorf("transient ref should clamp to 0, got %d", got)
	}
	if got := PersistedRef(42).Clamped(); got != 42 {
		t.Errorf("persisted ref should keep its value, got %d", got)
	}
	if got := (ServiceRef{}).Clamped(); got != 0 {
		t.Errorf("zero ref should clamp to 0, got %d", got)
	}
}

func TestServiceRefOrdering(t *testing.T) {
	// -1 sorts after -2 numerically, which puts the first-minted line
	// first when sorting descending.
	first := TransientRef(1)
	second := TransientRef(2)
	if !second.Less(first) {
		t.Error("second minted ref should be numerically smaller")
	}
}

func TestRefFromInt64RoundTrip(t *testing.T) {
	for _, v := range []int64{-5, 0, 7} {
		if got := RefFromInt64(v).Int64(); got != v {
			t.Errorf("round trip of %d gave %d", v, got)
		}
	}
}
