package estimator

import (
	"fmt"
	"math"
	"testing"
)

// Relative standard error for m=64 is about 1.04/sqrt(64) = 13%. Tests
// allow three times that, plus a small absolute floor for tiny counts
// where linear counting quantizes.
func tolerance(n uint64) float64 {
	return math.Max(8, float64(n)*0.39)
}

func TestCountAccuracy(t *testing.T) {
	for _, n := range []uint64{0, 1, 5, 50, 500, 5_000, 20_000, 100_000} {
		s := New()
		for i := uint64(0); i < n; i++ {
			s.Add(fmt.Sprintf("visitor-%d", i))
		}
		got := s.Count()
		if diff := math.Abs(float64(got) - float64(n)); n > 0 && diff > tolerance(n) {
			t.Errorf("Count() after %d adds = %d, off by %.0f (tolerance %.0f)", n, got, diff, tolerance(n))
		}
		if n == 0 && got != 0 {
			t.Errorf("Count() of empty sketch = %d, want 0", got)
		}
	}
}

func TestAddIsIdempotent(t *testing.T) {
	s := New()
	for i := 0; i < 100; i++ {
		s.Add("same-visitor")
	}
	if got := s.Count(); got != 1 {
		t.Errorf("Count() after repeated adds of one value = %d, want 1", got)
	}
}

func TestMergeCommutative(t *testing.T) {
	a, b := New(), New()
	for i := 0; i < 3_000; i++ {
		a.Add(fmt.Sprintf("a-%d", i))
		b.Add(fmt.Sprintf("b-%d", i))
	}
	// Overlap: half of b's values also go into a.
	for i := 0; i < 1_500; i++ {
		a.Add(fmt.Sprintf("b-%d", i))
	}

	ab := a.Clone()
	ab.Merge(b)
	ba := b.Clone()
	ba.Merge(a)

	if ab.registers != ba.registers {
		t.Fatal("merge(a,b) and merge(b,a) produced different register state")
	}

	const union = 6_000 // 3000 + 3000 distinct, overlap does not add
	got := ab.Count()
	if diff := math.Abs(float64(got) - union); diff > tolerance(union) {
		t.Errorf("merged Count() = %d, off by %.0f from union %d", got, diff, union)
	}
}

func TestMergeIdempotent(t *testing.T) {
	a, b := New(), New()
	for i := 0; i < 1_000; i++ {
		b.Add(fmt.Sprintf("v-%d", i))
	}
	a.Merge(b)
	once := a.Count()
	a.Merge(b)
	if got := a.Count(); got != once {
		t.Errorf("second merge of identical sketch changed Count() from %d to %d", once, got)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	s := New()
	for i := 0; i < 10_000; i++ {
		s.Add(fmt.Sprintf("visitor-%d", i))
	}

	encoded := s.Serialize()
	restored, err := Deserialize(encoded)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if restored.registers != s.registers {
		t.Fatal("round-tripped sketch has different register state")
	}
	if restored.Count() != s.Count() {
		t.Errorf("round-tripped Count() = %d, want %d", restored.Count(), s.Count())
	}

	// Encoding length is fixed, it must not depend on contents.
	if empty := New().Serialize(); len(empty) != len(encoded) {
		t.Errorf("serialized length varies: empty=%d populated=%d", len(empty), len(encoded))
	}
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	if _, err := Deserialize("not base64!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := Deserialize("AAAA"); err == nil {
		t.Error("expected error for wrong register count")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := New()
	a.Add("one")
	c := a.Clone()
	c.Add("two")
	c.Add("three")
	if a.Count() != 1 {
		t.Errorf("mutating a clone changed the original: Count() = %d, want 1", a.Count())
	}
}
