package ke

import (
	"math/rand"
	"testing"
)

func TestAffinitySetClearGet(t *testing.T) {
	a := NewAffinity(130)
	a.Set(0)
	a.Set(64)
	a.Set(129)

	for _, bit := range []uint32{0, 64, 129} {
		if !a.Get(bit) {
			t.Errorf("bit %d should be set", bit)
		}
	}
	a.Clear(64)
	if a.Get(64) {
		t.Error("bit 64 should be cleared")
	}
}

func TestAffinityFirstSetFirstClear(t *testing.T) {
	a := NewAffinity(8)
	if got := a.FirstSet(); got != AffinityNone {
		t.Fatalf("FirstSet() on empty mask = %d, want AffinityNone", got)
	}
	if got := a.FirstClear(); got != 0 {
		t.Fatalf("FirstClear() on empty mask = %d, want 0", got)
	}

	a.Set(3)
	if got := a.FirstSet(); got != 3 {
		t.Errorf("FirstSet() = %d, want 3", got)
	}

	for i := uint32(0); i < 8; i++ {
		if i != 3 {
			a.Set(i)
		}
	}
	if got := a.FirstClear(); got != AffinityNone {
		t.Errorf("FirstClear() on full mask = %d, want AffinityNone", got)
	}
}

// TestAffinityMatchesNaiveBoolVector checks the property from the
// specification's testable-properties list: any sequence of
// set/clear/get_first_set/get_first_clear matches a naive []bool model.
func TestAffinityMatchesNaiveBoolVector(t *testing.T) {
	const n = 200
	a := NewAffinity(n)
	naive := make([]bool, n)

	naiveFirstSet := func() uint32 {
		for i, v := range naive {
			if v {
				return uint32(i)
			}
		}
		return AffinityNone
	}
	naiveFirstClear := func() uint32 {
		for i, v := range naive {
			if !v {
				return uint32(i)
			}
		}
		return AffinityNone
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		bit := uint32(rng.Intn(n))
		switch rng.Intn(4) {
		case 0:
			a.Set(bit)
			naive[bit] = true
		case 1:
			a.Clear(bit)
			naive[bit] = false
		case 2:
			if got, want := a.FirstSet(), naiveFirstSet(); got != want {
				t.Fatalf("FirstSet() = %d, want %d at step %d", got, want, i)
			}
		case 3:
			if got, want := a.FirstClear(), naiveFirstClear(); got != want {
				t.Fatalf("FirstClear() = %d, want %d at step %d", got, want, i)
			}
		}
		if a.Get(bit) != naive[bit] {
			t.Fatalf("Get(%d) = %v, want %v at step %d", bit, a.Get(bit), naive[bit], i)
		}
	}
}
