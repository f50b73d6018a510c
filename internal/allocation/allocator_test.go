package allocation

import (
	"math"
	"testing"
)

func TestAllocate_ProportionalSplit(t *testing.T) {
	got := Allocate(map[string]float64{"A": 10, "B": 30, "C": 60})
	want := map[string]float64{"A": 10.0, "B": 30.0, "C": 60.0}
	for id, pct := range want {
		if got[id] != pct {
			t.Fatalf("allocation[%s] = %v, want %v", id, got[id], pct)
		}
	}
}

func TestAllocate_ZeroTotalFallsBackToEqualSplit(t *testing.T) {
	got := Allocate(map[string]float64{"a": 0, "b": 0, "c": 0, "d": 0})
	for id, pct := range got {
		if pct != 25.0 {
			t.Fatalf("allocation[%s] = %v, want 25.0", id, pct)
		}
	}
}

func TestAllocate_EmptySet(t *testing.T) {
	if got := Allocate(nil); len(got) != 0 {
		t.Fatalf("allocation of empty set = %v, want empty", got)
	}
}

func TestAllocate_SumsToHundredWithinRoundingResidue(t *testing.T) {
	tests := []struct {
		name   string
		scores map[string]float64
	}{
		{"even", map[string]float64{"a": 1, "b": 1, "c": 1}},
		{"skewed", map[string]float64{"a": 1, "b": 999, "c": 0.001}},
		{"seven ways", map[string]float64{"a": 3, "b": 11, "c": 5, "d": 7, "e": 2, "f": 13, "g": 17}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Allocate(tt.scores)
			sum := 0.0
			for id, pct := range got {
				if pct < 0 {
					t.Fatalf("allocation[%s] = %v, want >= 0", id, pct)
				}
				sum += pct
			}
			epsilon := 0.01 * float64(len(tt.scores))
			if math.Abs(sum-100) > epsilon {
				t.Fatalf("sum = %v, want 100 within %v", sum, epsilon)
			}
		})
	}
}
