package filter

import (
	"errors"
	"math"
	"testing"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"
)

func TestM_MatchesFormula(t *testing.T) {
	m, err := M(0.01, 1000)
	if err != nil {
		t.Fatalf("M: %v", err)
	}
	want := uint64(math.Ceil(-(1000 * math.Log(0.01)) / (math.Ln2 * math.Ln2)))
	if m != want {
		t.Fatalf("M(0.01, 1000) = %d, want %d", m, want)
	}
	if m != 9586 {
		t.Fatalf("M(0.01, 1000) = %d, want 9586", m)
	}
}

func TestK_CommonCases(t *testing.T) {
	if k := K(9586, 1000); k != 7 {
		t.Fatalf("K(9586, 1000) = %d, want 7", k)
	}
	// tiny ratio still yields one function
	if k := K(1, 1_000_000); k != 1 {
		t.Fatalf("K(1, 1e6) = %d, want 1", k)
	}
	if k := K(100, 0); k != 1 {
		t.Fatalf("K(100, 0) = %d, want 1", k)
	}
}

// Our sizing must agree with the reference library's estimator, which uses
// the same ceil-based formulas.
func TestSizing_AgreesWithReferenceEstimator(t *testing.T) {
	cases := []struct {
		n uint64
		p float64
	}{
		{1, 0.01},
		{1000, 0.01},
		{10_000, 0.001},
		{1_000_000, 0.05},
	}
	for _, c := range cases {
		m, err := M(c.p, c.n)
		if err != nil {
			t.Fatalf("M(%v, %d): %v", c.p, c.n, err)
		}
		k := K(m, c.n)
		rm, rk := bitsbloom.EstimateParameters(uint(c.n), c.p)
		if uint64(rm) != m || uint64(rk) != k {
			t.Errorf("n=%d p=%v: got m=%d k=%d, reference m=%d k=%d", c.n, c.p, m, k, rm, rk)
		}
	}
}

func TestM_Monotonic(t *testing.T) {
	const capacity = 5000
	prev := uint64(0)
	for _, fp := range []float64{0.5, 0.2, 0.1, 0.05, 0.01, 0.001, 1e-6, 1e-9} {
		m, err := M(fp, capacity)
		if err != nil {
			t.Fatalf("M(%v): %v", fp, err)
		}
		if m < prev {
			t.Fatalf("M decreased from %d to %d at fp=%v", prev, m, fp)
		}
		prev = m
	}
}

func TestM_InvalidInputs(t *testing.T) {
	tests := []struct {
		name     string
		fp       float64
		capacity uint64
		want     error
	}{
		{"zero fp", 0, 10, ErrInvalidFalsePositiveRate},
		{"negative fp", -0.1, 10, ErrInvalidFalsePositiveRate},
		{"fp one", 1, 10, ErrInvalidFalsePositiveRate},
		{"fp above one", 1.5, 10, ErrInvalidFalsePositiveRate},
		{"nan fp", math.NaN(), 10, ErrInvalidFalsePositiveRate},
		{"zero capacity", 0.01, 0, ErrInvalidCapacity},
		{"overflow", 1e-300, math.MaxUint64, ErrInvalidSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := M(tt.fp, tt.capacity)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestFalsePositiveRate(t *testing.T) {
	// At the optimal parameters the analytic rate is close to the target.
	p := FalsePositiveRate(9586, 7, 1000)
	if p <= 0 || p > 0.011 {
		t.Fatalf("analytic rate %v not near 0.01", p)
	}
	if FalsePositiveRate(0, 3, 10) != 1 {
		t.Fatalf("empty vector should always report a false positive")
	}
	if FalsePositiveRate(100, 3, 0) != 0 {
		t.Fatalf("empty filter should never report a false positive")
	}
}

func TestPadCells(t *testing.T) {
	cases := []struct{ cells, k, want uint64 }{
		{10, 3, 12},
		{9, 3, 9},
		{1, 7, 7},
		{9586, 7, 9590},
	}
	for _, c := range cases {
		if got := padCells(c.cells, c.k); got != c.want {
			t.Errorf("padCells(%d, %d) = %d, want %d", c.cells, c.k, got, c.want)
		}
	}
}
