package filter

import (
	"errors"
	"math"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"
)

var (
	ErrInvalidFalsePositiveRate = errors.New("filter: false-positive rate must be in the open interval (0, 1)")
	ErrInvalidCapacity          = errors.New("filter: capacity must be positive")
	ErrInvalidSize              = errors.New("filter: computed cell count is not representable")
)

// ln2Squared is (ln 2)^2, the denominator of the optimal-size formula.
const ln2Squared = math.Ln2 * math.Ln2

// M returns the number of cells needed to hold capacity elements at a
// false-positive rate of fp:
//
//	m = ceil(-(n * ln p) / (ln 2)^2)
func M(fp float64, capacity uint64) (uint64, error) {
	if math.IsNaN(fp) || fp <= 0 || fp >= 1 {
		return 0, ErrInvalidFalsePositiveRate
	}
	if capacity == 0 {
		return 0, ErrInvalidCapacity
	}
	m := math.Ceil(-(float64(capacity) * math.Log(fp)) / ln2Squared)
	if math.IsNaN(m) || math.IsInf(m, 0) || m <= 0 || m >= math.MaxUint64 {
		return 0, ErrInvalidSize
	}
	return uint64(m), nil
}

// K returns the optimal number of hash functions for a vector of cells
// holding capacity elements:
//
//	k = ceil((m / n) * ln 2)
//
// The result is at least 1. A zero capacity yields 1.
func K(cells, capacity uint64) uint64 {
	if capacity == 0 {
		return 1
	}
	k := math.Ceil(float64(cells) / float64(capacity) * math.Ln2)
	if k < 1 {
		return 1
	}
	return uint64(k)
}

// FalsePositiveRate is the analytic false-positive probability of a filter
// with the given cells and k after n insertions: (1 - e^(-kn/m))^k.
func FalsePositiveRate(cells uint64, k int, n uint64) float64 {
	if cells == 0 {
		return 1
	}
	return math.Pow(1-math.Exp(-float64(k)*float64(n)/float64(cells)), float64(k))
}

// EmpiricalFalsePositiveRate measures the false-positive rate of a reference
// filter with the same cells and k after n insertions. It allocates a full
// filter and runs many lookups, so keep it off hot paths.
func EmpiricalFalsePositiveRate(cells uint64, k int, n uint64) float64 {
	return bitsbloom.EstimateFalsePositiveRate(uint(cells), uint(k), uint(n))
}

// padCells rounds cells up to the next multiple of k so every hash function
// owns an equal slice.
func padCells(cells, k uint64) uint64 {
	if r := cells % k; r != 0 {
		cells += k - r
	}
	return cells
}
