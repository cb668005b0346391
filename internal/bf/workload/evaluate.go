package workload

import (
	"bufio"
	"fmt"
	"io"

	"github.com/haukened/bf/internal/bf/filter"
)

// Tally counts lookup outcomes against ground truth.
type Tally struct {
	TN, TP, FP, FN uint64
}

// FalsePositiveRate is FP / (FP + TN), or 0 with no negatives.
func (t Tally) FalsePositiveRate() float64 {
	if t.FP+t.TN == 0 {
		return 0
	}
	return float64(t.FP) / float64(t.FP+t.TN)
}

// Record classifies one lookup result c for an element inserted g times.
func (t *Tally) Record(g, c uint64) {
	switch {
	case c == 0 && g == 0:
		t.TN++
	case c == g:
		t.TP++
	case c > g:
		t.FP++
	default:
		t.FN++
	}
}

// Header is the first line of an evaluation report.
const Header = "TN TP FP FN G C E"

// Evaluate looks up every query in f and writes a report to w: Header, then
// one line per query with the running tallies, the ground truth, the filter's
// count and the element.
func Evaluate(f filter.BloomFilter, queries []Query, w io.Writer) (Tally, error) {
	bw := bufio.NewWriter(w)
	var t Tally
	if _, err := fmt.Fprintln(bw, Header); err != nil {
		return t, err
	}
	for _, q := range queries {
		c := f.Lookup(q.Object)
		t.Record(q.Truth, c)
		if _, err := fmt.Fprintf(bw, "%d %d %d %d %d %d %s\n", t.TN, t.TP, t.FP, t.FN, q.Truth, c, q.Element); err != nil {
			return t, err
		}
	}
	return t, bw.Flush()
}
