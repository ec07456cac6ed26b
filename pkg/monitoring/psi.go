package monitoring

import (
	"math"
	"sort"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
)

// psiFloor keeps empty bins from producing infinite terms.
const psiFloor = 1e-4

// PSI is the population stability index between two share vectors of the
// same length.
func PSI(reference, current []float64) float64 {
	var s float64
	for i := range reference {
		r := math.Max(reference[i], psiFloor)
		c := math.Max(current[i], psiFloor)
		s += (c - r) * math.Log(c/r)
	}
	return s
}

// finite returns the non-null finite values of col.
func finite(col columnar.Column) []float64 {
	out := make([]float64, 0, col.Len())
	for i := 0; i < col.Len(); i++ {
		if col.IsNull(i) {
			continue
		}
		v := col.Float64(i)
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// quantileEdges returns the distinct inner cut points splitting sorted into
// bins groups of equal size.
func quantileEdges(sorted []float64, bins int) []float64 {
	if len(sorted) == 0 || bins < 2 {
		return nil
	}
	var edges []float64
	for k := 1; k < bins; k++ {
		v := sorted[(k*len(sorted))/bins]
		if len(edges) == 0 || v > edges[len(edges)-1] {
			edges = append(edges, v)
		}
	}
	return edges
}

// binShares returns the share of values falling in each of len(edges)+1
// bins. A value equal to an edge goes to the upper bin.
func binShares(values, edges []float64) []float64 {
	shares := make([]float64, len(edges)+1)
	if len(values) == 0 {
		return shares
	}
	for _, v := range values {
		shares[sort.SearchFloat64s(edges, math.Nextafter(v, math.Inf(1)))]++
	}
	for i := range shares {
		shares[i] /= float64(len(values))
	}
	return shares
}

// NumericPSI bins both samples on the reference quantiles.
func NumericPSI(reference, current columnar.Column, bins int) (float64, bool) {
	ref := finite(reference)
	cur := finite(current)
	if len(ref) == 0 || len(cur) == 0 {
		return 0, false
	}
	sort.Float64s(ref)
	edges := quantileEdges(ref, bins)
	return PSI(binShares(ref, edges), binShares(cur, edges)), true
}

// categoryCounts tallies non-null values by their text form.
func categoryCounts(col columnar.Column) (map[string]float64, int) {
	counts := make(map[string]float64)
	n := 0
	for i := 0; i < col.Len(); i++ {
		s, ok := col.Text(i)
		if !ok {
			continue
		}
		counts[s]++
		n++
	}
	return counts, n
}

// CategoricalPSI compares category shares over the union of observed
// categories.
func CategoricalPSI(reference, current columnar.Column) (float64, bool) {
	ref, nr := categoryCounts(reference)
	cur, nc := categoryCounts(current)
	if nr == 0 || nc == 0 {
		return 0, false
	}
	keys := make([]string, 0, len(ref)+len(cur))
	for k := range ref {
		keys = append(keys, k)
	}
	for k := range cur {
		if _, ok := ref[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	r := make([]float64, len(keys))
	c := make([]float64, len(keys))
	for i, k := range keys {
		r[i] = ref[k] / float64(nr)
		c[i] = cur[k] / float64(nc)
	}
	return PSI(r, c), true
}
