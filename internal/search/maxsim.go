package search

import "math"

// Similarity metrics for scoring. These must match the operator the ANN
// index was built with so candidate ranking and exact rescoring agree.
const (
	MetricDot    = "dot"
	MetricCosine = "cosine"
)

// lateInteraction is the MaxSim score: for every query vector take its best
// match among the page's patch vectors, then sum those maxima.
func lateInteraction(queryVecs, pageVecs [][]float32, metric string) float64 {
	if len(queryVecs) == 0 || len(pageVecs) == 0 {
		return 0
	}

	sim := dot
	if metric == MetricCosine {
		sim = cosine
	}

	var total float64
	for _, q := range queryVecs {
		best := math.Inf(-1)
		for _, v := range pageVecs {
			if s := sim(q, v); s > best {
				best = s
			}
		}
		total += best
	}
	return total
}

// normalize maps a raw late-interaction score into a roughly comparable
// 0..1 range by dividing by the query vector count plus a constant offset.
func normalize(raw float64, numQueryVecs int) float64 {
	return raw / float64(numQueryVecs+12)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum, na, nb float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return sum / (math.Sqrt(na) * math.Sqrt(nb))
}
