package hnsw

import (
	"math"

	"github.com/graphcore/engine/internal/config"
)

// distance returns the configured metric's distance between a and b;
// smaller is closer for both metrics (cosine is converted to 1-sim).
func (g *Graph) distance(a, b []float32) float32 {
	switch g.metric {
	case config.Euclidean:
		return euclidean(a, b)
	default:
		return 1 - cosine(a, b)
	}
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func euclidean(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}
