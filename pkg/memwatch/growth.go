/*
Copyright 2025 The KServe Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package memwatch

// warmupFraction of the series is discarded before fitting. Early samples
// carry one-time allocations (connection pools, lazily built codecs) that
// would read as growth.
const warmupFraction = 0.2

// Growth summarizes how memory moved over a run. Per-iteration slopes are
// least-squares fits of bytes against iteration over the post-warmup
// samples; totals are last minus first post-warmup sample.
type Growth struct {
	Samples          int     `json:"samples"`
	Warmup           int     `json:"warmup"`
	HeapPerIteration float64 `json:"heap_bytes_per_iteration"`
	HeapTotalBytes   int64   `json:"heap_growth_bytes"`
	RSSPerIteration  float64 `json:"rss_bytes_per_iteration"`
	RSSTotalBytes    int64   `json:"rss_growth_bytes"`
	HasRSS           bool    `json:"has_rss"`
}

// EstimateGrowth fits the collected series. Fewer than two usable samples
// yield a zero estimate.
func EstimateGrowth(samples []Sample) Growth {
	g := Growth{Samples: len(samples)}
	if len(samples) < 2 {
		return g
	}
	warmup := int(float64(len(samples)) * warmupFraction)
	if len(samples)-warmup < 2 {
		warmup = 0
	}
	g.Warmup = warmup
	fit := samples[warmup:]
	xs := make([]float64, len(fit))
	heap := make([]float64, len(fit))
	rss := make([]float64, len(fit))
	for i, s := range fit {
		xs[i] = float64(s.Iteration)
		heap[i] = float64(s.HeapAllocBytes)
		rss[i] = float64(s.RSSBytes)
		if s.RSSBytes > 0 {
			g.HasRSS = true
		}
	}
	g.HeapPerIteration = slope(xs, heap)
	g.HeapTotalBytes = int64(fit[len(fit)-1].HeapAllocBytes) - int64(fit[0].HeapAllocBytes)
	if g.HasRSS {
		g.RSSPerIteration = slope(xs, rss)
		g.RSSTotalBytes = int64(fit[len(fit)-1].RSSBytes) - int64(fit[0].RSSBytes)
	}
	return g
}

// Exceeds reports whether the fitted per-iteration growth crosses limit
// bytes. RSS is authoritative when available; the heap slope alone misses
// growth outside the Go heap.
func (g Growth) Exceeds(limit float64) bool {
	if limit <= 0 || g.Samples < 2 {
		return false
	}
	if g.HasRSS {
		return g.RSSPerIteration > limit
	}
	return g.HeapPerIteration > limit
}

func slope(xs, ys []float64) float64 {
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / den
}
