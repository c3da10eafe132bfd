// Package kmeans implements Lloyd's algorithm with k-means++
// initialization (spec §4.3), shared by IVF training and PQ codebook
// training. Grounded on the teacher's internal/quantization/utils.go
// KMeansPlusPlus, generalized to the spec's exact convergence rule and
// empty-cluster policy, and to the spec's (vectors []Vector, k, maxIter,
// metric) signature rather than the teacher's QuantizationConfig struct.
package kmeans

import (
	"math/rand"
	"sync"

	"github.com/therealutkarshpriyadarshi/vectordb/internal/vector"
	"github.com/therealutkarshpriyadarshi/vectordb/pkg/errs"
)

// Result holds the outcome of Fit.
type Result struct {
	Centroids   []vector.Vector
	Assignments []int // cluster id per input vector, in [0, k)
}

// stableRounds is the number of consecutive iterations the spec requires
// the sampled-assignment prefix to stay unchanged before declaring
// convergence.
const stableRounds = 6

// samplePrefix bounds how many assignments are compared each iteration.
const samplePrefix = 1000

// Fit runs k-means++ initialization followed by Lloyd iteration.
// Precondition: len(vectors) >= k, otherwise errs.InvalidParameter.
func Fit(vectors []vector.Vector, k int, maxIter int, metric vector.Metric, rng *rand.Rand) (Result, error) {
	n := len(vectors)
	if n < k {
		return Result{}, errs.InvalidParameter("kmeans: need at least k=%d vectors, got %d", k, n)
	}
	if k <= 0 {
		return Result{}, errs.InvalidParameter("kmeans: k must be positive, got %d", k)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	centroids := initPlusPlus(vectors, k, metric, rng)
	assignments := make([]int, n)
	prevPrefix := make([]int, 0, samplePrefix)
	stable := 0

	for iter := 0; iter < maxIter; iter++ {
		assign(vectors, centroids, metric, assignments)
		update(vectors, assignments, centroids, rng)

		limit := n
		if limit > samplePrefix {
			limit = samplePrefix
		}
		prefix := assignments[:limit]

		if samePrefix(prevPrefix, prefix) {
			stable++
			if stable >= stableRounds {
				break
			}
		} else {
			stable = 0
		}
		prevPrefix = append(prevPrefix[:0], prefix...)
	}

	return Result{Centroids: centroids, Assignments: assignments}, nil
}

func samePrefix(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// initPlusPlus picks the first centroid uniformly at random, then samples
// each subsequent centroid proportional to its squared distance to the
// nearest already-chosen centroid (roulette-wheel selection).
func initPlusPlus(vectors []vector.Vector, k int, metric vector.Metric, rng *rand.Rand) []vector.Vector {
	n := len(vectors)
	centroids := make([]vector.Vector, 0, k)
	first := vectors[rng.Intn(n)]
	centroids = append(centroids, cloneVec(first))

	minDist := make([]float32, n)
	for i, v := range vectors {
		minDist[i] = vector.Distance(v, centroids[0], metric)
	}

	for len(centroids) < k {
		var total float64
		for _, d := range minDist {
			total += float64(d)
		}

		var next vector.Vector
		if total == 0 {
			next = vectors[rng.Intn(n)]
		} else {
			target := rng.Float64() * total
			var cum float64
			idx := n - 1
			for i, d := range minDist {
				cum += float64(d)
				if cum >= target {
					idx = i
					break
				}
			}
			next = vectors[idx]
		}
		centroids = append(centroids, cloneVec(next))

		last := centroids[len(centroids)-1]
		for i, v := range vectors {
			d := vector.Distance(v, last, metric)
			if d < minDist[i] {
				minDist[i] = d
			}
		}
	}

	return centroids
}

// assign performs the parallel nearest-centroid assignment step using a
// fixed worker pool, grounded on the teacher's pkg/hnsw/batch.go
// channel-based BatchInsert pattern.
func assign(vectors []vector.Vector, centroids []vector.Vector, metric vector.Metric, out []int) {
	n := len(vectors)
	workers := 8
	if n < workers {
		workers = 1
		if n > 0 {
			workers = n
		}
	}

	jobs := make(chan int, n)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				best := 0
				bestDist := vector.Distance(vectors[i], centroids[0], metric)
				for c := 1; c < len(centroids); c++ {
					d := vector.Distance(vectors[i], centroids[c], metric)
					if vector.Less(d, bestDist) {
						bestDist = d
						best = c
					}
				}
				out[i] = best
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

// update recomputes each centroid as the mean of its assigned vectors.
// Empty clusters are reinitialized to a random dataset vector, per spec
// §4.3 step 3 (the teacher instead keeps the stale centroid unchanged).
func update(vectors []vector.Vector, assignments []int, centroids []vector.Vector, rng *rand.Rand) {
	k := len(centroids)
	dim := len(centroids[0])

	sums := make([][]float64, k)
	counts := make([]int, k)
	for c := range sums {
		sums[c] = make([]float64, dim)
	}

	for i, v := range vectors {
		c := assignments[i]
		counts[c]++
		for d := 0; d < dim; d++ {
			sums[c][d] += float64(v[d])
		}
	}

	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			centroids[c] = cloneVec(vectors[rng.Intn(len(vectors))])
			continue
		}
		mean := make(vector.Vector, dim)
		for d := 0; d < dim; d++ {
			mean[d] = float32(sums[c][d] / float64(counts[c]))
		}
		centroids[c] = mean
	}
}

func cloneVec(v vector.Vector) vector.Vector {
	out := make(vector.Vector, len(v))
	copy(out, v)
	return out
}
