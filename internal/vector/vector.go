// Package vector holds the fixed-length float32 vector type and the
// distance metrics shared by every index. Grounded on the teacher's
// pkg/hnsw/distance.go and internal/quantization/utils.go, which both
// hand-roll squared-euclidean and cosine distance; this package merges the
// two into one implementation and adds the spec's NaN/+-Inf sentinel
// policy, which neither teacher file has.
package vector

import (
	"math"

	"github.com/therealutkarshpriyadarshi/vectordb/pkg/errs"
)

// Vector is an immutable ordered sequence of float32s. Equality is bitwise
// on the underlying slice.
type Vector []float32

// Equal reports bitwise equality.
func (v Vector) Equal(o Vector) bool {
	if len(v) != len(o) {
		return false
	}
	for i := range v {
		if v[i] != o[i] {
			return false
		}
	}
	return true
}

// Metric names a supported distance function.
type Metric int

const (
	Euclidean Metric = iota // squared Euclidean, no sqrt
	Cosine
)

func (m Metric) String() string {
	switch m {
	case Euclidean:
		return "euclidean"
	case Cosine:
		return "cosine"
	default:
		return "unknown"
	}
}

// ParseMetric parses the spec's wire form ("euclidean" | "cosine").
// Supplemental to spec.md, grounded on original_source/src/types/metric.rs.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "euclidean":
		return Euclidean, nil
	case "cosine":
		return Cosine, nil
	default:
		return 0, errs.InvalidArgument("unknown distance metric %q", s)
	}
}

// sentinel is substituted for any NaN or +-Inf distance so that invalid
// candidates sort last without aborting the computation (spec §4.1).
const sentinel = math.MaxFloat32

// Distance computes the distance between a and b under metric. a and b must
// share length; a mismatch is a programmer error and panics, per spec §4.1.
func Distance(a, b Vector, metric Metric) float32 {
	if len(a) != len(b) {
		panic("vector: dimension mismatch")
	}

	var d float32
	switch metric {
	case Cosine:
		d = cosineDistance(a, b)
	default:
		d = squaredEuclidean(a, b)
	}

	if math.IsNaN(float64(d)) || math.IsInf(float64(d), 0) {
		return sentinel
	}
	return d
}

func squaredEuclidean(a, b Vector) float32 {
	var sum float32
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

func cosineDistance(a, b Vector) float32 {
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1.0
	}
	sim := dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
	return 1.0 - sim
}

// Less implements the spec's total order on distances: NaN sorts as
// greater than everything, otherwise ordinary float comparison. Since
// Distance already maps NaN/Inf to the sentinel before returning, this is
// mostly relevant to callers comparing raw float32 distances from other
// sources (e.g. a decoded blob).
func Less(a, b float32) bool {
	if math.IsNaN(float64(a)) {
		return false
	}
	if math.IsNaN(float64(b)) {
		return true
	}
	return a < b
}
