package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDistanceEuclideanExact(t *testing.T) {
	a := Vector{1, 0, 0}
	b := Vector{0, 1, 0}
	require.Equal(t, float32(2), Distance(a, b, Euclidean))
	require.Equal(t, float32(0), Distance(a, a, Euclidean))
}

func TestDistanceCosineOrdering(t *testing.T) {
	q := Vector{1, 0}
	same := Vector{1, 0}
	close := Vector{0.9, 0.1}
	orth := Vector{0, 1}

	dSame := Distance(q, same, Cosine)
	dClose := Distance(q, close, Cosine)
	dOrth := Distance(q, orth, Cosine)

	require.InDelta(t, 0, dSame, 1e-6)
	require.Greater(t, dClose, dSame)
	require.Greater(t, dOrth, dClose)
	require.InDelta(t, 1, dOrth, 1e-6)
}

func TestDistanceNaNSentinel(t *testing.T) {
	a := Vector{0, 0}
	b := Vector{0, 0}
	// Cosine distance between two zero vectors is defined (1.0) by the
	// zero-norm guard, not NaN; a NaN component exercises the sentinel path.
	d := Distance(a, b, Cosine)
	require.Equal(t, float32(1.0), d)

	require.Equal(t, float32(math.MaxFloat32), Distance(Vector{float32(math.NaN())}, Vector{0}, Euclidean))

	require.True(t, Less(1, float32(math.NaN())))
	require.False(t, Less(float32(math.NaN()), 1))
}

func TestDistancePanicsOnLengthMismatch(t *testing.T) {
	require.Panics(t, func() {
		Distance(Vector{1, 2}, Vector{1, 2, 3}, Euclidean)
	})
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("cosine")
	require.NoError(t, err)
	require.Equal(t, Cosine, m)

	_, err = ParseMetric("manhattan")
	require.Error(t, err)
}

func TestVectorEqual(t *testing.T) {
	require.True(t, Vector{1, 2, 3}.Equal(Vector{1, 2, 3}))
	require.False(t, Vector{1, 2, 3}.Equal(Vector{1, 2}))
	require.False(t, Vector{1, 2, 3}.Equal(Vector{1, 2, 4}))
}
