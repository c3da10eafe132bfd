package ivfpq

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/vectordb/internal/metadata"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/storage"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/vector"
)

func sampleRecords(n, dim int, seed int64) map[storage.RecordID]storage.Record {
	rng := rand.New(rand.NewSource(seed))
	out := make(map[storage.RecordID]storage.Record, n)
	for i := 0; i < n; i++ {
		v := make(vector.Vector, dim)
		for d := range v {
			v[d] = float32(rng.NormFloat64())
		}
		out[storage.NewRecordID()] = storage.Record{Vector: v, Metadata: map[string]metadata.Value{"i": metadata.Integer(int64(i))}}
	}
	return out
}

func smallConfig(metric vector.Metric) Config {
	return Config{Centroids: 4, Subspaces: 2, SubCentroids: 4, NumIterations: 10, NumProbes: 2, Metric: metric}
}

func TestBuildRejectsBadDimension(t *testing.T) {
	idx := New(Config{Centroids: 2, Subspaces: 3, SubCentroids: 2, NumIterations: 5, NumProbes: 1, Metric: vector.Euclidean})
	records := sampleRecords(20, 4, 1) // 4 not divisible by 3
	err := idx.Build(records)
	require.Error(t, err)
}

func TestBuildAndSearch(t *testing.T) {
	records := sampleRecords(60, 8, 2)
	idx := New(smallConfig(vector.Euclidean))
	require.NoError(t, idx.Build(records))

	var q vector.Vector
	for _, rec := range records {
		q = rec.Vector
		break
	}
	noFilter, _ := metadata.Parse("")
	results := idx.Search(q, 5, noFilter)
	require.NotEmpty(t, results)
	for i := 1; i < len(results); i++ {
		require.True(t, results[i-1].Distance <= results[i].Distance)
	}
}

func TestReconstructRoundTrip(t *testing.T) {
	records := sampleRecords(60, 8, 3)
	idx := New(smallConfig(vector.Euclidean))
	require.NoError(t, idx.Build(records))

	var anyID storage.RecordID
	for id := range records {
		anyID = id
		break
	}
	recon, ok := idx.Reconstruct(anyID)
	require.True(t, ok)
	require.Len(t, recon, 8)
}

// TestReconstructExactWhenCodebookCoversEveryVector is the literal case
// spec §8 names for the dequantization guarantee: reconstruct(quantize(v))
// == v whenever K' is at least the number of distinct sub-vectors per
// sub-space, trained on 4 vectors of D=4, S=2.
func TestReconstructExactWhenCodebookCoversEveryVector(t *testing.T) {
	records := map[storage.RecordID]storage.Record{
		storage.NewRecordID(): {Vector: vector.Vector{1, 2, 3, 4}},
		storage.NewRecordID(): {Vector: vector.Vector{5, 6, 7, 8}},
		storage.NewRecordID(): {Vector: vector.Vector{-1, -2, -3, -4}},
		storage.NewRecordID(): {Vector: vector.Vector{9, -9, 0, 1}},
	}
	idx := New(Config{Centroids: 2, Subspaces: 2, SubCentroids: 8, NumIterations: 50, NumProbes: 2, Metric: vector.Euclidean})
	require.NoError(t, idx.Build(records))

	for id, rec := range records {
		recon, ok := idx.Reconstruct(id)
		require.True(t, ok)
		require.Equal(t, rec.Vector, recon)
	}
}

func TestCompressionRatio(t *testing.T) {
	records := sampleRecords(60, 8, 6)
	idx := New(smallConfig(vector.Euclidean))
	require.NoError(t, idx.Build(records))

	// 8 float32 components (4 bytes each) compressed to one byte per
	// subspace, 2 subspaces.
	require.Equal(t, float64(8*4)/float64(2), idx.CompressionRatio())
}

func TestHideThenRefitRemoves(t *testing.T) {
	records := sampleRecords(60, 8, 4)
	idx := New(smallConfig(vector.Euclidean))
	require.NoError(t, idx.Build(records))

	var victim storage.RecordID
	for id := range records {
		victim = id
		break
	}
	idx.Hide([]storage.RecordID{victim})
	require.NoError(t, idx.Refit())

	meta := idx.Metadata()
	require.Equal(t, len(records)-1, meta.Count)
}

func TestInsertAssignsAndUpdatesCentroid(t *testing.T) {
	records := sampleRecords(60, 8, 5)
	idx := New(smallConfig(vector.Euclidean))
	require.NoError(t, idx.Build(records))

	newID := storage.NewRecordID()
	v := make(vector.Vector, 8)
	for i := range v {
		v[i] = 5
	}
	require.NoError(t, idx.Insert(map[storage.RecordID]storage.Record{newID: {Vector: v}}))

	meta := idx.Metadata()
	require.Equal(t, len(records)+1, meta.Count)
}
