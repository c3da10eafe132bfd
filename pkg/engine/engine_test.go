package engine

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/vectordb/internal/ivfpq"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/metadata"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/storage"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/telemetry"
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

func TestValidateName(t *testing.T) {
	require.NoError(t, ValidateName("products_v1"))
	require.Error(t, ValidateName("Products"))
	require.Error(t, ValidateName("has space"))
}

func TestFlatEngineBuildAndSearch(t *testing.T) {
	records := sampleRecords(50, 4, 1)
	e := New(DefaultParams(Flat, vector.Euclidean), nil, nil)
	require.NoError(t, e.Build(records))

	var q vector.Vector
	for _, rec := range records {
		q = rec.Vector
		break
	}
	results, err := e.Search(q, 5, "")
	require.NoError(t, err)
	require.Len(t, results, 5)
}

func TestSearchRejectsNonPositiveK(t *testing.T) {
	e := New(DefaultParams(Flat, vector.Euclidean), nil, nil)
	require.NoError(t, e.Build(sampleRecords(10, 4, 2)))
	_, err := e.Search(vector.Vector{1, 2, 3, 4}, 0, "")
	require.Error(t, err)
}

func TestSearchRejectsDimensionMismatch(t *testing.T) {
	e := New(DefaultParams(Flat, vector.Euclidean), nil, nil)
	require.NoError(t, e.Build(sampleRecords(10, 4, 3)))
	_, err := e.Search(vector.Vector{1, 2}, 3, "")
	require.Error(t, err)
}

func TestDeleteRemovesFromStorageAndIndex(t *testing.T) {
	records := sampleRecords(10, 4, 4)
	e := New(DefaultParams(Flat, vector.Euclidean), nil, nil)
	require.NoError(t, e.Build(records))

	var victim storage.RecordID
	for id := range records {
		victim = id
		break
	}
	e.Delete([]storage.RecordID{victim})

	_, ok := e.storage.Get(victim)
	require.False(t, ok)
	require.Equal(t, 9, e.Metadata().Count)
}

func TestPersistAndLoadRoundTrip(t *testing.T) {
	records := sampleRecords(20, 4, 5)
	e := New(DefaultParams(Flat, vector.Cosine), nil, nil)
	require.NoError(t, e.Build(records))

	dir := filepath.Join(t.TempDir(), "snap")
	require.NoError(t, e.Persist(dir))

	loaded, err := Load(dir, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 20, loaded.Metadata().Count)
	require.Equal(t, vector.Cosine, loaded.Metric())
}

func TestHNSWEngineBuildAndSearch(t *testing.T) {
	records := sampleRecords(100, 6, 6)
	e := New(DefaultParams(HNSW, vector.Euclidean), nil, nil)
	require.NoError(t, e.Build(records))

	var q vector.Vector
	for _, rec := range records {
		q = rec.Vector
		break
	}
	results, err := e.Search(q, 5, "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestBuildUpdatesIndexSizeAndLayerGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	records := sampleRecords(80, 6, 7)
	e := New(DefaultParams(HNSW, vector.Euclidean), nil, metrics)
	require.NoError(t, e.Build(records))

	require.Equal(t, float64(80), testutil.ToFloat64(metrics.IndexSize.WithLabelValues("hnsw")))
	require.Equal(t, float64(80), testutil.ToFloat64(metrics.HNSWLayerSize.WithLabelValues("0")))
}

func TestBuildUpdatesCompressionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	records := sampleRecords(60, 8, 8)
	params := DefaultParams(IVFPQ, vector.Euclidean)
	params.IVFPQ = ivfpq.Config{Centroids: 4, Subspaces: 2, SubCentroids: 4, NumIterations: 10, NumProbes: 2, Metric: vector.Euclidean}
	e := New(params, nil, metrics)
	require.NoError(t, e.Build(records))

	got := testutil.ToFloat64(metrics.PQCompression.WithLabelValues("ivfpq"))
	require.Equal(t, e.ivf.CompressionRatio(), got)
	require.Greater(t, got, 0.0)
}

func TestInsertRollsBackStorageOnIndexFailure(t *testing.T) {
	records := sampleRecords(20, 4, 9)
	e := New(DefaultParams(HNSW, vector.Euclidean), nil, nil)
	require.NoError(t, e.Build(records))

	var dup storage.RecordID
	var dupRec storage.Record
	for id, rec := range records {
		dup = id
		dupRec = rec
		break
	}

	// Re-inserting an id already present in the HNSW graph is rejected by
	// the index; the engine must restore dup's prior storage record rather
	// than leaving it deleted or overwritten.
	err := e.Insert(map[storage.RecordID]storage.Record{dup: {Vector: vector.Vector{9, 9, 9, 9}}})
	require.Error(t, err)

	got, ok := e.storage.Get(dup)
	require.True(t, ok)
	require.Equal(t, dupRec.Vector, got.Vector)
	require.Equal(t, len(records), e.Metadata().Count)
}
