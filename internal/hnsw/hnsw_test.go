package hnsw

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/vectordb/internal/metadata"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/storage"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/vector"
)

func randomRecords(n, dim int, seed int64) map[storage.RecordID]storage.Record {
	rng := rand.New(rand.NewSource(seed))
	out := make(map[storage.RecordID]storage.Record, n)
	for i := 0; i < n; i++ {
		v := make(vector.Vector, dim)
		for d := range v {
			v[d] = float32(rng.NormFloat64())
		}
		out[storage.NewRecordID()] = storage.Record{
			Vector:   v,
			Metadata: map[string]metadata.Value{"i": metadata.Integer(int64(i))},
		}
	}
	return out
}

func TestBuildAndSearchFindsSelf(t *testing.T) {
	records := randomRecords(200, 8, 1)
	idx := New(DefaultConfig(vector.Euclidean))
	require.NoError(t, idx.Build(records))

	noFilter, _ := metadata.Parse("")

	var anyID storage.RecordID
	var anyVec vector.Vector
	for id, rec := range records {
		anyID = id
		anyVec = rec.Vector
		break
	}

	results := idx.Search(anyVec, 5, noFilter)
	require.NotEmpty(t, results)

	found := false
	for _, r := range results {
		if r.ID == anyID {
			found = true
		}
	}
	require.True(t, found, "query vector's own record should be its own nearest neighbor")
}

func TestSearchRespectsFilter(t *testing.T) {
	records := randomRecords(100, 4, 2)
	idx := New(DefaultConfig(vector.Euclidean))
	require.NoError(t, idx.Build(records))

	f, err := metadata.Parse("i >= 0")
	require.NoError(t, err)

	var q vector.Vector
	for _, rec := range records {
		q = rec.Vector
		break
	}
	results := idx.Search(q, 10, f)
	require.NotEmpty(t, results)
}

func TestDeleteHidesFromSearch(t *testing.T) {
	records := randomRecords(50, 4, 3)
	idx := New(DefaultConfig(vector.Euclidean))
	require.NoError(t, idx.Build(records))

	var victim storage.RecordID
	var victimVec vector.Vector
	for id, rec := range records {
		victim = id
		victimVec = rec.Vector
		break
	}

	idx.Delete([]storage.RecordID{victim})

	noFilter, _ := metadata.Parse("")
	results := idx.Search(victimVec, len(records), noFilter)
	for _, r := range results {
		require.NotEqual(t, victim, r.ID)
	}
}

func TestHideThenRefitDrops(t *testing.T) {
	records := randomRecords(50, 4, 4)
	idx := New(DefaultConfig(vector.Euclidean))
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

func TestInsertAfterBuild(t *testing.T) {
	records := randomRecords(30, 4, 5)
	idx := New(DefaultConfig(vector.Euclidean))
	require.NoError(t, idx.Build(records))

	newID := storage.NewRecordID()
	newVec := vector.Vector{1, 1, 1, 1}
	require.NoError(t, idx.Insert(newID, storage.Record{Vector: newVec}))

	noFilter, _ := metadata.Parse("")
	results := idx.Search(newVec, 3, noFilter)
	require.NotEmpty(t, results)
}

func TestSearchPoolReusesScratch(t *testing.T) {
	records := randomRecords(50, 4, 6)
	idx := New(DefaultConfig(vector.Euclidean))
	require.NoError(t, idx.Build(records))

	noFilter, _ := metadata.Parse("")
	var q vector.Vector
	for _, rec := range records {
		q = rec.Vector
		break
	}
	idx.Search(q, 5, noFilter)

	idx.pool.mu.Lock()
	freed := len(idx.pool.free)
	idx.pool.mu.Unlock()
	require.GreaterOrEqual(t, freed, 1, "a released scratch object should sit on the free-list between searches")

	scratch := idx.pool.acquire()
	require.Empty(t, scratch.visited, "acquire must reset the scratch before handing it back out")
	require.Empty(t, scratch.cands)
	require.Empty(t, scratch.results)
	idx.pool.release(scratch)
}

func TestLayerPopulationDecreasesUpward(t *testing.T) {
	records := randomRecords(300, 4, 7)
	idx := New(DefaultConfig(vector.Euclidean))
	require.NoError(t, idx.Build(records))

	pop := idx.LayerPopulation()
	require.Equal(t, len(records), pop[0])
	for l := 1; l <= idx.maxLayer; l++ {
		require.LessOrEqual(t, pop[l], pop[l-1])
	}
}

func TestLayerStrataMonotonic(t *testing.T) {
	caps := layerStrata(1000, 32, 0.3)
	require.NotEmpty(t, caps)
	for i := 1; i < len(caps); i++ {
		require.Less(t, caps[i], caps[i-1], fmt.Sprintf("caps must strictly shrink at index %d", i))
	}
	require.Less(t, caps[len(caps)-1], 32)
}
