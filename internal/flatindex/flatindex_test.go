package flatindex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/vectordb/internal/metadata"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/storage"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/vector"
)

func buildIndex(t *testing.T) (*Index, map[storage.RecordID]storage.Record) {
	t.Helper()
	idx := New(vector.Euclidean)
	records := map[storage.RecordID]storage.Record{
		storage.NewRecordID(): {Vector: vector.Vector{0, 0}, Metadata: map[string]metadata.Value{"age": metadata.Integer(20)}},
		storage.NewRecordID(): {Vector: vector.Vector{10, 10}, Metadata: map[string]metadata.Value{"age": metadata.Integer(40)}},
		storage.NewRecordID(): {Vector: vector.Vector{1, 1}, Metadata: map[string]metadata.Value{"age": metadata.Integer(25)}},
	}
	idx.Build(records)
	return idx, records
}

func TestSearchReturnsKSortedByDistance(t *testing.T) {
	idx, _ := buildIndex(t)
	noFilter, err := metadata.Parse("")
	require.NoError(t, err)

	results := idx.Search(vector.Vector{0, 0}, 2, noFilter)
	require.Len(t, results, 2)
	require.True(t, results[0].Distance <= results[1].Distance)
}

func TestSearchAppliesFilter(t *testing.T) {
	idx, _ := buildIndex(t)
	f, err := metadata.Parse("age >= 30")
	require.NoError(t, err)

	results := idx.Search(vector.Vector{0, 0}, 10, f)
	require.Len(t, results, 1)
}

func TestDeleteRemovesFromResults(t *testing.T) {
	idx, records := buildIndex(t)
	var victim storage.RecordID
	for id := range records {
		victim = id
		break
	}
	idx.Delete([]storage.RecordID{victim})

	meta := idx.Metadata()
	require.Equal(t, 2, meta.Count)

	noFilter, _ := metadata.Parse("")
	results := idx.Search(vector.Vector{0, 0}, 10, noFilter)
	for _, r := range results {
		require.NotEqual(t, victim, r.ID)
	}
}

func TestBuildSetsBuiltFlag(t *testing.T) {
	idx, _ := buildIndex(t)
	require.True(t, idx.Metadata().Built)
}
