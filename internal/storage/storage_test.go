package storage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/vectordb/internal/metadata"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/vector"
)

func TestInsertGetDelete(t *testing.T) {
	s := New()
	rec := Record{Vector: vector.Vector{1, 2, 3}, Metadata: map[string]metadata.Value{"k": metadata.Integer(1)}}

	id := s.Insert(rec)
	require.True(t, id.IsValid())
	require.Equal(t, 1, s.Len())

	got, ok := s.Get(id)
	require.True(t, ok)
	require.True(t, got.Vector.Equal(rec.Vector))

	require.NoError(t, s.Delete(id))
	require.Equal(t, 0, s.Len())

	_, ok = s.Get(id)
	require.False(t, ok)

	require.Error(t, s.Delete(id))
}

func TestInvalidRecordIDSentinel(t *testing.T) {
	require.False(t, InvalidRecordID.IsValid())
	id := NewRecordID()
	require.True(t, id.IsValid())
	require.NotEqual(t, InvalidRecordID, id)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New()
	id := s.Insert(Record{Vector: vector.Vector{1}})
	snap := s.Snapshot()
	require.Len(t, snap, 1)

	s.Insert(Record{Vector: vector.Vector{2}})
	require.Len(t, snap, 1, "snapshot must not observe later mutations")
	require.Equal(t, 2, s.Len())
	_ = id
}
