package fileops

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/vectordb/pkg/errs"
)

func TestParamsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.yaml")

	p := Params{Algorithm: "hnsw", Metric: "cosine", Dimension: 128, Extra: map[string]any{"m": 32}}
	require.NoError(t, WriteParams(path, p))

	got, err := ReadParams(path)
	require.NoError(t, err)
	require.Equal(t, p.Algorithm, got.Algorithm)
	require.Equal(t, p.Metric, got.Metric)
	require.Equal(t, p.Dimension, got.Dimension)
}

func TestBinaryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.bin")

	type payload struct {
		Vectors [][]float32
		IDs     []string
	}
	in := payload{Vectors: [][]float32{{1, 2, 3}, {4, 5, 6}}, IDs: []string{"a", "b"}}
	require.NoError(t, WriteBinary(path, in))

	var out payload
	require.NoError(t, ReadBinary(path, &out))
	require.Equal(t, in, out)
}

func TestReadMissingFileIsFileError(t *testing.T) {
	_, err := ReadParams(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.KindFileError, kind)
}

func TestWriteDoesNotLeaveTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	require.NoError(t, WriteBinary(path, []int{1, 2, 3}))

	entries, err := filepath.Glob(filepath.Join(dir, ".*"))
	require.NoError(t, err)
	require.Empty(t, entries, "temp file should be renamed away, not left behind")
}
