// Package fileops is the engine's persistence collaborator (spec §6):
// write-to-tmp-then-rename durability for three blob kinds — a
// human-editable params blob, an index blob, and a storage blob.
// Grounded on the teacher's pkg/diskann/disk_graph.go, which opens/
// writes/reads fixed-layout files directly; generalized here to an
// atomic-rename write path (which the teacher's disk_graph.go does not
// have) plus a YAML params blob (gopkg.in/yaml.v3, also used elsewhere
// in the pack) and a gob-encoded binary blob for the index/storage
// payloads. encoding/gob rather than a hand-rolled field-by-field binary
// layout: the pack carries no schema-free binary serialization library,
// and writing a bespoke codec per index variant (flat, HNSW, IVF+PQ) is
// out of proportion to what this collaborator needs to do, which is
// round-trip an opaque Go value, not define a wire format for other
// languages to read.
package fileops

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/therealutkarshpriyadarshi/vectordb/pkg/errs"
)

// Params is the human-editable parameters blob: metric, dimension, and
// whatever algorithm-specific knobs (density/centroids/M/etc.) the
// active index variant carries.
type Params struct {
	Algorithm string         `yaml:"algorithm"`
	Metric    string         `yaml:"metric"`
	Dimension int            `yaml:"dimension"`
	Extra     map[string]any `yaml:"extra,omitempty"`
}

// writeAtomic writes data to a uniquely named temp file
// <dir>/.<basename>.tmp-* then renames it over path, per spec §6's
// write_binary contract.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errs.FileError(err, "create temp file for %s", path)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.FileError(err, "write temp file for %s", path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.FileError(err, "sync temp file for %s", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.FileError(err, "close temp file for %s", path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errs.FileError(err, "rename temp file onto %s", path)
	}
	return nil
}

// WriteParams encodes p as YAML and durably writes it to path.
func WriteParams(path string, p Params) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return errs.SerializationError(err, "marshal params")
	}
	return writeAtomic(path, data)
}

// ReadParams decodes the YAML params blob at path.
func ReadParams(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, errs.FileError(err, "read params file %s", path)
	}
	var p Params
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Params{}, errs.SerializationError(err, "unmarshal params")
	}
	return p, nil
}

// WriteBinary gob-encodes value and durably writes it to path. The
// engine uses it for the storage blob; it writes no separate index blob.
func WriteBinary(path string, value any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return errs.SerializationError(err, "encode binary blob")
	}
	return writeAtomic(path, buf.Bytes())
}

// ReadBinary decodes the gob blob at path into out (a pointer).
func ReadBinary(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errs.FileError(err, "read binary file %s", path)
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(out); err != nil {
		return errs.SerializationError(err, "decode binary blob")
	}
	return nil
}
