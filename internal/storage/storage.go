// Package storage implements the engine's RecordID -> Record map (spec
// §3): the sole mutator of record data. Indices do not read from it;
// they receive the same records from the engine and keep their own
// copies. Grounded on the teacher's
// pkg/hnsw/index.go, which guards its node map with a single
// sync.RWMutex; generalized here to guard a Record map instead of an
// HNSW-specific node map.
package storage

import (
	"sync"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/vectordb/internal/metadata"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/vector"
	"github.com/therealutkarshpriyadarshi/vectordb/pkg/errs"
)

// RecordID is a 128-bit opaque identifier, generated randomly at
// insertion time. InvalidRecordID is reserved for graph link slots that
// do not reference a live record.
type RecordID uuid.UUID

// InvalidRecordID is the all-zero sentinel used by graph neighbor slots
// that carry no record.
var InvalidRecordID RecordID

// NewRecordID generates a fresh random RecordID.
func NewRecordID() RecordID {
	return RecordID(uuid.New())
}

func (id RecordID) IsValid() bool {
	return id != InvalidRecordID
}

func (id RecordID) String() string {
	return uuid.UUID(id).String()
}

// Record is the tuple (vector, metadata) owned by Storage.
type Record struct {
	Vector   vector.Vector
	Metadata map[string]metadata.Value
}

// Storage is the RecordID -> Record map. It is the sole mutator of
// record data; the indices keep their own copies of the records and do
// not resolve ids against a Storage instance.
type Storage struct {
	mu   sync.RWMutex
	data map[RecordID]Record
}

func New() *Storage {
	return &Storage{data: make(map[RecordID]Record)}
}

// Insert assigns a fresh RecordID to rec and stores it, returning the id.
func (s *Storage) Insert(rec Record) RecordID {
	id := NewRecordID()
	s.mu.Lock()
	s.data[id] = rec
	s.mu.Unlock()
	return id
}

// InsertWithID stores rec under an already-generated id, used when the
// caller assigns ids ahead of a batch (e.g. index Build).
func (s *Storage) InsertWithID(id RecordID, rec Record) {
	s.mu.Lock()
	s.data[id] = rec
	s.mu.Unlock()
}

// Get resolves id to its Record.
func (s *Storage) Get(id RecordID) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[id]
	return rec, ok
}

// Delete removes id from the map entirely (hard delete of the backing
// data; soft-delete bookkeeping for a given index lives in that index's
// hidden-ids set, not here).
func (s *Storage) Delete(id RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return errs.NotFound("record %s not found", id)
	}
	delete(s.data, id)
	return nil
}

// Len reports the number of live records.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Snapshot returns a copy of all (id, record) pairs; the engine's Persist
// writes it out as the storage blob. The copy is taken under the read lock so the caller never
// observes a torn map.
func (s *Storage) Snapshot() map[RecordID]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[RecordID]Record, len(s.data))
	for id, rec := range s.data {
		out[id] = rec
	}
	return out
}
