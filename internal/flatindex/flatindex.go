// Package flatindex implements linear-scan exact search (spec §4.4).
// Grounded on the teacher's pkg/ivf/index.go brute-force scan fallback
// and pkg/hnsw/insert.go's container/heap candidate/result heaps,
// simplified down to the spec's single map-of-records + bounded max-heap
// design: perfect recall, O(N) per query, intended for N <= ~10^4.
package flatindex

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/therealutkarshpriyadarshi/vectordb/internal/metadata"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/storage"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/vector"
)

// Meta is the per-index bookkeeping the spec calls "index metadata":
// count, last-inserted id, a hidden-ids set, and a built flag.
type Meta struct {
	Count        int
	LastInserted storage.RecordID
	Hidden       map[storage.RecordID]struct{}
	Built        bool
}

// Index is the flat (linear-scan) ANN index.
type Index struct {
	mu     sync.RWMutex
	data   map[storage.RecordID]storage.Record
	metric vector.Metric
	meta   Meta
}

func New(metric vector.Metric) *Index {
	return &Index{
		data:   make(map[storage.RecordID]storage.Record),
		metric: metric,
		meta:   Meta{Hidden: make(map[storage.RecordID]struct{})},
	}
}

// Build merges records into the index and sets Built.
func (idx *Index) Build(records map[storage.RecordID]storage.Record) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.merge(records)
	idx.meta.Built = true
}

// Insert merges additional records without altering Built.
func (idx *Index) Insert(records map[storage.RecordID]storage.Record) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.merge(records)
}

func (idx *Index) merge(records map[storage.RecordID]storage.Record) {
	for id, rec := range records {
		idx.data[id] = rec
		idx.meta.Count = len(idx.data)
		idx.meta.LastInserted = id
	}
}

// Delete removes ids from the index (hard delete, per spec §4.4).
func (idx *Index) Delete(ids []storage.RecordID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range ids {
		delete(idx.data, id)
		delete(idx.meta.Hidden, id)
	}
	idx.meta.Count = len(idx.data)
}

// Metadata returns a snapshot of the index's bookkeeping.
func (idx *Index) Metadata() Meta {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	hidden := make(map[storage.RecordID]struct{}, len(idx.meta.Hidden))
	for id := range idx.meta.Hidden {
		hidden[id] = struct{}{}
	}
	return Meta{Count: idx.meta.Count, LastInserted: idx.meta.LastInserted, Hidden: hidden, Built: idx.meta.Built}
}

func (idx *Index) Metric() vector.Metric { return idx.metric }

// Result is a single scored search hit.
type Result struct {
	ID       storage.RecordID
	Distance float32
}

type scoredItem struct {
	id       storage.RecordID
	distance float32
}

// maxHeap keeps the k best (lowest-distance) candidates seen so far: the
// root is the current worst of the retained set, so when the heap is
// full a strictly-better candidate evicts it. Grounded on the teacher's
// pkg/hnsw/insert.go heapItem/maxHeap pattern.
type maxHeap []scoredItem

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return vector.Less(h[j].distance, h[i].distance) }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(scoredItem)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Search scans every live, non-hidden record, applies filters, and
// returns up to k results sorted by ascending distance.
func (idx *Index) Search(query vector.Vector, k int, filters metadata.Filters) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	h := &maxHeap{}
	heap.Init(h)

	for id, rec := range idx.data {
		if _, hidden := idx.meta.Hidden[id]; hidden {
			continue
		}
		if !filters.Match(rec.Metadata) {
			continue
		}
		d := vector.Distance(query, rec.Vector, idx.metric)
		if h.Len() < k {
			heap.Push(h, scoredItem{id: id, distance: d})
		} else if h.Len() > 0 && vector.Less(d, (*h)[0].distance) {
			heap.Pop(h)
			heap.Push(h, scoredItem{id: id, distance: d})
		}
	}

	out := make([]Result, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		item := heap.Pop(h).(scoredItem)
		out[i] = Result{ID: item.id, Distance: item.distance}
	}
	sort.Slice(out, func(i, j int) bool { return vector.Less(out[i].Distance, out[j].Distance) })
	return out
}

// Hide soft-marks ids as hidden without removing their data, and is used
// by callers that want flat indices to support the engine's uniform
// Hide/Refit contract even though §4.4 itself only specifies hard
// delete; Refit on a flat index is a no-op since there is no derived
// structure to rebuild.
func (idx *Index) Hide(ids []storage.RecordID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range ids {
		idx.meta.Hidden[id] = struct{}{}
	}
}

func (idx *Index) Refit() {}
