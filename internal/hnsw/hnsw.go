// Package hnsw implements the hierarchical navigable small-world graph
// index (spec §4.5). Grounded on the teacher's pkg/hnsw/{index,node,
// insert,search,batch}.go: the overall insertion/search algorithm shape
// (greedy descent through upper layers, best-first search with an ef
// frontier, bidirectional neighbor linking, container/heap candidate and
// result queues) follows those files closely. Two things are reworked
// to match the spec instead of the teacher:
//
//   - Storage: the teacher keys nodes by a map[uint64]*Node guarded by a
//     single index-wide mutex. This package instead uses a dense slot
//     arena with one reader/writer lock per neighbor list (§5), so
//     concurrent inserts in the same stratum only contend on the slots
//     they actually touch.
//   - Deletion: the teacher hard-deletes (removes the node from the
//     map). This package soft-deletes: the slot's record id is replaced
//     with the invalid sentinel and every occurrence of the id in any
//     neighbor list is tombstoned in place, per spec §4.5; refit is the
//     recovery path that repairs the graph.
package hnsw

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/therealutkarshpriyadarshi/vectordb/internal/metadata"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/storage"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/vector"
	"github.com/therealutkarshpriyadarshi/vectordb/pkg/errs"
)

// Config holds the build/search parameters named in spec §4.5.
type Config struct {
	M              int // max neighbors per node on upper layers; base layer holds 2M
	EfConstruction int
	EfSearch       int
	Ml             float64
	Metric         vector.Metric
}

// DefaultConfig mirrors the spec's stated defaults.
func DefaultConfig(metric vector.Metric) Config {
	return Config{M: 32, EfConstruction: 40, EfSearch: 15, Ml: 0.3, Metric: metric}
}

// neighborEntry is one edge in a neighbor list. A tombstoned entry keeps
// its slot in the list (the fixed-width array never shrinks) but its id
// field is storage.InvalidRecordID, so readers skip it without needing
// to shift the rest of the array.
type neighborEntry struct {
	id   storage.RecordID
	dist float32
}

// neighborList is a capacity-bounded, ascending-distance-ordered edge
// list guarded by its own lock, per spec §4.5/§5.
type neighborList struct {
	mu      sync.RWMutex
	entries []neighborEntry
	cap     int
}

func newNeighborList(cap int) *neighborList {
	return &neighborList{entries: make([]neighborEntry, 0, cap), cap: cap}
}

func (nl *neighborList) snapshot() []neighborEntry {
	nl.mu.RLock()
	defer nl.mu.RUnlock()
	out := make([]neighborEntry, len(nl.entries))
	copy(out, nl.entries)
	return out
}

// insertSorted inserts id at the position that preserves ascending
// distance order. If the list is already at capacity the worst
// (highest-distance) entry is displaced.
func (nl *neighborList) insertSorted(id storage.RecordID, dist float32) {
	nl.mu.Lock()
	defer nl.mu.Unlock()

	pos := sort.Search(len(nl.entries), func(i int) bool {
		return vector.Less(dist, nl.entries[i].dist) || nl.entries[i].dist == dist
	})
	nl.entries = append(nl.entries, neighborEntry{})
	copy(nl.entries[pos+1:], nl.entries[pos:])
	nl.entries[pos] = neighborEntry{id: id, dist: dist}

	if len(nl.entries) > nl.cap {
		nl.entries = nl.entries[:nl.cap]
	}
}

// tombstone invalidates every occurrence of id without shrinking the
// list.
func (nl *neighborList) tombstone(id storage.RecordID) {
	nl.mu.Lock()
	defer nl.mu.Unlock()
	for i := range nl.entries {
		if nl.entries[i].id == id {
			nl.entries[i].id = storage.InvalidRecordID
		}
	}
}

// Index is the HNSW graph. Slots are dense, monotonically assigned, and
// never reused; a deleted record's slot is marked with
// storage.InvalidRecordID and excluded from traversal and search.
type Index struct {
	mu sync.RWMutex

	cfg Config

	ids     []storage.RecordID // slot -> record id, InvalidRecordID if deleted
	records []storage.Record   // slot -> cached (vector, metadata)
	levels  []int              // slot -> own top layer number (0 = base only)
	idToSlot map[storage.RecordID]int

	base  []*neighborList            // slot -> base-layer (layer 0) neighbor list
	upper []map[int]*neighborList    // upper[layerNum-1][slot] -> neighbor list at that layer

	entryPoint int // slot, -1 if empty
	maxLayer   int // highest layer number currently populated (0 if only base exists)

	hidden map[storage.RecordID]struct{}
	built  bool
	lastInserted storage.RecordID

	rngMu sync.Mutex
	rng   *rand.Rand

	pool *searchPool
}

// New creates an empty HNSW index.
func New(cfg Config) *Index {
	return &Index{
		cfg:        cfg,
		idToSlot:   make(map[storage.RecordID]int),
		entryPoint: -1,
		hidden:     make(map[storage.RecordID]struct{}),
		rng:        rand.New(rand.NewSource(1)),
		pool:       newSearchPool(),
	}
}

func (idx *Index) Metric() vector.Metric { return idx.cfg.Metric }

// Meta mirrors the spec's "index metadata" bookkeeping.
type Meta struct {
	Count        int
	LastInserted storage.RecordID
	Hidden       map[storage.RecordID]struct{}
	Built        bool
}

func (idx *Index) Metadata() Meta {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	hidden := make(map[storage.RecordID]struct{}, len(idx.hidden))
	for id := range idx.hidden {
		hidden[id] = struct{}{}
	}
	return Meta{Count: len(idx.idToSlot), LastInserted: idx.lastInserted, Hidden: hidden, Built: idx.built}
}

// LayerPopulation reports, for each layer number present in the graph, how
// many live (non-deleted) nodes sit at or above that layer. Feeds the
// HNSW layer-population gauge (SPEC_FULL.md §4).
func (idx *Index) LayerPopulation() map[int]int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	pop := make(map[int]int)
	for slot, id := range idx.ids {
		if id == storage.InvalidRecordID {
			continue
		}
		for l := 0; l <= idx.levels[slot]; l++ {
			pop[l]++
		}
	}
	return pop
}

// randomLevel draws a level the way the teacher's randomLevel() does,
// for single-record incremental inserts that happen after the initial
// stratified Build (spec §4.5 only describes the batch stratification;
// this reuses the standard HNSW per-node draw for anything inserted
// afterward, consistent with the teacher's pkg/hnsw/index.go).
func (idx *Index) randomLevel() int {
	idx.rngMu.Lock()
	r := idx.rng.Float64()
	idx.rngMu.Unlock()
	if r <= 0 {
		r = 1e-12
	}
	level := int(math.Floor(-math.Log(r) * idx.cfg.Ml))
	return level
}

// layerStrata computes the spec §4.5 layer-assignment cutoffs for a
// batch of n records: caps[i] is the rank threshold below which a
// record also belongs to upper layer i+1 (1-indexed; caps is emitted
// smallest-last, so the final entry is the top layer's cutoff).
func layerStrata(n, m int, ml float64) []int {
	if n == 0 {
		return nil
	}
	var caps []int
	size := n
	for {
		next := int(math.Floor(float64(size) * ml))
		caps = append(caps, next)
		if next < m {
			break
		}
		size = next
	}
	return caps
}

// ownLevel returns how many leading strata thresholds rank satisfies,
// i.e. the record's own top layer number under the spec's
// rank-threshold scheme.
func ownLevel(rank int, caps []int) int {
	level := 0
	for _, cap := range caps {
		if rank < cap {
			level++
		} else {
			break
		}
	}
	return level
}

func (idx *Index) vectorAt(slot int) vector.Vector { return idx.records[slot].Vector }

// resolveSlot looks up id's current slot under the structural read
// lock, since idToSlot is only mutated by Insert/Delete (which take the
// write lock), not by the otherwise lock-free search/link traversals.
func (idx *Index) resolveSlot(id storage.RecordID) (int, bool) {
	idx.mu.RLock()
	s, ok := idx.idToSlot[id]
	idx.mu.RUnlock()
	return s, ok
}

func (idx *Index) layerList(slot, layerNum int) *neighborList {
	if layerNum == 0 {
		return idx.base[slot]
	}
	m, ok := idx.upper[layerNum-1][slot]
	if !ok {
		return nil
	}
	return m
}

// ensureLayers grows the upper-layer map slice so layer numbers up to
// `level` exist.
func (idx *Index) ensureLayers(level int) {
	for len(idx.upper) < level {
		idx.upper = append(idx.upper, make(map[int]*neighborList))
	}
}

// placeOnLayers allocates a neighbor list for slot at every layer from 0
// up to level.
func (idx *Index) placeOnLayers(slot, level int) {
	idx.base[slot] = newNeighborList(idx.cfg.M * 2)
	idx.ensureLayers(level)
	for l := 1; l <= level; l++ {
		idx.upper[l-1][slot] = newNeighborList(idx.cfg.M)
	}
}

func (idx *Index) allocSlot(id storage.RecordID, rec storage.Record) int {
	slot := len(idx.ids)
	idx.ids = append(idx.ids, id)
	idx.records = append(idx.records, rec)
	idx.levels = append(idx.levels, 0)
	idx.base = append(idx.base, nil)
	idx.idToSlot[id] = slot
	return slot
}

// Build performs the initial stratified construction from an empty
// index (spec §4.5: layer assignment by repeated shrinking, strata
// processed top-down, parallel within a stratum).
func (idx *Index) Build(records map[storage.RecordID]storage.Record) error {
	idx.mu.Lock()
	if len(idx.ids) != 0 {
		idx.mu.Unlock()
		return errs.Internal("hnsw: Build called on a non-empty index")
	}

	order := make([]storage.RecordID, 0, len(records))
	for id := range records {
		order = append(order, id)
	}
	idx.rngMu.Lock()
	idx.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	idx.rngMu.Unlock()

	caps := layerStrata(len(order), idx.cfg.M, idx.cfg.Ml)

	slotOf := make([]int, len(order))
	levelOf := make([]int, len(order))
	for rank, id := range order {
		slot := idx.allocSlot(id, records[id])
		lvl := ownLevel(rank, caps)
		levelOf[rank] = lvl
		idx.levels[slot] = lvl
		slotOf[rank] = slot
		if lvl > idx.maxLayer {
			idx.maxLayer = lvl
		}
	}
	idx.ensureLayers(idx.maxLayer)
	for rank, slot := range slotOf {
		idx.placeOnLayers(slot, levelOf[rank])
	}
	idx.built = true
	idx.mu.Unlock()

	// Group ranks by descending level and process strata top-down,
	// parallel within a stratum (grounded on the teacher's
	// pkg/hnsw/batch.go worker-pool pattern).
	byLevel := make(map[int][]int)
	maxLvl := 0
	for rank, lvl := range levelOf {
		byLevel[lvl] = append(byLevel[lvl], rank)
		if lvl > maxLvl {
			maxLvl = lvl
		}
	}

	for lvl := maxLvl; lvl >= 0; lvl-- {
		ranks := byLevel[lvl]
		if len(ranks) == 0 {
			continue
		}
		if lvl == maxLvl {
			// First node placed becomes the initial entry point.
			first := ranks[0]
			idx.mu.Lock()
			if idx.entryPoint == -1 {
				idx.entryPoint = slotOf[first]
			}
			idx.mu.Unlock()
			ranks = ranks[1:]
		}
		idx.insertBatch(order, slotOf, levelOf, ranks)
	}

	return nil
}

func (idx *Index) insertBatch(order []storage.RecordID, slotOf, levelOf []int, ranks []int) {
	workers := 8
	if len(ranks) < workers {
		workers = len(ranks)
	}
	if workers == 0 {
		return
	}
	jobs := make(chan int, len(ranks))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rank := range jobs {
				idx.linkIntoGraph(slotOf[rank], levelOf[rank])
			}
		}()
	}
	for _, r := range ranks {
		jobs <- r
	}
	close(jobs)
	wg.Wait()
}

// Insert adds a single record after the index has already been built
// (or to a fresh index, in which case the record becomes the entry
// point; unlike Build, Insert does not set the Built flag). Per-record layer is drawn via randomLevel rather than the
// batch stratification, since the spec's stratified scheme only
// describes whole-batch construction.
func (idx *Index) Insert(id storage.RecordID, rec storage.Record) error {
	idx.mu.Lock()
	if _, exists := idx.idToSlot[id]; exists {
		idx.mu.Unlock()
		return errs.InvalidArgument("hnsw: record %s already present", id)
	}
	level := idx.randomLevel()
	slot := idx.allocSlot(id, rec)
	idx.levels[slot] = level
	idx.placeOnLayers(slot, level)
	idx.lastInserted = id

	first := idx.entryPoint == -1
	if first {
		idx.entryPoint = slot
		if level > idx.maxLayer {
			idx.maxLayer = level
		}
	}
	idx.mu.Unlock()

	if first {
		return nil
	}
	idx.linkIntoGraph(slot, level)

	idx.mu.Lock()
	if level > idx.maxLayer {
		idx.maxLayer = level
		idx.entryPoint = slot
	}
	idx.mu.Unlock()
	return nil
}

// linkIntoGraph runs the single-node insertion algorithm of spec §4.5:
// greedy descent from the current top layer down to level+1, then at
// each layer from level down to 0 a widened search plus bidirectional
// linking.
func (idx *Index) linkIntoGraph(slot, level int) {
	idx.mu.RLock()
	ep := idx.entryPoint
	top := idx.maxLayer
	idx.mu.RUnlock()

	if ep == slot || ep < 0 {
		return
	}

	vec := idx.vectorAt(slot)
	curEp := ep
	curDist := vector.Distance(vec, idx.vectorAt(ep), idx.cfg.Metric)

	for lc := top; lc > level; lc-- {
		curEp, curDist = idx.greedyStep(vec, curEp, curDist, lc)
	}

	startLayer := level
	if startLayer > top {
		startLayer = top
	}
	for lc := startLayer; lc >= 0; lc-- {
		ef := idx.cfg.EfConstruction
		candidates := idx.searchLayer(vec, curEp, ef, lc)

		m := idx.cfg.M
		if lc == 0 {
			m = idx.cfg.M * 2
		}
		idx.link(slot, vec, candidates, m, lc)

		if len(candidates) > 0 {
			curEp = candidates[0].id
		}
	}
}

// greedyStep repeatedly moves to a strictly closer neighbor at layer lc
// until no improvement is found (teacher's Phase-1 descent, no
// candidate expansion).
func (idx *Index) greedyStep(query vector.Vector, ep int, epDist float32, lc int) (int, float32) {
	changed := true
	for changed {
		changed = false
		nl := idx.layerList(ep, lc)
		if nl == nil {
			break
		}
		for _, e := range nl.snapshot() {
			if e.id == storage.InvalidRecordID {
				continue
			}
			s, ok := idx.resolveSlot(e.id)
			if !ok {
				continue
			}
			d := vector.Distance(query, idx.vectorAt(s), idx.cfg.Metric)
			if vector.Less(d, epDist) {
				epDist = d
				ep = s
				changed = true
			}
		}
	}
	return ep, epDist
}

type candidate struct {
	id   int // slot
	dist float32
}

type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return vector.Less(h[i].dist, h[j].dist) }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return vector.Less(h[j].dist, h[i].dist) }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
func (h maxHeap) worst() float32 {
	if len(h) == 0 {
		return float32(math.MaxFloat32)
	}
	return h[0].dist
}

// searchScratch bundles the reusable allocations a single searchLayer call
// needs: the visited set, the candidate frontier, and the retained-results
// heap (spec §4.5's "SearchPool ... caches reusable Search scratch objects
// ... to avoid reallocation during parallel insertion").
type searchScratch struct {
	visited map[int]bool
	cands   minHeap
	results maxHeap
}

func newSearchScratch() *searchScratch {
	return &searchScratch{visited: make(map[int]bool)}
}

func (s *searchScratch) reset() {
	for k := range s.visited {
		delete(s.visited, k)
	}
	s.cands = s.cands[:0]
	s.results = s.results[:0]
}

// searchPool is a mutex-guarded free-list of searchScratch objects (spec
// §4.5/§5: "guarded by a mutex; acquisition is short (pop/push only)").
// Concurrent searchLayer calls during stratum-parallel Build each acquire
// their own scratch object rather than contending on one shared set of
// allocations.
type searchPool struct {
	mu   sync.Mutex
	free []*searchScratch
}

func newSearchPool() *searchPool { return &searchPool{} }

func (p *searchPool) acquire() *searchScratch {
	p.mu.Lock()
	n := len(p.free)
	if n == 0 {
		p.mu.Unlock()
		return newSearchScratch()
	}
	s := p.free[n-1]
	p.free = p.free[:n-1]
	p.mu.Unlock()
	s.reset()
	return s
}

func (p *searchPool) release(s *searchScratch) {
	p.mu.Lock()
	p.free = append(p.free, s)
	p.mu.Unlock()
}

// searchLayer is the best-first search described in spec §4.5: pop the
// closest unexplored candidate, stop once it is worse than the current
// worst retained result, otherwise expand its neighbor list.
func (idx *Index) searchLayer(query vector.Vector, entry int, ef int, lc int) []candidate {
	scratch := idx.pool.acquire()
	defer idx.pool.release(scratch)

	visited := scratch.visited
	cands := &scratch.cands
	results := &scratch.results

	visited[entry] = true
	d0 := vector.Distance(query, idx.vectorAt(entry), idx.cfg.Metric)
	heap.Push(cands, candidate{id: entry, dist: d0})
	heap.Push(results, candidate{id: entry, dist: d0})

	for cands.Len() > 0 {
		cur := heap.Pop(cands).(candidate)
		if results.Len() >= ef && vector.Less(results.worst(), cur.dist) {
			break
		}

		nl := idx.layerList(cur.id, lc)
		if nl == nil {
			continue
		}
		for _, e := range nl.snapshot() {
			if e.id == storage.InvalidRecordID {
				continue
			}
			s, ok := idx.resolveSlot(e.id)
			if !ok || visited[s] {
				continue
			}
			visited[s] = true

			d := vector.Distance(query, idx.vectorAt(s), idx.cfg.Metric)
			if results.Len() < ef || vector.Less(d, results.worst()) {
				heap.Push(cands, candidate{id: s, dist: d})
				heap.Push(results, candidate{id: s, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

// link inserts bidirectional edges between slot and up to m of the
// candidates, at layer lc. Lock order: no lock on slot's own list is
// needed here beyond the list's own mutex, acquired one at a time per
// spec §5 (owner first, then each neighbor in turn, released before
// moving on).
func (idx *Index) link(slot int, vec vector.Vector, candidates []candidate, m int, lc int) {
	if len(candidates) > m {
		candidates = candidates[:m]
	}

	ownList := idx.layerList(slot, lc)
	if ownList == nil {
		return
	}

	for _, c := range candidates {
		if c.id == slot {
			continue
		}
		ownList.insertSorted(idx.ids[c.id], c.dist)

		peerList := idx.layerList(c.id, lc)
		if peerList == nil {
			continue
		}
		peerList.insertSorted(idx.ids[slot], c.dist)
	}
}

// Result is a single scored, metadata-joined search hit.
type Result struct {
	ID       storage.RecordID
	Distance float32
	Metadata map[string]metadata.Value
}

// Search performs the spec's multi-layer descent followed by a
// filtered, ef_search-wide best-first pass at layer 0.
func (idx *Index) Search(query vector.Vector, k int, filters metadata.Filters) []Result {
	idx.mu.RLock()
	ep := idx.entryPoint
	top := idx.maxLayer
	idx.mu.RUnlock()
	if ep < 0 {
		return nil
	}

	curEp := ep
	curDist := vector.Distance(query, idx.vectorAt(ep), idx.cfg.Metric)
	for lc := top; lc >= 1; lc-- {
		res := idx.searchLayer(query, curEp, 5, lc)
		if len(res) > 0 {
			curEp = res[0].id
			curDist = res[0].dist
		}
	}
	_ = curDist

	ef := idx.cfg.EfSearch
	if ef < k {
		ef = k
	}
	candidates := idx.searchLayer(query, curEp, ef, 0)
	sort.Slice(candidates, func(i, j int) bool { return vector.Less(candidates[i].dist, candidates[j].dist) })

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]Result, 0, k)
	for _, c := range candidates {
		id := idx.ids[c.id]
		if id == storage.InvalidRecordID {
			continue
		}
		if _, hidden := idx.hidden[id]; hidden {
			continue
		}
		rec := idx.records[c.id]
		if !filters.Match(rec.Metadata) {
			continue
		}
		out = append(out, Result{ID: id, Distance: c.dist, Metadata: rec.Metadata})
		if len(out) == k {
			break
		}
	}
	return out
}

// Hide soft-marks ids so Search skips them without touching the graph.
func (idx *Index) Hide(ids []storage.RecordID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range ids {
		idx.hidden[id] = struct{}{}
	}
}

// Delete performs the spec §4.5 tombstone procedure: the slot's id
// becomes invalid and every occurrence of id in any neighbor list is
// invalidated in place. Neighborhoods are not re-stitched; Refit is the
// recovery path.
func (idx *Index) Delete(ids []storage.RecordID) {
	idx.mu.Lock()
	slots := make([]int, 0, len(ids))
	for _, id := range ids {
		slot, ok := idx.idToSlot[id]
		if !ok {
			continue
		}
		idx.ids[slot] = storage.InvalidRecordID
		idx.records[slot] = storage.Record{}
		delete(idx.idToSlot, id)
		delete(idx.hidden, id)
		slots = append(slots, slot)

		if idx.entryPoint == slot {
			idx.entryPoint = idx.firstLiveSlotLocked()
		}
	}
	base := idx.base
	upper := idx.upper
	idx.mu.Unlock()

	for _, id := range ids {
		for _, nl := range base {
			if nl != nil {
				nl.tombstone(id)
			}
		}
		for _, layer := range upper {
			for _, nl := range layer {
				nl.tombstone(id)
			}
		}
	}
	_ = slots
}

func (idx *Index) firstLiveSlotLocked() int {
	for s, id := range idx.ids {
		if id != storage.InvalidRecordID {
			return s
		}
	}
	return -1
}

// Refit rebuilds the graph from scratch using every non-deleted,
// non-hidden record (spec §4.5's stated recovery path for accumulated
// tombstones).
func (idx *Index) Refit() error {
	idx.mu.Lock()
	live := make(map[storage.RecordID]storage.Record)
	for slot, id := range idx.ids {
		if id == storage.InvalidRecordID {
			continue
		}
		if _, hidden := idx.hidden[id]; hidden {
			continue
		}
		live[id] = idx.records[slot]
	}
	idx.ids = nil
	idx.records = nil
	idx.levels = nil
	idx.idToSlot = make(map[storage.RecordID]int)
	idx.base = nil
	idx.upper = nil
	idx.entryPoint = -1
	idx.maxLayer = 0
	idx.hidden = make(map[storage.RecordID]struct{})
	idx.built = false
	idx.mu.Unlock()

	return idx.Build(live)
}
