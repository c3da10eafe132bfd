// Package ivfpq implements the inverted-file + product-quantization
// index (spec §4.6). Grounded on the teacher's pkg/ivf/ivf_pq.go and
// internal/quantization/product.go, with one deliberate deviation: the
// teacher trains its PQ codebooks on IVF residuals (vector minus nearest
// IVF centroid); the spec quantizes raw sub-vectors directly (§4.6 step
// 4), so that is what this package does. Codebook and coarse-centroid
// training both delegate to internal/kmeans rather than the teacher's
// private KMeansPlusPlus, since both trainings are the same algorithm.
package ivfpq

import (
	"container/heap"
	"math/rand"
	"sort"
	"sync"

	"github.com/therealutkarshpriyadarshi/vectordb/internal/kmeans"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/metadata"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/storage"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/vector"
	"github.com/therealutkarshpriyadarshi/vectordb/pkg/errs"
)

// Config holds the parameters named in spec §4.6. Subspaces corresponds
// to the spec's confusingly-named "sub_dimension (S)" parameter, which
// is actually a subspace *count*, not a dimension.
type Config struct {
	Centroids     int // C
	Subspaces     int // S; requires D mod S == 0
	SubCentroids  int // K'; must fit in a byte
	NumIterations int
	NumProbes     int
	Metric        vector.Metric
}

func DefaultConfig(metric vector.Metric) Config {
	return Config{Centroids: 256, Subspaces: 16, SubCentroids: 32, NumIterations: 100, NumProbes: 4, Metric: metric}
}

// Index is the IVF+PQ index.
type Index struct {
	mu sync.RWMutex

	cfg Config
	dim int

	centroids     []vector.Vector
	clusterCounts []int
	clusters      [][]storage.RecordID
	clusterOf     map[storage.RecordID]int

	codebook [][]vector.Vector // codebook[s][k]
	codes    map[storage.RecordID][]byte

	metadataOf map[storage.RecordID]map[string]metadata.Value

	hidden       map[storage.RecordID]struct{}
	built        bool
	lastInserted storage.RecordID

	rng *rand.Rand
}

func New(cfg Config) *Index {
	return &Index{
		cfg:        cfg,
		clusterOf:  make(map[storage.RecordID]int),
		codes:      make(map[storage.RecordID][]byte),
		metadataOf: make(map[storage.RecordID]map[string]metadata.Value),
		hidden:     make(map[storage.RecordID]struct{}),
		rng:        rand.New(rand.NewSource(1)),
	}
}

func (idx *Index) Metric() vector.Metric { return idx.cfg.Metric }

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
	return Meta{Count: len(idx.clusterOf), LastInserted: idx.lastInserted, Hidden: hidden, Built: idx.built}
}

// CompressionRatio reports the ratio of raw vector bytes (dim float32s) to
// PQ-encoded bytes (one byte per subspace) per record, feeding the IVF+PQ
// compression-ratio gauge (SPEC_FULL.md §4). Zero before Build.
func (idx *Index) CompressionRatio() float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.cfg.Subspaces == 0 || idx.dim == 0 {
		return 0
	}
	return float64(idx.dim*4) / float64(idx.cfg.Subspaces)
}

func (idx *Index) subDim() int { return idx.dim / idx.cfg.Subspaces }

func subVector(v vector.Vector, s, subDim int) vector.Vector {
	return v[s*subDim : (s+1)*subDim]
}

// Build runs codebook training, IVF training, cluster assignment, and
// quantization, in that order (spec §4.6).
func (idx *Index) Build(records map[storage.RecordID]storage.Record) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(idx.clusterOf) != 0 {
		return errs.Internal("ivfpq: Build called on a non-empty index")
	}
	if len(records) == 0 {
		return errs.InvalidParameter("ivfpq: cannot build from zero records")
	}

	ids := make([]storage.RecordID, 0, len(records))
	vecs := make([]vector.Vector, 0, len(records))
	for id, rec := range records {
		ids = append(ids, id)
		vecs = append(vecs, rec.Vector)
	}
	idx.dim = len(vecs[0])
	if idx.dim%idx.cfg.Subspaces != 0 {
		return errs.InvalidParameter("ivfpq: dimension %d not divisible by subspace count %d", idx.dim, idx.cfg.Subspaces)
	}
	if idx.cfg.SubCentroids <= 0 || idx.cfg.SubCentroids > 256 {
		return errs.InvalidParameter("ivfpq: sub_centroids %d must fit in a byte", idx.cfg.SubCentroids)
	}

	subDim := idx.subDim()

	// 1. Codebook training, one k-means run per subspace. There is exactly
	// one sub-vector per training record per subspace, so a requested
	// sub_centroids above the record count is capped down to it rather
	// than rejected: the dequantization guarantee ("reconstruct(quantize(v))
	// == v when K' >= distinct sub-vectors per sub-space", spec §8) depends
	// on a small training set being able to give every sub-vector its own
	// codebook entry even when the caller's K' default exceeds N.
	codebook := make([][]vector.Vector, idx.cfg.Subspaces)
	for s := 0; s < idx.cfg.Subspaces; s++ {
		subvecs := make([]vector.Vector, len(vecs))
		for i, v := range vecs {
			subvecs[i] = subVector(v, s, subDim)
		}
		k := idx.cfg.SubCentroids
		if k > len(subvecs) {
			k = len(subvecs)
		}
		res, err := kmeans.Fit(subvecs, k, idx.cfg.NumIterations, idx.cfg.Metric, idx.rng)
		if err != nil {
			return err
		}
		codebook[s] = res.Centroids
	}

	// 2. IVF training on full-length vectors.
	ivfRes, err := kmeans.Fit(vecs, idx.cfg.Centroids, idx.cfg.NumIterations, idx.cfg.Metric, idx.rng)
	if err != nil {
		return err
	}

	// 3. Cluster assignment.
	clusters := make([][]storage.RecordID, idx.cfg.Centroids)
	clusterCounts := make([]int, idx.cfg.Centroids)
	clusterOf := make(map[storage.RecordID]int, len(ids))
	for i, id := range ids {
		c := ivfRes.Assignments[i]
		clusters[c] = append(clusters[c], id)
		clusterCounts[c]++
		clusterOf[id] = c
	}

	// 4. Quantization.
	codes := make(map[storage.RecordID][]byte, len(ids))
	metadataOf := make(map[storage.RecordID]map[string]metadata.Value, len(ids))
	for i, id := range ids {
		codes[id] = quantize(vecs[i], codebook, subDim, idx.cfg.Metric)
		metadataOf[id] = records[id].Metadata
	}

	idx.centroids = ivfRes.Centroids
	idx.clusterCounts = clusterCounts
	idx.clusters = clusters
	idx.clusterOf = clusterOf
	idx.codebook = codebook
	idx.codes = codes
	idx.metadataOf = metadataOf
	idx.built = true
	if len(ids) > 0 {
		idx.lastInserted = ids[len(ids)-1]
	}
	return nil
}

func quantize(v vector.Vector, codebook [][]vector.Vector, subDim int, metric vector.Metric) []byte {
	code := make([]byte, len(codebook))
	for s, centroids := range codebook {
		sv := subVector(v, s, subDim)
		best := 0
		bestDist := vector.Distance(sv, centroids[0], metric)
		for k := 1; k < len(centroids); k++ {
			d := vector.Distance(sv, centroids[k], metric)
			if vector.Less(d, bestDist) {
				bestDist = d
				best = k
			}
		}
		code[s] = byte(best)
	}
	return code
}

// Reconstruct dequantizes id's stored code back into an approximate
// vector by concatenating codebook[s][code[s]] for every subspace.
// Supplemental to spec.md, grounded on original_source/'s IVF+PQ
// reconstruction round-trip and used by the dequantization-guarantee
// tests in spec §8.
func (idx *Index) Reconstruct(id storage.RecordID) (vector.Vector, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	code, ok := idx.codes[id]
	if !ok {
		return nil, false
	}
	return dequantize(code, idx.codebook), true
}

func dequantize(code []byte, codebook [][]vector.Vector) vector.Vector {
	subDim := len(codebook[0][0])
	out := make(vector.Vector, 0, subDim*len(codebook))
	for s, b := range code {
		out = append(out, codebook[s][b]...)
	}
	return out
}

// Insert finds the nearest centroid for each incoming record, appends it
// to that cluster, updates the centroid as a weighted average, and
// stores its PQ code (spec §4.6, "Insertion (post-build)").
func (idx *Index) Insert(records map[storage.RecordID]storage.Record) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !idx.built {
		return errs.Internal("ivfpq: Insert called before Build")
	}

	subDim := idx.subDim()
	for id, rec := range records {
		if len(rec.Vector) != idx.dim {
			return errs.InvalidArgument("ivfpq: vector dimension mismatch: expected %d, got %d", idx.dim, len(rec.Vector))
		}

		c := idx.nearestCentroid(rec.Vector)
		idx.clusters[c] = append(idx.clusters[c], id)
		n := idx.clusterCounts[c]
		idx.centroids[c] = weightedCentroid(idx.centroids[c], rec.Vector, n)
		idx.clusterCounts[c] = n + 1
		idx.clusterOf[id] = c

		idx.codes[id] = quantize(rec.Vector, idx.codebook, subDim, idx.cfg.Metric)
		idx.metadataOf[id] = rec.Metadata
		idx.lastInserted = id
	}
	return nil
}

func weightedCentroid(old, v vector.Vector, count int) vector.Vector {
	out := make(vector.Vector, len(old))
	for i := range old {
		out[i] = (float32(count)*old[i] + v[i]) / float32(count+1)
	}
	return out
}

func (idx *Index) nearestCentroid(v vector.Vector) int {
	best := 0
	bestDist := vector.Distance(v, idx.centroids[0], idx.cfg.Metric)
	for c := 1; c < len(idx.centroids); c++ {
		d := vector.Distance(v, idx.centroids[c], idx.cfg.Metric)
		if vector.Less(d, bestDist) {
			bestDist = d
			best = c
		}
	}
	return best
}

// Hide soft-deletes ids via the hidden set, per spec §4.6.
func (idx *Index) Hide(ids []storage.RecordID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range ids {
		idx.hidden[id] = struct{}{}
	}
}

// Delete is the same soft-delete as Hide for this index: the spec
// specifies only a hidden-set deletion policy for IVF+PQ, with refit as
// the physical-removal path.
func (idx *Index) Delete(ids []storage.RecordID) {
	idx.Hide(ids)
}

// Refit dequantizes every non-hidden record to its approximate vector
// and reruns Build on those approximations, clearing the hidden set
// (spec §4.6).
func (idx *Index) Refit() error {
	idx.mu.Lock()
	live := make(map[storage.RecordID]storage.Record)
	for id, code := range idx.codes {
		if _, hidden := idx.hidden[id]; hidden {
			continue
		}
		live[id] = storage.Record{Vector: dequantize(code, idx.codebook), Metadata: idx.metadataOf[id]}
	}
	cfg, rng := idx.cfg, idx.rng
	idx.mu.Unlock()

	*idx = *New(cfg)
	idx.rng = rng
	return idx.Build(live)
}

type scoredItem struct {
	id       storage.RecordID
	distance float32
}

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

// Search probes the num_probes nearest clusters and scores their
// non-hidden, filter-matching members by dequantized distance (spec
// §4.6).
func (idx *Index) Search(query vector.Vector, k int, filters metadata.Filters) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	probes := idx.nearestCentroids(query, idx.cfg.NumProbes)

	h := &maxHeap{}
	heap.Init(h)
	for _, c := range probes {
		for _, id := range idx.clusters[c] {
			if _, hidden := idx.hidden[id]; hidden {
				continue
			}
			if !filters.Match(idx.metadataOf[id]) {
				continue
			}
			code := idx.codes[id]
			d := vector.Distance(query, dequantize(code, idx.codebook), idx.cfg.Metric)
			if h.Len() < k {
				heap.Push(h, scoredItem{id: id, distance: d})
			} else if h.Len() > 0 && vector.Less(d, (*h)[0].distance) {
				heap.Pop(h)
				heap.Push(h, scoredItem{id: id, distance: d})
			}
		}
	}

	out := make([]Result, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		item := heap.Pop(h).(scoredItem)
		out[i] = Result{ID: item.id, Distance: item.distance, Metadata: idx.metadataOf[item.id]}
	}
	sort.Slice(out, func(i, j int) bool { return vector.Less(out[i].Distance, out[j].Distance) })
	return out
}

func (idx *Index) nearestCentroids(query vector.Vector, n int) []int {
	type cd struct {
		c int
		d float32
	}
	all := make([]cd, len(idx.centroids))
	for c, centroid := range idx.centroids {
		all[c] = cd{c: c, d: vector.Distance(query, centroid, idx.cfg.Metric)}
	}
	sort.Slice(all, func(i, j int) bool { return vector.Less(all[i].d, all[j].d) })
	if n > len(all) {
		n = len(all)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = all[i].c
	}
	return out
}

// Result is a single scored, metadata-joined search hit.
type Result struct {
	ID       storage.RecordID
	Distance float32
	Metadata map[string]metadata.Value
}
