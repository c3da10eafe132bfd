// Package engine implements the index façade (spec §4.7): a
// tagged-algorithm selector over Flat, HNSW, and IVF+PQ behind one
// uniform build/insert/delete/search contract, plus the ambient
// configuration and persistence wiring around it. Grounded on
// other_examples' index wrapper pattern (hnswWrapper/ivfpqWrapper/
// flatWrapper each adapting a concrete index to one shared interface)
// and on the teacher's pkg/config/config.go for the Config/
// LoadFromEnv/Validate shape.
package engine

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/vectordb/internal/fileops"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/flatindex"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/hnsw"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/ivfpq"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/metadata"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/storage"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/telemetry"
	"github.com/therealutkarshpriyadarshi/vectordb/internal/vector"
	"github.com/therealutkarshpriyadarshi/vectordb/pkg/errs"
)

// Algorithm is the façade's tagged index-variant selector.
type Algorithm int

const (
	Flat Algorithm = iota
	HNSW
	IVFPQ
)

func (a Algorithm) String() string {
	switch a {
	case Flat:
		return "flat"
	case HNSW:
		return "hnsw"
	case IVFPQ:
		return "ivfpq"
	default:
		return "unknown"
	}
}

func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "flat":
		return Flat, nil
	case "hnsw":
		return HNSW, nil
	case "ivfpq":
		return IVFPQ, nil
	default:
		return 0, errs.InvalidArgument("unknown algorithm %q", s)
	}
}

// Params bundles the algorithm selector, dimension, and the relevant
// algorithm-specific config block.
type Params struct {
	Algorithm Algorithm
	Dimension int
	HNSW      hnsw.Config
	IVFPQ     ivfpq.Config
	Metric    vector.Metric
}

// DefaultParams returns the spec's stated defaults for algorithm under
// metric.
func DefaultParams(algorithm Algorithm, metric vector.Metric) Params {
	return Params{
		Algorithm: algorithm,
		Metric:    metric,
		HNSW:      hnsw.DefaultConfig(metric),
		IVFPQ:     ivfpq.DefaultConfig(metric),
	}
}

var nameRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidateName is the single name-validation helper for entry points,
// replacing the regex checks scattered across CLI/API surfaces in
// the original system (spec REDESIGN FLAGS). Supplemental to spec.md,
// exported for façade implementations even though the façade itself is
// out of this module's scope.
func ValidateName(s string) error {
	if !nameRe.MatchString(s) {
		return errs.InvalidArgument("name %q must match [a-z0-9_]+", s)
	}
	return nil
}

// Config is the engine's ambient configuration, loaded the way the
// teacher's pkg/config/config.go loads its Config: a Default()
// constructor, a LoadFromEnv() that overlays VECTORDB_* variables, and a
// Validate().
type Config struct {
	DataDir  string
	LogLevel telemetry.Level
}

func DefaultConfig() Config {
	return Config{DataDir: "./data", LogLevel: telemetry.Info}
}

func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("VECTORDB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("VECTORDB_LOG_LEVEL"); v != "" {
		switch v {
		case "debug":
			cfg.LogLevel = telemetry.Debug
		case "info":
			cfg.LogLevel = telemetry.Info
		case "warn":
			cfg.LogLevel = telemetry.Warn
		case "error":
			cfg.LogLevel = telemetry.Error
		}
	}
	return cfg
}

func (c Config) Validate() error {
	if c.DataDir == "" {
		return errs.InvalidArgument("engine: data dir must not be empty")
	}
	return nil
}

// Result is the façade's uniform search hit: {id, distance, metadata}.
type Result struct {
	ID       storage.RecordID
	Distance float32
	Metadata map[string]metadata.Value
}

// Meta mirrors the spec's index metadata: count, last-inserted id, a
// hidden-ids set, and a built flag.
type Meta struct {
	Count        int
	LastInserted storage.RecordID
	Hidden       map[storage.RecordID]struct{}
	Built        bool
}

// Engine owns the Storage map and the single active index variant named
// by Params.Algorithm, and is the sole mutator of stored records (spec
// §3).
type Engine struct {
	mu      sync.RWMutex
	params  Params
	storage *storage.Storage

	flat  *flatindex.Index
	hnsw  *hnsw.Index
	ivf   *ivfpq.Index

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// New constructs an empty Engine for the given params.
func New(params Params, logger *telemetry.Logger, metrics *telemetry.Metrics) *Engine {
	e := &Engine{params: params, storage: storage.New(), logger: logger, metrics: metrics}
	switch params.Algorithm {
	case HNSW:
		e.hnsw = hnsw.New(params.HNSW)
	case IVFPQ:
		e.ivf = ivfpq.New(params.IVFPQ)
	default:
		e.flat = flatindex.New(params.Metric)
	}
	return e
}

func (e *Engine) checkDimension(records map[storage.RecordID]storage.Record) error {
	for _, rec := range records {
		if e.params.Dimension != 0 && len(rec.Vector) != e.params.Dimension {
			return errs.InvalidArgument("vector dimension mismatch: expected %d, got %d", e.params.Dimension, len(rec.Vector))
		}
	}
	return nil
}

// Build performs the one-shot construction from an empty engine.
func (e *Engine) Build(records map[storage.RecordID]storage.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkDimension(records); err != nil {
		return err
	}
	if e.params.Dimension == 0 {
		for _, rec := range records {
			e.params.Dimension = len(rec.Vector)
			break
		}
	}

	// Storage first, then index (spec §7): commit every record before
	// building, so a build failure can be rolled back by restoring exactly
	// what was there before this call rather than leaving the index ahead
	// of storage.
	prior := make(map[storage.RecordID]storage.Record, len(records))
	hadPrior := make(map[storage.RecordID]bool, len(records))
	for id, rec := range records {
		if p, ok := e.storage.Get(id); ok {
			prior[id] = p
			hadPrior[id] = true
		}
		e.storage.InsertWithID(id, rec)
	}

	var err error
	start := time.Now()
	switch e.params.Algorithm {
	case HNSW:
		err = e.hnsw.Build(records)
	case IVFPQ:
		err = e.ivf.Build(records)
	default:
		e.flat.Build(records)
	}
	if e.metrics != nil {
		e.metrics.ObserveOperation(e.params.Algorithm.String(), "build", time.Since(start).Seconds(), err)
	}
	if err != nil {
		for id := range records {
			if hadPrior[id] {
				e.storage.InsertWithID(id, prior[id])
			} else {
				e.storage.Delete(id)
			}
		}
		return err
	}
	e.updateGauges()
	if e.logger != nil {
		e.logger.WithField("algorithm", e.params.Algorithm.String()).WithField("count", len(records)).Info("build completed")
	}
	return nil
}

// Insert incrementally adds records to a previously built engine. Per
// spec §7, each record is committed to storage before the index is
// updated; if the index rejects a record, that record's storage entry is
// rolled back before Insert returns, so a reader can never observe an id
// in the index that storage does not have, nor an id in storage that the
// index failed to link.
func (e *Engine) Insert(records map[storage.RecordID]storage.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkDimension(records); err != nil {
		return err
	}

	algo := e.params.Algorithm.String()
	for id, rec := range records {
		prior, hadPrior := e.storage.Get(id)
		e.storage.InsertWithID(id, rec)

		start := time.Now()
		var err error
		switch e.params.Algorithm {
		case HNSW:
			err = e.hnsw.Insert(id, rec)
		case IVFPQ:
			err = e.ivf.Insert(map[storage.RecordID]storage.Record{id: rec})
		default:
			e.flat.Insert(map[storage.RecordID]storage.Record{id: rec})
		}
		if e.metrics != nil {
			e.metrics.ObserveOperation(algo, "insert", time.Since(start).Seconds(), err)
		}
		if err != nil {
			if hadPrior {
				e.storage.InsertWithID(id, prior)
			} else {
				e.storage.Delete(id)
			}
			return err
		}
	}
	e.updateGauges()
	return nil
}

// Delete removes ids. For Flat this is a hard delete (spec §4.4); for
// HNSW and IVF+PQ it is the soft-delete procedure each index defines
// (spec §4.5/§4.6).
func (e *Engine) Delete(ids []storage.RecordID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.params.Algorithm {
	case HNSW:
		e.hnsw.Delete(ids)
	case IVFPQ:
		e.ivf.Delete(ids)
	default:
		e.flat.Delete(ids)
	}
	for _, id := range ids {
		e.storage.Delete(id)
	}
	e.updateGauges()
}

// Hide soft-marks ids without removing their backing data.
func (e *Engine) Hide(ids []storage.RecordID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.params.Algorithm {
	case HNSW:
		e.hnsw.Hide(ids)
	case IVFPQ:
		e.ivf.Hide(ids)
	default:
		e.flat.Hide(ids)
	}
	e.updateGauges()
}

// Search parses filterString (spec §4.2 grammar) and returns up to k
// scored, metadata-joined hits.
func (e *Engine) Search(query vector.Vector, k int, filterString string) ([]Result, error) {
	if k <= 0 {
		return nil, errs.InvalidArgument("k must be positive, got %d", k)
	}
	if e.params.Dimension != 0 && len(query) != e.params.Dimension {
		return nil, errs.InvalidArgument("query dimension mismatch: expected %d, got %d", e.params.Dimension, len(query))
	}
	filters, err := metadata.Parse(filterString)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	start := time.Now()
	var out []Result
	switch e.params.Algorithm {
	case HNSW:
		for _, r := range e.hnsw.Search(query, k, filters) {
			out = append(out, Result{ID: r.ID, Distance: r.Distance, Metadata: r.Metadata})
		}
	case IVFPQ:
		for _, r := range e.ivf.Search(query, k, filters) {
			out = append(out, Result{ID: r.ID, Distance: r.Distance, Metadata: r.Metadata})
		}
	default:
		for _, r := range e.flat.Search(query, k, filters) {
			rec, _ := e.storage.Get(r.ID)
			out = append(out, Result{ID: r.ID, Distance: r.Distance, Metadata: rec.Metadata})
		}
	}
	if e.metrics != nil {
		e.metrics.ObserveOperation(e.params.Algorithm.String(), "search", time.Since(start).Seconds(), nil)
	}
	return out, nil
}

// Refit rebuilds the active index from its non-hidden records.
func (e *Engine) Refit() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	var err error
	switch e.params.Algorithm {
	case HNSW:
		err = e.hnsw.Refit()
	case IVFPQ:
		err = e.ivf.Refit()
	default:
		e.flat.Refit()
	}
	if e.metrics != nil {
		e.metrics.ObserveOperation(e.params.Algorithm.String(), "refit", time.Since(start).Seconds(), err)
	}
	if err == nil {
		e.updateGauges()
	}
	return err
}

func (e *Engine) Metadata() Meta {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentMeta()
}

// currentMeta reads the active index's metadata without taking e.mu;
// callers must already hold e.mu (read or write).
func (e *Engine) currentMeta() Meta {
	switch e.params.Algorithm {
	case HNSW:
		m := e.hnsw.Metadata()
		return Meta{Count: m.Count, LastInserted: m.LastInserted, Hidden: m.Hidden, Built: m.Built}
	case IVFPQ:
		m := e.ivf.Metadata()
		return Meta{Count: m.Count, LastInserted: m.LastInserted, Hidden: m.Hidden, Built: m.Built}
	default:
		m := e.flat.Metadata()
		return Meta{Count: m.Count, LastInserted: m.LastInserted, Hidden: m.Hidden, Built: m.Built}
	}
}

// updateGauges refreshes the index-size gauge and any algorithm-specific
// gauges (HNSW layer population, IVF+PQ compression ratio) after a
// mutating operation. Callers must already hold e.mu.
func (e *Engine) updateGauges() {
	if e.metrics == nil {
		return
	}
	algo := e.params.Algorithm.String()
	meta := e.currentMeta()
	e.metrics.IndexSize.WithLabelValues(algo).Set(float64(meta.Count - len(meta.Hidden)))

	switch e.params.Algorithm {
	case HNSW:
		for layer, count := range e.hnsw.LayerPopulation() {
			e.metrics.HNSWLayerSize.WithLabelValues(strconv.Itoa(layer)).Set(float64(count))
		}
	case IVFPQ:
		e.metrics.PQCompression.WithLabelValues(algo).Set(e.ivf.CompressionRatio())
	}
}

func (e *Engine) Metric() vector.Metric { return e.params.Metric }

// Persist writes the params blob and the storage blob into dir via the
// file-ops collaborator (spec §6). The index itself is not serialized
// byte-for-byte; Load reconstructs it deterministically from the
// persisted records, which the spec explicitly allows ("not specified
// byte-exact") and avoids needing a bespoke binary layout per algorithm
// variant for data that Build can regenerate from the storage blob
// alone.
func (e *Engine) Persist(dir string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.FileError(err, "create persistence dir %s", dir)
	}

	p := fileops.Params{Algorithm: e.params.Algorithm.String(), Metric: e.params.Metric.String(), Dimension: e.params.Dimension}
	if err := fileops.WriteParams(filepath.Join(dir, "params.yaml"), p); err != nil {
		return err
	}
	return fileops.WriteBinary(filepath.Join(dir, "storage.bin"), e.storage.Snapshot())
}

// Load restores an Engine from a directory previously written by
// Persist: it reads the params and storage blobs, then rebuilds the
// active index from the recovered records.
func Load(dir string, logger *telemetry.Logger, metrics *telemetry.Metrics) (*Engine, error) {
	p, err := fileops.ReadParams(filepath.Join(dir, "params.yaml"))
	if err != nil {
		return nil, err
	}
	algorithm, err := ParseAlgorithm(p.Algorithm)
	if err != nil {
		return nil, err
	}
	metric, err := vector.ParseMetric(p.Metric)
	if err != nil {
		return nil, err
	}

	var records map[storage.RecordID]storage.Record
	if err := fileops.ReadBinary(filepath.Join(dir, "storage.bin"), &records); err != nil {
		return nil, err
	}

	params := DefaultParams(algorithm, metric)
	params.Dimension = p.Dimension
	e := New(params, logger, metrics)
	if len(records) > 0 {
		if err := e.Build(records); err != nil {
			return nil, err
		}
	}
	return e, nil
}
