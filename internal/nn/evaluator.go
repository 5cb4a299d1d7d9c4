package nn

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/go-logr/logr"

	"github.com/pkremer/chessforge/internal/board"
	"github.com/pkremer/chessforge/internal/eval"
)

// Mode selects how StaticEval dispatches a forward pass: inline on the
// calling goroutine, or through the batching worker pool in pool.go.
type Mode int

const (
	ModeSync Mode = iota
	ModeAsync
)

// CacheEntry is one memoized forward-pass result: the raw WDL probabilities
// and the centipawn score they map to.
type CacheEntry struct {
	W, D, L float32
	CP      int
}

// Evaluator is the neural evaluator's implementation of eval.Evaluator: it
// loads an lc0-format weight file, extracts board features, runs the
// attention-body forward pass and maps the result to a centipawn score,
// memoizing by position hash.
type Evaluator struct {
	log logr.Logger

	mu      sync.RWMutex
	weights *Weights
	ready   bool
	path    string
	lastErr error

	backend  LinearBackend
	cpScale  int
	scoreMap ScoreMap

	cache      *ristretto.Cache[uint64, CacheEntry]
	cacheLimit int64

	mode Mode
	pool *workerPool

	evalCalls   atomic.Uint64
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
}

// NewEvaluator builds an unloaded evaluator; call LoadWeights before
// StaticEval returns anything but 0.
func NewEvaluator(log logr.Logger) *Evaluator {
	e := &Evaluator{
		log:        log,
		backend:    ScalarBackend{},
		cpScale:    220,
		scoreMap:   ScoreMapAtanh,
		cacheLimit: 1 << 18,
	}
	e.rebuildCache()
	return e
}

func (e *Evaluator) rebuildCache() {
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, CacheEntry]{
		NumCounters: e.cacheLimit * 10,
		MaxCost:     e.cacheLimit,
		BufferItems: 64,
	})
	if err != nil {
		e.log.Error(err, "nn: failed to allocate result cache, falling back to uncached evaluation")
		return
	}
	if e.cache != nil {
		e.cache.Close()
	}
	e.cache = cache
}

// SetCacheLimit resizes the result cache; a limit below 1024 is raised to
// 1024, mirroring how hash-table options are floored elsewhere.
func (e *Evaluator) SetCacheLimit(entries int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entries < 1024 {
		entries = 1024
	}
	e.cacheLimit = entries
	e.rebuildCache()
}

// SetScoreMapping configures the WDL-to-centipawn conversion.
func (e *Evaluator) SetScoreMapping(cpScale int, mode ScoreMap) {
	if cpScale < 1 {
		cpScale = 1
	} else if cpScale > 2000 {
		cpScale = 2000
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cpScale = cpScale
	e.scoreMap = mode
}

// SetMode switches between synchronous inline evaluation and the batching
// worker pool. Switching modes restarts the pool.
func (e *Evaluator) SetMode(mode Mode, workers, batchMax int, batchWait time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pool != nil {
		e.pool.stop()
		e.pool = nil
	}
	e.mode = mode
	if mode == ModeAsync && e.ready {
		e.pool = newWorkerPool(e, workers, batchMax, batchWait)
	}
}

// LoadWeights decompresses and parses an lc0-format weight file from disk
// and validates its shapes before making the evaluator ready.
func (e *Evaluator) LoadWeights(path string, strict bool) error {
	f, err := os.Open(path)
	if err != nil {
		e.mu.Lock()
		e.ready = false
		e.lastErr = err
		e.mu.Unlock()
		return err
	}
	defer f.Close()

	w, err := LoadWeights(f)
	if err == nil {
		err = ValidateAttentionValueShapes(w, strict)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.ready = false
		e.lastErr = err
		if e.pool != nil {
			e.pool.stop()
			e.pool = nil
		}
		return err
	}

	e.weights = w
	e.path = path
	e.lastErr = nil
	e.ready = true
	e.rebuildCache()
	if e.mode == ModeAsync {
		if e.pool != nil {
			e.pool.stop()
		}
		e.pool = newWorkerPool(e, 0, 0, 0)
	}
	return nil
}

// Ready reports whether a validated weight file has been loaded.
func (e *Evaluator) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// LastError returns the error from the most recent failed LoadWeights call.
func (e *Evaluator) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

func (e *Evaluator) runForward(planes Planes112) CacheEntry {
	e.mu.RLock()
	w := e.weights
	backend := e.backend
	cpScale := e.cpScale
	scoreMap := e.scoreMap
	e.mu.RUnlock()

	wdl, err := ForwardAttentionValue(backend, w, planes)
	if err != nil {
		e.log.Error(err, "nn: forward pass failed")
		return CacheEntry{}
	}
	return CacheEntry{
		W:  wdl.Win,
		D:  wdl.Draw,
		L:  wdl.Loss,
		CP: MapWDLToCP(wdl, cpScale, scoreMap),
	}
}

func (e *Evaluator) probeCache(key uint64) (CacheEntry, bool) {
	if e.cache == nil {
		return CacheEntry{}, false
	}
	return e.cache.Get(key)
}

func (e *Evaluator) storeCache(key uint64, entry CacheEntry) {
	if e.cache == nil {
		return
	}
	e.cache.SetWithTTL(key, entry, 1, 0)
}

func (e *Evaluator) evaluate(key uint64, planes Planes112) CacheEntry {
	if entry, ok := e.probeCache(key); ok {
		e.cacheHits.Add(1)
		return entry
	}
	e.cacheMisses.Add(1)

	e.mu.RLock()
	pool := e.pool
	mode := e.mode
	e.mu.RUnlock()

	if mode == ModeAsync && pool != nil {
		// the pool's worker loop stores the result itself once computed.
		return pool.submit(key, planes)
	}
	entry := e.runForward(planes)
	e.storeCache(key, entry)
	return entry
}

// StaticEval implements eval.Evaluator. The search layer's Evaluator
// interface passes only the current position (no move history), so the
// feature extractor's 8-ply history window degenerates to a single
// repeated ply; this costs some of the network's move-history signal but
// keeps the search/evaluator boundary uniform between HCE and the NN.
func (e *Evaluator) StaticEval(pos *board.Position) int {
	e.evalCalls.Add(1)
	e.mu.RLock()
	ready := e.ready
	e.mu.RUnlock()
	if !ready {
		return 0
	}

	planes := ExtractFeatures112([]*board.Position{pos})
	entry := e.evaluate(pos.Hash, planes)
	return entry.CP
}

// StaticEvalTrace implements eval.Evaluator with a thin breakdown: the
// network produces one scalar, not the HCE's per-term decomposition.
func (e *Evaluator) StaticEvalTrace(pos *board.Position, out *eval.Breakdown) int {
	score := e.StaticEval(pos)
	if out != nil {
		*out = eval.Breakdown{}
		if pos.SideToMove == board.White {
			out.TotalWhitePov = score
		} else {
			out.TotalWhitePov = -score
		}
	}
	return score
}

// Stats implements eval.Evaluator. It reports only EvalCalls in the shared
// Stats shape; CacheStats exposes the cache hit/miss counters.
func (e *Evaluator) Stats() eval.Stats {
	return eval.Stats{EvalCalls: e.evalCalls.Load()}
}

// ClearStats implements eval.Evaluator.
func (e *Evaluator) ClearStats() {
	e.evalCalls.Store(0)
	e.cacheHits.Store(0)
	e.cacheMisses.Store(0)
}

// EvalWDL exposes the raw win/draw/loss probabilities alongside the
// centipawn score, for UCI diagnostics that want more than one number.
func (e *Evaluator) EvalWDL(pos *board.Position) (w, d, l float32, cp int, ok bool) {
	e.mu.RLock()
	ready := e.ready
	e.mu.RUnlock()
	if !ready {
		return 0, 0, 0, 0, false
	}
	planes := ExtractFeatures112([]*board.Position{pos})
	entry := e.evaluate(pos.Hash, planes)
	return entry.W, entry.D, entry.L, entry.CP, true
}

// CacheStats reports cache hit/miss totals since the last ClearStats.
func (e *Evaluator) CacheStats() (hits, misses uint64) {
	return e.cacheHits.Load(), e.cacheMisses.Load()
}

// Close releases the result cache and stops the worker pool, if any.
func (e *Evaluator) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pool != nil {
		e.pool.stop()
		e.pool = nil
	}
	if e.cache != nil {
		e.cache.Close()
		e.cache = nil
	}
}
