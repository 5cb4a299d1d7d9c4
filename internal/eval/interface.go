package eval

import "github.com/pkremer/chessforge/internal/board"

// Evaluator is implemented by every static evaluator the search can call:
// the hand-crafted evaluator in this package and the neural-network
// evaluator in internal/nn. The search layer only ever depends on this
// interface, never on a concrete evaluator, so swapping evaluators is a
// UCI option rather than a recompile.
type Evaluator interface {
	// StaticEval returns a centipawn score from the side-to-move's point of
	// view (positive means the side to move is better).
	StaticEval(pos *board.Position) int

	// StaticEvalTrace behaves like StaticEval but also fills a breakdown
	// for diagnostic UCI commands ("eval").
	StaticEvalTrace(pos *board.Position, out *Breakdown) int

	// Stats returns a snapshot of accumulated evaluation statistics.
	Stats() Stats

	// ClearStats resets accumulated statistics (and any auxiliary caches
	// that stats track hit rates for).
	ClearStats()
}

// Stats mirrors the fine-grained evaluation counters kept by the original
// engine: call counts and, for the pawn hash, hit/probe totals.
type Stats struct {
	EvalCalls     uint64
	PawnHashHits  uint64
	PawnHashProbes uint64
}

// PawnHashHitRate returns PawnHashHits/PawnHashProbes, or 0 if no probes
// have happened yet.
func (s Stats) PawnHashHitRate() float64 {
	if s.PawnHashProbes == 0 {
		return 0
	}
	return float64(s.PawnHashHits) / float64(s.PawnHashProbes)
}

// Breakdown holds the per-term decomposition of a static evaluation call,
// filled by StaticEvalTrace. All values, TotalWhitePov included, are
// white-POV centipawns; the neural evaluator's (much thinner) breakdown
// fills only TotalWhitePov.
type Breakdown struct {
	MaterialPSQT   int
	PawnStructure  int
	Mobility       int
	KingSafety     int
	PieceFeatures  int
	Threats        int
	Space          int
	KingActivity   int
	Tempo          int
	TotalWhitePov  int
}
