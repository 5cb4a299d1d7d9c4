// Package search implements the engine's move ordering, static exchange
// evaluation, transposition table, time management and the principal
// variation search driver itself. It depends only on internal/board and the
// eval.Evaluator interface, never on a concrete evaluator, so the hand-crafted
// evaluator and the neural evaluator are interchangeable via a UCI option.
package search

// Config bundles every tunable pruning/reduction constant into one struct,
// mirroring the original engine's SearchConfig (a single struct rather than
// scattered package constants) so every field can be exposed as a UCI spin
// option without touching the search code itself.
type Config struct {
	MaxDepth int
	MaxPly   int

	// Aspiration windows.
	AspirationMinDepth int
	AspirationInitial  int
	AspirationMax      int

	// Reverse futility / static null-move pruning.
	RFPMaxDepth  int
	RFPBase      int
	RFPPerDepth  int

	// Razoring.
	RazorMaxDepth int
	RazorBase     int
	RazorPerDepth int

	// Null-move pruning.
	NMPMinDepth      int
	NMPBaseReduction int
	NMPDivisor       int
	NMPMargin        int
	NMPVerifyDepth   int

	// ProbCut.
	UseProbCut          bool
	ProbCutMinDepth     int
	ProbCutMargin       int
	ProbCutReduction    int
	ProbCutSEEThreshold int

	// Pre-move pruning of quiets in the main move loop.
	FutilityMaxDepth int
	FutilityBase     int
	FutilityPerDepth int

	LMPBase     [5]int // indexed by depth 0..4, depth>=5 disables LMP
	HistoryPruningMinMoveCount int
	HistoryPruningThreshold    int

	// Late move reductions.
	LMRMinMoveCount    int
	LMRHistoryThreshold int

	// Singular extensions.
	UseSingularExtensions bool
	SingularMinDepth      int
	SingularMargin        int
	SingularMaxExtensions int

	// Quiescence search.
	QSDeltaMargin    int
	UseSEEPruningQS  bool
	QSSEEThreshold   int
	UseSEEInOrdering bool

	// History heuristics.
	HistoryMax        int16
	HistoryBonusScale int
	HistoryMalusDivisor int

	// Correction history (Supplemented Feature C.6 — off by default since
	// spec.md's HCE description does not mention it).
	UseCorrectionHistory bool
	CorrectionMax        int32
	CorrectionScale      int32

	// Transposition table size in megabytes.
	HashMB int
}

// DefaultConfig returns the tuning used when no UCI options override it,
// grounded on original_source/src/search.h's default SearchConfig values.
func DefaultConfig() Config {
	return Config{
		MaxDepth: 128,
		MaxPly:   128,

		AspirationMinDepth: 4,
		AspirationInitial:  24,
		AspirationMax:      1024,

		RFPMaxDepth: 8,
		RFPBase:     70,
		RFPPerDepth: 80,

		RazorMaxDepth: 3,
		RazorBase:     150,
		RazorPerDepth: 150,

		NMPMinDepth:      3,
		NMPBaseReduction: 3,
		NMPDivisor:       4,
		NMPMargin:        20,
		NMPVerifyDepth:   12,

		UseProbCut:          true,
		ProbCutMinDepth:     5,
		ProbCutMargin:       100,
		ProbCutReduction:    4,
		ProbCutSEEThreshold: 0,

		FutilityMaxDepth: 8,
		FutilityBase:     80,
		FutilityPerDepth: 90,

		LMPBase:                    [5]int{0, 6, 9, 14, 21},
		HistoryPruningMinMoveCount: 4,
		HistoryPruningThreshold:    -2000,

		LMRMinMoveCount:     3,
		LMRHistoryThreshold: 4000,

		UseSingularExtensions: true,
		SingularMinDepth:      8,
		SingularMargin:        16,
		SingularMaxExtensions: 6,

		QSDeltaMargin:    120,
		UseSEEPruningQS:  true,
		QSSEEThreshold:   0,
		UseSEEInOrdering: true,

		HistoryMax:          16384,
		HistoryBonusScale:   4,
		HistoryMalusDivisor: 2,

		UseCorrectionHistory: false,
		CorrectionMax:        1024,
		CorrectionScale:      256,

		HashMB: 16,
	}
}
