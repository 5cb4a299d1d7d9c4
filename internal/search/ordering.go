package search

import (
	"math"

	"github.com/pkremer/chessforge/internal/board"
)

// Move-picker quiet-score bonuses, per spec.md's Move Picker section.
const (
	killer1Bonus     = 1_000_000
	killer2Bonus     = 900_000
	counterMoveBonus = 800_000
)

// mvvValue mirrors SEEValue but is kept separate since the move picker's
// capture score formula names MVV explicitly and independently of SEE.
var mvvValue = [7]int{100, 320, 330, 500, 900, 10000, 0}

// Heuristics bundles every table the searcher consults and updates while
// walking a single tree: killers, counter-moves, and the three history
// tables (main, continuation, capture) the picker's scores draw on. One
// instance lives for the life of the Searcher (NewSearch resets only the
// killers; Clear, on a new game, zeroes everything), since history that
// survives across iterative-deepening depths is what makes the ordering
// improve as the search gets deeper.
type Heuristics struct {
	cfg Config

	killers      [][2]board.Move // indexed by ply
	counterMove  [64][64]board.Move
	mainHistory  [2][64][64]int16              // [side][from][to]
	contHistory  [13 * 64][13 * 64]int16        // [prevPieceTo][curPieceTo]
	captHistory  [2][6][64][7]int16             // [side][movedType][to][capturedType]
	lmr          [][]int8                       // [depth][moveCount]
}

// NewHeuristics allocates tables sized for maxPly plies and maxDepth/256
// LMR dimensions, and precomputes the LMR table.
func NewHeuristics(cfg Config) *Heuristics {
	h := &Heuristics{cfg: cfg}
	h.killers = make([][2]board.Move, cfg.MaxPly+8)
	h.lmr = make([][]int8, cfg.MaxDepth+8)
	for d := range h.lmr {
		h.lmr[d] = make([]int8, 256)
		for mc := range h.lmr[d] {
			h.lmr[d][mc] = lmrReduction(d, mc)
		}
	}
	return h
}

// lmrReduction computes max(1, floor(ln(depth)*ln(move_count)/2)), zero for
// depth or move_count too small to produce a positive log.
func lmrReduction(depth, moveCount int) int8 {
	if depth < 1 || moveCount < 1 {
		return 0
	}
	ld, lm := math.Log(float64(depth)), math.Log(float64(moveCount))
	if ld <= 0 || lm <= 0 {
		return 0
	}
	r := int(math.Floor(ld * lm / 2))
	if r < 1 {
		r = 1
	}
	return int8(r)
}

// LMR returns the precomputed reduction for a depth/move-count pair,
// clamped to the table bounds.
func (h *Heuristics) LMR(depth, moveCount int) int {
	if depth < 0 {
		depth = 0
	}
	if depth >= len(h.lmr) {
		depth = len(h.lmr) - 1
	}
	if moveCount < 0 {
		moveCount = 0
	}
	if moveCount >= 256 {
		moveCount = 255
	}
	return int(h.lmr[depth][moveCount])
}

// NewSearch resets the killer moves, which should not persist across
// independent root searches, while leaving counter-moves, history tables
// and the LMR table untouched — matching the teacher's per-search reset
// scope.
func (h *Heuristics) NewSearch() {
	for i := range h.killers {
		h.killers[i] = [2]board.Move{}
	}
}

// Clear zeroes every table, used when a fresh game starts (UCI ucinewgame).
func (h *Heuristics) Clear() {
	h.NewSearch()
	h.counterMove = [64][64]board.Move{}
	h.mainHistory = [2][64][64]int16{}
	h.contHistory = [13 * 64][13 * 64]int16{}
	h.captHistory = [2][6][64][7]int16{}
}

func (h *Heuristics) Killers(ply int) (board.Move, board.Move) {
	if ply < 0 || ply >= len(h.killers) {
		return board.NoMove, board.NoMove
	}
	k := h.killers[ply]
	return k[0], k[1]
}

func (h *Heuristics) IsKiller(ply int, m board.Move) bool {
	k1, k2 := h.Killers(ply)
	return m == k1 || m == k2
}

func (h *Heuristics) AddKiller(ply int, m board.Move) {
	if ply < 0 || ply >= len(h.killers) {
		return
	}
	if h.killers[ply][0] == m {
		return
	}
	h.killers[ply][1] = h.killers[ply][0]
	h.killers[ply][0] = m
}

func (h *Heuristics) CounterMove(prev board.Move) board.Move {
	if prev == board.NoMove {
		return board.NoMove
	}
	return h.counterMove[prev.From()][prev.To()]
}

func (h *Heuristics) SetCounterMove(prev, m board.Move) {
	if prev == board.NoMove {
		return
	}
	h.counterMove[prev.From()][prev.To()] = m
}

func historyClamp(v int32, bonus int32, max int16) int16 {
	v = v + bonus - v*abs32(bonus)/int32(max)
	if v > int32(max) {
		v = int32(max)
	}
	if v < -int32(max) {
		v = -int32(max)
	}
	return int16(v)
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func (h *Heuristics) MainHistory(side board.Color, m board.Move) int {
	return int(h.mainHistory[side][m.From()][m.To()])
}

func (h *Heuristics) updateMainHistory(side board.Color, m board.Move, bonus int) {
	p := &h.mainHistory[side][m.From()][m.To()]
	*p = historyClamp(int32(*p), int32(bonus), h.cfg.HistoryMax)
}

func contIndex(piece board.Piece, to board.Square) int {
	return int(piece)*64 + int(to)
}

func (h *Heuristics) ContHistory(prevPiece board.Piece, prevTo board.Square, curPiece board.Piece, curTo board.Square) int {
	if prevPiece == board.NoPiece {
		return 0
	}
	return int(h.contHistory[contIndex(prevPiece, prevTo)][contIndex(curPiece, curTo)])
}

func (h *Heuristics) updateContHistory(prevPiece board.Piece, prevTo board.Square, curPiece board.Piece, curTo board.Square, bonus int) {
	if prevPiece == board.NoPiece {
		return
	}
	p := &h.contHistory[contIndex(prevPiece, prevTo)][contIndex(curPiece, curTo)]
	*p = historyClamp(int32(*p), int32(bonus), h.cfg.HistoryMax)
}

func (h *Heuristics) CaptureHistory(side board.Color, moved board.PieceType, to board.Square, captured board.PieceType) int {
	return int(h.captHistory[side][moved][to][captured])
}

func (h *Heuristics) updateCaptureHistory(side board.Color, moved board.PieceType, to board.Square, captured board.PieceType, bonus int) {
	p := &h.captHistory[side][moved][to][captured]
	*p = historyClamp(int32(*p), int32(bonus), h.cfg.HistoryMax)
}

// UpdateStats is called on a beta cutoff with the move that caused it, the
// list of quiet moves already tried and rejected at this node, the search
// depth, ply, side to move, the previous ply's (piece,to) for continuation
// history, and whether the cutoff move was quiet or a capture.
func (h *Heuristics) UpdateStats(
	side board.Color,
	best board.Move,
	bestPiece board.Piece,
	bestCaptured board.PieceType,
	quietsTried []board.Move,
	quietPieces []board.Piece,
	captHistTried []capturedTry,
	depth, ply int,
	prevMove board.Move,
	prevPiece board.Piece,
) {
	bonus := maxInt(1, depth*depth*h.cfg.HistoryBonusScale)
	malus := bonus / h.cfg.HistoryMalusDivisor

	if best.IsCapture() || best.IsEnPassant() {
		h.updateCaptureHistory(side, bestPiece.Type(), best.To(), bestCaptured, bonus)
	} else {
		h.AddKiller(ply, best)
		h.SetCounterMove(prevMove, best)
		h.updateMainHistory(side, best, bonus)
		h.updateContHistory(prevPiece, prevMove.To(), bestPiece, best.To(), bonus)

		for i, qm := range quietsTried {
			if qm == best {
				continue
			}
			h.updateMainHistory(side, qm, -malus)
			h.updateContHistory(prevPiece, prevMove.To(), quietPieces[i], qm.To(), -malus)
		}
	}

	for _, ct := range captHistTried {
		if ct.move == best {
			continue
		}
		h.updateCaptureHistory(side, ct.movedType, ct.move.To(), ct.capturedType, -malus)
	}
}

// capturedTry records enough about a rejected capture to penalize its
// capture-history entry after the node resolves.
type capturedTry struct {
	move         board.Move
	movedType    board.PieceType
	capturedType board.PieceType
}
