package search

import (
	"context"
	"time"

	"github.com/pkremer/chessforge/internal/board"
	"github.com/pkremer/chessforge/internal/eval"
)

const (
	mateValue   = MateScore
	infinity    = mateValue + 1
	drawValue   = 0
)

// IterationInfo is published to the caller after every completed depth,
// mirroring the fields a UCI "info" line reports.
type IterationInfo struct {
	Depth    int
	SelDepth int
	Score    int
	Mate     bool
	MateIn   int
	Nodes    uint64
	NPS      uint64
	TimeMS   int64
	PV       []board.Move
	HashFull int
}

// Stats accumulates counters across an entire search call, matching
// SearchStats' fine-grained scope: raw node counts plus per-picker-phase
// cutoff attribution and pruning-technique outcome counts beyond the
// minimal EvalStats surface.
type Stats struct {
	Nodes    uint64
	QNodes   uint64
	TTHits   uint64
	TTProbes uint64

	CutoffsTT          uint64
	CutoffsGoodCapture uint64
	CutoffsQuiet       uint64
	CutoffsBadCapture  uint64

	NMPAttempts    uint64
	NMPVerifyFails uint64
	LMRResearches  uint64
}

// Searcher owns the state a single-threaded search needs across an entire
// iterative-deepening call: the transposition table, heuristics tables,
// correction history, time manager and the evaluator it queries at leaves.
// Only one Searcher ever touches a given Position — spec.md's concurrency
// model excludes multi-threaded search entirely, so none of this needs
// locking, unlike the sharded structures the original Lazy-SMP engine used.
type Searcher struct {
	cfg  Config
	eval eval.Evaluator

	tt     *Table
	heur   *Heuristics
	corr   *CorrectionHistory
	timer  *TimeManager

	stats Stats

	stop   bool
	inNull bool

	posHistory []uint64 // Zobrist keys of positions since the last irreversible move, for repetition detection

	prevMove  [256]board.Move
	prevPiece [256]board.Piece

	rootBestMoveChanges int
	rootStability       int
	lastBestMove        board.Move

	onIteration func(IterationInfo)
}

// NewSearcher builds a searcher around an evaluator, using cfg for every
// tunable and allocating a transposition table of cfg.HashMB megabytes.
func NewSearcher(cfg Config, evaluator eval.Evaluator) *Searcher {
	return &Searcher{
		cfg:   cfg,
		eval:  evaluator,
		tt:    NewTable(cfg.HashMB),
		heur:  NewHeuristics(cfg),
		corr:  NewCorrectionHistory(cfg),
		timer: NewTimeManager(),
	}
}

// SetIterationCallback registers the callback invoked after each completed
// iterative-deepening depth.
func (s *Searcher) SetIterationCallback(cb func(IterationInfo)) { s.onIteration = cb }

// NewGame clears every table that should not survive across games.
func (s *Searcher) NewGame() {
	s.tt.Clear()
	s.heur.Clear()
	s.corr.Clear()
}

// SetHashSize resizes the transposition table.
func (s *Searcher) SetHashSize(mb int) { s.tt.Resize(mb) }

// Stop requests the in-progress search halt as soon as possible.
func (s *Searcher) Stop() { s.stop = true }

// SetPositionHistory seeds the repetition-detection stack with the Zobrist
// keys of every position played so far in the game (from the UCI "position"
// command's move list), since board.Position.IsDraw only checks stalemate,
// the 50-move rule and insufficient material, not threefold repetition.
func (s *Searcher) SetPositionHistory(keys []uint64) {
	s.posHistory = append(s.posHistory[:0], keys...)
}

func (s *Searcher) isRepetition(pos *board.Position) bool {
	count := 0
	for i := len(s.posHistory) - 1; i >= 0 && i >= len(s.posHistory)-pos.HalfMoveClock; i-- {
		if s.posHistory[i] == pos.Hash {
			count++
			if count >= 2 {
				return true
			}
		}
	}
	return false
}

// Search runs iterative deepening from the root and returns the best move
// found, honoring ctx cancellation and the given limits.
func (s *Searcher) Search(ctx context.Context, pos *board.Position, limits Limits) board.Move {
	s.stop = false
	s.stats = Stats{}
	s.heur.NewSearch()
	s.tt.NewSearch()
	s.rootBestMoveChanges = 0
	s.rootStability = 0
	s.lastBestMove = board.NoMove

	us := 0
	if pos.SideToMove == board.Black {
		us = 1
	}
	s.timer.Init(limits, us, len(s.posHistory))

	maxDepth := limits.Depth
	if maxDepth <= 0 || maxDepth > s.cfg.MaxDepth {
		maxDepth = s.cfg.MaxDepth
	}

	var pv []board.Move
	best := board.NoMove
	score := 0
	prevScore := 0
	var nodesPrevDepth uint64

	for depth := 1; depth <= maxDepth; depth++ {
		select {
		case <-ctx.Done():
			return best
		default:
		}

		nodesBefore := s.stats.Nodes
		alpha, beta := -infinity, infinity
		if depth >= s.cfg.AspirationMinDepth {
			delta := s.cfg.AspirationInitial
			alpha, beta = prevScore-delta, prevScore+delta
			for {
				iterPV := make([]board.Move, 0, depth)
				score = s.searchRoot(ctx, pos, depth, alpha, beta, &iterPV)
				if s.stop || ctxDone(ctx) {
					break
				}
				if score <= alpha {
					beta = (alpha + beta) / 2
					alpha -= delta
				} else if score >= beta {
					beta += delta
				} else {
					pv = iterPV
					break
				}
				delta *= 2
				if delta > s.cfg.AspirationMax {
					alpha, beta = -infinity, infinity
				}
			}
		} else {
			iterPV := make([]board.Move, 0, depth)
			score = s.searchRoot(ctx, pos, depth, alpha, beta, &iterPV)
			pv = iterPV
		}

		if s.stop || ctxDone(ctx) {
			break
		}

		if len(pv) > 0 {
			if pv[0] != s.lastBestMove {
				s.rootBestMoveChanges++
				s.rootStability = 0
			} else {
				s.rootStability++
			}
			s.lastBestMove = pv[0]
			best = pv[0]
		}
		prevScore = score

		elapsed := s.timer.Elapsed()
		s.timer.RecordNPS(s.stats.Nodes, elapsed)

		if s.onIteration != nil {
			s.onIteration(IterationInfo{
				Depth:    depth,
				Score:    score,
				Nodes:    s.stats.Nodes,
				NPS:      nps(s.stats.Nodes, elapsed),
				TimeMS:   elapsed.Milliseconds(),
				PV:       append([]board.Move(nil), pv...),
				HashFull: s.tt.HashFull(),
			})
		}

		nodesThisDepth := s.stats.Nodes - nodesBefore
		if s.timer.SoftStop(limits, s.rootStability, s.rootBestMoveChanges, nodesThisDepth, nodesPrevDepth) {
			break
		}
		nodesPrevDepth = nodesThisDepth
	}

	return best
}

func ctxDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func nps(nodes uint64, elapsed time.Duration) uint64 {
	if elapsed <= 0 {
		return 0
	}
	return uint64(float64(nodes) / elapsed.Seconds())
}

func (s *Searcher) searchRoot(ctx context.Context, pos *board.Position, depth, alpha, beta int, pv *[]board.Move) int {
	return s.searchNode(ctx, pos, depth, alpha, beta, 0, true, pv)
}

// searchNode is the PVS driver described by spec.md's Search section: node
// classification, hard-stop, check extension, quiescence hand-off, TT
// probe/store, and the full pruning/reduction toolbox around the move
// loop.
func (s *Searcher) searchNode(ctx context.Context, pos *board.Position, depth, alpha, beta, ply int, isPV bool, pv *[]board.Move) int {
	s.stats.Nodes++
	s.recordNode(ctx)

	if s.stop {
		return 0
	}
	if s.timer.ShouldCheck(s.stats.Nodes) {
		limits := Limits{} // hard-stop uses only the wall clock/node budget already captured by timer.Init
		if s.timer.HardStop(s.stats.Nodes, limits) || ctxDone(ctx) {
			s.stop = true
			return 0
		}
	}

	if ply >= s.cfg.MaxPly-1 {
		return s.eval.StaticEval(pos)
	}

	if ply > 0 && (pos.IsDraw() || s.isRepetition(pos)) {
		return drawValue
	}

	inCheck := pos.InCheck()
	if inCheck {
		depth++
	}

	if depth <= 0 {
		return s.qsearch(ctx, pos, alpha, beta, ply)
	}

	alphaOrig := alpha

	var ttMove board.Move
	var ttEval, ttScore, ttDepth int
	var ttBound Bound
	haveTTEval, haveTTEntry := false, false
	if entry, ok := s.tt.Probe(pos.Hash); ok {
		s.stats.TTProbes++
		s.stats.TTHits++
		ttHitsCounter.Add(ctx, 1)
		ttMove = entry.Move
		haveTTEval = true
		haveTTEntry = true
		ttEval = int(entry.Eval)
		ttScore = AdjustScoreFromTT(int(entry.Score), ply)
		ttDepth = int(entry.Depth)
		ttBound = entry.Bound
		if ttDepth >= depth && !isPV {
			switch entry.Bound {
			case BoundExact:
				return ttScore
			case BoundLower:
				if ttScore >= beta {
					return ttScore
				}
			case BoundUpper:
				if ttScore <= alpha {
					return ttScore
				}
			}
		}
	} else {
		s.stats.TTProbes++
	}

	var staticEval int
	if inCheck {
		staticEval = -infinity
	} else if haveTTEval {
		staticEval = ttEval
	} else {
		staticEval = s.eval.StaticEval(pos) + s.corr.Get(pos)
	}

	if !isPV && !inCheck {
		// Reverse futility pruning.
		if depth <= s.cfg.RFPMaxDepth {
			margin := s.cfg.RFPBase + s.cfg.RFPPerDepth*depth
			if staticEval-margin >= beta {
				return staticEval
			}
		}

		// Razoring.
		if depth <= s.cfg.RazorMaxDepth {
			margin := s.cfg.RazorBase + s.cfg.RazorPerDepth*depth
			if staticEval+margin < alpha {
				score := s.qsearch(ctx, pos, alpha, alpha+1, ply)
				if score < alpha {
					return score
				}
			}
		}

		// Null-move pruning.
		if !s.inNull && depth >= s.cfg.NMPMinDepth && staticEval >= beta-s.cfg.NMPMargin && pos.HasNonPawnMaterial() {
			r := s.cfg.NMPBaseReduction + depth/s.cfg.NMPDivisor
			if r > depth-1 {
				r = depth - 1
			}
			if r >= 1 {
				s.recordNMPAttempt(ctx)
				undo := pos.MakeNullMove()
				s.inNull = true
				nullScore := -s.searchNode(ctx, pos, depth-1-r, -beta, -beta+1, ply+1, false, &[]board.Move{})
				s.inNull = false
				pos.UnmakeNullMove(undo)
				if s.stop {
					return 0
				}
				if nullScore >= beta {
					if depth >= s.cfg.NMPVerifyDepth {
						verify := s.searchNode(ctx, pos, depth-1-r, beta-1, beta, ply, false, &[]board.Move{})
						if verify >= beta {
							return beta
						}
						s.recordNMPVerifyFail(ctx)
					} else {
						return beta
					}
				}
			}
		}

		// ProbCut.
		if s.cfg.UseProbCut && depth >= s.cfg.ProbCutMinDepth {
			probBeta := beta + s.cfg.ProbCutMargin
			picker := NewPicker(pos, s.heur, s.cfg, ply, ttMove, s.prevMoveAt(ply), s.prevPieceAt(ply), true)
			for {
				m, _, ok := picker.Next()
				if !ok {
					break
				}
				if !SEECapture(pos, m, s.cfg.ProbCutSEEThreshold) {
					continue
				}
				undo := pos.MakeMove(m)
				if pos.IsSquareAttacked(kingSquare(pos, pos.SideToMove.Other()), pos.SideToMove) {
					pos.UnmakeMove(m, undo)
					continue
				}
				s.setPly(ply, m, pos)
				score := -s.searchNode(ctx, pos, depth-1-s.cfg.ProbCutReduction, -probBeta, -probBeta+1, ply+1, false, &[]board.Move{})
				pos.UnmakeMove(m, undo)
				if s.stop {
					return 0
				}
				if score >= probBeta {
					return beta
				}
			}
		}
	}

	picker := NewPicker(pos, s.heur, s.cfg, ply, ttMove, s.prevMoveAt(ply), s.prevPieceAt(ply), false)

	legalCount := 0
	bestScore := -infinity
	bestMove := board.NoMove

	quietsTried := make([]board.Move, 0, 32)
	quietPieces := make([]board.Piece, 0, 32)
	var captHistTried []capturedTry

	nonPawnMaterial := pos.HasNonPawnMaterial()
	extensionsUsed := 0

	for {
		m, phase, ok := picker.Next()
		if !ok {
			break
		}

		isQuiet := !m.IsCapture() && !m.IsEnPassant() && !m.IsPromotion()

		if legalCount > 0 && !isPV && !inCheck && isQuiet {
			if depth <= s.cfg.FutilityMaxDepth {
				margin := s.cfg.FutilityBase + s.cfg.FutilityPerDepth*depth
				if staticEval+margin <= alpha && nonPawnMaterial {
					continue
				}
			}
			if depth <= 4 && legalCount >= s.cfg.LMPBase[depth] {
				continue
			}
			if legalCount >= s.cfg.HistoryPruningMinMoveCount {
				qScore := s.heur.MainHistory(pos.SideToMove, m)
				if qScore < s.cfg.HistoryPruningThreshold {
					continue
				}
			}
		}

		movedPiece := pos.PieceAt(m.From())
		capturedType := board.NoPieceType
		if m.IsEnPassant() {
			capturedType = board.Pawn
		} else if target := pos.PieceAt(m.To()); target != board.NoPiece {
			capturedType = target.Type()
		}

		extension := 0
		if isPV && s.cfg.UseSingularExtensions && m == ttMove && haveTTEntry &&
			ttBound == BoundLower && ttDepth >= depth-3 &&
			depth >= s.cfg.SingularMinDepth && extensionsUsed < s.cfg.SingularMaxExtensions {
			singularBeta := ttScore - s.cfg.SingularMargin
			altPicker := NewPicker(pos, s.heur, s.cfg, ply, m, s.prevMoveAt(ply), s.prevPieceAt(ply), false)
			foundAlternative := false
			for {
				alt, _, ok := altPicker.Next()
				if !ok {
					break
				}
				altUndo := pos.MakeMove(alt)
				s.setPly(ply, alt, pos)
				altScore := -s.searchNode(ctx, pos, (depth-1)/2, -singularBeta-1, -singularBeta, ply+1, false, &[]board.Move{})
				pos.UnmakeMove(alt, altUndo)
				if s.stop {
					return 0
				}
				if altScore >= singularBeta {
					foundAlternative = true
					break
				}
			}
			if !foundAlternative {
				extension = 1
				extensionsUsed++
			}
		}

		undo := pos.MakeMove(m)
		if pos.IsSquareAttacked(kingSquare(pos, pos.SideToMove.Other()), pos.SideToMove) {
			pos.UnmakeMove(m, undo)
			continue
		}
		legalCount++
		s.setPly(ply, m, pos)

		var score int
		childPV := make([]board.Move, 0, depth)
		if legalCount == 1 {
			score = -s.searchNode(ctx, pos, depth-1+extension, -beta, -alpha, ply+1, isPV, &childPV)
		} else {
			reduction := 0
			givesCheck := pos.InCheck()
			if isQuiet && !isPV && !inCheck && !givesCheck && legalCount > s.cfg.LMRMinMoveCount && m != ttMove {
				reduction = s.heur.LMR(depth, legalCount)
				qScore := s.heur.MainHistory(pos.SideToMove, m)
				if qScore > s.cfg.LMRHistoryThreshold {
					reduction--
				}
				if reduction < 0 {
					reduction = 0
				}
				if reduction > depth-1 {
					reduction = depth - 1
				}
			}

			score = -s.searchNode(ctx, pos, depth-1-reduction+extension, -alpha-1, -alpha, ply+1, false, &childPV)
			if score > alpha && reduction > 0 {
				s.recordLMRResearch(ctx)
				score = -s.searchNode(ctx, pos, depth-1+extension, -alpha-1, -alpha, ply+1, false, &childPV)
			}
			if score > alpha && score < beta {
				childPV = childPV[:0]
				score = -s.searchNode(ctx, pos, depth-1+extension, -beta, -alpha, ply+1, true, &childPV)
			}
		}

		pos.UnmakeMove(m, undo)

		if s.stop {
			return 0
		}

		if isQuiet {
			quietsTried = append(quietsTried, m)
			quietPieces = append(quietPieces, movedPiece)
		} else {
			captHistTried = append(captHistTried, capturedTry{m, movedPiece.Type(), capturedType})
		}

		if score > bestScore {
			bestScore = score
			bestMove = m
			if score > alpha {
				alpha = score
				*pv = append((*pv)[:0], m)
				*pv = append(*pv, childPV...)
			}
		}

		if alpha >= beta {
			s.heur.UpdateStats(pos.SideToMove, m, movedPiece, capturedType, quietsTried, quietPieces, captHistTried, depth, ply, s.prevMoveAt(ply), s.prevPieceAt(ply))
			s.recordCutoff(ctx, phase)
			break
		}
	}

	if legalCount == 0 {
		if inCheck {
			return -mateValue + ply
		}
		return drawValue
	}

	if !inCheck {
		s.corr.Update(pos, bestScore, staticEval, depth)
	}

	storedEval := staticEval
	if inCheck {
		storedEval = 0
	}

	var bound Bound
	switch {
	case bestScore >= beta:
		bound = BoundLower
	case bestScore <= alphaOrig:
		bound = BoundUpper
	default:
		bound = BoundExact
	}
	s.tt.Store(pos.Hash, bestMove, int16(AdjustScoreToTT(bestScore, ply)), int16(storedEval), depth, bound)

	return bestScore
}

// qsearch implements spec.md's quiescence search: stand-pat with delta and
// SEE pruning outside of check, full legal move generation inside it.
func (s *Searcher) qsearch(ctx context.Context, pos *board.Position, alpha, beta, ply int) int {
	s.stats.Nodes++
	s.stats.QNodes++
	s.recordNode(ctx)
	qnodesCounter.Add(ctx, 1)

	if s.stop {
		return 0
	}

	if pos.IsDraw() || s.isRepetition(pos) {
		return drawValue
	}

	inCheck := pos.InCheck()
	var standPat int
	if !inCheck {
		standPat = s.eval.StaticEval(pos) + s.corr.Get(pos)
		if standPat >= beta {
			return standPat
		}
		if standPat > alpha {
			alpha = standPat
		}
	}

	picker := NewPicker(pos, s.heur, s.cfg, ply, board.NoMove, board.NoMove, board.NoPiece, !inCheck)

	legalCount := 0
	best := standPat
	if inCheck {
		best = -infinity
	}

	for {
		m, _, ok := picker.Next()
		if !ok {
			break
		}

		if !inCheck {
			capturedType := board.NoPieceType
			if m.IsEnPassant() {
				capturedType = board.Pawn
			} else if target := pos.PieceAt(m.To()); target != board.NoPiece {
				capturedType = target.Type()
			}
			if !m.IsPromotion() && standPat+mvvValue[capturedType]+s.cfg.QSDeltaMargin < alpha {
				continue
			}
			if s.cfg.UseSEEPruningQS && !SEECapture(pos, m, s.cfg.QSSEEThreshold) {
				continue
			}
		}

		undo := pos.MakeMove(m)
		if pos.IsSquareAttacked(kingSquare(pos, pos.SideToMove.Other()), pos.SideToMove) {
			pos.UnmakeMove(m, undo)
			continue
		}
		legalCount++

		score := -s.qsearch(ctx, pos, -beta, -alpha, ply+1)
		pos.UnmakeMove(m, undo)

		if s.stop {
			return 0
		}

		if score > best {
			best = score
			if score > alpha {
				alpha = score
			}
		}
		if alpha >= beta {
			break
		}
	}

	if inCheck && legalCount == 0 {
		return -mateValue + ply
	}

	return best
}

func kingSquare(pos *board.Position, c board.Color) board.Square {
	return pos.Pieces[c][board.King].LSB()
}

func (s *Searcher) setPly(ply int, m board.Move, pos *board.Position) {
	if ply < 0 || ply >= len(s.prevMove) {
		return
	}
	s.prevMove[ply] = m
	s.prevPiece[ply] = pos.PieceAt(m.To())
}

func (s *Searcher) prevMoveAt(ply int) board.Move {
	if ply <= 0 || ply-1 >= len(s.prevMove) {
		return board.NoMove
	}
	return s.prevMove[ply-1]
}

func (s *Searcher) prevPieceAt(ply int) board.Piece {
	if ply <= 0 || ply-1 >= len(s.prevPiece) {
		return board.NoPiece
	}
	return s.prevPiece[ply-1]
}
