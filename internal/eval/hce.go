package eval

import "github.com/pkremer/chessforge/internal/board"

// HCE is the hand-crafted evaluator: material+PSQT (maintained incrementally
// on board.Position), pawn structure (memoized in a pawn hash table),
// mobility, king safety, piece features, threats, space, endgame king
// activity, tempo and endgame scaling.
type HCE struct {
	pawnHash *PawnHashTable
	stats    Stats
}

// NewHCE creates a hand-crafted evaluator with its own pawn hash table.
func NewHCE(pawnHashMB int) *HCE {
	if pawnHashMB <= 0 {
		pawnHashMB = 1
	}
	return &HCE{pawnHash: NewPawnHashTable(pawnHashMB)}
}

func signFor(c board.Color) int {
	if c == board.White {
		return 1
	}
	return -1
}

func squareColor(sq board.Square) int {
	return (sq.File() + sq.Rank()) & 1
}

func kingCentralization(sq board.Square) int {
	f, r := sq.File(), sq.Rank()
	df := f*2 - 7
	if df < 0 {
		df = -df
	}
	dr := r*2 - 7
	if dr < 0 {
		dr = -dr
	}
	return 14 - (df + dr)
}

// StaticEval returns the evaluation from the side-to-move's point of view.
func (h *HCE) StaticEval(pos *board.Position) int {
	return h.evaluate(pos, nil)
}

// StaticEvalTrace behaves like StaticEval but also fills out.
func (h *HCE) StaticEvalTrace(pos *board.Position, out *Breakdown) int {
	return h.evaluate(pos, out)
}

// StaticEvalRecompute forces the material+PSQT term to be recomputed from
// scratch instead of read from Position's incremental accumulators. Used by
// tests to verify the incremental maintenance never drifts.
func (h *HCE) StaticEvalRecompute(pos *board.Position) int {
	sc := h.materialPSQTFull(pos)
	return h.finish(pos, sc, nil)
}

func (h *HCE) Stats() Stats {
	s := h.stats
	s.PawnHashProbes = h.pawnHash.Probes()
	s.PawnHashHits = h.pawnHash.Hits()
	return s
}

func (h *HCE) ClearStats() {
	h.stats = Stats{}
	h.pawnHash.Clear()
}

func (h *HCE) evaluate(pos *board.Position, trace *Breakdown) int {
	h.stats.EvalCalls++

	sc := board.Score{
		MG: pos.MGPSQT[board.White] - pos.MGPSQT[board.Black],
		EG: pos.EGPSQT[board.White] - pos.EGPSQT[board.Black],
	}
	if trace != nil {
		trace.MaterialPSQT = phaseBlend(pos, sc)
	}

	return h.finish(pos, sc, trace)
}

func (h *HCE) materialPSQTFull(pos *board.Position) board.Score {
	var mg, eg [2]int32
	for c := board.White; c <= board.Black; c++ {
		for pt := board.Pawn; pt <= board.King; pt++ {
			bb := pos.Pieces[c][pt]
			for bb != 0 {
				sq := bb.PopLSB()
				s := board.PSQT[board.NewPiece(pt, c)][sq]
				mg[c] += s.MG
				eg[c] += s.EG
			}
		}
	}
	return board.Score{MG: mg[board.White] - mg[board.Black], EG: eg[board.White] - eg[board.Black]}
}

func (h *HCE) finish(pos *board.Position, materialPSQT board.Score, trace *Breakdown) int {
	total := materialPSQT

	pawnSc, passed := h.pawnStructure(pos)
	total = total.Add(pawnSc)

	mobSc := h.mobility(pos)
	total = total.Add(mobSc)

	kingSc := h.kingDanger(pos, passed)
	total = total.Add(kingSc)

	featSc := h.pieceFeatures(pos)
	total = total.Add(featSc)

	threatSc := h.threats(pos)
	total = total.Add(threatSc)

	spaceSc := h.space(pos)
	total = total.Add(spaceSc)

	activitySc := h.kingActivity(pos)
	total = total.Add(activitySc)

	scaledEG := h.scaleEndgame(pos, total.EG)
	total.EG = scaledEG

	whitePov := phaseBlend(pos, total) + TempoBonus*tempoSign(pos)

	if trace != nil {
		trace.PawnStructure = phaseBlend(pos, pawnSc)
		trace.Mobility = phaseBlend(pos, mobSc)
		trace.KingSafety = phaseBlend(pos, kingSc)
		trace.PieceFeatures = phaseBlend(pos, featSc)
		trace.Threats = phaseBlend(pos, threatSc)
		trace.Space = phaseBlend(pos, spaceSc)
		trace.KingActivity = phaseBlend(pos, activitySc)
		trace.Tempo = TempoBonus * tempoSign(pos)
		trace.TotalWhitePov = whitePov
	}

	if pos.SideToMove == board.Black {
		return -whitePov
	}
	return whitePov
}

func tempoSign(pos *board.Position) int {
	if pos.SideToMove == board.White {
		return 1
	}
	return -1
}

// phaseBlend interpolates a Score between middlegame and endgame values
// using Position.Phase (0..MaxPhase), and returns it white-POV.
func phaseBlend(pos *board.Position, sc board.Score) int {
	phase := pos.Phase
	if phase > board.MaxPhase {
		phase = board.MaxPhase
	}
	if phase < 0 {
		phase = 0
	}
	mg := int(sc.MG)
	eg := int(sc.EG)
	return (mg*phase + eg*(board.MaxPhase-phase)) / board.MaxPhase
}

// pawnStructure evaluates the full pawn-structure term, memoized in the
// pawn hash table keyed by pawn placement and both kings' files.
func (h *HCE) pawnStructure(pos *board.Position) (board.Score, [2]board.Bitboard) {
	key := board.PawnHashKey(pos.PawnKey, pos.KingSquare[board.White].File(), pos.KingSquare[board.Black].File())

	if entry, ok := h.pawnHash.Probe(key); ok {
		return board.Score{MG: int32(entry.MG), EG: int32(entry.EG)}, entry.PassedPawns
	}

	var total board.Score
	var passed [2]board.Bitboard
	var shelter [2]int16

	for c := board.White; c <= board.Black; c++ {
		them := c.Other()
		ownPawns := pos.Pieces[c][board.Pawn]
		enemyPawns := pos.Pieces[them][board.Pawn]
		sign := signFor(c)

		bb := ownPawns
		for bb != 0 {
			sq := bb.PopLSB()
			f := sq.File()
			rr := sq.RelativeRank(c)

			// Doubled: another own pawn ahead on the same file.
			if board.ForwardMask[c][sq]&ownPawns&board.FileMask[f] != 0 {
				total.MG += int32(sign * -DoubledPawnPenaltyMG)
				total.EG += int32(sign * -DoubledPawnPenaltyEG)
			}

			// Isolated: no own pawn on adjacent files.
			isolated := board.AdjacentFileMask[f]&ownPawns == 0
			if isolated {
				total.MG += int32(sign * -IsolatedPawnPenaltyMG)
				total.EG += int32(sign * -IsolatedPawnPenaltyEG)
			}

			// Passed: no enemy pawn can ever stop or capture this pawn.
			if board.PassedMask[c][sq]&enemyPawns == 0 {
				passed[c] |= board.SquareBB(sq)
				total.MG += int32(sign * PassedPawnMG[rr])
				total.EG += int32(sign * PassedPawnEG[rr])

				// Blocked: the square directly ahead is occupied.
				aheadSq := sq
				if c == board.White {
					aheadSq += 8
				} else {
					aheadSq -= 8
				}
				if aheadSq.IsValid() && !pos.IsEmpty(aheadSq) {
					total.MG += int32(sign * -BlockedPasserPenaltyMG)
					total.EG += int32(sign * -BlockedPasserPenaltyEG)
				}

				// Supported: defended by another own pawn.
				if board.PawnAttacks(sq, them)&ownPawns != 0 {
					total.MG += int32(sign * SupportedPasserMG)
					total.EG += int32(sign * SupportedPasserEG)
				}

				// Outside: on the a/b or g/h files, away from the action.
				if f <= 1 || f >= 6 {
					total.MG += int32(sign * OutsidePasserMG)
					total.EG += int32(sign * OutsidePasserEG)
				}
			} else if !isolated {
				// Backward: cannot safely advance because the square ahead is
				// controlled by an enemy pawn and no own pawn can support it.
				canAdvanceSupported := false
				aheadSq := sq
				if c == board.White {
					aheadSq += 8
				} else {
					aheadSq -= 8
				}
				if aheadSq.IsValid() && board.PawnAttacks(aheadSq, them)&ownPawns != 0 {
					canAdvanceSupported = true
				}
				if !canAdvanceSupported && aheadSq.IsValid() && board.PawnAttacks(aheadSq, c)&enemyPawns != 0 {
					total.MG += int32(sign * -BackwardPawnPenaltyMG)
					total.EG += int32(sign * -BackwardPawnPenaltyEG)
				}
			}
		}

		ss := h.shelterStorm(pos, c)
		shelter[c] = int16(ss.MG)
		total = total.Add(ss)
	}

	h.pawnHash.Store(PawnHashEntry{
		Key:          key,
		MG:           int16(total.MG),
		EG:           int16(total.EG),
		PassedPawns:  passed,
		ShelterStorm: shelter,
	})

	return total, passed
}

// shelterStorm evaluates pawn shelter in front of c's king and storm
// pressure from the enemy's advancing pawns on adjacent files.
func (h *HCE) shelterStorm(pos *board.Position, c board.Color) board.Score {
	them := c.Other()
	ksq := pos.KingSquare[c]
	kf := ksq.File()
	kr := ksq.RelativeRank(c)
	sign := signFor(c)

	var sc board.Score
	for f := kf - 1; f <= kf+1; f++ {
		if f < 0 || f > 7 {
			continue
		}
		ownFile := pos.Pieces[c][board.Pawn] & board.FileMask[f]
		enemyFile := pos.Pieces[them][board.Pawn] & board.FileMask[f]

		shelterDist := 0
		bb := ownFile
		for bb != 0 {
			sq := bb.PopLSB()
			d := sq.RelativeRank(c) - kr
			if d <= 0 {
				continue
			}
			if shelterDist == 0 || d < shelterDist {
				shelterDist = d
			}
		}
		sc.MG += int32(sign * ShelterPawnBonus[clampRank(shelterDist)])

		stormDist := 0
		bb = enemyFile
		for bb != 0 {
			sq := bb.PopLSB()
			d := sq.RelativeRank(c) - kr
			if d <= 0 {
				continue
			}
			if stormDist == 0 || d < stormDist {
				stormDist = d
			}
		}
		sc.MG -= int32(sign * StormPawnPenalty[clampRank(stormDist)])
	}

	return sc
}

func clampRank(v int) int {
	if v < 0 {
		return 0
	}
	if v > 7 {
		return 7
	}
	return v
}

// mobility counts safe attacked squares per piece and looks them up in the
// tuned mobility tables.
func (h *HCE) mobility(pos *board.Position) board.Score {
	var sc board.Score

	for c := board.White; c <= board.Black; c++ {
		them := c.Other()
		sign := signFor(c)
		occupied := pos.AllOccupied
		mobilityArea := ^(pos.Occupied[c] | pawnAttacksBBHelper(pos, them))

		for pt := board.Knight; pt <= board.Queen; pt++ {
			bb := pos.Pieces[c][pt]
			for bb != 0 {
				sq := bb.PopLSB()
				var attacks board.Bitboard
				switch pt {
				case board.Knight:
					attacks = board.KnightAttacks(sq)
				case board.Bishop:
					attacks = board.BishopAttacks(sq, occupied)
				case board.Rook:
					attacks = board.RookAttacks(sq, occupied)
				case board.Queen:
					attacks = board.QueenAttacks(sq, occupied)
				}
				count := (attacks & mobilityArea).PopCount()
				idx := ClampIndex(count)
				sc.MG += int32(sign * MobilityBonusMG[pt][idx])
				sc.EG += int32(sign * MobilityBonusEG[pt][idx])
			}
		}
	}

	return sc
}

// pawnAttacksBBHelper returns all squares attacked by c's pawns.
func pawnAttacksBBHelper(pos *board.Position, c board.Color) board.Bitboard {
	var bb board.Bitboard
	pawns := pos.Pieces[c][board.Pawn]
	for pawns != 0 {
		sq := pawns.PopLSB()
		bb |= board.PawnAttacks(sq, c)
	}
	return bb
}

// kingDanger accumulates attacker-weighted pressure on each king's zone and
// converts it through the scaling table into a middlegame-heavy penalty.
func (h *HCE) kingDanger(pos *board.Position, passed [2]board.Bitboard) board.Score {
	var sc board.Score

	for c := board.White; c <= board.Black; c++ {
		them := c.Other()
		sign := signFor(c)
		ksq := pos.KingSquare[c]
		zone := board.KingAttacks(ksq) | board.SquareBB(ksq)

		units := 0
		for pt := board.Knight; pt <= board.Queen; pt++ {
			bb := pos.Pieces[them][pt]
			for bb != 0 {
				sq := bb.PopLSB()
				var attacks board.Bitboard
				switch pt {
				case board.Knight:
					attacks = board.KnightAttacks(sq)
				case board.Bishop:
					attacks = board.BishopAttacks(sq, pos.AllOccupied)
				case board.Rook:
					attacks = board.RookAttacks(sq, pos.AllOccupied)
				case board.Queen:
					attacks = board.QueenAttacks(sq, pos.AllOccupied)
				}
				if attacks&zone != 0 {
					units += KingAttackUnit[pt]
				}
			}
		}

		idx := units
		if idx > 7 {
			idx = 7
		}
		sc.MG += int32(sign * -KingDangerScale[idx])
	}

	return sc
}

// pieceFeatures covers bishop pair, rook file bonuses, rook on 7th, knight
// outposts and bad bishops.
func (h *HCE) pieceFeatures(pos *board.Position) board.Score {
	var sc board.Score

	for c := board.White; c <= board.Black; c++ {
		them := c.Other()
		sign := signFor(c)

		if pos.Pieces[c][board.Bishop].PopCount() >= 2 {
			sc = sc.Add(BishopPairBonus.Scale(sign))
		}

		rooks := pos.Pieces[c][board.Rook]
		ownPawns := pos.Pieces[c][board.Pawn]
		enemyPawns := pos.Pieces[them][board.Pawn]
		seventhRank := board.Rank7
		if c == board.Black {
			seventhRank = board.Rank2
		}
		for rooks != 0 {
			sq := rooks.PopLSB()
			f := sq.File()
			fileMask := board.FileMask[f]
			if ownPawns&fileMask == 0 {
				if enemyPawns&fileMask == 0 {
					sc = sc.Add(RookOpenFileBonus.Scale(sign))
				} else {
					sc = sc.Add(RookSemiOpenFileBonus.Scale(sign))
				}
			}
			if seventhRank.IsSet(sq) {
				sc = sc.Add(RookOnSeventhBonus.Scale(sign))
			}
		}

		knights := pos.Pieces[c][board.Knight]
		for knights != 0 {
			sq := knights.PopLSB()
			if isOutpost(pos, c, sq) {
				sc = sc.Add(KnightOutpostBonus.Scale(sign))
			}
		}

		bishops := pos.Pieces[c][board.Bishop]
		for bishops != 0 {
			sq := bishops.PopLSB()
			bishColor := squareColor(sq)
			sameColorPawns := 0
			bb := ownPawns
			for bb != 0 {
				psq := bb.PopLSB()
				if squareColor(psq) == bishColor {
					sameColorPawns++
				}
			}
			if sameColorPawns >= 4 {
				sc = sc.Add(BadBishopPenalty.Scale(-sign))
			}
		}
	}

	return sc
}

func isOutpost(pos *board.Position, c board.Color, sq board.Square) bool {
	them := c.Other()
	rr := sq.RelativeRank(c)
	if rr < 3 || rr > 5 {
		return false
	}
	if board.PawnAttacks(sq, them)&pos.Pieces[c][board.Pawn] == 0 {
		return false
	}
	// No enemy pawn can ever attack this square.
	f := sq.File()
	span := board.ForwardMask[c][sq] & board.AdjacentFileMask[f]
	return span&pos.Pieces[them][board.Pawn] == 0
}

// threats penalizes hanging pieces and pieces attacked by enemy pawns.
func (h *HCE) threats(pos *board.Position) board.Score {
	var sc board.Score

	for c := board.White; c <= board.Black; c++ {
		them := c.Other()
		sign := signFor(c)

		enemyPawnAttacks := pawnAttacksBBHelper(pos, them)
		threatenedByPawn := pos.Occupied[c] &^ pos.Pieces[c][board.Pawn] &^ pos.Pieces[c][board.King] & enemyPawnAttacks
		count := threatenedByPawn.PopCount()
		sc = sc.Add(ThreatByPawnBonus.Scale(-sign * count))

		bb := pos.Occupied[c] &^ pos.Pieces[c][board.King]
		for bb != 0 {
			sq := bb.PopLSB()
			attacked := pos.AttackersByColor(sq, them, pos.AllOccupied) != 0
			defended := pos.AttackersByColor(sq, c, pos.AllOccupied) != 0
			if attacked && !defended {
				sc = sc.Add(HangingPieceBonus.Scale(-sign))
			}
		}
	}

	return sc
}

// space rewards controlling squares behind the pawn chain in one's own
// half plus the center files, matching the classical "space advantage" idea.
func (h *HCE) space(pos *board.Position) board.Score {
	var sc board.Score
	for c := board.White; c <= board.Black; c++ {
		sign := signFor(c)
		zone := board.BigCenter
		if c == board.White {
			zone &= board.Rank2 | board.Rank3 | board.Rank4
		} else {
			zone &= board.Rank5 | board.Rank6 | board.Rank7
		}
		controlled := pawnAttacksBBHelper(pos, c) & zone &^ pos.Occupied[c]
		sc = sc.Add(SpaceBonus.Scale(sign * controlled.PopCount() / 4))
	}
	return sc
}

// kingActivity rewards central king placement in the endgame, when mating
// with the king becomes relevant.
func (h *HCE) kingActivity(pos *board.Position) board.Score {
	var sc board.Score
	for c := board.White; c <= board.Black; c++ {
		sign := signFor(c)
		central := kingCentralization(pos.KingSquare[c])
		sc = sc.Add(KingActivityBonus.Scale(sign * central / 14))
	}
	return sc
}

// scaleEndgame halves the endgame score when each side has exactly one
// bishop, the two bishops stand on opposite-colored squares and no knights,
// rooks or queens remain. No other material configuration is scaled.
func (h *HCE) scaleEndgame(pos *board.Position, eg int32) int32 {
	if pos.Pieces[board.White][board.Bishop].PopCount() == 1 &&
		pos.Pieces[board.Black][board.Bishop].PopCount() == 1 &&
		pos.Pieces[board.White][board.Knight]|pos.Pieces[board.Black][board.Knight]|
			pos.Pieces[board.White][board.Rook]|pos.Pieces[board.Black][board.Rook]|
			pos.Pieces[board.White][board.Queen]|pos.Pieces[board.Black][board.Queen] == 0 {
		wsq := pos.Pieces[board.White][board.Bishop].LSB()
		bsq := pos.Pieces[board.Black][board.Bishop].LSB()
		if squareColor(wsq) != squareColor(bsq) {
			return eg / 2
		}
	}
	return eg
}
