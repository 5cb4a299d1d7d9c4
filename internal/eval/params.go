// Package eval implements position evaluation: a hand-crafted evaluator
// (HCE) grounded in classical chess knowledge, plus the shared Evaluator
// interface that both the HCE and the neural-network evaluator in
// internal/nn satisfy.
package eval

import "github.com/pkremer/chessforge/internal/board"

// PieceValueMG and PieceValueEG hold the tuned middlegame/endgame material
// values, indexed by board.PieceType (Pawn..King). Unlike board.PieceValue
// (a flat table board uses for NonPawnMaterial and Material), these are phase
// dependent and feed the PSQT tables via board.AddPieceValue.
var (
	PieceValueMG = [7]int{82, 337, 365, 477, 1025, 0, 0}
	PieceValueEG = [7]int{94, 281, 297, 512, 936, 0, 0}
)

func init() {
	for pt := board.Pawn; pt <= board.King; pt++ {
		board.AddPieceValue(pt, PieceValueMG[pt], PieceValueEG[pt])
	}
}

const (
	TempoBonus = 10
)

var BishopPairBonus = board.MakeScore(28, 52)
var RookOpenFileBonus = board.MakeScore(24, 6)
var RookSemiOpenFileBonus = board.MakeScore(14, 4)
var RookOnSeventhBonus = board.MakeScore(18, 28)
var KnightOutpostBonus = board.MakeScore(18, 14)
var BadBishopPenalty = board.MakeScore(10, 6)

// PassedPawnMG/EG are indexed by rank (0=rank1 .. 7=rank8) from the pawn
// owner's point of view (already rank-relative, i.e. rel_rank).
var (
	PassedPawnMG = [8]int{0, 0, 10, 18, 36, 58, 96, 0}
	PassedPawnEG = [8]int{0, 0, 16, 30, 58, 96, 150, 0}
)

const (
	IsolatedPawnPenaltyMG = 14
	IsolatedPawnPenaltyEG = 10
	DoubledPawnPenaltyMG  = 11
	DoubledPawnPenaltyEG  = 14
	BackwardPawnPenaltyMG = 10
	BackwardPawnPenaltyEG = 8
	CandidatePawnBonusMG  = 8
	CandidatePawnBonusEG  = 14
	ConnectedPasserMG     = 12
	ConnectedPasserEG     = 20
	SupportedPasserMG     = 10
	SupportedPasserEG     = 16
	OutsidePasserMG       = 6
	OutsidePasserEG       = 16
	BlockedPasserPenaltyMG = 14
	BlockedPasserPenaltyEG = 10
)

// ShelterPawnBonus/StormPawnPenalty are indexed by the distance (in ranks)
// from the king to the nearest own/enemy pawn on a given file.
var (
	ShelterPawnBonus  = [8]int{0, 34, 26, 18, 10, 6, 3, 0}
	StormPawnPenalty  = [8]int{0, 8, 12, 18, 26, 34, 44, 0}
)

// MobilityBonusMG/EG are indexed [PieceType][attacked-square-count, clamped 0-15].
var MobilityBonusMG = [7][16]int{
	{}, // Pawn
	{-20, -12, -6, -2, 2, 6, 10, 14, 18, 20, 22, 24, 24, 24, 24, 24},   // Knight
	{-16, -8, -2, 2, 6, 10, 14, 18, 22, 24, 26, 28, 28, 28, 28, 28},    // Bishop
	{-12, -6, 0, 4, 8, 12, 16, 20, 24, 26, 28, 30, 32, 32, 32, 32},     // Rook
	{-8, -2, 2, 6, 10, 14, 18, 22, 26, 28, 30, 32, 34, 36, 36, 36},     // Queen
	{}, // King
}

var MobilityBonusEG = [7][16]int{
	{},
	{-12, -8, -4, -2, 0, 2, 4, 6, 8, 9, 10, 11, 12, 12, 12, 12},
	{-10, -6, -2, 0, 2, 4, 6, 8, 10, 11, 12, 13, 14, 14, 14, 14},
	{-8, -4, -1, 2, 4, 6, 8, 10, 12, 13, 14, 15, 16, 16, 16, 16},
	{-6, -2, 1, 4, 6, 8, 10, 12, 14, 15, 16, 17, 18, 20, 20, 20},
	{},
}

// KingAttackUnit weights each attacking piece type when accumulating king
// danger; KingDangerScale converts the accumulated unit count into a score.
var KingAttackUnit = [7]int{0, 2, 2, 3, 5, 0, 0}
var KingDangerScale = [8]int{0, 1, 3, 6, 10, 15, 21, 28}

var HangingPieceBonus = board.MakeScore(18, 14)
var ThreatByPawnBonus = board.MakeScore(16, 10)
var SpaceBonus = board.MakeScore(4, 0)
var KingActivityBonus = board.MakeScore(0, 12)

// ClampIndex clamps a table index to [0, 15], matching the original
// clamp_index helper used throughout mobility/king-danger lookups.
func ClampIndex(v int) int {
	if v < 0 {
		return 0
	}
	if v > 15 {
		return 15
	}
	return v
}
