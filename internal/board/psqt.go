package board

// Score is a phase-dependent (middlegame, endgame) pair of integer values.
// Addition and scaling are componentwise.
type Score struct {
	MG int32
	EG int32
}

// MakeScore builds a Score from plain ints.
func MakeScore(mg, eg int) Score {
	return Score{MG: int32(mg), EG: int32(eg)}
}

// Add returns the componentwise sum of two scores.
func (s Score) Add(o Score) Score {
	return Score{MG: s.MG + o.MG, EG: s.EG + o.EG}
}

// Sub returns the componentwise difference of two scores.
func (s Score) Sub(o Score) Score {
	return Score{MG: s.MG - o.MG, EG: s.EG - o.EG}
}

// Neg negates both components.
func (s Score) Neg() Score {
	return Score{MG: -s.MG, EG: -s.EG}
}

// Scale multiplies both components by an integer factor, positive or
// negative. Used by evaluation terms that carry a per-color sign or a
// count multiplier.
func (s Score) Scale(n int) Score {
	return Score{MG: s.MG * int32(n), EG: s.EG * int32(n)}
}

// ScaleMG returns mg*num/den, matching the C++ original's apply_scale for the mg half.
func (s Score) ScaleMG(num, den int) int32 {
	return int32(int(s.MG) * num / den)
}

// ScaleEG returns eg*num/den.
func (s Score) ScaleEG(num, den int) int32 {
	return int32(int(s.EG) * num / den)
}

// PhaseInc is the per-piece-type phase increment; see spec Data Model, Piece type.
var PhaseInc = [7]int{0, 1, 1, 2, 4, 0, 0}

// MaxPhase is the phase value at full material (opening).
const MaxPhase = 24

// PSQT holds the fully baked (material + positional) piece-square table,
// indexed [Piece][Square]. initPSQT fills in a positional delta term per
// piece type, mirrored for Black; the material values are added on top by
// AddPieceValue, which the eval package calls from its init().
var PSQT [13][64]Score

// AdjacentFileMask, ForwardMask and PassedMask are precomputed structural
// masks used by pawn-structure evaluation. FileMask/RankMask already exist
// in bitboard.go.
var (
	AdjacentFileMask [8]Bitboard
	ForwardMask      [2][64]Bitboard
	PassedMask       [2][64]Bitboard
)

func init() {
	initMasks()
	initPSQT()
}

func centralizationBonus(sq Square) int {
	f, r := sq.File(), sq.Rank()
	df := abs(2*f - 7)
	dr := abs(2*r - 7)
	return 14 - (df + dr)
}

// psqtDelta returns the purely positional component of the PSQT for a
// piece type on a White-oriented square (mirror before calling for Black).
func psqtDelta(pt PieceType, sq Square) Score {
	r, f := sq.Rank(), sq.File()
	central := centralizationBonus(sq)

	switch pt {
	case Pawn:
		return MakeScore(r*6-abs(f-3)*2, r*12-abs(f-3)*2)
	case Knight:
		penalty := 0
		if r == 0 {
			penalty = 1
		}
		return MakeScore(central*2-penalty*8, central-penalty*4)
	case Bishop:
		return MakeScore(central+r*2, central+r)
	case Rook:
		bonus := 0
		if f == 3 || f == 4 {
			bonus = 6
		}
		return MakeScore(r*2+bonus, r*3)
	case Queen:
		return MakeScore(central, central/2+r)
	case King:
		return MakeScore(-central*2-r*8, central*2+r*10)
	default:
		return Score{}
	}
}

func initMasks() {
	for f := 0; f < 8; f++ {
		var adj Bitboard
		if f > 0 {
			adj |= FileMask[f-1]
		}
		if f < 7 {
			adj |= FileMask[f+1]
		}
		AdjacentFileMask[f] = adj
	}

	for sq := A1; sq <= H8; sq++ {
		f, r := sq.File(), sq.Rank()

		var whiteForward, blackForward Bitboard
		for rr := r + 1; rr <= 7; rr++ {
			whiteForward |= SquareBB(NewSquare(f, rr))
		}
		for rr := r - 1; rr >= 0; rr-- {
			blackForward |= SquareBB(NewSquare(f, rr))
		}
		ForwardMask[White][sq] = whiteForward
		ForwardMask[Black][sq] = blackForward

		span := FileMask[f] | AdjacentFileMask[f]
		PassedMask[White][sq] = whiteForward & span
		PassedMask[Black][sq] = blackForward & span
	}
}

func initPSQT() {
	for sq := A1; sq <= H8; sq++ {
		whiteSq := sq
		blackSq := sq.Mirror()

		for pt := Pawn; pt <= King; pt++ {
			// PieceValue only carries a single flat number (used for
			// NonPawnMaterial and Material); separate mg/eg piece values live
			// in eval/params.go and are folded
			// in via AddPieceValue once that package initializes.
			wDelta := psqtDelta(pt, whiteSq)
			bDelta := psqtDelta(pt, blackSq)
			PSQT[NewPiece(pt, White)][sq] = wDelta
			PSQT[NewPiece(pt, Black)][sq] = bDelta
		}
	}
}

// AddPieceValue folds a (mg, eg) material value into the PSQT tables for a
// given piece type, on top of the purely positional deltas computed above.
// Called once by the eval package at init time with its tuned piece values
// so board.PSQT ends up holding the full "material + positional" score the
// spec describes, without board needing to import eval.
func AddPieceValue(pt PieceType, mg, eg int) {
	for sq := A1; sq <= H8; sq++ {
		wp := NewPiece(pt, White)
		bp := NewPiece(pt, Black)
		PSQT[wp][sq] = Score{MG: PSQT[wp][sq].MG + int32(mg), EG: PSQT[wp][sq].EG + int32(eg)}
		PSQT[bp][sq] = Score{MG: PSQT[bp][sq].MG + int32(mg), EG: PSQT[bp][sq].EG + int32(eg)}
	}
}
