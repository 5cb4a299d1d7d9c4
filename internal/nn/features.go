package nn

import "github.com/pkremer/chessforge/internal/board"

const (
	InputPlanes = 112
	Squares     = 64
)

// Planes112 is the flattened 112x64 plane tensor consumed by the input
// embedding: 8 history plies * 13 planes, plus 8 auxiliary planes.
type Planes112 [InputPlanes * Squares]float32

func setPlaneAll(out *Planes112, plane int, value float32) {
	base := plane * Squares
	for i := 0; i < Squares; i++ {
		out[base+i] = value
	}
}

func fillPlaneBB(out *Planes112, plane int, bb board.Bitboard) {
	base := plane * Squares
	for bb != 0 {
		sq := bb.PopLSB()
		out[base+int(sq)] = 1.0
	}
}

// historyPlies returns exactly n positions, most-recent first: history[0]
// is the current position, history[1:] its predecessors as far back as the
// caller tracked them. Once the caller's history is exhausted, the oldest
// available ply is repeated to fill the remaining slots.
func historyPlies(history []*board.Position, n int) []*board.Position {
	out := make([]*board.Position, n)
	for i := 0; i < n; i++ {
		if i < len(history) {
			out[i] = history[i]
		} else {
			out[i] = history[len(history)-1]
		}
	}
	return out
}

// isRepetition reports whether plies[h]'s hash reoccurs among the older
// entries in the window, our stand-in for full game repetition tracking
// when only a bounded history window is available.
func isRepetition(plies []*board.Position, h int) bool {
	for j := h + 1; j < len(plies); j++ {
		if plies[j] == plies[h] {
			break
		}
		if plies[j].Hash == plies[h].Hash {
			return true
		}
	}
	return false
}

// ExtractFeatures112 builds the 112-plane board tensor for the position at
// history[0], using history[1:] to fill the 8-ply move-history planes.
func ExtractFeatures112(history []*board.Position) Planes112 {
	var out Planes112
	plies := historyPlies(history, 8)

	for h := 0; h < 8; h++ {
		s := plies[h]
		ours := s.SideToMove
		theirs := ours.Other()
		base := h * 13

		fillPlaneBB(&out, base+0, s.Pieces[ours][board.Pawn])
		fillPlaneBB(&out, base+1, s.Pieces[ours][board.Knight])
		fillPlaneBB(&out, base+2, s.Pieces[ours][board.Bishop])
		fillPlaneBB(&out, base+3, s.Pieces[ours][board.Rook])
		fillPlaneBB(&out, base+4, s.Pieces[ours][board.Queen])
		fillPlaneBB(&out, base+5, s.Pieces[ours][board.King])

		fillPlaneBB(&out, base+6, s.Pieces[theirs][board.Pawn])
		fillPlaneBB(&out, base+7, s.Pieces[theirs][board.Knight])
		fillPlaneBB(&out, base+8, s.Pieces[theirs][board.Bishop])
		fillPlaneBB(&out, base+9, s.Pieces[theirs][board.Rook])
		fillPlaneBB(&out, base+10, s.Pieces[theirs][board.Queen])
		fillPlaneBB(&out, base+11, s.Pieces[theirs][board.King])

		if isRepetition(plies, h) {
			setPlaneAll(&out, base+12, 1.0)
		}
	}

	cur := plies[0]
	stm := cur.SideToMove
	them := stm.Other()
	cr := cur.CastlingRights

	if cr.CanCastle(stm, false) {
		setPlaneAll(&out, 104, 1.0)
	}
	if cr.CanCastle(stm, true) {
		setPlaneAll(&out, 105, 1.0)
	}
	if cr.CanCastle(them, false) {
		setPlaneAll(&out, 106, 1.0)
	}
	if cr.CanCastle(them, true) {
		setPlaneAll(&out, 107, 1.0)
	}

	if stm == board.Black {
		setPlaneAll(&out, 108, 1.0)
	}

	setPlaneAll(&out, 109, float32(cur.HalfMoveClock))
	// plane 110 is left zero.
	setPlaneAll(&out, 111, 1.0)

	return out
}
