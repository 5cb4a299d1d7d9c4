package search

import "github.com/pkremer/chessforge/internal/board"

// SEEValue is the static piece value table used by static exchange
// evaluation and MVV ordering: pawn=100 ... queen=900, king pinned to a
// value larger than any realistic capture chain so the king is never
// profitably "captured" by the exchange simulation.
var SEEValue = [7]int{100, 320, 330, 500, 900, 10000, 0}

// See runs static exchange evaluation on a pseudo-legal capture (or
// non-capture, for which it degenerates to zero) and returns the material
// balance, in centipawns, of the full capture sequence on the move's
// destination square, assuming both sides always play the least valuable
// attacker. Grounded on the classic "swap algorithm" gain[] recurrence.
func See(pos *board.Position, m board.Move) int {
	from, to := m.From(), m.To()

	var gain [32]int
	depth := 0

	occupied := pos.AllOccupied
	captured := board.NoPieceType
	switch {
	case m.IsEnPassant():
		captured = board.Pawn
	case m.IsCapture():
		if target := pos.PieceAt(to); target != board.NoPiece {
			captured = target.Type()
		}
	}
	gain[0] = SEEValue[captured]

	attacker := pos.PieceAt(from).Type()
	side := pos.PieceAt(from).Color()

	occupied &^= board.SquareBB(from)
	if m.IsEnPassant() {
		capSq := board.NewSquare(to.File(), from.Rank())
		occupied &^= board.SquareBB(capSq)
	}

	attackers := pos.AttackersTo(to, occupied)
	// x-ray: sliders behind the just-moved piece may now attack `to`.
	attackers |= xrayAttackersBehind(pos, to, from, occupied)

	side = side.Other()
	for {
		mine := attackers & pos.Occupied[side] & occupied
		if mine == 0 {
			break
		}

		sq, pt, ok := leastValuableAttacker(pos, mine)
		if !ok {
			break
		}

		depth++
		gain[depth] = SEEValue[attacker] - gain[depth-1]
		if maxInt(-gain[depth-1], gain[depth]) < 0 {
			break
		}

		occupied &^= board.SquareBB(sq)
		attackers &^= board.SquareBB(sq)
		attackers |= xrayAttackersBehind(pos, to, sq, occupied)

		attacker = pt
		side = side.Other()

		if depth >= len(gain)-1 {
			break
		}
	}

	for depth > 0 {
		gain[depth-1] = -maxInt(-gain[depth-1], gain[depth])
		depth--
	}
	return gain[0]
}

// leastValuableAttacker returns the cheapest piece in the attacker bitboard.
func leastValuableAttacker(pos *board.Position, attackers board.Bitboard) (board.Square, board.PieceType, bool) {
	if attackers == 0 {
		return 0, 0, false
	}
	for pt := board.Pawn; pt <= board.King; pt++ {
		bb := attackers & (pos.Pieces[board.White][pt] | pos.Pieces[board.Black][pt])
		if bb != 0 {
			return bb.LSB(), pt, true
		}
	}
	return 0, 0, false
}

// xrayAttackersBehind returns sliding-piece attackers newly revealed on the
// `through` square's line to `target` once `through` is removed from occ.
func xrayAttackersBehind(pos *board.Position, target, through board.Square, occ board.Bitboard) board.Bitboard {
	line := board.Line(target, through)
	if line == 0 {
		return 0
	}
	bishops := (pos.Pieces[board.White][board.Bishop] | pos.Pieces[board.Black][board.Bishop] |
		pos.Pieces[board.White][board.Queen] | pos.Pieces[board.Black][board.Queen]) & line
	rooks := (pos.Pieces[board.White][board.Rook] | pos.Pieces[board.Black][board.Rook] |
		pos.Pieces[board.White][board.Queen] | pos.Pieces[board.Black][board.Queen]) & line

	var revealed board.Bitboard
	if bishops != 0 {
		revealed |= board.BishopAttacks(target, occ) & bishops
	}
	if rooks != 0 {
		revealed |= board.RookAttacks(target, occ) & rooks
	}
	return revealed
}

// SEECapture reports whether the capture's static exchange evaluation meets
// or exceeds threshold, used by quiescence pruning and move-picker capture
// classification (spec's "good capture" vs "bad capture" split).
func SEECapture(pos *board.Position, m board.Move, threshold int) bool {
	return See(pos, m) >= threshold
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
