package search

import "github.com/pkremer/chessforge/internal/board"

// stage is the move picker's current enumeration stage. Order matches
// spec.md's Move Picker section: TT move, good captures, quiets, bad
// captures.
type stage int

const (
	stageTT stage = iota
	stageGoodCaptures
	stageQuiets
	stageBadCaptures
	stageDone
)

type scoredMove struct {
	m     board.Move
	score int
}

// Picker enumerates moves for a single search node one at a time via Next.
// Every move is scored once, on the first call to Next; each stage is then
// selection-sorted lazily instead of sorted up front, so a node that gets
// cut off early never pays for sorting moves it never looked at.
type Picker struct {
	pos  *board.Position
	h    *Heuristics
	cfg  Config
	ply  int
	ttMove   board.Move
	prevMove board.Move
	prevPiece board.Piece

	quiescenceOnly bool

	stage stage

	captures scoredMoveList
	quiets   scoredMoveList
	bad      scoredMoveList

	initialized bool
}

type scoredMoveList struct {
	items []scoredMove
	next  int
}

func (l *scoredMoveList) pickMax() (board.Move, int, bool) {
	if l.next >= len(l.items) {
		return board.NoMove, 0, false
	}
	best := l.next
	for i := l.next + 1; i < len(l.items); i++ {
		if l.items[i].score > l.items[best].score ||
			(l.items[i].score == l.items[best].score && l.items[i].m < l.items[best].m) {
			best = i
		}
	}
	l.items[l.next], l.items[best] = l.items[best], l.items[l.next]
	m := l.items[l.next].m
	sc := l.items[l.next].score
	l.next++
	return m, sc, true
}

// NewPicker builds a picker for a normal search node. Pass quiescenceOnly
// true to restrict enumeration to captures and promotions (qsearch).
func NewPicker(pos *board.Position, h *Heuristics, cfg Config, ply int, ttMove, prevMove board.Move, prevPiece board.Piece, quiescenceOnly bool) *Picker {
	return &Picker{
		pos: pos, h: h, cfg: cfg, ply: ply,
		ttMove: ttMove, prevMove: prevMove, prevPiece: prevPiece,
		quiescenceOnly: quiescenceOnly,
	}
}

func (p *Picker) init() {
	p.initialized = true

	var all *board.MoveList
	if p.quiescenceOnly {
		all = p.pos.GenerateCaptures()
	} else {
		all = p.pos.GenerateLegalMoves()
	}

	side := p.pos.SideToMove
	for i := 0; i < all.Len(); i++ {
		m := all.Get(i)
		if m == p.ttMove {
			continue
		}
		if m.IsCapture() || m.IsEnPassant() || m.IsPromotion() {
			score := p.scoreCapture(side, m)
			if score >= 0 {
				p.captures.items = append(p.captures.items, scoredMove{m, score})
			} else {
				p.bad.items = append(p.bad.items, scoredMove{m, score})
			}
		} else if !p.quiescenceOnly {
			p.quiets.items = append(p.quiets.items, scoredMove{m, p.scoreQuiet(side, m)})
		}
	}

	if p.ttMove != board.NoMove {
		p.stage = stageTT
	} else {
		p.stage = stageGoodCaptures
	}
}

func (p *Picker) scoreCapture(side board.Color, m board.Move) int {
	capturedType := board.NoPieceType
	if m.IsEnPassant() {
		capturedType = board.Pawn
	} else if target := p.pos.PieceAt(m.To()); target != board.NoPiece {
		capturedType = target.Type()
	}
	attacker := p.pos.PieceAt(m.From()).Type()

	score := 0
	if p.cfg.UseSEEInOrdering {
		score += See(p.pos, m) * 1024
	}
	score += p.h.CaptureHistory(side, attacker, m.To(), capturedType)
	score += mvvValue[capturedType]*16 - mvvValue[attacker]
	return score
}

func (p *Picker) scoreQuiet(side board.Color, m board.Move) int {
	if p.h.IsKiller(p.ply, m) {
		k1, _ := p.h.Killers(p.ply)
		if m == k1 {
			return killer1Bonus
		}
		return killer2Bonus
	}
	if p.h.CounterMove(p.prevMove) == m {
		return counterMoveBonus
	}

	score := p.h.MainHistory(side, m)
	movedPiece := p.pos.PieceAt(m.From())
	score += p.h.ContHistory(p.prevPiece, p.prevMove.To(), movedPiece, m.To())
	return score
}

// Next returns the next move in stage order, its stage (for cutoff
// attribution), and false once exhausted.
func (p *Picker) Next() (board.Move, stage, bool) {
	if !p.initialized {
		p.init()
	}

	for {
		switch p.stage {
		case stageTT:
			p.stage = stageGoodCaptures
			if p.ttMove != board.NoMove {
				return p.ttMove, stageTT, true
			}
		case stageGoodCaptures:
			if m, _, ok := p.captures.pickMax(); ok {
				return m, stageGoodCaptures, true
			}
			p.stage = stageQuiets
		case stageQuiets:
			if p.quiescenceOnly {
				p.stage = stageBadCaptures
				continue
			}
			if m, _, ok := p.quiets.pickMax(); ok {
				return m, stageQuiets, true
			}
			p.stage = stageBadCaptures
		case stageBadCaptures:
			if m, _, ok := p.bad.pickMax(); ok {
				return m, stageBadCaptures, true
			}
			p.stage = stageDone
		case stageDone:
			return board.NoMove, stageDone, false
		}
	}
}
