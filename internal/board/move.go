package board

import "fmt"

// Move encodes a chess move in 32 bits:
//
//	bits 0-5:   from square (0-63)
//	bits 6-11:  to square (0-63)
//	bits 12-15: promotion piece type + 1 (0 = no promotion)
//	bits 16-19: independent flag bits (capture, double push, en passant, castling)
//
// The zero value (NoMove) has every field empty, so is_none() is simply
// "raw value is zero". Flags are independent bits rather than a mutually
// exclusive enum: a promotion can also be a capture, for instance.
type Move uint32

// Move flags, each an independent bit.
const (
	FlagCapture    Move = 1 << 16
	FlagDoublePush Move = 1 << 17
	FlagEnPassant  Move = 1 << 18
	FlagCastling   Move = 1 << 19
)

const (
	moveFromMask  = 0x3F
	moveToShift   = 6
	moveToMask    = 0x3F
	movePromoShift = 12
	movePromoMask  = 0xF
)

// NoMove represents an invalid or null move (raw value zero).
const NoMove Move = 0

func encode(from, to Square) Move {
	return Move(from) | Move(to)<<moveToShift
}

// NewMove creates a normal (non-promotion, non-castling, non-en-passant) move.
func NewMove(from, to Square, capture bool) Move {
	m := encode(from, to)
	if capture {
		m |= FlagCapture
	}
	return m
}

// NewDoublePawnPush creates a two-square pawn push move.
func NewDoublePawnPush(from, to Square) Move {
	return encode(from, to) | FlagDoublePush
}

// NewPromotion creates a promotion move, optionally also a capture.
func NewPromotion(from, to Square, promo PieceType, capture bool) Move {
	m := encode(from, to) | Move(promo+1)<<movePromoShift
	if capture {
		m |= FlagCapture
	}
	return m
}

// NewEnPassant creates an en passant capture move.
func NewEnPassant(from, to Square) Move {
	return encode(from, to) | FlagEnPassant | FlagCapture
}

// NewCastling creates a castling move (encoded as the king's movement).
func NewCastling(from, to Square) Move {
	return encode(from, to) | FlagCastling
}

// From returns the origin square.
func (m Move) From() Square {
	return Square(m & moveFromMask)
}

// To returns the destination square.
func (m Move) To() Square {
	return Square((m >> moveToShift) & moveToMask)
}

// Promotion returns the promotion piece type. Only meaningful if IsPromotion().
func (m Move) Promotion() PieceType {
	return PieceType((m>>movePromoShift)&movePromoMask) - 1
}

// IsPromotion returns true if this move promotes a pawn.
func (m Move) IsPromotion() bool {
	return (m>>movePromoShift)&movePromoMask != 0
}

// IsCapture returns true if this move captures a piece (including en passant).
// This is a stored bit set at construction time, not derived from board state.
func (m Move) IsCapture() bool {
	return m&FlagCapture != 0
}

// IsDoublePawnPush returns true if this is a two-square pawn push.
func (m Move) IsDoublePawnPush() bool {
	return m&FlagDoublePush != 0
}

// IsCastling returns true if this is a castling move.
func (m Move) IsCastling() bool {
	return m&FlagCastling != 0
}

// IsEnPassant returns true if this is an en passant capture.
func (m Move) IsEnPassant() bool {
	return m&FlagEnPassant != 0
}

// IsQuiet returns true if this move is neither a capture nor a promotion.
func (m Move) IsQuiet() bool {
	return !m.IsCapture() && !m.IsPromotion()
}

// String returns the UCI format of the move (e.g., "e2e4", "e7e8q").
func (m Move) String() string {
	if m == NoMove {
		return "0000"
	}

	s := m.From().String() + m.To().String()

	if m.IsPromotion() {
		promoChars := []byte{'n', 'b', 'r', 'q'}
		s += string(promoChars[m.Promotion()-Knight])
	}

	return s
}

// ParseMove parses a UCI format move string against a position, filling in
// the capture/double-push/en-passant/castling flags by inspecting the board.
func ParseMove(s string, pos *Position) (Move, error) {
	if len(s) < 4 {
		return NoMove, fmt.Errorf("invalid move string: %s", s)
	}

	from, err := ParseSquare(s[0:2])
	if err != nil {
		return NoMove, err
	}

	to, err := ParseSquare(s[2:4])
	if err != nil {
		return NoMove, err
	}

	piece := pos.PieceAt(from)
	if piece == NoPiece {
		return NoMove, fmt.Errorf("no piece at %s", from)
	}
	pt := piece.Type()
	capture := !pos.IsEmpty(to)

	// Check for promotion
	if len(s) == 5 {
		var promo PieceType
		switch s[4] {
		case 'n':
			promo = Knight
		case 'b':
			promo = Bishop
		case 'r':
			promo = Rook
		case 'q':
			promo = Queen
		default:
			return NoMove, fmt.Errorf("invalid promotion piece: %c", s[4])
		}
		return NewPromotion(from, to, promo, capture), nil
	}

	// Castling
	if pt == King && abs(int(to)-int(from)) == 2 {
		return NewCastling(from, to), nil
	}

	// En passant
	if pt == Pawn && to == pos.EnPassant {
		return NewEnPassant(from, to), nil
	}

	// Double pawn push
	if pt == Pawn && abs(int(to)-int(from)) == 16 {
		return NewDoublePawnPush(from, to), nil
	}

	return NewMove(from, to, capture), nil
}

// MoveList is a fixed-size list of moves to avoid allocations.
type MoveList struct {
	moves [256]Move
	count int
}

// NewMoveList creates an empty move list.
func NewMoveList() *MoveList {
	return &MoveList{}
}

// Add adds a move to the list.
func (ml *MoveList) Add(m Move) {
	ml.moves[ml.count] = m
	ml.count++
}

// Len returns the number of moves in the list.
func (ml *MoveList) Len() int {
	return ml.count
}

// Get returns the move at index i.
func (ml *MoveList) Get(i int) Move {
	return ml.moves[i]
}

// Set sets the move at index i.
func (ml *MoveList) Set(i int, m Move) {
	ml.moves[i] = m
}

// Swap swaps two moves in the list.
func (ml *MoveList) Swap(i, j int) {
	ml.moves[i], ml.moves[j] = ml.moves[j], ml.moves[i]
}

// Clear clears the list.
func (ml *MoveList) Clear() {
	ml.count = 0
}

// Contains returns true if the list contains the move.
func (ml *MoveList) Contains(m Move) bool {
	for i := 0; i < ml.count; i++ {
		if ml.moves[i] == m {
			return true
		}
	}
	return false
}

// Slice returns the moves as a slice.
func (ml *MoveList) Slice() []Move {
	return ml.moves[:ml.count]
}

// UndoInfo stores information needed to undo a move, including a full
// snapshot of incremental evaluation state so unmake is exact even though
// make computes it incrementally.
type UndoInfo struct {
	CapturedPiece   Piece
	CastlingRights  CastlingRights
	EnPassant       Square
	HalfMoveClock   int
	Hash            uint64
	PawnKey         uint64
	Checkers        Bitboard
	KingSquare      [2]Square      // King positions before move
	Pieces          [2][6]Bitboard // Full piece bitboards for reliable restoration
	Occupied        [2]Bitboard    // Occupancy bitboards
	AllOccupied     Bitboard       // All pieces
	MGPSQT          [2]int32
	EGPSQT          [2]int32
	NonPawnMaterial [2]int32
	Phase           int
	Valid           bool // True if move was actually applied
}
