// Package board implements chess board representation using bitboards.
package board

import "fmt"

// Square identifies one of the 64 board squares, using Little-Endian
// Rank-File Mapping (LERF): A1=0, H1=7, A8=56, H8=63.
type Square uint8

// Square constants for all 64 squares.
const (
	A1 Square = iota
	B1
	C1
	D1
	E1
	F1
	G1
	H1
	A2
	B2
	C2
	D2
	E2
	F2
	G2
	H2
	A3
	B3
	C3
	D3
	E3
	F3
	G3
	H3
	A4
	B4
	C4
	D4
	E4
	F4
	G4
	H4
	A5
	B5
	C5
	D5
	E5
	F5
	G5
	H5
	A6
	B6
	C6
	D6
	E6
	F6
	G6
	H6
	A7
	B7
	C7
	D7
	E7
	F7
	G7
	H7
	A8
	B8
	C8
	D8
	E8
	F8
	G8
	H8
	NoSquare Square = 64
)

// File is the column (0=a .. 7=h); the low 3 bits under LERF.
func (sq Square) File() int {
	return int(sq) & 7
}

// Rank is the row (0=rank1 .. 7=rank8); the square shifted right 3 bits.
func (sq Square) Rank() int {
	return int(sq) >> 3
}

// String renders algebraic notation, e.g. "e4"; NoSquare and beyond render "-".
func (sq Square) String() string {
	if !sq.IsValid() {
		return "-"
	}
	return fmt.Sprintf("%c%c", 'a'+sq.File(), '1'+sq.Rank())
}

// NewSquare builds a Square from 0-indexed file and rank.
func NewSquare(file, rank int) Square {
	return Square(rank*8 + file)
}

// ParseSquare parses algebraic notation such as "e4" into a Square.
func ParseSquare(s string) (Square, error) {
	if len(s) != 2 {
		return NoSquare, fmt.Errorf("invalid square: %s", s)
	}

	file := int(s[0] - 'a')
	rank := int(s[1] - '1')
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return NoSquare, fmt.Errorf("invalid square: %s", s)
	}
	return NewSquare(file, rank), nil
}

// IsValid reports whether sq falls in 0..63, i.e. is not NoSquare or beyond.
func (sq Square) IsValid() bool {
	return sq < NoSquare
}

// Mirror flips a square vertically, e.g. to view the board from Black's side.
func (sq Square) Mirror() Square {
	return sq ^ 56
}

// RelativeRank returns the rank counting from c's own back rank (0-indexed):
// for White this is Rank(); for Black it's the rank mirrored top-to-bottom.
func (sq Square) RelativeRank(c Color) int {
	if c == White {
		return sq.Rank()
	}
	return 7 - sq.Rank()
}
