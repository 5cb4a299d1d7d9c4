package eval

import (
	"testing"

	"github.com/pkremer/chessforge/internal/board"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func mustFEN(t *testing.T, fen string) *board.Position {
	t.Helper()
	pos, err := board.ParseFEN(fen)
	if err != nil {
		t.Fatalf("ParseFEN(%q): %v", fen, err)
	}
	return pos
}

// TestStaticEvalDeterministic checks that evaluating the same position twice,
// with no mutation in between, always returns the same score.
func TestStaticEvalDeterministic(t *testing.T) {
	positions := []string{
		startFEN,
		"r1bqkbnr/pppp1ppp/2n5/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R w KQkq - 2 3",
		"8/8/8/4k3/8/4K3/4P3/8 w - - 0 1",
		"r3k2r/pp3ppp/2n1bn2/2bpp3/2B1P3/2NP1N2/PPP2PPP/R1BQK2R w KQkq - 4 8",
	}

	h := NewHCE(4)
	for _, fen := range positions {
		pos := mustFEN(t, fen)
		first := h.StaticEval(pos)
		second := h.StaticEval(pos)
		if first != second {
			t.Errorf("StaticEval(%q) not deterministic: %d then %d", fen, first, second)
		}
	}
}

// TestStaticEvalStartposIsSmall checks the opening position evaluates close
// to equal (within a small tempo-sized band) with White to move.
func TestStaticEvalStartposIsSmall(t *testing.T) {
	h := NewHCE(4)
	pos := mustFEN(t, startFEN)
	sc := h.StaticEval(pos)
	if sc < -TempoBonus-5 || sc > TempoBonus+5 {
		t.Errorf("startpos StaticEval = %d, want within a few centipawns of 0", sc)
	}
}

// TestStaticEvalMaterialDominates checks that being up a whole queen scores
// as a large advantage regardless of the rest of the position.
func TestStaticEvalMaterialDominates(t *testing.T) {
	h := NewHCE(4)
	pos := mustFEN(t, "4k3/8/8/8/8/8/8/3QK3 w - - 0 1")
	sc := h.StaticEval(pos)
	if sc < 500 {
		t.Errorf("king+queen vs lone king StaticEval = %d, want a large advantage", sc)
	}
}

// TestStaticEvalSideToMovePOV checks the same position with only the side to
// move flipped negates: HCE returns a side-to-move relative score, so an
// asymmetric position evaluated from each side must sum to (twice the tempo
// bonus contribution aside) roughly zero once tempo is accounted for.
func TestStaticEvalSideToMovePOV(t *testing.T) {
	h := NewHCE(4)
	white := mustFEN(t, "r3k2r/pp3ppp/2n1bn2/2bpp3/2B1P3/2NP1N2/PPP2PPP/R1BQK2R w KQkq - 4 8")
	black := mustFEN(t, "r3k2r/pp3ppp/2n1bn2/2bpp3/2B1P3/2NP1N2/PPP2PPP/R1BQK2R b KQkq - 4 8")

	scWhite := h.StaticEval(white)
	scBlack := h.StaticEval(black)

	diff := scWhite + scBlack
	if diff > 2*TempoBonus || diff < -2*TempoBonus {
		t.Errorf("side-to-move flip broke POV symmetry: white=%d black=%d (sum=%d)", scWhite, scBlack, diff)
	}
}

// TestStaticEvalMatchesRecomputeAfterMakeUnmake plays a short sequence of
// moves from the start position, checking after every MakeMove and every
// UnmakeMove that the incrementally maintained material/PSQT accumulators
// (read by StaticEval) never drift from a from-scratch recomputation
// (StaticEvalRecompute).
func TestStaticEvalMatchesRecomputeAfterMakeUnmake(t *testing.T) {
	h := NewHCE(4)
	pos := mustFEN(t, startFEN)

	checkAgree := func(label string) {
		t.Helper()
		got := h.StaticEval(pos)
		want := h.StaticEvalRecompute(pos)
		if got != want {
			t.Fatalf("%s: StaticEval=%d StaticEvalRecompute=%d, incremental accumulators drifted", label, got, want)
		}
	}

	checkAgree("start")

	type step struct {
		move  board.Move
		undo  board.UndoInfo
		label string
	}
	var stack []step

	playFirstLegal := func() {
		moves := pos.GenerateLegalMoves()
		if moves.Len() == 0 {
			t.Fatal("no legal moves available")
		}
		m := moves.Get(0)
		undo := pos.MakeMove(m)
		stack = append(stack, step{move: m, undo: undo})
		checkAgree("after MakeMove")
	}

	for i := 0; i < 6; i++ {
		playFirstLegal()
	}

	for len(stack) > 0 {
		last := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		pos.UnmakeMove(last.move, last.undo)
		checkAgree("after UnmakeMove")
	}
}

// TestStaticEvalTraceSumsToTotal checks that the per-term breakdown produced
// by StaticEvalTrace sums (after tempo) to the same total the trace itself
// reports, and that the traced total agrees with plain StaticEval's
// side-to-move relative score.
func TestStaticEvalTraceSumsToTotal(t *testing.T) {
	h := NewHCE(4)
	pos := mustFEN(t, "r1bqkbnr/pppp1ppp/2n5/4p3/4P3/5N2/PPPP1PPP/RNBQKB1R w KQkq - 2 3")

	var breakdown Breakdown
	traced := h.StaticEvalTrace(pos, &breakdown)

	sum := breakdown.MaterialPSQT + breakdown.PawnStructure + breakdown.Mobility +
		breakdown.KingSafety + breakdown.PieceFeatures + breakdown.Threats +
		breakdown.Space + breakdown.KingActivity + breakdown.Tempo
	if sum != breakdown.TotalWhitePov {
		t.Errorf("breakdown terms sum to %d, want TotalWhitePov=%d", sum, breakdown.TotalWhitePov)
	}

	plain := h.StaticEval(pos)
	if plain != traced {
		t.Errorf("StaticEvalTrace returned %d, StaticEval returned %d for the same position", traced, plain)
	}

	wantWhitePov := plain
	if pos.SideToMove == board.Black {
		wantWhitePov = -plain
	}
	if breakdown.TotalWhitePov != wantWhitePov {
		t.Errorf("breakdown.TotalWhitePov = %d, want %d (StaticEval seen from White's POV)", breakdown.TotalWhitePov, wantWhitePov)
	}
}

// TestPawnHashStatsTrackHits checks that repeated evaluation of positions
// sharing a pawn structure produces pawn hash hits, and that ClearStats
// resets both the eval and pawn hash counters.
func TestPawnHashStatsTrackHits(t *testing.T) {
	h := NewHCE(1)
	posA := mustFEN(t, "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1")
	posB := mustFEN(t, "rnbqkb1r/pppppppp/5n2/8/8/5N2/PPPPPPPP/RNBQKB1R w KQkq - 2 2")

	h.StaticEval(posA)
	h.StaticEval(posB) // same pawn structure and king files as posA
	h.StaticEval(posA)

	stats := h.Stats()
	if stats.EvalCalls != 3 {
		t.Errorf("EvalCalls = %d, want 3", stats.EvalCalls)
	}
	if stats.PawnHashHits == 0 {
		t.Errorf("expected at least one pawn hash hit across repeated pawn structures, got 0 of %d probes", stats.PawnHashProbes)
	}

	h.ClearStats()
	cleared := h.Stats()
	if cleared.EvalCalls != 0 || cleared.PawnHashHits != 0 || cleared.PawnHashProbes != 0 {
		t.Errorf("ClearStats left non-zero counters: %+v", cleared)
	}
}
