package search

import "github.com/pkremer/chessforge/internal/board"

// correctionHistorySize is the table's entry count, 2^18, chosen the same
// way as the original engine's correction history to keep collisions rare
// without paying for a full-width position hash per entry.
const (
	correctionHistorySize = 1 << 18
	correctionHistoryMask = correctionHistorySize - 1
)

// CorrectionHistory adjusts static evaluation using the discrepancy between
// static eval and the search's actual result for similar positions, gated
// off by default (Config.UseCorrectionHistory) since it is a supplemental
// feature spec.md's HCE section does not itself describe.
type CorrectionHistory struct {
	table [correctionHistorySize]int16
	cfg   Config
}

func NewCorrectionHistory(cfg Config) *CorrectionHistory {
	return &CorrectionHistory{cfg: cfg}
}

func (ch *CorrectionHistory) index(hash uint64) int {
	return int((hash ^ (hash >> 18)) & correctionHistoryMask)
}

// Get returns the correction to add to a static eval for pos.
func (ch *CorrectionHistory) Get(pos *board.Position) int {
	if !ch.cfg.UseCorrectionHistory {
		return 0
	}
	return int(ch.table[ch.index(pos.Hash)])
}

// Update records a new (searchScore, staticEval) sample for pos at depth.
func (ch *CorrectionHistory) Update(pos *board.Position, searchScore, staticEval, depth int) {
	if !ch.cfg.UseCorrectionHistory || depth < 1 {
		return
	}

	diff := searchScore - staticEval
	bonus := diff * depth / 8
	if bonus > int(ch.cfg.CorrectionMax) {
		bonus = int(ch.cfg.CorrectionMax)
	} else if bonus < -int(ch.cfg.CorrectionMax) {
		bonus = -int(ch.cfg.CorrectionMax)
	}

	idx := ch.index(pos.Hash)
	old := int(ch.table[idx])
	newVal := old + (bonus-old)/16
	if newVal > int(ch.cfg.CorrectionScale)*64 {
		newVal = int(ch.cfg.CorrectionScale) * 64
	} else if newVal < -int(ch.cfg.CorrectionScale)*64 {
		newVal = -int(ch.cfg.CorrectionScale) * 64
	}
	ch.table[idx] = int16(newVal)
}

func (ch *CorrectionHistory) Clear() {
	for i := range ch.table {
		ch.table[i] = 0
	}
}

func (ch *CorrectionHistory) Age() {
	for i := range ch.table {
		ch.table[i] /= 2
	}
}
