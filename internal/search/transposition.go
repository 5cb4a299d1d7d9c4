package search

import "github.com/pkremer/chessforge/internal/board"

// Bound records which side of the search window a stored score is exact for.
type Bound uint8

const (
	BoundExact Bound = iota
	BoundLower       // fail-high, score is a lower bound
	BoundUpper       // fail-low, score is an upper bound
)

// MateScore bounds the mate-distance encoding used when adjusting scores on
// the way into and out of the table.
const (
	MateScore = 32000
)

// Entry is a single transposition table slot: an 8-byte key, a 4-byte move,
// a 2-byte score, a 2-byte static eval and one byte each for depth, bound
// and generation, which Go pads to 24 bytes. No buckets, single probe per
// slot, and none of the sharded-mutex machinery the teacher needs for Lazy
// SMP, since spec.md's
// Non-goals exclude multi-threaded search: this table is only ever touched
// by the one search thread.
type Entry struct {
	Key        uint64
	Move       board.Move
	Score      int16
	Eval       int16
	Depth      int8
	Bound      Bound
	Generation uint8
}

// Table is a flat, single-probe transposition table.
type Table struct {
	entries    []Entry
	mask       uint64
	generation uint8

	probes uint64
	hits   uint64
}

// NewTable allocates a table sized to hold approximately sizeMB megabytes,
// rounded down to a power of two entry count.
func NewTable(sizeMB int) *Table {
	if sizeMB < 1 {
		sizeMB = 1
	}
	const entrySize = 24
	numEntries := (sizeMB * 1024 * 1024) / entrySize
	size := 1
	for size*2 <= numEntries {
		size *= 2
	}
	return &Table{entries: make([]Entry, size), mask: uint64(size - 1)}
}

// Probe returns the entry stored for key, if any.
func (t *Table) Probe(key uint64) (Entry, bool) {
	t.probes++
	e := &t.entries[key&t.mask]
	if e.Key == key {
		t.hits++
		return *e, true
	}
	return Entry{}, false
}

// Store writes an entry, replacing the current occupant of the slot when the
// slot is empty, holds a different key, the new bound is exact, the new
// depth is at least as deep, or the generation differs — the five-condition
// replacement policy spec.md's transposition table section names.
func (t *Table) Store(key uint64, move board.Move, score, eval int16, depth int, bound Bound) {
	e := &t.entries[key&t.mask]
	replace := e.Key == 0 ||
		e.Key != key ||
		bound == BoundExact ||
		int(depth) >= int(e.Depth) ||
		e.Generation != t.generation

	if !replace {
		return
	}

	if move == board.NoMove && e.Key == key {
		move = e.Move // keep the previous best move when storing a moveless bound update
	}

	e.Key = key
	e.Move = move
	e.Score = score
	e.Eval = eval
	e.Depth = int8(depth)
	e.Bound = bound
	e.Generation = t.generation
}

// NewSearch bumps the generation counter so aged-out entries are preferred
// for replacement in the next search.
func (t *Table) NewSearch() {
	t.generation++
}

// Clear zeroes every slot and resets counters.
func (t *Table) Clear() {
	for i := range t.entries {
		t.entries[i] = Entry{}
	}
	t.generation = 0
	t.probes = 0
	t.hits = 0
}

// Resize reallocates the table for a new size in megabytes.
func (t *Table) Resize(sizeMB int) {
	*t = *NewTable(sizeMB)
}

// HashFull samples the first 1000 slots and returns the permille in use by
// the current generation, matching the UCI "hashfull" info field.
func (t *Table) HashFull() int {
	sample := 1000
	if len(t.entries) < sample {
		sample = len(t.entries)
	}
	used := 0
	for i := 0; i < sample; i++ {
		if t.entries[i].Key != 0 && t.entries[i].Generation == t.generation {
			used++
		}
	}
	if sample == 0 {
		return 0
	}
	return used * 1000 / sample
}

func (t *Table) HitRate() float64 {
	if t.probes == 0 {
		return 0
	}
	return float64(t.hits) / float64(t.probes)
}

// AdjustScoreFromTT converts a stored mate-distance-from-root score into one
// relative to the current ply.
func AdjustScoreFromTT(score, ply int) int {
	if score > MateScore-1000 {
		return score - ply
	}
	if score < -MateScore+1000 {
		return score + ply
	}
	return score
}

// AdjustScoreToTT converts a ply-relative score into one relative to the
// root, suitable for storage (so the same mate is worth the same score
// regardless of which slot found it).
func AdjustScoreToTT(score, ply int) int {
	if score > MateScore-1000 {
		return score + ply
	}
	if score < -MateScore+1000 {
		return score - ply
	}
	return score
}
