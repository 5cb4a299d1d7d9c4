package eval

import "github.com/pkremer/chessforge/internal/board"

// PawnHashEntry caches the pure pawn-structure evaluation for a given
// (pawn key, king files) combination, along with the per-color passed-pawn
// bitboards and shelter/storm deltas that later evaluation stages (which
// run outside the cached section, since they depend on non-pawn pieces
// too) need without recomputing pawn spans from scratch.
type PawnHashEntry struct {
	Key            uint64
	MG             int16
	EG             int16
	PassedPawns    [2]board.Bitboard
	ShelterStorm   [2]int16 // per-color net shelter/storm delta already folded into MG/EG above
}

// PawnHashTable is a direct-mapped, always-replace cache from PawnHashKey to
// PawnHashEntry, matching the design of the plain material/PSQT pawn table
// this package's teacher ships, extended with the extra fields above.
type PawnHashTable struct {
	entries []PawnHashEntry
	mask    uint64
	probes  uint64
	hits    uint64
}

// NewPawnHashTable creates a table sized to hold approximately sizeMB
// megabytes of entries, rounded down to a power of two slot count.
func NewPawnHashTable(sizeMB int) *PawnHashTable {
	const entrySize = 40 // approx sizeof(PawnHashEntry)
	numEntries := (sizeMB * 1024 * 1024) / entrySize
	if numEntries < 1 {
		numEntries = 1
	}

	size := 1
	for size*2 <= numEntries {
		size *= 2
	}

	return &PawnHashTable{
		entries: make([]PawnHashEntry, size),
		mask:    uint64(size - 1),
	}
}

// Probe looks up an entry by key. The probes/hits counters back
// Stats.PawnHashProbes/PawnHashHits.
func (t *PawnHashTable) Probe(key uint64) (PawnHashEntry, bool) {
	t.probes++
	e := &t.entries[key&t.mask]
	if e.Key == key {
		t.hits++
		return *e, true
	}
	return PawnHashEntry{}, false
}

// Store writes an entry, unconditionally replacing whatever occupied the
// slot (there is no depth or age concept for pawn structure: recomputing
// is cheap and structure changes are rare compared to search node count).
func (t *PawnHashTable) Store(entry PawnHashEntry) {
	t.entries[entry.Key&t.mask] = entry
}

// Clear empties the table and resets hit-rate counters.
func (t *PawnHashTable) Clear() {
	for i := range t.entries {
		t.entries[i] = PawnHashEntry{}
	}
	t.probes = 0
	t.hits = 0
}

// Probes and Hits expose the raw counters for Stats().
func (t *PawnHashTable) Probes() uint64 { return t.probes }
func (t *PawnHashTable) Hits() uint64   { return t.hits }
