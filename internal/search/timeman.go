package search

import "time"

// Limits mirrors spec.md's SearchLimits: everything the UCI "go" command
// can pass in, in one struct so the time manager's budget calculation is a
// pure function of it.
type Limits struct {
	Depth        int
	Nodes        uint64
	MoveTimeMS   int
	WTimeMS      int
	BTimeMS      int
	WIncMS       int
	BIncMS       int
	MovesToGo    int
	MoveOverhead int
	Infinite     bool
	Ponder       bool
	NodesAsTime  bool
}

// TimeManager allocates optimum/maximum budgets for a move and decides,
// once a depth completes, whether the soft (optimum) stop should fire.
// Grounded on the original engine's TimeManager, extended with the
// complexity/stability scoring and EMA node-rate tracking spec.md names but
// the teacher's simpler version does not implement.
type TimeManager struct {
	startTime time.Time

	optimum      time.Duration
	maximum      time.Duration
	nodeBudget   uint64
	usingNodes   bool

	checkPeriodNodes uint64

	nps        float64
	npsPrimed  bool
}

func NewTimeManager() *TimeManager {
	return &TimeManager{checkPeriodNodes: 2048}
}

// Init computes the optimum/maximum budgets for the side to move `us`
// (0=white, 1=black) at the given game ply.
func (tm *TimeManager) Init(l Limits, us int, ply int) {
	tm.startTime = time.Now()
	tm.usingNodes = false

	if l.MoveTimeMS > 0 {
		budget := time.Duration(l.MoveTimeMS) * time.Millisecond
		overhead := time.Duration(l.MoveOverhead) * time.Millisecond
		if budget > overhead {
			budget -= overhead
		}
		tm.optimum, tm.maximum = budget, budget
		return
	}

	timeLeft := l.WTimeMS
	inc := l.WIncMS
	if us == 1 {
		timeLeft = l.BTimeMS
		inc = l.BIncMS
	}

	if l.Infinite || l.Ponder || (timeLeft == 0 && l.MoveTimeMS == 0) {
		tm.optimum, tm.maximum = time.Hour, time.Hour
		return
	}

	overhead := l.MoveOverhead
	if overhead <= 0 {
		overhead = 30
	}
	effectiveLeft := timeLeft - overhead
	emergency := false
	if effectiveLeft < overhead*2 {
		emergency = true
		effectiveLeft = timeLeft / 2
		if effectiveLeft < 1 {
			effectiveLeft = 1
		}
	}

	mtg := l.MovesToGo
	if mtg == 0 {
		mtg = 50 - ply/4
		if mtg < 10 {
			mtg = 10
		}
		if mtg > 50 {
			mtg = 50
		}
	}

	baseMS := effectiveLeft/mtg + inc*9/10
	if baseMS < 1 {
		baseMS = 1
	}
	if ply < 8 && !emergency {
		baseMS = baseMS * 85 / 100
	}

	optimumMS := baseMS
	maxFromOptimum := optimumMS * 5
	maxFromRemaining := timeLeft * 8 / 10
	maximumMS := maxFromOptimum
	if maxFromRemaining < maximumMS {
		maximumMS = maxFromRemaining
	}
	safety := timeLeft * 95 / 100
	if maximumMS > safety {
		maximumMS = safety
	}
	if emergency {
		optimumMS = optimumMS / 2
		maximumMS = maximumMS / 2
	}

	if optimumMS < 10 {
		optimumMS = 10
	}
	if maximumMS < 50 {
		maximumMS = 50
	}

	tm.optimum = time.Duration(optimumMS) * time.Millisecond
	tm.maximum = time.Duration(maximumMS) * time.Millisecond

	if l.NodesAsTime && tm.npsPrimed && tm.nps > 0 {
		tm.usingNodes = true
		tm.nodeBudget = uint64(tm.optimum.Seconds() * tm.nps)
	}
}

func (tm *TimeManager) Elapsed() time.Duration { return time.Since(tm.startTime) }

// HardStop reports whether the maximum budget (or a hard node limit) has
// been exceeded; checked every checkPeriodNodes nodes during the search.
func (tm *TimeManager) HardStop(nodes uint64, l Limits) bool {
	if l.Nodes > 0 && nodes >= l.Nodes {
		return true
	}
	if l.Infinite || l.Ponder {
		return false
	}
	return tm.Elapsed() >= tm.maximum
}

// ShouldCheck reports whether `nodes` lands on a check boundary, so the
// caller doesn't call time.Now() on every single node.
func (tm *TimeManager) ShouldCheck(nodes uint64) bool {
	return nodes%tm.checkPeriodNodes == 0
}

// complexity maps a node count spent on the just-completed iteration into
// spec.md's [55,260] scoring range: iterations that needed many more nodes
// than the previous one look "complex" and buy extra soft-stop budget;
// iterations that converged quickly look simple and free up time sooner.
func complexity(nodesThisDepth, nodesPrevDepth uint64) int {
	if nodesPrevDepth == 0 {
		return 130
	}
	ratio := float64(nodesThisDepth) / float64(nodesPrevDepth)
	score := int(55 + (ratio-1)*100)
	if score < 55 {
		score = 55
	}
	if score > 260 {
		score = 260
	}
	return score
}

// SoftStop decides, after a depth has completed, whether the iterative
// deepening loop should stop rather than start another iteration —
// spec.md's complexity/stability soft-stop model.
func (tm *TimeManager) SoftStop(l Limits, stability, bestMoveChanges int, nodesThisDepth, nodesPrevDepth uint64) bool {
	if l.Infinite || l.Ponder || l.MoveTimeMS > 0 {
		return false
	}

	scale := 1.0
	switch {
	case stability >= 6:
		scale = 0.40
	case stability >= 4:
		scale = 0.60
	case stability >= 2:
		scale = 0.80
	}
	switch {
	case bestMoveChanges >= 4:
		scale *= 2.0
	case bestMoveChanges >= 2:
		scale *= 1.5
	}

	c := complexity(nodesThisDepth, nodesPrevDepth)
	scale *= float64(c) / 130.0

	budget := time.Duration(float64(tm.optimum) * scale)
	if budget > tm.maximum {
		budget = tm.maximum
	}
	return tm.Elapsed() >= budget
}

// RecordNPS updates the exponential moving average of nodes-per-second used
// to translate a nodes_as_time budget back into a node count. The first
// sample seeds the average; every later sample, in this search or a later
// one, is blended in at 0.85/0.15. There is no separate 0.90/0.10 blend
// across searches.
func (tm *TimeManager) RecordNPS(nodes uint64, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	sample := float64(nodes) / elapsed.Seconds()
	if !tm.npsPrimed {
		tm.nps = sample
		tm.npsPrimed = true
		return
	}
	tm.nps = tm.nps*0.85 + sample*0.15
}

func (tm *TimeManager) NodeBudget() (uint64, bool) {
	return tm.nodeBudget, tm.usingNodes
}
