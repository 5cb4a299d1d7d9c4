package search

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meter is the package-wide OpenTelemetry meter. It resolves against
// whatever global MeterProvider the host process installs; with none
// installed (the default), every instrument below is a no-op, so search
// behavior never depends on a collector being attached.
var meter = otel.Meter("github.com/pkremer/chessforge/internal/search")

var (
	nodesCounter, _        = meter.Int64Counter("search.nodes", metric.WithDescription("nodes visited"))
	qnodesCounter, _       = meter.Int64Counter("search.qnodes", metric.WithDescription("quiescence nodes visited"))
	ttHitsCounter, _       = meter.Int64Counter("search.tt_hits", metric.WithDescription("transposition table hits"))
	nmpAttemptsCounter, _  = meter.Int64Counter("search.nmp_attempts")
	nmpVerifyFailCounter, _ = meter.Int64Counter("search.nmp_verify_fails")
	lmrResearchCounter, _  = meter.Int64Counter("search.lmr_researches")
	cutoffByPhase          [4]metric.Int64Counter
)

func init() {
	names := [4]string{"tt", "good_capture", "quiet", "bad_capture"}
	for i, n := range names {
		c, _ := meter.Int64Counter("search.cutoffs." + n)
		cutoffByPhase[i] = c
	}
}

// recordNode reports one visited node to the meter. Callers increment the
// per-search Stats.Nodes counter, used by the UCI "info" line, themselves.
func (s *Searcher) recordNode(ctx context.Context) {
	nodesCounter.Add(ctx, 1)
}

func (s *Searcher) recordCutoff(ctx context.Context, ph stage) {
	if int(ph) >= 0 && int(ph) < len(cutoffByPhase) && cutoffByPhase[ph] != nil {
		cutoffByPhase[ph].Add(ctx, 1)
		switch ph {
		case stageTT:
			s.stats.CutoffsTT++
		case stageGoodCaptures:
			s.stats.CutoffsGoodCapture++
		case stageQuiets:
			s.stats.CutoffsQuiet++
		case stageBadCaptures:
			s.stats.CutoffsBadCapture++
		}
	}
}

func (s *Searcher) recordNMPAttempt(ctx context.Context) { nmpAttemptsCounter.Add(ctx, 1); s.stats.NMPAttempts++ }
func (s *Searcher) recordNMPVerifyFail(ctx context.Context) {
	nmpVerifyFailCounter.Add(ctx, 1)
	s.stats.NMPVerifyFails++
}
func (s *Searcher) recordLMRResearch(ctx context.Context) {
	lmrResearchCounter.Add(ctx, 1)
	s.stats.LMRResearches++
}

// GetStats returns a snapshot of the fine-grained counters accumulated by
// the most recent Search call, beyond the minimal EvalStats spec.md
// describes: TT probe/hit totals, per-picker-phase cutoff attribution,
// null-move verification outcomes, and LMR re-search counts.
func (s *Searcher) GetStats() Stats { return s.stats }
