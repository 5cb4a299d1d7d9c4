package nn

import "math"

// ScoreMap selects how a WDL forward pass's win/draw/loss probabilities
// become a centipawn score.
type ScoreMap int

const (
	ScoreMapLinear ScoreMap = iota
	ScoreMapAtanh
	ScoreMapLogisticInverse
	ScoreMapLc0Tan
)

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MapWDLToCP folds a WDL triple into a centipawn score in [-30000, 30000],
// clamping the tails so atanh/tan-based maps never blow up near a certain
// win or loss.
func MapWDLToCP(wdl WDL, cpScale int, mode ScoreMap) int {
	pw := clampf(wdl.Win, 1e-6, 1-1e-6)
	pd := clampf(wdl.Draw, 1e-6, 1-1e-6)
	pl := clampf(wdl.Loss, 1e-6, 1-1e-6)
	expected := clampf(pw-pl, -0.999, 0.999)

	var cp float64
	scale := float64(cpScale)
	switch mode {
	case ScoreMapLinear:
		cp = scale * float64(expected)
	case ScoreMapAtanh:
		cp = scale * math.Atanh(float64(expected))
	case ScoreMapLogisticInverse:
		score01 := float64(clampf(pw+0.5*pd, 1e-5, 1-1e-5))
		cp = scale * math.Log(score01/(1-score01))
	default: // ScoreMapLc0Tan
		cp = 90.0 * math.Tan(1.5637541897*float64(expected))
	}

	if math.IsNaN(cp) || math.IsInf(cp, 0) {
		return 0
	}

	const maxAbsEvalCP = 30000
	rounded := int(math.Round(cp))
	if rounded > maxAbsEvalCP {
		return maxAbsEvalCP
	}
	if rounded < -maxAbsEvalCP {
		return -maxAbsEvalCP
	}
	return rounded
}
