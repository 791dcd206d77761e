package search

import "github.com/dshills/codesearch/internal/index"

// DefaultQualityThreshold is the semantic score range below which the
// semantic ranking is treated as low-confidence. A compressed range
// means the model could barely tell the candidates apart.
const DefaultQualityThreshold = 0.05

// QualityFunc inspects the semantic result set and reports whether it
// should be treated as low-confidence. The statistic is a tunable
// heuristic, so it is a function value rather than a fixed formula.
type QualityFunc func(semantic []index.Hit) bool

// ScoreRangeQuality returns a QualityFunc flagging low confidence when
// the spread between the top and bottom semantic scores falls below
// threshold.
func ScoreRangeQuality(threshold float64) QualityFunc {
	return func(semantic []index.Hit) bool {
		if len(semantic) < 2 {
			return false
		}
		top := semantic[0].Score
		min := semantic[0].Score
		for _, h := range semantic[1:] {
			if h.Score > top {
				top = h.Score
			}
			if h.Score < min {
				min = h.Score
			}
		}
		return top-min < threshold
	}
}

// AdjustWeights halves the semantic weight on low confidence and moves
// the freed mass to the lexical side, so total weight is preserved and
// ranking degrades toward pure keyword matching.
func AdjustWeights(w Weights, lowConfidence bool) Weights {
	if !lowConfidence {
		return w
	}
	half := w.Semantic / 2
	return Weights{
		Semantic: half,
		Lexical:  w.Lexical + half,
	}
}
