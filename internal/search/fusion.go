package search

import (
	"sort"

	"github.com/dshills/codesearch/internal/index"
)

// DefaultRRFK is the reciprocal rank fusion smoothing constant. It
// keeps the top rank from dominating disproportionately.
const DefaultRRFK = 60.0

// Weights splits fused-score mass between the two rankers.
type Weights struct {
	Semantic float64
	Lexical  float64
}

// DefaultWeights returns the equal default split.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.5, Lexical: 0.5}
}

// Fused is one fused candidate with its component scores. A nil
// component score means the candidate was absent from that list.
type Fused struct {
	ID            string
	FusedScore    float64
	SemanticScore *float64
	LexicalScore  *float64
}

// Fuse combines the two ranked lists with weighted reciprocal rank
// fusion: each list contributes w/(K + rank) per candidate, ranks are
// 1-based, and a candidate present in only one list accumulates only
// that list's contribution. Ordering is by fused score descending,
// ties broken by higher semantic score then lexicographic ID. Fuse is
// a pure function of its inputs.
func Fuse(lexical, semantic []index.Hit, weights Weights, k float64) []Fused {
	if k <= 0 {
		k = DefaultRRFK
	}

	byID := make(map[string]*Fused, len(lexical)+len(semantic))

	for rank, hit := range lexical {
		f := byID[hit.ID]
		if f == nil {
			f = &Fused{ID: hit.ID}
			byID[hit.ID] = f
		}
		score := hit.Score
		f.LexicalScore = &score
		f.FusedScore += weights.Lexical / (k + float64(rank+1))
	}

	for rank, hit := range semantic {
		f := byID[hit.ID]
		if f == nil {
			f = &Fused{ID: hit.ID}
			byID[hit.ID] = f
		}
		score := hit.Score
		f.SemanticScore = &score
		f.FusedScore += weights.Semantic / (k + float64(rank+1))
	}

	fused := make([]Fused, 0, len(byID))
	for _, f := range byID {
		fused = append(fused, *f)
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].FusedScore != fused[j].FusedScore {
			return fused[i].FusedScore > fused[j].FusedScore
		}
		si, sj := semanticOrZero(fused[i]), semanticOrZero(fused[j])
		if si != sj {
			return si > sj
		}
		return fused[i].ID < fused[j].ID
	})

	return fused
}

func semanticOrZero(f Fused) float64 {
	if f.SemanticScore == nil {
		return 0
	}
	return *f.SemanticScore
}
