package search

import (
	"testing"

	"github.com/dshills/codesearch/internal/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuse_WorkedExample(t *testing.T) {
	// A: lexical rank 1, semantic rank 3. B: lexical rank 2, semantic
	// rank 1. With unit weights and K=60, fused(A) = 1/61 + 1/63 and
	// fused(B) = 1/62 + 1/61, so B ranks above A.
	lexical := []index.Hit{
		{ID: "A", Score: 9.0},
		{ID: "B", Score: 7.0},
	}
	semantic := []index.Hit{
		{ID: "B", Score: 0.92},
		{ID: "C", Score: 0.85},
		{ID: "A", Score: 0.80},
	}

	fused := Fuse(lexical, semantic, Weights{Semantic: 1, Lexical: 1}, 60)
	require.Len(t, fused, 3)

	byID := make(map[string]Fused)
	for _, f := range fused {
		byID[f.ID] = f
	}

	assert.InDelta(t, 1.0/61+1.0/63, byID["A"].FusedScore, 1e-12)
	assert.InDelta(t, 1.0/62+1.0/61, byID["B"].FusedScore, 1e-12)
	assert.Equal(t, "B", fused[0].ID)

	// Component scores are attached for transparency.
	require.NotNil(t, byID["A"].LexicalScore)
	assert.Equal(t, 9.0, *byID["A"].LexicalScore)
	require.NotNil(t, byID["A"].SemanticScore)
	assert.Equal(t, 0.80, *byID["A"].SemanticScore)

	// C appears only in the semantic list and accumulates only that
	// contribution.
	assert.InDelta(t, 1.0/62, byID["C"].FusedScore, 1e-12)
	assert.Nil(t, byID["C"].LexicalScore)
}

func TestFuse_PureFunction(t *testing.T) {
	lexical := []index.Hit{{ID: "x", Score: 3}, {ID: "y", Score: 2}}
	semantic := []index.Hit{{ID: "y", Score: 0.9}, {ID: "z", Score: 0.8}}
	w := DefaultWeights()

	first := Fuse(lexical, semantic, w, DefaultRRFK)
	second := Fuse(lexical, semantic, w, DefaultRRFK)
	assert.Equal(t, first, second)
}

func TestFuse_TieBreaks(t *testing.T) {
	// Same fused score; the one with the higher semantic score wins.
	lexical := []index.Hit{{ID: "lexOnly", Score: 5}}
	semantic := []index.Hit{{ID: "semOnly", Score: 0.7}}

	fused := Fuse(lexical, semantic, Weights{Semantic: 1, Lexical: 1}, 60)
	require.Len(t, fused, 2)
	assert.Equal(t, "semOnly", fused[0].ID)

	// Identical fused and semantic scores fall back to ID order.
	lexPair := []index.Hit{{ID: "zeta", Score: 4}, {ID: "alpha", Score: 4}}
	semPair := []index.Hit{{ID: "alpha", Score: 0.5}, {ID: "zeta", Score: 0.5}}
	f1 := Fuse(lexPair, semPair, Weights{Semantic: 1, Lexical: 1}, 60)
	require.Len(t, f1, 2)
	assert.Equal(t, "alpha", f1[0].ID)

	f2 := Fuse(nil, nil, DefaultWeights(), DefaultRRFK)
	assert.Empty(t, f2)
}

func TestFuse_DefaultK(t *testing.T) {
	lexical := []index.Hit{{ID: "a", Score: 1}}
	fused := Fuse(lexical, nil, Weights{Semantic: 1, Lexical: 1}, 0)
	require.Len(t, fused, 1)
	assert.InDelta(t, 1.0/61, fused[0].FusedScore, 1e-12)
}

func TestScoreRangeQuality(t *testing.T) {
	q := ScoreRangeQuality(0.05)

	assert.False(t, q(nil))
	assert.False(t, q([]index.Hit{{ID: "a", Score: 0.9}}))

	compressed := []index.Hit{
		{ID: "a", Score: 0.81},
		{ID: "b", Score: 0.80},
		{ID: "c", Score: 0.79},
	}
	assert.True(t, q(compressed))

	spread := []index.Hit{
		{ID: "a", Score: 0.91},
		{ID: "b", Score: 0.60},
	}
	assert.False(t, q(spread))
}

func TestAdjustWeights(t *testing.T) {
	w := Weights{Semantic: 0.5, Lexical: 0.5}

	same := AdjustWeights(w, false)
	assert.Equal(t, w, same)

	adjusted := AdjustWeights(w, true)
	assert.InDelta(t, 0.25, adjusted.Semantic, 1e-12)
	assert.InDelta(t, 0.75, adjusted.Lexical, 1e-12)
	assert.InDelta(t, 1.0, adjusted.Semantic+adjusted.Lexical, 1e-12)
}

func TestLowConfidenceDegradesTowardLexical(t *testing.T) {
	// Lexical has a strong match A; semantic prefers an unrelated C.
	// With equal weights the tie goes to C (it carries a semantic
	// score); once confidence drops, A takes the top spot.
	lexical := []index.Hit{{ID: "A", Score: 12.0}}
	semantic := []index.Hit{{ID: "C", Score: 0.61}}

	equal := Fuse(lexical, semantic, DefaultWeights(), DefaultRRFK)
	assert.Equal(t, "C", equal[0].ID)

	adjusted := AdjustWeights(DefaultWeights(), true)
	degraded := Fuse(lexical, semantic, adjusted, DefaultRRFK)
	assert.Equal(t, "A", degraded[0].ID)
}
