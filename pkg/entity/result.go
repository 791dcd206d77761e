package entity

import "errors"

// SearchResult is one ranked entry in a query response. It is never
// persisted; every query recomputes its results.
type SearchResult struct {
	Entity CodeEntity
	Rank   int // 1-based position in the fused result set

	// Component scores. Nil means the entity did not appear in that
	// ranker's result list.
	SemanticScore *float64
	LexicalScore  *float64

	// FusedScore is the combined reciprocal-rank-fusion score.
	FusedScore float64
}

// Validate checks the search result invariants.
func (sr *SearchResult) Validate() error {
	if sr.Entity.ID == "" {
		return errors.New("search result requires an entity id")
	}
	if sr.Rank < 1 {
		return errors.New("rank must be >= 1")
	}
	if sr.SemanticScore == nil && sr.LexicalScore == nil {
		return errors.New("search result requires at least one component score")
	}
	return nil
}

// Float64 is a convenience for building nullable score fields.
func Float64(v float64) *float64 { return &v }
