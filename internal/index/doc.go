// Package index is the dual-index storage contract: one lexical engine
// and one vector engine behind narrow interfaces, combined by Store.
//
// Backends ship in pairs: Bleve and Qdrant for real deployments, and
// in-memory reference engines for tests and offline runs. Upsert is
// idempotent by entity ID, so re-indexing unchanged code overwrites in
// place.
package index
