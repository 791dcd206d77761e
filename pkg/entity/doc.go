// Package entity defines the core data model shared by the indexing
// pipeline and the search engine.
//
// The central type is CodeEntity: one indexed unit of code (a function,
// method, class, struct, interface, enum or trait) extracted from a source
// file. Entity identity is deterministic: the same repository, file path,
// name and start line always produce the same ID, which makes re-indexing
// unchanged code idempotent.
//
// The package also defines Repository (the unit of indexing), IndexJob
// (the unit of queued work) and SearchResult (the ephemeral query-time
// result). None of these types touch storage; persistence lives in
// internal/store and internal/index.
package entity
