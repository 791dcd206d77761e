// Package pipeline orchestrates repository indexing: a source provider
// yields a working tree, entities are extracted and embedded
// concurrently, then written to the durable store and the dual index.
// A worker pool drains the job queue, with per-repository locks
// guaranteeing that two runs for the same repository never overlap.
package pipeline
