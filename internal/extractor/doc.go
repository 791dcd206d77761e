// Package extractor turns source files into code entities.
//
// Each supported language has a structural extractor that understands the
// language's shape (Go via go/ast, Python via an indentation scanner,
// JavaScript/TypeScript via a brace scanner). When no structural extractor
// is registered for a file, or structural extraction fails, a regex-based
// fallback recognizes common declaration patterns and still yields
// best-effort entities with coarser line ranges.
//
// Extraction is side-effect free: extractors only produce entities and
// never touch storage. A file that yields nothing under both strategies is
// skipped by the caller; it never aborts extraction for the rest of a
// repository.
package extractor
