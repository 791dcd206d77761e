// Package embedding turns entity text into fixed-dimension vectors.
//
// An Embedder is a provider backend (OpenAI, Ollama, or the local
// deterministic hash embedder). The Generator sits above a provider
// and handles what the indexing pipeline needs: canonicalization,
// content-hash caching, truncation, batching, and graceful
// degradation when a provider stays down.
package embedding
