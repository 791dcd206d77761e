package index

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/dshills/codesearch/pkg/entity"
)

// BM25 parameters, matching the Okapi defaults.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// memoryMeta is the filterable metadata kept per document.
type memoryMeta struct {
	RepoID   string
	Language entity.Language
	Kind     entity.Kind
}

// MemoryVectorIndex is a brute-force cosine similarity index. It backs
// tests and offline runs where no Qdrant server is available.
type MemoryVectorIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
	meta    map[string]memoryMeta
}

// NewMemoryVectorIndex creates an empty in-memory vector index.
func NewMemoryVectorIndex() *MemoryVectorIndex {
	return &MemoryVectorIndex{
		vectors: make(map[string][]float32),
		meta:    make(map[string]memoryMeta),
	}
}

func (m *MemoryVectorIndex) Upsert(ctx context.Context, entities []entity.CodeEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range entities {
		e := &entities[i]
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		m.vectors[e.ID] = vec
		m.meta[e.ID] = memoryMeta{RepoID: e.RepoID, Language: e.Language, Kind: e.Kind}
	}
	return nil
}

func (m *MemoryVectorIndex) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.vectors, id)
		delete(m.meta, id)
	}
	return nil
}

func (m *MemoryVectorIndex) QuerySemantic(ctx context.Context, vector []float32, filters Filters, limit int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]Hit, 0, len(m.vectors))
	for id, vec := range m.vectors {
		meta := m.meta[id]
		if !filters.Matches(meta.RepoID, meta.Language, meta.Kind) {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: cosineSimilarity(vector, vec)})
	}

	sortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Len returns the number of stored vectors.
func (m *MemoryVectorIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

func (m *MemoryVectorIndex) Close() error {
	return nil
}

// MemoryLexicalIndex is an in-process BM25 index over tokenized
// searchable text.
type MemoryLexicalIndex struct {
	mu   sync.RWMutex
	docs map[string]map[string]int // id -> term frequencies
	lens map[string]int            // id -> token count
	meta map[string]memoryMeta
}

// NewMemoryLexicalIndex creates an empty in-memory lexical index.
func NewMemoryLexicalIndex() *MemoryLexicalIndex {
	return &MemoryLexicalIndex{
		docs: make(map[string]map[string]int),
		lens: make(map[string]int),
		meta: make(map[string]memoryMeta),
	}
}

func (m *MemoryLexicalIndex) Upsert(ctx context.Context, entities []entity.CodeEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range entities {
		e := &entities[i]
		tokens := Tokenize(e.SearchableText())
		freqs := make(map[string]int, len(tokens))
		for _, t := range tokens {
			freqs[t]++
		}
		m.docs[e.ID] = freqs
		m.lens[e.ID] = len(tokens)
		m.meta[e.ID] = memoryMeta{RepoID: e.RepoID, Language: e.Language, Kind: e.Kind}
	}
	return nil
}

func (m *MemoryLexicalIndex) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.docs, id)
		delete(m.lens, id)
		delete(m.meta, id)
	}
	return nil
}

func (m *MemoryLexicalIndex) QueryLexical(ctx context.Context, terms []string, filters Filters, limit int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(terms) == 0 || len(m.docs) == 0 {
		return nil, nil
	}

	// Document frequency per query term.
	df := make(map[string]int, len(terms))
	for _, term := range terms {
		for _, freqs := range m.docs {
			if freqs[term] > 0 {
				df[term]++
			}
		}
	}

	n := float64(len(m.docs))
	var totalLen int
	for _, l := range m.lens {
		totalLen += l
	}
	avgLen := float64(totalLen) / n

	hits := make([]Hit, 0)
	for id, freqs := range m.docs {
		meta := m.meta[id]
		if !filters.Matches(meta.RepoID, meta.Language, meta.Kind) {
			continue
		}

		var score float64
		dl := float64(m.lens[id])
		for _, term := range terms {
			tf := float64(freqs[term])
			if tf == 0 {
				continue
			}
			idf := math.Log((n-float64(df[term])+0.5)/(float64(df[term])+0.5) + 1)
			score += idf * tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*dl/avgLen))
		}
		if score > 0 {
			hits = append(hits, Hit{ID: id, Score: score})
		}
	}

	sortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Len returns the number of indexed documents.
func (m *MemoryLexicalIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryLexicalIndex) Close() error {
	return nil
}

// cosineSimilarity computes the cosine of the angle between two
// vectors, 0 when either has zero norm.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortHits orders by score descending with ID ascending as a
// deterministic tie-break.
func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

var (
	_ VectorIndex  = (*MemoryVectorIndex)(nil)
	_ LexicalIndex = (*MemoryLexicalIndex)(nil)
)
