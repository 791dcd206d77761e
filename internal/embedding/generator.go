package embedding

import (
	"context"
	"log/slog"

	"github.com/dshills/codesearch/pkg/entity"
)

// Generator attaches vectors to code entities in batches, reusing
// cached vectors for unchanged text.
type Generator struct {
	embedder  Embedder
	cache     *Cache
	batchSize int
	maxChars  int
	logger    *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithBatchSize overrides the embedding batch size.
func WithBatchSize(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 && n <= MaxBatchSize {
			g.batchSize = n
		}
	}
}

// WithMaxInputChars overrides the truncation bound.
func WithMaxInputChars(n int) GeneratorOption {
	return func(g *Generator) {
		if n > 0 {
			g.maxChars = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGenerator creates a Generator around an embedder and cache. A nil
// cache disables caching.
func NewGenerator(embedder Embedder, cache *Cache, opts ...GeneratorOption) *Generator {
	g := &Generator{
		embedder:  embedder,
		cache:     cache,
		batchSize: DefaultBatchSize,
		maxChars:  MaxInputChars,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Stats reports the outcome of an EmbedEntities run.
type Stats struct {
	Embedded int // vectors produced by the provider
	Cached   int // vectors served from cache
	Failed   int // entities left without a vector
}

// EmbedEntities attaches a vector to each entity in place. Entities
// whose canonicalized text is already cached skip the provider. A
// batch that still fails after the provider's retries leaves its
// entities without vectors rather than failing the run; those
// entities stay lexically searchable.
func (g *Generator) EmbedEntities(ctx context.Context, entities []entity.CodeEntity) (Stats, error) {
	var stats Stats

	// Resolve cache hits first so provider batches hold only misses.
	pending := make([]int, 0, len(entities))
	texts := make([]string, 0, len(entities))
	hashes := make([]string, 0, len(entities))

	for i := range entities {
		text := entity.CanonicalizeText(entities[i].SearchableText())
		if text == "" {
			stats.Failed++
			continue
		}
		text = Truncate(text, g.maxChars)
		hash := entity.HashText(text)

		if g.cache != nil {
			if emb, ok := g.cache.Get(hash); ok {
				entities[i].Vector = emb.Vector
				stats.Cached++
				continue
			}
		}

		pending = append(pending, i)
		texts = append(texts, text)
		hashes = append(hashes, hash)
	}

	for start := 0; start < len(pending); start += g.batchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		end := start + g.batchSize
		if end > len(pending) {
			end = len(pending)
		}

		embeddings, err := g.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			g.logger.Warn("embedding batch failed, entities stay lexical-only",
				"provider", g.embedder.Provider(),
				"batch_size", end-start,
				"error", err)
			stats.Failed += end - start
			continue
		}

		for j, emb := range embeddings {
			idx := pending[start+j]
			emb.Hash = hashes[start+j]
			entities[idx].Vector = emb.Vector
			if g.cache != nil {
				g.cache.Set(emb.Hash, emb)
			}
			stats.Embedded++
		}
	}

	return stats, nil
}

// EmbedQuery embeds a single query string, using the same cache and
// truncation rules as entity text.
func (g *Generator) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	text := entity.CanonicalizeText(query)
	if text == "" {
		return nil, ErrEmptyText
	}
	text = Truncate(text, g.maxChars)
	hash := entity.HashText(text)

	if g.cache != nil {
		if emb, ok := g.cache.Get(hash); ok {
			return emb.Vector, nil
		}
	}

	embeddings, err := g.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, ErrProviderFailed
	}

	emb := embeddings[0]
	emb.Hash = hash
	if g.cache != nil {
		g.cache.Set(hash, emb)
	}
	return emb.Vector, nil
}

// Dimension reports the vector dimension entities will carry.
func (g *Generator) Dimension() int {
	return g.embedder.Dimension()
}
