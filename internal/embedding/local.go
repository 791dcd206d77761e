package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// LocalProvider is a deterministic hash-based embedder. It needs no
// model or network and gives identical text identical vectors, which
// is enough for tests and offline smoke runs of the full pipeline.
type LocalProvider struct {
	model     string
	dimension int
}

// NewLocalProvider creates a local embedder.
func NewLocalProvider() (*LocalProvider, error) {
	return &LocalProvider{
		model:     "local-hash",
		dimension: LocalDimension,
	}, nil
}

// Embed derives a unit vector from the SHA-256 of each text.
func (l *LocalProvider) Embed(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := ValidateBatch(texts); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(texts))
	for i, text := range texts {
		embeddings[i] = &Embedding{
			Vector:    l.vectorFor(text),
			Dimension: l.dimension,
			Provider:  ProviderLocal,
			Model:     l.model,
		}
	}

	return embeddings, nil
}

// vectorFor expands the text hash into dimension values in [-1, 1],
// re-hashing for more material as needed, then normalizes.
func (l *LocalProvider) vectorFor(text string) []float32 {
	vector := make([]float32, 0, l.dimension)
	digest := sha256.Sum256([]byte(text))

	for len(vector) < l.dimension {
		for i := 0; i+4 <= len(digest) && len(vector) < l.dimension; i += 4 {
			raw := binary.BigEndian.Uint32(digest[i : i+4])
			val := float64(raw)/float64(1<<32)*2 - 1
			vector = append(vector, float32(val))
		}
		digest = sha256.Sum256(digest[:])
	}

	return NormalizeVector(vector)
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}
