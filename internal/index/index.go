package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/codesearch/pkg/entity"
)

// Common errors
var (
	ErrMissingID         = errors.New("entity has no ID")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Filters narrows a query to matching entities. Zero values mean no
// constraint.
type Filters struct {
	RepoID   string
	Language entity.Language
	Kinds    []entity.Kind
}

// Hit is one ranked result from a single engine.
type Hit struct {
	ID    string
	Score float64
}

// VectorIndex stores embeddings and answers similarity queries.
type VectorIndex interface {
	Upsert(ctx context.Context, entities []entity.CodeEntity) error
	Delete(ctx context.Context, ids []string) error
	QuerySemantic(ctx context.Context, vector []float32, filters Filters, limit int) ([]Hit, error)
	Close() error
}

// LexicalIndex stores searchable text and answers term queries with
// tf-idf style relevance scores.
type LexicalIndex interface {
	Upsert(ctx context.Context, entities []entity.CodeEntity) error
	Delete(ctx context.Context, ids []string) error
	QueryLexical(ctx context.Context, terms []string, filters Filters, limit int) ([]Hit, error)
	Close() error
}

// Store combines both engines behind the dual-index contract. The two
// engines are independently swappable; Store only enforces the shared
// invariants: non-empty IDs and a fixed vector dimension.
type Store struct {
	Vector    VectorIndex
	Lexical   LexicalIndex
	dimension int
}

// NewStore creates a dual-index store. dimension is the embedding
// dimension every vector must carry.
func NewStore(vector VectorIndex, lexical LexicalIndex, dimension int) *Store {
	return &Store{
		Vector:    vector,
		Lexical:   lexical,
		dimension: dimension,
	}
}

// Dimension returns the configured embedding dimension.
func (s *Store) Dimension() int {
	return s.dimension
}

// Upsert writes entities to both engines. Entities without a vector go
// to the lexical engine only and stay lexically searchable. A vector
// of the wrong dimension rejects the whole batch before any write.
func (s *Store) Upsert(ctx context.Context, entities []entity.CodeEntity) error {
	withVectors := make([]entity.CodeEntity, 0, len(entities))
	for i := range entities {
		if entities[i].ID == "" {
			return fmt.Errorf("%w: %s %s", ErrMissingID, entities[i].FilePath, entities[i].Name)
		}
		if entities[i].Vector == nil {
			continue
		}
		if len(entities[i].Vector) != s.dimension {
			return fmt.Errorf("%w: entity %s has %d, store expects %d",
				ErrDimensionMismatch, entities[i].ID, len(entities[i].Vector), s.dimension)
		}
		withVectors = append(withVectors, entities[i])
	}

	if err := s.Lexical.Upsert(ctx, entities); err != nil {
		return fmt.Errorf("lexical upsert: %w", err)
	}
	if len(withVectors) > 0 {
		if err := s.Vector.Upsert(ctx, withVectors); err != nil {
			return fmt.Errorf("vector upsert: %w", err)
		}
	}
	return nil
}

// Delete removes entities from both engines by ID. Unknown IDs are
// not an error.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.Lexical.Delete(ctx, ids); err != nil {
		return fmt.Errorf("lexical delete: %w", err)
	}
	if err := s.Vector.Delete(ctx, ids); err != nil {
		return fmt.Errorf("vector delete: %w", err)
	}
	return nil
}

// QueryLexical ranks entities matching terms.
func (s *Store) QueryLexical(ctx context.Context, terms []string, filters Filters, limit int) ([]Hit, error) {
	return s.Lexical.QueryLexical(ctx, terms, filters, limit)
}

// QuerySemantic ranks entities by vector similarity.
func (s *Store) QuerySemantic(ctx context.Context, vector []float32, filters Filters, limit int) ([]Hit, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, store expects %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}
	return s.Vector.QuerySemantic(ctx, vector, filters, limit)
}

// Close closes both engines, returning the first error.
func (s *Store) Close() error {
	lexErr := s.Lexical.Close()
	vecErr := s.Vector.Close()
	if lexErr != nil {
		return lexErr
	}
	return vecErr
}

// Matches reports whether an entity passes the filters. Shared by the
// in-memory engines; the real backends filter server-side.
func (f Filters) Matches(repoID string, lang entity.Language, kind entity.Kind) bool {
	if f.RepoID != "" && f.RepoID != repoID {
		return false
	}
	if f.Language != "" && f.Language != lang {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
