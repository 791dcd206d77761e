package embedding

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/dshills/codesearch/pkg/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProvider_Deterministic(t *testing.T) {
	p, err := NewLocalProvider()
	require.NoError(t, err)

	ctx := context.Background()
	first, err := p.Embed(ctx, []string{"func Add(a, b int) int"})
	require.NoError(t, err)
	second, err := p.Embed(ctx, []string{"func Add(a, b int) int"})
	require.NoError(t, err)

	assert.Equal(t, first[0].Vector, second[0].Vector)
	assert.Len(t, first[0].Vector, LocalDimension)

	other, err := p.Embed(ctx, []string{"func Sub(a, b int) int"})
	require.NoError(t, err)
	assert.NotEqual(t, first[0].Vector, other[0].Vector)
}

func TestLocalProvider_UnitNorm(t *testing.T) {
	p, err := NewLocalProvider()
	require.NoError(t, err)

	embs, err := p.Embed(context.Background(), []string{"some searchable text"})
	require.NoError(t, err)

	var sum float64
	for _, v := range embs[0].Vector {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestValidateBatch(t *testing.T) {
	assert.ErrorIs(t, ValidateBatch(nil), ErrInvalidInput)
	assert.ErrorIs(t, ValidateBatch([]string{"ok", ""}), ErrEmptyText)
	assert.NoError(t, ValidateBatch([]string{"ok"}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "abcde", Truncate("abcdefgh", 5))
	assert.Equal(t, "abc", Truncate("abc", 0))
}

func TestTruncate_RuneBoundary(t *testing.T) {
	// "héllo" is h(1) é(2) l l o; a cut at byte 2 lands inside é and
	// must back off instead of emitting invalid UTF-8.
	assert.Equal(t, "h", Truncate("héllo", 2))
	assert.Equal(t, "hé", Truncate("héllo", 3))

	long := strings.Repeat("日", 100) // 3 bytes per rune
	got := Truncate(long, 10)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("日", 3), got)

	// a cut entirely inside the first rune yields the empty string
	assert.Equal(t, "", Truncate("日本", 2))
}

func TestCache_DeepCopy(t *testing.T) {
	cache := NewCache(10)
	cache.Set("h1", &Embedding{Vector: []float32{1, 2, 3}, Hash: "h1"})

	got, ok := cache.Get("h1")
	require.True(t, ok)
	got.Vector[0] = 99

	again, ok := cache.Get("h1")
	require.True(t, ok)
	assert.Equal(t, float32(1), again.Vector[0])
}

// countingEmbedder wraps the local provider and counts provider calls.
type countingEmbedder struct {
	*LocalProvider
	calls int
	texts int
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([]*Embedding, error) {
	c.calls++
	c.texts += len(texts)
	return c.LocalProvider.Embed(ctx, texts)
}

// failingEmbedder always errors.
type failingEmbedder struct{}

func (f *failingEmbedder) Embed(ctx context.Context, texts []string) ([]*Embedding, error) {
	return nil, errors.New("provider down")
}
func (f *failingEmbedder) Dimension() int   { return LocalDimension }
func (f *failingEmbedder) Provider() string { return "failing" }
func (f *failingEmbedder) Model() string    { return "none" }
func (f *failingEmbedder) Close() error     { return nil }

func testEntities(n int) []entity.CodeEntity {
	entities := make([]entity.CodeEntity, n)
	names := []string{"Alpha", "Beta", "Gamma", "Delta", "Epsilon"}
	for i := range entities {
		entities[i] = entity.CodeEntity{
			Name:      names[i%len(names)] + string(rune('A'+i/len(names))),
			Kind:      entity.KindFunction,
			Language:  entity.LangGo,
			FilePath:  "pkg/demo.go",
			StartLine: i*10 + 1,
			EndLine:   i*10 + 5,
			Signature: "func " + names[i%len(names)] + "() error",
		}
	}
	return entities
}

func TestGenerator_EmbedEntities(t *testing.T) {
	local, err := NewLocalProvider()
	require.NoError(t, err)
	counting := &countingEmbedder{LocalProvider: local}
	cache := NewCache(100)

	gen := NewGenerator(counting, cache, WithBatchSize(2))
	entities := testEntities(5)

	stats, err := gen.EmbedEntities(context.Background(), entities)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Embedded)
	assert.Equal(t, 0, stats.Cached)
	assert.Equal(t, 3, counting.calls) // ceil(5/2) batches

	for _, e := range entities {
		assert.Len(t, e.Vector, LocalDimension)
	}

	// Second run over identical text is served from cache.
	fresh := testEntities(5)
	stats, err = gen.EmbedEntities(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Embedded)
	assert.Equal(t, 5, stats.Cached)
	assert.Equal(t, 3, counting.calls)
}

func TestGenerator_WhitespaceChangesHitCache(t *testing.T) {
	local, err := NewLocalProvider()
	require.NoError(t, err)
	counting := &countingEmbedder{LocalProvider: local}
	cache := NewCache(100)
	gen := NewGenerator(counting, cache)

	a := []entity.CodeEntity{{
		Name: "Run", Kind: entity.KindFunction, Language: entity.LangGo,
		FilePath: "run.go", StartLine: 1, EndLine: 2,
		Signature: "func Run() error",
	}}
	_, err = gen.EmbedEntities(context.Background(), a)
	require.NoError(t, err)

	b := []entity.CodeEntity{{
		Name: "Run", Kind: entity.KindFunction, Language: entity.LangGo,
		FilePath: "run.go", StartLine: 1, EndLine: 2,
		Signature: "func   Run()   error",
	}}
	stats, err := gen.EmbedEntities(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Cached)
	assert.Equal(t, 1, counting.calls)
}

func TestGenerator_ProviderFailureLeavesEntitiesLexical(t *testing.T) {
	gen := NewGenerator(&failingEmbedder{}, nil)
	entities := testEntities(3)

	stats, err := gen.EmbedEntities(context.Background(), entities)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Failed)
	assert.Equal(t, 0, stats.Embedded)

	for _, e := range entities {
		assert.Nil(t, e.Vector)
	}
}

func TestGenerator_EmbedQuery(t *testing.T) {
	local, err := NewLocalProvider()
	require.NoError(t, err)
	gen := NewGenerator(local, NewCache(10))

	vec, err := gen.EmbedQuery(context.Background(), "parse json config")
	require.NoError(t, err)
	assert.Len(t, vec, LocalDimension)

	_, err = gen.EmbedQuery(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		attempts := 0
		result, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			attempts++
			if attempts < 3 {
				return 0, errors.New("transient")
			}
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, result)
		assert.Equal(t, 3, attempts)
	})

	t.Run("exhausts retries", func(t *testing.T) {
		attempts := 0
		_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			attempts++
			return 0, errors.New("permanent")
		})
		require.Error(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := retryWithBackoff(ctx, cfg, func() (int, error) {
			return 0, errors.New("transient")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
