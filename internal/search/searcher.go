package search

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/codesearch/internal/embedding"
	"github.com/dshills/codesearch/internal/index"
	"github.com/dshills/codesearch/pkg/entity"
)

// Defaults
const (
	DefaultLimit     = 10
	MaxLimit         = 100
	OverfetchFactor  = 3
	queryCacheSize   = 1000
	queryCacheMaxAge = 60 * time.Second
)

// EntityFetcher materializes full entities for result IDs. The order
// and completeness of the returned slice may differ from ids; the
// searcher re-associates by ID.
type EntityFetcher interface {
	GetEntities(ctx context.Context, ids []string) ([]entity.CodeEntity, error)
}

// Request is a hybrid search query.
type Request struct {
	Query    string
	Filters  index.Filters
	Limit    int
	UseCache bool
}

// Response carries ranked results plus diagnostics about how the
// ranking was produced.
type Response struct {
	Results       []entity.SearchResult
	SemanticCount int
	LexicalCount  int
	LowConfidence bool
	CacheHit      bool
	Duration      time.Duration
}

// cacheEntry is a cached response with expiration.
type cacheEntry struct {
	response *Response
	expires  time.Time
}

// Searcher runs hybrid queries against the dual index.
type Searcher struct {
	store    *index.Store
	embedder *embedding.Generator
	fetcher  EntityFetcher

	weights Weights
	rrfK    float64
	quality QualityFunc
	logger  *slog.Logger

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
}

// SearcherOption configures a Searcher.
type SearcherOption func(*Searcher)

// WithWeights overrides the default fusion weights.
func WithWeights(w Weights) SearcherOption {
	return func(s *Searcher) { s.weights = w }
}

// WithRRFK overrides the RRF smoothing constant.
func WithRRFK(k float64) SearcherOption {
	return func(s *Searcher) {
		if k > 0 {
			s.rrfK = k
		}
	}
}

// WithQuality overrides the semantic confidence heuristic.
func WithQuality(q QualityFunc) SearcherOption {
	return func(s *Searcher) {
		if q != nil {
			s.quality = q
		}
	}
}

// WithSearchLogger sets the logger.
func WithSearchLogger(logger *slog.Logger) SearcherOption {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSearcher creates a hybrid searcher over a dual-index store, a
// query embedder, and an entity fetcher.
func NewSearcher(store *index.Store, embedder *embedding.Generator, fetcher EntityFetcher, opts ...SearcherOption) *Searcher {
	cache, err := lru.New[[32]byte, *cacheEntry](queryCacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	s := &Searcher{
		store:    store,
		embedder: embedder,
		fetcher:  fetcher,
		weights:  DefaultWeights(),
		rrfK:     DefaultRRFK,
		quality:  ScoreRangeQuality(DefaultQualityThreshold),
		logger:   slog.Default(),
		cache:    cache,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search runs the full hybrid pipeline: embed the query, tokenize it,
// query both engines concurrently with over-fetch, detect semantic
// confidence, fuse, and materialize the top n entities. If one engine
// is unavailable the ranking degrades to the surviving list.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	key := s.cacheKey(req)
	if req.UseCache {
		if resp := s.checkCache(key); resp != nil {
			resp.CacheHit = true
			resp.Duration = time.Since(start)
			return resp, nil
		}
	}

	overfetch := req.Limit * OverfetchFactor
	lexical, semantic, lexErr, semErr := s.dualQuery(ctx, req, overfetch)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lexErr != nil && semErr != nil {
		return nil, fmt.Errorf("both rankers failed: lexical=%w, semantic=%v", lexErr, semErr)
	}
	if semErr != nil {
		s.logger.Warn("semantic ranker unavailable, lexical-only ranking", "error", semErr)
	}
	if lexErr != nil {
		s.logger.Warn("lexical ranker unavailable, semantic-only ranking", "error", lexErr)
	}

	lowConfidence := s.quality(semantic)
	weights := AdjustWeights(s.weights, lowConfidence)

	fused := Fuse(lexical, semantic, weights, s.rrfK)
	if len(fused) > req.Limit {
		fused = fused[:req.Limit]
	}

	results, err := s.materialize(ctx, fused)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Results:       results,
		SemanticCount: len(semantic),
		LexicalCount:  len(lexical),
		LowConfidence: lowConfidence,
		Duration:      time.Since(start),
	}

	if req.UseCache {
		s.storeCache(key, resp)
	}

	return resp, nil
}

// engineResult carries one engine's hits or its error.
type engineResult struct {
	hits []index.Hit
	err  error
}

// dualQuery issues both engine queries concurrently.
func (s *Searcher) dualQuery(ctx context.Context, req Request, limit int) (lexical, semantic []index.Hit, lexErr, semErr error) {
	lexChan := make(chan engineResult, 1)
	semChan := make(chan engineResult, 1)

	go func() {
		var res engineResult
		terms := index.Tokenize(req.Query)
		if len(terms) == 0 {
			lexChan <- res
			return
		}
		res.hits, res.err = s.store.QueryLexical(ctx, terms, req.Filters, limit)
		select {
		case lexChan <- res:
		case <-ctx.Done():
		}
	}()

	go func() {
		var res engineResult
		vector, err := s.embedder.EmbedQuery(ctx, req.Query)
		if err != nil {
			res.err = fmt.Errorf("embed query: %w", err)
		} else {
			res.hits, res.err = s.store.QuerySemantic(ctx, vector, req.Filters, limit)
		}
		select {
		case semChan <- res:
		case <-ctx.Done():
		}
	}()

	var lexRes, semRes engineResult
	var lexDone, semDone bool
	for !lexDone || !semDone {
		select {
		case lexRes = <-lexChan:
			lexDone = true
		case semRes = <-semChan:
			semDone = true
		case <-ctx.Done():
			return nil, nil, ctx.Err(), ctx.Err()
		}
	}

	return lexRes.hits, semRes.hits, lexRes.err, semRes.err
}

// materialize turns fused candidates into SearchResults in fused
// order. Candidates the fetcher no longer knows are dropped.
func (s *Searcher) materialize(ctx context.Context, fused []Fused) ([]entity.SearchResult, error) {
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ID
	}

	entities, err := s.fetcher.GetEntities(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch entities: %w", err)
	}

	byID := make(map[string]entity.CodeEntity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	results := make([]entity.SearchResult, 0, len(fused))
	for _, f := range fused {
		e, ok := byID[f.ID]
		if !ok {
			continue
		}
		results = append(results, entity.SearchResult{
			Entity:        e,
			Rank:          len(results) + 1,
			FusedScore:    f.FusedScore,
			SemanticScore: f.SemanticScore,
			LexicalScore:  f.LexicalScore,
		})
	}

	return results, nil
}

func (s *Searcher) cacheKey(req Request) [32]byte {
	var b strings.Builder
	b.WriteString(req.Query)
	b.WriteString("|")
	b.WriteString(req.Filters.RepoID)
	b.WriteString("|")
	b.WriteString(string(req.Filters.Language))
	for _, k := range req.Filters.Kinds {
		b.WriteString("|")
		b.WriteString(string(k))
	}
	b.WriteString(fmt.Sprintf("|%d", req.Limit))
	return sha256.Sum256([]byte(b.String()))
}

func (s *Searcher) checkCache(key [32]byte) *Response {
	s.cacheMu.RLock()
	entry, found := s.cache.Get(key)
	s.cacheMu.RUnlock()

	if !found {
		return nil
	}
	if time.Now().After(entry.expires) {
		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil
	}

	copied := *entry.response
	return &copied
}

func (s *Searcher) storeCache(key [32]byte, resp *Response) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache.Add(key, &cacheEntry{
		response: resp,
		expires:  time.Now().Add(queryCacheMaxAge),
	})
}
