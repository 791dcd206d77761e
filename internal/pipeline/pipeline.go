package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/codesearch/internal/embedding"
	"github.com/dshills/codesearch/internal/extractor"
	"github.com/dshills/codesearch/internal/index"
	"github.com/dshills/codesearch/internal/store"
	"github.com/dshills/codesearch/pkg/entity"
)

// ErrRepoBusy is returned when an indexing run for the same repository
// is already in flight.
var ErrRepoBusy = errors.New("repository is already being indexed")

// DefaultBatchSize is the number of entities written per index upsert.
const DefaultBatchSize = 100

// skipDirs are directory names never descended into during discovery.
var skipDirs = map[string]bool{
	"vendor":       true,
	"node_modules": true,
	"target":       true,
	"dist":         true,
	"__pycache__":  true,
	"testdata":     true,
}

// Pipeline coordinates the indexing run: acquire source -> discover
// files -> extract entities -> embed -> upsert into the durable store
// and both indexes, then sweep entities that vanished from the source.
type Pipeline struct {
	store      *store.Store
	index      *index.Store
	extractors *extractor.Registry
	embedder   *embedding.Generator
	locks      *RepoLocks

	providerFor func(source string) SourceProvider
	workers     int
	batchSize   int
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers sets the extraction concurrency.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithBatchSize sets the index upsert batch size.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithProvider overrides source acquisition, mainly for tests.
func WithProvider(fn func(source string) SourceProvider) Option {
	return func(p *Pipeline) { p.providerFor = fn }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// Stats summarizes one indexing run.
type Stats struct {
	FilesScanned  int
	FilesSkipped  int
	FilesFailed   int
	Entities      int
	StaleRemoved  int
	Embedding     embedding.Stats
	Duration      time.Duration
	ErrorMessages []string
}

// New creates a Pipeline over the given store, dual index, extractor
// registry and embedding generator.
func New(st *store.Store, idx *index.Store, reg *extractor.Registry, gen *embedding.Generator, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       st,
		index:       idx,
		extractors:  reg,
		embedder:    gen,
		locks:       &RepoLocks{},
		providerFor: ProviderFor,
		workers:     runtime.NumCPU(),
		batchSize:   DefaultBatchSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IndexRepository runs the full pipeline for one source. Per-file
// failures are recorded and skipped; an error return means the run as
// a whole failed and the caller should retry the job.
func (p *Pipeline) IndexRepository(ctx context.Context, source, branch string) (*Stats, error) {
	repoID := entity.DeriveRepoID(source)
	if !p.locks.TryAcquire(repoID) {
		return nil, fmt.Errorf("%w: %s", ErrRepoBusy, source)
	}
	defer p.locks.Release(repoID)

	startTime := time.Now()
	stats := &Stats{}

	root, cleanup, err := p.providerFor(source).Fetch(ctx, source, branch)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire source: %w", err)
	}
	defer cleanup()

	repo := &entity.Repository{ID: repoID, Source: source, Branch: branch}
	if err := p.store.UpsertRepository(ctx, repo); err != nil {
		return nil, err
	}

	files, err := p.discoverFiles(root)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	stats.FilesScanned = len(files)

	entities, err := p.extractFiles(ctx, repoID, root, files, stats)
	if err != nil {
		return nil, err
	}
	stats.Entities = len(entities)

	embStats, err := p.embedder.EmbedEntities(ctx, entities)
	if err != nil {
		return nil, fmt.Errorf("failed to embed entities: %w", err)
	}
	stats.Embedding = embStats

	if err := p.upsertBatches(ctx, entities); err != nil {
		return nil, err
	}

	removed, err := p.sweepStale(ctx, repoID, entities)
	if err != nil {
		return nil, err
	}
	stats.StaleRemoved = removed

	if err := p.store.UpdateRepositoryStats(ctx, repoID, len(entities), time.Now().UTC()); err != nil {
		return nil, err
	}

	stats.Duration = time.Since(startTime)
	p.logger.Info("indexing run complete",
		"source", source,
		"files", stats.FilesScanned,
		"entities", stats.Entities,
		"embedded", embStats.Embedded,
		"cached", embStats.Cached,
		"stale_removed", removed,
		"duration", stats.Duration)
	return stats, nil
}

// discoverFiles walks the working tree collecting files with a
// supported extension, skipping hidden and dependency directories.
func (p *Pipeline) discoverFiles(root string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if p.extractors.Supported(path) {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

// extractFiles runs entity extraction concurrently over the discovered
// files. Parse failures skip the file and are reported in stats.
func (p *Pipeline) extractFiles(ctx context.Context, repoID, root string, files []string, stats *Stats) ([]entity.CodeEntity, error) {
	semaphore := make(chan struct{}, p.workers)

	var (
		mu       sync.Mutex
		entities []entity.CodeEntity
		skipped  int32
		failed   int32
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, filePath := range files {
		select {
		case <-gctx.Done():
			return nil, gctx.Err()
		case semaphore <- struct{}{}:
		}

		g.Go(func() error {
			defer func() { <-semaphore }()

			ents, err := p.extractFile(repoID, root, filePath)
			if errors.Is(err, extractor.ErrNoEntities) {
				atomic.AddInt32(&skipped, 1)
				return nil
			}
			if err != nil {
				atomic.AddInt32(&failed, 1)
				mu.Lock()
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", filePath, err))
				mu.Unlock()
				p.logger.Warn("extraction failed, skipping file", "file", filePath, "error", err)
				return nil
			}

			mu.Lock()
			entities = append(entities, ents...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.FilesSkipped = int(skipped)
	stats.FilesFailed = int(failed)
	return entities, nil
}

func (p *Pipeline) extractFile(repoID, root, filePath string) ([]entity.CodeEntity, error) {
	source, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	relPath, err := filepath.Rel(root, filePath)
	if err != nil {
		return nil, err
	}
	relPath = filepath.ToSlash(relPath)

	ents, err := p.extractors.ExtractFile(filePath, source)
	if err != nil {
		return nil, err
	}

	for i := range ents {
		ents[i].RepoID = repoID
		ents[i].FilePath = relPath
		ents[i].ComputeID()
		ents[i].ContentHash = ents[i].ComputeContentHash()
	}
	return ents, nil
}

// upsertBatches writes entities to the durable store and both indexes
// in batches. The durable write happens first so search results can
// always be materialized.
func (p *Pipeline) upsertBatches(ctx context.Context, entities []entity.CodeEntity) error {
	for i := 0; i < len(entities); i += p.batchSize {
		end := i + p.batchSize
		if end > len(entities) {
			end = len(entities)
		}
		batch := entities[i:end]

		if err := p.store.UpsertEntities(ctx, batch); err != nil {
			return fmt.Errorf("failed to store entities: %w", err)
		}
		if err := p.index.Upsert(ctx, batch); err != nil {
			return fmt.Errorf("failed to index entities: %w", err)
		}
	}
	return nil
}

// sweepStale removes entities that were present in an earlier run but
// no longer exist in the source.
func (p *Pipeline) sweepStale(ctx context.Context, repoID string, current []entity.CodeEntity) (int, error) {
	previous, err := p.store.ListEntityIDs(ctx, repoID, "")
	if err != nil {
		return 0, err
	}

	live := make(map[string]bool, len(current))
	for i := range current {
		live[current[i].ID] = true
	}

	var stale []string
	for _, id := range previous {
		if !live[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	if err := p.index.Delete(ctx, stale); err != nil {
		return 0, fmt.Errorf("failed to remove stale index entries: %w", err)
	}
	if err := p.store.DeleteEntities(ctx, stale); err != nil {
		return 0, fmt.Errorf("failed to remove stale entities: %w", err)
	}
	return len(stale), nil
}
