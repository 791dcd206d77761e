package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/codesearch/internal/config"
	"github.com/dshills/codesearch/internal/embedding"
	"github.com/dshills/codesearch/internal/extractor"
	"github.com/dshills/codesearch/internal/index"
	"github.com/dshills/codesearch/internal/pipeline"
	"github.com/dshills/codesearch/internal/search"
	"github.com/dshills/codesearch/internal/store"
	"github.com/dshills/codesearch/pkg/entity"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "codesearch",
		Short:         "Hybrid lexical + semantic code search",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("db", "", "SQLite database path")
	flags.String("embedding-provider", "", "Embedding provider (openai, ollama, local)")
	flags.String("embedding-model", "", "Embedding model name")
	flags.String("vector-backend", "", "Vector index backend (memory, qdrant)")
	flags.String("vector-addr", "", "Qdrant gRPC address")
	flags.String("lexical-backend", "", "Lexical index backend (memory, bleve)")
	flags.String("lexical-path", "", "Bleve index directory")
	flags.Int("workers", 0, "Worker pool size")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text, json)")

	var (
		indexBranch   string
		indexPriority int
		indexSync     bool
	)
	indexCmd := &cobra.Command{
		Use:   "index <source>",
		Short: "Enqueue a repository for indexing (or index it inline with --sync)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			source := args[0]
			if _, statErr := os.Stat(source); statErr == nil {
				if abs, absErr := filepath.Abs(source); absErr == nil {
					source = abs
				}
			}

			if indexSync {
				stats, err := app.pipeline.IndexRepository(cmd.Context(), source, indexBranch)
				if err != nil {
					return err
				}
				fmt.Printf("Indexed %s: %d files, %d entities (%d embedded, %d cached, %d stale removed) in %v\n",
					source, stats.FilesScanned, stats.Entities,
					stats.Embedding.Embedded, stats.Embedding.Cached, stats.StaleRemoved, stats.Duration)
				return nil
			}

			job, err := app.store.Enqueue(cmd.Context(), source, indexBranch, indexPriority)
			if err != nil {
				return err
			}
			fmt.Printf("Enqueued job %s (priority %d) for %s\n", job.ID, job.Priority, source)
			return nil
		},
	}
	indexCmd.Flags().StringVar(&indexBranch, "branch", "", "Branch to index")
	indexCmd.Flags().IntVar(&indexPriority, "priority", 5, "Job priority (0-10, higher first)")
	indexCmd.Flags().BoolVar(&indexSync, "sync", false, "Index inline instead of enqueueing")

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the indexing worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			w := pipeline.NewWorker(app.store, app.pipeline,
				pipeline.WithWorkerCount(app.settings.Worker.Count),
				pipeline.WithPollInterval(app.settings.Worker.PollInterval),
				pipeline.WithJobTimeout(app.settings.Worker.JobTimeout),
				pipeline.WithWorkerLogger(app.logger))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app.logger.Info("worker pool starting",
				"workers", app.settings.Worker.Count,
				"db", app.settings.DatabasePath)
			return w.Run(ctx)
		},
	}

	var (
		searchRepo  string
		searchLang  string
		searchKinds []string
		searchLimit int
		searchJSON  bool
	)
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed code",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			query := strings.Join(args, " ")

			filters := index.Filters{Language: entity.Language(searchLang)}
			if searchRepo != "" {
				filters.RepoID = app.resolveRepoID(cmd.Context(), searchRepo)
			}
			for _, k := range searchKinds {
				filters.Kinds = append(filters.Kinds, entity.Kind(k))
			}

			searcher := search.NewSearcher(app.index, app.generator, app.store,
				search.WithWeights(search.Weights{
					Semantic: app.settings.Search.SemanticWeight,
					Lexical:  app.settings.Search.LexicalWeight,
				}),
				search.WithRRFK(float64(app.settings.Search.RRFK)),
				search.WithQuality(search.ScoreRangeQuality(app.settings.Search.QualityThreshold)),
				search.WithSearchLogger(app.logger))

			resp, err := searcher.Search(cmd.Context(), search.Request{
				Query:   query,
				Filters: filters,
				Limit:   searchLimit,
			})
			if err != nil {
				return err
			}

			if searchJSON {
				data, err := json.MarshalIndent(resp.Results, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			printResults(resp)
			return nil
		},
	}
	searchCmd.Flags().StringVar(&searchRepo, "repo", "", "Restrict to one repository (source or ID)")
	searchCmd.Flags().StringVar(&searchLang, "language", "", "Restrict to one language")
	searchCmd.Flags().StringSliceVar(&searchKinds, "kind", nil, "Restrict to entity kinds (function, method, class, ...)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", search.DefaultLimit, "Maximum results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output results as JSON")

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage the indexing job queue",
	}

	var jobsStatus string
	jobsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			jobs, err := app.store.ListJobs(cmd.Context(), entity.JobStatus(jobsStatus), 100)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tATTEMPTS\tSOURCE\tENQUEUED")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
					j.ID, j.Status, j.Priority, j.Attempts, j.Source,
					j.EnqueuedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status (queued, running, succeeded, dead_lettered)")

	jobsShowCmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			job, err := app.store.GetJob(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("job %s not found", args[0])
			}
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(job, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	jobsCancelCmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.store.CancelQueued(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Cancelled job %s\n", args[0])
			return nil
		},
	}
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsCancelCmd)

	reposCmd := &cobra.Command{
		Use:   "repos",
		Short: "List indexed repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			repos, err := app.store.ListRepositories(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tENTITIES\tLAST INDEXED\tSOURCE")
			for _, r := range repos {
				last := "never"
				if !r.LastIndexed.IsZero() {
					last = r.LastIndexed.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", r.Name, r.EntityCount, last, r.Source)
			}
			return w.Flush()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("codesearch %s\n", version)
			fmt.Printf("Build Time: %s\n", buildTime)
			fmt.Printf("Build Mode: %s\n", store.BuildMode)
			fmt.Printf("SQLite Driver: %s\n", store.DriverName)
		},
	}

	rootCmd.AddCommand(indexCmd, workerCmd, searchCmd, jobsCmd, reposCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app wires the configured backends together for one command run.
type app struct {
	settings  *config.Settings
	logger    *slog.Logger
	store     *store.Store
	index     *index.Store
	generator *embedding.Generator
	pipeline  *pipeline.Pipeline

	closers []func() error
}

func newApp(cmd *cobra.Command) (*app, error) {
	settings, err := config.LoadSettingsWithFlags(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := config.ValidateSettings(settings); err != nil {
		return nil, err
	}
	logger := config.SetupLogging(settings.Logging)

	if err := os.MkdirAll(filepath.Dir(settings.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	st, err := store.Open(settings.DatabasePath)
	if err != nil {
		return nil, err
	}

	a := &app{settings: settings, logger: logger, store: st}
	a.closers = append(a.closers, st.Close)

	embedder, err := embedding.New(embedding.Config{
		Provider:  settings.Embedding.Provider,
		Model:     settings.Embedding.Model,
		APIKey:    settings.Embedding.APIKey,
		OllamaURL: settings.Embedding.OllamaURL,
		CacheSize: settings.Embedding.CacheSize,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, embedder.Close)
	a.generator = embedding.NewGenerator(embedder, embedding.NewCache(settings.Embedding.CacheSize),
		embedding.WithBatchSize(settings.Embedding.BatchSize),
		embedding.WithLogger(logger))

	vector, lexical, err := a.openIndexes(cmd.Context(), embedder.Dimension())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.index = index.NewStore(vector, lexical, embedder.Dimension())

	a.pipeline = pipeline.New(st, a.index, extractor.NewRegistry(), a.generator,
		pipeline.WithWorkers(settings.Worker.Extractors),
		pipeline.WithBatchSize(settings.Worker.BatchSize),
		pipeline.WithLogger(logger))

	return a, nil
}

func (a *app) openIndexes(ctx context.Context, dimension int) (index.VectorIndex, index.LexicalIndex, error) {
	var vector index.VectorIndex
	switch a.settings.Vector.Backend {
	case config.VectorBackendQdrant:
		q, err := index.NewQdrantIndex(ctx, a.settings.Vector.Addr, a.settings.Vector.Collection, dimension)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, q.Close)
		vector = q
	default:
		vector = index.NewMemoryVectorIndex()
	}

	var lexical index.LexicalIndex
	switch a.settings.Lexical.Backend {
	case config.LexicalBackendBleve:
		b, err := index.NewBleveIndex(a.settings.Lexical.Path)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, b.Close)
		lexical = b
	default:
		lexical = index.NewMemoryLexicalIndex()
	}

	return vector, lexical, nil
}

// resolveRepoID accepts either a repository source or an ID.
func (a *app) resolveRepoID(ctx context.Context, repo string) string {
	if r, err := a.store.GetRepositoryBySource(ctx, repo); err == nil {
		return r.ID
	}
	if abs, err := filepath.Abs(repo); err == nil {
		if r, err := a.store.GetRepositoryBySource(ctx, abs); err == nil {
			return r.ID
		}
	}
	return repo
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func printResults(resp *search.Response) {
	if len(resp.Results) == 0 {
		fmt.Println("No results.")
		return
	}

	if resp.LowConfidence {
		fmt.Println("(low semantic confidence; lexical matches weighted up)")
	}
	for _, r := range resp.Results {
		e := r.Entity
		fmt.Printf("%2d. %s %s  %s:%d", r.Rank, e.Kind, e.Name, e.FilePath, e.StartLine)
		if e.Parent != "" {
			fmt.Printf("  (in %s)", e.Parent)
		}
		fmt.Printf("  [score %.4f]\n", r.FusedScore)
		if e.Signature != "" {
			fmt.Printf("    %s\n", e.Signature)
		}
	}
	fmt.Printf("\n%d results (%d semantic, %d lexical) in %v\n",
		len(resp.Results), resp.SemanticCount, resp.LexicalCount, resp.Duration)
}
