package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Backend constants for the two index sides.
const (
	VectorBackendMemory = "memory"
	VectorBackendQdrant = "qdrant"

	LexicalBackendMemory = "memory"
	LexicalBackendBleve  = "bleve"
)

// EmbeddingSettings configuration for embedding generation
type EmbeddingSettings struct {
	Provider  string `mapstructure:"provider"` // openai, ollama, or local
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	OllamaURL string `mapstructure:"ollama_url"`
	CacheSize int    `mapstructure:"cache_size"`
	BatchSize int    `mapstructure:"batch_size"`
}

// VectorSettings configuration for the vector index backend
type VectorSettings struct {
	Backend    string `mapstructure:"backend"`
	Addr       string `mapstructure:"addr"` // qdrant gRPC address
	Collection string `mapstructure:"collection"`
}

// LexicalSettings configuration for the lexical index backend
type LexicalSettings struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"` // bleve index directory, empty = in-memory
}

// SearchSettings configuration for hybrid search
type SearchSettings struct {
	SemanticWeight   float64 `mapstructure:"semantic_weight"`
	LexicalWeight    float64 `mapstructure:"lexical_weight"`
	RRFK             int     `mapstructure:"rrf_k"`
	QualityThreshold float64 `mapstructure:"quality_threshold"`
}

// WorkerSettings configuration for the indexing worker pool
type WorkerSettings struct {
	Count        int           `mapstructure:"count"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	JobTimeout   time.Duration `mapstructure:"job_timeout"`
	BatchSize    int           `mapstructure:"batch_size"`
	Extractors   int           `mapstructure:"extractors"` // per-job extraction concurrency
}

// LoggingSettings configuration for structured logging
type LoggingSettings struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// Settings application settings
type Settings struct {
	DatabasePath string            `mapstructure:"database_path"`
	Embedding    EmbeddingSettings `mapstructure:"embedding"`
	Vector       VectorSettings    `mapstructure:"vector"`
	Lexical      LexicalSettings   `mapstructure:"lexical"`
	Search       SearchSettings    `mapstructure:"search"`
	Worker       WorkerSettings    `mapstructure:"worker"`
	Logging      LoggingSettings   `mapstructure:"logging"`
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("database_path", defaultDatabasePath())

	v.SetDefault("embedding.provider", "local")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.ollama_url", "http://localhost:11434")
	v.SetDefault("embedding.cache_size", 10000)
	v.SetDefault("embedding.batch_size", 50)

	v.SetDefault("vector.backend", VectorBackendMemory)
	v.SetDefault("vector.addr", "localhost:6334")
	v.SetDefault("vector.collection", "code_entities")

	v.SetDefault("lexical.backend", LexicalBackendMemory)
	v.SetDefault("lexical.path", "")

	v.SetDefault("search.semantic_weight", 0.5)
	v.SetDefault("search.lexical_weight", 0.5)
	v.SetDefault("search.rrf_k", 60)
	v.SetDefault("search.quality_threshold", 0.05)

	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.poll_interval", 500*time.Millisecond)
	v.SetDefault("worker.job_timeout", 30*time.Minute)
	v.SetDefault("worker.batch_size", 100)
	v.SetDefault("worker.extractors", 0) // 0 = NumCPU

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Environment variables
	v.SetEnvPrefix("CODESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific env vars for nested config
	_ = v.BindEnv("database_path", "CODESEARCH_DATABASE_PATH")
	_ = v.BindEnv("embedding.provider", "CODESEARCH_EMBEDDING_PROVIDER")
	_ = v.BindEnv("embedding.model", "CODESEARCH_EMBEDDING_MODEL")
	_ = v.BindEnv("embedding.api_key", "CODESEARCH_EMBEDDING_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("embedding.ollama_url", "CODESEARCH_EMBEDDING_OLLAMA_URL")
	_ = v.BindEnv("vector.backend", "CODESEARCH_VECTOR_BACKEND")
	_ = v.BindEnv("vector.addr", "CODESEARCH_VECTOR_ADDR")
	_ = v.BindEnv("vector.collection", "CODESEARCH_VECTOR_COLLECTION")
	_ = v.BindEnv("lexical.backend", "CODESEARCH_LEXICAL_BACKEND")
	_ = v.BindEnv("lexical.path", "CODESEARCH_LEXICAL_PATH")
	_ = v.BindEnv("search.semantic_weight", "CODESEARCH_SEARCH_SEMANTIC_WEIGHT")
	_ = v.BindEnv("search.lexical_weight", "CODESEARCH_SEARCH_LEXICAL_WEIGHT")
	_ = v.BindEnv("worker.count", "CODESEARCH_WORKER_COUNT")
	_ = v.BindEnv("logging.level", "CODESEARCH_LOGGING_LEVEL")
	_ = v.BindEnv("logging.format", "CODESEARCH_LOGGING_FORMAT")

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		_ = v.BindPFlag("database_path", flags.Lookup("db"))
		_ = v.BindPFlag("embedding.provider", flags.Lookup("embedding-provider"))
		_ = v.BindPFlag("embedding.model", flags.Lookup("embedding-model"))
		_ = v.BindPFlag("vector.backend", flags.Lookup("vector-backend"))
		_ = v.BindPFlag("vector.addr", flags.Lookup("vector-addr"))
		_ = v.BindPFlag("lexical.backend", flags.Lookup("lexical-backend"))
		_ = v.BindPFlag("lexical.path", flags.Lookup("lexical-path"))
		_ = v.BindPFlag("worker.count", flags.Lookup("workers"))
		_ = v.BindPFlag("logging.level", flags.Lookup("log-level"))
		_ = v.BindPFlag("logging.format", flags.Lookup("log-format"))
	}

	// Helper to look for .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	settings.DatabasePath = expandHomeDir(settings.DatabasePath)
	settings.Lexical.Path = expandHomeDir(settings.Lexical.Path)

	return &settings, nil
}

// defaultDatabasePath returns the default SQLite database location
func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "codesearch.db"
	}
	return filepath.Join(home, ".codesearch", "codesearch.db")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// ValidateSettings checks for conflicting or incomplete configuration.
func ValidateSettings(s *Settings) error {
	switch s.Embedding.Provider {
	case "openai", "ollama", "local":
		// valid
	default:
		return errors.New("embedding provider must be 'openai', 'ollama' or 'local', got: " + s.Embedding.Provider)
	}
	if s.Embedding.Provider == "openai" && s.Embedding.APIKey == "" {
		return errors.New("embedding provider 'openai' requires an API key")
	}

	switch s.Vector.Backend {
	case VectorBackendMemory, VectorBackendQdrant:
		// valid
	default:
		return errors.New("vector backend must be 'memory' or 'qdrant', got: " + s.Vector.Backend)
	}
	if s.Vector.Backend == VectorBackendQdrant && s.Vector.Addr == "" {
		return errors.New("vector backend 'qdrant' requires an address")
	}

	switch s.Lexical.Backend {
	case LexicalBackendMemory, LexicalBackendBleve:
		// valid
	default:
		return errors.New("lexical backend must be 'memory' or 'bleve', got: " + s.Lexical.Backend)
	}

	if s.Search.SemanticWeight < 0 || s.Search.LexicalWeight < 0 {
		return errors.New("search weights must be non-negative")
	}
	if s.Search.SemanticWeight+s.Search.LexicalWeight == 0 {
		return errors.New("at least one search weight must be positive")
	}
	if s.Search.RRFK <= 0 {
		return errors.New("search rrf_k must be positive")
	}

	if s.Worker.Count <= 0 {
		return errors.New("worker count must be positive")
	}
	if s.Worker.PollInterval <= 0 {
		return errors.New("worker poll interval must be positive")
	}
	if s.Worker.JobTimeout <= 0 {
		return errors.New("worker job timeout must be positive")
	}

	switch s.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return errors.New("logging level must be debug, info, warn or error, got: " + s.Logging.Level)
	}
	switch s.Logging.Format {
	case "text", "json":
		// valid
	default:
		return errors.New("logging format must be 'text' or 'json', got: " + s.Logging.Format)
	}

	return nil
}
