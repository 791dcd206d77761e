package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, "local", s.Embedding.Provider)
	assert.Equal(t, VectorBackendMemory, s.Vector.Backend)
	assert.Equal(t, LexicalBackendMemory, s.Lexical.Backend)
	assert.Equal(t, 0.5, s.Search.SemanticWeight)
	assert.Equal(t, 0.5, s.Search.LexicalWeight)
	assert.Equal(t, 60, s.Search.RRFK)
	assert.Equal(t, 0.05, s.Search.QualityThreshold)
	assert.Equal(t, 2, s.Worker.Count)
	assert.Equal(t, 500*time.Millisecond, s.Worker.PollInterval)
	assert.Equal(t, "info", s.Logging.Level)
	assert.Equal(t, "text", s.Logging.Format)
	assert.NotEmpty(t, s.DatabasePath)

	require.NoError(t, ValidateSettings(s))
}

func TestLoadSettingsFromEnv(t *testing.T) {
	t.Setenv("CODESEARCH_EMBEDDING_PROVIDER", "ollama")
	t.Setenv("CODESEARCH_EMBEDDING_MODEL", "nomic-embed-text")
	t.Setenv("CODESEARCH_VECTOR_BACKEND", "qdrant")
	t.Setenv("CODESEARCH_VECTOR_ADDR", "qdrant.internal:6334")
	t.Setenv("CODESEARCH_WORKER_COUNT", "8")
	t.Setenv("CODESEARCH_LOGGING_LEVEL", "debug")

	s, err := LoadSettings()
	require.NoError(t, err)

	assert.Equal(t, "ollama", s.Embedding.Provider)
	assert.Equal(t, "nomic-embed-text", s.Embedding.Model)
	assert.Equal(t, "qdrant", s.Vector.Backend)
	assert.Equal(t, "qdrant.internal:6334", s.Vector.Addr)
	assert.Equal(t, 8, s.Worker.Count)
	assert.Equal(t, "debug", s.Logging.Level)

	require.NoError(t, ValidateSettings(s))
}

func TestLoadSettingsFlagsOverrideEnv(t *testing.T) {
	t.Setenv("CODESEARCH_WORKER_COUNT", "8")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("workers", 0, "")
	flags.String("log-level", "", "")
	require.NoError(t, flags.Parse([]string{"--workers=3", "--log-level=warn"}))

	s, err := LoadSettingsWithFlags(flags)
	require.NoError(t, err)

	assert.Equal(t, 3, s.Worker.Count)
	assert.Equal(t, "warn", s.Logging.Level)
}

func TestValidateSettings(t *testing.T) {
	base := func() *Settings {
		s, err := LoadSettings()
		require.NoError(t, err)
		return s
	}

	t.Run("unknown embedding provider", func(t *testing.T) {
		s := base()
		s.Embedding.Provider = "jina"
		assert.Error(t, ValidateSettings(s))
	})

	t.Run("openai requires api key", func(t *testing.T) {
		s := base()
		s.Embedding.Provider = "openai"
		s.Embedding.APIKey = ""
		assert.Error(t, ValidateSettings(s))

		s.Embedding.APIKey = "sk-test"
		assert.NoError(t, ValidateSettings(s))
	})

	t.Run("unknown vector backend", func(t *testing.T) {
		s := base()
		s.Vector.Backend = "pinecone"
		assert.Error(t, ValidateSettings(s))
	})

	t.Run("zero weights rejected", func(t *testing.T) {
		s := base()
		s.Search.SemanticWeight = 0
		s.Search.LexicalWeight = 0
		assert.Error(t, ValidateSettings(s))
	})

	t.Run("negative weight rejected", func(t *testing.T) {
		s := base()
		s.Search.SemanticWeight = -0.1
		assert.Error(t, ValidateSettings(s))
	})

	t.Run("worker count must be positive", func(t *testing.T) {
		s := base()
		s.Worker.Count = 0
		assert.Error(t, ValidateSettings(s))
	})

	t.Run("bad logging format", func(t *testing.T) {
		s := base()
		s.Logging.Format = "xml"
		assert.Error(t, ValidateSettings(s))
	})
}

func TestNewLoggerTo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LoggingSettings{Level: "warn", Format: "text"})

	logger.Info("hidden")
	logger.Warn("visible", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "key=value")
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LoggingSettings{Level: "info", Format: "json"})
	logger.Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}
