package embedding

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// EnvOpenAIAPIKey is the environment variable holding the OpenAI key.
const EnvOpenAIAPIKey = "OPENAI_API_KEY"

// OpenAIProvider implements Embedder using the OpenAI embeddings API.
type OpenAIProvider struct {
	client *openai.Client
	model  openai.EmbeddingModel
	retry  RetryConfig
}

// NewOpenAIProvider creates a new OpenAI embedder. An empty apiKey
// falls back to the OPENAI_API_KEY environment variable.
func NewOpenAIProvider(apiKey, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  openai.EmbeddingModel(model),
		retry:  DefaultRetryConfig(),
	}, nil
}

// Embed generates embeddings for texts in a single API call, retried
// with exponential backoff on transient failure.
func (o *OpenAIProvider) Embed(ctx context.Context, texts []string) ([]*Embedding, error) {
	if err := ValidateBatch(texts); err != nil {
		return nil, err
	}

	resp, err := retryWithBackoff(ctx, o.retry, func() (openai.EmbeddingResponse, error) {
		return o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: o.model,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(resp.Data), len(texts))
	}

	embeddings := make([]*Embedding, len(resp.Data))
	for _, data := range resp.Data {
		embeddings[data.Index] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  ProviderOpenAI,
			Model:     string(resp.Model),
		}
	}

	return embeddings, nil
}

func (o *OpenAIProvider) Dimension() int {
	return OpenAIDimension
}

func (o *OpenAIProvider) Provider() string {
	return ProviderOpenAI
}

func (o *OpenAIProvider) Model() string {
	return string(o.model)
}

func (o *OpenAIProvider) Close() error {
	return nil
}
