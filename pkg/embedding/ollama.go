package embedding

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/ollama/ollama/api"
	"github.com/theapemachine/mnemo/pkg/errors"
)

/*
OllamaService embeds text through a local Ollama daemon. The model
decides the output dimension, so the configured dimension records what
the chosen model produces rather than requesting it.
*/
type OllamaService struct {
	api       *api.Client
	Model     string
	dimension int
}

type OllamaServiceOption func(*OllamaService)

func NewOllamaService(options ...OllamaServiceOption) *OllamaService {
	service := &OllamaService{
		Model:     "nomic-embed-text",
		dimension: 768,
	}

	for _, option := range options {
		option(service)
	}

	return service
}

func (service *OllamaService) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := service.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return embeddings[0], nil
}

func (service *OllamaService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if service.api == nil {
		return nil, errors.ErrBackendUnavailable.WithMessagef("ollama client is not configured")
	}

	resp, err := service.api.Embed(ctx, &api.EmbedRequest{
		Model: service.Model,
		Input: texts,
	})

	if err != nil {
		return nil, errors.ErrEmbedding.Wrap(err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, errors.ErrEmbedding.WithMessagef(
			"expected %d embeddings, got %d", len(texts), len(resp.Embeddings),
		)
	}

	return resp.Embeddings, nil
}

func (service *OllamaService) Dimension() int {
	return service.dimension
}

func WithOllamaClient() OllamaServiceOption {
	return func(service *OllamaService) {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			log.Error("failed to create ollama client", "error", err)
			return
		}

		service.api = client
	}
}

func WithOllamaModel(model string) OllamaServiceOption {
	return func(service *OllamaService) {
		service.Model = model
	}
}

func WithOllamaDimension(dimension int) OllamaServiceOption {
	return func(service *OllamaService) {
		service.dimension = dimension
	}
}
