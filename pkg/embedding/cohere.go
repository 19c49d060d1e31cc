package embedding

import (
	"context"
	"os"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/theapemachine/mnemo/pkg/errors"
)

/*
CohereService embeds text through the Cohere embed API.
*/
type CohereService struct {
	api       *cohereclient.Client
	Model     string
	dimension int
}

type CohereServiceOption func(*CohereService)

func NewCohereService(options ...CohereServiceOption) *CohereService {
	service := &CohereService{
		Model:     "embed-english-light-v3.0",
		dimension: 384,
	}

	for _, option := range options {
		option(service)
	}

	return service
}

func (service *CohereService) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := service.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return embeddings[0], nil
}

func (service *CohereService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if service.api == nil {
		return nil, errors.ErrBackendUnavailable.WithMessagef("cohere client is not configured")
	}

	model := service.Model
	resp, err := service.api.Embed(ctx, &cohere.EmbedRequest{
		Model: &model,
		Texts: texts,
	})

	if err != nil {
		return nil, errors.ErrEmbedding.Wrap(err)
	}

	embeddings := resp.GetEmbeddingsFloats().Embeddings
	if len(embeddings) != len(texts) {
		return nil, errors.ErrEmbedding.WithMessagef(
			"expected %d embeddings, got %d", len(texts), len(embeddings),
		)
	}

	out := make([][]float32, len(embeddings))
	for i, embedding := range embeddings {
		out[i] = convertToFloat32(embedding)
	}

	return out, nil
}

func (service *CohereService) Dimension() int {
	return service.dimension
}

func WithCohereClient() CohereServiceOption {
	return func(service *CohereService) {
		service.api = cohereclient.NewClient(
			cohereclient.WithToken(os.Getenv("COHERE_API_KEY")),
		)
	}
}

func WithCohereModel(model string) CohereServiceOption {
	return func(service *CohereService) {
		service.Model = model
	}
}

func WithCohereDimension(dimension int) CohereServiceOption {
	return func(service *CohereService) {
		service.dimension = dimension
	}
}
