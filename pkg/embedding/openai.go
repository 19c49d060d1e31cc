package embedding

import (
	"context"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/theapemachine/mnemo/pkg/errors"
)

/*
OpenAIService embeds text through the OpenAI embeddings API. The
text-embedding-3 models accept a requested dimension, which lets the
output match whatever the vector index was sized for.
*/
type OpenAIService struct {
	api       openai.Client
	Model     string
	dimension int
}

type OpenAIServiceOption func(*OpenAIService)

func NewOpenAIService(options ...OpenAIServiceOption) *OpenAIService {
	service := &OpenAIService{
		Model:     "text-embedding-3-small",
		dimension: 384,
	}

	for _, option := range options {
		option(service)
	}

	return service
}

func (service *OpenAIService) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := service.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:      openai.EmbeddingModel(service.Model),
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
		Dimensions: openai.Int(int64(service.dimension)),
	})

	if err != nil {
		return nil, errors.ErrEmbedding.Wrap(err)
	}

	if len(resp.Data) == 0 {
		return nil, errors.ErrEmbedding.WithMessagef("empty embedding response")
	}

	return convertToFloat32(resp.Data[0].Embedding), nil
}

func (service *OpenAIService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := service.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:      openai.EmbeddingModel(service.Model),
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Dimensions: openai.Int(int64(service.dimension)),
	})

	if err != nil {
		return nil, errors.ErrEmbedding.Wrap(err)
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = convertToFloat32(d.Embedding)
	}

	return out, nil
}

func (service *OpenAIService) Dimension() int {
	return service.dimension
}

func WithOpenAIClient() OpenAIServiceOption {
	return func(service *OpenAIService) {
		service.api = openai.NewClient(
			option.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
		)
	}
}

func WithOpenAIModel(model string) OpenAIServiceOption {
	return func(service *OpenAIService) {
		service.Model = model
	}
}

func WithOpenAIDimension(dimension int) OpenAIServiceOption {
	return func(service *OpenAIService) {
		service.dimension = dimension
	}
}
