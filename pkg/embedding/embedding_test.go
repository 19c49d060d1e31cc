package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/memory"
)

func TestMockServiceDeterminism(t *testing.T) {
	service := NewMockService(WithMockDimension(64))
	ctx := context.Background()

	first, err := service.Embed(ctx, "the user prefers dark mode")
	require.NoError(t, err)
	require.Len(t, first, 64)

	second, err := service.Embed(ctx, "the user prefers dark mode")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := service.Embed(ctx, "completely unrelated content")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestMockServiceNormalization(t *testing.T) {
	service := NewMockService(WithMockDimension(32))

	embedding, err := service.Embed(context.Background(), "normalize me")
	require.NoError(t, err)

	var sum float32
	for _, x := range embedding {
		sum += x * x
	}

	assert.InDelta(t, 1.0, sum, 0.001)
}

func TestMockServiceBatch(t *testing.T) {
	service := NewMockService(WithMockDimension(16))

	embeddings, err := service.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, embeddings, 3)

	single, _ := service.Embed(context.Background(), "two")
	assert.Equal(t, single, embeddings[1])
}

func TestMockServiceFailure(t *testing.T) {
	service := NewMockService(
		WithMockDimension(16),
		WithMockFailure(errors.ErrBackendUnavailable),
	)

	_, err := service.Embed(context.Background(), "anything")
	require.Error(t, err)

	_, err = service.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
}

func TestMockServiceCallCounting(t *testing.T) {
	service := NewMockService(WithMockDimension(8))
	ctx := context.Background()

	service.Embed(ctx, "one")
	service.EmbedBatch(ctx, []string{"two", "three"})

	assert.Equal(t, 3, service.Calls())
}

func TestServicesSatisfyEmbedder(t *testing.T) {
	var _ memory.Embedder = NewMockService()
	var _ memory.Embedder = NewOpenAIService()
	var _ memory.Embedder = NewOllamaService()
	var _ memory.Embedder = NewCohereService()

	var _ Service = NewMockService()
	var _ Service = NewOpenAIService()
	var _ Service = NewOllamaService()
	var _ Service = NewCohereService()
}

func TestUnconfiguredClientsFailCleanly(t *testing.T) {
	ctx := context.Background()

	_, err := NewOllamaService().Embed(ctx, "no daemon")
	require.Error(t, err)

	_, err = NewCohereService().Embed(ctx, "no token")
	require.Error(t, err)
}

func TestDefaultDimensions(t *testing.T) {
	assert.Equal(t, 384, NewOpenAIService().Dimension())
	assert.Equal(t, 768, NewOllamaService().Dimension())
	assert.Equal(t, 384, NewCohereService().Dimension())
	assert.Equal(t, 128, NewMockService(WithMockDimension(128)).Dimension())
}
