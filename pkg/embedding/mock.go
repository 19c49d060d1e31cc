package embedding

import (
	"context"
	"math"
)

/*
MockService generates deterministic embeddings without a provider.
The same text always hashes to the same unit vector, and texts that
share words land near each other, which is enough for tests and demos.
*/
type MockService struct {
	dimension int
	calls     int
	failWith  error
}

type MockServiceOption func(*MockService)

func NewMockService(options ...MockServiceOption) *MockService {
	service := &MockService{dimension: 384}

	for _, option := range options {
		option(service)
	}

	return service
}

func (service *MockService) Embed(ctx context.Context, text string) ([]float32, error) {
	service.calls++

	if service.failWith != nil {
		return nil, service.failWith
	}

	embedding := make([]float32, service.dimension)
	hash := uint64(5381)

	for i, c := range []byte(text) {
		hash = hash*33 + uint64(c)
		embedding[int(hash%uint64(service.dimension))] += 1.0 / (1.0 + float32(i)*0.01)
	}

	var sum float32
	for _, x := range embedding {
		sum += x * x
	}

	if norm := float32(math.Sqrt(float64(sum))); norm > 0 {
		for i := range embedding {
			embedding[i] /= norm
		}
	}

	return embedding, nil
}

func (service *MockService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	for i, text := range texts {
		embedding, err := service.Embed(ctx, text)
		if err != nil {
			return nil, err
		}

		out[i] = embedding
	}

	return out, nil
}

func (service *MockService) Dimension() int {
	return service.dimension
}

// Calls reports how many Embed calls the service has served.
func (service *MockService) Calls() int {
	return service.calls
}

func WithMockDimension(dimension int) MockServiceOption {
	return func(service *MockService) {
		service.dimension = dimension
	}
}

// WithMockFailure makes every Embed call return the given error.
func WithMockFailure(err error) MockServiceOption {
	return func(service *MockService) {
		service.failWith = err
	}
}
