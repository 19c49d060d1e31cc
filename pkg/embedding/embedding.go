package embedding

import (
	"context"
)

/*
Service turns text into vectors. Implementations wrap a provider API
and report the dimension their model produces, so callers can size
vector indexes before the first request. Every Service also satisfies
the memory package's Embedder interface.
*/
type Service interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

func convertToFloat32(f []float64) []float32 {
	out := make([]float32, len(f))
	for i, v := range f {
		out[i] = float32(v)
	}
	return out
}
