package retrieval

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ErrNoEmbedding is returned when no embedding model produced a vector.
var ErrNoEmbedding = errors.New("no embedding available")

// batchWorkers bounds concurrent embedding calls against a local Ollama.
const batchWorkers = 4

// EmbeddingSource produces embeddings, returning nil when none of its
// candidate models could embed the text. *ollama.Client satisfies it.
type EmbeddingSource interface {
	Embed(ctx context.Context, text, model string) []float32
}

// Embedder pins a preferred embedding model in front of a source.
type Embedder struct {
	source EmbeddingSource
	model  string
}

// NewEmbedder creates an Embedder. An empty model leaves the choice to the
// source's candidate list.
func NewEmbedder(source EmbeddingSource, model string) *Embedder {
	return &Embedder{source: source, model: model}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec := e.source.Embed(ctx, text, e.model); len(vec) > 0 {
		return vec, nil
	}
	return nil, ErrNoEmbedding
}

// EmbedBatch embeds texts with bounded concurrency. The result is index
// aligned with texts; any failure fails the whole batch. Chunks of one
// document must share a model, so every vector must have the same length.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchWorkers)
	for i := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gctx, texts[i])
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, v := range out[1:] {
		if len(v) != len(out[0]) {
			return nil, fmt.Errorf("text %d embedded with %d dimensions, text 0 with %d", i+1, len(v), len(out[0]))
		}
	}
	return out, nil
}
