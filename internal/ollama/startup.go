package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotRunning is returned by EnsureReady when no server answers at the
// configured URL.
var ErrNotRunning = errors.New("Ollama is not running. Start it with: ollama serve")

const warmupTimeout = 30 * time.Second

// Readiness summarizes what EnsureReady found and did.
type Readiness struct {
	Pulled []string // models downloaded during the check
	Failed []string // optional models that could not be pulled
	Warm   bool     // the chat model answered the warm-up prompt
}

// EnsureReady makes the configured models usable: it pulls the chat and
// embedding models when missing, reporting progress to w, and loads the
// chat model with a throwaway prompt so the first user request does not
// wait for it. Only the chat model is required; embedding falls back to
// other installed candidates.
func EnsureReady(ctx context.Context, c *Client, w io.Writer) (Readiness, error) {
	var r Readiness
	if !c.IsRunning(ctx) {
		return r, ErrNotRunning
	}

	s := c.Settings()
	required := map[string]bool{s.Model: true}
	for _, model := range []string{s.Model, s.EmbedModel} {
		pulled, err := ensureModel(ctx, c, model, w)
		switch {
		case err != nil && required[model]:
			return r, err
		case err != nil:
			fmt.Fprintf(w, "model %s: unavailable (%v), embeddings will use another installed model\n", model, err)
			r.Failed = append(r.Failed, model)
		case pulled:
			r.Pulled = append(r.Pulled, model)
		}
	}

	r.Warm = warm(ctx, c, s.Model, w)
	return r, nil
}

func ensureModel(ctx context.Context, c *Client, model string, w io.Writer) (pulled bool, err error) {
	if c.HasModel(ctx, model) {
		fmt.Fprintf(w, "model %s: ready\n", model)
		return false, nil
	}

	fmt.Fprintf(w, "model %s: pulling...\n", model)
	last := ""
	err = c.PullModel(ctx, model, func(p PullProgress) {
		line := p.Status
		if p.Total > 0 {
			line = fmt.Sprintf("%s %d%%", p.Status, p.Completed*100/p.Total)
		}
		if line != last {
			fmt.Fprintf(w, "  %s\n", line)
			last = line
		}
	})
	if err != nil {
		return false, fmt.Errorf("pulling model %s: %w", model, err)
	}
	fmt.Fprintf(w, "model %s: ready\n", model)
	return true, nil
}

func warm(ctx context.Context, c *Client, model string, w io.Writer) bool {
	fmt.Fprintf(w, "model %s: warming up...\n", model)
	ctx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()

	if out := c.Generate(ctx, "ping", model, nil); IsDiagnostic(out) {
		fmt.Fprintf(w, "model %s: warm-up failed: %s\n", model, out)
		return false
	}
	fmt.Fprintf(w, "model %s: warm\n", model)
	return true
}
