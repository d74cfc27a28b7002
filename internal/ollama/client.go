package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/kalambet/opsai/internal/metrics"
)

const (
	DefaultBaseURL    = "http://localhost:11434"
	DefaultModel      = "gemma3:4b"
	DefaultEmbedModel = "nomic-embed-text"

	minTimeout = 30 * time.Second
	maxTimeout = 600 * time.Second
)

// Settings configures a Client. Zero values take the defaults.
type Settings struct {
	BaseURL      string
	Model        string
	EmbedModel   string
	Timeout      time.Duration
	NumCtx       int
	Temperature  float64
	Retries      int
	RetryBackoff time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
	if s.Model == "" {
		s.Model = DefaultModel
	}
	if s.EmbedModel == "" {
		s.EmbedModel = DefaultEmbedModel
	}
	if s.Timeout == 0 {
		s.Timeout = 60 * time.Second
	}
	s.Timeout = min(max(s.Timeout, minTimeout), maxTimeout)
	if s.NumCtx <= 0 {
		s.NumCtx = 1024
	}
	if s.Temperature <= 0 {
		s.Temperature = 0.7
	}
	if s.Retries < 0 {
		s.Retries = 0
	}
	return s
}

// Client communicates with a local Ollama instance over HTTP.
type Client struct {
	settings   Settings
	httpClient *http.Client
}

// New creates a Client. Per-call deadlines come from Settings.Timeout, so
// the underlying http.Client has none.
func New(s Settings) *Client {
	return &Client{
		settings: s.withDefaults(),
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// Settings returns the effective settings.
func (c *Client) Settings() Settings { return c.settings }

// Model is the chat model used when callers do not choose one.
func (c *Client) Model() string { return c.settings.Model }

// tagsResponse mirrors the JSON returned by GET /api/tags.
type tagsResponse struct {
	Models []Model `json:"models"`
}

// Model is one locally installed model.
type Model struct {
	Name    string       `json:"name"`
	Size    int64        `json:"size"`
	Details ModelDetails `json:"details"`
}

// ModelDetails carries the descriptive fields of a model.
type ModelDetails struct {
	Family            string `json:"family,omitempty"`
	ParameterSize     string `json:"parameter_size,omitempty"`
	QuantizationLevel string `json:"quantization_level,omitempty"`
}

// IsRunning returns true if the Ollama server responds to GET /api/tags with 200.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.settings.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Models returns every model installed in the local Ollama instance.
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.settings.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting model list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return tags.Models, nil
}

// ListModels returns the names of all installed models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	models, err := c.Models(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	return names, nil
}

// HasModel reports whether the given model name is present locally.
func (c *Client) HasModel(ctx context.Context, name string) bool {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false
	}
	return containsModel(models, name)
}

// containsModel matches name against installed names, ignoring a ":tag"
// suffix on the installed side when name has none.
func containsModel(installed []string, name string) bool {
	for _, m := range installed {
		if m == name || strings.HasPrefix(m, name+":") {
			return true
		}
	}
	return false
}

// ConnectionStatus is the outcome of TestConnection.
type ConnectionStatus struct {
	Status  string   `json:"status"`
	Models  []string `json:"models,omitempty"`
	Message string   `json:"message,omitempty"`
}

// TestConnection lists installed models, reporting failures in the status
// rather than as an error.
func (c *Client) TestConnection(ctx context.Context) ConnectionStatus {
	names, err := c.ListModels(ctx)
	if err != nil {
		return ConnectionStatus{Status: "error", Message: err.Error()}
	}
	return ConnectionStatus{Status: "ok", Models: names}
}

// pullRequest is the JSON body for POST /api/pull.
type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// PullProgress is one line of the streamed pull response.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// PullModel downloads a model, reading the streamed progress to completion.
// onProgress may be nil.
func (c *Client) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	body, err := json.Marshal(pullRequest{Name: name, Stream: true})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settings.BaseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pull %s: unexpected status %d", name, resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var p PullProgress
		if err := dec.Decode(&p); err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("reading pull progress: %w", err)
		}
		if onProgress != nil {
			onProgress(p)
		}
	}
	return nil
}

// generateRequest is the JSON body for POST /api/generate.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	NumCtx      int     `json:"num_ctx"`
	Temperature float64 `json:"temperature"`
}

// generateResponse is the JSON returned by POST /api/generate (non-streaming).
type generateResponse struct {
	Response string `json:"response"`
}

// GenerateOptions overrides per-call settings. Zero fields keep the client's.
type GenerateOptions struct {
	System      string
	NumCtx      int
	Temperature float64
}

// Generate sends prompt to model (the default model when empty) and returns
// the completion. Expected failures are returned as short user-facing
// diagnostics beginning with one of the markers recognized by IsDiagnostic.
// Connection failures are retried; error responses from the server are not.
func (c *Client) Generate(ctx context.Context, prompt, model string, opts *GenerateOptions) string {
	if model == "" {
		model = c.settings.Model
	}
	gr := generateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			NumCtx:      c.settings.NumCtx,
			Temperature: c.settings.Temperature,
		},
	}
	if opts != nil {
		gr.System = opts.System
		if opts.NumCtx > 0 {
			gr.Options.NumCtx = opts.NumCtx
		}
		if opts.Temperature > 0 {
			gr.Options.Temperature = opts.Temperature
		}
	}
	body, err := json.Marshal(gr)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	start := time.Now()
	var text, outcome string
	for attempt := 0; ; attempt++ {
		var retry bool
		text, outcome, retry = c.generateOnce(ctx, model, body)
		if !retry || attempt >= c.settings.Retries {
			break
		}
		slog.Warn("ollama unreachable, retrying", "attempt", attempt+1, "model", model)
		select {
		case <-ctx.Done():
			text, outcome = connectionDiagnostic, "unreachable"
			metrics.RecordInference(ctx, model, outcome, time.Since(start))
			return text
		case <-time.After(c.settings.RetryBackoff):
		}
	}
	metrics.RecordInference(ctx, model, outcome, time.Since(start))
	return text
}

const connectionDiagnostic = "❌ No puedo conectar con Ollama. ¿Está ejecutándose?"

// generateOnce performs one request. retry is true only for transport
// failures that happened before any response was received.
func (c *Client) generateOnce(ctx context.Context, model string, body []byte) (text, outcome string, retry bool) {
	ctx, cancel := context.WithTimeout(ctx, c.settings.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settings.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return fmt.Sprintf("Error: %v", err), "error", false
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("ollama generate", "url", req.URL.String(), "model", model)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Sprintf("⏱️ Timeout (%ds). Aumenta el timeout en configuración.", int(c.settings.Timeout.Seconds())), "timeout", false
		}
		if isTransient(err) {
			return connectionDiagnostic, "unreachable", true
		}
		slog.Error("ollama generate failed", "error", err)
		return fmt.Sprintf("Error: %v", err), "error", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return statusDiagnostic(resp.StatusCode, string(raw), model), "status", false
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if isTimeout(err) {
			return fmt.Sprintf("⏱️ Timeout (%ds). Aumenta el timeout en configuración.", int(c.settings.Timeout.Seconds())), "timeout", false
		}
		return "Error: respuesta inválida de Ollama", "error", false
	}
	slog.Debug("ollama response", "response", truncate(result.Response, 100))
	return result.Response, "ok", false
}

func statusDiagnostic(code int, body, model string) string {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "exit status 2"):
		return fmt.Sprintf("⚠️ Modelo '%s' corrupto. Prueba: ollama pull %s", model, model)
	case strings.Contains(lower, "out of memory") || strings.Contains(lower, "requires more system memory"):
		return "⚠️ Sin memoria GPU. Cierra otras apps o usa modelo más pequeño."
	case code == http.StatusNotFound && strings.Contains(lower, "not found"):
		return fmt.Sprintf("❌ Modelo '%s' no instalado. Prueba: ollama pull %s", model, model)
	default:
		return fmt.Sprintf("Error Ollama: %d", code)
	}
}

// diagnosticMarkers prefix every failure text produced by Generate.
var diagnosticMarkers = []string{"Error", "❌", "⏱️", "⚠️"}

// IsDiagnostic reports whether text is empty or a failure diagnostic rather
// than model output.
func IsDiagnostic(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return true
	}
	for _, m := range diagnosticMarkers {
		if strings.HasPrefix(t, m) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsTemporary
}

// embeddingsRequest is the JSON body for POST /api/embeddings.
type embeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// embeddingsResponse is the JSON returned by POST /api/embeddings.
type embeddingsResponse struct {
	Embedding []float32 `json:"embedding"`
}

// EmbedCandidates returns the ranked embedding models for a request: the
// requested (or configured) model, the small general-purpose fallbacks, then
// the chat model.
func (c *Client) EmbedCandidates(model string) []string {
	primary := model
	if primary == "" {
		primary = c.settings.EmbedModel
	}
	var out []string
	add := func(m string) {
		if m == "" {
			return
		}
		for _, x := range out {
			if x == m {
				return
			}
		}
		out = append(out, m)
	}
	add(primary)
	add("all-minilm")
	add("nomic-embed-text")
	add(c.settings.Model)
	return out
}

// Embed returns an embedding for text, trying each candidate model in turn.
// Candidates not installed on the server are skipped when the installed list
// can be read. It returns nil when no candidate yields a vector.
func (c *Client) Embed(ctx context.Context, text, model string) []float32 {
	if text == "" {
		return nil
	}
	installed, err := c.ListModels(ctx)
	if err != nil {
		installed = nil
	}
	for _, candidate := range c.EmbedCandidates(model) {
		if installed != nil && !containsModel(installed, candidate) {
			continue
		}
		vec, err := c.embedOnce(ctx, candidate, text)
		if err != nil {
			slog.Debug("embedding candidate failed", "model", candidate, "error", err)
			continue
		}
		if len(vec) > 0 {
			return vec
		}
	}
	slog.Warn("no embedding model available; install one such as nomic-embed-text or all-minilm")
	return nil
}

func (c *Client) embedOnce(ctx context.Context, model, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.settings.Timeout)
	defer cancel()

	body, err := json.Marshal(embeddingsRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settings.BaseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed: unexpected status %d", resp.StatusCode)
	}

	var result embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	return result.Embedding, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
