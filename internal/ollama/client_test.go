package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// tagsJSON builds a /api/tags response with the given model names.
func tagsJSON(names ...string) []byte {
	r := tagsResponse{}
	for _, n := range names {
		r.Models = append(r.Models, Model{Name: n, Size: 1024})
	}
	b, _ := json.Marshal(r)
	return b
}

func closedServerURL() string {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	return srv.URL
}

func TestNew_Defaults(t *testing.T) {
	c := New(Settings{BaseURL: "http://example:11434/", Timeout: 5 * time.Second})
	s := c.Settings()
	if s.BaseURL != "http://example:11434" {
		t.Errorf("BaseURL = %q", s.BaseURL)
	}
	if s.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want clamped to 30s", s.Timeout)
	}
	if s.Model != "gemma3:4b" || s.EmbedModel != "nomic-embed-text" {
		t.Errorf("models = %q/%q", s.Model, s.EmbedModel)
	}
	if s.NumCtx != 1024 || s.Temperature != 0.7 {
		t.Errorf("options = %d/%v", s.NumCtx, s.Temperature)
	}

	if got := New(Settings{Timeout: time.Hour}).Settings().Timeout; got != 600*time.Second {
		t.Errorf("Timeout = %v, want clamped to 600s", got)
	}
}

func TestIsRunning_Up(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("gemma3:4b"))
	}))
	defer srv.Close()

	c := New(Settings{BaseURL: srv.URL})
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
}

func TestIsRunning_Down(t *testing.T) {
	c := New(Settings{BaseURL: closedServerURL()})
	if c.IsRunning(context.Background()) {
		t.Error("IsRunning() = true, want false")
	}
}

func TestModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"gemma3:4b","size":3338801804,"details":{"family":"gemma3","parameter_size":"4.3B","quantization_level":"Q4_K_M"}}]}`))
	}))
	defer srv.Close()

	c := New(Settings{BaseURL: srv.URL})
	models, err := c.Models(context.Background())
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("got %d models, want 1", len(models))
	}
	if models[0].Size != 3338801804 || models[0].Details.ParameterSize != "4.3B" {
		t.Errorf("model = %+v", models[0])
	}
}

func TestHasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("gemma3:4b", "nomic-embed-text:latest"))
	}))
	defer srv.Close()

	c := New(Settings{BaseURL: srv.URL})
	if !c.HasModel(context.Background(), "nomic-embed-text") {
		t.Error("HasModel(nomic-embed-text) = false, want true")
	}
	if c.HasModel(context.Background(), "llama3") {
		t.Error("HasModel(llama3) = true, want false")
	}
}

func TestTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("gemma3:4b"))
	}))
	defer srv.Close()

	st := New(Settings{BaseURL: srv.URL}).TestConnection(context.Background())
	if st.Status != "ok" || len(st.Models) != 1 {
		t.Errorf("status = %+v", st)
	}

	st = New(Settings{BaseURL: closedServerURL()}).TestConnection(context.Background())
	if st.Status != "error" || st.Message == "" {
		t.Errorf("status = %+v, want error", st)
	}
}

func TestGenerate(t *testing.T) {
	var captured generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(generateResponse{Response: `{"tool": "message", "params": {"content": "hola"}}`})
	}))
	defer srv.Close()

	c := New(Settings{BaseURL: srv.URL, NumCtx: 2048, Temperature: 0.2})
	got := c.Generate(context.Background(), "Usuario: hola", "", nil)
	if !strings.Contains(got, `"hola"`) {
		t.Errorf("Generate() = %q", got)
	}
	if captured.Model != "gemma3:4b" {
		t.Errorf("model = %q, want default", captured.Model)
	}
	if captured.Stream {
		t.Error("stream = true, want false")
	}
	if captured.Options.NumCtx != 2048 || captured.Options.Temperature != 0.2 {
		t.Errorf("options = %+v", captured.Options)
	}

	c.Generate(context.Background(), "x", "llama3", &GenerateOptions{System: "sys", NumCtx: 512})
	if captured.Model != "llama3" || captured.System != "sys" || captured.Options.NumCtx != 512 {
		t.Errorf("override request = %+v", captured)
	}
}

func TestGenerate_StatusDiagnostics(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		prefix string
	}{
		{"out of memory", http.StatusInternalServerError, `{"error":"CUDA error: out of memory"}`, "⚠️ Sin memoria"},
		{"corrupt model", http.StatusInternalServerError, `{"error":"llama runner process has terminated: exit status 2"}`, "⚠️ Modelo 'gemma3:4b' corrupto"},
		{"missing model", http.StatusNotFound, `{"error":"model 'gemma3:4b' not found"}`, "❌ Modelo 'gemma3:4b' no instalado"},
		{"other", http.StatusBadGateway, `bad gateway`, "Error Ollama: 502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := New(Settings{BaseURL: srv.URL, Retries: 3})
			got := c.Generate(context.Background(), "hola", "", nil)
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("Generate() = %q, want prefix %q", got, tt.prefix)
			}
			if !IsDiagnostic(got) {
				t.Errorf("IsDiagnostic(%q) = false", got)
			}
			if n := calls.Load(); n != 1 {
				t.Errorf("server called %d times, want 1 (no retry on error responses)", n)
			}
		})
	}
}

func TestGenerate_RetriesConnectionErrors(t *testing.T) {
	c := New(Settings{BaseURL: closedServerURL(), Retries: 2, RetryBackoff: time.Millisecond})
	got := c.Generate(context.Background(), "hola", "", nil)
	if got != connectionDiagnostic {
		t.Errorf("Generate() = %q, want connection diagnostic", got)
	}
}

func TestGenerate_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json")
	}))
	defer srv.Close()

	got := New(Settings{BaseURL: srv.URL}).Generate(context.Background(), "hola", "", nil)
	if !strings.HasPrefix(got, "Error") {
		t.Errorf("Generate() = %q, want Error prefix", got)
	}
}

func TestIsDiagnostic(t *testing.T) {
	for _, s := range []string{"", "  ", "Error Ollama: 500", "❌ x", "⏱️ Timeout (60s).", "⚠️ Sin memoria"} {
		if !IsDiagnostic(s) {
			t.Errorf("IsDiagnostic(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"Hola", `{"tool": "message"}`, "El error fue corregido"} {
		if IsDiagnostic(s) {
			t.Errorf("IsDiagnostic(%q) = true, want false", s)
		}
	}
}

func TestEmbedCandidates(t *testing.T) {
	c := New(Settings{Model: "gemma3:4b", EmbedModel: "nomic-embed-text"})
	got := c.EmbedCandidates("mxbai-embed-large")
	want := []string{"mxbai-embed-large", "all-minilm", "nomic-embed-text", "gemma3:4b"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("EmbedCandidates = %v, want %v", got, want)
	}

	got = c.EmbedCandidates("")
	want = []string{"nomic-embed-text", "all-minilm", "gemma3:4b"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("EmbedCandidates = %v, want %v", got, want)
	}
}

func TestEmbed_SkipsUninstalledCandidates(t *testing.T) {
	var tried []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write(tagsJSON("all-minilm:latest", "gemma3:4b"))
		case "/api/embeddings":
			var req embeddingsRequest
			json.NewDecoder(r.Body).Decode(&req)
			tried = append(tried, req.Model)
			if req.Prompt != "hola mundo" {
				t.Errorf("prompt = %q", req.Prompt)
			}
			json.NewEncoder(w).Encode(embeddingsResponse{Embedding: []float32{0.1, 0.2, 0.3}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(Settings{BaseURL: srv.URL})
	vec := c.Embed(context.Background(), "hola mundo", "")
	if len(vec) != 3 {
		t.Fatalf("got %d floats, want 3", len(vec))
	}
	if len(tried) != 1 || tried[0] != "all-minilm" {
		t.Errorf("tried = %v, want [all-minilm]", tried)
	}
}

func TestEmbed_FallsThroughFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusInternalServerError)
		case "/api/embeddings":
			var req embeddingsRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Model != "gemma3:4b" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(embeddingsResponse{Embedding: []float32{1}})
		}
	}))
	defer srv.Close()

	vec := New(Settings{BaseURL: srv.URL}).Embed(context.Background(), "texto", "")
	if len(vec) != 1 {
		t.Errorf("Embed = %v, want vector from chat model", vec)
	}
}

func TestEmbed_NoCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llava:7b"))
	}))
	defer srv.Close()

	c := New(Settings{BaseURL: srv.URL})
	if vec := c.Embed(context.Background(), "texto", ""); vec != nil {
		t.Errorf("Embed = %v, want nil", vec)
	}
	if vec := c.Embed(context.Background(), "", ""); vec != nil {
		t.Errorf("Embed(empty) = %v, want nil", vec)
	}
}

func TestPullModel_Progress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			http.NotFound(w, r)
			return
		}
		var reqBody pullRequest
		json.NewDecoder(r.Body).Decode(&reqBody)
		if reqBody.Name != "gemma3:4b" {
			t.Errorf("pull model = %q, want %q", reqBody.Name, "gemma3:4b")
		}
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 500})
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 1000})
		enc.Encode(PullProgress{Status: "success"})
	}))
	defer srv.Close()

	c := New(Settings{BaseURL: srv.URL})
	var progressCount int
	err := c.PullModel(context.Background(), "gemma3:4b", func(p PullProgress) {
		progressCount++
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if progressCount != 3 {
		t.Errorf("received %d progress updates, want 3", progressCount)
	}
}

func TestEnsureReady_OllamaDown(t *testing.T) {
	c := New(Settings{BaseURL: closedServerURL()})
	_, err := EnsureReady(context.Background(), c, io.Discard)
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("err = %v, want ErrNotRunning", err)
	}
}

func TestEnsureReady_WarmsInstalledModels(t *testing.T) {
	var generated atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write(tagsJSON("gemma3:4b", "nomic-embed-text:latest"))
		case "/api/generate":
			generated.Add(1)
			json.NewEncoder(w).Encode(generateResponse{Response: "pong"})
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	var out strings.Builder
	ready, err := EnsureReady(context.Background(), New(Settings{BaseURL: srv.URL}), &out)
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if !ready.Warm || len(ready.Pulled) != 0 || len(ready.Failed) != 0 {
		t.Errorf("readiness = %+v", ready)
	}
	if generated.Load() != 1 {
		t.Errorf("warm-up generate calls = %d, want 1", generated.Load())
	}
	if !strings.Contains(out.String(), "model gemma3:4b: warm") {
		t.Errorf("output = %q", out.String())
	}
}

func TestEnsureReady_PullsMissingEmbedModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write(tagsJSON("gemma3:4b"))
		case "/api/pull":
			w.Write([]byte(`{"status":"pulling manifest"}` + "\n" +
				`{"status":"downloading","total":100,"completed":50}` + "\n" +
				`{"status":"downloading","total":100,"completed":50}` + "\n" +
				`{"status":"success"}` + "\n"))
		case "/api/generate":
			json.NewEncoder(w).Encode(generateResponse{Response: "pong"})
		}
	}))
	defer srv.Close()

	var out strings.Builder
	ready, err := EnsureReady(context.Background(), New(Settings{BaseURL: srv.URL}), &out)
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(ready.Pulled) != 1 || ready.Pulled[0] != "nomic-embed-text" {
		t.Errorf("pulled = %v", ready.Pulled)
	}
	if n := strings.Count(out.String(), "downloading 50%"); n != 1 {
		t.Errorf("repeated progress lines printed %d times:\n%s", n, out.String())
	}
}
