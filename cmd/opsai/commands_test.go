package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/opsai/internal/api"
	"github.com/kalambet/opsai/internal/config"
	"github.com/kalambet/opsai/internal/watchdog"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
	User   string
}

type testServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
			User:   r.Header.Get(api.UserHeader),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"acción no encontrada","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		user:       "ana",
		httpClient: ts.server.Client(),
	}
}

// useClient points the commands at ts for the duration of the test.
func useClient(t *testing.T, ts *testServer) {
	t.Helper()
	orig := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = orig })
}

var ctx = context.Background()

func TestAPIClient_SendsAuthAndUser(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	var health map[string]string
	if err := ts.client().call(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", ts.requests[0].Auth)
	}
	if ts.requests[0].User != "ana" {
		t.Errorf("user header = %q, want ana", ts.requests[0].User)
	}
}

func TestAPIClient_ServerStopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	err := ts.client().call(ctx, http.MethodGet, "/health", nil, nil)
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestAPIClient_ErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	var result any
	err := ts.client().call(ctx, http.MethodPost, "/ai/actions/x/approve", nil, &result)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if got := err.Error(); got != "server returned 404: acción no encontrada" {
		t.Errorf("error = %q", got)
	}
}

func TestAPIClient_PlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := &apiClient{baseURL: srv.URL, token: "t", httpClient: srv.Client()}
	err := c.call(ctx, http.MethodGet, "/", nil, nil)
	if err == nil || err.Error() != "server returned 502: bad gateway" {
		t.Errorf("error = %v", err)
	}
}

func TestAskCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /ai/ask": `{"response":"📦 Acción pendiente de aprobación","pending_action_id":"act-1","expert_name":"Experto en Inventario","model_used":"gemma3:4b"}`,
	})
	useClient(t, ts)
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask", "crear", "producto", `"Mesa"`, "--model", "llama3.2:3b"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	var body api.AskRequest
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body.Prompt != `crear producto "Mesa"` {
		t.Errorf("prompt = %q", body.Prompt)
	}
	if body.Model != "llama3.2:3b" {
		t.Errorf("model = %q", body.Model)
	}
}

func TestAskCommand_MissingPrompt(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for missing prompt")
	}
}

func TestDecideAction(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /ai/actions/act-1/approve": `{"action_id":"act-1","state":"executed","response":"✅ Producto creado","created_id":7}`,
		"POST /ai/actions/act-2/reject":  `{"action_id":"act-2","state":"rejected"}`,
		"POST /ai/actions/act-3/approve": `{"action_id":"act-3","state":"error","error":"fallo de escritura"}`,
	})
	useClient(t, ts)

	if err := decideAction(ctx, "act-1", "approve"); err != nil {
		t.Errorf("approve: %v", err)
	}
	if err := decideAction(ctx, "act-2", "reject"); err != nil {
		t.Errorf("reject: %v", err)
	}
	err := decideAction(ctx, "act-3", "approve")
	if err == nil || !strings.Contains(err.Error(), "fallo de escritura") {
		t.Errorf("failed action error = %v", err)
	}
	if err := decideAction(ctx, "missing", "approve"); err == nil {
		t.Error("expected error for unknown action")
	}

	if ts.requests[0].Method != http.MethodPost || ts.requests[0].Path != "/ai/actions/act-1/approve" {
		t.Errorf("first request = %+v", ts.requests[0])
	}
}

func TestBuildIngestRequest(t *testing.T) {
	req, err := buildIngestRequest("El camión llega el jueves", "", "", "mail", "Retraso", "compras@maderasnorte.es")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Type != "text" || req.Source != "mail" || req.Title != "Retraso" || req.Author != "compras@maderasnorte.es" {
		t.Errorf("req = %+v", req)
	}

	req, err = buildIngestRequest("", "https://intranet.local/calidad", "", "docs", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Type != "url" || req.URL != "https://intranet.local/calidad" {
		t.Errorf("req = %+v", req)
	}

	path := filepath.Join(t.TempDir(), "montaje.txt")
	if err := os.WriteFile(path, []byte("lijar y barnizar"), 0o644); err != nil {
		t.Fatal(err)
	}
	req, err = buildIngestRequest("", "", path, "docs", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Type != "file" || req.Filename != "montaje.txt" {
		t.Errorf("req = %+v", req)
	}
	if decoded, _ := base64.StdEncoding.DecodeString(req.Content); string(decoded) != "lijar y barnizar" {
		t.Errorf("content = %q", req.Content)
	}
}

func TestBuildIngestRequest_Errors(t *testing.T) {
	if _, err := buildIngestRequest("", "", "", "docs", "", ""); err == nil || !strings.Contains(err.Error(), "required") {
		t.Errorf("missing content error = %v", err)
	}
	if _, err := buildIngestRequest("hola", "", "", "cli", "", ""); err == nil {
		t.Error("expected error for unknown source")
	}
	if _, err := buildIngestRequest("", "", filepath.Join(t.TempDir(), "nope.pdf"), "docs", "", ""); err == nil {
		t.Error("expected error for unreadable file")
	}
}

func TestIngestCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ingest"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestCountItems(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /ai/actions": `[{"id":"a1"},{"id":"a2"}]`,
	})

	n, err := countItems(ctx, ts.client(), "/ai/actions?state=pending")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
	if ts.requests[0].Path != "/ai/actions?state=pending" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestCountLabel(t *testing.T) {
	tests := []struct {
		count, limit int
		want         string
	}{
		{5, 100, "5"},
		{0, 100, "0"},
		{100, 100, "100+"},
		{150, 100, "150+"},
	}
	for _, tt := range tests {
		got := countLabel(tt.count, tt.limit)
		if got != tt.want {
			t.Errorf("countLabel(%d, %d) = %q, want %q", tt.count, tt.limit, got, tt.want)
		}
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorGreen, "test message"); result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	if result := colorize(colorGreen, "test message"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestStatusLines(t *testing.T) {
	oldColor, oldOut := noColor, stderr
	defer func() { noColor, stderr = oldColor, oldOut }()

	var buf bytes.Buffer
	stderr = &buf
	noColor = true

	printSuccess("Queued %s", "doc-1")
	printWarning("Ollama not ready")
	printStatus("Model", "%s", "gemma3:4b")

	want := "✓ Queued doc-1\n⚠ Ollama not ready\n  Model: gemma3:4b\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestPlainText(t *testing.T) {
	got := plainText("<b>2 órdenes</b><br>• Mesa<br/>• Silla ")
	if got != "2 órdenes\n• Mesa\n• Silla" {
		t.Errorf("plainText = %q", got)
	}
}

func TestDefaultRulesParse(t *testing.T) {
	rules, err := watchdog.ParseRules([]byte(defaultRules))
	if err != nil {
		t.Fatalf("default rules invalid: %v", err)
	}
	if len(rules) != 4 {
		t.Errorf("expected 4 rules, got %d", len(rules))
	}
}

func TestWriteDefaultRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "watchdog.yaml")

	written, err := writeDefaultRules(path)
	if err != nil || !written {
		t.Fatalf("first write = %v, %v", written, err)
	}

	if err := os.WriteFile(path, []byte("rules: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	written, err = writeDefaultRules(path)
	if err != nil || written {
		t.Fatalf("second write = %v, %v", written, err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "rules: []\n" {
		t.Error("existing rules file was overwritten")
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(t.TempDir())
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("PID file still present")
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4100
	cfg.Ollama.Model = "gemma3:4b"

	found := false
	for _, k := range config.ShowAll(cfg) {
		if k.Key == "server.port" && k.Value == "4100" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4100 in ShowAll output")
	}
}
