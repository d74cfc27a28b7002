package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/opsai/internal/storage"
)

const manualText = "Procedimiento de montaje de la mesa de roble: lijar, ensamblar y barnizar."

func ingestDoc(t *testing.T, e *testEnv, body string) storage.Document {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/ai/ingest", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["status"] != "queued" {
		t.Errorf("status = %q, want %q", resp["status"], "queued")
	}
	if resp["job_id"] == "" {
		t.Error("response missing job_id")
	}

	doc, err := e.store.GetDocument(context.Background(), resp["id"])
	if err != nil {
		t.Fatalf("GetDocument(%q) failed: %v", resp["id"], err)
	}
	return doc
}

func TestIngest_TextContent(t *testing.T) {
	e := setupHandler(t, Deps{})
	doc := ingestDoc(t, e, fmt.Sprintf(`{"source":"docs","title":"Manual mesa","content":%q}`, manualText))
	if doc.Content != manualText {
		t.Errorf("doc.Content = %q, want %q", doc.Content, manualText)
	}
	if doc.Source != "docs" || doc.Title != "Manual mesa" {
		t.Errorf("doc = %+v", doc)
	}

	job, err := e.store.ClaimNextJob(context.Background(), []string{storage.JobIndexDocument})
	if err != nil || job == nil {
		t.Fatalf("expected a queued index job, got %v, %v", job, err)
	}
	if !strings.Contains(job.PayloadJSON, doc.ID) {
		t.Errorf("job payload %q does not name the document", job.PayloadJSON)
	}
}

func TestIngest_MailStripsHTML(t *testing.T) {
	e := setupHandler(t, Deps{})
	body := `{"source":"mail","title":"Retraso pedido P00012","author":"compras@maderasnorte.es","content":"<div><p>El camión de tableros llega el <b>jueves</b> por la tarde.</p></div>"}`
	doc := ingestDoc(t, e, body)
	if strings.Contains(doc.Content, "<") {
		t.Errorf("markup left in content: %q", doc.Content)
	}
	if !strings.HasPrefix(doc.Content, "Retraso pedido P00012\n") {
		t.Errorf("subject not first: %q", doc.Content)
	}
	if doc.Author != "compras@maderasnorte.es" {
		t.Errorf("author = %q", doc.Author)
	}
}

func TestIngest_InvalidSource(t *testing.T) {
	e := setupHandler(t, Deps{})
	for _, body := range []string{
		`{"content":"hello"}`,
		`{"source":"cli","content":"hello"}`,
	} {
		rr := e.do(t, http.MethodPost, "/ai/ingest", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", body, rr.Code, http.StatusBadRequest)
		}
	}
}

func TestIngest_MissingContent(t *testing.T) {
	e := setupHandler(t, Deps{})
	rr := e.do(t, http.MethodPost, "/ai/ingest", `{"source":"docs"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestIngest_TooShort(t *testing.T) {
	e := setupHandler(t, Deps{})
	rr := e.do(t, http.MethodPost, "/ai/ingest", `{"source":"docs","content":"hola"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestIngest_NoAuth(t *testing.T) {
	e := setupHandler(t, Deps{})
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, authReq(http.MethodPost, "/ai/ingest", `{"source":"docs","content":"hello"}`, ""))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestIngest_URLType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body><h1>Calidad</h1><p>%s</p></body></html>", manualText)
	}))
	t.Cleanup(upstream.Close)

	e := setupHandler(t, Deps{HTTPClient: upstream.Client()})
	doc := ingestDoc(t, e, fmt.Sprintf(`{"source":"docs","type":"url","url":"%s"}`, upstream.URL))
	if !strings.Contains(doc.Content, manualText) || strings.Contains(doc.Content, "<p>") {
		t.Errorf("doc.Content = %q", doc.Content)
	}
	if doc.Title != upstream.URL {
		t.Errorf("title = %q, want the url", doc.Title)
	}
}

func TestIngest_URLUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(upstream.Close)

	e := setupHandler(t, Deps{HTTPClient: upstream.Client()})
	rr := e.do(t, http.MethodPost, "/ai/ingest", fmt.Sprintf(`{"source":"docs","type":"url","url":"%s"}`, upstream.URL))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadGateway)
	}
}

func TestIngest_FileBase64(t *testing.T) {
	e := setupHandler(t, Deps{})
	encoded := base64.StdEncoding.EncodeToString([]byte(manualText))
	doc := ingestDoc(t, e, fmt.Sprintf(`{"source":"docs","type":"file","filename":"montaje.txt","content":"%s"}`, encoded))
	if doc.Content != manualText {
		t.Errorf("doc.Content = %q, want %q", doc.Content, manualText)
	}
	if doc.Title != "montaje.txt" {
		t.Errorf("title = %q, want the filename", doc.Title)
	}
}

func TestIngest_FileInvalidBase64(t *testing.T) {
	e := setupHandler(t, Deps{})
	rr := e.do(t, http.MethodPost, "/ai/ingest", `{"source":"docs","type":"file","content":"***"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}
