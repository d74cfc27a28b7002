package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/opsai/internal/ingest"
	"github.com/kalambet/opsai/internal/storage"
)

const maxIngestBodySize = 10 << 20 // 10MB
const maxURLFetchSize = 5 << 20    // 5MB

// IngestRequest is the body of POST /ai/ingest. Source is "docs" or "mail".
// Type is "text" (default), "file" (base64 Content, extractor picked by
// Filename) or "url". Mail uses Title as the subject and Author as the
// sender.
type IngestRequest struct {
	Source   string `json:"source"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Content  string `json:"content"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Source != "docs" && req.Source != "mail" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "source must be docs or mail")
			return
		}
		if req.Content == "" && req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of content or url is required")
			return
		}
		if req.Type == "" {
			req.Type = "text"
		}

		var text string
		switch {
		case req.Type == "url" && req.URL != "":
			body, err := fetchURL(r.Context(), deps.httpClient(), req.URL)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "%v", err)
				return
			}
			text, err = ingest.HTMLToText(string(body))
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			if req.Title == "" {
				req.Title = req.URL
			}

		case req.Type == "file" && req.Content != "":
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			text, err = ingest.ExtractText(req.Filename, decoded)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			if req.Title == "" {
				req.Title = req.Filename
			}

		case req.Source == "mail":
			var err error
			text, err = ingest.MailText(req.Title, req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}

		default:
			text = req.Content
		}

		if len([]rune(strings.TrimSpace(text))) < ingest.MinContentRunes {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is too short to index")
			return
		}

		doc, job, err := ingest.Submit(r.Context(), deps.Store, storage.Document{
			Source:  req.Source,
			Title:   req.Title,
			Author:  req.Author,
			Content: text,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue document: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"id":     doc.ID,
			"job_id": job.ID,
			"status": "queued",
		})
	}
}

func (d Deps) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}

func fetchURL(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("url returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxURLFetchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read url response: %w", err)
	}
	return body, nil
}
