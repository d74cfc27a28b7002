// Package retrieval finds indexed documents and mail relevant to a query and
// builds the small business-data context attached to each prompt.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kalambet/opsai/internal/storage"
)

// minTermLength is the shortest query word used by the substring fallback.
const minTermLength = 4

// Hit is one document or mail returned by a search.
type Hit struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
}

// DocumentStore reads documents by ID and by keyword.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (storage.Document, error)
	SearchDocuments(ctx context.Context, source string, terms []string, limit int) ([]storage.Document, error)
}

// Searcher answers document and mail searches: semantic search first, then
// a keyword search when no vector is available or nothing matched.
type Searcher struct {
	embedder *Embedder
	vectors  VectorStore
	docs     DocumentStore
}

// NewSearcher creates a Searcher.
func NewSearcher(embedder *Embedder, vectors VectorStore, docs DocumentStore) *Searcher {
	return &Searcher{embedder: embedder, vectors: vectors, docs: docs}
}

// SearchDocuments returns up to limit hits from source ("docs" or "mail").
// It returns ErrNoEmbedding only when the query could not be embedded and
// the keyword fallback found nothing either.
func (s *Searcher) SearchDocuments(ctx context.Context, source, query string, limit int) ([]Hit, error) {
	vec, embedErr := s.embedder.Embed(ctx, query)
	if embedErr == nil {
		hits, err := s.semantic(ctx, source, vec, limit)
		if err != nil {
			return nil, err
		}
		if len(hits) > 0 {
			return hits, nil
		}
	} else if !errors.Is(embedErr, ErrNoEmbedding) {
		return nil, embedErr
	}

	hits, err := s.keyword(ctx, source, query, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 && embedErr != nil {
		return nil, embedErr
	}
	return hits, nil
}

func (s *Searcher) semantic(ctx context.Context, source string, vec []float32, limit int) ([]Hit, error) {
	// Documents may have several chunks; over-fetch so that deduplication
	// still leaves limit documents.
	scored, err := s.vectors.Search(ctx, vec, limit*3, source)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}

	seen := make(map[string]bool)
	var hits []Hit
	for _, r := range scored {
		if seen[r.SourceID] || len(hits) == limit {
			continue
		}
		seen[r.SourceID] = true
		h := Hit{DocumentID: r.SourceID, Content: r.TextChunk, Score: r.Score}
		doc, err := s.docs.GetDocument(ctx, r.SourceID)
		switch {
		case err == nil:
			h.Title = doc.Title
		case errors.Is(err, storage.ErrNotFound):
			slog.Debug("vector without document", "document_id", r.SourceID)
		default:
			return nil, fmt.Errorf("reading document %s: %w", r.SourceID, err)
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func (s *Searcher) keyword(ctx context.Context, source, query string, limit int) ([]Hit, error) {
	terms := Terms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	docs, err := s.docs.SearchDocuments(ctx, source, terms, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	hits := make([]Hit, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, Hit{DocumentID: d.ID, Title: d.Title, Content: d.Content})
	}
	return hits, nil
}

// Terms splits query into lowercase words of at least four characters.
func Terms(query string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if utf8.RuneCountInString(w) < minTermLength || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
