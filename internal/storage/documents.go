package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const documentColumns = `id, source, title, author, content, vector_id, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var d Document
	var createdAt, updatedAt string
	if err := row.Scan(&d.ID, &d.Source, &d.Title, &d.Author, &d.Content, &d.VectorID, &createdAt, &updatedAt); err != nil {
		return Document{}, err
	}
	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Document{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return d, nil
}

// SaveDocument inserts a document, generating its ID when empty.
func (s *Store) SaveDocument(ctx context.Context, d Document) (Document, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := time.Now().UTC().Truncate(time.Second)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Source, d.Title, d.Author, d.Content, d.VectorID, formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		return Document{}, fmt.Errorf("saving document: %w", err)
	}
	return d, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	return d, err
}

// SetDocumentVectorID links a document to its vector store record.
func (s *Store) SetDocumentVectorID(ctx context.Context, id, vectorID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET vector_id = ?, updated_at = ? WHERE id = ?`,
		vectorID, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	return affected(res)
}

// UnindexedDocuments lists documents that have no vector yet, oldest first.
func (s *Store) UnindexedDocuments(ctx context.Context, limit int) ([]Document, error) {
	return s.queryDocuments(ctx, `SELECT `+documentColumns+` FROM documents WHERE vector_id = ''
		ORDER BY created_at, id LIMIT ?`, limit)
}

// SearchDocuments is the substring fallback of the semantic search: it
// returns documents of one source whose title or content contains any of
// terms, most recently updated first.
func (s *Store) SearchDocuments(ctx context.Context, source string, terms []string, limit int) ([]Document, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	var conds []string
	args := []any{source}
	for _, t := range terms {
		conds = append(conds, `title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(t), likePattern(t))
	}
	args = append(args, limit)
	return s.queryDocuments(ctx, `SELECT `+documentColumns+` FROM documents
		WHERE source = ? AND (`+strings.Join(conds, ` OR `)+`)
		ORDER BY updated_at DESC, id LIMIT ?`, args...)
}

func (s *Store) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
