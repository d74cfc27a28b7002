package retrieval

import (
	"context"
	"time"
)

// VectorStore stores document embeddings and answers similarity queries.
// The SQLite implementation scans every vector; a store with an ANN index
// can replace it behind the same interface.
type VectorStore interface {
	// Insert adds records.
	Insert(ctx context.Context, records []Record) error

	// Search returns the topK records most similar to vector. A non-empty
	// sourceType restricts the scan to that source ("docs" or "mail").
	Search(ctx context.Context, vector []float32, topK int, sourceType string) ([]ScoredRecord, error)

	// DeleteBySource removes every record derived from sourceID.
	DeleteBySource(ctx context.Context, sourceID string) error

	// Count returns the number of records of sourceType, or of all records
	// when sourceType is empty.
	Count(ctx context.Context, sourceType string) (int, error)
}

// Record is one embedded chunk of a document or mail.
type Record struct {
	ID         string
	SourceID   string // document ID
	SourceType string // "docs" or "mail"
	TextChunk  string
	Embedding  []float32
	CreatedAt  time.Time
	Tags       string // JSON array stored as text
}

// ScoredRecord is a Record with a cosine similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
