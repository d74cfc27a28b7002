package retrieval

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"
)

var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore keeps vectors in the context_vectors table and searches them
// by brute-force cosine similarity, which is plenty for a few thousand
// chunks.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps a database whose context_vectors table was created by
// the storage migrations.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO context_vectors
		(id, source_id, source_type, text_chunk, embedding, created_at, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, r := range records {
		created := cmp.Or(r.CreatedAt, now)
		if _, err := stmt.ExecContext(ctx, r.ID, r.SourceID, r.SourceType, r.TextChunk,
			packVector(r.Embedding), created.UTC().Format(time.RFC3339), r.Tags); err != nil {
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Search(ctx context.Context, vector []float32, topK int, sourceType string) ([]ScoredRecord, error) {
	qMag := magnitude(vector)
	if topK <= 0 || qMag == 0 {
		return nil, nil
	}

	where, args := sourceFilter(sourceType)
	rows, err := s.db.QueryContext(ctx, `SELECT id, source_id, source_type, text_chunk, embedding, created_at, tags
		FROM context_vectors`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	best := make([]ScoredRecord, 0, topK)
	var scratch []float32
	for rows.Next() {
		var r Record
		var blob []byte
		var created string
		if err := rows.Scan(&r.ID, &r.SourceID, &r.SourceType, &r.TextChunk, &blob, &created, &r.Tags); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}
		if scratch, err = unpackVector(scratch, blob); err != nil {
			return nil, fmt.Errorf("record %s: %w", r.ID, err)
		}

		score := similarity(vector, qMag, scratch)
		if len(best) == topK && score <= best[topK-1].Score {
			continue
		}
		r.Embedding = slices.Clone(scratch)
		if r.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
			return nil, fmt.Errorf("record %s: parsing created_at: %w", r.ID, err)
		}
		best = insertRanked(best, ScoredRecord{Record: r, Score: score}, topK)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vectors: %w", err)
	}
	if len(best) == 0 {
		return nil, nil
	}
	return best, nil
}

// insertRanked places r in best, kept sorted by descending score and capped
// at k entries. Ties keep scan order.
func insertRanked(best []ScoredRecord, r ScoredRecord, k int) []ScoredRecord {
	i, _ := slices.BinarySearchFunc(best, r.Score, func(e ScoredRecord, score float32) int {
		if e.Score >= score {
			return -1
		}
		return 1
	})
	best = slices.Insert(best, i, r)
	if len(best) > k {
		best = best[:k]
	}
	return best
}

// DeleteBySource removes the vectors of one document. Deleting a document
// that has none is not an error.
func (s *SQLiteStore) DeleteBySource(ctx context.Context, sourceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM context_vectors WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("deleting vectors of %s: %w", sourceID, err)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context, sourceType string) (int, error) {
	where, args := sourceFilter(sourceType)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM context_vectors`+where, args...).Scan(&n)
	return n, err
}

func sourceFilter(sourceType string) (string, []any) {
	if sourceType == "" {
		return "", nil
	}
	return ` WHERE source_type = ?`, []any{sourceType}
}
