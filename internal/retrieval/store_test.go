package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// openTestDB creates an in-memory SQLite database with the context_vectors table.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`
		CREATE TABLE context_vectors (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			source_type TEXT NOT NULL,
			text_chunk TEXT NOT NULL,
			embedding BLOB NOT NULL,
			created_at TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT ''
		)`)
	if err != nil {
		t.Fatalf("creating table: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func makeTestVector(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

func TestInsertAndSearch(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t))
	ctx := context.Background()

	vec := makeTestVector(768, 0.1)
	err := s.Insert(ctx, []Record{{
		ID:         "r1",
		SourceID:   "doc1",
		SourceType: "docs",
		TextChunk:  "Manual de montaje de la mesa de roble",
		Embedding:  vec,
		CreatedAt:  time.Now().UTC(),
		Tags:       `["manual"]`,
	}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(ctx, vec, 1, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Score < 0.99 {
		t.Errorf("score = %f, want > 0.99", results[0].Score)
	}
	if results[0].ID != "r1" || results[0].SourceID != "doc1" || len(results[0].Embedding) != 768 {
		t.Errorf("record = %+v", results[0].Record)
	}
}

func TestSearch_TopKOrdered(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t))
	ctx := context.Background()

	var records []Record
	for i := 0; i < 10; i++ {
		v := make([]float32, 3)
		v[0] = 1
		v[1] = float32(i)
		records = append(records, Record{
			ID:         fmt.Sprintf("r%d", i),
			SourceID:   "src",
			SourceType: "docs",
			TextChunk:  "texto",
			Embedding:  v,
		})
	}
	if err := s.Insert(ctx, records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(ctx, []float32{1, 0, 0}, 3, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	want := []string{"r0", "r1", "r2"}
	for i, r := range results {
		if r.ID != want[i] {
			t.Errorf("results[%d] = %s, want %s", i, r.ID, want[i])
		}
	}
}

func TestSearch_SourceFilter(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t))
	ctx := context.Background()
	vec := makeTestVector(16, 0.1)

	if err := s.Insert(ctx, []Record{
		{ID: "d1", SourceID: "doc", SourceType: "docs", TextChunk: "doc", Embedding: vec},
		{ID: "m1", SourceID: "mail", SourceType: "mail", TextChunk: "mail", Embedding: vec},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(ctx, vec, 5, "mail")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "m1" {
		t.Errorf("mail search = %+v", results)
	}

	n, _ := s.Count(ctx, "docs")
	total, _ := s.Count(ctx, "")
	if n != 1 || total != 2 {
		t.Errorf("Count = %d/%d, want 1/2", n, total)
	}
}

func TestSearch_MismatchedDimensionsScoreZero(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t))
	ctx := context.Background()

	if err := s.Insert(ctx, []Record{{ID: "r1", SourceID: "s", SourceType: "docs", TextChunk: "t", Embedding: makeTestVector(384, 0.1)}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	results, err := s.Search(ctx, makeTestVector(768, 0.1), 1, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Score != 0 {
		t.Errorf("results = %+v", results)
	}
}

func TestSearch_EmptyTableAndZeroInputs(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t))
	ctx := context.Background()

	for name, run := range map[string]func() ([]ScoredRecord, error){
		"empty table": func() ([]ScoredRecord, error) { return s.Search(ctx, makeTestVector(8, 0.1), 5, "") },
		"topK zero":   func() ([]ScoredRecord, error) { return s.Search(ctx, makeTestVector(8, 0.1), 0, "") },
		"zero vector": func() ([]ScoredRecord, error) { return s.Search(ctx, make([]float32, 8), 5, "") },
	} {
		results, err := run()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if results != nil {
			t.Errorf("%s: got %d results, want nil", name, len(results))
		}
	}
}

func TestDeleteBySource(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t))
	ctx := context.Background()
	vec := makeTestVector(8, 0.1)

	if err := s.Insert(ctx, []Record{
		{ID: "r1", SourceID: "doc1", SourceType: "docs", TextChunk: "a", Embedding: vec},
		{ID: "r2", SourceID: "doc2", SourceType: "docs", TextChunk: "b", Embedding: vec},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := s.DeleteBySource(ctx, "doc1"); err != nil {
		t.Fatalf("DeleteBySource: %v", err)
	}
	if err := s.DeleteBySource(ctx, "doc1"); err != nil {
		t.Fatalf("second DeleteBySource: %v", err)
	}

	results, err := s.Search(ctx, vec, 5, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "r2" {
		t.Errorf("after delete = %+v", results)
	}
}

func TestUnpackVector(t *testing.T) {
	if _, err := unpackVector(nil, []byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}

	scratch := make([]float32, 0, 8)
	v, err := unpackVector(scratch, packVector([]float32{1.5, -2}))
	if err != nil || len(v) != 2 || v[0] != 1.5 || v[1] != -2 {
		t.Errorf("unpack = %v, %v", v, err)
	}
	if &v[0] != &scratch[:1][0] {
		t.Error("scratch buffer not reused")
	}
}

func TestInsertRanked_KeepsTopKDescending(t *testing.T) {
	var best []ScoredRecord
	for i, score := range []float32{0.2, 0.9, 0.5, 0.9, 0.1, 0.7} {
		best = insertRanked(best, ScoredRecord{Record: Record{ID: fmt.Sprint(i)}, Score: score}, 3)
	}
	var got []string
	for _, r := range best {
		got = append(got, r.ID)
	}
	if fmt.Sprint(got) != "[1 3 5]" {
		t.Errorf("ranked ids = %v, want [1 3 5]", got)
	}
}

func TestSearch_ReturnedEmbeddingsAreIndependent(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t))
	ctx := context.Background()
	if err := s.Insert(ctx, []Record{
		{ID: "a", SourceID: "s", SourceType: "docs", TextChunk: "a", Embedding: []float32{1, 0}},
		{ID: "b", SourceID: "s", SourceType: "docs", TextChunk: "b", Embedding: []float32{0, 1}},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	results, err := s.Search(ctx, []float32{1, 1}, 2, "docs")
	if err != nil || len(results) != 2 {
		t.Fatalf("Search = %v, %v", results, err)
	}
	if results[0].Embedding[0] == results[1].Embedding[0] {
		t.Errorf("embeddings share storage: %v %v", results[0].Embedding, results[1].Embedding)
	}
}
