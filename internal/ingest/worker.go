package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/kalambet/opsai/internal/retrieval"
	"github.com/kalambet/opsai/internal/storage"
)

// JobStore is the slice of storage the worker needs: the job queue plus
// document reads and the indexed marker.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetDocument(ctx context.Context, id string) (storage.Document, error)
	SetDocumentVectorID(ctx context.Context, id, vectorID string) error
}

// ChunkEmbedder embeds every chunk of a document. *retrieval.Embedder
// satisfies it.
type ChunkEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorWriter inserts and removes vector store records.
type VectorWriter interface {
	Insert(ctx context.Context, records []retrieval.Record) error
	DeleteBySource(ctx context.Context, sourceID string) error
}

// IndexPayload is the payload of an index_document job.
type IndexPayload struct {
	DocumentID string `json:"document_id"`
}

// Worker drains index_document jobs: it chunks the document, embeds the
// chunks and replaces the document's vectors.
type Worker struct {
	store    JobStore
	embedder ChunkEmbedder
	vectors  VectorWriter
	idle     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker. idle is the wait after an empty poll and
// defaults to 500ms.
func NewWorker(store JobStore, embedder ChunkEmbedder, vectors VectorWriter, idle time.Duration) *Worker {
	if idle <= 0 {
		idle = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		idle:     idle,
		logger:   slog.Default().With("component", "ingest"),
	}
}

// Run processes jobs back to back and sleeps only when the queue is empty.
// It returns when ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		worked, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if worked {
			timer.Reset(0)
		} else {
			timer.Reset(w.idle)
		}
	}
}

// RunOnce claims one job and indexes its document. It reports whether a job
// was claimed; a failed job is handed back to the queue for retry and is not
// an error of RunOnce.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{storage.JobIndexDocument})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.index(ctx, job); err != nil {
		w.logger.Warn("index job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if ferr := w.store.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			return true, fmt.Errorf("recording failure of job %s: %w", job.ID, ferr)
		}
		return true, nil
	}
	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) index(ctx context.Context, job *storage.Job) error {
	var p IndexPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	doc, err := w.store.GetDocument(ctx, p.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", p.DocumentID, err)
	}

	text := Truncate(Clean(doc.Content))
	if n := utf8.RuneCountInString(text); n < MinContentRunes {
		w.logger.Info("document too short to index", "document_id", doc.ID, "runes", n)
		return nil
	}

	chunks := Chunks(text, ChunkRunes)
	vecs, err := w.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embedding %d chunks: %w", len(chunks), err)
	}

	if doc.VectorID != "" {
		if err := w.vectors.DeleteBySource(ctx, doc.ID); err != nil {
			return fmt.Errorf("removing previous vectors: %w", err)
		}
	}

	now := time.Now().UTC()
	records := make([]retrieval.Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = retrieval.Record{
			ID:         fmt.Sprintf("%s#%d", doc.ID, i),
			SourceID:   doc.ID,
			SourceType: doc.Source,
			TextChunk:  chunk,
			Embedding:  vecs[i],
			CreatedAt:  now,
			Tags:       "[]",
		}
	}
	if err := w.vectors.Insert(ctx, records); err != nil {
		return fmt.Errorf("inserting vectors: %w", err)
	}
	if err := w.store.SetDocumentVectorID(ctx, doc.ID, records[0].ID); err != nil {
		return fmt.Errorf("marking document indexed: %w", err)
	}
	w.logger.Info("document indexed", "document_id", doc.ID, "source", doc.Source, "chunks", len(chunks))
	return nil
}
