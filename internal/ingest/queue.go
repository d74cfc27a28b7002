package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kalambet/opsai/internal/storage"
)

// Enqueuer adds jobs to the queue.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, job storage.Job) (storage.Job, error)
}

// Queue stores documents and enqueues their indexing.
type Queue interface {
	Enqueuer
	SaveDocument(ctx context.Context, d storage.Document) (storage.Document, error)
}

// Backlog lists documents that were saved without being indexed.
type Backlog interface {
	Enqueuer
	UnindexedDocuments(ctx context.Context, limit int) ([]storage.Document, error)
}

func enqueueIndex(ctx context.Context, q Enqueuer, docID string) (storage.Job, error) {
	payload, err := json.Marshal(IndexPayload{DocumentID: docID})
	if err != nil {
		return storage.Job{}, fmt.Errorf("encoding payload: %w", err)
	}
	job, err := q.EnqueueJob(ctx, storage.Job{Type: storage.JobIndexDocument, PayloadJSON: string(payload)})
	if err != nil {
		return storage.Job{}, fmt.Errorf("enqueueing index job for %s: %w", docID, err)
	}
	return job, nil
}

// Submit saves doc with its content cleaned and capped, then enqueues an
// index_document job for it.
func Submit(ctx context.Context, q Queue, doc storage.Document) (storage.Document, storage.Job, error) {
	doc.Content = Truncate(Clean(doc.Content))
	if doc.Content == "" {
		return storage.Document{}, storage.Job{}, fmt.Errorf("document %q has no text", doc.Title)
	}
	saved, err := q.SaveDocument(ctx, doc)
	if err != nil {
		return storage.Document{}, storage.Job{}, err
	}
	job, err := enqueueIndex(ctx, q, saved.ID)
	if err != nil {
		return storage.Document{}, storage.Job{}, err
	}
	return saved, job, nil
}

// EnqueueUnindexed enqueues index jobs for up to limit documents that have
// no vectors yet, such as the demo seed. It returns how many were queued.
func EnqueueUnindexed(ctx context.Context, b Backlog, limit int) (int, error) {
	docs, err := b.UnindexedDocuments(ctx, limit)
	if err != nil {
		return 0, err
	}
	for i, d := range docs {
		if _, err := enqueueIndex(ctx, b, d.ID); err != nil {
			return i, err
		}
	}
	return len(docs), nil
}
