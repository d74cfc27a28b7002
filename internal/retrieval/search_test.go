package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/opsai/internal/storage"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// keyedSource embeds a handful of known texts to fixed vectors.
type keyedSource map[string][]float32

func (k keyedSource) Embed(_ context.Context, text, _ string) []float32 {
	return k[text]
}

func TestSearcher_Semantic(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	vectors := NewSQLiteStore(s.DB())

	manual, err := s.SaveDocument(ctx, storage.Document{Source: "docs", Title: "Manual mesa", Content: "Montaje de la mesa de roble"})
	require.NoError(t, err)
	mail, err := s.SaveDocument(ctx, storage.Document{Source: "mail", Title: "Retraso", Content: "El pedido llega tarde"})
	require.NoError(t, err)

	require.NoError(t, vectors.Insert(ctx, []Record{
		{ID: "v1", SourceID: manual.ID, SourceType: "docs", TextChunk: "Montaje de la mesa", Embedding: []float32{1, 0}},
		{ID: "v2", SourceID: manual.ID, SourceType: "docs", TextChunk: "de roble", Embedding: []float32{0.9, 0.1}},
		{ID: "v3", SourceID: mail.ID, SourceType: "mail", TextChunk: "El pedido llega tarde", Embedding: []float32{1, 0}},
	}))

	searcher := NewSearcher(NewEmbedder(keyedSource{"montar mesa": {1, 0}}, ""), vectors, s)
	hits, err := searcher.SearchDocuments(ctx, "docs", "montar mesa", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1, "chunks of one document collapse into one hit")
	assert.Equal(t, manual.ID, hits[0].DocumentID)
	assert.Equal(t, "Manual mesa", hits[0].Title)
	assert.Equal(t, "Montaje de la mesa", hits[0].Content)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestSearcher_KeywordFallback(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	_, err := s.SaveDocument(ctx, storage.Document{Source: "mail", Title: "Proveedor", Content: "Las patas de roble llegan el lunes"})
	require.NoError(t, err)

	searcher := NewSearcher(NewEmbedder(keyedSource{}, ""), NewSQLiteStore(s.DB()), s)

	hits, err := searcher.SearchDocuments(ctx, "mail", "¿cuándo llegan las patas?", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Proveedor", hits[0].Title)

	_, err = searcher.SearchDocuments(ctx, "mail", "factura pendiente", 5)
	assert.True(t, errors.Is(err, ErrNoEmbedding), "no vector and no keyword match: %v", err)

	hits, err = searcher.SearchDocuments(ctx, "docs", "patas", 5)
	assert.True(t, errors.Is(err, ErrNoEmbedding))
	assert.Empty(t, hits)
}

func TestSearcher_EmbeddedButNothingIndexed(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	_, err := s.SaveDocument(ctx, storage.Document{Source: "docs", Title: "Normas", Content: "Normas de seguridad del taller"})
	require.NoError(t, err)

	searcher := NewSearcher(NewEmbedder(keyedSource{"seguridad": {1, 1}, "vacaciones": {1, 1}}, ""), NewSQLiteStore(s.DB()), s)
	hits, err := searcher.SearchDocuments(ctx, "docs", "seguridad", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = searcher.SearchDocuments(ctx, "docs", "vacaciones", 5)
	require.NoError(t, err, "embedding worked, so an empty result is not a failure")
	assert.Empty(t, hits)
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"cuándo", "llegan", "patas"}, Terms("¿Cuándo llegan las PATAS? patas"))
	assert.Empty(t, Terms("el de la"))
}

func TestSnapshot(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	got, err := Snapshot(ctx, s, "qué hay en el inventario")
	require.NoError(t, err)
	assert.Empty(t, got, "no products yet")

	mesa, err := s.CreateProduct(ctx, storage.Product{Name: "Mesa"})
	require.NoError(t, err)
	loc, _ := s.DefaultLocation(ctx)
	require.NoError(t, s.SetStock(ctx, mesa.ID, loc.ID, 12.5))

	got, err = Snapshot(ctx, s, "Dame el STOCK")
	require.NoError(t, err)
	assert.Equal(t, "Productos recientes:\n- [1] Mesa: 12.5 uds", got)

	_, err = s.CreateMRPOrder(ctx, storage.MRPOrder{ProductID: mesa.ID, Quantity: 3, State: "confirmed", Deadline: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	_, err = s.CreateMRPOrder(ctx, storage.MRPOrder{ProductID: mesa.ID, Quantity: 1})
	require.NoError(t, err)

	got, err = Snapshot(ctx, s, "¿hay fabricaciones retrasadas?")
	require.NoError(t, err)
	assert.Equal(t, "Órdenes activas:\n- [1] MO/00001: Mesa (confirmed)", got)

	got, err = Snapshot(ctx, s, "hola")
	require.NoError(t, err)
	assert.Empty(t, got)
}
