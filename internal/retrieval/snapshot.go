package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/opsai/internal/storage"
)

const snapshotRows = 5

var (
	productWords    = []string{"producto", "productos", "stock", "inventario", "qué hay", "listar"}
	productionWords = []string{"fabricación", "producción", "orden", "mrp", "retras"}
)

// SnapshotSource is the business data a context snapshot reads.
type SnapshotSource interface {
	RecentProducts(ctx context.Context, limit int) ([]storage.Product, error)
	SearchMRPOrders(ctx context.Context, f storage.MRPFilter) ([]storage.MRPOrder, error)
}

// Snapshot returns a few lines of live data relevant to query: recently
// updated products for inventory questions, active manufacturing orders
// for production questions, and "" otherwise.
func Snapshot(ctx context.Context, src SnapshotSource, query string) (string, error) {
	q := strings.ToLower(query)
	switch {
	case containsAny(q, productWords):
		products, err := src.RecentProducts(ctx, snapshotRows)
		if err != nil {
			return "", fmt.Errorf("reading recent products: %w", err)
		}
		if len(products) == 0 {
			return "", nil
		}
		lines := []string{"Productos recientes:"}
		for _, p := range products {
			lines = append(lines, fmt.Sprintf("- [%d] %s: %s uds", p.ID, p.Name, formatQty(p.QtyAvailable)))
		}
		return strings.Join(lines, "\n"), nil

	case containsAny(q, productionWords):
		orders, err := src.SearchMRPOrders(ctx, storage.MRPFilter{
			States: []string{"confirmed", "progress"},
			Limit:  snapshotRows,
		})
		if err != nil {
			return "", fmt.Errorf("reading active orders: %w", err)
		}
		if len(orders) == 0 {
			return "", nil
		}
		lines := []string{"Órdenes activas:"}
		for _, o := range orders {
			lines = append(lines, fmt.Sprintf("- [%d] %s: %s (%s)", o.ID, o.Name, o.ProductName, o.State))
		}
		return strings.Join(lines, "\n"), nil
	}
	return "", nil
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func formatQty(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", f), "0"), ".")
}
