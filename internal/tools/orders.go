package tools

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/kalambet/opsai/internal/storage"
)

// orderBook describes how one trade order book is summarized.
type orderBook struct {
	kind  storage.OrderKind
	title string
	// states lists the state codes in display order.
	states []string
	// lateStates are the states in which an order past its due date counts
	// as delayed.
	lateStates []string
}

var (
	saleBook = orderBook{
		kind:       storage.SaleOrders,
		title:      "Ventas",
		states:     []string{"draft", "sent", "sale", "done", "cancel"},
		lateStates: []string{"sale"},
	}
	purchaseBook = orderBook{
		kind:       storage.PurchaseOrders,
		title:      "Compras",
		states:     []string{"draft", "sent", "to approve", "purchase", "done", "cancel"},
		lateStates: []string{"purchase", "to approve"},
	}
)

const dateLayout = "2006-01-02"

func (e *Executor) summarizeOrders(ctx context.Context, book orderBook, params map[string]any) Result {
	f := storage.OrderFilter{
		States:  statesParam(params["state"]),
		Partner: stringParam(params, "partner_name", "partner"),
	}
	for key, dst := range map[string]*time.Time{"date_from": &f.From, "date_to": &f.To} {
		v := stringParam(params, key)
		if v == "" {
			continue
		}
		t, err := time.ParseInLocation(dateLayout, v, time.Local)
		if err != nil {
			return Result{Response: fmt.Sprintf("❌ Fecha inválida en %s: %q (formato AAAA-MM-DD)", key, v)}
		}
		*dst = t
	}

	orders, err := e.repo.ListOrders(ctx, book.kind, f)
	if err != nil {
		return Result{Response: fmt.Sprintf("❌ Error consultando %s: %v", strings.ToLower(book.title), err)}
	}
	return Result{Response: book.render(orders, e.now())}
}

func (b orderBook) render(orders []storage.Order, now time.Time) string {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	var total float64
	counts := make(map[string]int)
	var late []storage.Order
	for _, o := range orders {
		total += o.AmountTotal
		counts[o.State]++
		if !o.DueDate.IsZero() && o.DueDate.Before(today) && slices.Contains(b.lateStates, o.State) {
			late = append(late, o)
		}
	}

	lines := []string{
		fmt.Sprintf("🧾 %s: %d pedidos", b.title, len(orders)),
		fmt.Sprintf("💶 Total importe: %s", num(round2(total))),
		fmt.Sprintf("⚠️ Retrasadas: %d", len(late)),
		"Estados:",
	}
	for _, st := range b.states {
		if n, ok := counts[st]; ok {
			lines = append(lines, fmt.Sprintf("• %s: %d", st, n))
		}
	}

	top := append([]storage.Order(nil), orders...)
	sort.SliceStable(top, func(i, j int) bool { return top[i].AmountTotal > top[j].AmountTotal })
	if len(top) > 0 {
		lines = append(lines, "Top por importe:")
		for _, o := range first(top, topOrders) {
			lines = append(lines, fmt.Sprintf("• [%d] %s - %s - %s", o.ID, o.Name, partnerLabel(o), num(o.AmountTotal)))
		}
	}

	sort.SliceStable(late, func(i, j int) bool { return late[i].DueDate.Before(late[j].DueDate) })
	if len(late) > 0 {
		lines = append(lines, "Top por retraso:")
		for _, o := range first(late, topOrders) {
			lines = append(lines, fmt.Sprintf("• [%d] %s - %s - %s", o.ID, o.Name, partnerLabel(o), o.DueDate.Format(dateLayout)))
		}
	}
	return strings.Join(lines, "\n")
}

func partnerLabel(o storage.Order) string {
	if o.PartnerName == "" {
		return "N/A"
	}
	return o.PartnerName
}

func first(orders []storage.Order, n int) []storage.Order {
	if len(orders) > n {
		return orders[:n]
	}
	return orders
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
