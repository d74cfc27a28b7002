// Package watchdog evaluates alert rules against the business data on a
// schedule and notifies users about what it finds.
package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/opsai/internal/metrics"
	"github.com/kalambet/opsai/internal/notify"
	"github.com/kalambet/opsai/internal/storage"
	"github.com/kalambet/opsai/internal/toolcall"
)

const (
	maxHits       = 100
	fetchLimit    = maxHits + 1
	namedInBody   = 3
	parallelRules = 4
)

var (
	openMRPStates      = []string{"confirmed", "progress"}
	lateSaleStates     = []string{"sale"}
	latePurchaseStates = []string{"purchase", "to approve"}
)

// Source is the business data the rules read. *storage.Store satisfies it.
type Source interface {
	SearchProducts(ctx context.Context, name string, limit int) ([]storage.Product, error)
	LowStockProducts(ctx context.Context, threshold float64, limit int) ([]storage.Product, error)
	SearchMRPOrders(ctx context.Context, f storage.MRPFilter) ([]storage.MRPOrder, error)
	ListOrders(ctx context.Context, kind storage.OrderKind, f storage.OrderFilter) ([]storage.Order, error)
}

// Store holds rules and receives notifications. *storage.Store satisfies it.
type Store interface {
	ListWatchdogRules(ctx context.Context, activeOnly bool) ([]storage.WatchdogRule, error)
	TouchWatchdogRule(ctx context.Context, id string, at time.Time) error
	CreateNotification(ctx context.Context, n storage.Notification) (storage.Notification, error)
}

// Publisher pushes new notifications to connected clients.
type Publisher interface {
	Publish(userID string, ev notify.Event)
}

// Finding is the result of evaluating one rule.
type Finding struct {
	Rule          string   `json:"rule"`
	Hits          int      `json:"hits"`
	Capped        bool     `json:"capped,omitempty"`
	Names         []string `json:"names,omitempty"`
	Notifications int      `json:"notifications"`
	Error         string   `json:"error,omitempty"`
}

// Watchdog evaluates the active rules.
type Watchdog struct {
	store      Store
	source     Source
	pub        Publisher
	recipients []string
	now        func() time.Time
	logger     *slog.Logger
}

// New creates a Watchdog. recipients receive the alerts of rules that name
// none of their own. pub may be nil.
func New(store Store, source Source, pub Publisher, recipients []string) *Watchdog {
	return &Watchdog{
		store:      store,
		source:     source,
		pub:        pub,
		recipients: recipients,
		now:        time.Now,
		logger:     slog.Default(),
	}
}

// RunOnce evaluates every active rule. A failing rule is reported in its
// Finding and does not stop the others.
func (w *Watchdog) RunOnce(ctx context.Context) ([]Finding, error) {
	rules, err := w.store.ListWatchdogRules(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}

	findings := make([]Finding, len(rules))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelRules)
	for i, rule := range rules {
		g.Go(func() error {
			f, err := w.Check(gctx, rule)
			if err != nil {
				w.logger.Error("watchdog rule failed", "rule", rule.Name, "error", err)
				f = Finding{Rule: rule.Name, Error: err.Error()}
			}
			findings[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return findings, err
	}
	return findings, ctx.Err()
}

// Check evaluates one rule, notifies its recipients about any hits and
// records the check time.
func (w *Watchdog) Check(ctx context.Context, rule storage.WatchdogRule) (Finding, error) {
	filter, err := decodeFilter(rule.FilterJSON)
	if err != nil {
		return Finding{}, fmt.Errorf("rule %s: %w", rule.Name, err)
	}
	now := w.now()

	names, err := w.evaluate(ctx, rule, filter, now)
	if err != nil {
		return Finding{}, fmt.Errorf("rule %s: %w", rule.Name, err)
	}
	// One record past maxHits means the real count is unknown.
	f := Finding{Rule: rule.Name, Capped: len(names) > maxHits}
	if f.Capped {
		names = names[:maxHits]
	}
	f.Hits = len(names)
	if len(names) > 0 {
		f.Names = names[:min(len(names), namedInBody)]
		metrics.RecordWatchdogHits(ctx, rule.Name, len(names))
		n, err := w.notify(ctx, rule, filter, names, f.Capped)
		f.Notifications = n
		if err != nil {
			return f, err
		}
	}
	if err := w.store.TouchWatchdogRule(ctx, rule.ID, now); err != nil {
		return f, fmt.Errorf("updating last check of %s: %w", rule.Name, err)
	}
	w.logger.Info("watchdog rule checked", "rule", rule.Name, "hits", f.Hits)
	return f, nil
}

// evaluate returns the display names of the records that trip the rule.
func (w *Watchdog) evaluate(ctx context.Context, rule storage.WatchdogRule, filter Filter, now time.Time) ([]string, error) {
	cutoff := now.Add(-time.Duration(rule.Threshold * float64(24*time.Hour)))

	switch rule.CheckType {
	case DateDelay:
		switch rule.Target {
		case TargetMRPOrders:
			return w.mrpNames(ctx, storage.MRPFilter{
				States:         statesOr(filter.State, openMRPStates),
				DeadlineBefore: cutoff,
				Name:           filter.Name,
				Limit:          fetchLimit,
			})
		case TargetSaleOrders:
			return w.orderNames(ctx, storage.SaleOrders, storage.OrderFilter{
				States: statesOr(filter.State, lateSaleStates), Partner: filter.Name, DueBefore: cutoff,
			})
		case TargetPurchaseOrders:
			return w.orderNames(ctx, storage.PurchaseOrders, storage.OrderFilter{
				States: statesOr(filter.State, latePurchaseStates), Partner: filter.Name, DueBefore: cutoff,
			})
		}
	case StockLevel:
		products, err := w.source.LowStockProducts(ctx, rule.Threshold, fetchLimit)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, p := range products {
			if filter.Name != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Name)) {
				continue
			}
			names = append(names, fmt.Sprintf("%s (%s uds)", p.Name, formatQty(p.QtyAvailable)))
		}
		return names, nil
	case CustomFilter:
		switch rule.Target {
		case TargetMRPOrders:
			return w.mrpNames(ctx, storage.MRPFilter{States: filter.State, Name: filter.Name, Limit: fetchLimit})
		case TargetSaleOrders:
			return w.orderNames(ctx, storage.SaleOrders, storage.OrderFilter{States: filter.State, Partner: filter.Name})
		case TargetPurchaseOrders:
			return w.orderNames(ctx, storage.PurchaseOrders, storage.OrderFilter{States: filter.State, Partner: filter.Name})
		case TargetProducts:
			products, err := w.source.SearchProducts(ctx, filter.Name, fetchLimit)
			if err != nil {
				return nil, err
			}
			names := make([]string, 0, len(products))
			for _, p := range products {
				names = append(names, p.Name)
			}
			return names, nil
		}
	}
	return nil, fmt.Errorf("unsupported check %s on %s", rule.CheckType, rule.Target)
}

func (w *Watchdog) mrpNames(ctx context.Context, f storage.MRPFilter) ([]string, error) {
	orders, err := w.source.SearchMRPOrders(ctx, f)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(orders))
	for _, o := range orders {
		names = append(names, fmt.Sprintf("%s (%s)", o.Name, o.ProductName))
	}
	return names, nil
}

func (w *Watchdog) orderNames(ctx context.Context, kind storage.OrderKind, f storage.OrderFilter) ([]string, error) {
	orders, err := w.source.ListOrders(ctx, kind, f)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(orders))
	for _, o := range orders {
		if o.PartnerName != "" {
			names = append(names, fmt.Sprintf("%s (%s)", o.Name, o.PartnerName))
			continue
		}
		names = append(names, o.Name)
	}
	if len(names) > fetchLimit {
		names = names[:fetchLimit]
	}
	return names, nil
}

func (w *Watchdog) notify(ctx context.Context, rule storage.WatchdogRule, filter Filter, names []string, capped bool) (int, error) {
	recipients := rule.Recipients
	if len(recipients) == 0 {
		recipients = w.recipients
	}
	if len(recipients) == 0 {
		w.logger.Warn("watchdog rule has no recipients", "rule", rule.Name)
		return 0, nil
	}

	title, body, kind := message(rule, names, capped)
	payload, err := json.Marshal(followUp(rule, filter))
	if err != nil {
		return 0, fmt.Errorf("encoding action payload: %w", err)
	}

	sent := 0
	for _, userID := range recipients {
		n, err := w.store.CreateNotification(ctx, storage.Notification{
			UserID:        userID,
			Title:         title,
			Body:          body,
			Type:          kind,
			ActionPayload: string(payload),
		})
		if err != nil {
			return sent, fmt.Errorf("notifying %s: %w", userID, err)
		}
		sent++
		if w.pub != nil {
			w.pub.Publish(userID, notify.Event{Type: notify.EventNewNotification, NotificationID: n.ID})
		}
	}
	return sent, nil
}

// message renders the notification title, HTML body and type for a rule.
// A capped count is shown as "N+".
func message(rule storage.WatchdogRule, names []string, capped bool) (title, body, kind string) {
	count := strconv.Itoa(len(names))
	if capped {
		count += "+"
	}
	shown := make([]string, 0, namedInBody)
	for _, n := range names[:min(len(names), namedInBody)] {
		shown = append(shown, html.EscapeString(n))
	}
	list := strings.Join(shown, ", ")
	name := html.EscapeString(rule.Name)

	switch rule.CheckType {
	case DateDelay:
		return fmt.Sprintf("⚠️ %s Retrasos en %s", count, rule.Name),
			fmt.Sprintf("<p>Se han detectado %s registros retrasados en %s: <b>%s</b>...</p>", count, name, list),
			"warning"
	case StockLevel:
		return fmt.Sprintf("⚠️ %s Productos con stock bajo en %s", count, rule.Name),
			fmt.Sprintf("<p>%s productos están en o por debajo de %s unidades: <b>%s</b>...</p>", count, formatQty(rule.Threshold), list),
			"warning"
	default:
		return fmt.Sprintf("🔔 %s Registros en %s", count, rule.Name),
			fmt.Sprintf("<p>%s registros cumplen el filtro de %s: <b>%s</b>...</p>", count, name, list),
			"action"
	}
}

// followUp is the safe tool call attached to a notification so the user can
// open the matching records with one click.
func followUp(rule storage.WatchdogRule, filter Filter) toolcall.Invocation {
	state := func() any {
		if len(filter.State) == 1 {
			return filter.State[0]
		}
		if len(filter.State) > 1 {
			return []string(filter.State)
		}
		return ""
	}
	switch rule.Target {
	case TargetMRPOrders:
		if rule.CheckType == DateDelay {
			return toolcall.New(toolcall.SearchMRPOrders, map[string]any{"state": "delayed"})
		}
		return toolcall.New(toolcall.SearchMRPOrders, map[string]any{"state": state()})
	case TargetSaleOrders:
		return toolcall.New(toolcall.SearchSaleOrders, map[string]any{"state": state(), "partner_name": filter.Name})
	case TargetPurchaseOrders:
		return toolcall.New(toolcall.SearchPurchaseOrders, map[string]any{"state": state(), "partner_name": filter.Name})
	default:
		return toolcall.New(toolcall.SearchProducts, map[string]any{"name": filter.Name})
	}
}

func statesOr(states States, fallback []string) []string {
	if len(states) > 0 {
		return states
	}
	return fallback
}

func formatQty(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.2f", f)
}
