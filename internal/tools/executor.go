// Package tools executes tool invocations against the business data and
// renders the outcome as short Spanish text for the chat.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/opsai/internal/metrics"
	"github.com/kalambet/opsai/internal/retrieval"
	"github.com/kalambet/opsai/internal/storage"
	"github.com/kalambet/opsai/internal/toolcall"
)

const (
	productPageSize = 15
	orderPageSize   = 10
	topOrders       = 10
	documentHits    = 5
)

// Repository is the business-data store the executor reads and writes.
type Repository interface {
	SearchProducts(ctx context.Context, name string, limit int) ([]storage.Product, error)
	GetProduct(ctx context.Context, id int64) (storage.Product, error)
	CreateProduct(ctx context.Context, p storage.Product) (storage.Product, error)
	CreateBoM(ctx context.Context, productID int64, lines []storage.BoMLine) (storage.BoM, error)
	FindBoM(ctx context.Context, productID int64) (storage.BoM, error)
	SearchMRPOrders(ctx context.Context, f storage.MRPFilter) ([]storage.MRPOrder, error)
	CreateMRPOrder(ctx context.Context, o storage.MRPOrder) (storage.MRPOrder, error)
	DefaultLocation(ctx context.Context) (storage.Location, error)
	SetStock(ctx context.Context, productID, locationID int64, qty float64) error
	ListOrders(ctx context.Context, kind storage.OrderKind, f storage.OrderFilter) ([]storage.Order, error)
}

// DocumentSearcher finds indexed documents or mail relevant to a query.
type DocumentSearcher interface {
	SearchDocuments(ctx context.Context, source, query string, limit int) ([]retrieval.Hit, error)
}

// Result is the outcome of one tool execution. Response is user-facing text;
// Error is set only when execution itself failed unexpectedly.
type Result struct {
	Response  string `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
	CreatedID int64  `json:"created_id,omitempty"`
}

// Failed reports whether the result describes a failure.
func (r Result) Failed() bool {
	return r.Error != "" || strings.HasPrefix(r.Response, "❌")
}

// Executor performs tool invocations. Each call issues at most one write to
// the repository.
type Executor struct {
	repo Repository
	docs DocumentSearcher
	now  func() time.Time
}

// NewExecutor creates an Executor. docs may be nil, in which case document
// and mail search report that search is not configured.
func NewExecutor(repo Repository, docs DocumentSearcher) *Executor {
	return &Executor{repo: repo, docs: docs, now: time.Now}
}

// Execute runs inv and never returns a Go error: validation problems and
// repository failures come back as user-facing text.
func (e *Executor) Execute(ctx context.Context, inv toolcall.Invocation) Result {
	params := inv.Params
	if params == nil {
		params = map[string]any{}
	}
	slog.Debug("executing tool", "tool", inv.Tool)

	var res Result
	kind := inv.Kind()
	switch kind {
	case toolcall.Message:
		content, _ := inv.Content()
		res = Result{Response: content}
	case toolcall.SearchProducts:
		res = e.searchProducts(ctx, params)
	case toolcall.CreateProduct:
		res = e.createProduct(ctx, params)
	case toolcall.CreateBoM:
		res = e.createBoM(ctx, params)
	case toolcall.SearchMRPOrders:
		res = e.searchMRPOrders(ctx, params)
	case toolcall.CreateMRPOrder:
		res = e.createMRPOrder(ctx, params)
	case toolcall.AdjustStock:
		res = e.adjustStock(ctx, params)
	case toolcall.SearchSaleOrders:
		res = e.summarizeOrders(ctx, saleBook, params)
	case toolcall.SearchPurchaseOrders:
		res = e.summarizeOrders(ctx, purchaseBook, params)
	case toolcall.SearchDocs:
		res = e.searchDocuments(ctx, "docs", params)
	case toolcall.SearchMail:
		res = e.searchDocuments(ctx, "mail", params)
	case toolcall.Unknown:
		res = Result{Response: fmt.Sprintf("Herramienta '%s' no implementada", inv.Tool)}
	}

	outcome := "ok"
	switch {
	case kind == toolcall.Unknown:
		outcome = "unknown"
	case res.Failed():
		outcome = "error"
	}
	metrics.RecordTool(ctx, inv.Tool, outcome)
	return res
}

func (e *Executor) searchProducts(ctx context.Context, params map[string]any) Result {
	name := stringParam(params, "name")
	products, err := e.repo.SearchProducts(ctx, name, productPageSize)
	if err != nil {
		return Result{Response: fmt.Sprintf("❌ Error buscando productos: %v", err)}
	}
	if len(products) == 0 {
		if name != "" {
			return Result{Response: fmt.Sprintf("No encontré productos con '%s'", name)}
		}
		return Result{Response: "No hay productos en el sistema. ¿Quieres crear uno?"}
	}

	lines := []string{fmt.Sprintf("📦 Encontré %d productos:", len(products))}
	for _, p := range products {
		stock := "Sin stock"
		if p.QtyAvailable != 0 {
			stock = "Stock: " + num(p.QtyAvailable)
		}
		lines = append(lines, fmt.Sprintf("• [%d] %s - %s - Precio: %s€", p.ID, p.Name, stock, num(p.Price)))
	}
	return Result{Response: strings.Join(lines, "\n")}
}

// productTypes maps free-text type synonyms to canonical type codes.
var productTypes = map[string]string{
	"consu":       "consu",
	"consumible":  "consu",
	"alimento":    "consu",
	"alimenticio": "consu",
	"product":     "product",
	"producto":    "product",
	"almacenable": "product",
	"stock":       "product",
	"service":     "service",
	"servicio":    "service",
}

// ProductType resolves a type synonym, defaulting to consu.
func ProductType(synonym string) string {
	if t, ok := productTypes[strings.ToLower(strings.TrimSpace(synonym))]; ok {
		return t
	}
	return "consu"
}

func (e *Executor) createProduct(ctx context.Context, params map[string]any) Result {
	name := stringParam(params, "name")
	if name == "" {
		return Result{Response: "❌ Necesito el nombre del producto"}
	}
	price, _, _ := floatParam(params, "price", "list_price")
	cost, _, _ := floatParam(params, "cost", "standard_price")

	p, err := e.repo.CreateProduct(ctx, storage.Product{
		Name:  name,
		Type:  ProductType(stringParam(params, "type")),
		Price: price,
		Cost:  cost,
	})
	if err != nil {
		return Result{Response: fmt.Sprintf("❌ Error creando producto: %v", err)}
	}
	return Result{
		Response: fmt.Sprintf("✅ Producto creado:\n• ID: %d\n• Nombre: %s\n• Precio: %s€\n• Coste: %s€",
			p.ID, p.Name, num(p.Price), num(p.Cost)),
		CreatedID: p.ID,
	}
}

// lookupProduct resolves the product_id parameter. The returned Result is
// non-empty when the caller should stop and report it.
func (e *Executor) lookupProduct(ctx context.Context, params map[string]any, missing string) (storage.Product, Result) {
	id, ok := idParam(params, "product_id")
	if !ok {
		if raw, exists := params["product_id"]; exists && raw != nil && raw != "" {
			return storage.Product{}, Result{Response: fmt.Sprintf("❌ Producto %v no existe", raw)}
		}
		return storage.Product{}, Result{Response: missing}
	}
	p, err := e.repo.GetProduct(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Product{}, Result{Response: fmt.Sprintf("❌ Producto %d no existe", id)}
	}
	if err != nil {
		return storage.Product{}, Result{Response: fmt.Sprintf("❌ Error leyendo producto %d: %v", id, err)}
	}
	return p, Result{}
}

func (e *Executor) createBoM(ctx context.Context, params map[string]any) Result {
	if _, ok := params["product_id"]; !ok {
		return Result{Response: "❌ Necesito el ID del producto para crear la BoM"}
	}
	raw, _ := params["components"].([]any)
	if len(raw) == 0 {
		return Result{Response: "❌ Necesito la lista de componentes"}
	}
	product, stop := e.lookupProduct(ctx, params, "❌ Necesito el ID del producto para crear la BoM")
	if stop.Response != "" {
		return stop
	}

	var lines []storage.BoMLine
	for _, c := range raw {
		comp, ok := c.(map[string]any)
		if !ok {
			continue
		}
		id, ok := idParam(comp, "product_id")
		if !ok {
			continue
		}
		qty, ok, present := floatParam(comp, "qty", "quantity", "product_qty")
		if !present {
			qty, ok = 1, true
		}
		if !ok || qty <= 0 {
			continue
		}
		lines = append(lines, storage.BoMLine{ProductID: id, Qty: qty})
	}
	if len(lines) == 0 {
		return Result{Response: "❌ Ningún componente válido: cada uno necesita product_id y qty"}
	}

	bom, err := e.repo.CreateBoM(ctx, product.ID, lines)
	if err != nil {
		return Result{Response: fmt.Sprintf("❌ Error creando BoM: %v", err)}
	}
	return Result{
		Response: fmt.Sprintf("✅ Lista de materiales creada:\n• BoM ID: %d\n• Producto: %s\n• Componentes: %d",
			bom.ID, product.Name, len(lines)),
		CreatedID: bom.ID,
	}
}

// openMRPStates are the states in which a manufacturing order can be late.
var openMRPStates = []string{"confirmed", "progress"}

func (e *Executor) searchMRPOrders(ctx context.Context, params map[string]any) Result {
	state := stringParam(params, "state")
	f := storage.MRPFilter{Limit: orderPageSize}
	switch state {
	case "":
	case "delayed":
		f.States = openMRPStates
		f.DeadlineBefore = e.now()
	default:
		f.States = []string{state}
	}

	orders, err := e.repo.SearchMRPOrders(ctx, f)
	if err != nil {
		return Result{Response: fmt.Sprintf("❌ Error buscando órdenes: %v", err)}
	}
	if len(orders) == 0 {
		switch state {
		case "delayed":
			return Result{Response: "✅ No hay órdenes retrasadas."}
		case "":
			return Result{Response: "No hay órdenes de fabricación en el sistema"}
		}
		return Result{Response: fmt.Sprintf("No hay órdenes de fabricación en estado '%s'", state)}
	}

	label := ""
	if state == "delayed" {
		label = " retrasadas"
	}
	lines := []string{fmt.Sprintf("🏭 Encontré %d órdenes%s:", len(orders), label)}
	for _, o := range orders {
		deadline := "Sin fecha"
		if !o.Deadline.IsZero() {
			deadline = o.Deadline.Format("2006-01-02 15:04")
		}
		product := o.ProductName
		if product == "" {
			product = "N/A"
		}
		lines = append(lines, fmt.Sprintf("• [%d] %s - %s x%s (%s) - Límite: %s",
			o.ID, o.Name, product, num(o.Quantity), o.State, deadline))
	}
	return Result{Response: strings.Join(lines, "\n")}
}

func (e *Executor) createMRPOrder(ctx context.Context, params map[string]any) Result {
	product, stop := e.lookupProduct(ctx, params, "❌ Necesito el ID del producto para crear la orden")
	if stop.Response != "" {
		return stop
	}
	qty, ok, _ := floatParam(params, "quantity", "product_qty")
	if !ok || qty <= 0 {
		qty = 1
	}

	order := storage.MRPOrder{ProductID: product.ID, Quantity: qty}
	if id, ok := idParam(params, "bom_id"); ok {
		order.BoMID = id
	} else {
		bom, err := e.repo.FindBoM(ctx, product.ID)
		switch {
		case err == nil:
			order.BoMID = bom.ID
		case !errors.Is(err, storage.ErrNotFound):
			return Result{Response: fmt.Sprintf("❌ Error creando orden: %v", err)}
		}
	}

	mo, err := e.repo.CreateMRPOrder(ctx, order)
	if err != nil {
		return Result{Response: fmt.Sprintf("❌ Error creando orden: %v", err)}
	}
	return Result{
		Response: fmt.Sprintf("✅ Orden de fabricación creada:\n• %s\n• Producto: %s\n• Cantidad: %s",
			mo.Name, product.Name, num(qty)),
		CreatedID: mo.ID,
	}
}

func (e *Executor) adjustStock(ctx context.Context, params map[string]any) Result {
	const missing = "❌ Necesito product_id y quantity para ajustar stock"
	qty, ok, present := floatParam(params, "quantity", "qty")
	if !present {
		return Result{Response: missing}
	}
	product, stop := e.lookupProduct(ctx, params, missing)
	if stop.Response != "" {
		return stop
	}
	if !ok || qty < 0 {
		return Result{Response: fmt.Sprintf("❌ Cantidad inválida: %v", params["quantity"])}
	}

	loc, err := e.repo.DefaultLocation(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{Response: "❌ No hay ubicaciones de almacén configuradas"}
	}
	if err != nil {
		return Result{Response: fmt.Sprintf("❌ Error ajustando stock: %v", err)}
	}
	if err := e.repo.SetStock(ctx, product.ID, loc.ID, qty); err != nil {
		return Result{Response: fmt.Sprintf("❌ Error ajustando stock: %v", err)}
	}
	return Result{Response: fmt.Sprintf("✅ Stock ajustado:\n• Producto: %s\n• Nueva cantidad: %s", product.Name, num(qty))}
}

func (e *Executor) searchDocuments(ctx context.Context, source string, params map[string]any) Result {
	query := stringParam(params, "query", "q", "text")
	if query == "" {
		return Result{Response: "❌ Necesito el texto a buscar"}
	}
	if e.docs == nil {
		return Result{Response: "⚠️ La búsqueda de documentos no está configurada."}
	}
	hits, err := e.docs.SearchDocuments(ctx, source, query, documentHits)
	if errors.Is(err, retrieval.ErrNoEmbedding) {
		return Result{Response: "⚠️ No se pudo generar embedding."}
	}
	if err != nil {
		slog.Warn("document search failed", "source", source, "error", err)
		return Result{Response: "⚠️ Error consultando el índice de documentos."}
	}
	if len(hits) == 0 {
		return Result{Response: "No encontré resultados relevantes."}
	}

	lines := make([]string, 0, len(hits))
	for _, h := range hits {
		title := h.Title
		if title == "" {
			title = "(sin título)"
		}
		lines = append(lines, fmt.Sprintf("• %s — %s...", title, snippet(h.Content, 200)))
	}
	return Result{Response: strings.Join(lines, "\n")}
}

func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return strings.ReplaceAll(string(r), "\n", " ")
}
