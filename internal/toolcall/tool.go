package toolcall

import "strings"

// Tool identifies one of the operations the agent can request. The set is
// closed: adding a tool means adding a constant here and a case in every
// exhaustive switch over Tool (the executor dispatch in particular).
type Tool int

const (
	Unknown Tool = iota
	Message
	SearchProducts
	CreateProduct
	CreateBoM
	SearchMRPOrders
	CreateMRPOrder
	AdjustStock
	SearchSaleOrders
	SearchPurchaseOrders
	SearchDocs
	SearchMail
)

// Operation is the kind of effect a tool has on the business data.
type Operation string

const (
	OpRead   Operation = "read"
	OpCreate Operation = "create"
	OpWrite  Operation = "write"
)

type toolSpec struct {
	name        string
	description string
	params      []string
	op          Operation
	entity      string
}

var registry = map[Tool]toolSpec{
	Message:              {name: "message", description: "Responder al usuario con texto", params: []string{"content"}, op: OpRead},
	SearchProducts:       {name: "search_products", description: "Buscar productos por nombre (vacío = listar todos)", params: []string{"name"}, op: OpRead, entity: "product"},
	CreateProduct:        {name: "create_product", description: "Crear un nuevo producto", params: []string{"name", "price", "cost", "type"}, op: OpCreate, entity: "product"},
	CreateBoM:            {name: "create_bom", description: "Crear lista de materiales (BoM); components es una lista de {\"product_id\": ID, \"qty\": N}", params: []string{"product_id", "components"}, op: OpCreate, entity: "bom"},
	SearchMRPOrders:      {name: "search_mrp_orders", description: "Buscar órdenes de fabricación (state='delayed' para retrasos)", params: []string{"state"}, op: OpRead, entity: "mrp_order"},
	CreateMRPOrder:       {name: "create_mrp_order", description: "Crear orden de fabricación", params: []string{"product_id", "quantity"}, op: OpCreate, entity: "mrp_order"},
	AdjustStock:          {name: "adjust_stock", description: "Ajustar inventario de un producto", params: []string{"product_id", "quantity"}, op: OpWrite, entity: "stock_quant"},
	SearchSaleOrders:     {name: "search_sale_orders", description: "Resumen de pedidos de venta", params: []string{"state", "date_from", "date_to", "partner_name"}, op: OpRead, entity: "sale_order"},
	SearchPurchaseOrders: {name: "search_purchase_orders", description: "Resumen de pedidos de compra", params: []string{"state", "date_from", "date_to", "partner_name"}, op: OpRead, entity: "purchase_order"},
	SearchDocs:           {name: "search_docs", description: "Buscar en la documentación interna", params: []string{"query"}, op: OpRead, entity: "document"},
	SearchMail:           {name: "search_mail", description: "Buscar en el correo", params: []string{"query"}, op: OpRead, entity: "mail"},
}

var byName = func() map[string]Tool {
	m := make(map[string]Tool, len(registry))
	for t, s := range registry {
		m[s.name] = t
	}
	return m
}()

// Lookup resolves a wire name to a Tool. Unrecognized names yield Unknown.
func Lookup(name string) Tool {
	if t, ok := byName[strings.TrimSpace(name)]; ok {
		return t
	}
	return Unknown
}

// All returns every known tool in declaration order.
func All() []Tool {
	out := make([]Tool, 0, len(registry))
	for t := Message; t <= SearchMail; t++ {
		out = append(out, t)
	}
	return out
}

func (t Tool) String() string {
	if s, ok := registry[t]; ok {
		return s.name
	}
	return "unknown"
}

// Description is the one-line Spanish usage string shown to the model.
func (t Tool) Description() string { return registry[t].description }

// Params lists the parameter names the tool understands.
func (t Tool) Params() []string { return registry[t].params }

// Operation reports whether the tool reads, creates or writes.
func (t Tool) Operation() Operation { return registry[t].op }

// Entity is the business-data entity the tool targets.
func (t Tool) Entity() string { return registry[t].entity }

// Safe reports whether the tool is read-only and may run without approval.
// The message pseudo-tool is not dispatched and is never safe.
func (t Tool) Safe() bool {
	s, ok := registry[t]
	return ok && t != Message && s.op == OpRead
}

// Invocation is the canonical {tool, params} value recovered from model
// output or produced by a deterministic parser.
type Invocation struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

// New builds an Invocation for a known tool.
func New(t Tool, params map[string]any) Invocation {
	if params == nil {
		params = map[string]any{}
	}
	return Invocation{Tool: t.String(), Params: params}
}

// Kind resolves the invocation's tool name.
func (inv Invocation) Kind() Tool { return Lookup(inv.Tool) }

// Content returns the text carried by a message invocation.
func (inv Invocation) Content() (string, bool) {
	v, ok := inv.Params["content"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
