package intent

import (
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/opsai/internal/toolcall"
)

var (
	inventoryKeywords  = []string{"inventario", "existencias", "stock"}
	productionKeywords = []string{"orden", "órdenes", "ordenes", "fabricación", "fabricacion", "producción", "produccion", "mrp"}
	mutatingVerbs      = []string{
		"ajusta", "ajustar", "ajustes", "pon", "poner", "actualiza", "actualizar",
		"cambia", "cambiar", "añade", "añadir", "suma", "sumar", "resta", "restar",
		"establece", "establecer", "fija", "fijar",
	}

	filterAfterOf = regexp.MustCompile(`(?i)\b(?:de|del)\s+(?:los\s+|las\s+|el\s+|la\s+)?([^,;.]+)`)
	genericNouns  = map[string]bool{
		"producto": true, "productos": true, "todo": true, "todos": true,
		"almacén": true, "almacen": true, "inventario": true, "stock": true,
	}
)

// ParseInventory recognizes stock listings such as "stock de harina" or
// "haz inventario". Requests that change stock are left to the model.
func ParseInventory(text string, _ time.Time) (toolcall.Invocation, bool) {
	lower := strings.ToLower(normalize(text))
	ws := words(lower)
	if !anyWord(ws, inventoryKeywords...) {
		return toolcall.Invocation{}, false
	}
	if hasCreationVerb(ws) || anyWord(ws, mutatingVerbs...) || anyWord(ws, productionKeywords...) {
		return toolcall.Invocation{}, false
	}

	name := ""
	if idx := firstKeyword(lower, inventoryKeywords); idx >= 0 {
		if m := filterAfterOf.FindStringSubmatch(lower[idx:]); m != nil {
			name = cleanName(m[1])
		}
	}
	if genericNouns[name] {
		name = ""
	}
	return toolcall.New(toolcall.SearchProducts, map[string]any{"name": name}), true
}

// ParseProduction recognizes manufacturing-order listings. "retrasadas"
// selects the delayed view.
func ParseProduction(text string, _ time.Time) (toolcall.Invocation, bool) {
	lower := strings.ToLower(normalize(text))
	ws := words(lower)
	if !anyWord(ws, productionKeywords...) {
		return toolcall.Invocation{}, false
	}
	if hasCreationVerb(ws) || anyWord(ws, "fabrica", "fabricar", "lanza", "lanzar") {
		return toolcall.Invocation{}, false
	}
	// Purchase and sale orders have their own parsers.
	if anyWord(ws, "compra", "compras", "venta", "ventas") {
		return toolcall.Invocation{}, false
	}
	return toolcall.New(toolcall.SearchMRPOrders, map[string]any{"state": productionState(lower, ws)}), true
}

func productionState(lower string, ws map[string]bool) string {
	switch {
	case strings.Contains(lower, "retras"):
		return "delayed"
	case strings.Contains(lower, "confirmad"):
		return "confirmed"
	case strings.Contains(lower, "en curso") || strings.Contains(lower, "progreso"):
		return "progress"
	case strings.Contains(lower, "borrador") || ws["draft"]:
		return "draft"
	case anySubstring(lower, "terminad", "finalizad", "hechas") || ws["done"]:
		return "done"
	case strings.Contains(lower, "cancel"):
		return "cancel"
	default:
		return ""
	}
}

// ParseDocs routes documentation questions to semantic document search.
func ParseDocs(text string, _ time.Time) (toolcall.Invocation, bool) {
	lower := strings.ToLower(text)
	ws := words(lower)
	if !anySubstring(lower, "documentación", "documentacion", "documento", "manual", "procedimiento") && !ws["docs"] {
		return toolcall.Invocation{}, false
	}
	return toolcall.New(toolcall.SearchDocs, map[string]any{"query": strings.TrimSpace(text)}), true
}

// ParseMail routes mailbox questions to semantic mail search.
func ParseMail(text string, _ time.Time) (toolcall.Invocation, bool) {
	ws := words(text)
	if !anyWord(ws, "correo", "correos", "mail", "mails", "email", "emails", "bandeja", "inbox") {
		return toolcall.Invocation{}, false
	}
	return toolcall.New(toolcall.SearchMail, map[string]any{"query": strings.TrimSpace(text)}), true
}

func firstKeyword(lower string, keywords []string) int {
	best := -1
	for _, k := range keywords {
		if i := strings.Index(lower, k); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}
