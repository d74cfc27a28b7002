// Package experts selects the persona that governs a model call: a system
// prompt plus the subset of tools the model may ask for.
package experts

import (
	"strings"
	"unicode"

	"github.com/kalambet/opsai/internal/toolcall"
)

// Profile is a persona bundle.
type Profile struct {
	Name   string
	Prompt string
	Tools  []toolcall.Tool
}

// Menu returns the profile's tools with their usage lines, in menu order.
func (p Profile) Menu() []MenuItem {
	out := make([]MenuItem, 0, len(p.Tools))
	for _, t := range p.Tools {
		out = append(out, MenuItem{Name: t.String(), Usage: usage(t)})
	}
	return out
}

// Allows reports whether t is on the profile's menu.
func (p Profile) Allows(t toolcall.Tool) bool {
	for _, x := range p.Tools {
		if x == t {
			return true
		}
	}
	return false
}

// MenuItem is one bullet of the tool menu shown to the model.
type MenuItem struct {
	Name  string
	Usage string
}

type bucket struct {
	keywords []string
	profile  Profile
}

// buckets are evaluated in order; the first bucket with a keyword in the
// utterance wins.
var buckets = []bucket{
	{
		keywords: []string{"fabricar", "fabricación", "fabricacion", "producción", "produccion", "orden", "órdenes", "ordenes", "mo", "lista de materiales", "bom", "componentes"},
		profile: Profile{
			Name:   "Manufacturing Lead",
			Prompt: "Eres el EXPERTO EN MANUFACTURA.\nTu misión es que la producción fluya sin interrupciones: listas de materiales, órdenes de fabricación y capacidad de planta.\nSi falta material, sugiere revisar el stock o crear los productos que falten.\nSi hay retrasos, busca las órdenes retrasadas y propone acciones.\n\nREGLA IMPORTANTE: Usa SIEMPRE \"params\" y NUNCA \"parameters\" en el JSON de las herramientas.",
			Tools: []toolcall.Tool{
				toolcall.SearchProducts, toolcall.CreateProduct, toolcall.CreateBoM,
				toolcall.SearchMRPOrders, toolcall.CreateMRPOrder, toolcall.Message,
			},
		},
	},
	{
		keywords: []string{"stock", "inventario", "cantidad", "almacén", "almacen", "ubicación", "ubicacion", "lote"},
		profile: Profile{
			Name:   "Inventory Manager",
			Prompt: "Eres el EXPERTO EN INVENTARIO Y LOGÍSTICA.\nTu misión es mantener el stock exacto.\nCuando te pregunten por cantidades, sé preciso con las ubicaciones.\nPuedes crear productos que no existan y ajustar sus niveles de stock.\n\nREGLA IMPORTANTE: Usa SIEMPRE \"params\" y NUNCA \"parameters\" en el JSON de las herramientas.",
			Tools: []toolcall.Tool{
				toolcall.SearchProducts, toolcall.CreateProduct, toolcall.AdjustStock, toolcall.Message,
			},
		},
	},
	{
		keywords: []string{"mejorar", "analiz", "eficiencia", "retraso", "retrasos", "problema", "optimizar", "kaizen"},
		profile: Profile{
			Name:   "Kaizen Analyst",
			Prompt: "Eres el CONSULTOR KAIZEN (mejora continua).\nAnaliza los retrasos buscando órdenes con state='delayed'.\nPropón soluciones: ante un retraso pregunta \"¿por qué?\" y sugiere acciones correctivas.\n\nREGLA IMPORTANTE: Usa SIEMPRE \"params\" y NUNCA \"parameters\" en el JSON de las herramientas.",
			Tools: []toolcall.Tool{
				toolcall.SearchMRPOrders, toolcall.SearchProducts, toolcall.CreateMRPOrder, toolcall.Message,
			},
		},
	},
}

var generalist = Profile{
	Name:   "Assistant",
	Prompt: "Eres el ASISTENTE GENERAL de Operaciones.\nAyudas con consultas generales: productos, estado de la producción, documentación y correo.\nSi la consulta se vuelve muy técnica, responde con lo que sabes.\n\nREGLA IMPORTANTE: Usa SIEMPRE \"params\" y NUNCA \"parameters\" en el JSON de las herramientas.",
	Tools: []toolcall.Tool{
		toolcall.SearchProducts, toolcall.CreateProduct, toolcall.SearchMRPOrders,
		toolcall.SearchDocs, toolcall.SearchMail, toolcall.Message,
	},
}

// Route picks the persona for query. It never fails: when no bucket
// matches, the generalist persona is returned.
func Route(query string) Profile {
	lower := strings.ToLower(query)
	ws := tokenize(lower)
	for _, b := range buckets {
		if matchesAny(lower, ws, b.keywords) {
			return b.profile
		}
	}
	return generalist
}

// Profiles lists every persona, generalist last.
func Profiles() []Profile {
	out := make([]Profile, 0, len(buckets)+1)
	for _, b := range buckets {
		out = append(out, b.profile)
	}
	return append(out, generalist)
}

// matchesAny checks keywords against the utterance. Multi-word keywords
// match as phrases; keywords of three letters or fewer must be whole words
// and longer ones match as prefixes of a word.
func matchesAny(lower string, ws []string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(k, " ") {
			if strings.Contains(lower, k) {
				return true
			}
			continue
		}
		for _, w := range ws {
			if w == k || (len([]rune(k)) > 3 && strings.HasPrefix(w, k)) {
				return true
			}
		}
	}
	return false
}

func tokenize(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func usage(t toolcall.Tool) string {
	params := t.Params()
	if len(params) == 0 {
		return t.Description()
	}
	return t.Description() + " (params: " + strings.Join(params, ", ") + ")"
}
