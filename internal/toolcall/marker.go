package toolcall

import (
	"encoding/json"
	"regexp"
	"strings"
)

var actionMarker = regexp.MustCompile(`(?s)\[\[ACTION_DATA:\s*(.*?)\s*\]\]`)

// Marker is a proposed record mutation embedded in assistant text as
// [[ACTION_DATA: {...}]].
type Marker struct {
	Model    string         `json:"model"`
	Function string         `json:"function"`
	Vals     map[string]any `json:"vals"`
}

// ExtractMarkers returns text with every action marker removed and the
// markers whose payload decodes to a JSON object. Payloads that carry
// {"tool", "params"} directly are accepted too and mapped onto the tool's
// entity and operation.
func ExtractMarkers(text string) (string, []Marker) {
	if text == "" {
		return "", nil
	}
	var markers []Marker
	for _, m := range actionMarker.FindAllStringSubmatch(text, -1) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(m[1]), &obj); err != nil {
			continue
		}
		if inv, ok := Normalize(obj); ok && inv.Kind() != Unknown && inv.Kind() != Message {
			markers = append(markers, Marker{
				Model:    inv.Kind().Entity(),
				Function: string(inv.Kind().Operation()),
				Vals:     inv.Params,
			})
			continue
		}
		mk := Marker{Function: string(OpCreate)}
		if s, ok := obj["model"].(string); ok {
			mk.Model = s
		}
		if s, ok := obj["function"].(string); ok && s != "" {
			mk.Function = s
		}
		if vals, ok := obj["vals"].(map[string]any); ok {
			mk.Vals = vals
		}
		markers = append(markers, mk)
	}
	clean := strings.TrimSpace(actionMarker.ReplaceAllString(text, ""))
	return clean, markers
}

// entityAliases maps host-system model names onto tool entities.
var entityAliases = map[string]string{
	"product.product":  "product",
	"product.template": "product",
	"mrp.bom":          "bom",
	"mrp.production":   "mrp_order",
	"stock.quant":      "stock_quant",
}

// Invocation resolves the marker to the mutating tool that performs it.
func (m Marker) Invocation() (Invocation, bool) {
	entity := m.Model
	if alias, ok := entityAliases[entity]; ok {
		entity = alias
	}
	op := Operation(m.Function)
	for _, t := range All() {
		if t.Safe() || t == Message {
			continue
		}
		if t.Entity() != entity {
			continue
		}
		// Stock adjustments set an absolute quantity, so create and write
		// requests on quants are the same operation.
		if t.Operation() == op || t == AdjustStock {
			params := make(map[string]any, len(m.Vals))
			for k, v := range m.Vals {
				params[k] = v
			}
			return New(t, params), true
		}
	}
	return Invocation{}, false
}
