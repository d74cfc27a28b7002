package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/opsai/internal/toolcall"
)

var (
	priceField   = regexp.MustCompile(`(?i)(?:venta|precio|pvp|importe)\s*:?\s*([0-9]+(?:[.,][0-9]+)?)`)
	costField    = regexp.MustCompile(`(?i)(?:coste|costo|cost)\s*:?\s*([0-9]+(?:[.,][0-9]+)?)`)
	quotedName   = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	labeledName  = regexp.MustCompile(`(?i)\b(?:nombre|name)\s*:?\s*([^,;]+)`)
	productLabel = regexp.MustCompile(`(?i)\bproducto\s*:?\s*([^,;]+)`)
	leadingNoise = regexp.MustCompile(`(?i)^(?:\s*\b(?:crear|crea|creame|créame|cree|producto|un|una|nuevo|nueva)\b\s*:?)+`)
	fieldStart   = regexp.MustCompile(`(?i)\b(?:venta|precio|pvp|coste|costo|cost|cantidad|tipo)\b`)
)

// ParseCreateProduct recognizes "crear producto X, venta N, coste M". Price
// and cost are both required; without them the parser declines so the model
// can ask for the missing values.
func ParseCreateProduct(text string, _ time.Time) (toolcall.Invocation, bool) {
	s := normalize(text)
	ws := words(s)
	if !anyWord(ws, "crear", "crea", "creame", "créame", "cree") {
		return toolcall.Invocation{}, false
	}

	price, ok := numberField(priceField, s)
	if !ok {
		return toolcall.Invocation{}, false
	}
	cost, ok := numberField(costField, s)
	if !ok {
		return toolcall.Invocation{}, false
	}

	name := productName(s)
	if name == "" {
		return toolcall.Invocation{}, false
	}

	return toolcall.New(toolcall.CreateProduct, map[string]any{
		"name":  name,
		"price": price,
		"cost":  cost,
		"type":  productType(strings.ToLower(s), ws),
	}), true
}

func numberField(re *regexp.Regexp, s string) (float64, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func productName(s string) string {
	if m := quotedName.FindStringSubmatch(s); m != nil {
		return cleanName(m[1] + m[2])
	}
	if m := labeledName.FindStringSubmatch(s); m != nil {
		return cleanName(cutAtField(m[1]))
	}
	if m := productLabel.FindStringSubmatch(s); m != nil {
		if name := cleanName(cutAtField(m[1])); name != "" {
			return name
		}
	}
	rest := leadingNoise.ReplaceAllString(s, "")
	return cleanName(cutAtField(rest))
}

func cutAtField(s string) string {
	if loc := fieldStart.FindStringIndex(s); loc != nil {
		return s[:loc[0]]
	}
	return s
}

func cleanName(s string) string {
	return strings.Trim(strings.TrimSpace(s), " .,-;:")
}

// productType buckets the free text into the type synonyms the executor maps
// onto canonical product types.
func productType(lower string, ws map[string]bool) string {
	switch {
	case anySubstring(lower, "aliment", "comida", "pastel") || anyWord(ws, "pan"):
		return "alimento"
	case anyWord(ws, "servicio", "service"):
		return "servicio"
	case anyWord(ws, "almacenable", "stock"):
		return "producto"
	default:
		return "consu"
	}
}
