package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/opsai/internal/toolcall"
)

// DateLayout is the wire format of date_from/date_to parameters.
const DateLayout = "2006-01-02"

var lastNDays = regexp.MustCompile(`(?i)(?:últimos|ultimos)\s+(\d+)\s+d[ií]as`)

// DateRange resolves a relative period in text against now. The range is
// inclusive and both ends are calendar days in now's location.
func DateRange(text string, now time.Time) (from, to time.Time, ok bool) {
	lower := strings.ToLower(text)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if m := lastNDays.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return today.AddDate(0, 0, -n), today, true
		}
	}
	ws := words(lower)
	switch {
	case ws["hoy"]:
		return today, today, true
	case ws["ayer"]:
		y := today.AddDate(0, 0, -1)
		return y, y, true
	case strings.Contains(lower, "esta semana"):
		offset := (int(today.Weekday()) + 6) % 7
		return today.AddDate(0, 0, -offset), today, true
	case strings.Contains(lower, "este mes") || strings.Contains(lower, "mes actual"):
		return time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location()), today, true
	case strings.Contains(lower, "trimestre"):
		q := (int(today.Month())-1)/3*3 + 1
		return time.Date(today.Year(), time.Month(q), 1, 0, 0, 0, 0, today.Location()), today, true
	}
	return time.Time{}, time.Time{}, false
}

var datePhrases = regexp.MustCompile(`(?i)(?:^|\s)(?:(?:este|esta|del|de)\s+)?(?:hoy|ayer|este mes|mes actual|esta semana|(?:este\s+)?trimestre|(?:los\s+)?(?:últimos|ultimos)\s+\d+\s+d[ií]as)\b`)

// orderKind holds the vocabulary of one order family.
type orderKind struct {
	tool          toolcall.Tool
	keywords      []string
	phrases       []string
	quotedPartner *regexp.Regexp
	freePartner   *regexp.Regexp
	states        []stateRule
}

func quotedAfter(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + label + `\s*:?\s*(?:"([^"]+)"|'([^']+)')`)
}

func freeAfter(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + label + `\s*:?\s+([^,;\n]+)`)
}

type stateRule struct {
	stems []string
	state any
}

// matches reports whether any stem occurs in lower. Stems of four letters or
// fewer must be whole words.
func (r stateRule) matches(lower string, ws map[string]bool) bool {
	for _, stem := range r.stems {
		if len(stem) <= 4 {
			if ws[stem] {
				return true
			}
			continue
		}
		if strings.Contains(lower, stem) {
			return true
		}
	}
	return false
}

var saleOrders = orderKind{
	tool:          toolcall.SearchSaleOrders,
	keywords:      []string{"venta", "ventas", "cotización", "cotizacion", "cotizaciones", "presupuesto", "presupuestos"},
	phrases:       []string{"pedido de venta", "pedidos de venta"},
	quotedPartner: quotedAfter("cliente"),
	freePartner:   freeAfter("cliente"),
	states: []stateRule{
		{stems: []string{"pendiente"}, state: []string{"draft", "sent"}},
		{stems: []string{"borrador", "draft"}, state: "draft"},
		{stems: []string{"enviad", "enviado", "sent"}, state: "sent"},
		{stems: []string{"confirmad", "aprob"}, state: "sale"},
		{stems: []string{"hecho", "hecha", "done", "entregad"}, state: "done"},
		{stems: []string{"cancel"}, state: "cancel"},
	},
}

var purchaseOrders = orderKind{
	tool:          toolcall.SearchPurchaseOrders,
	keywords:      []string{"compra", "compras", "proveedor", "proveedores"},
	phrases:       []string{"pedido de compra", "pedidos de compra"},
	quotedPartner: quotedAfter("proveedor"),
	freePartner:   freeAfter("proveedor"),
	states: []stateRule{
		{stems: []string{"pendiente"}, state: []string{"draft", "sent", "to approve"}},
		{stems: []string{"borrador", "draft"}, state: "draft"},
		{stems: []string{"enviad", "sent"}, state: "sent"},
		{stems: []string{"aprob", "confirmad"}, state: "purchase"},
		{stems: []string{"hecho", "hecha", "done", "recibid"}, state: "done"},
		{stems: []string{"cancel"}, state: "cancel"},
	},
}

// ParseSaleOrders recognizes sales questions such as "ventas pendientes del
// cliente Acme este mes".
func ParseSaleOrders(text string, now time.Time) (toolcall.Invocation, bool) {
	return saleOrders.parse(text, now)
}

// ParsePurchaseOrders recognizes purchase questions such as "compras
// últimos 7 días".
func ParsePurchaseOrders(text string, now time.Time) (toolcall.Invocation, bool) {
	return purchaseOrders.parse(text, now)
}

func (k orderKind) parse(text string, now time.Time) (toolcall.Invocation, bool) {
	s := normalize(text)
	lower := strings.ToLower(s)
	ws := words(lower)
	if !anyWord(ws, k.keywords...) && !anySubstring(lower, k.phrases...) {
		return toolcall.Invocation{}, false
	}
	if hasCreationVerb(ws) {
		return toolcall.Invocation{}, false
	}

	params := map[string]any{"state": k.state(lower)}
	if from, to, ok := DateRange(lower, now); ok {
		params["date_from"] = from.Format(DateLayout)
		params["date_to"] = to.Format(DateLayout)
	}
	if partner := k.partner(s); partner != "" {
		params["partner_name"] = partner
	}
	return toolcall.New(k.tool, params), true
}

// state maps status words to canonical state codes. Phrases that admit more
// than one state produce a list.
func (k orderKind) state(lower string) any {
	ws := words(lower)
	for _, r := range k.states {
		if r.matches(lower, ws) {
			if list, ok := r.state.([]string); ok {
				return append([]string(nil), list...)
			}
			return r.state
		}
	}
	return ""
}

func (k orderKind) partner(s string) string {
	if m := k.quotedPartner.FindStringSubmatch(s); m != nil {
		return cleanName(m[1] + m[2])
	}
	m := k.freePartner.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	name := datePhrases.ReplaceAllString(m[1], "")
	name = k.stripStateWords(name)
	return cleanName(trimTrailingStopwords(name))
}

var partnerStopwords = map[string]bool{
	"en": true, "de": true, "del": true, "durante": true, "para": true,
	"desde": true, "los": true, "las": true, "el": true, "la": true, "hay": true,
}

func trimTrailingStopwords(name string) string {
	fields := strings.Fields(name)
	for len(fields) > 0 && partnerStopwords[strings.ToLower(fields[len(fields)-1])] {
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, " ")
}

func (k orderKind) stripStateWords(name string) string {
	fields := strings.Fields(name)
	out := fields[:0]
	for _, f := range fields {
		lf := strings.ToLower(f)
		isState := false
		for _, r := range k.states {
			if r.matches(lf, words(lf)) {
				isState = true
				break
			}
		}
		if !isState {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}
