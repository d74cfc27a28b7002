// Package intent recognizes high-frequency requests directly from the user's
// text so they can be served without a model round trip.
package intent

import (
	"log/slog"
	"time"

	"github.com/kalambet/opsai/internal/toolcall"
)

// MatchFunc inspects an utterance and returns the tool call it stands for.
// now anchors relative date phrases.
type MatchFunc func(text string, now time.Time) (toolcall.Invocation, bool)

// Parser is one entry of the ordered parser list.
type Parser struct {
	Name   string
	Expert string
	Match  MatchFunc
}

// Match is the result of a successful detection.
type Match struct {
	Parser     string
	Expert     string
	Invocation toolcall.Invocation
}

// Parsers returns the deterministic parsers in evaluation order. The first
// parser that matches wins.
func Parsers() []Parser {
	return []Parser{
		{Name: "create_product", Expert: "Assistant", Match: ParseCreateProduct},
		{Name: "inventory", Expert: "Assistant", Match: ParseInventory},
		{Name: "production", Expert: "Assistant", Match: ParseProduction},
		{Name: "sale_orders", Expert: "SalesExpert", Match: ParseSaleOrders},
		{Name: "purchase_orders", Expert: "PurchaseExpert", Match: ParsePurchaseOrders},
		{Name: "docs", Expert: "DocsExpert", Match: ParseDocs},
		{Name: "mail", Expert: "MailExpert", Match: ParseMail},
	}
}

// Detect runs parsers in order against text. A parser that panics is treated
// as not matching.
func Detect(parsers []Parser, text string, now time.Time) (Match, bool) {
	for _, p := range parsers {
		inv, ok := safeMatch(p, text, now)
		if !ok {
			continue
		}
		slog.Debug("deterministic intent matched", "parser", p.Name, "tool", inv.Tool)
		return Match{Parser: p.Name, Expert: p.Expert, Invocation: inv}, true
	}
	return Match{}, false
}

func safeMatch(p Parser, text string, now time.Time) (inv toolcall.Invocation, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("intent parser panicked", "parser", p.Name, "panic", r)
			inv, ok = toolcall.Invocation{}, false
		}
	}()
	return p.Match(text, now)
}
