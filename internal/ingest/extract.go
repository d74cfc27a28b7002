// Package ingest turns documents and mail into plain text and indexes them
// into the vector store through a background worker.
package ingest

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// MaxContentRunes caps the text stored and embedded for one document.
const MaxContentRunes = 4000

// MinContentRunes is the shortest text worth indexing.
const MinContentRunes = 30

var (
	multiSpace   = regexp.MustCompile(`[ \t\f\v]+`)
	multiNewline = regexp.MustCompile(`\n{3,}`)
)

// HTMLToText strips markup and returns the visible text of an HTML
// fragment or page.
func HTMLToText(src string) (string, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	var sb strings.Builder
	walkText(doc, &sb, 0)
	return Clean(sb.String()), nil
}

func walkText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 200 {
		return
	}
	switch n.Type {
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "head", "svg":
			return
		case "br":
			sb.WriteString("\n")
		case "p", "div", "tr", "li", "h1", "h2", "h3", "h4", "table":
			sb.WriteString("\n")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, sb, depth+1)
	}
}

// ExtractPDF returns the plain text of a PDF document.
func ExtractPDF(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if p := recover(); p != nil {
			text, err = "", fmt.Errorf("reading pdf: %v", p)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return Clean(string(b)), nil
}

// ExtractText picks an extractor by file extension: .pdf and .html/.htm are
// converted, anything else is read as plain text.
func ExtractText(name string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return ExtractPDF(data)
	case ".html", ".htm":
		return HTMLToText(string(data))
	default:
		return Clean(string(data)), nil
	}
}

// MailText builds the indexed text of an email: subject, then the body with
// any HTML removed.
func MailText(subject, body string) (string, error) {
	if looksLikeHTML(body) {
		text, err := HTMLToText(body)
		if err != nil {
			return "", err
		}
		body = text
	}
	return Clean(subject + "\n" + body), nil
}

func looksLikeHTML(s string) bool {
	l := strings.ToLower(s)
	return strings.Contains(l, "<html") || strings.Contains(l, "<body") ||
		strings.Contains(l, "<p") || strings.Contains(l, "<div") || strings.Contains(l, "<br")
}

// Clean collapses whitespace runs, trims every line and drops NUL bytes.
func Clean(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = multiSpace.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = multiNewline.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(s)
}

// Truncate cuts s to MaxContentRunes runes.
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= MaxContentRunes {
		return s
	}
	return string(r[:MaxContentRunes])
}
