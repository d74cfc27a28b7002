package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/opsai/internal/toolcall"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// stderr receives every status line so stdout stays clean for replies.
var stderr io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func mark(color, glyph, format string, args []any) {
	fmt.Fprintln(stderr, colorize(color, glyph+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { mark(colorGreen, "✓", format, args) }
func printError(format string, args ...any)   { mark(colorRed, "✗", format, args) }
func printWarning(format string, args ...any) { mark(colorYellow, "⚠", format, args) }
func printStep(format string, args ...any)    { mark(colorCyan, "→", format, args) }

func printStatus(label, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

var markupStripper = strings.NewReplacer(
	"<pre><code>", "", "</code></pre>", "",
	"<b>", "", "</b>", "",
	"<p>", "", "</p>", "\n",
)

// plainText turns a stored chat reply back into terminal text.
func plainText(s string) string {
	return strings.TrimSpace(markupStripper.Replace(toolcall.UnbreakLines(s)))
}
