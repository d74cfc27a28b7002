package toolcall

import (
	"regexp"
	"strings"
)

var codeFence = regexp.MustCompile("(?s)```(.*?)```")

// FormatHTML renders assistant text for an HTML chat surface: newlines become
// <br/> and fenced blocks become <pre><code>.
func FormatHTML(text string) string {
	if text == "" {
		return ""
	}
	html := strings.ReplaceAll(text, "\n", "<br/>")
	return codeFence.ReplaceAllString(html, "<pre><code>$1</code></pre>")
}

// BreakLines replaces newlines with the <br> marker used in stored messages.
func BreakLines(text string) string {
	return strings.ReplaceAll(text, "\n", "<br>")
}

// UnbreakLines reverses BreakLines, also accepting <br/> and <br />.
func UnbreakLines(text string) string {
	r := strings.NewReplacer("<br />", "\n", "<br/>", "\n", "<br>", "\n")
	return r.Replace(text)
}

// LooksLikeToolCall reports whether text is a serialized tool call that should
// not be shown to users or replayed to the model.
func LooksLikeToolCall(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasPrefix(t, "{") && strings.Contains(t, `"tool":`)
}
