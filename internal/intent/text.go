package intent

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	spaceRun    = regexp.MustCompile(`\s+`)
	punctuation = strings.NewReplacer(
		"¿", " ", "?", " ", "¡", " ", "!", " ",
		"“", `"`, "”", `"`, "«", `"`, "»", `"`,
		"‘", "'", "’", "'",
		"=", ":",
	)
)

// normalize strips question and exclamation marks, unifies typographic
// quotes, maps '=' to ':' and collapses whitespace. Case is preserved.
func normalize(text string) string {
	s := punctuation.Replace(text)
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// words splits lower-cased text into letter/digit runs.
func words(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[w] = true
	}
	return out
}

func anyWord(ws map[string]bool, candidates ...string) bool {
	for _, c := range candidates {
		if ws[c] {
			return true
		}
	}
	return false
}

func anySubstring(lower string, candidates ...string) bool {
	for _, c := range candidates {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

var creationVerbs = []string{"crear", "crea", "creame", "créame", "cree", "registra", "registrar"}

func hasCreationVerb(ws map[string]bool) bool {
	return anyWord(ws, creationVerbs...)
}
