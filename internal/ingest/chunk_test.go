package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunks(t *testing.T) {
	tests := []struct {
		name string
		text string
		size int
		want []string
	}{
		{"empty", "", 10, nil},
		{"fits", "Hola mundo", 20, []string{"Hola mundo"}},
		{"paragraphs merge", "uno\n\ndos\n\ntres", 10, []string{"uno\n\ndos", "tres"}},
		{"long paragraph splits on words", "alfa beta gamma delta", 11, []string{"alfa beta", "gamma delta"}},
		{"blank paragraphs skipped", "uno\n\n\n\n  \n\ndos", 100, []string{"uno\n\ndos"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chunks(tt.text, tt.size)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("Chunks(%q, %d) = %q, want %q", tt.text, tt.size, got, tt.want)
			}
		})
	}
}

func TestChunks_RespectsSize(t *testing.T) {
	text := strings.Repeat("palabra ", 500) + "\n\n" + strings.Repeat("ñandú ", 300)
	for _, c := range Chunks(text, 100) {
		if n := utf8.RuneCountInString(c); n > 100 {
			t.Fatalf("chunk of %d runes exceeds 100: %q", n, c)
		}
	}
}
