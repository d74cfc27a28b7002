package ingest

import (
	"strings"
	"unicode/utf8"
)

// ChunkRunes is the target size of one embedded chunk. nomic-embed-text
// handles about 2k tokens; Spanish prose averages four runes per token.
const ChunkRunes = 1200

// Chunks splits cleaned text into pieces of at most size runes, breaking on
// paragraph boundaries and, for oversized paragraphs, on word boundaries.
func Chunks(text string, size int) []string {
	if size <= 0 {
		size = ChunkRunes
	}
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := utf8.RuneCountInString(para)
		if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+2+n > size {
			flush()
		}
		if n <= size {
			if cur.Len() > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(para)
			continue
		}
		flush()
		for _, w := range strings.Fields(para) {
			if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+1+utf8.RuneCountInString(w) > size {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteByte(' ')
			}
			cur.WriteString(w)
		}
		flush()
	}
	flush()
	return out
}
