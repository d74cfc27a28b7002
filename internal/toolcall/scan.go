package toolcall

// ScanJSON returns every balanced JSON-looking substring of text, one per
// opening '{' or '[' in order of position. Quoted strings are opaque
// (escaped quotes included). A scan stops at the first mismatched closer and
// unterminated starts produce nothing. Candidates are not validated.
func ScanJSON(text string) []string {
	var out []string
	for start := 0; start < len(text); start++ {
		if text[start] != '{' && text[start] != '[' {
			continue
		}
		if end := balancedEnd(text, start); end > start {
			out = append(out, text[start:end])
		}
	}
	return out
}

// balancedEnd returns the index just past the bracket that closes the one at
// start, or -1.
func balancedEnd(text string, start int) int {
	var stack []byte
	inString, escape := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, ch)
		case '}', ']':
			if len(stack) == 0 {
				return -1
			}
			open := stack[len(stack)-1]
			if (open == '{' && ch != '}') || (open == '[' && ch != ']') {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i + 1
			}
		}
	}
	return -1
}
