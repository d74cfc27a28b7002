package toolcall

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestScanJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"none", "sin llaves aquí", nil},
		{"single object", `a {"x": 1} b`, []string{`{"x": 1}`}},
		{
			name: "nested objects yield outer then inner",
			text: `{"a": {"b": 2}}`,
			want: []string{`{"a": {"b": 2}}`, `{"b": 2}`},
		},
		{
			name: "braces inside strings are ignored",
			text: `{"s": "}{]["}`,
			want: []string{`{"s": "}{]["}`},
		},
		{
			name: "escaped quote does not end string",
			text: `{"s": "a\"}b"}`,
			want: []string{`{"s": "a\"}b"}`},
		},
		{
			name: "mismatched closer",
			text: `{"a": [1}`,
			want: nil,
		},
		{
			name: "unterminated start skipped, later one found",
			text: `{"a": 1 ... {"b": 2}`,
			want: []string{`{"b": 2}`},
		},
		{
			name: "arrays",
			text: `lista [1, [2]]`,
			want: []string{`[1, [2]]`, `[2]`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScanJSON(tt.text)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ScanJSON() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestScanJSON_CandidatesAreBalanced(t *testing.T) {
	text := "```json\n{\"tool\": \"x\", \"params\": {\"q\": \"[a]{b}\"}}\n``` y luego [3, {\"k\": []}]"
	for _, c := range ScanJSON(text) {
		assert.Equal(t, -1, balancedEnd(c[:len(c)-1], 0), "candidate %q closes early", c)
		assert.Equal(t, len(c), balancedEnd(c, 0), "candidate %q", c)
	}
}
