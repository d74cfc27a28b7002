package toolcall

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		want       Invocation
		wantMethod Method
	}{
		{
			name:       "bare object",
			raw:        `{"tool": "search_products", "params": {"name": "mesa"}}`,
			want:       Invocation{Tool: "search_products", Params: map[string]any{"name": "mesa"}},
			wantMethod: MethodScan,
		},
		{
			name:       "fenced json block",
			raw:        "Claro, aquí va:\n```json\n{\"tool\": \"search_mrp_orders\", \"params\": {\"state\": \"delayed\"}}\n```",
			want:       Invocation{Tool: "search_mrp_orders", Params: map[string]any{"state": "delayed"}},
			wantMethod: MethodFenced,
		},
		{
			name:       "untagged fence",
			raw:        "```\n{\"tool\": \"create_product\", \"params\": {\"name\": \"X\", \"price\": 10, \"cost\": 5}}\n```",
			want:       Invocation{Tool: "create_product", Params: map[string]any{"name": "X", "price": 10.0, "cost": 5.0}},
			wantMethod: MethodFenced,
		},
		{
			name:       "embedded in prose",
			raw:        `Voy a buscar eso. {"tool": "search_products", "params": {"name": "pan"}} Un momento.`,
			want:       Invocation{Tool: "search_products", Params: map[string]any{"name": "pan"}},
			wantMethod: MethodScan,
		},
		{
			name:       "list takes first element",
			raw:        `[{"tool": "search_products", "params": {}}, {"tool": "message", "params": {"content": "x"}}]`,
			want:       Invocation{Tool: "search_products", Params: map[string]any{}},
			wantMethod: MethodScan,
		},
		{
			name:       "message shorthand",
			raw:        `{"message": "Hola, ¿en qué te ayudo?"}`,
			want:       Invocation{Tool: "message", Params: map[string]any{"content": "Hola, ¿en qué te ayudo?"}},
			wantMethod: MethodScan,
		},
		{
			name:       "message text renamed to content",
			raw:        "```json{\"tool\": \"message\", \"params\": {\"text\": \"Hola humano\"}}```",
			want:       Invocation{Tool: "message", Params: map[string]any{"content": "Hola humano"}},
			wantMethod: MethodFenced,
		},
		{
			name:       "top-level parameters renamed",
			raw:        `{"tool": "adjust_stock", "parameters": {"product_id": 3, "quantity": 10}}`,
			want:       Invocation{Tool: "adjust_stock", Params: map[string]any{"product_id": 3.0, "quantity": 10.0}},
			wantMethod: MethodScan,
		},
		{
			name:       "nested parameters unwrapped",
			raw:        `{"tool": "adjust_stock", "params": {"parameters": {"product_id": 3, "quantity": 10}}}`,
			want:       Invocation{Tool: "adjust_stock", Params: map[string]any{"product_id": 3.0, "quantity": 10.0}},
			wantMethod: MethodScan,
		},
		{
			name:       "escaped quotes inside strings",
			raw:        `nota: {"tool": "message", "params": {"content": "dijo \"hola {\" y se fue"}}`,
			want:       Invocation{Tool: "message", Params: map[string]any{"content": `dijo "hola {" y se fue`}},
			wantMethod: MethodScan,
		},
		{
			name:       "plain prose",
			raw:        "Son las 10:30 del lunes.",
			want:       Invocation{Tool: "message", Params: map[string]any{"content": "Son las 10:30 del lunes."}},
			wantMethod: MethodFallback,
		},
		{
			name:       "stray fences stripped",
			raw:        "```json\nNo tengo datos suficientes.\n```",
			want:       Invocation{Tool: "message", Params: map[string]any{"content": "No tengo datos suficientes."}},
			wantMethod: MethodFallback,
		},
		{
			name:       "broken json falls back",
			raw:        `{"tool": "search_products", "params": {"name": "mesa"`,
			want:       Invocation{Tool: "message", Params: map[string]any{"content": `{"tool": "search_products", "params": {"name": "mesa"`}},
			wantMethod: MethodFallback,
		},
		{
			name:       "json without tool falls back",
			raw:        `{"name": "mesa"}`,
			want:       Invocation{Tool: "message", Params: map[string]any{"content": `{"name": "mesa"}`}},
			wantMethod: MethodFallback,
		},
		{
			name:       "tool call nested in unrelated object",
			raw:        `Resultado anterior: {"items": [{"tool": "create_product", "params": {"name": "X"}}]}`,
			want:       Invocation{Tool: "message", Params: map[string]any{"content": `Resultado anterior: {"items": [{"tool": "create_product", "params": {"name": "X"}}]}`}},
			wantMethod: MethodFallback,
		},
		{
			name:       "tool call after unrelated object",
			raw:        `Datos: {"total": 3} y luego {"tool": "adjust_stock", "params": {"product_id": 1, "quantity": 0}}`,
			want:       Invocation{Tool: "message", Params: map[string]any{"content": `Datos: {"total": 3} y luego {"tool": "adjust_stock", "params": {"product_id": 1, "quantity": 0}}`}},
			wantMethod: MethodFallback,
		},
		{
			name:       "scalar fence skipped",
			raw:        "```\n42\n```\n{\"tool\": \"search_products\", \"params\": {}}",
			want:       Invocation{Tool: "search_products", Params: map[string]any{}},
			wantMethod: MethodScan,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, method := ParseDetailed(tt.raw)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseDetailed() mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.wantMethod, method)
		})
	}
}

func TestParse_Idempotent(t *testing.T) {
	inputs := []string{
		`{"tool": "search_products", "params": {"name": ""}}`,
		"Hola, ¿qué necesitas?",
		"```json\n{\"tool\": \"message\", \"params\": {\"content\": \"ok\"}}\n```",
	}
	for _, raw := range inputs {
		first := Parse(raw)
		var second Invocation
		if first.Kind() == Message {
			content, _ := first.Content()
			second = Parse(content)
		} else {
			second = Parse(mustJSON(t, first))
		}
		if first.Kind() == Message {
			assert.Equal(t, first.Kind(), second.Kind(), "input %q", raw)
			c1, _ := first.Content()
			c2, _ := second.Content()
			assert.Equal(t, c1, c2)
			continue
		}
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("reparse mismatch for %q (-first +second):\n%s", raw, diff)
		}
	}
}

func TestParse_NoParametersKeySurvives(t *testing.T) {
	raws := []string{
		`{"tool": "create_mrp_order", "parameters": {"product_id": 1, "quantity": 2}}`,
		`{"tool": "create_mrp_order", "params": {"parameters": {"product_id": 1, "quantity": 2}}}`,
	}
	for _, raw := range raws {
		got := Parse(raw)
		require.Equal(t, "create_mrp_order", got.Tool)
		assert.NotContains(t, got.Params, "parameters")
		assert.Equal(t, 1.0, got.Params["product_id"])
		assert.Equal(t, 2.0, got.Params["quantity"])
	}
}

func TestParse_ExecutorOutputStaysMessage(t *testing.T) {
	outputs := []string{
		"📦 Encontré 2 productos:\n• [1] Mesa - Stock: 3 - Precio: 120.00€\n• [2] Silla - Sin stock - Precio: 45.00€",
		"✅ Producto creado:\n• ID: 7\n• Nombre: Mesa\n• Precio: 120.00€\n• Coste: 60.00€",
		"🏭 Encontré 1 órdenes retrasadas:\n• [4] MO/00004 - Mesa x2 (confirmed) - Límite: 2026-01-02",
	}
	for _, out := range outputs {
		got := Parse(out)
		assert.Equal(t, Message, got.Kind(), "output %q", out)
		content, ok := got.Content()
		require.True(t, ok)
		assert.Equal(t, out, content)
	}
}

func TestNormalize_RejectsNonObjects(t *testing.T) {
	for _, v := range []any{12.0, "x", []any{}, []any{1.0}, nil} {
		_, ok := Normalize(v)
		assert.False(t, ok, "value %v", v)
	}
}

func TestNormalize_RejectsNonStringTool(t *testing.T) {
	_, ok := Normalize(map[string]any{"tool": 5.0, "params": map[string]any{}})
	assert.False(t, ok)
}
