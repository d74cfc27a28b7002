package toolcall

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	for _, tool := range All() {
		assert.Equal(t, tool, Lookup(tool.String()))
		assert.NotEmpty(t, tool.Description(), "tool %s", tool)
	}
	assert.Equal(t, Unknown, Lookup("delete_everything"))
	assert.Equal(t, Unknown, Lookup(""))
	assert.Equal(t, SearchProducts, Lookup(" search_products "))
	assert.Equal(t, "unknown", Unknown.String())
}

func TestSafe(t *testing.T) {
	safe := map[Tool]bool{
		SearchProducts:       true,
		SearchMRPOrders:      true,
		SearchSaleOrders:     true,
		SearchPurchaseOrders: true,
		SearchDocs:           true,
		SearchMail:           true,
	}
	for _, tool := range All() {
		assert.Equal(t, safe[tool], tool.Safe(), "tool %s", tool)
	}
	assert.False(t, Unknown.Safe())
}

func TestNew(t *testing.T) {
	inv := New(SearchProducts, nil)
	assert.Equal(t, "search_products", inv.Tool)
	assert.NotNil(t, inv.Params)

	msg := New(Message, map[string]any{"content": "hola"})
	content, ok := msg.Content()
	assert.True(t, ok)
	assert.Equal(t, "hola", content)

	_, ok = New(Message, map[string]any{"content": 3}).Content()
	assert.False(t, ok)
}

func TestLooksLikeToolCall(t *testing.T) {
	assert.True(t, LooksLikeToolCall(` {"tool": "search_products", "params": {}}`))
	assert.False(t, LooksLikeToolCall(`Usa {"tool": "x"}`))
	assert.False(t, LooksLikeToolCall(`{"name": "x"}`))
}

func TestBreakLines(t *testing.T) {
	assert.Equal(t, "a<br>b", BreakLines("a\nb"))
	assert.Equal(t, "a\nb\nc\nd", UnbreakLines("a<br>b<br/>c<br />d"))
	assert.Equal(t, "<p>x</p><br/><pre><code>y</code></pre>", FormatHTML("<p>x</p>\n```y```"))
	assert.Empty(t, FormatHTML(""))
}
