package composer

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/opsai/internal/experts"
	"github.com/kalambet/opsai/internal/toolcall"
)

const defaultMaxContextTokens = 1500

const globalRules = `REGLAS GLOBALES - OBLIGATORIAS:
1. Si te preguntan la hora, responde con la fecha y hora indicadas arriba.
2. Para consultas de búsqueda (search_products, search_mrp_orders), responde SOLO con el JSON de la herramienta.
3. Para acciones de creación, espera confirmación del usuario.
4. Si faltan datos para una herramienta (ej: precio), PREGUNTA al usuario antes de generar el JSON. NO inventes datos.
5. Usa el ID numérico de los productos (ej: [12]) para referirte a ellos en las herramientas.

REGLA CRÍTICA - INCUMPLIMIENTO CAUSA ERROR:
6. **USAR EXACTAMENTE ESTA ESTRUCTURA JSON**: {"tool": "nombre_herramienta", "params": {"parametro": "valor"}}
7. **NUNCA uses "parameters"** - Usa SIEMPRE "params" (sin errores de tipeo)
8. **Verifica tu JSON antes de enviar** - Si tiene "parameters", reemplázalo por "params"`

// Turn is one prior message of the conversation.
type Turn struct {
	Role    string
	Content string
}

// Input is everything that goes into one agent prompt.
type Input struct {
	Profile experts.Profile
	Now     time.Time
	Context string
	History []Turn
	Query   string
}

// Composer assembles the agent prompt: persona, current date, tool menu,
// global rules, retrieved context, recent history and the user query.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for context and
// history. If maxContextTokens <= 0, the default (1500) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose renders the prompt. Context and history share the token budget;
// the oldest history turns are dropped first, then the context is cut at a
// line boundary.
func (c *Composer) Compose(in Input) string {
	var sb strings.Builder

	sb.WriteString(in.Profile.Prompt)
	fmt.Fprintf(&sb, "\nFecha y Hora Actual: %s\n\n", in.Now.Format("02/01/2006 15:04"))

	sb.WriteString("HERRAMIENTAS DISPONIBLES:\n")
	for _, item := range in.Profile.Menu() {
		fmt.Fprintf(&sb, "- %s: %s\n", item.Name, item.Usage)
	}
	sb.WriteString("\n")
	sb.WriteString(globalRules)
	sb.WriteString("\n\n")

	history := HistoryLines(in.History)
	contextText := strings.TrimSpace(in.Context)

	remaining := c.MaxContextTokens
	historyTokens := EstimateTokens(strings.Join(history, "\n"))
	contextTokens := EstimateTokens(contextText)
	if contextTokens > remaining {
		contextText = truncateLines(contextText, remaining)
		contextTokens = EstimateTokens(contextText)
	}
	remaining -= contextTokens
	for len(history) > 0 && historyTokens > remaining {
		historyTokens -= EstimateTokens(history[0]) + 1
		history = history[1:]
	}

	if contextText != "" {
		sb.WriteString("CONTEXTO RECUPERADO:\n")
		sb.WriteString(contextText)
		sb.WriteString("\n\n")
	}
	if len(history) > 0 {
		sb.WriteString("HISTORIAL CHAT:\n")
		sb.WriteString(strings.Join(history, "\n"))
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Usuario: %s\nRespuesta (JSON o Texto):", in.Query)
	return sb.String()
}

// HistoryLines renders turns as "Usuario: …" / "Asistente: …" lines in the
// given order. Turns that are serialized tool calls are skipped and stored
// <br> markers become newlines.
func HistoryLines(turns []Turn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		content := strings.TrimSpace(toolcall.UnbreakLines(t.Content))
		if content == "" || toolcall.LooksLikeToolCall(content) {
			continue
		}
		label := "Asistente"
		if t.Role == "user" {
			label = "Usuario"
		}
		out = append(out, label+": "+content)
	}
	return out
}

func truncateLines(text string, budget int) string {
	var kept []string
	used := 0
	for _, line := range strings.Split(text, "\n") {
		cost := EstimateTokens(line) + 1
		if used+cost > budget {
			break
		}
		kept = append(kept, line)
		used += cost
	}
	return strings.Join(kept, "\n")
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
