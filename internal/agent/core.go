// Package agent is the orchestration core: it routes a query to an expert,
// composes the prompt, calls the model and turns the reply into either a
// conversational answer or a tool action.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/opsai/internal/composer"
	"github.com/kalambet/opsai/internal/experts"
	"github.com/kalambet/opsai/internal/metrics"
	"github.com/kalambet/opsai/internal/ollama"
	"github.com/kalambet/opsai/internal/toolcall"
	"github.com/kalambet/opsai/internal/tools"
)

// connectionFallback is returned when the model produced no text at all.
const connectionFallback = "Error de conexión con Ollama"

// offMenuText answers a mutating tool the selected expert does not offer.
const offMenuText = "⚠️ La acción %s no está disponible para el experto %s. Reformula la petición indicando qué quieres hacer."

// Generator produces completions. *ollama.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt, model string, opts *ollama.GenerateOptions) string
	Model() string
}

// ToolRunner executes tool invocations. *tools.Executor satisfies it.
type ToolRunner interface {
	Execute(ctx context.Context, inv toolcall.Invocation) tools.Result
}

// Request is one user turn handed to the core.
type Request struct {
	Query   string
	Context string
	Model   string
	History []composer.Turn
}

// Response is the outcome of Process. Action is nil for conversational
// replies and diagnostics.
type Response struct {
	Response   string
	Action     Action
	ExpertName string
	ModelUsed  string
	Prompt     string
	Duration   time.Duration
}

// Core wires the router, prompt composer, model and executor together.
type Core struct {
	gen      Generator
	runner   ToolRunner
	composer *composer.Composer
	now      func() time.Time
}

// New creates a Core. comp may be nil for the default token budget.
func New(gen Generator, runner ToolRunner, comp *composer.Composer) *Core {
	if comp == nil {
		comp = composer.New(0)
	}
	return &Core{gen: gen, runner: runner, composer: comp, now: time.Now}
}

// Process runs one query through the model:
//  1. Route the query to an expert profile
//  2. Compose the prompt from persona, tools, rules, context and history
//  3. Generate; empty output and diagnostics are returned as-is
//  4. Parse the reply and classify any tool call as safe or pending approval
func (c *Core) Process(ctx context.Context, req Request) (resp Response) {
	start := time.Now()
	defer func() { resp.Duration = time.Since(start) }()

	profile := experts.Route(req.Query)
	metrics.RecordRoute(ctx, "llm", profile.Name)
	slog.Info("expert selected", "expert", profile.Name)

	model := req.Model
	if model == "" {
		model = c.gen.Model()
	}
	prompt := c.composer.Compose(composer.Input{
		Profile: profile,
		Now:     c.now(),
		Context: req.Context,
		History: req.History,
		Query:   req.Query,
	})
	resp = Response{ExpertName: profile.Name, ModelUsed: model, Prompt: prompt}

	raw := c.gen.Generate(ctx, prompt, model, nil)
	clean := strings.TrimSpace(raw)
	if clean == "" {
		resp.Response = connectionFallback
		return resp
	}
	if ollama.IsDiagnostic(clean) {
		resp.Response = clean
		return resp
	}

	inv, method := toolcall.ParseDetailed(raw)
	slog.Debug("model reply parsed", "method", method, "tool", inv.Tool)
	if kind := inv.Kind(); kind != toolcall.Message && kind != toolcall.Unknown && !profile.Allows(kind) {
		slog.Warn("model chose a tool outside the expert menu", "expert", profile.Name, "tool", inv.Tool)
		// Read-only tools still run; mutating ones are refused.
		if !kind.Safe() {
			resp.Response = fmt.Sprintf(offMenuText, inv.Tool, profile.Name)
			return resp
		}
	}

	resp.Response, resp.Action = Handle(inv, clean)
	return resp
}

// Handle turns a parsed invocation into the user-visible reply and action.
// Messages are returned as text, with a nested serialized message unwrapped
// so raw JSON never reaches the user. Tool calls become actions with a
// placeholder reply.
func Handle(inv toolcall.Invocation, raw string) (string, Action) {
	if inv.Kind() == toolcall.Message {
		content, ok := inv.Content()
		if !ok {
			content = raw
		}
		if toolcall.LooksLikeToolCall(content) {
			if inner := toolcall.Parse(content); inner.Kind() == toolcall.Message {
				if text, ok := inner.Content(); ok {
					content = text
				}
			}
		}
		return content, nil
	}

	action := Classify(inv)
	switch action.(type) {
	case AutoExecutable:
		return fmt.Sprintf("[%s] Preparando consulta...", inv.Tool), action
	default:
		return fmt.Sprintf("[%s] He preparado esta acción. ¿Deseas proceder?", inv.Tool), action
	}
}

// Execute runs an invocation, converting a panic in the executor into an
// error result.
func (c *Core) Execute(ctx context.Context, inv toolcall.Invocation) (res tools.Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool execution panicked", "tool", inv.Tool, "panic", r)
			res = tools.Result{Error: fmt.Sprint(r)}
		}
	}()
	return c.runner.Execute(ctx, inv)
}

// ExecuteApproved runs an action payload after human approval (or for an
// auto-executed safe tool). The tool name is read from "tool" or the legacy
// "type" key; params default to the payload itself when absent.
func (c *Core) ExecuteApproved(ctx context.Context, actionData map[string]any) tools.Result {
	inv, err := InvocationFromPayload(actionData)
	if err != nil {
		return tools.Result{Error: err.Error()}
	}
	return c.Execute(ctx, inv)
}

// InvocationFromPayload normalizes an action payload into an Invocation.
func InvocationFromPayload(actionData map[string]any) (toolcall.Invocation, error) {
	name, _ := actionData["tool"].(string)
	if name == "" {
		name, _ = actionData["type"].(string)
	}
	if name == "" {
		return toolcall.Invocation{}, fmt.Errorf("action has no tool")
	}
	params, _ := actionData["params"].(map[string]any)
	if len(params) == 0 {
		params = actionData
	}
	return toolcall.Invocation{Tool: name, Params: params}, nil
}
