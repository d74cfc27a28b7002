package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/opsai/internal/chat"
	"github.com/kalambet/opsai/internal/experts"
	"github.com/kalambet/opsai/internal/ingest"
	"github.com/kalambet/opsai/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Chat *chat.Service
	// Store is the business and conversation store.
	Store *storage.Store
	// User is who MCP clients act as.
	User string
}

// NewMCPServer creates an MCP server with all opsai tools and resources registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"opsai",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("opsai: operations assistant over inventory, manufacturing, sales, purchases, documents and mail. Mutating actions need approval."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the operations assistant. Read-only lookups run immediately; changes come back as pending actions."),
			mcp.WithString("prompt", mcp.Description("Question or instruction, in Spanish"), mcp.Required()),
			mcp.WithString("model", mcp.Description("Ollama model to use instead of the configured one")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("execute_action",
			mcp.WithDescription("Run a tool payload directly. Only read-only tools plus adjust_stock and create_mrp_order are allowed."),
			mcp.WithString("payload", mcp.Description(`JSON object {"tool": "...", "params": {...}}`), mcp.Required()),
		),
		mcpExecuteAction(deps),
	)

	s.AddTool(
		mcp.NewTool("approve_action",
			mcp.WithDescription("Approve and execute a pending action once."),
			mcp.WithString("id", mcp.Description("Pending action ID"), mcp.Required()),
		),
		mcpDecide(deps, true),
	)

	s.AddTool(
		mcp.NewTool("reject_action",
			mcp.WithDescription("Reject a pending action without executing it."),
			mcp.WithString("id", mcp.Description("Pending action ID"), mcp.Required()),
		),
		mcpDecide(deps, false),
	)

	s.AddTool(
		mcp.NewTool("search_products",
			mcp.WithDescription("Search the product catalogue by name and return stock levels."),
			mcp.WithString("name", mcp.Description("Substring of the product name; empty lists all")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 15)")),
		),
		mcpSearchProducts(deps),
	)

	s.AddTool(
		mcp.NewTool("list_notifications",
			mcp.WithDescription("List the open watchdog notifications."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpListNotifications(deps),
	)

	s.AddTool(
		mcp.NewTool("add_document",
			mcp.WithDescription("Store a document or email and queue it for semantic search."),
			mcp.WithString("content", mcp.Description("Plain text or HTML content"), mcp.Required()),
			mcp.WithString("title", mcp.Description("Title, or subject for mail")),
			mcp.WithString("source", mcp.Description("docs (default) or mail")),
			mcp.WithString("author", mcp.Description("Author or sender")),
		),
		mcpAddDocument(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"opsai://experts",
			"Experts",
			mcp.WithResourceDescription("Expert personas with the tools each may request"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceExperts(),
	)

	s.AddResource(
		mcp.NewResource(
			"opsai://actions/pending",
			"Pending Actions",
			mcp.WithResourceDescription("Actions waiting for approval"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePending(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}
		resp, err := deps.Chat.Ask(ctx, chat.AskRequest{
			UserID: deps.User,
			Prompt: prompt,
			Model:  req.GetString("model", ""),
		})
		if errors.Is(err, chat.ErrEmptyPrompt) {
			return mcpError("Prompt vacío"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		return mcpJSON(resp)
	}
}

func mcpExecuteAction(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		payload, err := req.RequireString("payload")
		if err != nil {
			return mcpError("payload is required"), nil
		}
		res, err := deps.Chat.ExecutePayload(ctx, payload)
		if errors.Is(err, chat.ErrToolNotAllowed) {
			return mcpError(res.Error), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("invalid payload: %v", err)), nil
		}
		if res.Error != "" {
			return mcpError(res.Error), nil
		}
		return mcpText(res.Response), nil
	}
}

func mcpDecide(deps MCPDeps, approve bool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		decide := deps.Chat.Reject
		if approve {
			decide = deps.Chat.Approve
		}
		res, err := decide(ctx, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return mcpError(fmt.Sprintf("action %s not found", id)), nil
		case err != nil:
			return mcpError(err.Error()), nil
		}
		return mcpJSON(res)
	}
}

func mcpSearchProducts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 15)
		if limit <= 0 {
			limit = 15
		}
		if limit > 100 {
			limit = 100
		}

		products, err := deps.Store.SearchProducts(ctx, req.GetString("name", ""), limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		type productResult struct {
			ID           int64   `json:"id"`
			Name         string  `json:"name"`
			Type         string  `json:"type"`
			Price        float64 `json:"price"`
			QtyAvailable float64 `json:"qty_available"`
		}
		results := make([]productResult, len(products))
		for i, p := range products {
			results[i] = productResult{ID: p.ID, Name: p.Name, Type: p.Type, Price: p.Price, QtyAvailable: p.QtyAvailable}
		}
		return mcpJSON(results)
	}
}

func mcpListNotifications(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		notes, err := deps.Store.ListNotifications(ctx, deps.User, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing notifications failed: %v", err)), nil
		}

		type noteSummary struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Type      string `json:"type"`
			Read      bool   `json:"read"`
			CreatedAt string `json:"created_at"`
		}
		out := make([]noteSummary, len(notes))
		for i, n := range notes {
			out[i] = noteSummary{ID: n.ID, Title: n.Title, Type: n.Type, Read: n.IsRead, CreatedAt: n.CreatedAt.Format(time.RFC3339)}
		}
		return mcpJSON(out)
	}
}

func mcpAddDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		title := req.GetString("title", "")
		source := req.GetString("source", "docs")
		if source != "docs" && source != "mail" {
			return mcpError("source must be docs or mail"), nil
		}

		text := content
		if source == "mail" {
			if text, err = ingest.MailText(title, content); err != nil {
				return mcpError(err.Error()), nil
			}
		}

		doc, _, err := ingest.Submit(ctx, deps.Store, storage.Document{
			Source:  source,
			Title:   title,
			Author:  req.GetString("author", ""),
			Content: text,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue document: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored document %s", doc.ID)), nil
	}
}

func mcpResourceExperts() server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type expertSummary struct {
			Name  string   `json:"name"`
			Tools []string `json:"tools"`
		}
		profiles := experts.Profiles()
		out := make([]expertSummary, len(profiles))
		for i, p := range profiles {
			names := make([]string, len(p.Tools))
			for j, t := range p.Tools {
				names[j] = t.String()
			}
			out[i] = expertSummary{Name: p.Name, Tools: names}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal experts: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourcePending(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		actions, err := deps.Store.ListPendingActions(ctx, deps.User, storage.ActionPending)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending actions: %w", err)
		}

		type actionSummary struct {
			ID        string `json:"id"`
			Tool      string `json:"tool"`
			Params    string `json:"params"`
			CreatedAt string `json:"created_at"`
		}
		summaries := make([]actionSummary, len(actions))
		for i, a := range actions {
			params := a.ParamsJSON
			if utf8.RuneCountInString(params) > 200 {
				runes := []rune(params)
				params = string(runes[:200]) + "..."
			}
			summaries[i] = actionSummary{
				ID:        a.ID,
				Tool:      a.Tool,
				Params:    params,
				CreatedAt: a.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal actions: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
