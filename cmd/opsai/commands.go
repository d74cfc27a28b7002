package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/opsai/internal/api"
	"github.com/kalambet/opsai/internal/chat"
	"github.com/kalambet/opsai/internal/config"
	"github.com/kalambet/opsai/internal/ingest"
	"github.com/kalambet/opsai/internal/watchdog"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Ask the assistant",
	Long: `Ask the assistant a question or give it an instruction.

Examples:
  opsai ask "muéstrame el inventario"
  opsai ask "órdenes de fabricación retrasadas"
  opsai ask 'crear producto "Mesa de roble", venta 120'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")
		async, _ := cmd.Flags().GetBool("async")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var out chat.AskResponse
		err = client.call(cmd.Context(), http.MethodPost, "/ai/ask", api.AskRequest{
			Prompt: strings.Join(args, " "),
			Model:  model,
			Async:  async,
		}, &out)
		if err != nil {
			return err
		}
		printAnswer(out)
		return nil
	},
}

func printAnswer(out chat.AskResponse) {
	if out.Response != "" {
		fmt.Println(plainText(out.Response))
	}
	if out.ExpertName != "" {
		fmt.Fprintln(os.Stderr, colorize(colorCyan, fmt.Sprintf("[%s · %s]", out.ExpertName, out.ModelUsed)))
	}
	ids := out.PendingActionIDs
	if len(ids) == 0 && out.PendingActionID != "" {
		ids = []string{out.PendingActionID}
	}
	for _, id := range ids {
		printWarning("Action %s awaits approval: opsai approve %s", id, id)
	}
}

func init() {
	askCmd.Flags().String("model", "", "model to use (default: ollama.model)")
	askCmd.Flags().Bool("async", false, "queue the prompt and return immediately")
}

// --- actions ---

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List actions waiting for approval",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, _ := cmd.Flags().GetString("state")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var actions []struct {
			ID        string `json:"id"`
			Tool      string `json:"tool"`
			Params    any    `json:"params"`
			State     string `json:"state"`
			CreatedAt string `json:"created_at"`
		}
		if err := client.call(cmd.Context(), http.MethodGet, "/ai/actions?state="+url.QueryEscape(state), nil, &actions); err != nil {
			return err
		}

		if len(actions) == 0 {
			fmt.Println("No actions found.")
			return nil
		}
		for _, a := range actions {
			fmt.Printf("%s  %s  %-16s %v\n", colorize(colorCyan, a.ID), a.CreatedAt, a.Tool, a.Params)
		}
		return nil
	},
}

func init() {
	actionsCmd.Flags().String("state", "pending", "filter by state (empty for all)")
	rootCmd.AddCommand(actionsCmd)
}

// --- approve / reject ---

var approveCmd = &cobra.Command{
	Use:   "approve <action-id>",
	Short: "Approve and execute a pending action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideAction(cmd.Context(), args[0], "approve")
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <action-id>",
	Short: "Reject a pending action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideAction(cmd.Context(), args[0], "reject")
	},
}

func decideAction(ctx context.Context, id, verb string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var res chat.ActionResult
	if err := client.call(ctx, http.MethodPost, "/ai/actions/"+url.PathEscape(id)+"/"+verb, nil, &res); err != nil {
		return err
	}

	if res.Response != "" {
		fmt.Println(plainText(res.Response))
	}
	if res.Error != "" {
		return fmt.Errorf("action %s ended in %s: %s", res.ActionID, res.State, res.Error)
	}
	printSuccess("Action %s: %s", res.ActionID, res.State)
	return nil
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add a document or mail to the knowledge base",
	Long: `Add a document or mail to the knowledge base. Content is indexed in
the background and becomes searchable by the docs and mail searches.

Examples:
  opsai ingest --file ./manual-montaje.pdf
  opsai ingest --url https://intranet.local/calidad
  opsai ingest --source mail --title "Retraso P00012" --text "El proveedor..."`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		rawURL, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		source, _ := cmd.Flags().GetString("source")
		title, _ := cmd.Flags().GetString("title")
		author, _ := cmd.Flags().GetString("author")

		req, err := buildIngestRequest(text, rawURL, file, source, title, author)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var result map[string]string
		if err := client.call(cmd.Context(), http.MethodPost, "/ai/ingest", req, &result); err != nil {
			return err
		}

		printSuccess("Queued %s %s", req.Source, result["id"])
		return nil
	},
}

func buildIngestRequest(text, rawURL, file, source, title, author string) (api.IngestRequest, error) {
	if text == "" && rawURL == "" && file == "" {
		return api.IngestRequest{}, errors.New("one of --text, --url, or --file is required")
	}
	if source != "docs" && source != "mail" {
		return api.IngestRequest{}, fmt.Errorf("--source must be docs or mail, got %q", source)
	}

	req := api.IngestRequest{Source: source, Title: title, Author: author}
	switch {
	case text != "":
		req.Type = "text"
		req.Content = text
	case rawURL != "":
		req.Type = "url"
		req.URL = rawURL
	default:
		data, err := os.ReadFile(file)
		if err != nil {
			return api.IngestRequest{}, fmt.Errorf("reading file: %w", err)
		}
		req.Type = "file"
		req.Filename = filepath.Base(file)
		req.Content = base64.StdEncoding.EncodeToString(data)
	}
	return req, nil
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("url", "", "URL to fetch and ingest")
	ingestCmd.Flags().String("file", "", "file to ingest (text, HTML or PDF)")
	ingestCmd.Flags().String("source", "docs", "knowledge source: docs or mail")
	ingestCmd.Flags().String("title", "", "title (mail subject for --source mail)")
	ingestCmd.Flags().String("author", "", "author or mail sender")
}

// --- watchdog ---

var watchdogCmd = &cobra.Command{
	Use:   "watchdog",
	Short: "Evaluate alert rules",
}

var watchdogRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate the watchdog rules once",
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, _ := cmd.Flags().GetString("rules")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if rules != "" {
			cfg.Watchdog.RulesFile = rules
		}

		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		findings, err := a.watchdogRunner().RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		printFindings(findings)
		return nil
	},
}

func printFindings(findings []watchdog.Finding) {
	if len(findings) == 0 {
		fmt.Println("No active rules.")
		return
	}
	for _, f := range findings {
		switch {
		case f.Error != "":
			printError("%s: %s", f.Rule, f.Error)
		case f.Hits == 0:
			printSuccess("%s: ok", f.Rule)
		default:
			hits := strconv.Itoa(f.Hits)
			if f.Capped {
				hits += "+"
			}
			printWarning("%s: %s hits, %d notifications", f.Rule, hits, f.Notifications)
			for _, name := range f.Names {
				fmt.Printf("    %s\n", name)
			}
		}
	}
}

func init() {
	watchdogRunCmd.Flags().String("rules", "", "rules file (default: watchdog.rules_file)")
	watchdogCmd.AddCommand(watchdogRunCmd)
}

// --- sweep ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reprocess messages left pending by an interrupted request",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.sweeper().RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess("Processed %d pending messages", n)
		return nil
	},
}

// --- seed ---

const defaultRules = `# Watchdog rules. Re-read on every sweep.
rules:
  - name: Fabricación
    check_type: date_delay
    target: mrp_orders
    threshold: 0
  - name: Ventas
    check_type: date_delay
    target: sale_orders
    threshold: 2
  - name: Compras
    check_type: date_delay
    target: purchase_orders
    threshold: 2
  - name: Stock bajo
    check_type: stock_level
    target: products
    threshold: 5
`

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the demo catalogue and default watchdog rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		res, err := a.store.Seed(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("seeding: %w", err)
		}
		if res.Products == 0 {
			printWarning("Catalogue already has products, nothing inserted")
		} else {
			printSuccess("Inserted %d products, %d manufacturing orders, %d orders, %d documents",
				res.Products, res.MRPOrders, res.Orders, res.Documents)
		}

		n, err := ingest.EnqueueUnindexed(ctx, a.store, backlogLimit)
		if err != nil {
			return fmt.Errorf("queueing documents: %w", err)
		}
		if n > 0 {
			printStep("Queued %d documents for indexing", n)
		}

		written, err := writeDefaultRules(cfg.Watchdog.RulesFile)
		if err != nil {
			return err
		}
		if written {
			printSuccess("Wrote watchdog rules to %s", cfg.Watchdog.RulesFile)
		}
		return nil
	},
}

// writeDefaultRules creates the rules file unless one exists.
func writeDefaultRules(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating rules dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultRules), 0o644); err != nil {
		return false, fmt.Errorf("writing rules: %w", err)
	}
	return true, nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd)
}
