package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/opsai/internal/api"
	"github.com/kalambet/opsai/internal/config"
	"github.com/kalambet/opsai/internal/ingest"
	"github.com/kalambet/opsai/internal/metrics"
	"github.com/kalambet/opsai/internal/ollama"
)

// backlogLimit bounds how many unindexed documents are queued at startup.
const backlogLimit = 500

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the opsai server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running opsai server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show opsai system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the assistant as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "opsai.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "opsai version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	token, err := config.APIToken(cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available", "file", filepath.Join(cfg.Storage.DataDir, "api_token"))

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// The assistant degrades to diagnostics without a model server, so a
	// failed check does not block startup.
	if ready, err := ollama.EnsureReady(ctx, a.llm, os.Stderr); err != nil {
		printWarning("%v", err)
	} else {
		slog.Info("model server ready", "pulled", ready.Pulled, "unavailable", ready.Failed, "warm", ready.Warm)
	}

	metricsHandler, err := metrics.InitMeterProvider(ctx, "opsai")
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	if err := metrics.InitMetrics(ctx); err != nil {
		return fmt.Errorf("creating instruments: %w", err)
	}

	if n, err := ingest.EnqueueUnindexed(ctx, a.store, backlogLimit); err != nil {
		slog.Warn("queueing unindexed documents failed", "error", err)
	} else if n > 0 {
		slog.Info("queued unindexed documents", "count", n)
	}

	handler := api.NewHandler(api.Deps{
		Chat:        a.chat,
		Store:       a.store,
		Hub:         a.hub,
		Ollama:      a.llm,
		Metrics:     metricsHandler,
		HTTPClient:  &http.Client{Timeout: 15 * time.Second},
		Token:       token,
		DefaultUser: cfg.Agent.DefaultUser,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	worker := ingest.NewWorker(a.store, a.embedder, a.vectors, 500*time.Millisecond)
	g.Go(func() error { worker.Run(gctx); return nil })

	sweeper := a.sweeper()
	g.Go(func() error { sweeper.Run(gctx); return nil })

	runner := a.watchdogRunner()
	g.Go(func() error { runner.Run(gctx); return nil })

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "opsai listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// Stdout carries the protocol; logs go to stderr only.
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	user := userFlag
	if user == "" {
		user = cfg.Agent.DefaultUser
	}
	mcpSrv := api.NewMCPServer(api.MCPDeps{Chat: a.chat, Store: a.store, User: user}, version)

	g, gctx := errgroup.WithContext(ctx)
	worker := ingest.NewWorker(a.store, a.embedder, a.vectors, time.Second)
	g.Go(func() error { worker.Run(gctx); return nil })
	g.Go(func() error {
		defer stop()
		slog.Info("MCP server started (stdio transport)", "user", user)
		err := server.NewStdioServer(mcpSrv).Listen(gctx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("opsai is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop opsai (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to opsai (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	httpClient := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := httpClient.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	llm := ollama.New(cfg.OllamaSettings())
	if llm.IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running at %s", cfg.Ollama.BaseURL)
	}
	printStatus("Model", "%s", cfg.Ollama.Model)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	if running {
		client, err := newAPIClient()
		if err == nil {
			if n, err := countItems(ctx, client, "/ai/actions?state=pending"); err == nil {
				printStatus("Pending actions", "%s", countLabel(n, 100))
			}
			if n, err := countItems(ctx, client, "/ai/notifications?limit=100"); err == nil {
				printStatus("Notifications", "%s", countLabel(n, 100))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Watchdog rules", "%s", cfg.Watchdog.RulesFile)
	return nil
}

func countItems(ctx context.Context, client *apiClient, path string) (int, error) {
	var items []json.RawMessage
	if err := client.call(ctx, http.MethodGet, path, nil, &items); err != nil {
		return 0, err
	}
	return len(items), nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
