package main

import (
	"fmt"

	"github.com/kalambet/opsai/internal/agent"
	"github.com/kalambet/opsai/internal/chat"
	"github.com/kalambet/opsai/internal/composer"
	"github.com/kalambet/opsai/internal/config"
	"github.com/kalambet/opsai/internal/notify"
	"github.com/kalambet/opsai/internal/ollama"
	"github.com/kalambet/opsai/internal/retrieval"
	"github.com/kalambet/opsai/internal/storage"
	"github.com/kalambet/opsai/internal/tools"
	"github.com/kalambet/opsai/internal/watchdog"
)

// app holds the components shared by the server and the local commands.
type app struct {
	cfg      config.Config
	store    *storage.Store
	llm      *ollama.Client
	embedder *retrieval.Embedder
	vectors  *retrieval.SQLiteStore
	hub      *notify.Hub
	chat     *chat.Service
	watchdog *watchdog.Watchdog
}

func openApp(cfg config.Config) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	llm := ollama.New(cfg.OllamaSettings())
	embedder := retrieval.NewEmbedder(llm, cfg.Ollama.EmbedModel)
	vectors := retrieval.NewSQLiteStore(store.DB())
	searcher := retrieval.NewSearcher(embedder, vectors, store)
	executor := tools.NewExecutor(store, searcher)
	core := agent.New(llm, executor, composer.New(cfg.Agent.ContextTokens))

	hub := notify.NewHub()
	recipients := cfg.Watchdog.Recipients
	if len(recipients) == 0 {
		recipients = []string{cfg.Agent.DefaultUser}
	}

	return &app{
		cfg:      cfg,
		store:    store,
		llm:      llm,
		embedder: embedder,
		vectors:  vectors,
		hub:      hub,
		chat:     chat.NewService(store, core, store, hub, cfg.Agent.HistoryTurns),
		watchdog: watchdog.New(store, store, hub, recipients),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) watchdogRunner() *watchdog.Runner {
	return watchdog.NewRunner(a.watchdog, a.store, a.cfg.Watchdog.RulesFile, a.cfg.Watchdog.Interval)
}

func (a *app) sweeper() *chat.Sweeper {
	return chat.NewSweeper(a.chat, a.cfg.Watchdog.SweepInterval, a.cfg.Watchdog.SweepBatch)
}
