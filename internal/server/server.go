// Package server wires the stores, registry, resolver and coordinator,
// and exposes them over HTTP. This is the composition root: concrete
// implementations are created here and injected into everything that
// depends on them. No business logic lives here.
package server

import (
	"database/sql"
	"fmt"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"taskchat/internal/config"
	"taskchat/internal/dialogue"
	"taskchat/internal/exchange"
	"taskchat/internal/ops"
	"taskchat/internal/resolver"
	"taskchat/internal/storage"
	"taskchat/internal/task"
)

// Version is set at build time via ldflags.
var Version = "dev"

// App holds the wired service. Construct with New.
type App struct {
	Cfg         *config.Config
	Log         *zap.Logger
	DB          *sql.DB
	Tasks       *task.Store
	Dialogues   *dialogue.Store
	Registry    *ops.Registry
	Coordinator *exchange.Coordinator
}

// New opens storage and wires every component. The returned cleanup
// function closes the database and must be called on shutdown; it is
// always non-nil.
func New(cfg *config.Config, log *zap.Logger) (*App, func(), error) {
	db, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil, func() {}, err
	}
	cleanup := func() { db.Close() }

	tasks, err := task.NewStore(db)
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("creating task store: %w", err)
	}

	dialogues, err := dialogue.NewStore(db)
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("creating dialogue store: %w", err)
	}

	registry := ops.NewRegistry(tasks)

	res := resolver.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)

	coordinator := exchange.New(
		dialogues, registry, res, log,
		cfg.HistoryLimit, cfg.ResolverTimeout,
	)

	return &App{
		Cfg:         cfg,
		Log:         log,
		DB:          db,
		Tasks:       tasks,
		Dialogues:   dialogues,
		Registry:    registry,
		Coordinator: coordinator,
	}, cleanup, nil
}

// NewMCP builds the MCP stdio server over the same task store, with every
// tool bound to the configured owner. Stdio transport has no per-request
// identity, so MCP mode is single-owner by construction.
func NewMCP(cfg *config.Config) (*server.MCPServer, func(), error) {
	db, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil, func() {}, err
	}
	cleanup := func() { db.Close() }

	tasks, err := task.NewStore(db)
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("creating task store: %w", err)
	}

	s := server.NewMCPServer(
		"taskchat",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(
			"taskchat manages a personal todo list. Use the task tools to add, "+
				"list, search, complete, update and delete tasks.",
		),
	)

	registry := ops.NewRegistry(tasks)
	if err := ops.RegisterMCPTools(s, registry, cfg.MCPOwner); err != nil {
		cleanup()
		return nil, func() {}, err
	}

	return s, cleanup, nil
}
