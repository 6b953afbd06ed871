// taskchat: chat-driven todo service.
//
// A stateless HTTP service that turns free-text chat into todo-list
// operations. All conversation state lives in SQLite, so any number of
// replicas can serve any session.
//
// Usage:
//
//	taskchat serve    # Start the HTTP API
//	taskchat mcp      # Serve the task tools over MCP (stdio transport)
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"taskchat/internal/config"
	"taskchat/internal/logging"
	"taskchat/internal/reminder"
	"taskchat/internal/server"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "mcp":
		if err := runMCP(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v", "version":
		fmt.Printf("taskchat v%s\n", server.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Debug)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()

	app, cleanup, err := server.New(cfg, log)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	if cfg.ReminderCron != "" {
		scan := reminder.New(app.Tasks, log, cfg.ReminderHorizon)
		if err := scan.Start(cfg.ReminderCron); err != nil {
			return fmt.Errorf("starting reminder scan: %w", err)
		}
		defer scan.Stop()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on interrupt so in-flight exchanges finish and
	// their turns get recorded.
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	s, cleanup, err := server.NewMCP(cfg)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}
	defer cleanup()

	return mcpserver.ServeStdio(s)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `taskchat v%s — chat-driven todo service

Usage:
  taskchat serve    Start the HTTP API (chat + task CRUD)
  taskchat mcp      Serve the task tools over MCP (stdio transport)

Configuration comes from the environment (or a .env file):
  TASKCHAT_HTTP_ADDR       listen address        (default :8080)
  TASKCHAT_DATA_DIR        SQLite data directory (default data)
  OPENAI_API_KEY           intent resolver credentials
  OPENAI_MODEL             resolver model        (default gpt-4o-mini)
  TASKCHAT_MCP_OWNER       owner served in MCP mode (default local)
`, server.Version)
}
