package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/amparo-app/engine/chat"
	"github.com/amparo-app/engine/config"
	"github.com/amparo-app/engine/conversations"
	"github.com/amparo-app/engine/llm"
	enginelogger "github.com/amparo-app/engine/logger"
	"github.com/amparo-app/engine/mcp"
	"github.com/amparo-app/engine/migrations"
	"github.com/amparo-app/engine/runtime"
	"github.com/amparo-app/engine/session"
	"github.com/amparo-app/engine/stream"
	"github.com/amparo-app/engine/tools"
	"github.com/amparo-app/engine/widget"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "Path to config file. Defaults to ~/.amparod/config.yaml")
		dbPath     = flag.String("db", "", "Path to SQLite database file. Overrides the config file")
		logFile    = flag.String("logfile", "", "Path to log file. If not set, logs to stderr")
		pretty     = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	logger, err := enginelogger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.GetConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger.Info().
		Str("version", version).
		Str("config", cfgPath).
		Str("db", cfg.Database.Path).
		Msg("amparod starting")

	// ---------------------------
	// 1. Open SQLite + run migrations
	// ---------------------------

	db, err := sql.Open("sqlite3", cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close() //nolint:errcheck // No remedy for db close errors

	if err := migrations.RunMigrations(db, cfg.Database.MigrationsPath, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ---------------------------
	// 2. Stores and widget pipeline
	// ---------------------------

	widgetStore := widget.NewStore(db, logger)
	resolver := widget.NewResolver(logger)
	messageStore := stream.NewStore(db, logger)
	conversationStore := conversations.NewStore(db, logger)

	registry := tools.NewRegistry(logger)
	registry.RegisterWidgetTools(widgetStore, resolver)

	// ---------------------------
	// 3. Assistant turn pipeline (when an LLM provider is configured)
	// ---------------------------

	providers := llm.NewProviderRegistry(cfg.ProviderConfig(), cfg.LLMProviders)
	key, err := providers.Resolve(cfg.LLMPreferences())
	if err != nil {
		logger.Warn().Err(err).Msg("No usable LLM provider, assistant_reply tool disabled")
	} else {
		client, err := config.NewLLMClient(cfg, key, logger)
		if err != nil {
			return fmt.Errorf("failed to create %s client: %w", key.Provider, err)
		}
		runner := chat.NewRunner(client, registry, logger)
		registry.RegisterAssistantTool(runner, conversationStore, messageStore, session.NewManager(logger), tools.AssistantOptions{
			Model:         key.Model,
			SystemPrompt:  cfg.Assistant.SystemPrompt,
			MaxTokens:     cfg.Assistant.MaxTokens,
			MinChunkSize:  cfg.Stream.MinChunkSize,
			FlushInterval: time.Duration(cfg.Stream.FlushIntervalMS) * time.Millisecond,
		})
		logger.Info().
			Str("provider", key.Provider).
			Str("model", key.Model).
			Msg("Assistant turn pipeline initialized")
	}

	// ---------------------------
	// 4. Janitor for abandoned streams
	// ---------------------------

	janitor, err := runtime.NewJanitor(
		messageStore,
		cfg.Janitor.Schedule,
		time.Duration(cfg.Janitor.MaxStreamingAgeMin)*time.Minute,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create janitor: %w", err)
	}
	janitor.Start()
	defer janitor.Stop()

	// ---------------------------
	// 5. Serve MCP over stdio
	// ---------------------------

	srv := mcp.NewServer(registry, version, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Msg("Serving MCP over stdio")
		serverErr <- mcp.ServeStdio(srv)
	}()

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("mcp server error: %w", err)
		}
	}

	logger.Info().Msg("amparod shutdown complete")
	return nil
}
