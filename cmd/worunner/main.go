// Command worunner runs the Work-Order execution runtime: it persists to
// PostgreSQL, exposes an HTTP surface for tool dispatch and ops health
// checks, and drives the Ops Control Loop on a timer.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/worunner/worunner/pkg/api"
	"github.com/worunner/worunner/pkg/config"
	"github.com/worunner/worunner/pkg/database"
	"github.com/worunner/worunner/pkg/events"
	"github.com/worunner/worunner/pkg/handlers"
	"github.com/worunner/worunner/pkg/ledger"
	"github.com/worunner/worunner/pkg/ops"
	"github.com/worunner/worunner/pkg/statemachine"
	"github.com/worunner/worunner/pkg/tools"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v", envPath, err)
		log.Printf("continuing with existing environment variables")
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	httpAddr := ":" + getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("error closing database client: %v", err)
		}
	}()
	slog.Info("worunner: connected to postgresql", "database", dbConfig.Database)

	led := ledger.New(dbClient.Client)
	sm := statemachine.New(dbClient.Client, cfg.Actors, cfg.Defaults, cfg.Retention)
	journal := events.NewJournal(dbClient.Client)

	httpClients := handlers.NewClients(cfg.External)
	kb := handlers.NewKnowledgeClient(cfg.External.Sandbox)

	registry := tools.NewRegistry()
	handlers.RegisterAll(registry, httpClients, kb, dbClient.Client, sm, dbClient.DB(), led)

	var proxy *tools.VerifyProxy
	if cfg.External.VerifyProxy.Enabled {
		proxy = tools.NewVerifyProxy(cfg.External.VerifyProxy)
	}
	dispatcher := tools.NewDispatcher(registry, cfg.Permissions, cfg.Actors, proxy, led, journal)

	opsLoop := ops.New(dbClient.Client, sm, cfg.Queue, cfg.TagRequirements, cfg.Actors, cfg.External.AgentRuntime)
	opsLoop.Start(ctx)
	defer opsLoop.Stop()

	server := api.NewServer(dbClient.DB())
	server.SetDispatcher(dispatcher)
	server.SetOpsLoop(opsLoop)

	stats := cfg.Stats()
	slog.Info("worunner: starting", "addr", httpAddr, "actors", stats.Actors,
		"permission_rules", stats.PermissionRules, "tag_rules", stats.TagRules)

	if err := server.Run(ctx, httpAddr); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
	slog.Info("worunner: shut down cleanly")
}
