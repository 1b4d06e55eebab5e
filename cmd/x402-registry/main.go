package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pbtc21/x402-registry/src/core/config"
	"github.com/pbtc21/x402-registry/src/core/database"
	"github.com/pbtc21/x402-registry/src/core/logger"
	"github.com/pbtc21/x402-registry/src/core/payments"
	"github.com/pbtc21/x402-registry/src/core/registry"
)

// version is injected at build time via ldflags
var version = "dev"

func main() {
	// Command line flags
	var (
		host        = flag.String("host", "", "Host to bind the server to (overrides HOST env var)")
		port        = flag.Int("port", 0, "Port to bind the server to (overrides PORT env var)")
		showVersion = flag.Bool("version", false, "Show version information")
		help        = flag.Bool("help", false, "Show help information")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "x402 Agent Registry Service\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --host 0.0.0.0 --port 9000\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  HOST                 - Host to bind to (default: localhost)\n")
		fmt.Fprintf(os.Stderr, "  PORT                 - Port to bind to (default: 8000)\n")
		fmt.Fprintf(os.Stderr, "  DATABASE_URL         - Database URL, sqlite path or postgres:// (default: x402_registry.db)\n")
		fmt.Fprintf(os.Stderr, "  TAXONOMY_PATH        - Capability taxonomy YAML file (default: built-in taxonomy)\n")
		fmt.Fprintf(os.Stderr, "  PAYMENT_MODE         - Payment verification mode: static | ethereum (default: static)\n")
		fmt.Fprintf(os.Stderr, "  PAYMENT_RPC_URL      - Ethereum JSON-RPC URL (required for PAYMENT_MODE=ethereum)\n")
		fmt.Fprintf(os.Stderr, "  PLATFORM_RECIPIENT   - Address quoted in payment demands\n")
		fmt.Fprintf(os.Stderr, "  REDIS_URL            - Redis URL for shared payment sessions (default: in-memory)\n")
		fmt.Fprintf(os.Stderr, "  CACHE_TTL            - Recommendation cache TTL in seconds (default: 30)\n")
		fmt.Fprintf(os.Stderr, "  X402_LOG_LEVEL       - Log level (DEBUG, INFO, WARNING, ERROR, CRITICAL) (default: INFO)\n")
		fmt.Fprintf(os.Stderr, "  X402_DEBUG_MODE      - Enable debug mode (true/false) - forces DEBUG level\n")
		fmt.Fprintf(os.Stderr, "\nThe registry service provides:\n")
		fmt.Fprintf(os.Stderr, "  - Agent registration and capability-indexed discovery\n")
		fmt.Fprintf(os.Stderr, "  - Task-to-capability inference and agent recommendation\n")
		fmt.Fprintf(os.Stderr, "  - Budget-constrained execution and chaining behind HTTP 402\n")
		fmt.Fprintf(os.Stderr, "  - Fee-gated endpoint catalog\n")
	}

	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	if *showVersion {
		fmt.Printf("x402 Registry %s\n", version)
		fmt.Println("Agent catalog and pay-per-call orchestration for fee-gated HTTP endpoints")
		return
	}

	// Load configuration from environment
	cfg := config.LoadFromEnv()

	// Override with command line flags if provided
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	// Initialize structured logger
	appLogger := logger.New(cfg)

	// Set Gin mode early before any Gin engine creation
	appLogger.SetGinMode()

	appLogger.Info("Starting x402 Registry Service | %s", appLogger.GetStartupBanner())

	// Initialize database
	appLogger.Info("Initializing database: %s", cfg.GetDatabaseURL())
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		appLogger.Error("Failed to initialize database: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			appLogger.Warning("Failed to close database: %v", err)
		}
	}()

	// Payment verifier: static proofs for development, on-chain lookups in
	// ethereum mode.
	var verifier payments.Verifier = payments.StaticVerifier{}
	if strings.ToLower(cfg.PaymentMode) == "ethereum" {
		dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		ethVerifier, err := payments.NewEthereumVerifier(dialCtx, cfg.PaymentRPCURL)
		cancel()
		if err != nil {
			appLogger.Error("Failed to connect to payment RPC %s: %v", cfg.PaymentRPCURL, err)
			os.Exit(1)
		}
		defer ethVerifier.Close()
		verifier = ethVerifier
		appLogger.Info("Payment verification via Ethereum RPC %s", cfg.PaymentRPCURL)
	} else {
		appLogger.Info("Payment verification in static mode (any non-empty proof accepted)")
	}

	// Payment sessions: redis when configured, otherwise in-process.
	sessionTTL := time.Duration(cfg.SessionTTL) * time.Second
	var sessions payments.SessionStore
	if cfg.RedisURL != "" {
		redisStore, err := payments.NewRedisSessionStore(cfg.RedisURL, sessionTTL)
		if err != nil {
			appLogger.Error("Failed to configure redis session store: %v", err)
			os.Exit(1)
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = redisStore.Ping(pingCtx)
		cancel()
		if err != nil {
			appLogger.Error("Failed to reach redis at %s: %v", cfg.RedisURL, err)
			os.Exit(1)
		}
		defer func() {
			if err := redisStore.Close(); err != nil {
				appLogger.Warning("Failed to close redis connection: %v", err)
			}
		}()
		sessions = redisStore
		appLogger.Info("Payment sessions stored in redis at %s", cfg.RedisURL)
	} else {
		sessions = payments.NewMemorySessionStore(sessionTTL)
	}

	// Create and configure server
	server, err := registry.NewServer(db, cfg, verifier, sessions, appLogger)
	if err != nil {
		appLogger.Error("Failed to create server: %v", err)
		os.Exit(1)
	}

	// Setup graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan

		appLogger.Info("Received signal %v, initiating graceful shutdown...", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			appLogger.Error("Error during server shutdown: %v", err)
		}

		appLogger.Info("Registry service stopped")
		os.Exit(0)
	}()

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	appLogger.Info("x402 Registry Service listening on %s", addr)
	if err := server.Run(addr); err != nil {
		appLogger.Error("Failed to start server: %v", err)
		os.Exit(1)
	}
}
