/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the card marketplace engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and the optional config file
  2. Initialize SQLite store
  3. Create notification fanout and API handler
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, overrides config)
  -db      SQLite database path (default: market.db, overrides config)
           Use ":memory:" for an in-memory database
  -config  YAML config file path (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/market.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run with a config file
  ./server -config=./market.yaml

SEE ALSO:
  - config/config.go: Config file format
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/card-market/api"
	"github.com/warp/card-market/config"
	"github.com/warp/card-market/notify"
	"github.com/warp/card-market/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	configPath := flag.String("config", "", "YAML config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.Database = *dbPath
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	store.TxTimeout = cfg.TxTimeout()

	// Notification fanout feeds the SSE stream and post-commit publishes.
	fanout := notify.New(store, cfg.Heartbeat())

	// Initialize handler
	handler := api.NewHandler(store, fanout)
	handler.Minter.MonthlyLimit = cfg.Mint.MonthlyLimit
	handler.Rewards.Policy = cfg.DrawPolicy()
	handler.Rewards.Cooldown = cfg.RewardCooldown()
	handler.BackfillLimit = cfg.Stream.BackfillLimit

	// Create router
	router := api.NewRouter(handler)

	// Create server. WriteTimeout stays unset: the notification stream
	// holds its response open indefinitely.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", cfg.Port)
		log.Printf("API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
