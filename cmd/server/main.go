/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the gym billing engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Wire the membership/finance engines and report service
  4. Configure HTTP router
  5. Start the billing scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port            HTTP server port (default: 8080)
  -db              SQLite database path (default: billing.db)
                   Use ":memory:" for an in-memory database
  -sweep-interval  How often the scheduler runs (default: 1h)
  -no-scheduler    Disable the background scheduler

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/billing.db"

  # Run with in-memory database, scheduler off
  ./server -db=":memory:" -no-scheduler

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Background billing maintenance
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

	"github.com/gymcore/billing-engine/api"
	"github.com/gymcore/billing-engine/billing"
	"github.com/gymcore/billing-engine/finance"
	"github.com/gymcore/billing-engine/membership"
	"github.com/gymcore/billing-engine/report"
	"github.com/gymcore/billing-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "billing.db", "SQLite database path")
	sweepInterval := flag.Duration("sweep-interval", time.Hour, "scheduler interval")
	noScheduler := flag.Bool("no-scheduler", false, "disable the background scheduler")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire engines
	clock := billing.SystemClock{}
	logger := log.Default()
	membershipEngine := membership.NewEngine(store, store, store, clock, logger)
	financeEngine := finance.NewEngine(store, store, clock, logger)
	reports := report.NewService(store, membershipEngine, financeEngine, clock, logger)

	// Create router
	server := api.NewServer(store, membershipEngine, financeEngine, reports, clock, logger)
	router := api.NewRouter(server)

	// Scheduler
	scheduler := api.NewBillingScheduler(store, membershipEngine, financeEngine, clock)
	scheduler.CheckInterval = *sweepInterval
	scheduler.Enabled = !*noScheduler
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
