/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the library circulation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Build the circulation engine with the configured policy
  4. Configure HTTP router and start the sweep scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port           HTTP server port (default: 8080)
  -db             SQLite database path (default: library.db)
                  Use ":memory:" for in-memory database
  -daily-rate     Flat late fee per day (default: 5000)
  -progressive    Use the progressive fine schedule instead of flat
  -max-fine       Ceiling on a single late fine (default: 0, no ceiling)
  -loan-days      Default loan period in days (default: 14)
  -max-loans      Concurrent loan limit per member (default: 5)
  -sweep-every    Overdue sweep interval (default: 1h; 0 disables)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/library.db"

  # Progressive fines, sweep every 10 minutes
  ./server -progressive -sweep-every=10m

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Overdue sweep scheduler
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

	"github.com/shopspring/decimal"

	"github.com/kutubxona/circulation-engine/api"
	"github.com/kutubxona/circulation-engine/circulation"
	"github.com/kutubxona/circulation-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "library.db", "SQLite database path")
	dailyRate := flag.Int64("daily-rate", 5000, "flat late fee per day")
	progressive := flag.Bool("progressive", false, "use the progressive fine schedule")
	maxFine := flag.Int64("max-fine", 0, "ceiling on a single late fine (0 disables)")
	loanDays := flag.Int("loan-days", 14, "default loan period in days")
	maxLoans := flag.Int("max-loans", 5, "concurrent loan limit per member")
	sweepEvery := flag.Duration("sweep-every", time.Hour, "overdue sweep interval (0 disables)")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Build the engine with the configured policy
	var fines circulation.FineSchedule = circulation.NewFlatRate(decimal.NewFromInt(*dailyRate))
	if *progressive {
		fines = circulation.NewProgressive()
	}
	if *maxFine > 0 {
		fines = circulation.NewCapped(fines, decimal.NewFromInt(*maxFine))
	}
	engine := circulation.NewEngine(store, circulation.Config{
		LoanDays:           *loanDays,
		MaxConcurrentLoans: *maxLoans,
		Fines:              fines,
	})

	// Initialize handler and router
	handler := api.NewHandler(engine, store)
	router := api.NewRouter(handler)

	// Start the overdue sweep scheduler
	scheduler := api.NewSweepScheduler(engine)
	if *sweepEvery <= 0 {
		scheduler.Enabled = false
	} else {
		scheduler.CheckInterval = *sweepEvery
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
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
