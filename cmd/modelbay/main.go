package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/modelbay/modelbay/internal/config"
	"github.com/modelbay/modelbay/internal/database"
	"github.com/modelbay/modelbay/internal/logger"
	"github.com/modelbay/modelbay/internal/modules/eventsmodule"
	"github.com/modelbay/modelbay/internal/modules/importmodule"
	"github.com/modelbay/modelbay/internal/server"

	// Force module inclusion by importing directly in main
	_ "github.com/modelbay/modelbay/internal/modules/aimodule"
	_ "github.com/modelbay/modelbay/internal/modules/databasemodule"
	_ "github.com/modelbay/modelbay/internal/modules/designmodule"
	_ "github.com/modelbay/modelbay/internal/modules/rendermodule"
	_ "github.com/modelbay/modelbay/internal/modules/storagemodule"
)

func main() {
	var (
		configPath string
		port       int
		dataDir    string
		verbose    bool
	)
	flag.StringVar(&configPath, "config", "", "path to the configuration file (yaml or json)")
	flag.IntVar(&port, "port", 0, "HTTP listen port (overrides config)")
	flag.StringVar(&dataDir, "data-dir", "", "directory for database, storage and staging (overrides config)")
	flag.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flag.Parse()

	// Print startup banner
	fmt.Println("=======================================")
	fmt.Println("  ModelBay - Design Library Importer   ")
	fmt.Println("=======================================")

	// Flags beat file values by riding the env override pass, which
	// runs after the file load.
	if port > 0 {
		os.Setenv("MODELBAY_PORT", strconv.Itoa(port))
	}
	if dataDir != "" {
		os.Setenv("MODELBAY_DATA_DIR", dataDir)
	}

	if configPath == "" {
		configPath = os.Getenv("MODELBAY_CONFIG_PATH")
	}
	if configPath == "" {
		// Try default paths
		for _, candidate := range []string{"./modelbay.yaml", "./modelbay-data/modelbay.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
	}

	if err := config.Load(configPath); err != nil {
		log.Printf("⚠️  Warning: Failed to load configuration from %s: %v", configPath, err)
		log.Printf("Using default configuration")
	} else if configPath != "" {
		log.Printf("✅ Configuration loaded from: %s", configPath)
	} else {
		log.Printf("✅ Using default configuration")
	}

	cfg := config.Get()
	if verbose {
		logger.SetLevel(logger.LevelDebug)
	} else {
		logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	}

	// Config reloads re-apply the logging level; --verbose pins debug.
	config.AddWatcher(func(oldCfg, newCfg *config.Config) {
		if !verbose && oldCfg.Logging.Level != newCfg.Logging.Level {
			logger.SetLevel(logger.ParseLevel(newCfg.Logging.Level))
		}
	})

	// Initialize database
	if err := database.Initialize(&cfg.Database); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Setup router and load all registered modules
	r, err := server.SetupRouter(cfg)
	if err != nil {
		log.Fatalf("Failed to set up server: %v", err)
	}

	// Create a context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create server with graceful shutdown capability
	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\nShutting down gracefully...")

		// Stop accepting new requests
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		// Stop the watcher and park running import jobs. Runs before
		// the bus shuts down so the final job events still reach
		// subscribers.
		importCtx, importCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer importCancel()
		if err := importmodule.Shutdown(importCtx); err != nil {
			log.Printf("Import module shutdown error: %v", err)
		}

		// Event bus goes last
		busCtx, busCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer busCancel()
		if err := eventsmodule.Shutdown(busCtx); err != nil {
			log.Printf("Event bus shutdown error: %v", err)
		}

		cancel()
	}()

	// Start the server
	log.Printf("🚀 Starting ModelBay server on %s:%d", cfg.Server.Host, cfg.Server.Port)
	err = srv.ListenAndServe()

	// Handle server startup errors
	if err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}

	<-ctx.Done()
	log.Println("Server shutdown complete")
}
