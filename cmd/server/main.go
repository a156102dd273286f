/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the employee loan engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load configuration
  2. Initialize SQLite store (runs migrations)
  3. Seed the product catalogue file, if configured
  4. Build notifier, loan engine, overdue scheduler
  5. Configure HTTP router and start the server

COMMAND-LINE FLAGS:
  -config  Config file (YAML/JSON/TOML), optional
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, overrides db.path
           Use ":memory:" for in-memory database
  -token   Print a bearer token for "subject,tenant,role" and exit

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the overdue scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_timeout)
  4. Flush queued notifications
  5. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/loans.db"

  # Development token for an HR user of tenant acme
  LOANS_AUTH_JWT_SECRET=dev ./server -token "hr-1,acme,hr"

ENVIRONMENT:
  Every config key can be set as LOANS_<KEY>, e.g. LOANS_AUTH_JWT_SECRET.

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/loan-engine/api"
	"github.com/warp/loan-engine/config"
	"github.com/warp/loan-engine/factory"
	"github.com/warp/loan-engine/logging"
	"github.com/warp/loan-engine/loan"
	"github.com/warp/loan-engine/notify"
	"github.com/warp/loan-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "Config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	mint := flag.String("token", "", `Print a bearer token for "subject,tenant,role" and exit`)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.DB.Path = *dbPath
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = uuid.NewString()
		logger.Warn("auth.jwt_secret not set, using a random secret; tokens will not survive a restart")
	}
	tokens := api.NewTokenIssuer(cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.JWTSecret)

	if *mint != "" {
		if err := printToken(tokens, *mint, cfg.Auth.TokenTTL); err != nil {
			logger.WithError(err).Fatal("failed to mint token")
		}
		return
	}

	if err := run(cfg, logger, tokens); err != nil {
		logger.WithError(err).Fatal("server failed")
	}
}

func run(cfg *config.Config, logger *logrus.Logger, tokens *api.TokenIssuer) error {
	// Initialize store
	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	if cfg.Products.CatalogueFile != "" {
		n, err := seedCatalogue(context.Background(), store, cfg.Products)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"file":   cfg.Products.CatalogueFile,
			"tenant": cfg.Products.Tenant,
			"added":  n,
		}).Info("product catalogue loaded")
	}

	// Notifications
	var notifier loan.Notifier = notify.NewLogNotifier(logger)
	var emails *notify.EmailNotifier
	if cfg.SMTP.Enabled {
		emails = notify.NewEmailNotifier(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, logger, cfg.SMTP.QueueSize)
		notifier = emails
	}

	ratio, err := cfg.Eligibility.Ratio()
	if err != nil {
		return fmt.Errorf("invalid eligibility.max_emi_ratio: %w", err)
	}

	engine := loan.NewEngine(loan.Dependencies{
		Store:     store,
		Directory: store,
		Audit:     store,
		Notifier:  notifier,
		Logger:    logger,
		Policy:    loan.EligibilityPolicy{MaxEmiRatio: ratio},

		OverdueGraceDays: cfg.Scheduler.OverdueGraceDays,
	}, cfg.Payroll.Concurrency)

	scheduler, err := api.NewOverdueScheduler(engine.Repayments, store, cfg.Scheduler.OverdueCron, logger, nil)
	if err != nil {
		return err
	}
	if cfg.Scheduler.Enabled {
		scheduler.Start()
	}

	handler := api.NewHandler(engine, store, scheduler, logger)
	router := api.NewRouter(handler, tokens, cfg.CORS.AllowedOrigins)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := scheduler.Stop(ctx); err != nil {
		logger.WithError(err).Warn("scheduler did not stop in time")
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if emails != nil {
		if err := emails.Close(ctx); err != nil {
			logger.WithError(err).Warn("pending notifications dropped")
		}
	}

	logger.Info("server stopped")
	return nil
}

// seedCatalogue adds the products of a catalogue file that do not exist yet.
// Existing products are left untouched.
func seedCatalogue(ctx context.Context, store *sqlite.Store, cfg config.ProductsConfig) (int, error) {
	if cfg.Tenant == "" {
		return 0, errors.New("products.tenant is required with products.catalogue_file")
	}
	data, err := os.ReadFile(cfg.CatalogueFile)
	if err != nil {
		return 0, fmt.Errorf("failed to read product catalogue: %w", err)
	}
	products, err := factory.NewProductFactory().ParseCatalogue(loan.TenantID(cfg.Tenant), data)
	if err != nil {
		return 0, fmt.Errorf("invalid product catalogue %s: %w", cfg.CatalogueFile, err)
	}

	added := 0
	for _, p := range products {
		_, err := store.GetProduct(ctx, p.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, loan.ErrProductNotFound) {
			return added, err
		}
		p.CreatedAt = time.Now().UTC()
		if err := store.SaveProduct(ctx, p); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

func printToken(tokens *api.TokenIssuer, spec string, ttl time.Duration) error {
	parts := strings.Split(spec, ",")
	if len(parts) != 3 {
		return fmt.Errorf("token spec %q must be subject,tenant,role", spec)
	}
	tok, err := tokens.Mint(loan.Actor{
		ID:       strings.TrimSpace(parts[0]),
		TenantID: loan.TenantID(strings.TrimSpace(parts[1])),
		Role:     loan.Role(strings.TrimSpace(parts[2])),
	}, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
