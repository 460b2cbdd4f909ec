package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veridion/sovereign-shield/pkg/api"
	"github.com/veridion/sovereign-shield/pkg/config"
	"github.com/veridion/sovereign-shield/pkg/evidence"
	"github.com/veridion/sovereign-shield/pkg/observability"
	"github.com/veridion/sovereign-shield/pkg/review"
	"github.com/veridion/sovereign-shield/pkg/scc"
	"github.com/veridion/sovereign-shield/pkg/shield"
	"github.com/veridion/sovereign-shield/pkg/shredder"

	_ "github.com/lib/pq" // Postgres driver
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServe(stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return runServe(stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "veridion-api - GDPR cross-border transfer compliance service")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  veridion-api [serve]             Start the HTTP server (default)")
	_, _ = fmt.Fprintln(w, "  veridion-api verify [--source S] Verify an evidence chain")
	_, _ = fmt.Fprintln(w, "  veridion-api health              Probe a running server")
	_, _ = fmt.Fprintln(w, "  veridion-api help                Show this help")
}

type services struct {
	db       *sql.DB
	ledger   *evidence.Store
	reviews  *review.Queue
	registry *scc.Registry
	shield   *shield.Service
	shredder *shredder.Shredder
}

// openServices connects to Postgres when DATABASE_URL is set, otherwise
// falls back to an embedded SQLite database under data/.
func openServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	var (
		db     *sql.DB
		ledger *evidence.Store
		err    error
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		db.SetMaxOpenConns(5)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		ledger = evidence.NewPostgresStore(db, cfg.SealSalt)
		logger.Info("using postgres database")
	} else {
		db, err = setupLiteMode(logger)
		if err != nil {
			return nil, err
		}
		ledger = evidence.NewSQLiteStore(db, cfg.SealSalt)
	}

	if err := ledger.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init evidence store: %w", err)
	}
	reviews := review.NewQueue(db, ledger, logger)
	if err := reviews.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init review queue: %w", err)
	}
	registry := scc.NewRegistry(db)
	if err := registry.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init scc registry: %w", err)
	}
	shred := shredder.New(db, cfg.MasterKey, cfg.ShredInventory, logger)
	if err := shred.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init shredder: %w", err)
	}

	return &services{
		db:       db,
		ledger:   ledger,
		reviews:  reviews,
		registry: registry,
		shield:   shield.NewService(ledger, reviews, registry, logger),
		shredder: shred,
	}, nil
}

func runServe(stderr io.Writer) int {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svcs, err := openServices(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "startup failed: %v\n", err)
		return 1
	}
	defer func() { _ = svcs.db.Close() }()

	var obs *observability.Provider
	if cfg.OTELEnabled {
		obsCfg := observability.DefaultConfig()
		obsCfg.Environment = cfg.AppEnv
		if cfg.OTLPEndpoint != "" {
			obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		}
		obs, err = observability.New(ctx, obsCfg)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "observability init failed: %v\n", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = obs.Shutdown(shutdownCtx)
		}()
	}

	server := api.NewServer(api.Deps{
		Config:        cfg,
		Ledger:        svcs.ledger,
		Reviews:       svcs.reviews,
		Registry:      svcs.registry,
		Shield:        svcs.shield,
		Shredder:      svcs.shredder,
		Observability: obs,
		Logger:        logger,
	})

	addr := listenAddr(cfg)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("veridion-api listening", "addr", addr, "env", cfg.AppEnv)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintf(stderr, "server failed: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_, _ = fmt.Fprintf(stderr, "shutdown failed: %v\n", err)
			return 1
		}
	}
	return 0
}

func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	source := fs.String("source", shield.SourceSystem, "source system chain to verify")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svcs, err := openServices(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "verify failed: %v\n", err)
		return 1
	}
	defer func() { _ = svcs.db.Close() }()

	verified, message, err := svcs.ledger.Verify(ctx, *source)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "verify failed: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "%s: %s\n", *source, message)
	if !verified {
		return 1
	}
	return 0
}

func listenAddr(cfg *config.Config) string {
	return net.JoinHostPort(cfg.ServerHost, cfg.ServerPort)
}

func healthURL(cfg *config.Config) string {
	host := cfg.ServerHost
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, cfg.ServerPort) + "/health"
}

func runHealthCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()
	url := healthURL(cfg)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	body, _ := io.ReadAll(resp.Body)
	_, _ = fmt.Fprintf(stdout, "%s\n", body)
	return 0
}
