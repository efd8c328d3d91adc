// Command audit-trail serves and inspects the immutable audit trail.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yourorg/yourapp/apps/audit/internal/config"
	"github.com/yourorg/yourapp/apps/audit/internal/pdf"
	"github.com/yourorg/yourapp/apps/audit/internal/sqlitestore"
	"github.com/yourorg/yourapp/apps/audit/internal/telemetry"
	"github.com/yourorg/yourapp/apps/audit/internal/trail"
)

var rootCmd = &cobra.Command{
	Use:           "audit-trail",
	Short:         "Tamper-evident audit chains with signed exports",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var envFile string

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(metricsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the assembled store plus whatever must be closed with it.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	keys    trail.Keys
	store   *trail.Store
	metrics *telemetry.Metrics
	repo    *sqlitestore.Repository
}

func loadConfig() (config.Config, *slog.Logger, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return config.Config{}, nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	keys, err := trail.DeriveKeys(cfg.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("derive keys: %w", err)
	}
	if cfg.SigningSecret == "" {
		logger.Warn("AUDIT_SIGNING_SECRET is empty; using ephemeral keys, signatures will not survive a restart")
	}

	a := &app{cfg: cfg, logger: logger, keys: keys, metrics: telemetry.New()}
	opts := trail.Options{
		Keys:              keys,
		Logger:            logger,
		Observer:          a.metrics,
		ReportLocation:    cfg.Location(),
		VerifyInterval:    cfg.VerifyInterval,
		DefaultMaxResults: cfg.DefaultMaxResults,
	}
	if cfg.DBPath != "" {
		ropts := sqlitestore.Options{Path: cfg.DBPath, Logger: logger}
		if cfg.SealEvents {
			ropts.SealKey = keys.Encryption
		}
		repo, err := sqlitestore.Open(ctx, ropts)
		if err != nil {
			return nil, err
		}
		a.repo = repo
		opts.Repository = repo
	}
	if cfg.PDFEnabled {
		opts.PDFRenderer = pdf.NewRenderer(pdf.Config{
			ChromiumPath: cfg.PDFChromiumPath,
			Timeout:      cfg.PDFTimeout,
		}, logger)
	}

	store, err := trail.NewStore(ctx, opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	a.metrics.TrackChains(store)
	return a, nil
}

func (a *app) Close() {
	if a.repo == nil {
		return
	}
	if err := a.repo.Close(); err != nil {
		a.logger.Error("close repository", "error", err)
	}
}
