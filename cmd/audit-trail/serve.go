package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/yourapp/apps/audit/internal/exportjob"
	"github.com/yourorg/yourapp/apps/audit/internal/httpapi"
	"github.com/yourorg/yourapp/apps/audit/internal/trail"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the audit HTTP API",
	RunE:  runServe,
}

var listenAddr string

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "override listen address")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg
	if listenAddr != "" {
		cfg.HTTPAddr = listenAddr
	}

	storage, err := exportStorage(a)
	if err != nil {
		return err
	}
	jobs := exportjob.NewJobQueue(exportjob.Deps{
		Exporter: a.store,
		Storage:  storage,
		Recorder: a.store,
		Observer: a.metrics,
		Logger:   a.logger,
	}, exportjob.Config{
		Bucket:             cfg.ExportBucket,
		RetentionPeriod:    cfg.ExportRetention,
		MaxConcurrentJobs:  cfg.ExportMaxConcurrent,
		MaxQueueDepth:      cfg.ExportMaxQueue,
		MaxRetries:         cfg.ExportMaxRetries,
		RetryBaseDelay:     cfg.ExportRetryBase,
		QueueRetryAfter:    cfg.QueueRetryAfter,
		SignURLTTL:         cfg.SignURLTTL,
		RateLimitPerMinute: cfg.ExportRatePerMinute,
	})
	defer jobs.Close()

	api := httpapi.New(httpapi.Deps{
		Store:   a.store,
		Jobs:    jobs,
		Limiter: exportjob.NewRateLimiter(cfg.ExportRatePerMinute, time.Minute),
		Metrics: a.metrics.Handler(),
		Logger:  a.logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("audit api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		verifyPeriodically(gctx, a, cfg.VerifyInterval)
		return nil
	})
	err = g.Wait()
	a.logger.Info("audit api stopped")
	return err
}

func exportStorage(a *app) (exportjob.Storage, error) {
	signer := exportjob.URLSigner{Key: a.keys.Signing}
	if a.cfg.ExportDir == "" {
		return exportjob.NewInMemoryStorage(signer), nil
	}
	s, err := exportjob.NewDirStorage(a.cfg.ExportDir, signer)
	if err != nil {
		return nil, fmt.Errorf("export dir: %w", err)
	}
	return s, nil
}

// verifyPeriodically re-verifies every chain on each tick until ctx ends.
func verifyPeriodically(ctx context.Context, a *app, every time.Duration) {
	if every <= 0 {
		every = trail.DefaultVerifyInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			verifyAll(ctx, a)
		}
	}
}

func verifyAll(ctx context.Context, a *app) {
	for _, c := range a.store.Chains() {
		res, err := a.store.VerifyChainIntegrity(ctx, c.ID)
		if err != nil {
			a.logger.Error("scheduled verification failed", "chainId", c.ID, "error", err)
			continue
		}
		if !res.IsValid {
			a.logger.Warn("audit chain failed verification", "chainId", c.ID, "failedEvents", res.FailedEvents, "findings", len(res.Errors))
		}
	}
}
