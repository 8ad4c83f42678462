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

	"github.com/cassiomorais/chainpay/internal/bootstrap"
	"github.com/cassiomorais/chainpay/internal/controller"
	"github.com/cassiomorais/chainpay/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := bootstrap.New(ctx, "chainpay-worker", "chainpay_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	wcfg := app.Config.RefundWorker
	if !wcfg.Enabled {
		app.Logger.Warn().Msg("Refund worker disabled by configuration")
		return
	}

	services, err := app.Services(ctx)
	if err != nil {
		app.Logger.Error().Err(err).Msg("Failed to build services")
		app.Close()
		os.Exit(1)
	}

	refundWorker := worker.NewRefundWorker(worker.Config{
		PollInterval:     wcfg.PollInterval,
		BatchSize:        wcfg.BatchSize,
		ConfirmBatchSize: wcfg.ConfirmBatchSize,
		LockKey:          wcfg.LockKey,
		LockTTL:          wcfg.LockTTL,
		StaleAfter:       wcfg.StaleAfter,
	}, services.RefundRepo, services.TxManager, services.Refunds, app.Mutex(), app.Logger, app.Metrics)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Refund worker loop.
	g.Go(func() error {
		return refundWorker.Run(gCtx)
	})

	// 2. Ops server for health and metrics.
	if wcfg.OpsPort > 0 {
		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", wcfg.OpsPort),
			Handler: controller.NewRouter(controller.RouterDeps{
				DB:          app.Pool,
				RedisClient: app.RedisClient(),
				Worker:      refundWorker,
				Metrics:     app.Metrics,
				Gatherer:    app.Registry,
				CORSConfig:  app.Config.Server.CORS,
			}),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			app.Logger.Info().Str("addr", srv.Addr).Msg("Starting ops server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	app.Logger.Info().
		Dur("poll_interval", wcfg.PollInterval).
		Int("batch_size", wcfg.BatchSize).
		Msg("Worker started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
