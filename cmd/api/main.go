package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/chainpay/internal/bootstrap"
	"github.com/cassiomorais/chainpay/internal/controller"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "chainpay-api", "chainpay")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	services, err := app.Services(ctx)
	if err != nil {
		app.Logger.Error().Err(err).Msg("Failed to build services")
		app.Close()
		os.Exit(1)
	}

	router := controller.NewRouter(controller.RouterDeps{
		DB:            app.Pool,
		RedisClient:   app.RedisClient(),
		Sessions:      services.Sessions,
		RefundService: services.Refunds,
		Verifier:      services.Monitor,
		Metrics:       app.Metrics,
		Gatherer:      app.Registry,
		CORSConfig:    app.Config.Server.CORS,
		JWTSecret:     app.Config.Auth.JWTSecret,

		RateLimitPerMinute: app.Config.Server.RateLimitPerMinute,
	})
	if app.Config.Auth.JWTSecret == "" {
		app.Logger.Warn().Msg("auth.jwt_secret is not set, API requests will be rejected")
	}

	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
