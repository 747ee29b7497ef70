package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"testdocs/api/internal/app"
	"testdocs/api/internal/search"
	"testdocs/api/internal/session"
	"testdocs/api/internal/store"
	"testdocs/api/internal/web"
)

func init() {
	RootCmd.AddCommand(&ServeCommand)
}

var ServeCommand = cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long:  "Apply pending migrations, then serve the JSON API and pages until SIGINT or SIGTERM.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, cleanup, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		logger := rt.logger

		applied, err := store.ApplyMigrations(ctx, rt.db, rt.cfg.MigrationsDir)
		if err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", zap.Strings("versions", applied))
		}

		dataStore := store.NewPostgresStore(rt.db)

		// Revoked tokens live in Redis when configured, otherwise in Postgres.
		var revoked app.RevocationStore = dataStore
		var redisPing func(context.Context) error
		if rt.cfg.RedisURL != "" {
			redisStore, err := session.NewRedisStore(ctx, rt.cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("redis connection failed: %w", err)
			}
			defer redisStore.Close()
			revoked = redisStore
			redisPing = redisStore.Ping
			logger.Info("using redis for token revocation")
		} else {
			logger.Info("using postgres for token revocation")
		}

		engine, closeEngine := searchEngine(rt.cfg, logger)
		defer closeEngine()
		searchService := search.NewService(engine, search.NewStoreFallback(dataStore), logger)
		defer searchService.Wait()

		service := app.New(rt.cfg, dataStore, revoked, searchService, logger)
		pages, err := web.New(service, logger)
		if err != nil {
			return err
		}
		httpServer := app.NewHTTPServer(service, rt.cfg.CORSOrigin, logger).WithPages(pages)
		if redisPing != nil {
			httpServer.WithReadyCheck("redis", redisPing)
		}

		server := &http.Server{
			Addr:              rt.cfg.Addr,
			Handler:           httpServer.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			logger.Info("TestDocs API listening", zap.String("addr", rt.cfg.Addr), zap.String("search", service.SearchEngine()))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()

		select {
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
		case <-ctx.Done():
		}

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		return nil
	},
}
