package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nudge/internal/app"
	"nudge/internal/auth"
	httpx "nudge/internal/http"
)

func serveCmd() *cobra.Command {
	var noWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest API and the notification worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if err := cfg.Require("DATABASE_URL", "JWT_SECRET"); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			svc, err := app.Open(ctx, app.Options{Config: cfg, Log: log})
			if err != nil {
				return err
			}
			defer func() {
				if err := svc.Close(); err != nil {
					log.Warn("close failed", zap.Error(err))
				}
			}()

			srv := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           httpx.NewRouter(cfg, svc, auth.NewJWT(cfg.JWTSecret)),
				ReadHeaderTimeout: 5 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			if !noWorker {
				g.Go(func() error { return svc.Run(gctx) })
			}
			g.Go(func() error {
				log.Info("listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				// graceful shutdown
				ch := make(chan os.Signal, 1)
				signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
				defer signal.Stop(ch)
				select {
				case s := <-ch:
					log.Info("shutting down", zap.String("signal", s.String()))
				case <-gctx.Done():
				}
				cancel()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "serve the API only; another process consumes jobs")
	return cmd
}

func isPostgres(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "postgres" || u.Scheme == "postgresql")
}
