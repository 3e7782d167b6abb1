package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fleet-feedback/internal/fleet"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the feedback API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Resolver != nil {
			warmResolver(ctx, env)
		}

		router := buildRouter(&api{
			svc:         env.Service,
			alerter:     env.Alerter,
			tokenHeader: cfg.Server.TokenHeader,
		}, cfg.Server)

		// A failed listener also stops the drift checker.
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return startServer(gctx, router, resolvePort(servePort, cfg.Server.Port))
		})
		if env.Drift != nil {
			g.Go(func() error {
				env.Drift.Run(gctx)
				return nil
			})
		}
		return g.Wait()
	},
}

// warmResolver adopts the assignment column before the first request. A
// failure is not fatal: requests retry resolution until it succeeds.
func warmResolver(ctx context.Context, env *appEnv) {
	column, err := env.Resolver.Resolve(ctx)
	if err != nil {
		zap.L().Warn("assignment column not resolved at startup", zap.Error(err))
		var resErr *fleet.ResolutionError
		if errors.As(err, &resErr) {
			env.Alerter.NotifyResolutionFailure(ctx, resErr)
		}
		return
	}
	zap.L().Info("assignment column resolved",
		zap.String("table", env.Resolver.Target().QualifiedName()),
		zap.String("column", column),
	)
}

func resolvePort(flag, fallback int) int {
	if flag != 0 {
		return flag
	}
	return fallback
}

// startServer serves handler until ctx is cancelled, then drains in-flight
// requests.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
