// Command sessiond is a small web server keeping its sessions in a table
// service. The backend is selected with SESSION_BACKEND.
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

	"github.com/bluescreen10/tablesession"
	"github.com/bluescreen10/tablesession/internal/config"
	"github.com/bluescreen10/tablesession/logger"
	"github.com/bluescreen10/tablesession/session"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	lgr := logger.New(
		logger.WithLevel(cfg.LogLevel),
		logger.WithConsole(cfg.LogFormat == "console"),
	)
	log := lgr.Zerolog()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if err := run(ctx, cfg, lgr, log); err != nil {
		log.Fatal().Err(err).Msg("sessiond failed")
	}
}

func run(ctx context.Context, cfg *config.Config, lgr *logger.Logger, log zerolog.Logger) error {
	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	opts := append(cfg.StoreOptions(),
		tablesession.WithLogger(log.With().Str("component", "store").Logger()),
		tablesession.WithErrorLogger(log.With().Str("component", "sweeper").Logger()),
	)
	store, err := tablesession.New(ctx, backend, opts...)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr := session.NewManager(store,
		session.WithLifetime(cfg.Session.Lifetime),
		session.WithLogger(log),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           lgr.Handler(mgr.Handler(routes(mgr))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	log.Info().
		Str("port", cfg.Port).
		Str("backend", cfg.Session.Backend).
		Msg("sessiond started")

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	log.Info().Msg("sessiond stopped cleanly")
	return nil
}
