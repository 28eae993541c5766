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

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/meeting-sync/internal/config"
	"github.com/DoyleJ11/meeting-sync/internal/httpapi"
	"github.com/DoyleJ11/meeting-sync/internal/hub"
	"github.com/DoyleJ11/meeting-sync/internal/logging"
	"github.com/DoyleJ11/meeting-sync/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "meeting-relay:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	flags := pflag.NewFlagSet("meeting-relay", pflag.ExitOnError)
	flags.IntVar(&cfg.Port, "port", cfg.Port, "listen port")
	flags.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "postgres DSN; empty keeps rooms in memory")
	flags.StringVar(&cfg.Level, "log-level", cfg.Level, "debug, info, warn or error")
	flags.BoolVar(&cfg.Dev, "log-dev", cfg.Dev, "human-readable logs")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.Level, cfg.Dev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	var st store.Store
	if cfg.DatabaseURL == "" {
		st = store.NewMemory()
		log.Info("using in-memory store")
	} else {
		st, err = store.NewGorm(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		log.Info("using postgres store")
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.NewHub(ctx, st, log)
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           httpapi.SetupRoutes(h, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		select {
		case h.Inbox() <- hub.ShutdownHub{}:
		case <-h.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
