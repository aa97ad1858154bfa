package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EmpoweredVote/EV-Reforms/internal/api"
	"github.com/EmpoweredVote/EV-Reforms/internal/config"
	"github.com/EmpoweredVote/EV-Reforms/internal/db"
	"github.com/EmpoweredVote/EV-Reforms/internal/logging"
	"github.com/EmpoweredVote/EV-Reforms/internal/reforms"
)

func main() {
	cfg, err := config.Load(os.Getenv("REFORMS_CONFIG"))
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		logging.Default().Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Configure(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logging.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close(gdb)

	if err := reforms.Migrate(ctx, gdb); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	if cfg.AdminKeyHash == "" {
		log.Warn().Msg("ADMIN_KEY_HASH is not set, admin routes are disabled")
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           api.SetupRoutes(reforms.NewPGStore(gdb), cfg.AdminKeyHash),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("port", cfg.Port).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
}
