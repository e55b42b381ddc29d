package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	jwtauth "clinical-access-control/internal/adapters/auth/jwt"
	"clinical-access-control/internal/adapters/auth/odin"
	mem "clinical-access-control/internal/adapters/storage/memory"
	pg "clinical-access-control/internal/adapters/storage/postgres"
	sqlitestore "clinical-access-control/internal/adapters/storage/sqlite"
	"clinical-access-control/internal/domain/accesscontrol"
	"clinical-access-control/internal/middleware"
	"clinical-access-control/internal/platform/clock"
	"clinical-access-control/internal/platform/config"
	"clinical-access-control/internal/platform/logger"
	"clinical-access-control/internal/platform/metrics"
	"clinical-access-control/internal/ports/auth"
	"clinical-access-control/internal/ports/ledger"
	"clinical-access-control/internal/router"
)

// @title Clinical Access Control API
// @version 1.0
// @description Registro de entidades y grants de acceso a recursos clínicos con vencimiento.
// @BasePath /
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: logger.ParseFormat(cfg.LogFormat),
		App:    cfg.AppName,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log logger.Logger) error {
	l, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	clk := clock.NewMonotonic(time.Now)
	ctrl := accesscontrol.NewController(l, middleware.ClaimsAuthorizer{},
		accesscontrol.WithLogger(log),
		accesscontrol.WithObserver(m),
	)

	sweeper := &accesscontrol.Sweeper{
		Controller: ctrl,
		Clock:      clk,
		Interval:   cfg.SweepInterval,
		Log:        log,
	}
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: router.NewRouter(router.Options{
			AuthVerifier:   verifier,
			Logger:         log,
			Clock:          clk,
			Metrics:        m,
			Controller:     ctrl,
			RateLimitRPS:   cfg.RateLimitRPS,
			RateLimitBurst: cfg.RateLimitBurst,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", map[string]any{
			"addr":    srv.Addr,
			"storage": cfg.StorageDriver,
			"auth":    cfg.AuthMode,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openLedger(ctx context.Context, cfg config.Config) (ledger.Ledger, func(), error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.StorageDriver {
	case config.StoragePostgres:
		db, err = pg.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return pg.NewLedger(db), func() { _ = db.Close() }, nil

	case config.StorageSQLite:
		db, err = sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return sqlitestore.NewLedger(db), func() { _ = db.Close() }, nil

	default:
		return mem.NewLedger(), func() {}, nil
	}
}

// newVerifier devuelve nil en modo dev (header X-Debug-User-ID).
func newVerifier(cfg config.Config) (auth.AuthVerifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeJWT:
		v, err := jwtauth.NewVerifier(jwtauth.Config{
			Secret: []byte(cfg.JWTSecret),
			Issuer: cfg.JWTIssuer,
		})
		if err != nil {
			return nil, err
		}
		return v, nil

	case config.AuthModeOdin:
		client, err := odin.NewClient(odin.Config{
			BaseURL: cfg.OdinBaseURL,
			APIKey:  cfg.OdinAPIKey,
		})
		if err != nil {
			return nil, err
		}
		return odin.NewVerifier(client), nil

	default:
		return nil, nil
	}
}
