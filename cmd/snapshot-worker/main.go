// Command snapshot-worker appends follow-up observations (T1, T2) of
// recorded applications. It consumes checkpoint events from NATS and
// writes them to the temporal collection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/pkg/app"
	"github.com/vectorcm/credit-memory/pkg/config"
	"github.com/vectorcm/credit-memory/pkg/logging"
	"github.com/vectorcm/credit-memory/pkg/natsutil"
)

// Appender stores a follow-up checkpoint.
type Appender interface {
	AppendCheckpoint(ctx context.Context, s domain.Snapshot) error
}

func main() {
	cfgPath := flag.String("config", "", "YAML config file (overrides $"+config.FileEnv+")")
	metricsAddr := flag.String("metrics", ":9091", "address serving /metrics")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, *metricsAddr, logger); err != nil {
		logger.Error("snapshot worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, metricsAddr string, logger *slog.Logger) error {
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	sub, err := Subscribe(a.Bus.Conn(), a.Recorder, logger)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()
	logger.Info("snapshot worker started", "subject", natsutil.SubjectCheckpointObserved)

	srv := &http.Server{
		Addr:              metricsAddr,
		Handler:           a.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// Subscribe consumes checkpoint events on nc and hands them to rec.
func Subscribe(nc *nats.Conn, rec Appender, logger *slog.Logger) (*nats.Subscription, error) {
	return natsutil.Subscribe(nc, natsutil.SubjectCheckpointObserved, logger, HandleCheckpoint(rec, logger))
}

// HandleCheckpoint appends one observation. Events for unknown clients or
// out of checkpoint order are dropped with a warning; index failures are
// returned so the subscription logs them as errors.
func HandleCheckpoint(rec Appender, logger *slog.Logger) func(context.Context, domain.Snapshot) error {
	return func(ctx context.Context, s domain.Snapshot) error {
		if s.ClientID == "" || s.Checkpoint == "" {
			logger.Warn("dropping checkpoint without client or label", "client_id", s.ClientID, "checkpoint", s.Checkpoint)
			return nil
		}
		err := rec.AppendCheckpoint(ctx, s)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrClientNotFound), errors.Is(err, domain.ErrCheckpointOrder):
			logger.Warn("dropping checkpoint", "client_id", s.ClientID, "checkpoint", s.Checkpoint, "err", err)
			return nil
		default:
			return fmt.Errorf("append %s/%s: %w", s.ClientID, s.Checkpoint, err)
		}
	}
}
