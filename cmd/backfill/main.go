// Command backfill mirrors the credit collection of the similarity index
// into Neo4j. It is used when the graph is enabled after the corpus was
// already ingested, or to repair a mirror whose writes failed during ingest.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/engine/semantic"
	"github.com/vectorcm/credit-memory/pkg/app"
	"github.com/vectorcm/credit-memory/pkg/config"
	"github.com/vectorcm/credit-memory/pkg/fn"
	"github.com/vectorcm/credit-memory/pkg/logging"
)

const scrollPage = 500

// Mirror receives client batches.
type Mirror interface {
	SaveBatch(ctx context.Context, clients []domain.ClientRecord) error
}

// Result counts what a backfill did.
type Result struct {
	Scanned  int `json:"scanned"`
	Mirrored int `json:"mirrored"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

func main() {
	cfgPath := flag.String("config", "", "YAML config file (overrides $"+config.FileEnv+")")
	batch := flag.Int("batch", 0, "clients per graph write (default ingest.batch_size)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if *batch <= 0 {
		*batch = cfg.Ingest.BatchSize
	}
	if err := run(cfg, *batch, logger); err != nil {
		logger.Error("backfill failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, batch int, logger *slog.Logger) error {
	if cfg.Neo4j.URL == "" {
		return errors.New("backfill: neo4j.url is not configured")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	retry := fn.RetryOpts{
		MaxAttempts: cfg.Ingest.MaxAttempts,
		InitialWait: cfg.Ingest.RetryWait,
		MaxWait:     cfg.Ingest.RetryWait * 8,
		Jitter:      true,
	}
	res, err := Backfill(ctx, a.Store, a.Graph, batch, retry, logger)
	logger.Info("backfill done",
		"scanned", res.Scanned,
		"mirrored", res.Mirrored,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	if err != nil {
		return err
	}

	st, err := a.Graph.Stats(ctx)
	if err != nil {
		return err
	}
	logger.Info("graph now", "clients", st.Clients, "stubs", st.Stubs, "connections", st.Connections)
	return nil
}

// Backfill reads every credit record from src and writes it to dst in
// batches. Records without a client id are skipped. A failed batch is
// counted and the run continues; the joined errors are returned at the end.
func Backfill(ctx context.Context, src semantic.Scroller, dst Mirror, batch int, retry fn.RetryOpts, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	points, err := semantic.ScrollAll(ctx, src, semantic.CollectionCredit, nil, scrollPage)
	if err != nil {
		return Result{}, fmt.Errorf("backfill: scroll: %w: %w", domain.ErrIndexUnavailable, err)
	}

	var res Result
	clients := make([]domain.ClientRecord, 0, len(points))
	for _, p := range points {
		res.Scanned++
		c := domain.ClientFromPayload(p.Payload)
		if c.ClientID == "" {
			res.Skipped++
			continue
		}
		clients = append(clients, c)
	}
	logger.Info("found credit records", "count", len(clients), "skipped", res.Skipped)

	var errs []error
	for i, chunk := range fn.Chunk(clients, batch) {
		r := fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[int] {
			if err := dst.SaveBatch(ctx, chunk); err != nil {
				return fn.Err[int](err)
			}
			return fn.Ok(len(chunk))
		})
		n, err := r.Unwrap()
		if err != nil {
			logger.Warn("batch failed", "batch", i, "size", len(chunk), "err", err)
			res.Failed += len(chunk)
			errs = append(errs, fmt.Errorf("backfill: batch %d: %w", i, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		res.Mirrored += n
		if (i+1)%10 == 0 {
			logger.Info("progress", "mirrored", res.Mirrored, "failed", res.Failed, "total", len(clients))
		}
	}
	return res, errors.Join(errs...)
}
