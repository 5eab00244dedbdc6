// Command ingest loads the historical corpora into the similarity index:
// credit outcomes, fraud cases and temporal snapshots from JSON-lines files,
// and forged document templates from an image directory. Credit records are
// mirrored into Neo4j when it is configured.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vectorcm/credit-memory/engine/ingest"
	"github.com/vectorcm/credit-memory/pkg/app"
	"github.com/vectorcm/credit-memory/pkg/config"
	"github.com/vectorcm/credit-memory/pkg/fn"
	"github.com/vectorcm/credit-memory/pkg/logging"
)

type flags struct {
	config    string
	credit    string
	fraud     string
	temporal  string
	documents string
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "YAML config file (overrides $"+config.FileEnv+")")
	flag.StringVar(&f.credit, "credit", "", "JSON-lines file of credit outcome records")
	flag.StringVar(&f.fraud, "fraud", "", "JSON-lines file of known fraud cases")
	flag.StringVar(&f.temporal, "temporal", "", "JSON-lines file of temporal snapshots")
	flag.StringVar(&f.documents, "documents", "", "directory of forged document images")
	flag.Parse()

	cfg, err := config.Load(f.config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, f, logger); err != nil {
		logger.Error("ingest failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, f flags, logger *slog.Logger) error {
	if f.credit == "" && f.fraud == "" && f.temporal == "" && f.documents == "" {
		return errors.New("nothing to load: pass -credit, -fraud, -temporal or -documents")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	deps := ingest.Deps{
		Store:     a.Store,
		Encoder:   a.Encoder,
		Compact:   true,
		BatchSize: cfg.Ingest.BatchSize,
		Workers:   cfg.Ingest.Workers,
		Retry: fn.RetryOpts{
			MaxAttempts: cfg.Ingest.MaxAttempts,
			InitialWait: cfg.Ingest.RetryWait,
			MaxWait:     30 * cfg.Ingest.RetryWait,
			Jitter:      true,
			OnRetry: func(attempt int, err error) {
				logger.Warn("ingest: retrying batch", "attempt", attempt, "err", err)
			},
		},
		Logger:  logger,
		Metrics: a.Metrics,
	}
	if a.Graph != nil {
		deps.Graph = a.Graph
	}
	loader := ingest.New(deps)

	report := make(map[ingest.Kind]ingest.Stats)
	var errs []error
	for _, job := range []struct {
		kind ingest.Kind
		path string
	}{
		{ingest.KindCredit, f.credit},
		{ingest.KindFraud, f.fraud},
		{ingest.KindTemporal, f.temporal},
	} {
		if job.path == "" {
			continue
		}
		stats, err := loadFile(ctx, loader, job.kind, job.path)
		report[job.kind] = stats
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.kind, err))
		}
	}
	if f.documents != "" {
		stats, err := loader.LoadImages(ctx, f.documents)
		report[ingest.KindDocuments] = stats
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ingest.KindDocuments, err))
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func loadFile(ctx context.Context, l *ingest.Loader, kind ingest.Kind, path string) (ingest.Stats, error) {
	file, err := os.Open(path)
	if err != nil {
		return ingest.Stats{}, err
	}
	defer file.Close()
	return l.LoadJSONL(ctx, kind, file)
}
