// Package app assembles the engines, stores and transports of a process
// from its configuration. Every binary builds one App and closes it on exit.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/vectorcm/credit-memory/engine/counterfactual"
	"github.com/vectorcm/credit-memory/engine/credit"
	"github.com/vectorcm/credit-memory/engine/decision"
	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/engine/features"
	"github.com/vectorcm/credit-memory/engine/fraud"
	"github.com/vectorcm/credit-memory/engine/graph"
	"github.com/vectorcm/credit-memory/engine/oracle"
	"github.com/vectorcm/credit-memory/engine/semantic"
	"github.com/vectorcm/credit-memory/engine/temporal"
	"github.com/vectorcm/credit-memory/engine/trust"
	"github.com/vectorcm/credit-memory/engine/twin"
	"github.com/vectorcm/credit-memory/pkg/config"
	"github.com/vectorcm/credit-memory/pkg/imgembed"
	"github.com/vectorcm/credit-memory/pkg/metrics"
	"github.com/vectorcm/credit-memory/pkg/natsutil"
	"github.com/vectorcm/credit-memory/pkg/ollama"
	"github.com/vectorcm/credit-memory/pkg/resilience"
)

// App holds the wired components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Manager

	Store   semantic.Index
	Encoder *features.Encoder
	Bus     *natsutil.Bus
	Graph   *graph.Store

	Decisions      *decision.Engine
	Quick          *decision.CompactScreen
	Fraud          *fraud.Screen
	Documents      *fraud.DocumentScreen
	Twins          *twin.Finder
	Counterfactual *counterfactual.Simulator
	Tracker        *temporal.Tracker
	Recorder       *temporal.Recorder
	Trust          *trust.Analyzer
	Oracle         *oracle.Oracle
	Credit         *credit.Service

	closers []func(context.Context) error
}

// Options overrides parts of the wiring, mostly for tests.
type Options struct {
	// Store replaces the configured index.
	Store semantic.Index
	// Generator replaces the Ollama generator.
	Generator oracle.Generator
	// Text replaces the Ollama text encoder.
	Text features.TextEncoder
	// Publisher replaces the NATS bus for snapshot events.
	Publisher temporal.Publisher
}

// New connects the stores named by cfg and builds every engine on top of
// them. Optional backends (Neo4j, NATS, the generator) stay disabled when
// their address is empty.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.NewManager()}

	if err := a.openStore(ctx, opts.Store); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	if err := a.openGraph(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	pub := opts.Publisher
	if pub == nil && cfg.NATS.URL != "" {
		bus, err := natsutil.Connect(cfg.NATS.URL, cfg.NATS.Name, logger)
		if err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("app: %w", err)
		}
		a.Bus = bus
		a.closers = append(a.closers, func(context.Context) error { return bus.Close() })
		pub = bus
	}

	a.Encoder = features.New(features.Options{
		Layout:  cfg.Layout,
		Text:    a.textEncoder(opts.Text),
		Images:  a.imageEncoder(),
		Logger:  logger,
		Metrics: a.Metrics,
	})

	th := cfg.Thresholds
	a.Decisions = decision.New(a.Encoder, a.Store, decision.Options{Thresholds: th, Logger: logger, Metrics: a.Metrics})
	a.Quick = decision.NewCompactScreen(a.Store, decision.Options{Thresholds: th, Logger: logger, Metrics: a.Metrics})
	fraudOpts := fraud.Options{Thresholds: th, Logger: logger, Metrics: a.Metrics}
	a.Fraud = fraud.NewScreen(a.Encoder, a.Store, fraudOpts)
	a.Documents = fraud.NewDocumentScreen(a.Encoder, a.Store, fraudOpts)
	a.Twins = twin.NewFinder(a.Encoder, a.Store, twin.Options{Thresholds: th, Logger: logger, Metrics: a.Metrics})
	a.Oracle = a.newOracle(opts.Generator)
	a.Counterfactual = counterfactual.New(a.Decisions, counterfactual.Options{
		Thresholds: th,
		Narrator:   a.Oracle,
		Logger:     logger,
		Metrics:    a.Metrics,
	})
	a.Tracker = temporal.NewTracker(a.Store, temporal.Options{Logger: logger, Metrics: a.Metrics})
	a.Recorder = temporal.NewRecorder(a.Store, a.Encoder, temporal.RecorderOptions{
		Publisher: pub,
		Logger:    logger,
		Metrics:   a.Metrics,
	})

	var dir trust.Directory = trust.NewIndexDirectory(a.Store, semantic.CollectionCredit, a.Metrics)
	if a.Graph != nil {
		dir = a.Graph
	}
	a.Trust = trust.NewAnalyzer(dir, logger)

	a.Credit = credit.New(a.Decisions, credit.Options{
		Thresholds: th,
		Screener:   a.Fraud,
		Twins:      a.Twins,
		Explainer:  a.Oracle,
		Logger:     logger,
	})
	return a, nil
}

func (a *App) openStore(ctx context.Context, override semantic.Index) error {
	switch {
	case override != nil:
		a.Store = override
		return nil
	case a.Config.Qdrant.InMemory:
		a.Logger.Warn("using the in-memory index; data is lost on exit")
		a.Store = semantic.NewMemoryStore()
		return nil
	}

	vs, err := semantic.New(a.Config.Qdrant.Addr)
	if err != nil {
		return fmt.Errorf("app: qdrant connect: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return vs.Close() })
	for coll, dims := range a.collectionDims() {
		if err := vs.EnsureCollection(ctx, coll, dims); err != nil {
			return fmt.Errorf("app: ensure %s: %w", coll, err)
		}
	}
	a.Store = vs
	return nil
}

// collectionDims returns the vector width of every collection.
func (a *App) collectionDims() map[string]int {
	doc := a.Config.Layout.Document
	if doc == 0 {
		doc = features.MultimodalLayout().Document
	}
	profile := a.Config.Layout.Dim()
	return map[string]int{
		semantic.CollectionCredit:    profile,
		semantic.CollectionFraud:     profile,
		semantic.CollectionTemporal:  profile,
		semantic.CollectionDocuments: doc,
		semantic.CollectionCompact:   features.CompactDim,
	}
}

func (a *App) openGraph(ctx context.Context) error {
	c := a.Config.Neo4j
	if c.URL == "" {
		return nil
	}
	driver, err := neo4j.NewDriverWithContext(c.URL, neo4j.BasicAuth(c.User, c.Pass, ""))
	if err != nil {
		return fmt.Errorf("app: neo4j driver: %w", err)
	}
	a.closers = append(a.closers, driver.Close)
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("app: neo4j connectivity: %w", err)
	}
	a.Graph = graph.New(driver, a.Logger)
	return nil
}

func (a *App) textEncoder(override features.TextEncoder) *features.LazyText {
	if override != nil {
		return features.StaticText(override)
	}
	c := a.Config.Ollama
	if c.URL == "" || c.EmbedModel == "" {
		a.Logger.Warn("no text encoder configured; the text block stays zero")
		return nil
	}
	return features.NewLazyText(func(context.Context) (features.TextEncoder, error) {
		return ollama.NewClient(c.URL, c.EmbedModel, c.GenModel, c.Timeout), nil
	})
}

func (a *App) imageEncoder() features.ImageEncoder {
	if a.Config.Images.URL == "" {
		return imgembed.HashEncoder{}
	}
	return imgembed.NewClient(a.Config.Images.URL, a.Config.Images.Timeout)
}

func (a *App) newOracle(override oracle.Generator) *oracle.Oracle {
	c := a.Config.Oracle
	gen := override
	if gen == nil && a.Config.Ollama.URL != "" && a.Config.Ollama.GenModel != "" {
		o := a.Config.Ollama
		gen = ollama.NewClient(o.URL, o.EmbedModel, o.GenModel, o.Timeout)
	}
	logger := a.Logger
	return oracle.New(gen, oracle.Options{
		Timeout: c.CallTimeout,
		Breaker: resilience.NewBreaker(resilience.BreakerOpts{
			Name:          "oracle",
			FailThreshold: c.FailThreshold,
			Timeout:       c.OpenTimeout,
			HalfOpenMax:   1,
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
		Limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: c.RatePerSecond, Burst: c.Burst}),
		Logger:  logger,
		Metrics: a.Metrics,
	})
}

// Related returns the ids around clientID for the network view: the graph
// neighbourhood when the mirror is enabled, else the client's own declared
// connections.
func (a *App) Related(ctx context.Context, clientID string) ([]string, error) {
	if a.Graph != nil {
		return a.Graph.Related(ctx, clientID, 2, 0)
	}
	dir := trust.NewIndexDirectory(a.Store, semantic.CollectionCredit, a.Metrics)
	c, ok, err := dir.Lookup(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("app: related %s: %w", clientID, domain.ErrClientNotFound)
	}
	ids := make([]string, 0, len(c.Network))
	for _, conn := range c.Network {
		ids = append(ids, conn.Target)
	}
	return ids, nil
}

// Close releases every backend in reverse opening order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
