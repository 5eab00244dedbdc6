package main

import (
	"net/http"

	"github.com/vectorcm/credit-memory/engine/ingest"
	"github.com/vectorcm/credit-memory/pkg/app"
	"github.com/vectorcm/credit-memory/pkg/fn"
	"github.com/vectorcm/credit-memory/pkg/mid"
)

// server exposes the engines of an App over HTTP.
type server struct {
	app     *app.App
	history *ingest.Loader
}

func newServer(a *app.App) *server {
	deps := ingest.Deps{
		Store:   a.Store,
		Encoder: a.Encoder,
		Compact: true,
		// A request is retried by its caller, not here.
		Retry:   fn.RetryOpts{MaxAttempts: 1},
		Logger:  a.Logger,
		Metrics: a.Metrics,
	}
	if a.Graph != nil {
		deps.Graph = a.Graph
	}
	return &server{app: a, history: ingest.New(deps)}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", s.app.Metrics.Handler())

	mux.HandleFunc("POST /api/assess", s.handleAssess)
	mux.HandleFunc("POST /api/assess/documents", s.handleAssessDocuments)
	mux.HandleFunc("POST /api/assess/quick", s.handleQuickAssess)
	mux.HandleFunc("POST /api/fraud/check", s.handleFraudCheck)
	mux.HandleFunc("POST /api/fraud/document", s.handleDocumentCheck)
	mux.HandleFunc("POST /api/fraud/templates/{id}", s.handleRegisterTemplate)
	mux.HandleFunc("POST /api/counterfactual", s.handleCounterfactual)
	mux.HandleFunc("POST /api/twin", s.handleTwin)
	mux.HandleFunc("GET /api/temporal/{id}", s.handleTemporal)
	mux.HandleFunc("GET /api/network/{id}", s.handleNetworkAnalyze)
	mux.HandleFunc("POST /api/network", s.handleNetworkBuild)
	mux.HandleFunc("GET /api/graph/stats", s.handleGraphStats)
	mux.HandleFunc("POST /api/applications", s.handleSubmitApplication)
	mux.HandleFunc("GET /api/applications", s.handleListApplications)
	mux.HandleFunc("POST /api/history", s.handleAddHistory)
	return mux
}

func (s *server) handler() http.Handler {
	cfg := s.app.Config.HTTP
	return mid.Chain(s.routes(),
		mid.OTel(cfg.ServiceName),
		mid.RequestID(s.app.Logger),
		mid.Recover(s.app.Logger),
		mid.Logger(s.app.Logger),
		mid.Metrics(s.app.Metrics),
		mid.CORS(cfg.CORSOrigin),
		mid.BodyLimit(cfg.MaxBodyBytes),
	)
}
