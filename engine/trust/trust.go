// Package trust scores a client's declared business network by the
// outcomes of the clients it is connected to.
package trust

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vectorcm/credit-memory/engine/domain"
)

// neutralRate is the connected outcome rate used when no connection resolves.
const neutralRate = 0.5

// maxRelated bounds the clients drawn next to the center of a network.
const maxRelated = 20

// Metrics describes a client's position in the trust network.
type Metrics struct {
	ClientID             string   `json:"client_id"`
	Degree               int      `json:"degree_centrality"`
	AvgStrength          float64  `json:"average_connection_strength"`
	ConnectedOutcomeRate float64  `json:"connected_repayment_rate"`
	TrustScore           float64  `json:"network_trust_score"`
	Resolved             int      `json:"resolved_connections"`
	Positive             int      `json:"repaid_connections"`
	Insights             []string `json:"insights"`
}

// Analyzer computes trust metrics against a Directory.
type Analyzer struct {
	dir    Directory
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(dir Directory, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{dir: dir, logger: logger}
}

// Analyze scores the outgoing connections of id. Targets the directory does
// not know are counted in the degree but not in the outcome rate.
func (a *Analyzer) Analyze(ctx context.Context, id string) (Metrics, error) {
	c, ok, err := a.dir.Lookup(ctx, id)
	if err != nil {
		return Metrics{}, err
	}
	if !ok {
		return Metrics{}, fmt.Errorf("trust: %s: %w", id, domain.ErrClientNotFound)
	}

	m := Metrics{ClientID: id, Degree: len(c.Network)}
	var sum float64
	for _, conn := range c.Network {
		sum += conn.Strength
		target, found, err := a.dir.Lookup(ctx, conn.Target)
		if err != nil {
			return Metrics{}, err
		}
		if !found {
			continue
		}
		m.Resolved++
		if target.Outcome.Positive() {
			m.Positive++
		}
	}
	if m.Degree > 0 {
		m.AvgStrength = sum / float64(m.Degree)
	}
	m.ConnectedOutcomeRate = neutralRate
	if m.Resolved > 0 {
		m.ConnectedOutcomeRate = float64(m.Positive) / float64(m.Resolved)
	}
	m.TrustScore = Score(m.Degree, m.AvgStrength, m.ConnectedOutcomeRate)
	m.Insights = insights(m)

	a.logger.Info("trust analysis", "client_id", id, "degree", m.Degree, "resolved", m.Resolved, "score", m.TrustScore)
	return m, nil
}

// Score combines degree, mean strength and outcome rate into [0,1].
func Score(degree int, avgStrength, rate float64) float64 {
	s := float64(degree) * avgStrength * rate / 10
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

func insights(m Metrics) []string {
	out := []string{
		fmt.Sprintf("Client has %d business connections", m.Degree),
		fmt.Sprintf("Average connection strength: %.1f%%", m.AvgStrength*100),
	}
	if m.Resolved > 0 {
		out = append(out, fmt.Sprintf("%d/%d connected clients repaid successfully", m.Positive, m.Resolved))
	} else {
		out = append(out, "No connected client data available")
	}
	return append(out, fmt.Sprintf("Network trust score: %.1f%%", m.TrustScore*100))
}
