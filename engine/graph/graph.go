package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/pkg/repo"
)

var errMissingNode = errors.New("graph: record has no client node")

// RelTrusts is the relationship type of a declared connection.
const RelTrusts = "TRUSTS"

// Store is the Neo4j trust mirror.
type Store struct {
	sessions repo.SessionFactory
	clients  *repo.Neo4jRepo[ClientNode, string]
	logger   *slog.Logger
}

// New creates a Store on driver.
func New(driver neo4j.DriverWithContext, logger *slog.Logger) *Store {
	return NewWithSessions(repo.DriverSessions(driver), logger)
}

// NewWithSessions creates a Store on an explicit session factory.
func NewWithSessions(sessions repo.SessionFactory, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: sessions,
		clients: repo.NewNeo4jRepo[ClientNode, string](nil, "Client", nodeToMap, nodeFromRecord,
			repo.WithSessions[ClientNode, string](sessions)),
		logger: logger,
	}
}

// SaveBatch merges the clients and replaces their outgoing connections.
// Targets not in the batch and not yet stored become stub nodes.
func (s *Store) SaveBatch(ctx context.Context, clients []domain.ClientRecord) error {
	if len(clients) == 0 {
		return nil
	}
	nodes := make([]map[string]any, 0, len(clients))
	ids := make([]string, 0, len(clients))
	var edges []map[string]any
	for _, c := range clients {
		if c.ClientID == "" {
			continue
		}
		nodes = append(nodes, nodeToMap(NodeFromClient(c)))
		ids = append(ids, c.ClientID)
		for _, e := range c.Network {
			edges = append(edges, map[string]any{
				"source":   c.ClientID,
				"target":   e.Target,
				"type":     e.Type,
				"strength": e.Strength,
			})
		}
	}

	sess := s.sessions(ctx)
	defer sess.Close(ctx)

	if _, err := sess.Run(ctx,
		`UNWIND $nodes AS c
		 MERGE (n:Client {id: c.id})
		 SET n += c`, map[string]any{"nodes": nodes}); err != nil {
		return fmt.Errorf("graph: save clients: %w", err)
	}
	if _, err := sess.Run(ctx,
		`MATCH (n:Client)-[r:TRUSTS]->() WHERE n.id IN $ids DELETE r`,
		map[string]any{"ids": ids}); err != nil {
		return fmt.Errorf("graph: reset connections: %w", err)
	}
	if len(edges) > 0 {
		if _, err := sess.Run(ctx,
			`UNWIND $edges AS e
			 MATCH (a:Client {id: e.source})
			 MERGE (b:Client {id: e.target})
			   ON CREATE SET b.stub = true
			 MERGE (a)-[r:TRUSTS]->(b)
			 SET r.type = e.type, r.strength = e.strength`, map[string]any{"edges": edges}); err != nil {
			return fmt.Errorf("graph: save connections: %w", err)
		}
	}
	s.logger.Debug("graph batch saved", "clients", len(nodes), "connections", len(edges))
	return nil
}

// SaveClient is SaveBatch for one client.
func (s *Store) SaveClient(ctx context.Context, c domain.ClientRecord) error {
	return s.SaveBatch(ctx, []domain.ClientRecord{c})
}

// Node returns the stored node of id.
func (s *Store) Node(ctx context.Context, id string) (ClientNode, error) {
	return s.clients.Get(ctx, id)
}

// Lookup resolves a client with its outgoing connections. Unknown and stub
// clients report false.
func (s *Store) Lookup(ctx context.Context, id string) (domain.ClientRecord, bool, error) {
	node, err := s.clients.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ClientRecord{}, false, nil
	}
	if err != nil {
		return domain.ClientRecord{}, false, fmt.Errorf("graph: lookup %s: %w", id, err)
	}
	if node.Stub {
		return domain.ClientRecord{}, false, nil
	}

	sess := s.sessions(ctx)
	defer sess.Close(ctx)
	res, err := sess.Run(ctx,
		`MATCH (:Client {id: $id})-[r:TRUSTS]->(t:Client)
		 RETURN t.id AS target, r.type AS type, r.strength AS strength
		 ORDER BY target`, map[string]any{"id": id})
	if err != nil {
		return domain.ClientRecord{}, false, fmt.Errorf("graph: connections of %s: %w", id, err)
	}
	var raw []any
	for res.Next(ctx) {
		rec := res.Record()
		target, _ := rec.Get("target")
		typ, _ := rec.Get("type")
		strength, _ := rec.Get("strength")
		raw = append(raw, map[string]any{"connection_id": target, "type": typ, "strength": strength})
	}

	c := domain.ClientFromPayload(map[string]any{
		domain.KeyClientID: node.ID,
		"name":             node.Name,
		"archetype":        node.Archetype,
		"employment_type":  node.EmploymentType,
		domain.KeyOutcome:  node.Outcome,
		"location":         node.Location,
	})
	c.Network = domain.DecodeConnections(node.ID, raw)
	return c, true, nil
}

// Related returns the ids of non-stub clients within depth hops of id,
// in either direction.
func (s *Store) Related(ctx context.Context, id string, depth, limit int) ([]string, error) {
	if depth <= 0 {
		depth = 1
	}
	if limit <= 0 {
		limit = 20
	}
	sess := s.sessions(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (:Client {id: $id})-[:TRUSTS*1..%d]-(n:Client)
		 WHERE n.id <> $id AND coalesce(n.stub, false) = false
		 RETURN DISTINCT n.id AS id ORDER BY id LIMIT $limit`, depth)
	res, err := sess.Run(ctx, cypher, map[string]any{"id": id, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("graph: related %s: %w", id, err)
	}
	var ids []string
	for res.Next(ctx) {
		if v, ok := res.Record().Get("id"); ok {
			if cid, ok := v.(string); ok {
				ids = append(ids, cid)
			}
		}
	}
	return ids, nil
}
