package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/pkg/repo"
)

type mockResult struct {
	records []*neo4j.Record
	idx     int
}

func newMockResult(recs ...*neo4j.Record) *mockResult { return &mockResult{records: recs} }

func (m *mockResult) Next(ctx context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }

// mockSession answers Run calls from a queue of results.
type mockSession struct {
	results []*mockResult
	errAt   int
	err     error
	cyphers []string
	params  []map[string]any
}

func (m *mockSession) Run(ctx context.Context, cypher string, params map[string]any) (repo.Result, error) {
	m.cyphers = append(m.cyphers, cypher)
	m.params = append(m.params, params)
	if m.err != nil && len(m.cyphers) == m.errAt {
		return nil, m.err
	}
	if len(m.results) == 0 {
		return newMockResult(), nil
	}
	r := m.results[0]
	m.results = m.results[1:]
	return r, nil
}

func (m *mockSession) Close(ctx context.Context) error { return nil }

func newTestStore(sess *mockSession) *Store {
	return NewWithSessions(func(ctx context.Context) repo.Runner { return sess }, nil)
}

func nodeRecord(props map[string]any) *neo4j.Record {
	return &neo4j.Record{Keys: []string{"n"}, Values: []any{dbtype.Node{Props: props}}}
}

func edgeRecord(target, typ string, strength float64) *neo4j.Record {
	return &neo4j.Record{
		Keys:   []string{"target", "type", "strength"},
		Values: []any{target, typ, strength},
	}
}

func TestSaveBatch(t *testing.T) {
	sess := &mockSession{}
	c := domain.ClientRecord{
		ApplicantRecord: domain.DefaultApplicant(),
		Outcome:         domain.OutcomeRepaid,
		Network: []domain.Connection{
			{Source: "C1", Target: "C2", Type: "supplier", Strength: 0.8},
			{Source: "C1", Target: "C3", Type: "family", Strength: 0.4},
		},
	}
	c.ClientID = "C1"

	if err := newTestStore(sess).SaveBatch(context.Background(), []domain.ClientRecord{c}); err != nil {
		t.Fatal(err)
	}
	if len(sess.cyphers) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(sess.cyphers))
	}
	nodes := sess.params[0]["nodes"].([]map[string]any)
	if nodes[0]["id"] != "C1" || nodes[0]["outcome"] != "repaid" || nodes[0]["stub"] != false {
		t.Fatalf("unexpected node params %v", nodes[0])
	}
	edges := sess.params[2]["edges"].([]map[string]any)
	if len(edges) != 2 || edges[1]["target"] != "C3" || edges[1]["strength"] != 0.4 {
		t.Fatalf("unexpected edges %v", edges)
	}
	if !strings.Contains(sess.cyphers[2], "ON CREATE SET b.stub = true") {
		t.Fatal("targets should be created as stubs")
	}
}

func TestSaveBatch_NoEdges(t *testing.T) {
	sess := &mockSession{}
	c := domain.ClientRecord{ApplicantRecord: domain.DefaultApplicant()}
	c.ClientID = "solo"
	if err := newTestStore(sess).SaveClient(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	if len(sess.cyphers) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(sess.cyphers))
	}
}

func TestSaveBatch_Error(t *testing.T) {
	sess := &mockSession{err: errors.New("neo4j down"), errAt: 1}
	c := domain.ClientRecord{ApplicantRecord: domain.DefaultApplicant()}
	c.ClientID = "C1"
	if err := newTestStore(sess).SaveClient(context.Background(), c); err == nil {
		t.Fatal("expected error")
	}
}

func TestLookup(t *testing.T) {
	sess := &mockSession{results: []*mockResult{
		newMockResult(nodeRecord(map[string]any{
			"id": "C1", "name": "Amina", "outcome": "repaid", "employment_type": "informal", "stub": false,
		})),
		newMockResult(edgeRecord("C2", "supplier", 0.9), edgeRecord("C3", "family", 0.4)),
	}}
	c, ok, err := newTestStore(sess).Lookup(context.Background(), "C1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected client to resolve")
	}
	if c.Outcome != domain.OutcomeRepaid || c.Name != "Amina" {
		t.Fatalf("unexpected client %+v", c)
	}
	if len(c.Network) != 2 || c.Network[0].Target != "C2" || c.Network[0].Source != "C1" || c.Network[1].Strength != 0.4 {
		t.Fatalf("unexpected network %+v", c.Network)
	}
}

func TestLookup_NotFoundAndStub(t *testing.T) {
	sess := &mockSession{}
	_, ok, err := newTestStore(sess).Lookup(context.Background(), "ghost")
	if err != nil || ok {
		t.Fatalf("expected unresolved without error, got ok=%v err=%v", ok, err)
	}

	sess = &mockSession{results: []*mockResult{newMockResult(nodeRecord(map[string]any{"id": "S", "stub": true}))}}
	_, ok, err = newTestStore(sess).Lookup(context.Background(), "S")
	if err != nil || ok {
		t.Fatalf("stub should not resolve, got ok=%v err=%v", ok, err)
	}
	if len(sess.cyphers) != 1 {
		t.Fatal("stub lookup should not fetch connections")
	}
}

func TestLookup_Error(t *testing.T) {
	sess := &mockSession{err: errors.New("boom"), errAt: 1}
	_, _, err := newTestStore(sess).Lookup(context.Background(), "C1")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRelated(t *testing.T) {
	rec := func(id string) *neo4j.Record { return &neo4j.Record{Keys: []string{"id"}, Values: []any{id}} }
	sess := &mockSession{results: []*mockResult{newMockResult(rec("C2"), rec("C5"))}}
	ids, err := newTestStore(sess).Related(context.Background(), "C1", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[1] != "C5" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if !strings.Contains(sess.cyphers[0], "[:TRUSTS*1..2]") {
		t.Fatalf("depth not applied: %s", sess.cyphers[0])
	}
	if sess.params[0]["limit"] != 20 {
		t.Fatalf("expected default limit, got %v", sess.params[0]["limit"])
	}
}

func TestStats(t *testing.T) {
	count := func(key string, v any, n int64) *neo4j.Record {
		return &neo4j.Record{Keys: []string{key, "count"}, Values: []any{v, n}}
	}
	sess := &mockSession{results: []*mockResult{
		newMockResult(count("stub", false, 10), count("stub", true, 3)),
		newMockResult(count("type", "family", 7), count("type", "supplier", 2)),
	}}
	st, err := newTestStore(sess).Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Clients != 10 || st.Stubs != 3 || st.Connections["family"] != 7 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestNodeFromRecord(t *testing.T) {
	n, err := nodeFromRecord(&neo4j.Record{Keys: []string{"n"}, Values: []any{map[string]any{"id": "x", "outcome": "defaulted"}}})
	if err != nil || n.ID != "x" || n.Outcome != "defaulted" {
		t.Fatalf("unexpected %+v %v", n, err)
	}
	if _, err := nodeFromRecord(&neo4j.Record{Keys: []string{"m"}, Values: []any{1}}); err == nil {
		t.Fatal("expected error for missing node")
	}
}
