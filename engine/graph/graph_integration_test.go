//go:build integration

package graph

import (
	"context"
	"os"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/vectorcm/credit-memory/engine/domain"
)

func testDriver(t *testing.T) neo4j.DriverWithContext {
	t.Helper()
	url := os.Getenv("NEO4J_URL")
	if url == "" {
		url = "neo4j://localhost:7687"
	}
	driver, err := neo4j.NewDriverWithContext(url, neo4j.NoAuth())
	if err != nil {
		t.Fatalf("neo4j connect: %v", err)
	}
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		t.Fatalf("neo4j verify: %v", err)
	}
	t.Cleanup(func() {
		sess := driver.NewSession(ctx, neo4j.SessionConfig{})
		sess.Run(ctx, "MATCH (n:Client) DETACH DELETE n", nil)
		sess.Close(ctx)
		driver.Close(ctx)
	})
	return driver
}

func TestNeo4j_SaveAndLookup(t *testing.T) {
	store := New(testDriver(t), nil)
	ctx := context.Background()

	a := domain.ClientRecord{ApplicantRecord: domain.DefaultApplicant(), Outcome: domain.OutcomeRepaid,
		Network: []domain.Connection{{Target: "B", Type: "supplier", Strength: 0.7}, {Target: "Z", Type: "peer", Strength: 0.2}}}
	a.ClientID = "A"
	b := domain.ClientRecord{ApplicantRecord: domain.DefaultApplicant(), Outcome: domain.OutcomeDefaulted}
	b.ClientID = "B"

	if err := store.SaveBatch(ctx, []domain.ClientRecord{a, b}); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}
	got, ok, err := store.Lookup(ctx, "A")
	if err != nil || !ok {
		t.Fatalf("Lookup: ok=%v err=%v", ok, err)
	}
	if len(got.Network) != 2 {
		t.Fatalf("expected 2 connections, got %+v", got.Network)
	}
	if _, ok, _ := store.Lookup(ctx, "Z"); ok {
		t.Fatal("stub Z should not resolve")
	}
	related, err := store.Related(ctx, "B", 1, 10)
	if err != nil || len(related) != 1 || related[0] != "A" {
		t.Fatalf("Related: %v %v", related, err)
	}
}
