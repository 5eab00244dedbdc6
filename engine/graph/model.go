// Package graph mirrors the client trust network into Neo4j: one :Client
// node per client and one :TRUSTS relationship per declared connection.
package graph

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/vectorcm/credit-memory/engine/domain"
)

// ClientNode is the node form of a client. Stub nodes exist only as
// targets of a connection whose client was never loaded.
type ClientNode struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	Archetype      string `json:"archetype,omitempty"`
	EmploymentType string `json:"employment_type,omitempty"`
	Outcome        string `json:"outcome"`
	Location       string `json:"location,omitempty"`
	Stub           bool   `json:"stub,omitempty"`
}

// NodeFromClient projects a client record onto its node.
func NodeFromClient(c domain.ClientRecord) ClientNode {
	return ClientNode{
		ID:             c.ClientID,
		Name:           c.Name,
		Archetype:      c.Archetype,
		EmploymentType: string(c.EmploymentType),
		Outcome:        string(c.Outcome),
		Location:       c.Location,
	}
}

func nodeToMap(n ClientNode) map[string]any {
	return map[string]any{
		"id":              n.ID,
		"name":            n.Name,
		"archetype":       n.Archetype,
		"employment_type": n.EmploymentType,
		"outcome":         n.Outcome,
		"location":        n.Location,
		"stub":            n.Stub,
	}
}

func nodeFromProps(props map[string]any) ClientNode {
	stub, _ := props["stub"].(bool)
	return ClientNode{
		ID:             strProp(props, "id"),
		Name:           strProp(props, "name"),
		Archetype:      strProp(props, "archetype"),
		EmploymentType: strProp(props, "employment_type"),
		Outcome:        strProp(props, "outcome"),
		Location:       strProp(props, "location"),
		Stub:           stub,
	}
}

func nodeFromRecord(rec *neo4j.Record) (ClientNode, error) {
	v, ok := rec.Get("n")
	if !ok {
		return ClientNode{}, errMissingNode
	}
	switch n := v.(type) {
	case dbtype.Node:
		return nodeFromProps(n.Props), nil
	case map[string]any:
		return nodeFromProps(n), nil
	}
	return ClientNode{}, errMissingNode
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
