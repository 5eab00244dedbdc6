package trust

import (
	"context"

	"github.com/vectorcm/credit-memory/engine/domain"
)

// Node groups.
const (
	GroupCenter = "center"
	GroupGood   = "good"
	GroupBad    = "bad"
)

// Node is a client drawn in a trust network.
type Node struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Group          string  `json:"group"`
	Outcome        string  `json:"outcome"`
	EmploymentType string  `json:"employment_type"`
	Val            float64 `json:"val"`
}

// Link is a declared connection between two drawn clients.
type Link struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Value  float64 `json:"value"`
	Type   string  `json:"type"`
}

// Network is the drawable neighbourhood of a client.
type Network struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

// BuildNetwork resolves center and up to twenty related clients and links
// those whose declared connections stay inside the set. Clients that fail
// to resolve are left out of the drawing.
func (a *Analyzer) BuildNetwork(ctx context.Context, center string, related []string) (Network, error) {
	if len(related) > maxRelated {
		related = related[:maxRelated]
	}
	ids := append([]string{center}, related...)

	seen := make(map[string]bool, len(ids))
	var clients []domain.ClientRecord
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		c, ok, err := a.dir.Lookup(ctx, id)
		if err != nil {
			if err := ctx.Err(); err != nil {
				return Network{}, err
			}
			a.logger.Warn("network: client lookup failed", "client_id", id, "error", err)
			continue
		}
		if !ok {
			continue
		}
		c.ClientID = id
		clients = append(clients, c)
	}

	in := make(map[string]bool, len(clients))
	net := Network{Nodes: make([]Node, 0, len(clients)), Links: []Link{}}
	for _, c := range clients {
		in[c.ClientID] = true
		n := Node{
			ID:             c.ClientID,
			Name:           c.Name,
			Outcome:        string(c.Outcome),
			EmploymentType: string(c.EmploymentType),
			Group:          GroupBad,
			Val:            10,
		}
		if n.Name == "" {
			n.Name = c.ClientID
		}
		switch {
		case c.ClientID == center:
			n.Group, n.Val = GroupCenter, 20
		case c.Outcome.Positive():
			n.Group = GroupGood
		}
		net.Nodes = append(net.Nodes, n)
	}
	for _, c := range clients {
		for _, conn := range c.Network {
			if !in[conn.Target] {
				continue
			}
			net.Links = append(net.Links, Link{
				Source: c.ClientID,
				Target: conn.Target,
				Value:  conn.Strength * 5,
				Type:   conn.Type,
			})
		}
	}
	a.logger.Info("network built", "center", center, "nodes", len(net.Nodes), "links", len(net.Links))
	return net, nil
}
