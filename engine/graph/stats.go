package graph

import (
	"context"
	"fmt"
)

// Stats summarises the mirror.
type Stats struct {
	Clients     int64            `json:"clients"`
	Stubs       int64            `json:"stubs"`
	Connections map[string]int64 `json:"connections"`
}

// Stats counts client nodes and connections grouped by connection type.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	sess := s.sessions(ctx)
	defer sess.Close(ctx)

	st := Stats{Connections: make(map[string]int64)}
	res, err := sess.Run(ctx,
		`MATCH (n:Client) RETURN coalesce(n.stub, false) AS stub, count(*) AS count`, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("graph: node stats: %w", err)
	}
	for res.Next(ctx) {
		rec := res.Record()
		stub, _ := rec.Get("stub")
		cnt, _ := rec.Get("count")
		c, _ := cnt.(int64)
		if b, _ := stub.(bool); b {
			st.Stubs += c
		} else {
			st.Clients += c
		}
	}

	res, err = sess.Run(ctx,
		`MATCH (:Client)-[r:TRUSTS]->(:Client) RETURN coalesce(r.type, 'unknown') AS type, count(*) AS count`, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("graph: connection stats: %w", err)
	}
	for res.Next(ctx) {
		rec := res.Record()
		typ, _ := rec.Get("type")
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			if c, ok := cnt.(int64); ok {
				st.Connections[t] = c
			}
		}
	}
	return st, nil
}
