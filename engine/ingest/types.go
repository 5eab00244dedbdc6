package ingest

import (
	"fmt"
	"strings"

	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/engine/semantic"
)

// Kind names a corpus and the collection it loads into.
type Kind string

// Corpus kinds.
const (
	KindCredit    Kind = "credit"
	KindFraud     Kind = "fraud"
	KindTemporal  Kind = "temporal"
	KindDocuments Kind = "documents"
)

// ParseKind accepts a kind name or its collection name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCredit, KindFraud, KindTemporal, KindDocuments:
		return k, nil
	}
	for _, k := range []Kind{KindCredit, KindFraud, KindTemporal, KindDocuments} {
		if k.Collection() == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("ingest: unknown corpus %q", s)
}

// Collection returns the collection the kind loads into.
func (k Kind) Collection() string {
	switch k {
	case KindFraud:
		return semantic.CollectionFraud
	case KindTemporal:
		return semantic.CollectionTemporal
	case KindDocuments:
		return semantic.CollectionDocuments
	}
	return semantic.CollectionCredit
}

// Line is one raw line of a JSON-lines corpus.
type Line struct {
	N    int
	Data []byte
}

// Record is a decoded corpus entry ready to embed.
type Record struct {
	// Key identifies the record inside its collection; re-loading the
	// same key replaces the point.
	Key       string
	Line      int
	Applicant domain.ApplicantRecord
	Payload   map[string]any
	// Client is set for credit records and feeds the graph mirror.
	Client *domain.ClientRecord
	// Image is set for document templates.
	Image []byte
}

// Stats summarises a load.
type Stats struct {
	Read     int `json:"read"`
	Stored   int `json:"stored"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Mirrored int `json:"mirrored"`
	Compact  int `json:"compact"`
}

func (s *Stats) add(o Stats) {
	s.Read += o.Read
	s.Stored += o.Stored
	s.Skipped += o.Skipped
	s.Failed += o.Failed
	s.Mirrored += o.Mirrored
	s.Compact += o.Compact
}
