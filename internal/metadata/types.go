// Package metadata holds the identity and value types of the history
// metadata trail: the key a visit is recorded under and the observations
// recorded against it.
package metadata

import (
	"fmt"
	"net/url"
	"time"
)

// Key identifies one browsing visit context. Two keys are equal iff all
// three fields are equal, so Key is compared with ==. An empty ReferrerURL
// or SearchTerm means the value is absent.
type Key struct {
	URL         string
	ReferrerURL string
	SearchTerm  string
}

// Domain returns the hostname of the key's URL, or "" if it cannot be parsed.
func (k Key) Domain() string {
	u, err := url.Parse(k.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (k Key) String() string {
	s := k.URL
	if k.ReferrerURL != "" {
		s += " (from " + k.ReferrerURL + ")"
	}
	if k.SearchTerm != "" {
		s += fmt.Sprintf(" [%q]", k.SearchTerm)
	}
	return s
}

// DocumentType classifies what kind of document a visit was.
type DocumentType int

const (
	DocumentRegular DocumentType = iota
	DocumentMedia
)

func (d DocumentType) String() string {
	switch d {
	case DocumentRegular:
		return "regular"
	case DocumentMedia:
		return "media"
	default:
		return fmt.Sprintf("DocumentType(%d)", int(d))
	}
}

// ParseDocumentType is the inverse of DocumentType.String.
func ParseDocumentType(s string) (DocumentType, error) {
	switch s {
	case "regular":
		return DocumentRegular, nil
	case "media":
		return DocumentMedia, nil
	default:
		return 0, fmt.Errorf("unknown document type %q", s)
	}
}

// Observation is one fact recorded against a Key. The set of variants is
// closed: DocumentTypeObservation and ViewTimeObservation.
type Observation interface {
	// Kind is a short, stable label used in logs and metrics.
	Kind() string
	observation()
}

// DocumentTypeObservation records the document type of a visit.
type DocumentTypeObservation struct {
	DocumentType DocumentType
}

func (DocumentTypeObservation) Kind() string { return "document_type" }
func (DocumentTypeObservation) observation() {}

// ViewTimeObservation records how long a visit was in the foreground, in
// milliseconds.
type ViewTimeObservation struct {
	ViewTime int64
}

func (ViewTimeObservation) Kind() string { return "view_time" }
func (ViewTimeObservation) observation() {}

// Row is a persisted metadata record, aggregated over every observation
// noted against its Key.
type Row struct {
	ID            string
	Key           Key
	DocumentType  DocumentType
	TotalViewTime int64 // milliseconds
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
