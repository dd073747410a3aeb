// Package domain holds the graph node and edge types the retrieval engine
// reads from the legal knowledge graph. All of them are produced by the
// ingestion and maintenance pipelines; the engine never writes them.
package domain

import "time"

// Relationship types traversed by the engine.
const (
	RelCites         = "CITES"
	RelInterpretedBy = "INTERPRETED_BY"
	RelAmendedBy     = "AMENDED_BY"
	RelAffects       = "AFFECTS"
	RelImplements    = "IMPLEMENTS"
)

// DefaultRelationshipTypes is the traversal set used when a caller does not
// narrow the relationship types explicitly.
func DefaultRelationshipTypes() []string {
	return []string{RelCites, RelInterpretedBy, RelAmendedBy, RelAffects}
}

// KnownRelationshipType reports whether t is one of the relationship types
// the graph schema defines. Traversal patterns are interpolated into Cypher,
// so unknown types are rejected up front.
func KnownRelationshipType(t string) bool {
	switch t {
	case RelCites, RelInterpretedBy, RelAmendedBy, RelAffects, RelImplements:
		return true
	default:
		return false
	}
}

// Provision is the atomic citable unit of legal text (an article).
type Provision struct {
	ID          string    `json:"id"`
	Number      string    `json:"number"`
	Title       string    `json:"title"`
	Text        string    `json:"text"`
	Embedding   []float32 `json:"-"`
	CommunityID *int64    `json:"community_id,omitempty"`
}

// Instrument is a legal act or code containing provisions.
type Instrument struct {
	Title        string `json:"title"`
	Type         string `json:"type"`
	Number       string `json:"number"`
	Year         int64  `json:"year"`
	Jurisdiction string `json:"jurisdiction"`
}

// GazetteIssue is the official publication record of an instrument.
type GazetteIssue struct {
	Number string     `json:"number"`
	Date   *time.Time `json:"date,omitempty"`
}

// Event is a temporal amendment/change record affecting a provision.
// ValidTo == nil means the event is still in effect.
type Event struct {
	Kind        string     `json:"kind"`
	Description string     `json:"description"`
	ValidFrom   time.Time  `json:"valid_from"`
	ValidTo     *time.Time `json:"valid_to,omitempty"`
	GazetteRef  string     `json:"gazette_ref,omitempty"`
}

// ActiveAt reports whether the event is active as of d:
// valid_from <= d and (valid_to is null or d <= valid_to).
func (e Event) ActiveAt(d time.Time) bool {
	if e.ValidFrom.After(d) {
		return false
	}
	if e.ValidTo == nil {
		return true
	}
	return !d.After(*e.ValidTo)
}

// Judgment is a court decision node linked to provisions.
type Judgment struct {
	CaseNumber string     `json:"case_number"`
	Date       *time.Time `json:"date,omitempty"`
	Outcome    string     `json:"outcome"`
}
