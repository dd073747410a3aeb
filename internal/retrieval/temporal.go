package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	types "github.com/yungbote/lexgraph-backend/internal/domain"
	"github.com/yungbote/lexgraph-backend/internal/platform/logger"
)

// TemporalTraversal expands a seed provision through typed relationships,
// filtered by an as-of date against amendment validity windows. The graph
// edges are static; the neighbor set still differs by query date because
// provisions governed by amendment events are excluded whenever none of
// their events is active as of that date.
type TemporalTraversal struct {
	store GraphStore
	log   *logger.Logger
	cfg   *Config
}

func NewTemporalTraversal(store GraphStore, log *logger.Logger, cfg *Config) *TemporalTraversal {
	return &TemporalTraversal{
		store: store,
		log:   log.With("service", "TemporalTraversal"),
		cfg:   cfg,
	}
}

// Relationship types are interpolated into the traversal pattern (Cypher
// cannot parameterize them), so the set is validated against the schema
// constants first.
const neighborsQueryFmt = `
MATCH (p:Provision {id: $id})-[r:%s]-(n)
WITH r, n
OPTIONAL MATCH (ev:Event)-[:AFFECTS]->(n)
WITH r, n, collect(ev) AS evs
WHERE size(evs) = 0
   OR any(e IN evs WHERE e.valid_from <= $as_of AND (e.valid_to IS NULL OR $as_of <= e.valid_to))
RETURN type(r) AS relationship_type,
       coalesce(n.id, n.case_number, '') AS node_id,
       head(labels(n)) AS node_label,
       coalesce(n.title, n.description, '') AS node_title,
       properties(r) AS relationship_properties
LIMIT $limit
`

// Neighbors returns traversal paths from provisionID active as of asOf,
// capped at MaxTraversalPaths. Callers needing more partition by
// relationship type. A nonexistent id yields an empty list.
func (t *TemporalTraversal) Neighbors(ctx context.Context, provisionID string, asOf time.Time, relTypes []string) ([]Neighbor, error) {
	if strings.TrimSpace(provisionID) == "" {
		return nil, invalid("provisionID", "must be non-empty")
	}
	if asOf.IsZero() {
		return nil, invalid("asOfDate", "must be a valid date")
	}
	if len(relTypes) == 0 {
		relTypes = types.DefaultRelationshipTypes()
	}
	for _, rt := range relTypes {
		if !types.KnownRelationshipType(rt) {
			return nil, invalid("relationshipTypes", fmt.Sprintf("unknown relationship type %q", rt))
		}
	}

	query := fmt.Sprintf(neighborsQueryFmt, strings.Join(relTypes, "|"))
	rows, err := t.store.Read(ctx, query, map[string]any{
		"id":    provisionID,
		"as_of": formatDate(asOf),
		"limit": t.cfg.MaxTraversalPaths,
	})
	if err != nil {
		return nil, unavailable(StageGraph, err)
	}

	out := make([]Neighbor, 0, len(rows))
	for _, row := range rows {
		if len(out) >= t.cfg.MaxTraversalPaths {
			break
		}
		out = append(out, Neighbor{
			RelationshipType: rowString(row, "relationship_type"),
			Node: NeighborNode{
				ID:    rowString(row, "node_id"),
				Label: rowString(row, "node_label"),
				Title: rowString(row, "node_title"),
			},
			Properties: rowMap(row, "relationship_properties"),
		})
	}
	return out, nil
}

const amendmentsQuery = `
MATCH (e:Event)-[:AFFECTS]->(p:Provision {id: $id})
WHERE e.valid_from <= $as_of AND (e.valid_to IS NULL OR $as_of <= e.valid_to)
RETURN e.kind AS kind,
       e.description AS description,
       e.valid_from AS valid_from,
       e.valid_to AS valid_to,
       e.gazette_ref AS gazette_ref
ORDER BY e.valid_from
`

// Amendments returns the amendment events on provisionID active as of asOf.
// The interval rule runs in Cypher and is re-checked on the decoded events,
// so a store that returns extra rows cannot widen the window.
func (t *TemporalTraversal) Amendments(ctx context.Context, provisionID string, asOf time.Time) ([]types.Event, error) {
	if strings.TrimSpace(provisionID) == "" {
		return nil, invalid("provisionID", "must be non-empty")
	}
	if asOf.IsZero() {
		return nil, invalid("asOfDate", "must be a valid date")
	}

	rows, err := t.store.Read(ctx, amendmentsQuery, map[string]any{
		"id":    provisionID,
		"as_of": formatDate(asOf),
	})
	if err != nil {
		return nil, unavailable(StageGraph, err)
	}

	out := make([]types.Event, 0, len(rows))
	for _, row := range rows {
		validFrom := rowDate(row, "valid_from")
		if validFrom == nil {
			continue
		}
		ev := types.Event{
			Kind:        rowString(row, "kind"),
			Description: rowString(row, "description"),
			ValidFrom:   *validFrom,
			ValidTo:     rowDate(row, "valid_to"),
			GazetteRef:  rowString(row, "gazette_ref"),
		}
		if !ev.ActiveAt(asOf) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
