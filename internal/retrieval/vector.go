package retrieval

import (
	"context"
	"strings"

	types "github.com/yungbote/lexgraph-backend/internal/domain"
	"github.com/yungbote/lexgraph-backend/internal/platform/logger"
)

// VectorSearch performs k-nearest-neighbor retrieval over provision
// embeddings, plus lexical fulltext search over the same provisions.
type VectorSearch struct {
	store    GraphStore
	embedder Embedder
	log      *logger.Logger
	cfg      *Config
}

func NewVectorSearch(store GraphStore, embedder Embedder, log *logger.Logger, cfg *Config) *VectorSearch {
	return &VectorSearch{
		store:    store,
		embedder: embedder,
		log:      log.With("service", "VectorSearch"),
		cfg:      cfg,
	}
}

const knnQuery = `
CALL db.index.vector.queryNodes($index, $k, $embedding)
YIELD node, score
RETURN node.id AS id,
       node.number AS number,
       node.title AS title,
       node.text AS text,
       node.communityId AS community_id,
       score
`

// KNN returns up to k provisions ordered by descending similarity score.
// When fewer than k provisions carry embeddings, the index returns what it
// has; that is not an error.
func (v *VectorSearch) KNN(ctx context.Context, queryText string, k int) ([]ScoredProvision, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, invalid("queryText", "must be non-empty")
	}
	if k < 1 {
		return nil, invalid("k", "must be >= 1")
	}

	embeddings, err := v.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, unavailable(StageEmbedding, err)
	}
	if len(embeddings) != 1 {
		return nil, unavailable(StageEmbedding, errEmbedCount(len(embeddings)))
	}

	vector := make([]float64, len(embeddings[0]))
	for i, f := range embeddings[0] {
		vector[i] = float64(f)
	}

	rows, err := v.store.Read(ctx, knnQuery, map[string]any{
		"index":     v.cfg.VectorIndex,
		"k":         k,
		"embedding": vector,
	})
	if err != nil {
		return nil, unavailable(StageVectorIndex, err)
	}

	hits := decodeScoredProvisions(rows, SearchTypeVector)
	if err := v.attachContext(ctx, hits); err != nil {
		return nil, err
	}
	v.log.Debug("knn search done", "k", k, "hits", len(hits))
	return hits, nil
}

const fulltextQuery = `
CALL db.index.fulltext.queryNodes($index, $query)
YIELD node, score
RETURN node.id AS id,
       node.number AS number,
       node.title AS title,
       node.text AS text,
       node.communityId AS community_id,
       score
LIMIT $k
`

// FullText performs lexical search over the provision fulltext index as an
// alternate seed source.
func (v *VectorSearch) FullText(ctx context.Context, queryText string, k int) ([]ScoredProvision, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, invalid("queryText", "must be non-empty")
	}
	if k < 1 {
		return nil, invalid("k", "must be >= 1")
	}

	rows, err := v.store.Read(ctx, fulltextQuery, map[string]any{
		"index": v.cfg.FulltextIndex,
		"query": queryText,
		"k":     k,
	})
	if err != nil {
		return nil, unavailable(StageFulltextIndex, err)
	}

	hits := decodeScoredProvisions(rows, SearchTypeFulltext)
	if err := v.attachContext(ctx, hits); err != nil {
		return nil, err
	}
	return hits, nil
}

const provisionContextQuery = `
UNWIND $ids AS pid
MATCH (p:Provision {id: pid})
OPTIONAL MATCH (i:Instrument)-[:HAS_PROVISION]->(p)
OPTIONAL MATCH (i)-[:PUBLISHED_IN]->(g:GazetteIssue)
RETURN pid AS id,
       i.title AS instrument_title,
       i.type AS instrument_type,
       i.number AS instrument_number,
       i.year AS instrument_year,
       i.jurisdiction AS jurisdiction,
       g.number AS gazette_number,
       g.date AS gazette_date
`

// attachContext resolves each hit's parent Instrument and GazetteIssue in a
// single follow-up lookup keyed on provision id.
func (v *VectorSearch) attachContext(ctx context.Context, hits []ScoredProvision) error {
	if len(hits) == 0 {
		return nil
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.Provision.ID)
	}

	rows, err := v.store.Read(ctx, provisionContextQuery, map[string]any{"ids": ids})
	if err != nil {
		return unavailable(StageGraph, err)
	}

	byID := make(map[string]map[string]any, len(rows))
	for _, row := range rows {
		byID[rowString(row, "id")] = row
	}
	for i := range hits {
		row, ok := byID[hits[i].Provision.ID]
		if !ok {
			continue
		}
		if title := rowString(row, "instrument_title"); title != "" {
			hits[i].Instrument = &types.Instrument{
				Title:        title,
				Type:         rowString(row, "instrument_type"),
				Number:       rowString(row, "instrument_number"),
				Year:         rowInt64(row, "instrument_year"),
				Jurisdiction: rowString(row, "jurisdiction"),
			}
		}
		if number := rowString(row, "gazette_number"); number != "" {
			hits[i].Gazette = &types.GazetteIssue{
				Number: number,
				Date:   rowDate(row, "gazette_date"),
			}
		}
	}
	return nil
}

func decodeScoredProvisions(rows []map[string]any, searchType SearchType) []ScoredProvision {
	out := make([]ScoredProvision, 0, len(rows))
	for _, row := range rows {
		id := rowString(row, "id")
		if id == "" {
			continue
		}
		out = append(out, ScoredProvision{
			Provision: types.Provision{
				ID:          id,
				Number:      rowString(row, "number"),
				Title:       rowString(row, "title"),
				Text:        rowString(row, "text"),
				CommunityID: rowInt64Ptr(row, "community_id"),
			},
			Score:      rowFloat64(row, "score"),
			SearchType: searchType,
		})
	}
	return out
}
