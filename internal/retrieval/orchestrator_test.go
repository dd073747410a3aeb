package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

var feb2024 = time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)

func neighborRow(relType, nodeID, label, title string) map[string]any {
	return map[string]any{
		"relationship_type":       relType,
		"node_id":                 nodeID,
		"node_label":              label,
		"node_title":              title,
		"relationship_properties": map[string]any{},
	}
}

func TestLocalFlow(t *testing.T) {
	store := (&fakeGraphStore{}).
		on(matchKNN, []map[string]any{
			provisionRow("civil-art-106", "106", "Liability", "Whoever causes damage...", int64(7), 0.93),
			provisionRow("civil-art-107", "107", "Damages", "...", int64(7), 0.88),
		}).
		on(matchNeighbors, []map[string]any{
			neighborRow("CITES", "civil-art-415", "Provision", "General liability"),
			neighborRow("INTERPRETED_BY", "case-2021-77", "Judgment", "Ruling on damages"),
		}).
		on(matchAmendments, []map[string]any{
			{"kind": "amendment", "description": "Amended scope", "valid_from": "2023-07-01", "valid_to": nil, "gazette_ref": "Dz.U. 2023 poz. 1285"},
		})
	eng := newTestEngine(store, &fakeEmbedder{vector: []float32{0.1, 0.2}})

	got, err := eng.Local(context.Background(), LocalParams{Query: "liability for damage", AsOf: feb2024})
	if err != nil {
		t.Fatalf("local: %v", err)
	}
	if got.Seed == nil || got.Seed.Provision.ID != "civil-art-106" {
		t.Fatalf("expected highest-scoring seed, got %+v", got.Seed)
	}
	if len(got.Neighbors) != 2 || got.Neighbors[1].Node.Label != "Judgment" {
		t.Fatalf("unexpected neighbors: %+v", got.Neighbors)
	}
	if len(got.Amendments) != 1 || got.Amendments[0].GazetteRef != "Dz.U. 2023 poz. 1285" {
		t.Fatalf("unexpected amendments: %+v", got.Amendments)
	}

	calls := store.callsMatching(matchNeighbors)
	if len(calls) != 1 {
		t.Fatalf("expected one traversal call, got %d", len(calls))
	}
	if calls[0].params["id"] != "civil-art-106" {
		t.Fatalf("traversal must expand the top seed, got %v", calls[0].params["id"])
	}
	if calls[0].params["as_of"] != "2024-02-29" {
		t.Fatalf("as_of not threaded through: %v", calls[0].params["as_of"])
	}
}

func TestLocalNoSeeds(t *testing.T) {
	store := &fakeGraphStore{}
	eng := newTestEngine(store, &fakeEmbedder{vector: []float32{0.1}})

	got, err := eng.Local(context.Background(), LocalParams{Query: "nothing matches", AsOf: feb2024})
	if err != nil {
		t.Fatalf("empty seeds must not be an error: %v", err)
	}
	if got.Seed != nil {
		t.Fatalf("expected nil seed, got %+v", got.Seed)
	}
	if got.Neighbors == nil || len(got.Neighbors) != 0 {
		t.Fatalf("expected empty neighbor list, got %+v", got.Neighbors)
	}
	if calls := store.callsMatching(matchNeighbors); len(calls) != 0 {
		t.Fatalf("no traversal expected without a seed, got %d calls", len(calls))
	}
}

func TestLocalFullTextSeedSource(t *testing.T) {
	store := (&fakeGraphStore{}).on(matchFulltext, []map[string]any{
		provisionRow("vat-art-9", "9", "VAT rates", "...", nil, 3.1),
	})
	eng := newTestEngine(store, &fakeEmbedder{vector: []float32{0.1}})

	got, err := eng.Local(context.Background(), LocalParams{Query: "vat", AsOf: feb2024, UseFullText: true})
	if err != nil {
		t.Fatalf("local fulltext: %v", err)
	}
	if got.Seed == nil || got.Seed.SearchType != SearchTypeFulltext {
		t.Fatalf("expected fulltext seed, got %+v", got.Seed)
	}
	if calls := store.callsMatching(matchKNN); len(calls) != 0 {
		t.Fatalf("vector index must not be queried in fulltext mode")
	}
}

func TestLocalValidation(t *testing.T) {
	eng := newTestEngine(&fakeGraphStore{}, &fakeEmbedder{vector: []float32{0.1}})

	if _, err := eng.Local(context.Background(), LocalParams{Query: "  ", AsOf: feb2024}); err == nil {
		t.Fatal("blank query must be rejected")
	}
	_, err := eng.Local(context.Background(), LocalParams{Query: "ok"})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "asOfDate" {
		t.Fatalf("expected asOfDate validation error, got %v", err)
	}
}

func TestLocalTraversalFailure(t *testing.T) {
	store := (&fakeGraphStore{}).
		on(matchKNN, []map[string]any{provisionRow("civil-art-106", "106", "Liability", "...", nil, 0.9)}).
		failOn(matchNeighbors, errStoreDown)
	eng := newTestEngine(store, &fakeEmbedder{vector: []float32{0.1}})

	_, err := eng.Local(context.Background(), LocalParams{Query: "liability", AsOf: feb2024})
	if !errors.Is(err, ErrUnavailable) || FailedStage(err) != StageGraph {
		t.Fatalf("expected graph stage unavailability, got %v", err)
	}
}

func TestGlobalPassesThrough(t *testing.T) {
	store := (&fakeGraphStore{}).on(matchTopComms, []map[string]any{
		communityRow(1, 50, []any{"Provision"}, nil),
	})
	eng := newTestEngine(store, &fakeEmbedder{vector: []float32{0.1}})

	got, err := eng.Global(context.Background(), 3)
	if err != nil {
		t.Fatalf("global: %v", err)
	}
	if len(got) != 1 || got[0].CommunityID != 1 {
		t.Fatalf("unexpected summaries: %+v", got)
	}
}

func TestDriftFullFlow(t *testing.T) {
	store := (&fakeGraphStore{}).
		on(matchKNN, []map[string]any{
			provisionRow("civil-art-106", "106", "Liability", "...", int64(7), 0.9),
		}).
		on(matchTopComms, []map[string]any{
			communityRow(7, 120, []any{"Provision", "Judgment"}, nil),
			communityRow(3, 48, []any{"Provision"}, nil),
		}).
		on(matchCommProvs, []map[string]any{
			{"community_id": int64(7), "provisions": []any{
				map[string]any{"id": "civil-art-106", "number": "106", "title": "Liability", "text": "..."},
			}},
			{"community_id": int64(3), "provisions": []any{
				map[string]any{"id": "vat-art-9", "number": "9", "title": "VAT rates", "text": "..."},
			}},
		}).
		on(matchNeighbors, []map[string]any{
			neighborRow("CITES", "civil-art-415", "Provision", "General liability"),
		})
	eng := newTestEngine(store, &fakeEmbedder{vector: []float32{0.1}})

	got, err := eng.Drift(context.Background(), DriftParams{Query: "liability", AsOf: feb2024, TopCommunities: 2})
	if err != nil {
		t.Fatalf("drift: %v", err)
	}
	if len(got.SemanticSeeds) != 1 {
		t.Fatalf("expected 1 semantic seed, got %d", len(got.SemanticSeeds))
	}
	if len(got.CommunityResults) != 2 {
		t.Fatalf("expected 2 community results, got %d", len(got.CommunityResults))
	}
	// Slot order follows the ranked summaries regardless of goroutine timing.
	if got.CommunityResults[0].CommunityID != 7 || got.CommunityResults[1].CommunityID != 3 {
		t.Fatalf("community order lost: %+v", got.CommunityResults)
	}
	if len(got.CommunityResults[0].ProvisionsExplored) != 1 {
		t.Fatalf("community 7 provisions missing: %+v", got.CommunityResults[0])
	}
	if len(got.CommunityResults[0].Paths) != 1 {
		t.Fatalf("traversal paths missing for community 7: %+v", got.CommunityResults[0])
	}
}

func TestDriftNoCommunities(t *testing.T) {
	store := (&fakeGraphStore{}).on(matchKNN, []map[string]any{
		provisionRow("civil-art-106", "106", "Liability", "...", nil, 0.9),
	})
	eng := newTestEngine(store, &fakeEmbedder{vector: []float32{0.1}})

	got, err := eng.Drift(context.Background(), DriftParams{Query: "liability", AsOf: feb2024, TopCommunities: 3})
	if err != nil {
		t.Fatalf("drift without communities: %v", err)
	}
	if len(got.SemanticSeeds) != 1 {
		t.Fatalf("seeds must survive an empty community index, got %d", len(got.SemanticSeeds))
	}
	if got.CommunityResults == nil || len(got.CommunityResults) != 0 {
		t.Fatalf("expected empty community results, got %+v", got.CommunityResults)
	}
	if calls := store.callsMatching(matchCommProvs); len(calls) != 0 {
		t.Fatalf("no provision lookup expected without communities")
	}
}

// cancelOnTraversalStore cancels the request context as soon as the first
// traversal query returns, so later communities observe a dead context.
type cancelOnTraversalStore struct {
	*fakeGraphStore
	cancel context.CancelFunc
	once   sync.Once
}

func (s *cancelOnTraversalStore) Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	rows, err := s.fakeGraphStore.Read(ctx, cypher, params)
	if strings.Contains(cypher, matchNeighbors) {
		s.once.Do(s.cancel)
	}
	return rows, err
}

func TestDriftKeepsCompletedCommunitiesOnCancellation(t *testing.T) {
	base := (&fakeGraphStore{}).
		on(matchKNN, []map[string]any{
			provisionRow("civil-art-106", "106", "Liability", "...", int64(7), 0.9),
		}).
		on(matchTopComms, []map[string]any{
			communityRow(7, 120, []any{"Provision"}, nil),
			communityRow(3, 48, []any{"Provision"}, nil),
		}).
		on(matchCommProvs, []map[string]any{
			{"community_id": int64(7), "provisions": []any{
				map[string]any{"id": "civil-art-106", "number": "106", "title": "Liability", "text": "..."},
			}},
			{"community_id": int64(3), "provisions": []any{
				map[string]any{"id": "vat-art-9", "number": "9", "title": "VAT rates", "text": "..."},
			}},
		}).
		on(matchNeighbors, []map[string]any{
			neighborRow("CITES", "civil-art-415", "Provision", "General liability"),
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &cancelOnTraversalStore{fakeGraphStore: base, cancel: cancel}

	// One traversal at a time, so community 7 finishes before community 3
	// starts and sees the cancelled context.
	cfg := DefaultConfig()
	cfg.DriftParallelism = 1
	eng, err := NewEngine(store, &fakeEmbedder{vector: []float32{0.1}}, testLogger(), cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	got, err := eng.Drift(ctx, DriftParams{Query: "liability", AsOf: feb2024, TopCommunities: 2})
	if err == nil {
		t.Fatal("expected an error from the abandoned traversal")
	}
	if !errors.Is(err, ErrUnavailable) || FailedStage(err) != StageGraph {
		t.Fatalf("expected graph stage unavailability, got %v", err)
	}
	if got == nil {
		t.Fatal("completed community results must survive cancellation")
	}
	if len(got.SemanticSeeds) != 1 {
		t.Fatalf("seeds must survive cancellation, got %d", len(got.SemanticSeeds))
	}
	if len(got.CommunityResults) != 1 || got.CommunityResults[0].CommunityID != 7 {
		t.Fatalf("expected only the finished community 7, got %+v", got.CommunityResults)
	}
	if len(got.CommunityResults[0].Paths) != 1 {
		t.Fatalf("finished community lost its paths: %+v", got.CommunityResults[0])
	}
}

func TestDriftQueryConditionedRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CommunitySelection = SelectQueryConditioned
	eng, err := NewEngine(&fakeGraphStore{}, &fakeEmbedder{vector: []float32{0.1}}, testLogger(), cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	_, err = eng.Drift(context.Background(), DriftParams{Query: "liability", AsOf: feb2024, TopCommunities: 2})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "communitySelection" {
		t.Fatalf("expected community selection rejection, got %v", err)
	}
}

func TestDriftValidation(t *testing.T) {
	eng := newTestEngine(&fakeGraphStore{}, &fakeEmbedder{vector: []float32{0.1}})

	_, err := eng.Drift(context.Background(), DriftParams{Query: "liability", AsOf: feb2024, TopCommunities: 0})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "topCommunities" {
		t.Fatalf("expected topCommunities validation error, got %v", err)
	}
}

func TestCombinedSearchVectorWinsDedup(t *testing.T) {
	store := (&fakeGraphStore{}).
		on(matchKNN, []map[string]any{
			provisionRow("civil-art-106", "106", "Liability", "...", nil, 0.9),
			provisionRow("civil-art-107", "107", "Damages", "...", nil, 0.8),
		}).
		on(matchFulltext, []map[string]any{
			provisionRow("civil-art-106", "106", "Liability", "...", nil, 4.2),
			provisionRow("vat-art-9", "9", "VAT rates", "...", nil, 2.0),
		})
	eng := newTestEngine(store, &fakeEmbedder{vector: []float32{0.1}})

	got, err := eng.CombinedSearch(context.Background(), "liability", 5)
	if err != nil {
		t.Fatalf("combined: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 merged hits, got %d", len(got))
	}
	if got[0].Provision.ID != "civil-art-106" || got[0].SearchType != SearchTypeVector {
		t.Fatalf("duplicate must keep the vector hit, got %+v", got[0])
	}
	if got[2].Provision.ID != "vat-art-9" || got[2].SearchType != SearchTypeFulltext {
		t.Fatalf("fulltext-only hit must follow vector hits, got %+v", got[2])
	}
}

func TestCombinedSearchCap(t *testing.T) {
	var vectorRows, fulltextRows []map[string]any
	for i := 0; i < 3; i++ {
		vectorRows = append(vectorRows, provisionRow(fmt.Sprintf("vec-%d", i), "1", "t", "x", nil, 0.9))
		fulltextRows = append(fulltextRows, provisionRow(fmt.Sprintf("ft-%d", i), "1", "t", "x", nil, 1.0))
	}
	store := (&fakeGraphStore{}).on(matchKNN, vectorRows).on(matchFulltext, fulltextRows)
	eng := newTestEngine(store, &fakeEmbedder{vector: []float32{0.1}})

	got, err := eng.CombinedSearch(context.Background(), "anything", 2)
	if err != nil {
		t.Fatalf("combined: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("merged results must cap at 2k, got %d", len(got))
	}
}

func TestCombinedSearchFulltextFailure(t *testing.T) {
	store := (&fakeGraphStore{}).
		on(matchKNN, []map[string]any{provisionRow("civil-art-106", "106", "Liability", "...", nil, 0.9)}).
		failOn(matchFulltext, errStoreDown)
	eng := newTestEngine(store, &fakeEmbedder{vector: []float32{0.1}})

	_, err := eng.CombinedSearch(context.Background(), "liability", 3)
	if !errors.Is(err, ErrUnavailable) || FailedStage(err) != StageFulltextIndex {
		t.Fatalf("expected fulltext stage unavailability, got %v", err)
	}
}
