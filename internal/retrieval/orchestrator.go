package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	types "github.com/yungbote/lexgraph-backend/internal/domain"
	"github.com/yungbote/lexgraph-backend/internal/observability"
	"github.com/yungbote/lexgraph-backend/internal/platform/ctxutil"
	"github.com/yungbote/lexgraph-backend/internal/platform/logger"
)

// Engine composes VectorSearch, TemporalTraversal, and CommunityIndex into
// the Local, Global, DRIFT, and CombinedSearch strategies. It holds no
// per-request state; every call is an independent read.
type Engine struct {
	vectors     *VectorSearch
	temporal    *TemporalTraversal
	communities *CommunityIndex
	log         *logger.Logger
	tracer      trace.Tracer
	cfg         Config
}

func NewEngine(store GraphStore, embedder Embedder, log *logger.Logger, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("retrieval: graph store required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("retrieval: embedder required")
	}
	if log == nil {
		return nil, fmt.Errorf("retrieval: logger required")
	}
	cfg.applyDefaults()
	switch cfg.CommunitySelection {
	case SelectGlobalTopN, SelectQueryConditioned:
	default:
		return nil, fmt.Errorf("retrieval: unknown community selection policy %q", cfg.CommunitySelection)
	}

	engineLog := log.With("service", "RetrievalEngine")
	return &Engine{
		vectors:     NewVectorSearch(store, embedder, log, &cfg),
		temporal:    NewTemporalTraversal(store, log, &cfg),
		communities: NewCommunityIndex(store, log, &cfg),
		log:         engineLog,
		tracer:      observability.Tracer(),
		cfg:         cfg,
	}, nil
}

// Communities exposes the community index so callers can share its cache
// wiring (see app.New).
func (e *Engine) Communities() *CommunityIndex { return e.communities }

// LocalParams configures the Local strategy. SeedCount defaults to 5;
// UseFullText switches the seed source from vector KNN to lexical search.
type LocalParams struct {
	Query             string
	AsOf              time.Time
	RelationshipTypes []string
	SeedCount         int
	UseFullText       bool
}

// Local finds seed provisions for the query, then expands the top seed
// through as-of filtered traversal.
func (e *Engine) Local(ctx context.Context, params LocalParams) (*LocalResult, error) {
	ctx, span := e.startStrategy(ctx, "retrieval.Local")
	defer span.End()

	if strings.TrimSpace(params.Query) == "" {
		return nil, invalid("query", "must be non-empty")
	}
	if params.AsOf.IsZero() {
		return nil, invalid("asOfDate", "must be a valid date")
	}
	seedCount := params.SeedCount
	if seedCount <= 0 {
		seedCount = 5
	}

	var (
		seeds []ScoredProvision
		err   error
	)
	if params.UseFullText {
		seeds, err = e.vectors.FullText(ctx, params.Query, seedCount)
	} else {
		seeds, err = e.vectors.KNN(ctx, params.Query, seedCount)
	}
	if err != nil {
		return nil, err
	}

	result := &LocalResult{Neighbors: []Neighbor{}, Amendments: []types.Event{}}
	if len(seeds) == 0 {
		e.log.Debug("local search found no seeds", "fulltext", params.UseFullText)
		return result, nil
	}

	seed := seeds[0]
	result.Seed = &seed

	neighbors, err := e.temporal.Neighbors(ctx, seed.Provision.ID, params.AsOf, params.RelationshipTypes)
	if err != nil {
		return nil, err
	}
	amendments, err := e.temporal.Amendments(ctx, seed.Provision.ID, params.AsOf)
	if err != nil {
		return nil, err
	}
	result.Neighbors = neighbors
	result.Amendments = amendments

	e.log.Info("local retrieval done",
		"request_id", requestID(ctx),
		"seed", seed.Provision.ID,
		"neighbors", len(neighbors),
		"amendments", len(amendments),
	)
	return result, nil
}

// Global returns the top-n community summaries, largest first.
func (e *Engine) Global(ctx context.Context, n int) ([]CommunitySummary, error) {
	ctx, span := e.startStrategy(ctx, "retrieval.Global")
	defer span.End()

	summaries, err := e.communities.TopCommunities(ctx, n)
	if err != nil {
		return nil, err
	}
	e.log.Info("global retrieval done", "request_id", requestID(ctx), "communities", len(summaries))
	return summaries, nil
}

// DriftParams configures the DRIFT strategy.
type DriftParams struct {
	Query          string
	AsOf           time.Time
	TopCommunities int
}

// Drift fuses semantic seeds with community exploration. Seed search and
// community selection are independent and run concurrently; per-community
// traversal then fans out across communities. Community selection follows
// the configured policy; GlobalTopN ranks purely by community size.
//
// When a traversal fails or the context is cancelled mid-fan-out, the
// returned result still carries the seeds and every community that finished
// before the failure, alongside the error.
func (e *Engine) Drift(ctx context.Context, params DriftParams) (*DriftResult, error) {
	ctx, span := e.startStrategy(ctx, "retrieval.Drift")
	defer span.End()

	if strings.TrimSpace(params.Query) == "" {
		return nil, invalid("query", "must be non-empty")
	}
	if params.AsOf.IsZero() {
		return nil, invalid("asOfDate", "must be a valid date")
	}
	if params.TopCommunities < 1 {
		return nil, invalid("topCommunities", "must be >= 1")
	}
	if e.cfg.CommunitySelection == SelectQueryConditioned {
		return nil, invalid("communitySelection", "query-conditioned selection is not implemented; use global_top_n")
	}

	var (
		seeds     []ScoredProvision
		summaries []CommunitySummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		seeds, err = e.vectors.KNN(gctx, params.Query, e.cfg.DriftSeedCount)
		return err
	})
	g.Go(func() error {
		var err error
		summaries, err = e.communities.TopCommunities(gctx, params.TopCommunities)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &DriftResult{SemanticSeeds: seeds, CommunityResults: []CommunityResult{}}
	if len(summaries) == 0 {
		e.log.Info("drift retrieval done (no communities)", "request_id", requestID(ctx), "seeds", len(seeds))
		return result, nil
	}

	communityIDs := make([]int64, 0, len(summaries))
	for _, s := range summaries {
		communityIDs = append(communityIDs, s.CommunityID)
	}
	byCommunity, err := e.communities.ProvisionsByCommunity(ctx, communityIDs, e.cfg.DriftProvisionsPerCommunity)
	if err != nil {
		return nil, err
	}

	// Communities are independent units of work; traversal fans out with a
	// bounded limit and each goroutine writes only its own slot.
	slots := make([]CommunityResult, len(summaries))
	done := make([]bool, len(summaries))
	tg, tctx := errgroup.WithContext(ctx)
	tg.SetLimit(e.cfg.DriftParallelism)
	for i, summary := range summaries {
		i, summary := i, summary
		tg.Go(func() error {
			provisions := byCommunity[summary.CommunityID]
			slot := CommunityResult{
				CommunityID:        summary.CommunityID,
				ProvisionsExplored: provisions,
				Paths:              []Neighbor{},
			}
			if len(provisions) > 0 {
				paths, err := e.temporal.Neighbors(tctx, provisions[0].ID, params.AsOf, nil)
				if err != nil {
					return err
				}
				slot.Paths = paths
			}
			slots[i] = slot
			done[i] = true
			return nil
		})
	}
	if err := tg.Wait(); err != nil {
		// Cancellation abandons in-flight traversals; communities that
		// already completed stay on the result.
		for i, finished := range done {
			if finished {
				result.CommunityResults = append(result.CommunityResults, slots[i])
			}
		}
		e.log.Warn("drift traversal aborted",
			"request_id", requestID(ctx),
			"completed_communities", len(result.CommunityResults),
			"error", err,
		)
		return result, err
	}

	result.CommunityResults = slots
	e.log.Info("drift retrieval done",
		"request_id", requestID(ctx),
		"seeds", len(seeds),
		"communities", len(slots),
	)
	return result, nil
}

// CombinedSearch runs vector KNN and fulltext search independently and
// merges them: deduplicated by provision id, vector hits winning over
// fulltext duplicates, at most 2k results.
func (e *Engine) CombinedSearch(ctx context.Context, query string, k int) ([]ScoredProvision, error) {
	ctx, span := e.startStrategy(ctx, "retrieval.CombinedSearch")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, invalid("query", "must be non-empty")
	}
	if k < 1 {
		return nil, invalid("k", "must be >= 1")
	}

	var vector, fulltext []ScoredProvision
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vector, err = e.vectors.KNN(gctx, query, k)
		return err
	})
	g.Go(func() error {
		var err error
		fulltext, err = e.vectors.FullText(gctx, query, k)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// First-seen-wins dedup, vector first.
	seen := make(map[string]bool, len(vector)+len(fulltext))
	merged := make([]ScoredProvision, 0, len(vector)+len(fulltext))
	for _, hit := range append(vector, fulltext...) {
		if seen[hit.Provision.ID] {
			continue
		}
		seen[hit.Provision.ID] = true
		merged = append(merged, hit)
		if len(merged) >= 2*k {
			break
		}
	}

	e.log.Info("combined search done",
		"request_id", requestID(ctx),
		"vector", len(vector),
		"fulltext", len(fulltext),
		"merged", len(merged),
	)
	return merged, nil
}

func (e *Engine) startStrategy(ctx context.Context, name string) (context.Context, trace.Span) {
	if ctxutil.GetTraceData(ctx) == nil {
		ctx = ctxutil.WithTraceData(ctx, &ctxutil.TraceData{RequestID: uuid.NewString()})
	}
	ctx = ctxutil.WithStrategy(ctx, name)
	ctx, span := e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("retrieval.request_id", requestID(ctx)),
		attribute.String("retrieval.strategy", name),
	))
	return ctx, span
}

func requestID(ctx context.Context) string {
	if td := ctxutil.GetTraceData(ctx); td != nil {
		return td.RequestID
	}
	return ""
}
