package retrieval

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	types "github.com/yungbote/lexgraph-backend/internal/domain"
	"github.com/yungbote/lexgraph-backend/internal/platform/logger"
)

// CommunityIndex reads the precomputed communityId assignments and produces
// ranked community summaries. Community membership is a snapshot structural
// property: no temporal filtering applies at this layer.
type CommunityIndex struct {
	store GraphStore
	log   *logger.Logger
	cfg   *Config

	// Optional read-through snapshot cache. Community structure only moves
	// when the out-of-band detection job reruns, so a short TTL is safe.
	rdb      *goredis.Client
	cacheTTL time.Duration
}

func NewCommunityIndex(store GraphStore, log *logger.Logger, cfg *Config) *CommunityIndex {
	return &CommunityIndex{
		store:    store,
		log:      log.With("service", "CommunityIndex"),
		cfg:      cfg,
		cacheTTL: 5 * time.Minute,
	}
}

// WithCache attaches a redis client for summary snapshot caching. A nil
// client leaves the index uncached.
func (c *CommunityIndex) WithCache(rdb *goredis.Client) *CommunityIndex {
	c.rdb = rdb
	return c
}

const topCommunitiesQuery = `
MATCH (n)
WHERE n.communityId IS NOT NULL
WITH n.communityId AS community_id,
     count(n) AS size,
     collect(DISTINCT head(labels(n))) AS node_types,
     collect({id: coalesce(n.id, n.case_number, ''), label: head(labels(n)), title: coalesce(n.title, n.description, '')})[0..$sample] AS sample_nodes
RETURN community_id, size, node_types, sample_nodes
ORDER BY size DESC
LIMIT $n
`

// TopCommunities returns up to n community summaries ordered by descending
// size. An empty graph (no communityId assignments yet) yields an empty
// list, not an error.
func (c *CommunityIndex) TopCommunities(ctx context.Context, n int) ([]CommunitySummary, error) {
	if n < 1 {
		return nil, invalid("n", "must be >= 1")
	}

	cacheKey := fmt.Sprintf("lexgraph:communities:top:%d:%d", n, c.cfg.CommunitySampleSize)
	if cached := c.cacheGet(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	rows, err := c.store.Read(ctx, topCommunitiesQuery, map[string]any{
		"n":      n,
		"sample": c.cfg.CommunitySampleSize,
	})
	if err != nil {
		return nil, unavailable(StageCommunity, err)
	}

	out := make([]CommunitySummary, 0, len(rows))
	for _, row := range rows {
		nodeTypes := rowStrings(row, "node_types")
		samples := make([]NeighborNode, 0, c.cfg.CommunitySampleSize)
		for _, m := range rowMaps(row, "sample_nodes") {
			samples = append(samples, NeighborNode{
				ID:    rowString(m, "id"),
				Label: rowString(m, "label"),
				Title: rowString(m, "title"),
			})
		}
		out = append(out, CommunitySummary{
			CommunityID: rowInt64(row, "community_id"),
			Size:        rowInt64(row, "size"),
			NodeTypes:   nodeTypes,
			SampleNodes: samples,
			Summary:     describeCommunity(nodeTypes),
		})
	}

	c.cacheSet(ctx, cacheKey, out)
	return out, nil
}

const provisionsByCommunityQuery = `
MATCH (p:Provision)
WHERE p.communityId IN $ids
WITH p ORDER BY p.id
WITH p.communityId AS community_id,
     collect({id: p.id, number: p.number, title: p.title, text: p.text})[0..$limit] AS provisions
RETURN community_id, provisions
`

// ProvisionsByCommunity returns up to limitPer provisions for each requested
// community id.
func (c *CommunityIndex) ProvisionsByCommunity(ctx context.Context, communityIDs []int64, limitPer int) (map[int64][]types.Provision, error) {
	if len(communityIDs) == 0 {
		return map[int64][]types.Provision{}, nil
	}
	if limitPer < 1 {
		return nil, invalid("limitPerCommunity", "must be >= 1")
	}

	rows, err := c.store.Read(ctx, provisionsByCommunityQuery, map[string]any{
		"ids":   communityIDs,
		"limit": limitPer,
	})
	if err != nil {
		return nil, unavailable(StageCommunity, err)
	}

	out := make(map[int64][]types.Provision, len(rows))
	for _, row := range rows {
		communityID := rowInt64(row, "community_id")
		provisions := make([]types.Provision, 0, limitPer)
		for _, m := range rowMaps(row, "provisions") {
			id := rowString(m, "id")
			if id == "" {
				continue
			}
			cid := communityID
			provisions = append(provisions, types.Provision{
				ID:          id,
				Number:      rowString(m, "number"),
				Title:       rowString(m, "title"),
				Text:        rowString(m, "text"),
				CommunityID: &cid,
			})
		}
		out[communityID] = provisions
	}
	return out, nil
}

func (c *CommunityIndex) cacheGet(ctx context.Context, key string) []CommunitySummary {
	if c.rdb == nil {
		return nil
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil
	}
	var out []CommunitySummary
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func (c *CommunityIndex) cacheSet(ctx context.Context, key string, summaries []CommunitySummary) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(summaries)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.cacheTTL).Err(); err != nil {
		c.log.Warn("community cache set failed (continuing)", "key", key, "error", err)
	}
}

// ---- deterministic community descriptors ----

//go:embed community_rules.yaml
var communityRulesYAML []byte

type communityRule struct {
	Requires []string `yaml:"requires"`
	Label    string   `yaml:"label"`
}

type communityRuleTable struct {
	Rules   []communityRule `yaml:"rules"`
	Default string          `yaml:"default"`
}

var communityRules = mustLoadCommunityRules()

func mustLoadCommunityRules() communityRuleTable {
	var table communityRuleTable
	if err := yaml.Unmarshal(communityRulesYAML, &table); err != nil {
		panic(fmt.Sprintf("retrieval: parse community_rules.yaml: %v", err))
	}
	return table
}

// describeCommunity is a pure function of the sampled node types: same
// sample, same label. It is a rule-table classifier, not a model call.
func describeCommunity(nodeTypes []string) string {
	present := make(map[string]bool, len(nodeTypes))
	for _, t := range nodeTypes {
		present[t] = true
	}
	for _, rule := range communityRules.Rules {
		matched := true
		for _, req := range rule.Requires {
			if !present[req] {
				matched = false
				break
			}
		}
		if matched && len(rule.Requires) > 0 {
			return rule.Label
		}
	}
	return communityRules.Default
}
