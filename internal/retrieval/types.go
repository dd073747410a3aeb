// Package retrieval implements multi-strategy retrieval over the legal
// knowledge graph: vector KNN seeding, as-of temporal traversal, community
// based global retrieval, the DRIFT fusion strategy, and citation grounding
// validation of generated answers.
package retrieval

import (
	"context"

	types "github.com/yungbote/lexgraph-backend/internal/domain"
)

// GraphStore executes parameterized Cypher read queries and returns rows of
// key->value records. *neo4jdb.Client satisfies it; tests use fakes.
type GraphStore interface {
	Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

// Embedder converts text into fixed-dimension vectors. The platform openai
// client satisfies it and validates dimensions at its boundary.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// SearchType tags which seed source produced a result.
type SearchType string

const (
	SearchTypeVector   SearchType = "vector"
	SearchTypeFulltext SearchType = "fulltext"
)

// CommunitySelectionPolicy controls how DRIFT picks communities. GlobalTopN
// reproduces the source behavior: top-N communities by size regardless of
// query content. QueryConditioned is reserved; selecting it is an error
// until a query-aware ranking exists.
type CommunitySelectionPolicy string

const (
	SelectGlobalTopN       CommunitySelectionPolicy = "global_top_n"
	SelectQueryConditioned CommunitySelectionPolicy = "query_conditioned"
)

// ScoredProvision is one retrieval hit with its graph context attached.
type ScoredProvision struct {
	Provision  types.Provision     `json:"provision"`
	Score      float64             `json:"score"`
	SearchType SearchType          `json:"search_type"`
	Instrument *types.Instrument   `json:"instrument,omitempty"`
	Gazette    *types.GazetteIssue `json:"gazette,omitempty"`
}

// NeighborNode is the typed summary of a node reached by traversal. Neighbor
// nodes are heterogeneous (Provision, Judgment, Instrument, Event), so only
// the fields shared across labels are carried.
type NeighborNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Title string `json:"title,omitempty"`
}

// Neighbor is one traversal path entry from a seed provision.
type Neighbor struct {
	RelationshipType string         `json:"relationship_type"`
	Node             NeighborNode   `json:"node"`
	Properties       map[string]any `json:"properties,omitempty"`
}

// LocalResult is the outcome of the Local strategy. Seed is nil when neither
// seed source matched anything; that is a soft no-match, not an error.
type LocalResult struct {
	Seed       *ScoredProvision `json:"seed,omitempty"`
	Neighbors  []Neighbor       `json:"neighbors"`
	Amendments []types.Event    `json:"amendments"`
}

// CommunitySummary describes one community for the Global strategy.
type CommunitySummary struct {
	CommunityID int64          `json:"community_id"`
	Size        int64          `json:"size"`
	NodeTypes   []string       `json:"node_types"`
	SampleNodes []NeighborNode `json:"sample_nodes"`
	Summary     string         `json:"summary"`
}

// CommunityResult is one community explored by DRIFT.
type CommunityResult struct {
	CommunityID        int64             `json:"community_id"`
	ProvisionsExplored []types.Provision `json:"provisions_explored"`
	Paths              []Neighbor        `json:"paths"`
}

// DriftResult fuses semantic seeds with community exploration.
type DriftResult struct {
	SemanticSeeds    []ScoredProvision `json:"semantic_seeds"`
	CommunityResults []CommunityResult `json:"community_results"`
}

// ResultSet aggregates everything a request retrieved, in the shape the
// grounding validator flattens for its available-node-id set.
type ResultSet struct {
	Seeds       []ScoredProvision  `json:"seeds,omitempty"`
	Local       *LocalResult       `json:"local,omitempty"`
	Communities []CommunitySummary `json:"communities,omitempty"`
	Drift       *DriftResult       `json:"drift,omitempty"`
}

// Config carries the engine tunables. Zero values fall back to defaults.
type Config struct {
	VectorIndex   string
	FulltextIndex string

	MaxTraversalPaths           int
	CommunitySampleSize         int
	DriftSeedCount              int
	DriftProvisionsPerCommunity int
	DriftParallelism            int

	CommunitySelection CommunitySelectionPolicy
}

func DefaultConfig() Config {
	return Config{
		VectorIndex:                 "provision_embedding_idx",
		FulltextIndex:               "provision_fulltext_idx",
		MaxTraversalPaths:           20,
		CommunitySampleSize:         5,
		DriftSeedCount:              10,
		DriftProvisionsPerCommunity: 2,
		DriftParallelism:            4,
		CommunitySelection:          SelectGlobalTopN,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.VectorIndex == "" {
		c.VectorIndex = def.VectorIndex
	}
	if c.FulltextIndex == "" {
		c.FulltextIndex = def.FulltextIndex
	}
	if c.MaxTraversalPaths <= 0 {
		c.MaxTraversalPaths = def.MaxTraversalPaths
	}
	if c.CommunitySampleSize <= 0 {
		c.CommunitySampleSize = def.CommunitySampleSize
	}
	if c.DriftSeedCount <= 0 {
		c.DriftSeedCount = def.DriftSeedCount
	}
	if c.DriftProvisionsPerCommunity <= 0 {
		c.DriftProvisionsPerCommunity = def.DriftProvisionsPerCommunity
	}
	if c.DriftParallelism <= 0 {
		c.DriftParallelism = def.DriftParallelism
	}
	if c.CommunitySelection == "" {
		c.CommunitySelection = def.CommunitySelection
	}
}
