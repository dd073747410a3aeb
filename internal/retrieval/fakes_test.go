package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/yungbote/lexgraph-backend/internal/platform/logger"
)

func testLogger() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

type storeCall struct {
	cypher string
	params map[string]any
}

type storeRoute struct {
	match string
	rows  []map[string]any
	err   error
}

// fakeGraphStore routes queries by Cypher substring. Unmatched queries
// return no rows, mirroring an empty graph.
type fakeGraphStore struct {
	mu     sync.Mutex
	routes []storeRoute
	calls  []storeCall
}

func (f *fakeGraphStore) on(match string, rows []map[string]any) *fakeGraphStore {
	f.routes = append(f.routes, storeRoute{match: match, rows: rows})
	return f
}

func (f *fakeGraphStore) failOn(match string, err error) *fakeGraphStore {
	f.routes = append(f.routes, storeRoute{match: match, err: err})
	return f
}

func (f *fakeGraphStore) Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, storeCall{cypher: cypher, params: params})
	f.mu.Unlock()
	for _, r := range f.routes {
		if strings.Contains(cypher, r.match) {
			return r.rows, r.err
		}
	}
	return nil, nil
}

func (f *fakeGraphStore) callsMatching(match string) []storeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storeCall
	for _, c := range f.calls {
		if strings.Contains(c.cypher, match) {
			out = append(out, c)
		}
	}
	return out
}

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = f.vector
	}
	return out, nil
}

var errStoreDown = errors.New("connection refused")

// Query route markers shared across tests.
const (
	matchKNN        = "db.index.vector.queryNodes"
	matchFulltext   = "db.index.fulltext.queryNodes"
	matchContext    = "UNWIND $ids AS pid"
	matchNeighbors  = "MATCH (p:Provision {id: $id})-[r:"
	matchAmendments = "[:AFFECTS]->(p:Provision {id: $id})"
	matchTopComms   = "WHERE n.communityId IS NOT NULL"
	matchCommProvs  = "WHERE p.communityId IN $ids"
)

func provisionRow(id, number, title, text string, communityID any, score float64) map[string]any {
	return map[string]any{
		"id":           id,
		"number":       number,
		"title":        title,
		"text":         text,
		"community_id": communityID,
		"score":        score,
	}
}

func newTestEngine(store *fakeGraphStore, embedder Embedder) *Engine {
	eng, err := NewEngine(store, embedder, testLogger(), Config{})
	if err != nil {
		panic(err)
	}
	return eng
}
