// Package app wires the platform clients into a retrieval engine. It is the
// composition root consumed by the HTTP layer (which lives outside this
// module) and by the cmd/ probes.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/lexgraph-backend/internal/observability"
	"github.com/yungbote/lexgraph-backend/internal/platform/envutil"
	"github.com/yungbote/lexgraph-backend/internal/platform/logger"
	"github.com/yungbote/lexgraph-backend/internal/platform/neo4jdb"
	"github.com/yungbote/lexgraph-backend/internal/platform/openai"
	"github.com/yungbote/lexgraph-backend/internal/retrieval"
)

type App struct {
	Log    *logger.Logger
	Neo4j  *neo4jdb.Client
	Redis  *goredis.Client
	Engine *retrieval.Engine

	shutdownOTel func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	log, err := logger.New(envutil.Str("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "lexgraph-retrieval",
		Environment: envutil.Str("APP_ENV", "development"),
		Version:     envutil.Str("APP_VERSION", "dev"),
	})

	neo, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init neo4j: %w", err)
	}

	embedder, err := openai.NewFromEnv(log)
	if err != nil {
		_ = neo.Close(ctx)
		log.Sync()
		return nil, fmt.Errorf("init openai: %w", err)
	}

	engine, err := retrieval.NewEngine(neo, embedder, log, retrieval.Config{
		VectorIndex:   envutil.Str("PROVISION_VECTOR_INDEX", ""),
		FulltextIndex: envutil.Str("PROVISION_FULLTEXT_INDEX", ""),
	})
	if err != nil {
		_ = neo.Close(ctx)
		log.Sync()
		return nil, fmt.Errorf("init retrieval engine: %w", err)
	}

	// Redis is optional: without it community summaries are read from the
	// graph on every call.
	var rdb *goredis.Client
	if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
		rdb = goredis.NewClient(&goredis.Options{
			Addr:     addr,
			Password: strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
			DB:       envutil.Int("REDIS_DB", 0),
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable; community cache disabled", "addr", addr, "error", err)
			_ = rdb.Close()
			rdb = nil
		} else {
			engine.Communities().WithCache(rdb)
		}
	}

	log.Info("retrieval app ready", "redis_cache", rdb != nil)
	return &App{
		Log:          log,
		Neo4j:        neo,
		Redis:        rdb,
		Engine:       engine,
		shutdownOTel: shutdownOTel,
	}, nil
}

// Healthy verifies the graph store connection.
func (a *App) Healthy(ctx context.Context) error {
	return a.Neo4j.Healthy(ctx)
}

func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.Neo4j.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.shutdownOTel != nil {
		if err := a.shutdownOTel(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.Log.Sync()
	return firstErr
}
