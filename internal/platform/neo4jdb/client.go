package neo4jdb

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/lexgraph-backend/internal/platform/envutil"
	"github.com/yungbote/lexgraph-backend/internal/platform/logger"
)

// Client wraps the Neo4j driver for read-only retrieval queries.
// The retrieval engine never issues writes through it.
type Client struct {
	Driver   neo4j.DriverWithContext
	Database string
	timeout  time.Duration
	log      *logger.Logger
}

func NewFromEnv(log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("neo4jdb: logger required")
	}

	uri := strings.TrimSpace(os.Getenv("NEO4J_URI"))
	if uri == "" {
		return nil, fmt.Errorf("neo4jdb: missing NEO4J_URI")
	}

	user := envutil.Str("NEO4J_USER", "neo4j")
	password := strings.TrimSpace(os.Getenv("NEO4J_PASSWORD"))
	database := strings.TrimSpace(os.Getenv("NEO4J_DATABASE"))

	timeout := time.Duration(envutil.Int("NEO4J_TIMEOUT_SECONDS", 10)) * time.Second
	maxPool := envutil.Int("NEO4J_MAX_POOL_SIZE", 50)

	auth := neo4j.BasicAuth(user, password, "")
	driver, err := neo4j.NewDriverWithContext(uri, auth, func(cfg *neo4j.Config) {
		cfg.MaxConnectionPoolSize = maxPool
		cfg.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4jdb: init driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4jdb: verify connectivity: %w", err)
	}

	return &Client{
		Driver:   driver,
		Database: database,
		timeout:  timeout,
		log:      log.With("client", "Neo4jDB"),
	}, nil
}

// Read executes a Cypher read query and returns its records as key->value
// rows. Each call runs in its own session; typed decoding of the rows is the
// caller's responsibility.
func (c *Client) Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	if c == nil || c.Driver == nil {
		return nil, fmt.Errorf("neo4jdb: driver not connected")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	session := c.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: c.Database,
	})
	defer session.Close(ctx)

	rows, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(records))
		for _, rec := range records {
			row := make(map[string]any, len(rec.Keys))
			for i, key := range rec.Keys {
				row[key] = rec.Values[i]
			}
			out = append(out, row)
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("neo4jdb: read query: %w", err)
	}
	return rows.([]map[string]any), nil
}

// Healthy verifies connectivity with a bounded timeout.
func (c *Client) Healthy(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return fmt.Errorf("neo4jdb: driver not connected")
	}
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Driver.VerifyConnectivity(healthCtx); err != nil {
		return fmt.Errorf("neo4jdb: connectivity check: %w", err)
	}
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := c.Driver.Close(ctx)
	c.Driver = nil
	return err
}
