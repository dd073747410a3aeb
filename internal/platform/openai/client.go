package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/yungbote/lexgraph-backend/internal/platform/envutil"
	"github.com/yungbote/lexgraph-backend/internal/platform/logger"
)

// Client is the embeddings client used by the retrieval engine. Text
// generation happens outside this core; only vectors are produced here.
type Client interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	Dimension() int
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	embedModel string
	dimension  int
	httpClient *http.Client
	maxRetries int
}

func NewFromEnv(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("openai: logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("openai: missing OPENAI_API_KEY")
	}

	dim := envutil.Int("EMBEDDING_DIMENSION", 1536)
	if dim <= 0 {
		return nil, fmt.Errorf("openai: invalid EMBEDDING_DIMENSION %d", dim)
	}

	return &client{
		log:        log.With("client", "OpenAI"),
		baseURL:    strings.TrimRight(envutil.Str("OPENAI_BASE_URL", "https://api.openai.com"), "/"),
		apiKey:     apiKey,
		embedModel: envutil.Str("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		dimension:  dim,
		httpClient: &http.Client{
			Timeout: envutil.Duration("OPENAI_TIMEOUT", 30*time.Second),
		},
		maxRetries: envutil.Int("OPENAI_MAX_RETRIES", 2),
	}, nil
}

func (c *client) Dimension() int { return c.dimension }

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	req := embeddingsRequest{Model: c.embedModel, Input: clean}
	var resp embeddingsResponse
	if err := c.do(ctx, "/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Data) != len(clean) {
		return nil, fmt.Errorf("openai: embeddings count mismatch: requested=%d returned=%d", len(clean), len(resp.Data))
	}

	out := make([][]float32, len(clean))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai: embeddings index out of range: %d", d.Index)
		}
		// Dimension is validated at this boundary; downstream code trusts it.
		if len(d.Embedding) != c.dimension {
			return nil, fmt.Errorf("openai: embedding dimension mismatch: expected=%d got=%d", c.dimension, len(d.Embedding))
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}
	return out, nil
}

func (c *client) do(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("openai: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("openai: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("openai: %s: %w", path, err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			err = json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("openai: decode response: %w", err)
			}
			return nil
		}

		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		lastErr = fmt.Errorf("openai: %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return lastErr
		}
		c.log.Warn("openai request retrying", "path", path, "status", resp.StatusCode, "attempt", attempt+1)
	}
	return lastErr
}
