// Package graph provides a read-only client for the external graph store's
// DQL query endpoint.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultQueryTimeout bounds data queries.
	DefaultQueryTimeout = 30 * time.Second
	// DefaultSchemaTimeout bounds schema/introspection calls.
	DefaultSchemaTimeout = 10 * time.Second

	contentTypeDQL = "application/dql"
)

// Config configures the graph client.
type Config struct {
	// URL is the base address of the graph store, e.g. http://localhost:8080.
	URL string `yaml:"url" json:"url"`
	// QueryTimeout bounds data queries. Default 30s.
	QueryTimeout time.Duration `yaml:"query_timeout" json:"query_timeout"`
	// SchemaTimeout bounds schema reads. Default 10s.
	SchemaTimeout time.Duration `yaml:"schema_timeout" json:"schema_timeout"`
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		QueryTimeout:  DefaultQueryTimeout,
		SchemaTimeout: DefaultSchemaTimeout,
	}
}

// Client issues read-only DQL queries over HTTP.
type Client struct {
	baseURL       string
	queryTimeout  time.Duration
	schemaTimeout time.Duration
	httpClient    *http.Client
}

// NewClient creates a graph client. The base URL is required.
func NewClient(cfg Config) (*Client, error) {
	url := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if url == "" {
		return nil, fmt.Errorf("graph: store URL is required")
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.SchemaTimeout <= 0 {
		cfg.SchemaTimeout = DefaultSchemaTimeout
	}
	return &Client{
		baseURL:       url,
		queryTimeout:  cfg.QueryTimeout,
		schemaTimeout: cfg.SchemaTimeout,
		httpClient:    &http.Client{},
	}, nil
}

// queryResponse is the store's envelope: data on success, errors otherwise.
type queryResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Query runs a read-only DQL query and returns the raw data payload.
// The request is bounded by the configured query timeout independent of
// the caller's context deadline.
func (c *Client) Query(ctx context.Context, dql string) ([]byte, error) {
	return c.post(ctx, "/query", dql, c.queryTimeout)
}

// Schema fetches the store schema, using the shorter introspection timeout.
func (c *Client) Schema(ctx context.Context) ([]byte, error) {
	return c.post(ctx, "/query", "schema {}", c.schemaTimeout)
}

func (c *Client) post(ctx context.Context, path, body string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBufferString(body))
	if err != nil {
		return nil, fmt.Errorf("graph: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeDQL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph: query failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("graph: read response: %w", err)
	}

	var parsed queryResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("graph: malformed response (status %d): %w", resp.StatusCode, err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("graph: query error: %s", parsed.Errors[0].Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph: unexpected status %d", resp.StatusCode)
	}
	return parsed.Data, nil
}
