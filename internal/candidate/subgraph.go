package candidate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/blackholelabs/liqd/internal/enginerr"
	"github.com/tidwall/gjson"
)

// subgraphClient issues GraphQL POST queries against a protocol's
// subgraph or REST/GraphQL endpoint and exposes the raw response body for
// gjson traversal, since each protocol's schema differs enough that a
// typed response struct per protocol is more natural than one shared one.
type subgraphClient struct {
	url        string
	httpClient *http.Client
}

func newSubgraphClient(url string) *subgraphClient {
	return &subgraphClient{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *subgraphClient) query(ctx context.Context, query string, variables map[string]any) (gjson.Result, error) {
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("build graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, enginerr.New(enginerr.KindTransientNetwork, fmt.Errorf("graphql request to %s: %w", c.url, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, enginerr.New(enginerr.KindTransientNetwork, fmt.Errorf("read graphql response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return gjson.Result{}, enginerr.Newf(enginerr.KindRateLimited, "subgraph %s rate limited", c.url)
	}
	if resp.StatusCode >= 500 {
		return gjson.Result{}, enginerr.Newf(enginerr.KindTransientNetwork, "subgraph %s returned %d", c.url, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, enginerr.WithReason(enginerr.KindDataSchema, "subgraph-http-error", fmt.Errorf("subgraph %s returned %d: %s", c.url, resp.StatusCode, raw))
	}

	parsed := gjson.ParseBytes(raw)
	if errors := parsed.Get("errors"); errors.Exists() && errors.IsArray() && len(errors.Array()) > 0 {
		return gjson.Result{}, enginerr.WithReason(enginerr.KindDataSchema, "subgraph-graphql-error", fmt.Errorf("subgraph %s returned errors: %s", c.url, errors.Raw))
	}

	return parsed.Get("data"), nil
}
