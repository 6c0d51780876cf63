package price

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

const assetPriceQuery = `
query AssetPrice($token: String!) {
  token(id: $token) {
    priceUsd: lastPriceUSD
  }
}`

// SubgraphReader reads a lending protocol's own cached asset price from
// its subgraph, used as the second fallback tier.
type SubgraphReader struct {
	url        string
	httpClient *http.Client
}

// NewSubgraphReader builds a reader against one protocol subgraph URL.
func NewSubgraphReader(url string) *SubgraphReader {
	return &SubgraphReader{url: url, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

// AssetPriceUsd satisfies SubgraphPriceReader.
func (r *SubgraphReader) AssetPriceUsd(ctx context.Context, token string) (float64, error) {
	body, err := json.Marshal(map[string]any{
		"query":     assetPriceQuery,
		"variables": map[string]any{"token": token},
	})
	if err != nil {
		return 0, fmt.Errorf("marshal subgraph query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build subgraph request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("subgraph request to %s: %w", r.url, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return 0, fmt.Errorf("read subgraph response: %w", err)
	}

	price := gjson.GetBytes(buf.Bytes(), "data.token.priceUsd")
	if !price.Exists() {
		return 0, fmt.Errorf("subgraph response for %s missing data.token.priceUsd", token)
	}
	return price.Float(), nil
}
