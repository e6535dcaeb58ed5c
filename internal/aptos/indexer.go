package aptos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// DefaultIndexerPageSize is the indexer's row cap per query.
const DefaultIndexerPageSize = 100

const balancesQuery = `query FungibleAssetBalances($assetType: String!, $limit: Int!, $offset: Int!) {
  current_fungible_asset_balances(
    where: {asset_type: {_eq: $assetType}}
    order_by: {owner_address: asc}
    limit: $limit
    offset: $offset
  ) {
    owner_address
    amount
  }
}`

// IndexerClient implements Indexer over the GraphQL endpoint.
type IndexerClient struct {
	endpoint string
	pageSize int
	t        *transport
}

// NewIndexerClient creates a client for an indexer GraphQL endpoint.
func NewIndexerClient(endpoint string, opts ...ClientOption) *IndexerClient {
	return &IndexerClient{
		endpoint: endpoint,
		pageSize: DefaultIndexerPageSize,
		t:        newTransport(opts...),
	}
}

// Compile-time interface check.
var _ Indexer = (*IndexerClient)(nil)

// WithPageSize overrides the page size. Values <= 0 are ignored.
func (c *IndexerClient) WithPageSize(n int) *IndexerClient {
	if n > 0 {
		c.pageSize = n
	}
	return c
}

// graphQLRequest is a GraphQL POST body.
type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

// graphQLError is one entry of the GraphQL errors array.
type graphQLError struct {
	Message string `json:"message"`
}

type balancesResponse struct {
	Data struct {
		Balances []struct {
			OwnerAddress string          `json:"owner_address"`
			Amount       json.RawMessage `json:"amount"`
		} `json:"current_fungible_asset_balances"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// FungibleAssetBalances returns all current holder balances for an asset type,
// following offset pagination until a short page.
func (c *IndexerClient) FungibleAssetBalances(ctx context.Context, assetType string) ([]FungibleAssetBalance, error) {
	var out []FungibleAssetBalance

	for offset := 0; ; offset += c.pageSize {
		req := graphQLRequest{
			Query: balancesQuery,
			Variables: map[string]interface{}{
				"assetType": assetType,
				"limit":     c.pageSize,
				"offset":    offset,
			},
		}

		var resp balancesResponse
		if err := c.t.do(ctx, http.MethodPost, c.endpoint, req, &resp, true); err != nil {
			return nil, err
		}
		if len(resp.Errors) > 0 {
			msgs := make([]string, len(resp.Errors))
			for i, e := range resp.Errors {
				msgs[i] = e.Message
			}
			return nil, &APIError{StatusCode: http.StatusOK, Code: "graphql", Message: strings.Join(msgs, "; ")}
		}

		for _, b := range resp.Data.Balances {
			out = append(out, FungibleAssetBalance{
				OwnerAddress: b.OwnerAddress,
				Amount:       rawNumber(b.Amount),
			})
		}

		if len(resp.Data.Balances) < c.pageSize {
			return out, nil
		}
		if offset > 1_000_000 {
			return nil, fmt.Errorf("indexer pagination did not terminate for %s", assetType)
		}
	}
}

// rawNumber returns the JSON value as text, unquoting strings.
// Validation is left to the caller.
func rawNumber(raw json.RawMessage) string {
	s := string(bytes.TrimSpace(raw))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		var unq string
		if err := json.Unmarshal(raw, &unq); err == nil {
			return unq
		}
	}
	return s
}
