// Package coingecko fetches spot prices from the CoinGecko simple price API.
package coingecko

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/avkuzmin/cryptofolio/internal/marketdata/domain"
)

// Client wraps the /simple/price endpoint. Responses map asset id to a
// currency/value object:
//
//	{"bitcoin": {"usd": 43250.12, "usd_24h_change": -2.34}}
type Client struct {
	http *resty.Client
}

// New builds a client for the given API base URL. apiKey may be empty for
// the public tier.
func New(baseURL, apiKey string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	if apiKey != "" {
		c.SetHeader("x-cg-demo-api-key", apiKey)
	}
	return &Client{http: c}
}

func (c *Client) FetchQuotes(ctx context.Context, assetNames []string) (map[string]domain.Quote, error) {
	if len(assetNames) == 0 {
		return map[string]domain.Quote{}, nil
	}

	var payload map[string]map[string]float64
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"ids":                 strings.Join(assetNames, ","),
			"vs_currencies":       "usd",
			"include_24hr_change": "true",
		}).
		SetResult(&payload).
		Get("/simple/price")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d", domain.ErrUpstreamUnavailable, resp.StatusCode())
	}

	now := time.Now().UTC()
	quotes := make(map[string]domain.Quote, len(payload))
	for name, values := range payload {
		price, ok := values["usd"]
		if !ok {
			continue
		}
		quotes[name] = domain.Quote{
			AssetName:   name,
			Price:       decimal.NewFromFloat(price),
			Change24h:   values["usd_24h_change"],
			LastUpdated: now,
		}
	}
	return quotes, nil
}
