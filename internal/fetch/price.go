package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yourorg/vault-rewards/internal/model"
)

// PriceClient reads USD prices from a CoinGecko style simple/price endpoint
type PriceClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewPriceClient creates a price oracle client
func NewPriceClient(opts Options) *PriceClient {
	return &PriceClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: StandardClient(newRetryClient(opts.Timeout)),
	}
}

// Fetch returns one price point per requested asset the oracle knows.
// Assets sharing an oracle id get the same price.
func (c *PriceClient) Fetch(ctx context.Context, assets []model.Asset) ([]model.PricePoint, error) {
	ids := make([]string, 0, len(assets))
	seen := make(map[string]bool)
	for _, a := range assets {
		id := a.Info().PriceID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no priceable assets requested")
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.apiKey)
	}

	var response map[string]struct {
		USD       float64 `json:"usd"`
		USDChange float64 `json:"usd_24h_change"`
	}
	if err := getJSON(ctx, c.httpClient, req, "price oracle", &response); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	points := make([]model.PricePoint, 0, len(assets))
	for _, a := range assets {
		entry, ok := response[a.Info().PriceID]
		if !ok {
			continue
		}
		points = append(points, model.PricePoint{
			Asset:       a,
			Price:       entry.USD,
			DailyChange: entry.USDChange,
			CollectedAt: now,
		})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("no data returned from price oracle")
	}
	return points, nil
}
