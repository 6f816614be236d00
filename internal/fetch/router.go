package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/yourorg/vault-rewards/internal/quote"
)

// RouterClient implements quote.Router over the smart order router's HTTP API
type RouterClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ quote.Router = (*RouterClient)(nil)

// NewRouterClient creates a router client
func NewRouterClient(opts Options) *RouterClient {
	return &RouterClient{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: StandardClient(newRetryClient(opts.Timeout)),
	}
}

// HasDataForPair reports whether the router has pools for the pair
func (c *RouterClient) HasDataForPair(ctx context.Context, tokenIn, tokenOut common.Address) (bool, error) {
	q := url.Values{}
	q.Set("tokenIn", tokenIn.Hex())
	q.Set("tokenOut", tokenOut.Hex())
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/pairs?"+q.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("error creating request: %w", err)
	}
	c.headers(req)

	var response struct {
		HasData bool `json:"hasData"`
	}
	if err := getJSON(ctx, c.httpClient, req, "router", &response); err != nil {
		return false, err
	}
	return response.HasData, nil
}

type swapRequest struct {
	TokenIn  common.Address `json:"tokenIn"`
	TokenOut common.Address `json:"tokenOut"`
	SwapType string         `json:"swapType"`
	Amount   string         `json:"amount"`
}

type swapResponse struct {
	Route       []common.Address `json:"route"`
	TradeAmount string           `json:"tradeAmount"`
	SpotPrice   decimal.Decimal  `json:"spotPrice"`
	To          common.Address   `json:"to"`
	Data        hexutil.Bytes    `json:"data"`
	Value       string           `json:"value"`
}

// GetSwaps asks the router for the best route for amount
func (c *RouterClient) GetSwaps(ctx context.Context, tokenIn, tokenOut common.Address, swapType string, amount *big.Int) (quote.Swap, error) {
	if amount == nil {
		return quote.Swap{}, fmt.Errorf("nil swap amount")
	}
	body, err := json.Marshal(swapRequest{
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
		SwapType: swapType,
		Amount:   amount.String(),
	})
	if err != nil {
		return quote.Swap{}, fmt.Errorf("failed to marshal swap request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/swaps", bytes.NewReader(body))
	if err != nil {
		return quote.Swap{}, fmt.Errorf("error creating request: %w", err)
	}
	c.headers(req)
	req.Header.Set("Content-Type", "application/json")

	var response swapResponse
	if err := getJSON(ctx, c.httpClient, req, "router", &response); err != nil {
		return quote.Swap{}, err
	}

	trade, ok := new(big.Int).SetString(response.TradeAmount, 10)
	if !ok {
		return quote.Swap{}, fmt.Errorf("invalid trade amount %q from router", response.TradeAmount)
	}
	value := new(big.Int)
	if response.Value != "" {
		if _, ok := value.SetString(response.Value, 10); !ok {
			return quote.Swap{}, fmt.Errorf("invalid value %q from router", response.Value)
		}
	}
	return quote.Swap{
		Route:       response.Route,
		TradeAmount: trade,
		SpotPrice:   response.SpotPrice,
		To:          response.To,
		Data:        response.Data,
		Value:       value,
	}, nil
}

func (c *RouterClient) headers(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
