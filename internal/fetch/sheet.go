package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/vault-rewards/internal/model"
)

// SheetClient reads the published vault yield sheet
type SheetClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewSheetClient creates a sheet client. BaseURL is the full sheet URL.
func NewSheetClient(opts Options) *SheetClient {
	return &SheetClient{
		url:        opts.BaseURL,
		apiKey:     opts.APIKey,
		httpClient: StandardClient(newRetryClient(opts.Timeout)),
	}
}

// sheetNumber accepts numbers, numeric strings and percentages
type sheetNumber float64

func (n *sheetNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			*n = 0
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid sheet number %q: %w", s, err)
	}
	*n = sheetNumber(v)
	return nil
}

type sheetRow struct {
	Vault  string      `json:"vault"`
	Asset  string      `json:"asset"`
	APY    sheetNumber `json:"apy"`
	TVL    sheetNumber `json:"tvl"`
	Strike sheetNumber `json:"strike"`
}

// Fetch returns one metric per sheet row with a known asset
func (c *SheetClient) Fetch(ctx context.Context) ([]model.VaultMetric, error) {
	req, err := http.NewRequest(http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	var rows []sheetRow
	if err := getJSON(ctx, c.httpClient, req, "yield sheet", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no data returned from yield sheet")
	}

	now := time.Now().Unix()
	metrics := make([]model.VaultMetric, 0, len(rows))
	for _, r := range rows {
		asset, err := model.ParseAsset(r.Asset)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"vault": r.Vault,
				"asset": r.Asset,
			}).Debug("Skipping sheet row with unknown asset")
			continue
		}
		metrics = append(metrics, model.VaultMetric{
			Vault:       strings.TrimSpace(r.Vault),
			Asset:       asset,
			APY:         float64(r.APY),
			TVL:         float64(r.TVL),
			Strike:      float64(r.Strike),
			CollectedAt: now,
		})
	}
	return metrics, nil
}
