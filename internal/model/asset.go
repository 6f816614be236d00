package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Asset is the closed set of assets the dashboard knows how to price and
// display.
type Asset int

const (
	AssetUnknown Asset = iota
	AssetWETH
	AssetWBTC
	AssetUSDC
	AssetAAVE
	AssetAVAX
	AssetSAVAX
	AssetSTETH
	AssetRBN
	AssetYVUSDC
	AssetPERP

	assetCount
)

// AssetInfo is the static metadata of an asset
type AssetInfo struct {
	Symbol   string
	Decimals int
	// PriceID is the identifier used by the price oracle
	PriceID string
}

// assetTable must hold one entry per Asset. The test suite walks every
// variant so a missing entry fails loudly.
var assetTable = [assetCount]AssetInfo{
	AssetUnknown: {Symbol: "", Decimals: 0},
	AssetWETH:    {Symbol: "WETH", Decimals: 18, PriceID: "ethereum"},
	AssetWBTC:    {Symbol: "WBTC", Decimals: 8, PriceID: "wrapped-bitcoin"},
	AssetUSDC:    {Symbol: "USDC", Decimals: 6, PriceID: "usd-coin"},
	AssetAAVE:    {Symbol: "AAVE", Decimals: 18, PriceID: "aave"},
	AssetAVAX:    {Symbol: "AVAX", Decimals: 18, PriceID: "avalanche-2"},
	AssetSAVAX:   {Symbol: "sAVAX", Decimals: 18, PriceID: "benqi-liquid-staked-avax"},
	AssetSTETH:   {Symbol: "stETH", Decimals: 18, PriceID: "staked-ether"},
	AssetRBN:     {Symbol: "RBN", Decimals: 18, PriceID: "ribbon-finance"},
	AssetYVUSDC:  {Symbol: "yvUSDC", Decimals: 6, PriceID: "usd-coin"},
	AssetPERP:    {Symbol: "PERP", Decimals: 18, PriceID: "perpetual-protocol"},
}

// AllAssets returns every known asset, excluding AssetUnknown
func AllAssets() []Asset {
	assets := make([]Asset, 0, assetCount-1)
	for a := AssetUnknown + 1; a < assetCount; a++ {
		assets = append(assets, a)
	}
	return assets
}

// Valid reports whether a is a known asset
func (a Asset) Valid() bool {
	return a > AssetUnknown && a < assetCount
}

// Info returns the metadata of a. Unknown assets return the zero entry.
func (a Asset) Info() AssetInfo {
	if !a.Valid() {
		return assetTable[AssetUnknown]
	}
	return assetTable[a]
}

func (a Asset) String() string {
	if !a.Valid() {
		return "unknown"
	}
	return assetTable[a].Symbol
}

// ParseAsset resolves a symbol case-insensitively
func ParseAsset(symbol string) (Asset, error) {
	for _, a := range AllAssets() {
		if strings.EqualFold(assetTable[a].Symbol, symbol) {
			return a, nil
		}
	}
	return AssetUnknown, fmt.Errorf("unknown asset %q", symbol)
}

// AssetByPriceID returns every asset priced under the given oracle id
func AssetByPriceID(id string) []Asset {
	var out []Asset
	for _, a := range AllAssets() {
		if assetTable[a].PriceID == id {
			out = append(out, a)
		}
	}
	return out
}

func (a Asset) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Asset) UnmarshalJSON(data []byte) error {
	var symbol string
	if err := json.Unmarshal(data, &symbol); err != nil {
		return err
	}
	parsed, err := ParseAsset(symbol)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// UnmarshalText lets assets be decoded from TOML and query strings
func (a *Asset) UnmarshalText(text []byte) error {
	parsed, err := ParseAsset(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
