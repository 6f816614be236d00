package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/vault-rewards/internal/model"
)

const vaultTable = `
[[vault]]
name = "T-ETH-C"
asset = "WETH"
address = "0x25751853Eab4D0eB3652B5eB6ecB102A2789644B"
token = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
gauge = "0x9038403C3F7C6B5Ca361C82f33dd38D46fB33b6f"
cap = "1000"
max_deposit = "50.5"
warning = "Funds are locked until the end of the weekly round."

  [vault.confirmations]
  deposit = 2

[[vault]]
name = "T-AVAX-C"
asset = "avax"
address = "0x98d03125c62DaE2328D9d3cb32b7B969e6a87787"
decimals = 18

[[token]]
symbol = "USDC"
address = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
decimals = 6
`

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PRICE_POLL_INTERVAL", "not-a-duration")
	t.Setenv("SIGNER_KEY", "0xabc")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.PricePollInterval)
	assert.Equal(t, 10*time.Minute, cfg.ConfirmTimeout)
	assert.Equal(t, "abc", cfg.SignerKey)
	assert.True(t, cfg.CanSign())
	assert.Equal(t, int64(1), cfg.ChainID)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CFG_INT", "7")
	t.Setenv("CFG_FLOAT", "0.25")
	t.Setenv("CFG_BOOL", "true")
	t.Setenv("CFG_BAD", "x")

	assert.Equal(t, 7, GetEnvAsInt("CFG_INT", 1))
	assert.Equal(t, 1, GetEnvAsInt("CFG_BAD", 1))
	assert.Equal(t, 0.25, GetEnvAsFloat("CFG_FLOAT", 1))
	assert.True(t, GetEnvAsBool("CFG_BOOL", false))
	assert.False(t, GetEnvAsBool("CFG_BAD", false))
	assert.Equal(t, "fallback", GetEnvOrDefault("CFG_MISSING", "fallback"))
}

func TestParseVaults(t *testing.T) {
	table, err := ParseVaults(vaultTable)
	require.NoError(t, err)
	require.Len(t, table.Vaults, 2)

	eth, err := table.Lookup("t-eth-c")
	require.NoError(t, err)
	assert.Equal(t, model.AssetWETH, eth.Asset)
	assert.Equal(t, 18, eth.Decimals, "decimals default to the asset's")
	assert.Equal(t, "1000000000000000000000", eth.CapOverride().String())
	assert.Equal(t, "50500000000000000000", eth.MaxDepositLimit().String())
	assert.Equal(t, uint64(2), eth.ConfirmationsFor(model.TxDeposit))
	assert.Equal(t, uint64(1), eth.ConfirmationsFor(model.TxStake))
	assert.False(t, eth.Native())

	avax, err := table.Lookup("T-AVAX-C")
	require.NoError(t, err)
	assert.True(t, avax.Native())
	assert.Nil(t, avax.CapOverride())

	assert.Equal(t, []model.Asset{model.AssetWETH, model.AssetAVAX}, table.Assets())

	usdc, ok := table.LookupToken("usdc")
	require.True(t, ok)
	assert.Equal(t, 6, usdc.Decimals)

	_, err = table.Lookup("missing")
	assert.ErrorIs(t, err, ErrUnknownVault)
}

func TestParseVaultsRejectsInvalidRows(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing name", `[[vault]]
asset = "WETH"
address = "0x25751853Eab4D0eB3652B5eB6ecB102A2789644B"`},
		{"unknown asset", `[[vault]]
name = "X"
asset = "DOGE"
address = "0x25751853Eab4D0eB3652B5eB6ecB102A2789644B"`},
		{"missing address", `[[vault]]
name = "X"
asset = "WETH"`},
		{"too precise cap", `[[vault]]
name = "X"
asset = "USDC"
address = "0x25751853Eab4D0eB3652B5eB6ecB102A2789644B"
cap = "1.0000001"`},
		{"duplicate", `[[vault]]
name = "X"
asset = "WETH"
address = "0x25751853Eab4D0eB3652B5eB6ecB102A2789644B"
[[vault]]
name = "x"
asset = "WETH"
address = "0x25751853Eab4D0eB3652B5eB6ecB102A2789644B"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseVaults(tt.doc)
			assert.Error(t, err)
		})
	}
}

func TestLoadVaultsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaults.toml")
	require.NoError(t, os.WriteFile(path, []byte(vaultTable+"\nunused = 1\n"), 0o600))

	table, err := LoadVaults(path)
	require.NoError(t, err)
	assert.Len(t, table.Vaults, 2)

	_, err = LoadVaults(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
