package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/vault-rewards/internal/model"
	"github.com/yourorg/vault-rewards/internal/units"
)

// ErrUnknownVault is returned by Lookup for a name not in the table
var ErrUnknownVault = errors.New("unknown vault")

// Vault is one row of the vault table
type Vault struct {
	Name  string      `toml:"name"`
	Asset model.Asset `toml:"asset"`

	// Address of the vault contract
	Address common.Address `toml:"address"`

	// Token is the deposit token, zero for the native asset
	Token common.Address `toml:"token"`

	// Gauge is the liquidity gauge staking the vault shares, zero if none
	Gauge common.Address `toml:"gauge"`

	Decimals int `toml:"decimals"`

	// Cap and MaxDeposit are whole-token amounts, e.g. "1000.5".
	// Cap overrides the on-chain cap when set.
	Cap        string `toml:"cap"`
	MaxDeposit string `toml:"max_deposit"`

	// Warning is shown before the deposit form
	Warning string `toml:"warning"`

	// Confirmations per action, keyed by transaction type
	Confirmations map[string]uint64 `toml:"confirmations"`

	cap        *big.Int
	maxDeposit *big.Int
}

// Token is a swappable token
type Token struct {
	Symbol   string         `toml:"symbol"`
	Address  common.Address `toml:"address"`
	Decimals int            `toml:"decimals"`
}

// VaultTable is the decoded vault table file
type VaultTable struct {
	Vaults []Vault `toml:"vault"`
	Tokens []Token `toml:"token"`
}

// LoadVaults decodes and validates the vault table at path
func LoadVaults(path string) (*VaultTable, error) {
	var table VaultTable
	meta, err := toml.DecodeFile(path, &table)
	if err != nil {
		return nil, fmt.Errorf("error decoding vault table %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		logrus.WithField("keys", undecoded).Warn("Ignoring unknown keys in vault table")
	}
	if err := table.validate(); err != nil {
		return nil, fmt.Errorf("invalid vault table %s: %w", path, err)
	}
	return &table, nil
}

// ParseVaults decodes a vault table from a TOML document
func ParseVaults(doc string) (*VaultTable, error) {
	var table VaultTable
	if _, err := toml.Decode(doc, &table); err != nil {
		return nil, fmt.Errorf("error decoding vault table: %w", err)
	}
	if err := table.validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

func (t *VaultTable) validate() error {
	seen := make(map[string]bool, len(t.Vaults))
	for i := range t.Vaults {
		v := &t.Vaults[i]
		if v.Name == "" {
			return fmt.Errorf("vault #%d: missing name", i)
		}
		key := strings.ToLower(v.Name)
		if seen[key] {
			return fmt.Errorf("vault %s: duplicate name", v.Name)
		}
		seen[key] = true

		if !v.Asset.Valid() {
			return fmt.Errorf("vault %s: missing asset", v.Name)
		}
		if v.Address == (common.Address{}) {
			return fmt.Errorf("vault %s: missing address", v.Name)
		}
		if v.Decimals == 0 {
			v.Decimals = v.Asset.Info().Decimals
		}

		var err error
		if v.cap, err = parseLimit(v.Cap, v.Decimals); err != nil {
			return fmt.Errorf("vault %s: cap: %w", v.Name, err)
		}
		if v.maxDeposit, err = parseLimit(v.MaxDeposit, v.Decimals); err != nil {
			return fmt.Errorf("vault %s: max_deposit: %w", v.Name, err)
		}
	}

	for i, tok := range t.Tokens {
		if tok.Symbol == "" || tok.Address == (common.Address{}) {
			return fmt.Errorf("token #%d: symbol and address are required", i)
		}
	}
	return nil
}

func parseLimit(s string, decimals int) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return units.ParseUnits(s, decimals)
}

// Lookup finds a vault by name, case-insensitively
func (t *VaultTable) Lookup(name string) (Vault, error) {
	for _, v := range t.Vaults {
		if strings.EqualFold(v.Name, name) {
			return v, nil
		}
	}
	return Vault{}, fmt.Errorf("%w: %s", ErrUnknownVault, name)
}

// LookupToken finds a swappable token by symbol
func (t *VaultTable) LookupToken(symbol string) (model.Token, bool) {
	for _, tok := range t.Tokens {
		if strings.EqualFold(tok.Symbol, symbol) {
			return model.Token{Address: tok.Address, Symbol: tok.Symbol, Decimals: tok.Decimals}, true
		}
	}
	return model.Token{}, false
}

// Assets returns the distinct assets of the table in table order
func (t *VaultTable) Assets() []model.Asset {
	seen := make(map[model.Asset]bool)
	var out []model.Asset
	for _, v := range t.Vaults {
		if !seen[v.Asset] {
			seen[v.Asset] = true
			out = append(out, v.Asset)
		}
	}
	return out
}

// CapOverride returns the configured cap in raw units, nil when unset
func (v Vault) CapOverride() *big.Int {
	return copyInt(v.cap)
}

// MaxDepositLimit returns the per-user maximum in raw units, nil when unset
func (v Vault) MaxDepositLimit() *big.Int {
	return copyInt(v.maxDeposit)
}

// ConfirmationsFor returns the confirmations required for action, at least one
func (v Vault) ConfirmationsFor(action model.TxType) uint64 {
	if n := v.Confirmations[string(action)]; n > 0 {
		return n
	}
	return 1
}

// Native reports whether deposits are made in the chain's native asset
func (v Vault) Native() bool {
	return v.Token == (common.Address{})
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
