package config

import (
	"fmt"
	"math/big"
	"net/netip"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"evergreen/core/genesis"
	"evergreen/crypto"
	"evergreen/native/matrix"
)

const maxFeeBps = 10_000

// Validate rejects configurations the node cannot start with.
func (c *Config) Validate() error {
	if _, err := crypto.ParseAddress(c.OwnerAddress); err != nil {
		return fmt.Errorf("config: OwnerAddress: %w", err)
	}
	if strings.TrimSpace(c.CustodyAddress) != "" {
		if _, err := crypto.ParseAddress(c.CustodyAddress); err != nil {
			return fmt.Errorf("config: CustodyAddress: %w", err)
		}
	}
	if c.FeeBps > maxFeeBps {
		return fmt.Errorf("config: FeeBps %d exceeds %d", c.FeeBps, maxFeeBps)
	}
	if c.MaxCascadeDepth == 0 || c.MaxUplineDepth == 0 {
		return fmt.Errorf("config: cascade and upline depths must be positive")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate limit must not be negative")
	}
	for i, proxy := range c.RateLimit.TrustedProxies {
		if err := validProxy(proxy); err != nil {
			return fmt.Errorf("config: RateLimit.TrustedProxies[%d]: %w", i, err)
		}
	}
	for i, alloc := range c.Genesis {
		if _, err := crypto.ParseAddress(alloc.Address); err != nil {
			return fmt.Errorf("config: Genesis[%d]: %w", i, err)
		}
		if _, err := parseAmount(alloc.Amount); err != nil {
			return fmt.Errorf("config: Genesis[%d]: %w", i, err)
		}
	}
	return nil
}

// Owner returns the administrative root address.
func (c *Config) Owner() (common.Address, error) {
	return crypto.ParseAddress(c.OwnerAddress)
}

// Custody returns the configured custody account or derives it from the
// owner when none is set.
func (c *Config) Custody() (common.Address, error) {
	if strings.TrimSpace(c.CustodyAddress) != "" {
		return crypto.ParseAddress(c.CustodyAddress)
	}
	owner, err := c.Owner()
	if err != nil {
		return common.Address{}, err
	}
	return crypto.CustodyAddress(owner), nil
}

// Policy converts the payout knobs into a matrix policy.
func (c *Config) Policy() matrix.Policy {
	return matrix.Policy{
		FeeBps:          c.FeeBps,
		MaxCascadeDepth: c.MaxCascadeDepth,
		MaxUplineDepth:  c.MaxUplineDepth,
	}
}

// Catalog loads CatalogFile, or returns the built-in table when unset.
func (c *Config) Catalog() (*matrix.Catalog, error) {
	if strings.TrimSpace(c.CatalogFile) == "" {
		return matrix.DefaultCatalog(), nil
	}
	return matrix.LoadCatalog(c.CatalogFile)
}

// GenesisSpec builds the opening ledger state from the token settings and
// the Genesis allocations. Repeated addresses are summed.
func (c *Config) GenesisSpec() (*genesis.Spec, error) {
	spec := &genesis.Spec{
		Token: genesis.TokenSpec{Symbol: c.TokenSymbol, Name: c.TokenName, Decimals: c.TokenDecimals},
		Alloc: make(map[common.Address]*big.Int, len(c.Genesis)),
	}
	for i, alloc := range c.Genesis {
		addr, err := crypto.ParseAddress(alloc.Address)
		if err != nil {
			return nil, fmt.Errorf("config: Genesis[%d]: %w", i, err)
		}
		amount, err := alloc.AllocationAmount()
		if err != nil {
			return nil, fmt.Errorf("config: Genesis[%d]: %w", i, err)
		}
		if existing, ok := spec.Alloc[addr]; ok {
			amount = amount.Add(amount, existing)
		}
		spec.Alloc[addr] = amount
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// AllocationAmount parses a genesis allocation amount.
func (a Allocation) AllocationAmount() (*big.Int, error) {
	return parseAmount(a.Amount)
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func validProxy(entry string) error {
	trimmed := strings.TrimSpace(entry)
	if strings.Contains(trimmed, "/") {
		_, err := netip.ParsePrefix(trimmed)
		return err
	}
	_, err := netip.ParseAddr(trimmed)
	return err
}
