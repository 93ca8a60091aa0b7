package config

import "math/big"

func parseAmount(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

// FundingAmount returns the configured vault balance, zero when unset.
func (c *DistributorConfig) FundingAmount() *big.Int {
	if v, ok := parseAmount(c.Funding); ok {
		return v
	}
	return new(big.Int)
}

// TokenIDValues returns the configured NFT ids, skipping malformed entries.
func (c *DistributorConfig) TokenIDValues() []*big.Int {
	out := make([]*big.Int, 0, len(c.TokenIDs))
	for _, id := range c.TokenIDs {
		if v, ok := parseAmount(id); ok {
			out = append(out, v)
		}
	}
	return out
}
