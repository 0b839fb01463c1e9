package fraud

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
)

// IPRiskChecker decides whether a client address is high risk.
type IPRiskChecker interface {
	IsHighRisk(ctx context.Context, ip string) bool
}

// NoIPRisk never flags an address.
type NoIPRisk struct{}

func (NoIPRisk) IsHighRisk(context.Context, string) bool { return false }

// CIDRRiskChecker flags addresses inside any configured range.
type CIDRRiskChecker struct {
	prefixes []netip.Prefix
}

// NewCIDRRiskChecker parses ranges such as "203.0.113.0/24". Bare addresses
// are treated as single-host ranges.
func NewCIDRRiskChecker(ranges []string) (*CIDRRiskChecker, error) {
	c := &CIDRRiskChecker{}
	for _, r := range ranges {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if !strings.Contains(r, "/") {
			addr, err := netip.ParseAddr(r)
			if err != nil {
				return nil, fmt.Errorf("parse high risk address %q: %w", r, err)
			}
			c.prefixes = append(c.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(r)
		if err != nil {
			return nil, fmt.Errorf("parse high risk range %q: %w", r, err)
		}
		c.prefixes = append(c.prefixes, prefix.Masked())
	}
	return c, nil
}

func (c *CIDRRiskChecker) IsHighRisk(_ context.Context, ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range c.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
