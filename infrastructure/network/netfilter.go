package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrEgressBlocked is returned when the egress filter refuses a destination.
var ErrEgressBlocked = errors.New("egress blocked")

// FilterOption is a functional option for configuring the egress filter.
type FilterOption func(*filterConfig)

type filterConfig struct {
	allowlist      []string // Explicitly allowed hosts/IPs/CIDRs; bypass IP rules
	blocklist      []string // Explicitly blocked hosts/IPs/CIDRs
	allowedPorts   []int    // Only allow specific ports (empty = all)
	blockedPorts   []int    // Block specific ports
	blockPrivate   bool     // Block RFC 1918 private addresses
	blockLocalhost bool     // Block localhost/loopback
	blockLinkLocal bool     // Block link-local addresses
	blockMulticast bool     // Block multicast addresses
}

// defaultFilterConfig blocks every destination commonly abused for SSRF.
func defaultFilterConfig() filterConfig {
	return filterConfig{
		blockPrivate:   true,
		blockLocalhost: true,
		blockLinkLocal: true,
		blockMulticast: true,
	}
}

// WithAllowlist sets explicitly allowed hosts, IPs or CIDRs.
// Allowed destinations bypass the address class checks.
func WithAllowlist(addresses ...string) FilterOption {
	return func(c *filterConfig) {
		c.allowlist = addresses
	}
}

// WithBlocklist sets explicitly blocked hosts, IPs or CIDRs.
func WithBlocklist(addresses ...string) FilterOption {
	return func(c *filterConfig) {
		c.blocklist = addresses
	}
}

// WithBlockPrivate enables/disables blocking of RFC 1918 private addresses.
func WithBlockPrivate(block bool) FilterOption {
	return func(c *filterConfig) {
		c.blockPrivate = block
	}
}

// WithBlockLocalhost enables/disables blocking of localhost/loopback.
func WithBlockLocalhost(block bool) FilterOption {
	return func(c *filterConfig) {
		c.blockLocalhost = block
	}
}

// WithBlockLinkLocal enables/disables blocking of link-local addresses.
func WithBlockLinkLocal(block bool) FilterOption {
	return func(c *filterConfig) {
		c.blockLinkLocal = block
	}
}

// WithBlockMulticast enables/disables blocking of multicast addresses.
func WithBlockMulticast(block bool) FilterOption {
	return func(c *filterConfig) {
		c.blockMulticast = block
	}
}

// WithAllowedPorts restricts connections to specific ports.
func WithAllowedPorts(ports ...int) FilterOption {
	return func(c *filterConfig) {
		c.allowedPorts = ports
	}
}

// WithBlockedPorts blocks specific ports.
func WithBlockedPorts(ports ...int) FilterOption {
	return func(c *filterConfig) {
		c.blockedPorts = ports
	}
}

// EgressFilter decides which destinations the core may connect to.
// It checks resolved addresses at dial time, so a hostname cannot be
// rebound to a blocked address between check and connect.
type EgressFilter struct {
	config   filterConfig
	resolver *net.Resolver
}

// NewEgressFilter creates a filter with secure defaults.
func NewEgressFilter(opts ...FilterOption) *EgressFilter {
	cfg := defaultFilterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &EgressFilter{config: cfg, resolver: net.DefaultResolver}
}

// DialContext wraps dialer so every connection passes the filter.
// The connection goes to the address that was checked.
func (f *EgressFilter) DialContext(dialer *net.Dialer) func(ctx context.Context, network, address string) (net.Conn, error) {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		host, portStr, err := net.SplitHostPort(address)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid address %q", ErrEgressBlocked, address)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid port in %q", ErrEgressBlocked, address)
		}

		if err := f.checkPort(port); err != nil {
			return nil, err
		}
		if f.matches(host, f.config.blocklist) {
			return nil, fmt.Errorf("%w: %s is in blocklist", ErrEgressBlocked, host)
		}
		if f.matches(host, f.config.allowlist) {
			return dialer.DialContext(ctx, network, address)
		}

		ip, err := f.resolve(ctx, host)
		if err != nil {
			return nil, err
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), portStr))
	}
}

// CheckIP reports whether an address may be contacted.
func (f *EgressFilter) CheckIP(ip net.IP) error {
	for _, blocked := range f.config.blocklist {
		if matchesPattern(ip.String(), blocked) {
			return fmt.Errorf("%w: %s is in blocklist", ErrEgressBlocked, ip)
		}
	}
	if f.matches(ip.String(), f.config.allowlist) {
		return nil
	}

	var reason string
	switch {
	case f.config.blockLocalhost && ip.IsLoopback():
		reason = "localhost/loopback addresses blocked"
	case f.config.blockPrivate && ip.IsPrivate():
		reason = "private addresses blocked (RFC 1918)"
	case f.config.blockMulticast && ip.IsMulticast():
		reason = "multicast addresses blocked"
	case f.config.blockLinkLocal && (ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()):
		reason = "link-local addresses blocked"
	case ip.IsUnspecified():
		reason = "unspecified address blocked"
	default:
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrEgressBlocked, ip, reason)
}

// resolve returns the first address of host. Every resolved address must pass.
func (f *EgressFilter) resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, f.CheckIP(ip)
	}

	addrs, err := f.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", host)
	}
	for _, addr := range addrs {
		if err := f.CheckIP(addr.IP); err != nil {
			return nil, err
		}
	}
	return addrs[0].IP, nil
}

func (f *EgressFilter) checkPort(port int) error {
	if len(f.config.allowedPorts) > 0 {
		allowed := false
		for _, p := range f.config.allowedPorts {
			if p == port {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: port %d not in allowlist", ErrEgressBlocked, port)
		}
	}
	for _, p := range f.config.blockedPorts {
		if p == port {
			return fmt.Errorf("%w: port %d is blocked", ErrEgressBlocked, port)
		}
	}
	return nil
}

func (f *EgressFilter) matches(host string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchesPattern(host, pattern) {
			return true
		}
	}
	return false
}

// matchesPattern checks if a host matches a pattern (hostname, *.suffix, IP, or CIDR).
func matchesPattern(host, pattern string) bool {
	if strings.EqualFold(host, pattern) {
		return true
	}

	if strings.HasPrefix(pattern, "*.") {
		if strings.HasSuffix(strings.ToLower(host), strings.ToLower(pattern[1:])) {
			return true
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		_, cidr, err := net.ParseCIDR(pattern)
		if err == nil && cidr.Contains(ip) {
			return true
		}
	}

	return false
}
