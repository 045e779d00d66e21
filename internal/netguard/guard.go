package netguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"
)

// ErrNonPublicHost is returned whenever a host is an IP literal or resolves to
// an address inside one of the blocked ranges. Callers can match it with
// errors.Is to distinguish policy refusals from transport failures.
var ErrNonPublicHost = errors.New("non-public host")

// blockedPrefixes is the canonical set of CIDR ranges retrieval must never
// touch. Any resolved address that falls in one of these is rejected before a
// connection is attempted. IPv4-mapped IPv6 addresses are unmapped first so
// they are checked against the IPv4 rows.
var blockedPrefixes = []netip.Prefix{
	// IPv4 reserved/private/special-use
	netip.MustParsePrefix("0.0.0.0/8"),      // "this network" (RFC 791)
	netip.MustParsePrefix("10.0.0.0/8"),     // private (RFC 1918)
	netip.MustParsePrefix("100.64.0.0/10"),  // CGNAT shared space (RFC 6598)
	netip.MustParsePrefix("127.0.0.0/8"),    // loopback (RFC 1122)
	netip.MustParsePrefix("169.254.0.0/16"), // link-local (RFC 3927)
	netip.MustParsePrefix("172.16.0.0/12"),  // private (RFC 1918)
	netip.MustParsePrefix("192.0.0.0/24"),   // IETF protocol assignments (RFC 6890)
	netip.MustParsePrefix("192.0.2.0/24"),   // TEST-NET-1 (RFC 5737)
	netip.MustParsePrefix("192.168.0.0/16"), // private (RFC 1918)
	netip.MustParsePrefix("198.18.0.0/15"),  // benchmark testing (RFC 2544)
	netip.MustParsePrefix("198.51.100.0/24"), // TEST-NET-2 (RFC 5737)
	netip.MustParsePrefix("203.0.113.0/24"), // TEST-NET-3 (RFC 5737)
	netip.MustParsePrefix("224.0.0.0/4"),    // multicast (RFC 5771)
	netip.MustParsePrefix("240.0.0.0/4"),    // reserved (RFC 1112)

	// IPv6 reserved/private/special-use
	netip.MustParsePrefix("::/128"),         // unspecified
	netip.MustParsePrefix("::1/128"),        // loopback
	netip.MustParsePrefix("fc00::/7"),       // unique local (RFC 4193)
	netip.MustParsePrefix("fe80::/10"),      // link-local
	netip.MustParsePrefix("ff00::/8"),       // multicast
	netip.MustParsePrefix("2001:db8::/32"),  // documentation (RFC 3849)
}

// IsBlockedAddr reports whether addr falls inside any blocked range.
func IsBlockedAddr(addr netip.Addr) bool {
	if !addr.IsValid() {
		return true
	}
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Guard performs pre-connect host validation and provides an SSRF-safe dialer.
// The zero value is usable; resolver and cache are initialized on first use.
type Guard struct {
	// AllowPrivate disables range checks and IP-literal rejection entirely.
	// Intended for tests against loopback servers only.
	AllowPrivate bool

	// Resolver overrides the DNS resolver. Nil means net.DefaultResolver.
	Resolver *net.Resolver

	// CacheTTL bounds how long a resolution is reused between the validate
	// and dial steps of one fetch. Zero means a 30 second default.
	CacheTTL time.Duration

	cacheOnce sync.Once
	cache     gcache.Cache
}

// ValidateURL checks the host component of u. The scheme is the caller's
// concern; an empty host is rejected here because it can never resolve to a
// public address.
func (g *Guard) ValidateURL(ctx context.Context, u *url.URL) error {
	if u == nil || u.Hostname() == "" {
		return fmt.Errorf("%w: missing host", ErrNonPublicHost)
	}
	return g.ValidateHost(ctx, u.Hostname())
}

// ValidateHost resolves host and rejects it when it is an IP literal or when
// any resolved address is inside a blocked range.
func (g *Guard) ValidateHost(ctx context.Context, host string) error {
	if g.AllowPrivate {
		return nil
	}
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrNonPublicHost)
	}
	if _, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		// Raw IP destinations bypass domain policy, so they are refused
		// outright rather than range-checked.
		return fmt.Errorf("%w: %s is an IP literal", ErrNonPublicHost, host)
	}
	addrs, err := g.resolve(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, a := range addrs {
		if IsBlockedAddr(a) {
			return fmt.Errorf("%w: %s resolves to %s", ErrNonPublicHost, host, a)
		}
	}
	return nil
}

// DialContext is an http.Transport dial hook that re-resolves the host and
// connects only to addresses that pass the range check. Using addresses from
// the same short-lived cache as ValidateHost keeps the validated and dialed
// sets consistent within one fetch.
func (g *Guard) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNonPublicHost, err)
	}
	d := &net.Dialer{Timeout: 10 * time.Second}
	if g.AllowPrivate {
		return d.DialContext(ctx, network, addr)
	}
	if a, err := netip.ParseAddr(host); err == nil {
		if IsBlockedAddr(a) {
			return nil, fmt.Errorf("%w: %s", ErrNonPublicHost, host)
		}
		return d.DialContext(ctx, network, addr)
	}
	addrs, err := g.resolve(ctx, strings.ToLower(host))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	var lastErr error
	for _, a := range addrs {
		if IsBlockedAddr(a) {
			return nil, fmt.Errorf("%w: %s resolves to %s", ErrNonPublicHost, host, a)
		}
	}
	for _, a := range addrs {
		conn, err := d.DialContext(ctx, network, net.JoinHostPort(a.Unmap().String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses for %s", host)
	}
	return nil, lastErr
}

func (g *Guard) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	g.cacheOnce.Do(func() {
		g.cache = gcache.New(512).LRU().Build()
	})
	if v, err := g.cache.Get(host); err == nil {
		if addrs, ok := v.([]netip.Addr); ok {
			return addrs, nil
		}
	}
	r := g.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	for i := range addrs {
		addrs[i] = addrs[i].Unmap()
	}
	ttl := g.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	_ = g.cache.SetWithExpire(host, addrs, ttl)
	return addrs, nil
}
