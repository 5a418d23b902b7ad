// Package security guards the Fetch Pipeline's outbound requests against
// SSRF: by default the crawler must not be steered into dialing internal
// infrastructure (loopback, RFC1918, link-local/cloud-metadata ranges)
// just because a page links there. Adapted line-for-line in approach from
// the teacher's internal/upload/ssrf.go (which guarded MCP-driven browser
// actions); here it protects the Fetch Pipeline's transport instead.
package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// LookupTimeout bounds the DNS resolution step of a dial.
const LookupTimeout = 5 * time.Second

var privateRanges []*net.IPNet

func init() {
	for _, cidr := range []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	} {
		_, ipNet, _ := net.ParseCIDR(cidr)
		privateRanges = append(privateRanges, ipNet)
	}
}

// IsPrivateIP reports whether ip is loopback, unspecified, or in a
// private/link-local range.
func IsPrivateIP(ip net.IP) bool {
	if ip.IsUnspecified() || ip.IsLoopback() {
		return true
	}
	for _, cidr := range privateRanges {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// Guard controls the Fetch Pipeline's SSRF posture for one session.
type Guard struct {
	// AllowPrivate permits dialing internal ranges — used in tests against
	// httptest servers, and by operators who explicitly opt a session into
	// crawling an internal target.
	AllowPrivate bool
	// AllowedHosts bypasses the check for specific host[:port] values even
	// when AllowPrivate is false.
	AllowedHosts map[string]bool
}

func (g *Guard) allowedHost(hostOrAddr string) bool {
	return g.AllowedHosts != nil && g.AllowedHosts[hostOrAddr]
}

// ResolvePublicIP resolves host and returns its first non-private address,
// failing if every resolved address is private.
func ResolvePublicIP(ctx context.Context, host string) (net.IP, error) {
	normalized := strings.TrimSpace(host)
	if normalized == "" {
		return nil, fmt.Errorf("empty hostname")
	}
	if idx := strings.IndexByte(normalized, '%'); idx != -1 {
		normalized = normalized[:idx]
	}

	if ip := net.ParseIP(normalized); ip != nil {
		if IsPrivateIP(ip) {
			return nil, fmt.Errorf("host %q is private IP %s", host, ip)
		}
		return ip, nil
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed for %q: %w", host, err)
	}
	for _, addr := range ips {
		if addr.IP != nil && !IsPrivateIP(addr.IP) {
			return addr.IP, nil
		}
	}
	return nil, fmt.Errorf("hostname %q resolves only to private addresses", host)
}

// SafeDialContext validates the destination and dials a pinned public IP,
// unless the guard permits private targets for this address.
func (g *Guard) SafeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("ssrf_blocked: invalid address %s", addr)
	}

	allow := g.AllowPrivate || g.allowedHost(addr) || g.allowedHost(host)
	if allow {
		var d net.Dialer
		return d.DialContext(ctx, network, net.JoinHostPort(host, port))
	}

	lookupCtx, cancel := context.WithTimeout(ctx, LookupTimeout)
	defer cancel()
	ip, err := ResolvePublicIP(lookupCtx, host)
	if err != nil {
		return nil, fmt.Errorf("ssrf_blocked: %w", err)
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
}

// Transport returns an *http.Transport whose dialer is guarded by g,
// suitable for use as the Fetch Pipeline's default transport
// implementation of the external Transport collaborator (spec §6).
func (g *Guard) Transport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = g.SafeDialContext
	return t
}
