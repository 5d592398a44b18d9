package common

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIPResolver derives the client address of a request. Forwarding headers are
// honoured only when the direct peer is one of TrustedProxies; otherwise the peer
// address is the client.
type ClientIPResolver struct {
	TrustedProxies []netip.Prefix
}

// ParseTrustedProxies parses CIDR ranges such as "10.0.0.0/8" or "::1/128".
func ParseTrustedProxies(cidrs []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, raw := range cidrs {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return prefixes, nil
}

// ClientIP returns the client address for r. Behind trusted proxies the
// X-Forwarded-For chain is walked from the nearest hop outwards and the first
// untrusted address wins; X-Real-IP is used when no chain is present.
func (res ClientIPResolver) ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	peer, ok := remoteAddr(r.RemoteAddr)
	if !ok {
		return strings.TrimSpace(r.RemoteAddr)
	}
	if !res.trusted(peer) {
		return peer.String()
	}

	hops := forwardedChain(r.Header.Values("X-Forwarded-For"))
	if len(hops) == 0 {
		if realIP, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
			return realIP.String()
		}
		return peer.String()
	}
	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		hop, ok := parseAddr(hops[i])
		if !ok {
			break
		}
		client = hop
		if !res.trusted(hop) {
			break
		}
	}
	return client.String()
}

func (res ClientIPResolver) trusted(addr netip.Addr) bool {
	for _, prefix := range res.TrustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func forwardedChain(values []string) []string {
	var hops []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hops = append(hops, part)
			}
		}
	}
	return hops
}

func remoteAddr(value string) (netip.Addr, bool) {
	value = strings.TrimSpace(value)
	if host, _, err := net.SplitHostPort(value); err == nil {
		value = host
	}
	return parseAddr(value)
}

func parseAddr(value string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(value))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
