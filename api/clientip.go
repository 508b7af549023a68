package api

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// unknownClient is the shared rate-limit bucket for peers whose address
// cannot be parsed.
const unknownClient = "unknown"

// clientIP returns the address the rate limiter keys on.
func (a *API) clientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies derives the client address from RemoteAddr,
// consulting forwarding headers only when the direct peer is a trusted
// proxy. Forwarding lists are walked right to left and the first hop that
// is not itself a trusted proxy wins: entries further left were supplied
// by the client and prove nothing.
//
// Header order: X-Forwarded-For, then Forwarded, then X-Real-IP.
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	peer, ok := parseAddr(r.RemoteAddr)
	if !ok {
		return unknownClient
	}
	if !isTrusted(peer, trustedProxies) {
		return peer.String()
	}

	if hops := forwardedForHops(r.Header.Values("X-Forwarded-For")); len(hops) > 0 {
		return pickHop(hops, trustedProxies).String()
	}
	if hops := forwardedHops(r.Header.Values("Forwarded")); len(hops) > 0 {
		return pickHop(hops, trustedProxies).String()
	}
	if addr, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
		return addr.String()
	}
	return peer.String()
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// pickHop returns the rightmost hop outside trusted, or the leftmost hop
// when every entry is a trusted proxy.
func pickHop(hops []netip.Addr, trusted []netip.Prefix) netip.Addr {
	for i := len(hops) - 1; i >= 0; i-- {
		if !isTrusted(hops[i], trusted) {
			return hops[i]
		}
	}
	return hops[0]
}

func forwardedForHops(values []string) []netip.Addr {
	var hops []netip.Addr
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if addr, ok := parseAddr(part); ok {
				hops = append(hops, addr)
			}
		}
	}
	return hops
}

// forwardedHops extracts the for= parameters of an RFC 7239 header.
func forwardedHops(values []string) []netip.Addr {
	var hops []netip.Addr
	for _, v := range values {
		for _, elem := range strings.Split(v, ",") {
			for _, param := range strings.Split(elem, ";") {
				name, value, found := strings.Cut(strings.TrimSpace(param), "=")
				if !found || !strings.EqualFold(name, "for") {
					continue
				}
				if addr, ok := parseAddr(value); ok {
					hops = append(hops, addr)
				}
			}
		}
	}
	return hops
}

// parseAddr accepts a bare address, host:port, [v6]:port, or a quoted
// Forwarded value. Zones are dropped and v4-mapped v6 is unmapped so one
// client cannot appear under two keys.
func parseAddr(raw string) (netip.Addr, bool) {
	s := strings.Trim(strings.TrimSpace(raw), `"`)
	if s == "" {
		return netip.Addr{}, false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.WithZone("").Unmap(), true
}
