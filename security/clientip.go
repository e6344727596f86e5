package security

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ParseTrustedProxies parses CIDRs or bare addresses into prefixes.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// ClientOrigin returns the network origin of r. Forwarding headers are
// read only when the direct peer is inside one of trustedProxies, in the
// order X-Forwarded-For, Forwarded, X-Real-IP. Proxies append to the
// forwarding chain, so it is walked from the right and the first address
// outside trustedProxies wins; entries to its left are client supplied.
func ClientOrigin(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)
	if !peerTrusted(remoteIP, trustedProxies) {
		return remoteIP
	}

	if ip, ok := rightmostUntrusted(forwardedFor(r.Header.Values("X-Forwarded-For")), trustedProxies); ok {
		return ip
	}
	if ip, ok := rightmostUntrusted(forwardedParams(r.Header.Values("Forwarded")), trustedProxies); ok {
		return ip
	}
	if ip, ok := parseIPCandidate(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	return remoteIP
}

// forwardedFor flattens X-Forwarded-For headers into hops, nearest last.
func forwardedFor(values []string) []string {
	var hops []string
	for _, v := range values {
		hops = append(hops, strings.Split(v, ",")...)
	}
	return hops
}

// forwardedParams extracts the for= hops of RFC 7239 Forwarded headers,
// nearest last.
func forwardedParams(values []string) []string {
	var hops []string
	for _, v := range values {
		for _, elem := range strings.Split(v, ",") {
			for _, param := range strings.Split(elem, ";") {
				param = strings.TrimSpace(param)
				if len(param) >= 4 && strings.EqualFold(param[:4], "for=") {
					hops = append(hops, param[4:])
				}
			}
		}
	}
	return hops
}

func rightmostUntrusted(hops []string, trustedProxies []netip.Prefix) (string, bool) {
	for i := len(hops) - 1; i >= 0; i-- {
		ip, ok := parseIPCandidate(hops[i])
		if !ok {
			continue
		}
		if !peerTrusted(ip, trustedProxies) {
			return ip, true
		}
	}
	return "", false
}

func peerTrusted(remoteIP string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 || remoteIP == "" {
		return false
	}
	addr, err := netip.ParseAddr(remoteIP)
	if err != nil {
		return false
	}
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.Trim(strings.TrimSpace(raw), "\"")
	if s == "" {
		return "", false
	}
	// RFC 7239 quoted IPv6 may appear as [::1]:1234.
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
