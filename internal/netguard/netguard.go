// Package netguard recognizes links that point into private or internal
// networks, such as router admin pages or cloud metadata endpoints.
package netguard

import (
	"net"
	"net/url"
	"strings"
)

// BlockedCIDRs are private/internal networks a public link should never target.
var BlockedCIDRs = func() []*net.IPNet {
	cidrs := []string{
		"127.0.0.0/8",    // loopback
		"10.0.0.0/8",     // RFC1918
		"172.16.0.0/12",  // RFC1918 / Docker bridge networks
		"192.168.0.0/16", // RFC1918
		"169.254.0.0/16", // link-local / cloud metadata
		"100.64.0.0/10",  // carrier-grade NAT
		"0.0.0.0/8",      // unspecified
		"::1/128",        // IPv6 loopback
		"fe80::/10",      // IPv6 link-local
		"fc00::/7",       // IPv6 unique local
	}
	var nets []*net.IPNet
	for _, c := range cidrs {
		_, ipNet, _ := net.ParseCIDR(c)
		nets = append(nets, ipNet)
	}
	return nets
}()

// IsBlocked returns true if the IP falls within a private/internal range.
func IsBlocked(ip net.IP) bool {
	for _, cidr := range BlockedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// InternalHost reports whether rawURL names localhost or an IP literal in a
// blocked range. No DNS lookups are made.
func InternalHost(rawURL string) bool {
	host := Hostname(rawURL)
	if host == "" {
		return false
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && IsBlocked(ip)
}

// Hostname extracts the lowercased host of rawURL. Scheme-less input such as
// "10.0.0.1/admin" is parsed as if it had one.
func Hostname(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
