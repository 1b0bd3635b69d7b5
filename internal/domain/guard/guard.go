// Package guard implements the Security Guard: pure, stateless validation
// functions applied at config load and per request. Nothing in this
// package holds state or performs I/O beyond optional DNS resolution,
// which callers invoke explicitly where indicated.
package guard

import (
	"net"
	"net/url"
	"strings"
)

// privateNetworks are the CIDR ranges the private-IP block checks against.
var privateNetworks []*net.IPNet

func init() {
	cidrs := []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("guard: invalid CIDR in privateNetworks: " + cidr)
		}
		privateNetworks = append(privateNetworks, network)
	}
}

// IsPrivateIP reports whether ip falls within a blocked private/reserved
// range.
func IsPrivateIP(ip net.IP) bool {
	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// IsPrivateHostLiteral reports whether host is an IP literal within a
// blocked range. Hostnames that are not IP literals return false here;
// DNS resolution is a separate, explicit, advisory check.
func IsPrivateHostLiteral(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return IsPrivateIP(ip)
}

// AllowlistPasses reports whether hostname passes the upstream allowlist.
// An empty allowlist allows everything (back-compat). Otherwise hostname
// must equal an entry exactly or end with "." + entry (dotted-suffix
// subdomain match): entry "example.com" admits "api.example.com" but not
// "evilexample.com".
func AllowlistPasses(hostname string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}
	h := strings.ToLower(hostname)
	for _, entry := range allowlist {
		e := strings.ToLower(entry)
		if h == e || strings.HasSuffix(h, "."+e) {
			return true
		}
	}
	return false
}

// ProtocolAllowed reports whether scheme is one of the two permitted
// protocols.
func ProtocolAllowed(scheme string) bool {
	s := strings.ToLower(scheme)
	return s == "http" || s == "https"
}

// HostPinned asserts that the constructed URL's host equals the
// configured upstream base's host, byte-exact. This is what defeats path
// segments or protocol-relative tricks that could swing the effective
// host during URL resolution.
func HostPinned(constructed, base *url.URL) bool {
	return constructed.Host == base.Host
}

// Config bundles the checks that must all pass for a ServiceDefinition
// to be admitted into the live table (I1), and for the per-request guard
// evaluation that follows URL construction.
type Config struct {
	Allowlist       []string
	BlockPrivateIPs bool
}

// ValidateUpstream runs the full Security Guard pass against a
// constructed upstream URL and the ServiceDefinition's configured base
// URL: protocol whitelist, runtime host-pin, allowlist, and (if enabled)
// the private-IP literal block. Returns a non-empty reason on failure.
func (c Config) ValidateUpstream(constructed, base *url.URL) (ok bool, reason string) {
	if !ProtocolAllowed(constructed.Scheme) {
		return false, "scheme not permitted"
	}
	if !HostPinned(constructed, base) {
		return false, "host mismatch after URL construction"
	}
	host := constructed.Hostname()
	if !AllowlistPasses(host, c.Allowlist) {
		return false, "host not in allowlist"
	}
	if c.BlockPrivateIPs && IsPrivateHostLiteral(host) {
		return false, "host is a private IP literal"
	}
	return true, ""
}

// ValidateRedirect re-runs the same checks against a Location header
// resolved into an absolute URL, per the redirect re-check requirement.
func (c Config) ValidateRedirect(location, base *url.URL) (ok bool, reason string) {
	return c.ValidateUpstream(location, base)
}

// stripIPv4MappedPrefix removes the "::ffff:" prefix IPv4-mapped IPv6
// clients present before admin IP-allowlist comparison.
func stripIPv4MappedPrefix(addr string) string {
	const prefix = "::ffff:"
	if strings.HasPrefix(addr, prefix) {
		return addr[len(prefix):]
	}
	return addr
}

// AdminIPAllowed reports whether clientIP matches one of the admin
// surface's allowlist entries, each either an exact IPv4/IPv6 string or
// CIDR notation.
func AdminIPAllowed(clientIP string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return false
	}
	clientIP = stripIPv4MappedPrefix(clientIP)
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return false
	}
	for _, entry := range allowlist {
		entry = stripIPv4MappedPrefix(strings.TrimSpace(entry))
		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				continue
			}
			if network.Contains(ip) {
				return true
			}
			continue
		}
		if entryIP := net.ParseIP(entry); entryIP != nil && entryIP.Equal(ip) {
			return true
		}
	}
	return false
}

// ResolveAdvisory performs the optional DNS-rebinding-style advisory check:
// it resolves hostname and reports whether any resolved IP is private.
// Intended for the forward-proxy dial path, not the synchronous
// per-request guard pass, since a DNS lookup is too slow to run inline
// on every request.
func ResolveAdvisory(hostname string) (anyPrivate bool, err error) {
	ips, err := net.LookupIP(hostname)
	if err != nil {
		return false, err
	}
	for _, ip := range ips {
		if IsPrivateIP(ip) {
			return true, nil
		}
	}
	return false, nil
}
