// Package urlguard validates outbound fetch targets so the scraper cannot be
// weaponized for SSRF against internal networks (spec §4.1).
package urlguard

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Kind classifies why a URL was rejected.
type Kind string

const (
	KindInvalidURL         Kind = "invalid_url"
	KindSchemeForbidden    Kind = "scheme_forbidden"
	KindLocalhostRefused   Kind = "localhost_refused"
	KindNotAllowlisted     Kind = "not_allowlisted"
	KindDNSFailed          Kind = "dns_failed"
	KindNoRecords          Kind = "no_records"
	KindPrivateDestination Kind = "private_destination"
)

// Error is returned by Validate; Kind is the machine-checkable reason.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("urlguard: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("urlguard: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func reject(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Resolver resolves a hostname to its IP addresses. Overridable in tests.
type Resolver func(ctx context.Context, host string) ([]net.IPAddr, error)

// Guard validates outbound fetch URLs.
type Guard struct {
	// Allowlist of lowercase hostnames. Empty means any public host is
	// permitted.
	Allowlist map[string]bool
	Resolver  Resolver
}

// New builds a Guard. A nil or empty allowlist permits any public host.
func New(allowlist map[string]bool) *Guard {
	return &Guard{
		Allowlist: allowlist,
		Resolver:  net.DefaultResolver.LookupIPAddr,
	}
}

// Validate implements the contract of spec §4.1.
func (g *Guard) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return reject(KindInvalidURL, err)
	}

	switch u.Scheme {
	case "http", "https":
	default:
		return reject(KindSchemeForbidden, fmt.Errorf("scheme %q", u.Scheme))
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return reject(KindInvalidURL, fmt.Errorf("empty host"))
	}
	if host == "localhost" {
		return reject(KindLocalhostRefused, nil)
	}

	if len(g.Allowlist) > 0 && !g.Allowlist[host] {
		return reject(KindNotAllowlisted, fmt.Errorf("host %q", host))
	}

	resolver := g.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver.LookupIPAddr
	}

	addrs, err := resolver(ctx, host)
	if err != nil {
		return reject(KindDNSFailed, err)
	}
	if len(addrs) == 0 {
		return reject(KindNoRecords, nil)
	}

	for _, addr := range addrs {
		if isPrivate(addr.IP) {
			return reject(KindPrivateDestination, fmt.Errorf("address %s", addr.IP))
		}
	}

	return nil
}

// isPrivate reports whether ip falls in a loopback, link-local, RFC1918, or
// ULA range, or is the unspecified/0.0.0.0 address.
func isPrivate(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip.IsPrivate() {
		// covers 10/8, 172.16/12, 192.168/16, and fc00::/7 (ULA)
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		if v4[0] == 0 {
			return true
		}
	}
	return false
}
