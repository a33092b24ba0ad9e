package helpers

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Hostname returns the registrable domain of raw ("blog.golang.org" -> "golang.org").
// It falls back to the bare host when the public suffix list has no answer and
// returns "" for unparseable input.
func Hostname(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return strings.TrimPrefix(host, "www.")
	}
	return domain
}

// IsApex reports whether host (optionally with a port) has no subdomain.
func IsApex(host string) bool {
	host = strings.ToLower(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	return err == nil && domain == host
}
