// Package domain reduces URL-like strings to registrable domains and filters
// them against a platform blocklist.
package domain

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

const (
	maxHostLen  = 253
	maxLabelLen = 63
)

// trailingJunk is stripped from the end of links lifted out of prose.
const trailingJunk = ".,;:!?)]}>'\"*"

// Normalize returns the canonical registrable domain for raw, or ok=false
// when raw cannot name one. The result is lower-cased, IDNA-encoded, free of
// scheme, port, path, query, fragment and a leading "www.", and reduced to
// the effective TLD plus one label using the public suffix list.
func Normalize(raw string) (string, bool) {
	host, ok := hostOf(raw)
	if !ok {
		return "", false
	}

	host = strings.TrimSuffix(strings.ToLower(host), ".")
	host = strings.TrimPrefix(host, "www.")
	if host == "" || net.ParseIP(host) != nil {
		return "", false
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", false
	}
	if !validHostname(ascii) {
		return "", false
	}

	registrable, err := publicsuffix.EffectiveTLDPlusOne(ascii)
	if err != nil {
		return "", false
	}
	return registrable, true
}

// hostOf extracts the host portion of a URL-like string.
func hostOf(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimRight(s, trailingJunk)
	if s == "" {
		return "", false
	}
	if !strings.Contains(s, "://") {
		// Opaque schemes (mailto:, tel:, javascript:) and bare addresses.
		if i := strings.IndexByte(s, ':'); i > 0 && !strings.Contains(s[:i], ".") && !startsWithDigit(s[i+1:]) {
			return "", false
		}
		// "@" before the path is an email address or userinfo; after it,
		// as in medium.com/@author, it is part of the path.
		authority := s
		if i := strings.IndexAny(s, "/?#"); i >= 0 {
			authority = s[:i]
		}
		if strings.Contains(authority, "@") {
			return "", false
		}
		if strings.HasPrefix(s, "//") {
			s = "http:" + s
		} else {
			s = "http://" + s
		}
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", false
	}
	host := u.Hostname()
	return host, host != ""
}

// validHostname enforces LDH label rules and requires at least two labels.
func validHostname(host string) bool {
	if len(host) > maxHostLen {
		return false
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if l == "" || len(l) > maxLabelLen {
			return false
		}
		if l[0] == '-' || l[len(l)-1] == '-' {
			return false
		}
		for i := 0; i < len(l); i++ {
			c := l[i]
			if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
				return false
			}
		}
	}
	// All-numeric TLDs are never registrable.
	tld := labels[len(labels)-1]
	return strings.Trim(tld, "0123456789") != ""
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}
