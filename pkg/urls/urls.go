// Package urls provides utility functions for working with URLs.
package urls

import (
	"net/url"
	"strings"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

// IsURLValid checks if the given URL is an absolute http(s) URL.
func IsURLValid(raw string) bool {
	u, err := url.Parse(raw)

	return err == nil && u.Host != "" && (u.Scheme == schemeHTTP || u.Scheme == schemeHTTPS)
}

// Normalize trims spaces, parses and returns the URL in string format.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	return u.String()
}

// HostMatches reports whether raw points at host or one of its subdomains.
// Example: HostMatches("https://www.1fichier.com/?abc", "1fichier.com") => true
func HostMatches(raw, host string) bool {
	if host == "" {
		return false
	}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Hostname() == "" {
		return false
	}

	name := strings.ToLower(u.Hostname())
	host = strings.ToLower(host)

	return name == host || strings.HasSuffix(name, "."+host)
}
