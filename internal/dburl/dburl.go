// Package dburl manipulates the database-path segment of a connection
// URL without disturbing credentials or query parameters, generalizing
// the ad hoc fmt.Sprintf connection-string rebuilding the teacher does
// in pool.go (createDatabaseResource) to net/url so percent-encoded
// passwords and special characters survive the round trip.
package dburl

import (
	"fmt"
	"net/url"
	"strings"
)

// WithDatabase returns rawURL with its path segment replaced by "/name",
// preserving scheme, userinfo, host, and query parameters verbatim.
func WithDatabase(rawURL, name string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("dburl: parse %q: %w", rawURL, err)
	}
	u.Path = "/" + strings.TrimPrefix(name, "/")
	return u.String(), nil
}

// Database extracts the current path segment (database name) from a URL.
func Database(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("dburl: parse %q: %w", rawURL, err)
	}
	return strings.TrimPrefix(u.Path, "/"), nil
}

// Host returns the host:port component, used by adapters that build a
// driver-specific DSN (e.g. go-sql-driver/mysql) rather than a URL.
func Host(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("dburl: parse %q: %w", rawURL, err)
	}
	return u.Host, nil
}
