package testkit

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// DefaultPrefix is used by NewDatabaseName when no prefix is given.
const DefaultPrefix = "testkit"

var identifierRegexp = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// DatabaseName is an opaque, engine-safe database identifier of the form
// "{prefix}_{uuid-without-dashes}". It is created once and never mutated.
type DatabaseName struct {
	value string
}

// NewDatabaseName generates a unique DatabaseName. An empty prefix falls
// back to DefaultPrefix.
func NewDatabaseName(prefix string) DatabaseName {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	id := strings.ReplaceAll(uuid.New().String(), "-", "_")
	return DatabaseName{value: prefix + "_" + id}
}

// ParseDatabaseName wraps an existing identifier, validating that it only
// contains characters safe to interpolate inside a quoted identifier on
// every supported engine.
func ParseDatabaseName(value string) (DatabaseName, error) {
	if !identifierRegexp.MatchString(value) {
		return DatabaseName{}, &BackendError{
			Kind:    ConfigError,
			Message: "database name contains characters outside [A-Za-z0-9_]: " + value,
		}
	}
	return DatabaseName{value: value}, nil
}

// String returns the raw identifier.
func (n DatabaseName) String() string {
	return n.value
}

// HasPrefix reports whether the identifier starts with prefix + "_".
func (n DatabaseName) HasPrefix(prefix string) bool {
	return strings.HasPrefix(n.value, prefix+"_")
}

// IsZero reports whether this is the zero DatabaseName.
func (n DatabaseName) IsZero() bool {
	return n.value == ""
}
