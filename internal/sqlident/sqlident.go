// Package sqlident validates and quotes SQL identifiers per dialect,
// generalizing the teacher's pgconst.IsValidPostgreSQLIdentifier to the
// three dialects testkit supports.
package sqlident

import "regexp"

// MaxLength is the identifier length ceiling shared by Postgres and
// MySQL in their default configurations; SQLite has no practical limit
// but testkit applies the same bound for naming consistency.
const MaxLength = 63

var identifierRegexp = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Valid reports whether name is safe to interpolate inside a quoted
// identifier on every supported engine: letters, digits, underscore
// only, within MaxLength.
func Valid(name string) bool {
	return len(name) > 0 && len(name) <= MaxLength && identifierRegexp.MatchString(name)
}

// QuotePostgres wraps name in Postgres double-quote identifier syntax.
func QuotePostgres(name string) string {
	return `"` + name + `"`
}

// QuoteMySQL wraps name in MySQL backtick identifier syntax.
func QuoteMySQL(name string) string {
	return "`" + name + "`"
}
