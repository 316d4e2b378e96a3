package tools

import (
	"regexp"
	"strings"
)

// SQLKind is the dispatcher's classification of an execute_sql query, which
// decides the execution path (JSON-aggregating read wrapper vs. direct
// EXECUTE) and whether the call is recorded as a mutation.
type SQLKind string

const (
	SQLKindRead    SQLKind = "read"
	SQLKindDDL     SQLKind = "ddl"
	SQLKindDML     SQLKind = "dml"
	SQLKindConfig  SQLKind = "config"
	SQLKindUnknown SQLKind = "unknown"
)

var (
	blockCommentRe = regexp.MustCompile(`/\*[\s\S]*?\*/`)
	lineCommentRe  = regexp.MustCompile(`--[^\n]*`)
)

// StripSQLComments removes block (/* */) and line (--) comments so keyword
// classification and guard scans aren't foolable by a comment-hidden
// payload.
func StripSQLComments(query string) string {
	s := blockCommentRe.ReplaceAllString(query, " ")
	s = lineCommentRe.ReplaceAllString(s, " ")
	return s
}

// Classify strips comments and classifies query by its leading keyword.
// WITH queries are disambiguated by scanning for a write verb between the
// CTE definitions and the final statement.
func Classify(query string) SQLKind {
	stripped := strings.TrimSpace(StripSQLComments(query))
	upper := strings.ToUpper(stripped)

	switch {
	case strings.HasPrefix(upper, "SELECT"), strings.HasPrefix(upper, "EXPLAIN"), strings.HasPrefix(upper, "SHOW"):
		return SQLKindRead
	case strings.HasPrefix(upper, "CREATE"), strings.HasPrefix(upper, "ALTER"):
		return SQLKindDDL
	case strings.HasPrefix(upper, "INSERT"), strings.HasPrefix(upper, "UPDATE"), strings.HasPrefix(upper, "DELETE"), strings.HasPrefix(upper, "DO"):
		return SQLKindDML
	case strings.HasPrefix(upper, "WITH"):
		return classifyCTE(upper)
	case strings.HasPrefix(upper, "SET"):
		return SQLKindConfig
	default:
		return SQLKindUnknown
	}
}

func classifyCTE(upper string) SQLKind {
	for _, verb := range []string{"INSERT ", "UPDATE ", "DELETE "} {
		if strings.Contains(upper, verb) {
			return SQLKindDML
		}
	}
	return SQLKindRead
}

// IsDestructive reports whether query's post-comment-strip uppercased
// prefix is DROP or TRUNCATE — forbidden from execute_sql regardless of
// actor; such statements must go through apply_migration.
func IsDestructive(query string) bool {
	upper := strings.ToUpper(strings.TrimSpace(StripSQLComments(query)))
	return strings.HasPrefix(upper, "DROP ") ||
		strings.HasPrefix(upper, "TRUNCATE ") ||
		upper == "DROP" || upper == "TRUNCATE"
}

var bypassKeywords = []string{"SET_CONFIG", "APP.WO_EXECUTOR_BYPASS", "APP.STATE_WRITE_BYPASS"}

// ContainsBypassKeyword scans the raw (not comment-stripped — a bypass
// embedded in a comment is still a bypass attempt) uppercased query for the
// row-level-enforcement bypass keywords. Used to reject execute_sql and
// apply_migration input from non-master actors before execution.
func ContainsBypassKeyword(query string) bool {
	upper := strings.ToUpper(query)
	for _, kw := range bypassKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}

// HasWriteKeyword reports whether query's classification is anything other
// than a read — used by the read-only actor guard, which must reject any
// write regardless of whether it would otherwise be permitted.
func HasWriteKeyword(query string) bool {
	return Classify(query) != SQLKindRead
}
