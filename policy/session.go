package policy

import (
	"regexp"
	"strings"

	"github.com/pgstrict/pgstrict/analyzer"
)

// Settings command patterns. SET accepts both the "=" and "TO" forms with
// an optionally quoted token; SHOW takes the bare setting name. Matching is
// anchored so partial or trailing text falls through to the backend.
var (
	setStrictEqRe = regexp.MustCompile(`(?i)^\s*SET\s+pg_strict\.(require_where_on_update|require_where_on_delete)\s*=\s*('[^']*'|"[^"]*"|[^\s;]+)\s*;?\s*$`)
	setStrictToRe = regexp.MustCompile(`(?i)^\s*SET\s+pg_strict\.(require_where_on_update|require_where_on_delete)\s+TO\s+('[^']*'|"[^"]*"|[^\s;]+)\s*;?\s*$`)
	showStrictRe  = regexp.MustCompile(`(?i)^\s*SHOW\s+pg_strict\.(require_where_on_update|require_where_on_delete)\s*;?\s*$`)
)

// ParseSetCommand parses SET pg_strict.* commands. Returns the addressed
// operation, the raw token with any quotes stripped, and whether the text
// matched. The token is not validated here; SetToken owns that.
func ParseSetCommand(sql string) (analyzer.Operation, string, bool) {
	matches := setStrictEqRe.FindStringSubmatch(sql)
	if matches == nil {
		matches = setStrictToRe.FindStringSubmatch(sql)
	}
	if matches == nil {
		return 0, "", false
	}

	op, _ := OperationForSetting(SettingPrefix + strings.ToLower(matches[1]))
	return op, unquoteToken(matches[2]), true
}

// unquoteToken strips one pair of matching surrounding quotes. Unbalanced
// quotes are kept so the invalid-mode warning echoes what the client sent.
func unquoteToken(token string) string {
	if len(token) >= 2 && (token[0] == '\'' || token[0] == '"') && token[len(token)-1] == token[0] {
		return token[1 : len(token)-1]
	}
	return token
}

// ParseShowCommand parses SHOW pg_strict.* commands. Returns the addressed
// operation and whether the text matched.
func ParseShowCommand(sql string) (analyzer.Operation, bool) {
	matches := showStrictRe.FindStringSubmatch(sql)
	if matches == nil {
		return 0, false
	}

	op, _ := OperationForSetting(SettingPrefix + strings.ToLower(matches[1]))
	return op, true
}

// IsSessionCommand checks if the SQL addresses a pg_strict setting at all.
// Used as a cheap gate before the full regex match; it must accept at least
// everything the regexes accept, so it splits on whitespace runs rather
// than assuming single spaces.
func IsSessionCommand(sql string) bool {
	fields := strings.Fields(strings.ToUpper(sql))
	if len(fields) < 2 {
		return false
	}
	if fields[0] != "SET" && fields[0] != "SHOW" {
		return false
	}
	return strings.HasPrefix(fields[1], "PG_STRICT.")
}
