// Package policy owns the tri-state enforcement configuration: the Mode
// type, the concurrent store the decision engine reads, the SET/SHOW
// command grammar of the settings surface, and the optional SQLite journal
// that makes modes survive restarts.
package policy

import (
	"fmt"
	"strings"

	"github.com/pgstrict/pgstrict/analyzer"
)

// Mode is the enforcement level for one operation kind.
type Mode int

const (
	ModeOff Mode = iota
	ModeWarn
	ModeOn
)

// String returns the lower-case settings token for the mode.
func (m Mode) String() string {
	switch m {
	case ModeOn:
		return "on"
	case ModeWarn:
		return "warn"
	default:
		return "off"
	}
}

// ParseMode maps a settings token to a Mode. The token is trimmed and
// matched case-insensitively; anything outside off/warn/on reports
// ok == false and callers must leave the current mode unchanged.
func ParseMode(token string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "off":
		return ModeOff, true
	case "warn":
		return ModeWarn, true
	case "on":
		return ModeOn, true
	default:
		return ModeOff, false
	}
}

// InvalidModeMessage is the warning surfaced when a settings write carries
// a token outside off/warn/on. The raw token is echoed back.
func InvalidModeMessage(token string) string {
	return fmt.Sprintf("Invalid mode '%s'. Use 'off', 'warn', or 'on'.", token)
}

// Full setting names, as addressed by SET and SHOW.
const (
	SettingPrefix     = "pg_strict."
	SettingUpdateMode = SettingPrefix + "require_where_on_update"
	SettingDeleteMode = SettingPrefix + "require_where_on_delete"
)

// SettingFor returns the full setting name controlling op.
func SettingFor(op analyzer.Operation) string {
	if op == analyzer.OperationDelete {
		return SettingDeleteMode
	}
	return SettingUpdateMode
}

// ShortSettingFor returns the setting name without the product prefix, as
// used by the configuration report.
func ShortSettingFor(op analyzer.Operation) string {
	return strings.TrimPrefix(SettingFor(op), SettingPrefix)
}

// OperationForSetting maps a full or short setting name to its operation.
func OperationForSetting(name string) (analyzer.Operation, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case SettingUpdateMode, "require_where_on_update":
		return analyzer.OperationUpdate, true
	case SettingDeleteMode, "require_where_on_delete":
		return analyzer.OperationDelete, true
	default:
		return 0, false
	}
}
