// Package inspect is the engine's inspection and validation surface. The
// proxy exposes these calls as pg_strict_*() SQL functions and the admin
// API serves them over HTTP; both delegate here so the two surfaces cannot
// drift apart.
package inspect

import (
	"fmt"

	"github.com/pgstrict/pgstrict/analyzer"
	"github.com/pgstrict/pgstrict/guard"
	"github.com/pgstrict/pgstrict/policy"
)

// Version returns the engine version.
func Version() string {
	return "0.1.0"
}

// ValidationError is the fatal outcome of a validate call. Message holds
// the exact client-facing text.
type ValidationError struct {
	Operation analyzer.Operation
	Message   string
	cause     error
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.cause }

// ConfigRow is one row of the configuration report. Field names follow the
// pg_strict_config() result columns.
type ConfigRow struct {
	Setting      string `json:"setting"`
	CurrentValue string `json:"current_value"`
	Description  string `json:"description"`
}

// Inspector answers inspection and validation calls against the live
// policy store and the shared analysis cache.
type Inspector struct {
	store *policy.Store
	cache *analyzer.Cache
}

// New creates an inspector backed by store and cache.
func New(store *policy.Store, cache *analyzer.Cache) *Inspector {
	return &Inspector{store: store, cache: cache}
}

// CheckWhereClause reports whether every statement of the requested kind in
// query carries a row filter. Unknown kinds and unparseable queries answer
// false rather than erroring, so the call is safe to use in ad-hoc checks.
func (i *Inspector) CheckWhereClause(query, stmtKind string) bool {
	op, ok := analyzer.ParseOperation(stmtKind)
	if !ok {
		return false
	}
	qa, err := i.cache.Analyze(query)
	if err != nil {
		return false
	}
	return qa.HasFilterForAllOf(op)
}

// ValidateUpdate fails unless query parses and every UPDATE in it carries a
// WHERE clause. A query containing no UPDATE at all also fails.
func (i *Inspector) ValidateUpdate(query string) error {
	return i.validate(analyzer.OperationUpdate, query)
}

// ValidateDelete is ValidateUpdate for DELETE statements.
func (i *Inspector) ValidateDelete(query string) error {
	return i.validate(analyzer.OperationDelete, query)
}

func (i *Inspector) validate(op analyzer.Operation, query string) error {
	qa, err := i.cache.Analyze(query)
	if err != nil {
		return &ValidationError{
			Operation: op,
			Message:   fmt.Sprintf("Failed to parse %s query.", op),
			cause:     err,
		}
	}
	if !qa.HasFilterForAllOf(op) {
		return &ValidationError{Operation: op, Message: guard.ViolationMessage(op)}
	}
	return nil
}

// ConfigReport returns the current enforcement settings in report form.
func (i *Inspector) ConfigReport() []ConfigRow {
	update, del := i.store.Modes()
	return []ConfigRow{
		{
			Setting:      "require_where_on_update",
			CurrentValue: update.String(),
			Description:  "Require WHERE clause on UPDATE statements",
		},
		{
			Setting:      "require_where_on_delete",
			CurrentValue: del.String(),
			Description:  "Require WHERE clause on DELETE statements",
		},
	}
}

// SetUpdateMode applies a mode token to UPDATE enforcement. Invalid tokens
// are warned about and rejected without touching the store.
func (i *Inspector) SetUpdateMode(token string) bool {
	return i.store.SetToken(analyzer.OperationUpdate, token)
}

// SetDeleteMode is SetUpdateMode for DELETE enforcement.
func (i *Inspector) SetDeleteMode(token string) bool {
	return i.store.SetToken(analyzer.OperationDelete, token)
}

// EnableUpdate switches UPDATE enforcement to blocking.
func (i *Inspector) EnableUpdate() bool {
	i.store.Set(analyzer.OperationUpdate, policy.ModeOn)
	return true
}

// EnableDelete switches DELETE enforcement to blocking.
func (i *Inspector) EnableDelete() bool {
	i.store.Set(analyzer.OperationDelete, policy.ModeOn)
	return true
}

// DisableUpdate turns UPDATE enforcement off.
func (i *Inspector) DisableUpdate() bool {
	i.store.Set(analyzer.OperationUpdate, policy.ModeOff)
	return true
}

// DisableDelete turns DELETE enforcement off.
func (i *Inspector) DisableDelete() bool {
	i.store.Set(analyzer.OperationDelete, policy.ModeOff)
	return true
}

// WarnUpdate switches UPDATE enforcement to diagnostics only.
func (i *Inspector) WarnUpdate() bool {
	i.store.Set(analyzer.OperationUpdate, policy.ModeWarn)
	return true
}

// WarnDelete switches DELETE enforcement to diagnostics only.
func (i *Inspector) WarnDelete() bool {
	i.store.Set(analyzer.OperationDelete, policy.ModeWarn)
	return true
}
