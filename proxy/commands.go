package proxy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	wire "github.com/jeroenrinzema/psql-wire"
	"github.com/lib/pq/oid"

	"github.com/pgstrict/pgstrict/analyzer"
	"github.com/pgstrict/pgstrict/inspect"
	"github.com/pgstrict/pgstrict/policy"
)

// strictCallRe matches SELECT invocations of the pg_strict_*() function
// surface. Anchored so that anything with extra select-list entries or
// trailing clauses is forwarded and the backend gets to reject it.
var strictCallRe = regexp.MustCompile(`(?i)^\s*SELECT\s+pg_strict_([a-z_]+)\s*\((.*)\)\s*;?\s*$`)

// localStatement answers settings commands and pg_strict_*() calls without
// touching the backend. ok is false when the query must be forwarded.
func (s *Server) localStatement(query string) (wire.PreparedStatements, bool) {
	if policy.IsSessionCommand(query) {
		if op, token, ok := policy.ParseSetCommand(query); ok {
			return s.setStatement(op, token), true
		}
		if op, ok := policy.ParseShowCommand(query); ok {
			return s.showStatement(op), true
		}
		// Addresses the settings namespace in a form we do not speak.
		// Forward it and let the backend produce the error.
		return nil, false
	}

	call, ok := s.routeStrictCall(query)
	if !ok {
		return nil, false
	}
	return s.rowsStatement(call.columns, call.produce), true
}

// setStatement applies a settings write. Invalid tokens leave the mode
// untouched but the command still completes, matching how clients expect a
// GUC write to behave.
func (s *Server) setStatement(op analyzer.Operation, token string) wire.PreparedStatements {
	handle := instrument("local", func(ctx context.Context, writer wire.DataWriter, _ []wire.Parameter) error {
		s.store.SetToken(op, token)
		return writer.Complete("SET")
	})
	return wire.Prepared(wire.NewStatement(handle))
}

// showStatement answers a settings read with the current mode token.
func (s *Server) showStatement(op analyzer.Operation) wire.PreparedStatements {
	columns := textColumns(policy.SettingFor(op))
	handle := instrument("local", func(ctx context.Context, writer wire.DataWriter, _ []wire.Parameter) error {
		if err := writer.Row([]any{s.store.Get(op).String()}); err != nil {
			return err
		}
		return writer.Complete("SHOW")
	})
	return wire.Prepared(wire.NewStatement(handle, wire.WithColumns(columns)))
}

// strictCall is one matched pg_strict_*() invocation, ready to execute.
// produce runs at execution time so settings reads see the store as of
// execution, not parse.
type strictCall struct {
	columns wire.Columns
	produce func(ctx context.Context) ([][]any, error)
}

// routeStrictCall maps a query text onto the function surface. Unknown
// functions and arity mismatches report ok false and are forwarded.
func (s *Server) routeStrictCall(query string) (strictCall, bool) {
	matches := strictCallRe.FindStringSubmatch(query)
	if matches == nil {
		return strictCall{}, false
	}
	args, ok := splitCallArgs(matches[2])
	if !ok {
		return strictCall{}, false
	}

	fn := strings.ToLower(matches[1])
	column := "pg_strict_" + fn

	switch {
	case fn == "version" && len(args) == 0:
		return strictCall{
			columns: textColumns(column),
			produce: func(context.Context) ([][]any, error) {
				return [][]any{{inspect.Version()}}, nil
			},
		}, true

	case fn == "config" && len(args) == 0:
		return strictCall{
			columns: textColumns("setting", "current_value", "description"),
			produce: func(context.Context) ([][]any, error) {
				report := s.inspector.ConfigReport()
				rows := make([][]any, len(report))
				for i, row := range report {
					rows[i] = []any{row.Setting, row.CurrentValue, row.Description}
				}
				return rows, nil
			},
		}, true

	case fn == "check_where_clause" && len(args) == 2:
		sql, kind := args[0], args[1]
		return strictCall{
			columns: boolColumn(column),
			produce: func(context.Context) ([][]any, error) {
				return [][]any{{s.inspector.CheckWhereClause(sql, kind)}}, nil
			},
		}, true

	case fn == "validate_update" && len(args) == 1:
		return s.validateCall(column, args[0], s.inspector.ValidateUpdate), true

	case fn == "validate_delete" && len(args) == 1:
		return s.validateCall(column, args[0], s.inspector.ValidateDelete), true

	case fn == "set_update_mode" && len(args) == 1:
		return s.modeCall(column, args[0], s.inspector.SetUpdateMode), true

	case fn == "set_delete_mode" && len(args) == 1:
		return s.modeCall(column, args[0], s.inspector.SetDeleteMode), true

	case fn == "enable_update" && len(args) == 0:
		return s.toggleCall(column, s.inspector.EnableUpdate), true

	case fn == "enable_delete" && len(args) == 0:
		return s.toggleCall(column, s.inspector.EnableDelete), true

	case fn == "disable_update" && len(args) == 0:
		return s.toggleCall(column, s.inspector.DisableUpdate), true

	case fn == "disable_delete" && len(args) == 0:
		return s.toggleCall(column, s.inspector.DisableDelete), true

	case fn == "warn_update" && len(args) == 0:
		return s.toggleCall(column, s.inspector.WarnUpdate), true

	case fn == "warn_delete" && len(args) == 0:
		return s.toggleCall(column, s.inspector.WarnDelete), true
	}

	return strictCall{}, false
}

// validateCall fails the statement with the fatal validation message, or
// answers true.
func (s *Server) validateCall(column, sql string, validate func(string) error) strictCall {
	return strictCall{
		columns: boolColumn(column),
		produce: func(context.Context) ([][]any, error) {
			if err := validate(sql); err != nil {
				return nil, err
			}
			return [][]any{{true}}, nil
		},
	}
}

// modeCall applies a mode token and answers whether it was accepted.
func (s *Server) modeCall(column, token string, set func(string) bool) strictCall {
	return strictCall{
		columns: boolColumn(column),
		produce: func(context.Context) ([][]any, error) {
			return [][]any{{set(token)}}, nil
		},
	}
}

// toggleCall applies a fixed mode switch and answers true.
func (s *Server) toggleCall(column string, toggle func() bool) strictCall {
	return strictCall{
		columns: boolColumn(column),
		produce: func(context.Context) ([][]any, error) {
			return [][]any{{toggle()}}, nil
		},
	}
}

// rowsStatement builds a local statement emitting the produced rows under
// the given row description.
func (s *Server) rowsStatement(columns wire.Columns, produce func(ctx context.Context) ([][]any, error)) wire.PreparedStatements {
	handle := instrument("local", func(ctx context.Context, writer wire.DataWriter, _ []wire.Parameter) error {
		rows, err := produce(ctx)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := writer.Row(row); err != nil {
				return err
			}
		}
		return writer.Complete(fmt.Sprintf("SELECT %d", len(rows)))
	})
	return wire.Prepared(wire.NewStatement(handle, wire.WithColumns(columns)))
}

func textColumns(names ...string) wire.Columns {
	columns := make(wire.Columns, len(names))
	for i, name := range names {
		columns[i] = wire.Column{Table: 0, Name: name, Oid: oid.T_text, Width: 256}
	}
	return columns
}

func boolColumn(name string) wire.Columns {
	return wire.Columns{{Table: 0, Name: name, Oid: oid.T_bool, Width: 1}}
}

// splitCallArgs parses a call argument list of single-quoted SQL string
// literals, with doubled quotes unescaping to one quote. Anything outside
// that grammar reports ok false.
func splitCallArgs(list string) ([]string, bool) {
	var args []string
	i, n := 0, len(list)
	expectArg := false

	skipSpace := func() {
		for i < n && (list[i] == ' ' || list[i] == '\t' || list[i] == '\n' || list[i] == '\r') {
			i++
		}
	}

	for {
		skipSpace()
		if i >= n {
			break
		}
		if list[i] != '\'' {
			return nil, false
		}
		i++

		var arg strings.Builder
		closed := false
		for i < n {
			if list[i] == '\'' {
				if i+1 < n && list[i+1] == '\'' {
					arg.WriteByte('\'')
					i += 2
					continue
				}
				i++
				closed = true
				break
			}
			arg.WriteByte(list[i])
			i++
		}
		if !closed {
			return nil, false
		}
		args = append(args, arg.String())
		expectArg = false

		skipSpace()
		if i < n {
			if list[i] != ',' {
				return nil, false
			}
			i++
			expectArg = true
		}
	}

	if expectArg {
		return nil, false
	}
	return args, true
}
