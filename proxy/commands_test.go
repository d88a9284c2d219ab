package proxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgstrict/pgstrict/analyzer"
	"github.com/pgstrict/pgstrict/guard"
	"github.com/pgstrict/pgstrict/inspect"
	"github.com/pgstrict/pgstrict/policy"
)

func newTestServer(t *testing.T) (*Server, *policy.Store) {
	t.Helper()
	store := policy.NewStore()
	cache, err := analyzer.NewCache(0)
	require.NoError(t, err)
	return NewServer("127.0.0.1:0", nil, guard.NewChain(), store, inspect.New(store, cache)), store
}

func TestLocalStatementRouting(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name  string
		query string
		local bool
	}{
		{"set with equals", "SET pg_strict.require_where_on_update = 'on'", true},
		{"set with to", "SET pg_strict.require_where_on_delete TO warn", true},
		{"set case insensitive", "set PG_STRICT.REQUIRE_WHERE_ON_UPDATE = off", true},
		{"show update", "SHOW pg_strict.require_where_on_update", true},
		{"show delete with semicolon", "SHOW pg_strict.require_where_on_delete;", true},
		{"unknown setting forwards", "SET pg_strict.bogus = 'on'", false},
		{"version call", "SELECT pg_strict_version()", true},
		{"version call with spacing", "  select  PG_STRICT_VERSION( ) ; ", true},
		{"config call", "SELECT pg_strict_config()", true},
		{"check call", "SELECT pg_strict_check_where_clause('UPDATE t SET x = 1', 'update')", true},
		{"validate call", "SELECT pg_strict_validate_delete('DELETE FROM t WHERE id = 1')", true},
		{"mode call", "SELECT pg_strict_set_update_mode('warn')", true},
		{"toggle call", "SELECT pg_strict_enable_delete()", true},
		{"unknown function forwards", "SELECT pg_strict_frobnicate('x')", false},
		{"arity mismatch forwards", "SELECT pg_strict_version('extra')", false},
		{"missing parens forwards", "SELECT pg_strict_version", false},
		{"extra select list forwards", "SELECT pg_strict_version(), 1", false},
		{"unquoted argument forwards", "SELECT pg_strict_set_update_mode(warn)", false},
		{"plain select forwards", "SELECT * FROM users", false},
		{"update forwards", "UPDATE users SET x = 1", false},
		{"show other setting forwards", "SHOW server_version", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, ok := srv.localStatement(tt.query)
			assert.Equal(t, tt.local, ok)
			if tt.local {
				assert.NotNil(t, stmt)
			}
		})
	}
}

func TestVersionCall(t *testing.T) {
	srv, _ := newTestServer(t)

	call, ok := srv.routeStrictCall("SELECT pg_strict_version()")
	require.True(t, ok)
	require.Len(t, call.columns, 1)
	assert.Equal(t, "pg_strict_version", call.columns[0].Name)

	rows, err := call.produce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"0.1.0"}}, rows)
}

func TestConfigCall(t *testing.T) {
	srv, store := newTestServer(t)
	store.Set(analyzer.OperationUpdate, policy.ModeWarn)

	call, ok := srv.routeStrictCall("SELECT pg_strict_config()")
	require.True(t, ok)
	require.Len(t, call.columns, 3)
	assert.Equal(t, "setting", call.columns[0].Name)
	assert.Equal(t, "current_value", call.columns[1].Name)
	assert.Equal(t, "description", call.columns[2].Name)

	rows, err := call.produce(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []any{"require_where_on_update", "warn", "Require WHERE clause on UPDATE statements"}, rows[0])
	assert.Equal(t, []any{"require_where_on_delete", "off", "Require WHERE clause on DELETE statements"}, rows[1])
}

func TestCheckWhereClauseCall(t *testing.T) {
	srv, _ := newTestServer(t)

	call, ok := srv.routeStrictCall("SELECT pg_strict_check_where_clause('UPDATE t SET x = 1 WHERE id = 1', 'update')")
	require.True(t, ok)
	rows, err := call.produce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]any{{true}}, rows)

	call, ok = srv.routeStrictCall("SELECT pg_strict_check_where_clause('DELETE FROM t', 'delete')")
	require.True(t, ok)
	rows, err = call.produce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]any{{false}}, rows)
}

func TestCheckWhereClauseCallUnescapesQuotes(t *testing.T) {
	srv, _ := newTestServer(t)

	call, ok := srv.routeStrictCall("SELECT pg_strict_check_where_clause('UPDATE t SET name = ''x'' WHERE id = 1', 'update')")
	require.True(t, ok)
	rows, err := call.produce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]any{{true}}, rows)
}

func TestValidateCalls(t *testing.T) {
	srv, _ := newTestServer(t)

	call, ok := srv.routeStrictCall("SELECT pg_strict_validate_update('UPDATE t SET x = 1 WHERE id = 1')")
	require.True(t, ok)
	rows, err := call.produce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]any{{true}}, rows)

	call, ok = srv.routeStrictCall("SELECT pg_strict_validate_update('UPDATE t SET x = 1')")
	require.True(t, ok)
	_, err = call.produce(context.Background())
	require.Error(t, err)
	var verr *inspect.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "UPDATE statement without WHERE clause detected. This operation would affect all rows in the table.", verr.Message)

	call, ok = srv.routeStrictCall("SELECT pg_strict_validate_delete('not sql at all')")
	require.True(t, ok)
	_, err = call.produce(context.Background())
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Failed to parse DELETE query.", verr.Message)
}

func TestModeCalls(t *testing.T) {
	srv, store := newTestServer(t)

	call, ok := srv.routeStrictCall("SELECT pg_strict_set_update_mode('warn')")
	require.True(t, ok)
	rows, err := call.produce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]any{{true}}, rows)
	assert.Equal(t, policy.ModeWarn, store.Get(analyzer.OperationUpdate))

	// Invalid token answers false and leaves the mode alone.
	call, ok = srv.routeStrictCall("SELECT pg_strict_set_update_mode('loud')")
	require.True(t, ok)
	rows, err = call.produce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]any{{false}}, rows)
	assert.Equal(t, policy.ModeWarn, store.Get(analyzer.OperationUpdate))
}

func TestToggleCalls(t *testing.T) {
	srv, store := newTestServer(t)

	tests := []struct {
		query string
		op    analyzer.Operation
		mode  policy.Mode
	}{
		{"SELECT pg_strict_enable_update()", analyzer.OperationUpdate, policy.ModeOn},
		{"SELECT pg_strict_warn_update()", analyzer.OperationUpdate, policy.ModeWarn},
		{"SELECT pg_strict_disable_update()", analyzer.OperationUpdate, policy.ModeOff},
		{"SELECT pg_strict_enable_delete()", analyzer.OperationDelete, policy.ModeOn},
		{"SELECT pg_strict_warn_delete()", analyzer.OperationDelete, policy.ModeWarn},
		{"SELECT pg_strict_disable_delete()", analyzer.OperationDelete, policy.ModeOff},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			call, ok := srv.routeStrictCall(tt.query)
			require.True(t, ok)
			rows, err := call.produce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, [][]any{{true}}, rows)
			assert.Equal(t, tt.mode, store.Get(tt.op))
		})
	}
}

func TestSplitCallArgs(t *testing.T) {
	tests := []struct {
		name string
		list string
		args []string
		ok   bool
	}{
		{"empty", "", nil, true},
		{"whitespace only", "   ", nil, true},
		{"single", "'update'", []string{"update"}, true},
		{"two args", "'a', 'b'", []string{"a", "b"}, true},
		{"padded", "  'x'  ", []string{"x"}, true},
		{"escaped quote", "'it''s'", []string{"it's"}, true},
		{"empty literal", "''", []string{""}, true},
		{"unterminated", "'abc", nil, false},
		{"bare token", "warn", nil, false},
		{"number", "42", nil, false},
		{"missing comma", "'a' 'b'", nil, false},
		{"trailing comma", "'a',", nil, false},
		{"double comma", "'a',,'b'", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, ok := splitCallArgs(tt.list)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.args, args)
			}
		})
	}
}
