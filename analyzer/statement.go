package analyzer

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ParsedStatement is one classified top-level UPDATE or DELETE statement.
// Statements of any other kind never materialize as a ParsedStatement.
type ParsedStatement struct {
	Operation Operation
	HasFilter bool
}

// dmlNode is the closed set of statement variants the classifier recognizes.
// filter exposes the statement's WHERE slot, nil when absent. FROM join
// lists (UPDATE) and USING lists (DELETE) are deliberately not part of the
// contract: only the WHERE predicate counts as a filter.
type dmlNode interface {
	operation() Operation
	filter() *pg_query.Node
}

type updateNode struct {
	stmt *pg_query.UpdateStmt
}

func (n updateNode) operation() Operation { return OperationUpdate }
func (n updateNode) filter() *pg_query.Node { return n.stmt.WhereClause }

type deleteNode struct {
	stmt *pg_query.DeleteStmt
}

func (n deleteNode) operation() Operation { return OperationDelete }
func (n deleteNode) filter() *pg_query.Node { return n.stmt.WhereClause }

// classify maps a raw parse-tree node to its DML variant. A CTE wrapper or
// RETURNING list leaves the node's top-level kind unchanged, so wrapped
// statements classify identically to bare ones. Everything that is not an
// UPDATE or DELETE reports ok == false and is skipped without error.
func classify(node *pg_query.Node) (dmlNode, bool) {
	if node == nil {
		return nil, false
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_UpdateStmt:
		return updateNode{stmt: n.UpdateStmt}, true
	case *pg_query.Node_DeleteStmt:
		return deleteNode{stmt: n.DeleteStmt}, true
	default:
		return nil, false
	}
}
