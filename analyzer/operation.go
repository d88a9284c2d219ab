package analyzer

import "strings"

// Operation identifies the DML statement kinds this engine polices.
type Operation int

const (
	OperationUpdate Operation = iota
	OperationDelete
)

// String returns the upper-case SQL keyword for the operation, as used in
// violation messages.
func (o Operation) String() string {
	switch o {
	case OperationUpdate:
		return "UPDATE"
	case OperationDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// ParseOperation maps a statement-kind token to an Operation. The token is
// trimmed and matched case-insensitively; anything outside update/delete
// reports ok == false rather than an error.
func ParseOperation(token string) (Operation, bool) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "update":
		return OperationUpdate, true
	case "delete":
		return OperationDelete, true
	default:
		return 0, false
	}
}
