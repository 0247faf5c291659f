package duckdbsql

// Node is the base interface for all AST nodes.
type Node interface {
	node()
}

// Expr is a marker interface for expression nodes.
type Expr interface {
	Node
	exprNode()
}

// Stmt is a marker interface for statement nodes.
type Stmt interface {
	Node
	stmtNode()
	// Kind returns the statement classification.
	Kind() StmtType
}

// TableRef is a marker interface for FROM-clause sources.
type TableRef interface {
	Node
	tableRefNode()
}

// StmtType represents the kind of SQL statement.
type StmtType int

// StmtTypeSelect and friends classify statement types.
const (
	StmtTypeSelect StmtType = iota
	StmtTypeInsert
	StmtTypeUpdate
	StmtTypeDelete
	StmtTypeDDL
	StmtTypeTransaction
	StmtTypeOther
)

var stmtTypeNames = map[StmtType]string{
	StmtTypeSelect:      "SELECT",
	StmtTypeInsert:      "INSERT",
	StmtTypeUpdate:      "UPDATE",
	StmtTypeDelete:      "DELETE",
	StmtTypeDDL:         "DDL",
	StmtTypeTransaction: "TRANSACTION",
	StmtTypeOther:       "OTHER",
}

func (t StmtType) String() string {
	if s, ok := stmtTypeNames[t]; ok {
		return s
	}
	return "OTHER"
}
