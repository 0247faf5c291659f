package duckdbsql

// === Statement Nodes ===

// SelectStmt represents a complete SELECT statement with optional WITH clause.
type SelectStmt struct {
	With *WithClause
	Body *SelectBody
	Span Span // statement text, excluding a trailing semicolon
}

func (*SelectStmt) node()            {}
func (*SelectStmt) stmtNode()        {}
func (*SelectStmt) Kind() StmtType   { return StmtTypeSelect }
func (s *SelectStmt) HasSetOp() bool { return s.Body != nil && s.Body.Op != SetOpNone }

// WithClause represents a WITH clause with CTEs.
type WithClause struct {
	Recursive bool
	CTEs      []*CTE
}

// CTE represents a Common Table Expression.
type CTE struct {
	Name    string
	Columns []string
	Select  *SelectStmt
}

// SelectBody represents the body of a SELECT with possible set operations.
type SelectBody struct {
	Left  *SelectCore
	Op    SetOpType
	All   bool
	Right *SelectBody
}

// SetOpType represents the type of set operation.
type SetOpType string

// SetOpNone and friends classify set operations (UNION, INTERSECT, EXCEPT).
const (
	SetOpNone      SetOpType = ""
	SetOpUnion     SetOpType = "UNION"
	SetOpIntersect SetOpType = "INTERSECT"
	SetOpExcept    SetOpType = "EXCEPT"
)

// SelectCore represents the core SELECT clause with all optional clauses.
//
// LimitSpan covers the LIMIT count expression and OffsetPos is the offset of
// the OFFSET keyword (-1 when absent); the validator edits the original text
// at these positions instead of re-rendering the tree.
type SelectCore struct {
	Distinct     bool
	DistinctOn   []Expr
	Columns      []SelectItem
	From         *FromClause
	Where        Expr
	GroupBy      []Expr
	GroupByAll   bool
	Having       Expr
	Windows      []WindowDef
	Qualify      Expr
	OrderBy      []OrderByItem
	OrderByAll   bool
	Limit        Expr
	LimitSpan    Span
	LimitPercent bool
	Offset       Expr
	OffsetPos    int
	Fetch        *FetchClause
}

// FetchClause represents FETCH FIRST/NEXT n ROWS ONLY/WITH TIES.
type FetchClause struct {
	Count     Expr // nil means one row
	CountSpan Span
	Percent   bool
	WithTies  bool
}

// WindowDef represents a named window definition.
type WindowDef struct {
	Name string
	Spec *WindowSpec
}

// SelectItem represents an item in the SELECT list.
type SelectItem struct {
	Star      bool   // SELECT *
	TableStar string // SELECT t.*
	Expr      Expr
	Alias     string
}

// FromClause represents the FROM clause.
type FromClause struct {
	Source TableRef
	Joins  []*Join
}

// Join represents a JOIN clause.
type Join struct {
	Type      JoinType
	Natural   bool
	Right     TableRef
	Condition Expr     // ON clause
	Using     []string // USING (col1, col2)
}

// JoinType represents the type of join.
type JoinType string

// JoinInner and friends classify SQL JOIN types including DuckDB extensions.
const (
	JoinInner      JoinType = "INNER"
	JoinLeft       JoinType = "LEFT"
	JoinRight      JoinType = "RIGHT"
	JoinFull       JoinType = "FULL"
	JoinCross      JoinType = "CROSS"
	JoinComma      JoinType = ","
	JoinSemi       JoinType = "SEMI"
	JoinAnti       JoinType = "ANTI"
	JoinAsOf       JoinType = "ASOF"
	JoinPositional JoinType = "POSITIONAL"
)

// OrderByItem represents an item in ORDER BY clause.
type OrderByItem struct {
	Expr       Expr
	Desc       bool
	NullsFirst *bool // nil = default
}

// OtherStmt is any non-SELECT statement. Only its classification and leading
// keyword are kept.
type OtherStmt struct {
	Type    StmtType
	Keyword string
}

func (*OtherStmt) node()            {}
func (*OtherStmt) stmtNode()        {}
func (s *OtherStmt) Kind() StmtType { return s.Type }
