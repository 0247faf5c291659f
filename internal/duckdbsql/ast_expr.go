package duckdbsql

// === Expression Nodes ===

// ColumnRef represents a column reference, optionally qualified.
type ColumnRef struct {
	Schema string // schema.table.column
	Table  string // optional table/alias qualifier
	Column string
}

func (*ColumnRef) node()     {}
func (*ColumnRef) exprNode() {}

// Literal represents a literal value (number, string, bool, null).
type Literal struct {
	Type  LiteralType
	Value string
}

func (*Literal) node()     {}
func (*Literal) exprNode() {}

// LiteralType represents the type of a literal.
type LiteralType int

// LiteralNumber and friends classify literals.
const (
	LiteralNumber LiteralType = iota
	LiteralString
	LiteralBool
	LiteralNull
)

// Param is a prepared-statement placeholder (? or $n).
type Param struct {
	Name string
}

func (*Param) node()     {}
func (*Param) exprNode() {}

// BinaryExpr represents a binary expression (left op right).
type BinaryExpr struct {
	Left  Expr
	Op    TokenType
	Right Expr
}

func (*BinaryExpr) node()     {}
func (*BinaryExpr) exprNode() {}

// UnaryExpr represents a prefix unary expression.
type UnaryExpr struct {
	Op   TokenType
	Expr Expr
}

func (*UnaryExpr) node()     {}
func (*UnaryExpr) exprNode() {}

// ParenExpr represents a parenthesized expression.
type ParenExpr struct {
	Expr Expr
}

func (*ParenExpr) node()     {}
func (*ParenExpr) exprNode() {}

// FuncCall represents a function call.
type FuncCall struct {
	Schema   string
	Name     string // original case
	Distinct bool
	Args     []Expr
	Star     bool // count(*)
	OrderBy  []OrderByItem
	Filter   Expr
	Window   *WindowSpec
}

func (*FuncCall) node()     {}
func (*FuncCall) exprNode() {}

// WindowSpec represents a window specification (OVER clause).
type WindowSpec struct {
	Name        string // named window reference
	PartitionBy []Expr
	OrderBy     []OrderByItem
	Frame       *FrameSpec
}

// FrameSpec represents a window frame specification.
type FrameSpec struct {
	Type  TokenType // TOKEN_ROWS, TOKEN_RANGE or TOKEN_GROUPS
	Start FrameBound
	End   *FrameBound
}

// FrameBound represents a window frame bound. Offset is set for
// n PRECEDING / n FOLLOWING.
type FrameBound struct {
	Unbounded bool
	Current   bool
	Preceding bool
	Offset    Expr
}

// CaseExpr represents a CASE expression.
type CaseExpr struct {
	Operand Expr // nil for searched CASE
	Whens   []WhenClause
	Else    Expr
}

func (*CaseExpr) node()     {}
func (*CaseExpr) exprNode() {}

// WhenClause represents WHEN condition THEN result.
type WhenClause struct {
	Condition Expr
	Result    Expr
}

// CastExpr represents CAST(expr AS type), TRY_CAST, and expr::type.
type CastExpr struct {
	Expr     Expr
	TypeName string
	Try      bool
}

func (*CastExpr) node()     {}
func (*CastExpr) exprNode() {}

// InExpr represents expr [NOT] IN (values...) or expr [NOT] IN (subquery).
type InExpr struct {
	Expr   Expr
	Not    bool
	Values []Expr
	Query  *SelectStmt
}

func (*InExpr) node()     {}
func (*InExpr) exprNode() {}

// BetweenExpr represents expr [NOT] BETWEEN low AND high.
type BetweenExpr struct {
	Expr Expr
	Not  bool
	Low  Expr
	High Expr
}

func (*BetweenExpr) node()     {}
func (*BetweenExpr) exprNode() {}

// IsExpr represents IS [NOT] NULL/TRUE/FALSE and IS [NOT] DISTINCT FROM.
type IsExpr struct {
	Expr  Expr
	Not   bool
	What  TokenType // TOKEN_NULL, TOKEN_TRUE, TOKEN_FALSE or TOKEN_DISTINCT
	Right Expr      // DISTINCT FROM operand
}

func (*IsExpr) node()     {}
func (*IsExpr) exprNode() {}

// LikeExpr represents [NOT] LIKE/ILIKE/GLOB/SIMILAR TO.
type LikeExpr struct {
	Expr    Expr
	Not     bool
	Op      TokenType
	Pattern Expr
	Escape  Expr
}

func (*LikeExpr) node()     {}
func (*LikeExpr) exprNode() {}

// ExistsExpr represents [NOT] EXISTS (subquery).
type ExistsExpr struct {
	Not    bool
	Select *SelectStmt
}

func (*ExistsExpr) node()     {}
func (*ExistsExpr) exprNode() {}

// SubqueryExpr represents a scalar subquery.
type SubqueryExpr struct {
	Select *SelectStmt
}

func (*SubqueryExpr) node()     {}
func (*SubqueryExpr) exprNode() {}

// StarExpr represents * or t.* inside an expression.
type StarExpr struct {
	Table string
}

func (*StarExpr) node()     {}
func (*StarExpr) exprNode() {}

// ColumnsExpr represents DuckDB COLUMNS(pattern).
type ColumnsExpr struct {
	Pattern Expr
}

func (*ColumnsExpr) node()     {}
func (*ColumnsExpr) exprNode() {}

// IntervalExpr represents INTERVAL 'value' [unit].
type IntervalExpr struct {
	Value Expr
	Unit  string
}

func (*IntervalExpr) node()     {}
func (*IntervalExpr) exprNode() {}

// ExtractExpr represents EXTRACT(field FROM source).
type ExtractExpr struct {
	Field  string
	Source Expr
}

func (*ExtractExpr) node()     {}
func (*ExtractExpr) exprNode() {}

// ListLiteral represents [a, b, c].
type ListLiteral struct {
	Elements []Expr
}

func (*ListLiteral) node()     {}
func (*ListLiteral) exprNode() {}

// IndexExpr represents expr[index] and expr[start:stop].
type IndexExpr struct {
	Expr  Expr
	Index Expr
	Stop  Expr
	Slice bool
}

func (*IndexExpr) node()     {}
func (*IndexExpr) exprNode() {}
