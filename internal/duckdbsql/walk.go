package duckdbsql

import (
	"sort"
	"strings"
)

// Classify returns the statement type for a parsed statement.
func Classify(stmt Stmt) StmtType {
	if stmt == nil {
		return StmtTypeOther
	}
	return stmt.Kind()
}

// Inspect traverses the tree rooted at n in depth-first order, calling fn for
// every statement, table reference, and expression. If fn returns false the
// children of that node are skipped.
//
// Clause structs (SelectCore, Join, WindowSpec) are not nodes; their contents
// are visited as children of the enclosing SelectStmt or FuncCall.
func Inspect(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}

	switch x := n.(type) {
	case *SelectStmt:
		if x.With != nil {
			for _, cte := range x.With.CTEs {
				if cte.Select != nil {
					Inspect(cte.Select, fn)
				}
			}
		}
		for body := x.Body; body != nil; body = body.Right {
			inspectCore(body.Left, fn)
		}

	case *TableName, *StringTable, *OtherStmt:
		// leaves

	case *DerivedTable:
		if x.Select != nil {
			Inspect(x.Select, fn)
		}
	case *FuncTable:
		if x.Func != nil {
			Inspect(x.Func, fn)
		}

	case *ColumnRef, *Literal, *Param, *StarExpr:
		// leaves
	case *BinaryExpr:
		inspectExprs(fn, x.Left, x.Right)
	case *UnaryExpr:
		inspectExprs(fn, x.Expr)
	case *ParenExpr:
		inspectExprs(fn, x.Expr)
	case *FuncCall:
		inspectExprs(fn, x.Args...)
		inspectOrderBy(x.OrderBy, fn)
		inspectExprs(fn, x.Filter)
		inspectWindow(x.Window, fn)
	case *CaseExpr:
		inspectExprs(fn, x.Operand)
		for _, w := range x.Whens {
			inspectExprs(fn, w.Condition, w.Result)
		}
		inspectExprs(fn, x.Else)
	case *CastExpr:
		inspectExprs(fn, x.Expr)
	case *InExpr:
		inspectExprs(fn, x.Expr)
		inspectExprs(fn, x.Values...)
		if x.Query != nil {
			Inspect(x.Query, fn)
		}
	case *BetweenExpr:
		inspectExprs(fn, x.Expr, x.Low, x.High)
	case *IsExpr:
		inspectExprs(fn, x.Expr, x.Right)
	case *LikeExpr:
		inspectExprs(fn, x.Expr, x.Pattern, x.Escape)
	case *ExistsExpr:
		if x.Select != nil {
			Inspect(x.Select, fn)
		}
	case *SubqueryExpr:
		if x.Select != nil {
			Inspect(x.Select, fn)
		}
	case *ColumnsExpr:
		inspectExprs(fn, x.Pattern)
	case *IntervalExpr:
		inspectExprs(fn, x.Value)
	case *ExtractExpr:
		inspectExprs(fn, x.Source)
	case *ListLiteral:
		inspectExprs(fn, x.Elements...)
	case *IndexExpr:
		inspectExprs(fn, x.Expr, x.Index, x.Stop)
	}
}

func inspectCore(sc *SelectCore, fn func(Node) bool) {
	if sc == nil {
		return
	}
	inspectExprs(fn, sc.DistinctOn...)
	for _, item := range sc.Columns {
		inspectExprs(fn, item.Expr)
	}
	if sc.From != nil {
		inspectTableRef(sc.From.Source, fn)
		for _, j := range sc.From.Joins {
			inspectTableRef(j.Right, fn)
			inspectExprs(fn, j.Condition)
		}
	}
	inspectExprs(fn, sc.Where)
	inspectExprs(fn, sc.GroupBy...)
	inspectExprs(fn, sc.Having)
	for _, w := range sc.Windows {
		inspectWindow(w.Spec, fn)
	}
	inspectExprs(fn, sc.Qualify)
	inspectOrderBy(sc.OrderBy, fn)
	inspectExprs(fn, sc.Limit, sc.Offset)
	if sc.Fetch != nil {
		inspectExprs(fn, sc.Fetch.Count)
	}
}

func inspectTableRef(ref TableRef, fn func(Node) bool) {
	if ref != nil {
		Inspect(ref, fn)
	}
}

func inspectExprs(fn func(Node) bool, exprs ...Expr) {
	for _, e := range exprs {
		if e != nil {
			Inspect(e, fn)
		}
	}
}

func inspectOrderBy(items []OrderByItem, fn func(Node) bool) {
	for _, item := range items {
		inspectExprs(fn, item.Expr)
	}
}

func inspectWindow(w *WindowSpec, fn func(Node) bool) {
	if w == nil {
		return
	}
	inspectExprs(fn, w.PartitionBy...)
	inspectOrderBy(w.OrderBy, fn)
	if w.Frame != nil {
		inspectExprs(fn, w.Frame.Start.Offset)
		if w.Frame.End != nil {
			inspectExprs(fn, w.Frame.End.Offset)
		}
	}
}

// CollectTableNames returns the sorted, lowercased names of every base table
// referenced anywhere in the statement. Names defined by a WITH clause in the
// same statement are left out; scoping is not otherwise resolved.
func CollectTableNames(stmt Stmt) []string {
	cteNames := make(map[string]bool)
	seen := make(map[string]bool)

	Inspect(stmt, func(n Node) bool {
		if sel, ok := n.(*SelectStmt); ok && sel.With != nil {
			for _, cte := range sel.With.CTEs {
				cteNames[strings.ToLower(cte.Name)] = true
			}
		}
		if t, ok := n.(*TableName); ok {
			name := strings.ToLower(t.Name)
			if t.Schema != "" {
				name = strings.ToLower(t.Schema) + "." + name
			}
			seen[name] = true
		}
		return true
	})

	var tables []string
	for name := range seen {
		if !cteNames[name] {
			tables = append(tables, name)
		}
	}
	sort.Strings(tables)
	return tables
}

// CollectFunctionNames returns the sorted, lowercased names of every function
// called in the statement, including table-valued functions in FROM.
func CollectFunctionNames(stmt Stmt) []string {
	seen := make(map[string]bool)
	Inspect(stmt, func(n Node) bool {
		if fc, ok := n.(*FuncCall); ok {
			seen[strings.ToLower(fc.Name)] = true
		}
		return true
	})

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasSetOperation reports whether any SELECT in the statement, at any depth,
// combines queries with UNION, INTERSECT or EXCEPT.
func HasSetOperation(stmt Stmt) bool {
	found := false
	Inspect(stmt, func(n Node) bool {
		if sel, ok := n.(*SelectStmt); ok && sel.HasSetOp() {
			found = true
		}
		return !found
	})
	return found
}
