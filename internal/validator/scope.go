package validator

import (
	"fmt"
	"sort"
	"strings"

	"duck-gateway/internal/duckdbsql"
	"duck-gateway/internal/policy"
)

// Table and column resolution. Every SELECT gets a scope listing its FROM
// sources; column references resolve against the innermost scope first,
// then select-list aliases, then enclosing scopes (correlated subqueries).

// column is one name a source exposes. For base tables, table and origin
// identify the physical column it reads.
type column struct {
	name   string
	table  string
	origin string
}

// source is one table-like entry in a FROM clause.
type source struct {
	alias   string
	schema  string // base tables only, as written
	columns []column
	opaque  bool // columns unknown; the table itself was already rejected
}

func (s *source) find(name string) (*column, bool) {
	for i := range s.columns {
		if strings.EqualFold(s.columns[i].name, name) {
			return &s.columns[i], true
		}
	}
	return nil, false
}

type scope struct {
	sources []*source
	using   map[string]bool // USING columns; never ambiguous
	ctes    map[string][]column
	parent  *scope
}

func (s *scope) findSource(alias string) (*source, bool) {
	for _, src := range s.sources {
		if src.alias != "" && strings.EqualFold(src.alias, alias) {
			return src, true
		}
	}
	return nil, false
}

func (s *scope) findCTE(name string) ([]column, bool) {
	lower := strings.ToLower(name)
	for sc := s; sc != nil; sc = sc.parent {
		if cols, ok := sc.ctes[lower]; ok {
			return cols, true
		}
	}
	return nil, false
}

// niladic names parse as column references but are engine functions.
var niladic = map[string]bool{
	"current_date":      true,
	"current_time":      true,
	"current_timestamp": true,
	"localtime":         true,
	"localtimestamp":    true,
}

// checker walks a statement recording what it reads. Table-level problems
// rank ahead of column-level ones regardless of where they appear.
type checker struct {
	doc      *policy.Document
	schema   policy.Schema
	tables   map[string]bool
	columns  map[string]bool
	tableRej *Rejection
	colRej   *Rejection
}

func newChecker(doc *policy.Document, schema policy.Schema) *checker {
	return &checker{
		doc:     doc,
		schema:  schema,
		tables:  make(map[string]bool),
		columns: make(map[string]bool),
	}
}

func (c *checker) rejectTable(code, format string, args ...any) {
	if c.tableRej == nil {
		c.tableRej = &Rejection{Code: code, Reason: fmt.Sprintf(format, args...)}
	}
}

func (c *checker) rejectColumn(code, format string, args ...any) {
	if c.colRej == nil {
		c.colRej = &Rejection{Code: code, Reason: fmt.Sprintf(format, args...)}
	}
}

// rejection returns the most severe problem found, if any.
func (c *checker) rejection() (Rejection, bool) {
	switch {
	case c.tableRej != nil:
		return *c.tableRej, true
	case c.colRej != nil:
		return *c.colRej, true
	default:
		return Rejection{}, false
	}
}

func (c *checker) sortedTables() []string { return sortedKeys(c.tables) }

func (c *checker) sortedColumns() []string { return sortedKeys(c.columns) }

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// checkSelect validates a SELECT at any depth and returns its output columns.
func (c *checker) checkSelect(sel *duckdbsql.SelectStmt, parent *scope) []column {
	if sel == nil {
		return nil
	}

	// CTEs are visible to later CTEs and to the body.
	outer := parent
	if sel.With != nil {
		outer = &scope{ctes: make(map[string][]column), parent: parent}
		for _, cte := range sel.With.CTEs {
			name := strings.ToLower(cte.Name)
			if sel.With.Recursive {
				outer.ctes[name] = namedColumns(cte.Columns)
			}
			cols := c.checkSelect(cte.Select, outer)
			outer.ctes[name] = renameColumns(cols, cte.Columns)
		}
	}

	var out []column
	for body := sel.Body; body != nil; body = body.Right {
		cols := c.checkCore(body.Left, outer)
		if out == nil {
			out = cols
		}
	}
	return out
}

func namedColumns(names []string) []column {
	cols := make([]column, len(names))
	for i, n := range names {
		cols[i] = column{name: n}
	}
	return cols
}

// renameColumns applies a column alias list positionally.
func renameColumns(cols []column, names []string) []column {
	if len(names) == 0 {
		return cols
	}
	out := make([]column, len(cols))
	copy(out, cols)
	for i := range out {
		if i < len(names) {
			out[i].name = names[i]
		}
	}
	return out
}

func (c *checker) checkCore(sc *duckdbsql.SelectCore, parent *scope) []column {
	if sc == nil {
		return nil
	}

	s := &scope{parent: parent}
	if sc.From != nil {
		c.addSource(s, sc.From.Source, parent)
		for _, j := range sc.From.Joins {
			if j.Natural {
				c.rejectColumn(CodeColumnNotAllowed, "NATURAL join not permitted")
			}
			c.addSource(s, j.Right, parent)
			for _, name := range j.Using {
				c.checkUsing(s, name)
			}
		}
		for _, j := range sc.From.Joins {
			c.checkExpr(j.Condition, s, nil)
		}
	}

	aliases := make(map[string]bool)
	for _, item := range sc.Columns {
		if item.Alias != "" {
			aliases[strings.ToLower(item.Alias)] = true
		}
	}

	var out []column
	for _, item := range sc.Columns {
		switch {
		case item.Star, item.TableStar != "":
			c.rejectColumn(CodeWildcard, "wildcard projection not permitted")
			continue
		}
		c.checkExpr(item.Expr, s, aliases)
		out = append(out, c.outputColumn(item, s))
	}

	c.checkExpr(sc.Where, s, aliases)
	c.checkExprs(sc.DistinctOn, s, aliases)
	c.checkExprs(sc.GroupBy, s, aliases)
	c.checkExpr(sc.Having, s, aliases)
	for _, w := range sc.Windows {
		c.checkWindow(w.Spec, s, aliases)
	}
	c.checkExpr(sc.Qualify, s, aliases)
	for _, o := range sc.OrderBy {
		c.checkExpr(o.Expr, s, aliases)
	}
	c.checkExpr(sc.Limit, s, nil)
	c.checkExpr(sc.Offset, s, nil)
	if sc.Fetch != nil {
		c.checkExpr(sc.Fetch.Count, s, nil)
	}
	return out
}

// outputColumn names one select item as seen by an enclosing query.
func (c *checker) outputColumn(item duckdbsql.SelectItem, s *scope) column {
	if ref, ok := item.Expr.(*duckdbsql.ColumnRef); ok {
		col := column{name: ref.Column}
		if resolved, ok := c.lookup(ref, s); ok {
			col.table, col.origin = resolved.table, resolved.origin
		}
		if item.Alias != "" {
			col.name = item.Alias
		}
		return col
	}
	return column{name: item.Alias}
}

// addSource resolves one FROM entry and appends it to s. LATERAL subqueries
// see the sources to their left.
func (c *checker) addSource(s *scope, ref duckdbsql.TableRef, parent *scope) {
	switch t := ref.(type) {
	case nil:
		return

	case *duckdbsql.TableName:
		alias := t.Alias
		if alias == "" {
			alias = t.Name
		}
		if t.Schema == "" && t.Catalog == "" {
			if cols, ok := s.findCTE(t.Name); ok {
				s.sources = append(s.sources, &source{alias: alias, columns: renameColumns(cols, t.ColumnAliases)})
				return
			}
		}
		src := &source{alias: alias, schema: t.Schema}
		s.sources = append(s.sources, src)
		key, ok := c.allowTable(t)
		if !ok {
			src.opaque = true
			return
		}
		visible := c.doc.TableColumns(key)
		if c.schema.Known() {
			visible = c.schema.Columns(key)
		}
		for _, name := range visible {
			src.columns = append(src.columns, column{name: name, table: key, origin: name})
		}
		src.columns = renameColumns(src.columns, t.ColumnAliases)

	case *duckdbsql.DerivedTable:
		inner := parent
		if t.Lateral {
			inner = s
		}
		cols := c.checkSelect(t.Select, inner)
		s.sources = append(s.sources, &source{alias: t.Alias, columns: renameColumns(cols, t.ColumnAliases)})

	case *duckdbsql.FuncTable:
		name := ""
		if t.Func != nil {
			name = strings.ToLower(t.Func.Name)
			c.checkExprs(t.Func.Args, s, nil)
		}
		c.rejectTable(CodeTableFunction, "table function not permitted: %s", name)
		s.sources = append(s.sources, &source{alias: t.Alias, opaque: true})

	case *duckdbsql.StringTable:
		c.rejectTable(CodeTableFunction, "table function not permitted: file scan")
		s.sources = append(s.sources, &source{alias: t.Alias, opaque: true})
	}
}

// allowTable checks a base table against the policy and the engine schema,
// recording it when permitted.
func (c *checker) allowTable(t *duckdbsql.TableName) (string, bool) {
	if t.Catalog != "" {
		c.rejectTable(CodeTableNotAllowed, "table not allowed: %s.%s.%s",
			strings.ToLower(t.Catalog), strings.ToLower(t.Schema), strings.ToLower(t.Name))
		return "", false
	}
	key := c.doc.TableKey(t.Schema, t.Name)
	if !c.doc.AllowsTable(key) {
		c.rejectTable(CodeTableNotAllowed, "table not allowed: %s", key)
		return "", false
	}
	if c.schema.Known() && !c.schema.HasTable(key) {
		c.rejectTable(CodeTableNotAllowed, "table not found: %s", key)
		return "", false
	}
	c.tables[key] = true
	return key, true
}

// checkUsing verifies a USING column exists on both sides of the join just
// added and marks it as never ambiguous.
func (c *checker) checkUsing(s *scope, name string) {
	if len(s.sources) < 2 {
		return
	}
	right := s.sources[len(s.sources)-1]
	leftFound := false
	for _, src := range s.sources[:len(s.sources)-1] {
		if src.opaque {
			return
		}
		if col, ok := src.find(name); ok {
			c.use(col)
			leftFound = true
		}
	}
	if right.opaque {
		return
	}
	col, ok := right.find(name)
	if !ok || !leftFound {
		c.rejectColumn(CodeColumnNotAllowed, "column not allowed: %s", strings.ToLower(name))
		return
	}
	c.use(col)
	if s.using == nil {
		s.using = make(map[string]bool)
	}
	s.using[strings.ToLower(name)] = true
}

// use records a read of col, rejecting columns the policy does not list.
func (c *checker) use(col *column) {
	if col.table == "" {
		return
	}
	if !c.doc.AllowsColumn(col.table, col.origin) {
		c.rejectColumn(CodeColumnNotAllowed, "column not allowed: %s.%s", col.table, strings.ToLower(col.origin))
		return
	}
	c.columns[col.table+"."+strings.ToLower(col.origin)] = true
}

func (c *checker) checkExprs(exprs []duckdbsql.Expr, s *scope, aliases map[string]bool) {
	for _, e := range exprs {
		c.checkExpr(e, s, aliases)
	}
}

// checkExpr validates every column reference, function call and subquery
// inside e.
func (c *checker) checkExpr(e duckdbsql.Expr, s *scope, aliases map[string]bool) {
	if e == nil {
		return
	}
	duckdbsql.Inspect(e, func(n duckdbsql.Node) bool {
		switch x := n.(type) {
		case *duckdbsql.SelectStmt:
			c.checkSelect(x, s)
			return false
		case *duckdbsql.ColumnRef:
			c.resolve(x, s, aliases)
		case *duckdbsql.StarExpr, *duckdbsql.ColumnsExpr:
			c.rejectColumn(CodeWildcard, "wildcard projection not permitted")
			return false
		case *duckdbsql.FuncCall:
			if c.doc.IsBlockedFunction(x.Name) {
				c.rejectTable(CodeBlockedFunction, "function not permitted: %s", strings.ToLower(x.Name))
			}
		}
		return true
	})
}

// checkWindow validates a named window definition from a WINDOW clause.
// Inline OVER specs are reached through checkExpr.
func (c *checker) checkWindow(w *duckdbsql.WindowSpec, s *scope, aliases map[string]bool) {
	if w == nil {
		return
	}
	c.checkExprs(w.PartitionBy, s, aliases)
	for _, o := range w.OrderBy {
		c.checkExpr(o.Expr, s, aliases)
	}
	if w.Frame != nil {
		c.checkExpr(w.Frame.Start.Offset, s, aliases)
		if w.Frame.End != nil {
			c.checkExpr(w.Frame.End.Offset, s, aliases)
		}
	}
}

// lookup finds the column a reference names without recording anything.
func (c *checker) lookup(ref *duckdbsql.ColumnRef, s *scope) (*column, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if ref.Table != "" {
			src, ok := sc.findSource(ref.Table)
			if !ok {
				continue
			}
			return src.find(ref.Column)
		}
		for _, src := range sc.sources {
			if col, ok := src.find(ref.Column); ok {
				return col, true
			}
		}
	}
	return nil, false
}

// resolve checks one column reference.
func (c *checker) resolve(ref *duckdbsql.ColumnRef, s *scope, aliases map[string]bool) {
	written := ref.Column
	if ref.Table != "" {
		written = ref.Table + "." + ref.Column
	}
	written = strings.ToLower(written)

	if ref.Table != "" {
		for sc := s; sc != nil; sc = sc.parent {
			src, ok := sc.findSource(ref.Table)
			if !ok {
				continue
			}
			if src.opaque {
				return
			}
			if ref.Schema != "" && !strings.EqualFold(ref.Schema, src.schema) &&
				!(src.schema == "" && strings.EqualFold(ref.Schema, c.doc.DefaultSchema())) {
				break
			}
			col, ok := src.find(ref.Column)
			if !ok {
				c.rejectColumn(CodeColumnNotAllowed, "column not allowed: %s", written)
				return
			}
			c.use(col)
			return
		}
		c.rejectColumn(CodeColumnNotAllowed, "column not allowed: %s", written)
		return
	}

	for sc, level := s, 0; sc != nil; sc, level = sc.parent, level+1 {
		var matches []*column
		for _, src := range sc.sources {
			if src.opaque {
				return
			}
			if col, ok := src.find(ref.Column); ok {
				matches = append(matches, col)
			}
		}
		switch {
		case len(matches) == 1:
			c.use(matches[0])
			return
		case len(matches) > 1:
			if !sc.using[strings.ToLower(ref.Column)] {
				c.rejectColumn(CodeAmbiguousColumn, "ambiguous column reference: %s", written)
				return
			}
			for _, m := range matches {
				c.use(m)
			}
			return
		}
		if level == 0 && aliases[strings.ToLower(ref.Column)] {
			return
		}
	}

	if niladic[strings.ToLower(ref.Column)] {
		return
	}
	c.rejectColumn(CodeColumnNotAllowed, "column not allowed: %s", written)
}
