package duckdbsql

// === Table Reference Nodes ===

// TableName represents a table name reference (up to 3-part: catalog.schema.name).
type TableName struct {
	Catalog       string
	Schema        string
	Name          string
	Alias         string
	ColumnAliases []string
}

func (*TableName) node()         {}
func (*TableName) tableRefNode() {}

// Qualifier returns the name columns are qualified with: the alias when
// present, otherwise the bare table name.
func (t *TableName) Qualifier() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Name
}

// DerivedTable represents a subquery in FROM clause, optionally LATERAL.
type DerivedTable struct {
	Select        *SelectStmt
	Lateral       bool
	Alias         string
	ColumnAliases []string
}

func (*DerivedTable) node()         {}
func (*DerivedTable) tableRefNode() {}

// FuncTable represents a table-valued function in FROM (e.g., read_parquet()).
type FuncTable struct {
	Func  *FuncCall
	Alias string
}

func (*FuncTable) node()         {}
func (*FuncTable) tableRefNode() {}

// StringTable represents a quoted file path used directly as a FROM source
// (FROM 'data.csv'). DuckDB reads the file through a replacement scan.
type StringTable struct {
	Path  string
	Alias string
}

func (*StringTable) node()         {}
func (*StringTable) tableRefNode() {}
