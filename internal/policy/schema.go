package policy

import (
	"sort"
	"strings"
)

// Schema describes the tables and columns that actually exist in the
// engine. Keys use the same canonical form as Document.TableKey. The zero
// Schema is unknown: validation then relies on the policy alone.
type Schema struct {
	tables map[string]map[string]bool
}

// NewSchema builds a Schema from table → column names. Names are lowercased.
func NewSchema(tables map[string][]string) Schema {
	s := Schema{tables: make(map[string]map[string]bool, len(tables))}
	for t, cols := range tables {
		set := make(map[string]bool, len(cols))
		for _, c := range cols {
			set[strings.ToLower(c)] = true
		}
		s.tables[strings.ToLower(t)] = set
	}
	return s
}

// Known reports whether the schema carries any description at all.
func (s Schema) Known() bool { return s.tables != nil }

// HasTable reports whether table exists.
func (s Schema) HasTable(table string) bool {
	_, ok := s.tables[strings.ToLower(table)]
	return ok
}

// HasColumn reports whether table has column.
func (s Schema) HasColumn(table, column string) bool {
	return s.tables[strings.ToLower(table)][strings.ToLower(column)]
}

// Columns returns the sorted columns of table, or nil.
func (s Schema) Columns(table string) []string {
	set, ok := s.tables[strings.ToLower(table)]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Tables returns the sorted table names.
func (s Schema) Tables() []string {
	out := make([]string, 0, len(s.tables))
	for t := range s.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
