package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePolicy = `
version: 1
allowed_statements: [select]
max_rows: 1000
tables:
  county_population: [county_name, State, population, year]
  census.households: [county_name, households]
forbidden_patterns:
  - name: pg_sleep
    pattern: '(?i)pg_sleep'
    reason: "sleep function detected"
blocked_functions: [Sleep_Ms]
`

func TestParse_Sample(t *testing.T) {
	doc, err := Parse([]byte(samplePolicy))
	require.NoError(t, err)

	assert.Equal(t, 1, doc.Version())
	assert.Equal(t, "main", doc.DefaultSchema())
	assert.Equal(t, 1000, doc.MaxRows())
	assert.True(t, doc.ScreenStringLiterals(), "literal screening defaults on")
	assert.Equal(t, []string{"census.households", "county_population"}, doc.Tables())
	assert.Equal(t, []string{"county_name", "population", "state", "year"}, doc.TableColumns("county_population"))

	assert.True(t, doc.AllowsTable("County_Population"))
	assert.True(t, doc.AllowsColumn("county_population", "STATE"))
	assert.False(t, doc.AllowsColumn("county_population", "ssn"))
	assert.False(t, doc.AllowsTable("households"), "non-default schema stays qualified")

	require.Len(t, doc.Patterns(), len(defaultPatterns)+1)
	assert.Equal(t, "pg_sleep", doc.Patterns()[len(defaultPatterns)].Name())

	assert.True(t, doc.IsBlockedFunction("sleep_ms"))
	assert.True(t, doc.IsBlockedFunction("READ_CSV"))
	assert.False(t, doc.IsBlockedFunction("upper"))
}

func TestNew_DefaultSchemaIsStripped(t *testing.T) {
	doc, err := New(Definition{
		Version:           1,
		AllowedStatements: []string{"SELECT"},
		MaxRows:           10,
		Tables:            map[string][]string{"main.t": {"a"}},
	})
	require.NoError(t, err)

	assert.True(t, doc.AllowsTable("t"))
	assert.Equal(t, "t", doc.TableKey("MAIN", "T"))
	assert.Equal(t, "other.t", doc.TableKey("other", "t"))
}

func TestNew_Errors(t *testing.T) {
	base := func() Definition {
		return Definition{
			Version:           1,
			AllowedStatements: []string{"select"},
			MaxRows:           100,
			Tables:            map[string][]string{"t": {"a"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Definition)
		wantErr string
	}{
		{"bad_version", func(d *Definition) { d.Version = 2 }, "unsupported version"},
		{"insert_allowed", func(d *Definition) { d.AllowedStatements = []string{"select", "insert"} }, "allowed_statements"},
		{"no_statements", func(d *Definition) { d.AllowedStatements = nil }, "allowed_statements"},
		{"zero_rows", func(d *Definition) { d.MaxRows = 0 }, "max_rows"},
		{"no_tables", func(d *Definition) { d.Tables = nil }, "at least one table"},
		{"empty_columns", func(d *Definition) { d.Tables = map[string][]string{"t": {}} }, "at least one column"},
		{"wildcard_column", func(d *Definition) { d.Tables = map[string][]string{"t": {"*"}} }, "invalid column"},
		{"catalog_qualified", func(d *Definition) { d.Tables = map[string][]string{"db.main.t": {"a"}} }, "table name must be"},
		{"duplicate_after_normalize", func(d *Definition) {
			d.Tables = map[string][]string{"t": {"a"}, "main.T": {"b"}}
		}, "duplicate table"},
		{"bad_regex", func(d *Definition) {
			d.ForbiddenPatterns = []PatternSpec{{Name: "x", Pattern: "(", Reason: "r"}}
		}, "invalid pattern"},
		{"pattern_without_reason", func(d *Definition) {
			d.ForbiddenPatterns = []PatternSpec{{Name: "x", Pattern: "x"}}
		}, "reason is required"},
		{"shadow_default_pattern", func(d *Definition) {
			d.ForbiddenPatterns = []PatternSpec{{Name: "comment_marker", Pattern: "x", Reason: "r"}}
		}, "duplicate pattern name"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			def := base()
			tc.mutate(&def)
			_, err := New(def)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("version: 1\nallowed_statements: [select]\nmax_rows: 5\ntables: {t: [a]}\nallow_writes: true\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow_writes")
}

func TestParse_ScreenStringLiteralsOff(t *testing.T) {
	doc, err := Parse([]byte("version: 1\nallowed_statements: [select]\nmax_rows: 5\nscreen_string_literals: false\ntables: {t: [a]}\n"))
	require.NoError(t, err)
	assert.False(t, doc.ScreenStringLiterals())
}

func TestDocument_AccessorsReturnCopies(t *testing.T) {
	doc, err := Parse([]byte(samplePolicy))
	require.NoError(t, err)

	cols := doc.TableColumns("county_population")
	cols[0] = "ssn"
	assert.False(t, doc.AllowsColumn("county_population", "ssn"))
	assert.Equal(t, "county_name", doc.TableColumns("county_population")[0])

	pats := doc.Patterns()
	pats[0] = Pattern{}
	assert.Equal(t, "comment_marker", doc.Patterns()[0].Name())

	def := doc.Definition()
	def.Tables["county_population"] = append(def.Tables["county_population"], "ssn")
	def.MaxRows = 1
	assert.NotContains(t, doc.Definition().Tables["county_population"], "ssn")
	assert.Equal(t, 1000, doc.MaxRows())
}

func TestLoad_RoundTripThroughFile(t *testing.T) {
	doc, err := Parse([]byte(samplePolicy))
	require.NoError(t, err)

	data, err := doc.Definition().Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, doc.Tables(), loaded.Tables())
	assert.Equal(t, doc.MaxRows(), loaded.MaxRows())
	assert.Equal(t, doc.BlockedFunctions(), loaded.BlockedFunctions())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefaultPatterns(t *testing.T) {
	doc, err := Parse([]byte(samplePolicy))
	require.NoError(t, err)

	byName := make(map[string]Pattern)
	for _, p := range doc.Patterns() {
		byName[p.Name()] = p
	}

	tests := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"comment_marker", "SELECT 1 -- hi", true},
		{"comment_marker", "SELECT /* x */ 1", true},
		{"comment_marker", "SELECT 1 - 1", false},
		{"statement_separator", "SELECT 1; DROP TABLE t", true},
		{"statement_separator", "SELECT 1;", false},
		{"statement_separator", "SELECT 1;   ", false},
		{"set_operation", "select a from t union select b from u", true},
		{"set_operation", "SELECT reunion FROM t", false},
	}
	for _, tc := range tests {
		p, ok := byName[tc.pattern]
		require.True(t, ok, tc.pattern)
		assert.Equal(t, tc.want, p.MatchString(tc.input), "%s on %q", tc.pattern, tc.input)
	}
}

func TestSchema(t *testing.T) {
	var unknown Schema
	assert.False(t, unknown.Known())
	assert.False(t, unknown.HasTable("t"))

	s := NewSchema(map[string][]string{"County_Population": {"County_Name", "year"}})
	assert.True(t, s.Known())
	assert.True(t, s.HasTable("county_population"))
	assert.True(t, s.HasColumn("COUNTY_POPULATION", "county_name"))
	assert.False(t, s.HasColumn("county_population", "ssn"))
	assert.Equal(t, []string{"county_name", "year"}, s.Columns("county_population"))
	assert.Equal(t, []string{"county_population"}, s.Tables())
}
