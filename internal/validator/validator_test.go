package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-gateway/internal/domain"
	"duck-gateway/internal/policy"
)

func testPolicy(t *testing.T, screenLiterals bool) *policy.Document {
	t.Helper()
	doc, err := policy.New(policy.Definition{
		Version:              1,
		AllowedStatements:    []string{"select"},
		MaxRows:              1000,
		ScreenStringLiterals: &screenLiterals,
		Tables: map[string][]string{
			"county_population": {"county_name", "state", "population", "year"},
			"states":            {"state", "region"},
		},
	})
	require.NoError(t, err)
	return doc
}

func TestValidate_Accepted(t *testing.T) {
	t.Parallel()
	doc := testPolicy(t, true)

	tests := []struct {
		name        string
		sql         string
		wantSQL     string
		wantTables  []string
		wantColumns []string
		wantLimit   int
	}{
		{
			name:        "limit_clamped",
			sql:         "SELECT county_name FROM county_population LIMIT 5000",
			wantSQL:     "SELECT county_name FROM county_population LIMIT 1000",
			wantTables:  []string{"county_population"},
			wantColumns: []string{"county_population.county_name"},
			wantLimit:   1000,
		},
		{
			name:        "limit_injected",
			sql:         "SELECT county_name, population FROM county_population WHERE state = 'OH' ORDER BY population DESC",
			wantSQL:     "SELECT county_name, population FROM county_population WHERE state = 'OH' ORDER BY population DESC LIMIT 1000",
			wantTables:  []string{"county_population"},
			wantColumns: []string{"county_population.county_name", "county_population.population", "county_population.state"},
			wantLimit:   1000,
		},
		{
			name:        "trailing_semicolon_removed",
			sql:         "  SELECT county_name FROM county_population ;  ",
			wantSQL:     "SELECT county_name FROM county_population LIMIT 1000",
			wantTables:  []string{"county_population"},
			wantColumns: []string{"county_population.county_name"},
			wantLimit:   1000,
		},
		{
			name:        "small_limit_kept",
			sql:         "SELECT county_name FROM county_population LIMIT 10",
			wantSQL:     "SELECT county_name FROM county_population LIMIT 10",
			wantTables:  []string{"county_population"},
			wantColumns: []string{"county_population.county_name"},
			wantLimit:   10,
		},
		{
			name:        "offset_without_limit",
			sql:         "SELECT county_name FROM county_population ORDER BY county_name OFFSET 20",
			wantSQL:     "SELECT county_name FROM county_population ORDER BY county_name LIMIT 1000 OFFSET 20",
			wantTables:  []string{"county_population"},
			wantColumns: []string{"county_population.county_name"},
			wantLimit:   1000,
		},
		{
			name:        "fetch_clamped",
			sql:         "SELECT county_name FROM county_population FETCH FIRST 5000 ROWS ONLY",
			wantSQL:     "SELECT county_name FROM county_population FETCH FIRST 1000 ROWS ONLY",
			wantTables:  []string{"county_population"},
			wantColumns: []string{"county_population.county_name"},
			wantLimit:   1000,
		},
		{
			name:        "fetch_single_row",
			sql:         "SELECT county_name FROM county_population FETCH FIRST ROW ONLY",
			wantSQL:     "SELECT county_name FROM county_population FETCH FIRST ROW ONLY",
			wantTables:  []string{"county_population"},
			wantColumns: []string{"county_population.county_name"},
			wantLimit:   1,
		},
		{
			name:        "case_insensitive_identifiers",
			sql:         "select COUNTY_NAME from County_Population",
			wantSQL:     "select COUNTY_NAME from County_Population LIMIT 1000",
			wantTables:  []string{"county_population"},
			wantColumns: []string{"county_population.county_name"},
			wantLimit:   1000,
		},
		{
			name:        "default_schema_qualified",
			sql:         "SELECT main.county_population.county_name FROM main.county_population",
			wantSQL:     "SELECT main.county_population.county_name FROM main.county_population LIMIT 1000",
			wantTables:  []string{"county_population"},
			wantColumns: []string{"county_population.county_name"},
			wantLimit:   1000,
		},
		{
			name:       "join_with_aliases",
			sql:        "SELECT c.county_name, s.region FROM county_population c JOIN states s ON c.state = s.state",
			wantSQL:    "SELECT c.county_name, s.region FROM county_population c JOIN states s ON c.state = s.state LIMIT 1000",
			wantTables: []string{"county_population", "states"},
			wantColumns: []string{
				"county_population.county_name", "county_population.state",
				"states.region", "states.state",
			},
			wantLimit: 1000,
		},
		{
			name:       "join_using",
			sql:        "SELECT state, region FROM county_population JOIN states USING (state)",
			wantSQL:    "SELECT state, region FROM county_population JOIN states USING (state) LIMIT 1000",
			wantTables: []string{"county_population", "states"},
			wantColumns: []string{
				"county_population.state", "states.region", "states.state",
			},
			wantLimit: 1000,
		},
		{
			name:        "cte",
			sql:         "WITH big AS (SELECT county_name, population FROM county_population WHERE population > 100000) SELECT county_name FROM big ORDER BY population",
			wantSQL:     "WITH big AS (SELECT county_name, population FROM county_population WHERE population > 100000) SELECT county_name FROM big ORDER BY population LIMIT 1000",
			wantTables:  []string{"county_population"},
			wantColumns: []string{"county_population.county_name", "county_population.population"},
			wantLimit:   1000,
		},
		{
			name:        "aggregate_with_alias",
			sql:         "SELECT state, sum(population) AS total FROM county_population GROUP BY state HAVING sum(population) > 10 ORDER BY total DESC",
			wantSQL:     "SELECT state, sum(population) AS total FROM county_population GROUP BY state HAVING sum(population) > 10 ORDER BY total DESC LIMIT 1000",
			wantTables:  []string{"county_population"},
			wantColumns: []string{"county_population.population", "county_population.state"},
			wantLimit:   1000,
		},
		{
			name:        "count_star",
			sql:         "SELECT count(*) AS n FROM county_population",
			wantSQL:     "SELECT count(*) AS n FROM county_population LIMIT 1000",
			wantTables:  []string{"county_population"},
			wantColumns: []string{},
			wantLimit:   1000,
		},
		{
			name:       "correlated_exists",
			sql:        "SELECT county_name FROM county_population c WHERE EXISTS (SELECT 1 FROM states s WHERE s.state = c.state AND s.region = 'West')",
			wantSQL:    "SELECT county_name FROM county_population c WHERE EXISTS (SELECT 1 FROM states s WHERE s.state = c.state AND s.region = 'West') LIMIT 1000",
			wantTables: []string{"county_population", "states"},
			wantColumns: []string{
				"county_population.county_name", "county_population.state",
				"states.region", "states.state",
			},
			wantLimit: 1000,
		},
		{
			name:        "derived_table",
			sql:         "SELECT d.n FROM (SELECT county_name AS n FROM county_population) d",
			wantSQL:     "SELECT d.n FROM (SELECT county_name AS n FROM county_population) d LIMIT 1000",
			wantTables:  []string{"county_population"},
			wantColumns: []string{"county_population.county_name"},
			wantLimit:   1000,
		},
		{
			name:        "window_function",
			sql:         "SELECT county_name, rank() OVER (PARTITION BY state ORDER BY population DESC) AS r FROM county_population QUALIFY r <= 3",
			wantSQL:     "SELECT county_name, rank() OVER (PARTITION BY state ORDER BY population DESC) AS r FROM county_population QUALIFY r <= 3 LIMIT 1000",
			wantTables:  []string{"county_population"},
			wantColumns: []string{"county_population.county_name", "county_population.population", "county_population.state"},
			wantLimit:   1000,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := Validate(tc.sql, doc, policy.Schema{})
			rej, isRejected := res.Rejection()
			require.False(t, isRejected, "rejected: %s (%s)", rej.Reason, rej.Code)

			assert.Equal(t, OutcomeAccepted, res.Outcome())
			assert.Equal(t, tc.wantSQL, res.Sanitized())
			assert.Equal(t, tc.wantTables, res.Tables())
			if len(tc.wantColumns) == 0 {
				assert.Empty(t, res.Columns())
			} else {
				assert.Equal(t, tc.wantColumns, res.Columns())
			}
			assert.Equal(t, tc.wantLimit, res.Limit())
		})
	}
}

func TestValidate_Rejected(t *testing.T) {
	t.Parallel()
	doc := testPolicy(t, true)

	tests := []struct {
		name       string
		sql        string
		wantCode   string
		wantReason string
	}{
		{"wildcard", "SELECT * FROM county_population", CodeWildcard, "wildcard projection not permitted"},
		{"multi_statement", "SELECT name FROM county_population; DROP TABLE county_population;", CodeForbiddenPattern, "multi-statement pattern detected"},
		{"line_comment", "SELECT county_name FROM county_population -- tail", CodeForbiddenPattern, "comment marker detected"},
		{"block_comment", "SELECT county_name /* x */ FROM county_population", CodeForbiddenPattern, "comment marker detected"},
		{"comment_in_literal_conservative", "SELECT county_name FROM county_population WHERE county_name = 'a--b'", CodeForbiddenPattern, "comment marker detected"},
		{"union_injection", "SELECT county_name FROM county_population UNION SELECT name FROM salaries", CodeForbiddenPattern, "set-operation injection detected"},
		{"malformed", "SELECT FROM WHERE", CodeMalformedSQL, "malformed SQL"},
		{"misspelled_keyword", "SELEKT county_name FROM county_population", CodeMalformedSQL, "malformed SQL"},
		{"cyrillic_lookalike", "SELECT county_nаme FROM county_population", CodeNonASCII, "non-ASCII character in identifier"},
		{"delete", "DELETE FROM county_population", CodeStatementKind, "statement kind not allowed: DELETE"},
		{"insert", "INSERT INTO county_population VALUES ('x', 'y', 1, 2020)", CodeStatementKind, "statement kind not allowed: INSERT"},
		{"update", "UPDATE county_population SET population = 0", CodeStatementKind, "statement kind not allowed: UPDATE"},
		{"drop", "DROP TABLE county_population", CodeStatementKind, "statement kind not allowed: DDL"},
		{"attach", "ATTACH 'other.db' AS other", CodeStatementKind, "statement kind not allowed: OTHER"},
		{"unlisted_table", "SELECT name FROM salaries", CodeTableNotAllowed, "table not allowed: salaries"},
		{"catalog_qualified", "SELECT county_name FROM other.main.county_population", CodeTableNotAllowed, "table not allowed: other.main.county_population"},
		{"other_schema", "SELECT county_name FROM census.county_population", CodeTableNotAllowed, "table not allowed: census.county_population"},
		{
			"nested_three_levels",
			"SELECT county_name FROM county_population WHERE state IN (SELECT state FROM states WHERE region IN (SELECT region FROM (SELECT region FROM salaries) x))",
			CodeTableNotAllowed, "table not allowed: salaries",
		},
		{"inside_cte", "WITH x AS (SELECT salary FROM salaries) SELECT county_name FROM county_population", CodeTableNotAllowed, "table not allowed: salaries"},
		{"scalar_subquery", "SELECT (SELECT max(salary) FROM salaries) AS m FROM county_population", CodeTableNotAllowed, "table not allowed: salaries"},
		{"join_target", "SELECT c.county_name FROM county_population c JOIN salaries s ON s.id = c.county_name", CodeTableNotAllowed, "table not allowed: salaries"},
		{"table_ranks_over_column", "SELECT ssn FROM county_population WHERE state IN (SELECT x FROM salaries)", CodeTableNotAllowed, "table not allowed: salaries"},
		{"table_function", "SELECT county_name FROM read_csv('/etc/passwd')", CodeTableFunction, "table function not permitted: read_csv"},
		{"file_scan", "SELECT county_name FROM 'data.parquet'", CodeTableFunction, "table function not permitted: file scan"},
		{"blocked_scalar_function", "SELECT getenv('HOME') AS h FROM county_population", CodeBlockedFunction, "function not permitted: getenv"},
		{"session_variable", "SELECT getvariable('x') AS v FROM county_population", CodeBlockedFunction, "function not permitted: getvariable"},
		{"current_database", "SELECT current_database() AS d FROM county_population", CodeBlockedFunction, "function not permitted: current_database"},
		{"engine_version", "SELECT county_name FROM county_population WHERE county_name = version()", CodeBlockedFunction, "function not permitted: version"},
		{"trailing_token", "SELECT county_name FROM county_population LIMIT 0x10", CodeMalformedSQL, "malformed SQL: unexpected token"},
		{"blocked_in_where", "SELECT county_name FROM county_population WHERE county_name IN (SELECT current_setting('x'))", CodeBlockedFunction, "function not permitted: current_setting"},
		{"column_not_listed", "SELECT ssn FROM county_population", CodeColumnNotAllowed, "column not allowed: ssn"},
		{"qualified_column_not_listed", "SELECT c.ssn FROM county_population c", CodeColumnNotAllowed, "column not allowed: c.ssn"},
		{"column_in_where", "SELECT county_name FROM county_population WHERE ssn = '1'", CodeColumnNotAllowed, "column not allowed: ssn"},
		{"column_in_order_by", "SELECT county_name FROM county_population ORDER BY income", CodeColumnNotAllowed, "column not allowed: income"},
		{"unknown_qualifier", "SELECT x.county_name FROM county_population c", CodeColumnNotAllowed, "column not allowed: x.county_name"},
		{"ambiguous", "SELECT state FROM county_population JOIN states ON county_population.state = states.state", CodeAmbiguousColumn, "ambiguous column reference: state"},
		{"table_star", "SELECT c.* FROM county_population c", CodeWildcard, "wildcard projection not permitted"},
		{"columns_expr", "SELECT COLUMNS('.*') FROM county_population", CodeWildcard, "wildcard projection not permitted"},
		{"star_in_subquery", "SELECT county_name FROM county_population WHERE EXISTS (SELECT * FROM states)", CodeWildcard, "wildcard projection not permitted"},
		{"natural_join", "SELECT county_name FROM county_population NATURAL JOIN states", CodeColumnNotAllowed, "NATURAL join not permitted"},
		{"limit_subquery", "SELECT county_name FROM county_population LIMIT (SELECT 5)", CodeRowLimit, "row limit must be a literal integer"},
		{"limit_negative", "SELECT county_name FROM county_population LIMIT -1", CodeRowLimit, "row limit must be a literal integer"},
		{"limit_decimal", "SELECT county_name FROM county_population LIMIT 10.5", CodeRowLimit, "row limit must be a literal integer"},
		{"limit_param", "SELECT county_name FROM county_population LIMIT ?", CodeRowLimit, "row limit must be a literal integer"},
		{"limit_percent", "SELECT county_name FROM county_population LIMIT 10 PERCENT", CodeRowLimit, "percentage row limit not permitted"},
		{"fetch_with_ties", "SELECT county_name FROM county_population ORDER BY county_name FETCH FIRST 5 ROWS WITH TIES", CodeRowLimit, "FETCH WITH TIES not permitted"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := Validate(tc.sql, doc, policy.Schema{})
			rej, isRejected := res.Rejection()
			require.True(t, isRejected, "accepted as %q", res.Sanitized())

			assert.Equal(t, OutcomeRejected, res.Outcome())
			assert.Equal(t, tc.wantCode, rej.Code)
			assert.True(t, strings.HasPrefix(rej.Reason, tc.wantReason), "reason %q", rej.Reason)

			// A rejected result exposes nothing that could be executed.
			assert.Empty(t, res.Sanitized())
			assert.Nil(t, res.Tables())
			assert.Nil(t, res.Columns())
			assert.Zero(t, res.Limit())
		})
	}
}

func TestValidate_ForbiddenPatternsInsideLiterals(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"SELECT county_name FROM county_population WHERE county_name = 'x -- y'",
		"SELECT county_name FROM county_population WHERE county_name = '/* y */'",
		"SELECT county_name FROM county_population WHERE county_name = 'a; DROP TABLE t'",
		"SELECT county_name FROM county_population WHERE county_name = 'union'",
	}

	conservative := testPolicy(t, true)
	literalAware := testPolicy(t, false)
	for _, sql := range inputs {
		res := Validate(sql, conservative, policy.Schema{})
		rej, isRejected := res.Rejection()
		require.True(t, isRejected, sql)
		assert.Equal(t, CodeForbiddenPattern, rej.Code, sql)

		res = Validate(sql, literalAware, policy.Schema{})
		assert.True(t, res.Accepted(), "literal-aware screen should accept %q", sql)
	}
}

func TestValidate_LimitIdempotent(t *testing.T) {
	t.Parallel()
	doc := testPolicy(t, true)

	inputs := []string{
		"SELECT county_name FROM county_population",
		"SELECT county_name FROM county_population LIMIT 5000",
		"SELECT county_name FROM county_population LIMIT 7;",
		"SELECT county_name FROM county_population OFFSET 3",
		"SELECT county_name FROM county_population FETCH NEXT 99999 ROWS ONLY",
		"SELECT county_name FROM county_population WHERE state IN (SELECT state FROM states LIMIT 100000)",
	}
	for _, sql := range inputs {
		first := Validate(sql, doc, policy.Schema{})
		require.True(t, first.Accepted(), sql)

		second := Validate(first.Sanitized(), doc, policy.Schema{})
		require.True(t, second.Accepted(), first.Sanitized())
		assert.Equal(t, first.Sanitized(), second.Sanitized())
		assert.Equal(t, first.Limit(), second.Limit())
		assert.LessOrEqual(t, first.Limit(), doc.MaxRows())
	}
}

func TestValidate_InnerLimitUntouched(t *testing.T) {
	t.Parallel()
	doc := testPolicy(t, true)

	res := Validate("SELECT county_name FROM county_population WHERE state IN (SELECT state FROM states LIMIT 100000)", doc, policy.Schema{})
	require.True(t, res.Accepted())
	assert.Equal(t, "SELECT county_name FROM county_population WHERE state IN (SELECT state FROM states LIMIT 100000) LIMIT 1000", res.Sanitized())
}

func TestValidate_WithSchema(t *testing.T) {
	t.Parallel()
	doc := testPolicy(t, true)
	schema := policy.NewSchema(map[string][]string{
		"county_population": {"county_name", "state", "population", "ssn"},
	})

	tests := []struct {
		name     string
		sql      string
		wantCode string
	}{
		{"allowed_and_present", "SELECT county_name FROM county_population", ""},
		{"present_but_not_allowed", "SELECT ssn FROM county_population", CodeColumnNotAllowed},
		{"allowed_but_absent", "SELECT year FROM county_population", CodeColumnNotAllowed},
		{"allowed_table_absent", "SELECT region FROM states", CodeTableNotAllowed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := Validate(tc.sql, doc, schema)
			rej, isRejected := res.Rejection()
			if tc.wantCode == "" {
				assert.False(t, isRejected, rej.Reason)
				return
			}
			require.True(t, isRejected)
			assert.Equal(t, tc.wantCode, rej.Code)
		})
	}
}

func TestValidate_NilPolicy(t *testing.T) {
	t.Parallel()
	res := Validate("SELECT 1", nil, policy.Schema{})
	rej, isRejected := res.Rejection()
	require.True(t, isRejected)
	assert.Equal(t, CodeInternal, rej.Code)
}

func TestValidator_Bound(t *testing.T) {
	t.Parallel()
	doc := testPolicy(t, true)
	v := New(doc, policy.Schema{})

	assert.Same(t, doc, v.Policy())
	res := v.Validate("SELECT county_name FROM county_population LIMIT 5000")
	require.True(t, res.Accepted())
	assert.Equal(t, "SELECT county_name FROM county_population LIMIT 1000", res.Sanitized())
}

func TestRejection_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code      string
		wantClass domain.ErrorClass
	}{
		{CodeMalformedSQL, domain.ErrorClassMalformedInput},
		{CodeNonASCII, domain.ErrorClassMalformedInput},
		{CodeWildcard, domain.ErrorClassPolicyViolation},
		{CodeTableNotAllowed, domain.ErrorClassPolicyViolation},
		{CodeInternal, domain.ErrorClassInternal},
	}
	for _, tc := range tests {
		err := Rejection{Code: tc.code, Reason: "r"}.Error()
		var pv *domain.PolicyViolationError
		require.ErrorAs(t, err, &pv)
		assert.Equal(t, tc.wantClass, pv.Class, tc.code)
		assert.Equal(t, tc.code, pv.Code)
		assert.Equal(t, "r", pv.Error())
	}
}

func TestZeroResultIsRejected(t *testing.T) {
	t.Parallel()
	var res Result
	assert.False(t, res.Accepted())
	assert.Empty(t, res.Sanitized())
	_, isRejected := res.Rejection()
	assert.True(t, isRejected)
}
