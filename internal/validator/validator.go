// Package validator decides whether a candidate SQL statement may run.
//
// Validation is a pure function of the statement text, the policy document
// and the engine schema. Steps run in a fixed order and the first failure
// decides the rejection:
//
//  1. lexical screen against the forbidden patterns
//  2. parse (non-ASCII outside string literals is refused here)
//  3. statement kind must be SELECT
//  4. tables and functions against the allowlist and blocklist
//  5. columns against the allowlist; wildcards are refused
//  6. row limit injection on the outermost query
package validator

import (
	"errors"
	"fmt"

	"duck-gateway/internal/duckdbsql"
	"duck-gateway/internal/policy"
)

// Validator binds a policy and schema for repeated use. It holds no
// mutable state and is safe for concurrent use.
type Validator struct {
	doc    *policy.Document
	schema policy.Schema
}

// New returns a Validator for doc. A zero schema means the engine layout
// is unknown and column visibility comes from the policy alone.
func New(doc *policy.Document, schema policy.Schema) *Validator {
	return &Validator{doc: doc, schema: schema}
}

// Policy returns the document the validator enforces.
func (v *Validator) Policy() *policy.Document { return v.doc }

// Validate checks one statement.
func (v *Validator) Validate(sql string) Result {
	return Validate(sql, v.doc, v.schema)
}

// Validate checks candidate SQL against doc and schema.
func Validate(sql string, doc *policy.Document, schema policy.Schema) (res Result) {
	if doc == nil {
		return rejected(CodeInternal, "no policy loaded")
	}
	defer func() {
		if r := recover(); r != nil {
			res = rejected(CodeInternal, "validator failure")
		}
	}()

	// 1. Lexical screen.
	if p, hit := screen(sql, doc.Patterns(), doc.ScreenStringLiterals()); hit {
		return rejected(CodeForbiddenPattern, p.Reason())
	}

	// 2. Parse.
	stmt, err := duckdbsql.Parse(sql)
	if err != nil {
		var nonASCII *duckdbsql.NonASCIIError
		if errors.As(err, &nonASCII) {
			return rejected(CodeNonASCII, "non-ASCII character in identifier")
		}
		var pe *duckdbsql.ParseError
		if errors.As(err, &pe) {
			return rejected(CodeMalformedSQL, "malformed SQL: "+pe.Msg)
		}
		return rejected(CodeMalformedSQL, "malformed SQL: "+err.Error())
	}

	// 3. Statement kind.
	sel, ok := stmt.(*duckdbsql.SelectStmt)
	if !ok || duckdbsql.Classify(stmt) != duckdbsql.StmtTypeSelect {
		return rejected(CodeStatementKind, fmt.Sprintf("statement kind not allowed: %s", duckdbsql.Classify(stmt)))
	}
	if duckdbsql.HasSetOperation(sel) {
		return rejected(CodeSetOperation, "set-operation injection detected")
	}

	// 4 and 5. Tables, functions and columns.
	c := newChecker(doc, schema)
	c.checkSelect(sel, nil)
	if rej, bad := c.rejection(); bad {
		return rejected(rej.Code, rej.Reason)
	}

	// 6. Row limit.
	sanitized, limit, rej := applyRowLimit(sql, sel, doc.MaxRows())
	if rej != nil {
		return rejected(rej.Code, rej.Reason)
	}

	return accepted(sanitized, c.sortedTables(), c.sortedColumns(), limit)
}
