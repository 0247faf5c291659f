// Package duckdbsql is a DuckDB SQL lexer and parser sized for query
// validation.
//
// SELECT statements are parsed into a typed AST with byte offsets for the
// clauses the validator rewrites (LIMIT, FETCH, OFFSET, statement end). Every
// other statement kind is classified from its leading keywords and not parsed
// further.
package duckdbsql

import (
	"fmt"
	"strings"
)

// TokenType represents the type of a lexical token.
type TokenType int

// TOKEN_EOF and friends enumerate all token types produced by the lexer.
const (
	TOKEN_EOF     TokenType = iota // end of input
	TOKEN_ILLEGAL                  // unexpected character

	TOKEN_IDENT  // identifier
	TOKEN_NUMBER // 123, 45.67, 1e10
	TOKEN_STRING // 'hello'
	TOKEN_PARAM  // ? or $1

	TOKEN_PLUS      // +
	TOKEN_MINUS     // -
	TOKEN_STAR      // *
	TOKEN_SLASH     // /
	TOKEN_DSLASH    // //
	TOKEN_MOD       // %
	TOKEN_DPIPE     // ||
	TOKEN_EQ        // =
	TOKEN_DBLEQ     // ==
	TOKEN_NE        // != or <>
	TOKEN_LT        // <
	TOKEN_GT        // >
	TOKEN_LE        // <=
	TOKEN_GE        // >=
	TOKEN_DOT       // .
	TOKEN_COMMA     // ,
	TOKEN_SEMICOLON // ;
	TOKEN_LPAREN    // (
	TOKEN_RPAREN    // )
	TOKEN_LBRACKET  // [
	TOKEN_RBRACKET  // ]
	TOKEN_COLON     // :
	TOKEN_DCOLON    // ::

	// TOKEN_ALL and below are SQL keywords (alphabetical).
	TOKEN_ALL
	TOKEN_ALTER
	TOKEN_AND
	TOKEN_ANTI
	TOKEN_AS
	TOKEN_ASC
	TOKEN_ASOF
	TOKEN_ATTACH
	TOKEN_BEGIN
	TOKEN_BETWEEN
	TOKEN_BY
	TOKEN_CALL
	TOKEN_CASE
	TOKEN_CAST
	TOKEN_CHECKPOINT
	TOKEN_COLUMNS
	TOKEN_COMMIT
	TOKEN_COPY
	TOKEN_CREATE
	TOKEN_CROSS
	TOKEN_CURRENT
	TOKEN_DELETE
	TOKEN_DESC
	TOKEN_DESCRIBE
	TOKEN_DETACH
	TOKEN_DISTINCT
	TOKEN_DROP
	TOKEN_ELSE
	TOKEN_END
	TOKEN_EXCEPT
	TOKEN_EXISTS
	TOKEN_EXPLAIN
	TOKEN_EXPORT
	TOKEN_EXTRACT
	TOKEN_FALSE
	TOKEN_FETCH
	TOKEN_FILTER
	TOKEN_FIRST
	TOKEN_FOLLOWING
	TOKEN_FROM
	TOKEN_FULL
	TOKEN_GLOB
	TOKEN_GRANT
	TOKEN_GROUP
	TOKEN_GROUPS
	TOKEN_HAVING
	TOKEN_ILIKE
	TOKEN_IMPORT
	TOKEN_IN
	TOKEN_INNER
	TOKEN_INSERT
	TOKEN_INSTALL
	TOKEN_INTERSECT
	TOKEN_INTERVAL
	TOKEN_INTO
	TOKEN_IS
	TOKEN_JOIN
	TOKEN_LAST
	TOKEN_LATERAL
	TOKEN_LEFT
	TOKEN_LIKE
	TOKEN_LIMIT
	TOKEN_LOAD
	TOKEN_NATURAL
	TOKEN_NEXT
	TOKEN_NOT
	TOKEN_NULL
	TOKEN_NULLS
	TOKEN_OFFSET
	TOKEN_ON
	TOKEN_ONLY
	TOKEN_OR
	TOKEN_ORDER
	TOKEN_OUTER
	TOKEN_OVER
	TOKEN_PARTITION
	TOKEN_PERCENT
	TOKEN_POSITIONAL
	TOKEN_PRAGMA
	TOKEN_PRECEDING
	TOKEN_QUALIFY
	TOKEN_RANGE
	TOKEN_RECURSIVE
	TOKEN_REPLACE
	TOKEN_RESET
	TOKEN_REVOKE
	TOKEN_RIGHT
	TOKEN_ROLLBACK
	TOKEN_ROW
	TOKEN_ROWS
	TOKEN_SELECT
	TOKEN_SEMI
	TOKEN_SET
	TOKEN_SHOW
	TOKEN_SIMILAR
	TOKEN_SUMMARIZE
	TOKEN_TABLE
	TOKEN_THEN
	TOKEN_TIES
	TOKEN_TRUE
	TOKEN_TRUNCATE
	TOKEN_TRY_CAST
	TOKEN_UNBOUNDED
	TOKEN_UNION
	TOKEN_UPDATE
	TOKEN_USE
	TOKEN_USING
	TOKEN_VACUUM
	TOKEN_VALUES
	TOKEN_WHEN
	TOKEN_WHERE
	TOKEN_WINDOW
	TOKEN_WITH

	tokenKeywordEnd
)

// String returns a human-readable representation of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	if t.IsKeyword() {
		return strings.ToUpper(keywordText[t-TOKEN_ALL])
	}
	return fmt.Sprintf("TOKEN(%d)", t)
}

// IsKeyword reports whether the token type is an SQL keyword.
func (t TokenType) IsKeyword() bool {
	return t >= TOKEN_ALL && t < tokenKeywordEnd
}

var tokenNames = map[TokenType]string{
	TOKEN_EOF:     "EOF",
	TOKEN_ILLEGAL: "ILLEGAL",
	TOKEN_IDENT:   "IDENT",
	TOKEN_NUMBER:  "NUMBER",
	TOKEN_STRING:  "STRING",
	TOKEN_PARAM:   "PARAM",

	TOKEN_PLUS:      "+",
	TOKEN_MINUS:     "-",
	TOKEN_STAR:      "*",
	TOKEN_SLASH:     "/",
	TOKEN_DSLASH:    "//",
	TOKEN_MOD:       "%",
	TOKEN_DPIPE:     "||",
	TOKEN_EQ:        "=",
	TOKEN_DBLEQ:     "==",
	TOKEN_NE:        "!=",
	TOKEN_LT:        "<",
	TOKEN_GT:        ">",
	TOKEN_LE:        "<=",
	TOKEN_GE:        ">=",
	TOKEN_DOT:       ".",
	TOKEN_COMMA:     ",",
	TOKEN_SEMICOLON: ";",
	TOKEN_LPAREN:    "(",
	TOKEN_RPAREN:    ")",
	TOKEN_LBRACKET:  "[",
	TOKEN_RBRACKET:  "]",
	TOKEN_COLON:     ":",
	TOKEN_DCOLON:    "::",
}

// keywordText lists keyword spellings in TokenType order from TOKEN_ALL.
var keywordText = [...]string{
	"all", "alter", "and", "anti", "as", "asc", "asof", "attach", "begin",
	"between", "by", "call", "case", "cast", "checkpoint", "columns",
	"commit", "copy", "create", "cross", "current", "delete", "desc",
	"describe", "detach", "distinct", "drop", "else", "end", "except",
	"exists", "explain", "export", "extract", "false", "fetch", "filter",
	"first", "following", "from", "full", "glob", "grant", "group", "groups",
	"having", "ilike", "import", "in", "inner", "insert", "install",
	"intersect", "interval", "into", "is", "join", "last", "lateral", "left",
	"like", "limit", "load", "natural", "next", "not", "null", "nulls",
	"offset", "on", "only", "or", "order", "outer", "over", "partition",
	"percent", "positional", "pragma", "preceding", "qualify", "range",
	"recursive", "replace", "reset", "revoke", "right", "rollback", "row",
	"rows", "select", "semi", "set", "show", "similar", "summarize", "table",
	"then", "ties", "true", "truncate", "try_cast", "unbounded", "union",
	"update", "use", "using", "vacuum", "values", "when", "where", "window",
	"with",
}

// keywords maps lowercase keyword text to its token type.
var keywords = func() map[string]TokenType {
	m := make(map[string]TokenType, len(keywordText))
	for i, kw := range keywordText {
		m[kw] = TOKEN_ALL + TokenType(i)
	}
	return m
}()

// lookupKeyword returns the token type for the given lowercase identifier.
// Returns TOKEN_IDENT if it's not a keyword.
func lookupKeyword(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return TOKEN_IDENT
}

// Token represents a lexical token with its literal value and byte span in
// the input. End is exclusive.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
	End     int
	Quoted  bool // double-quoted identifier
}

// Span is a half-open byte range [Start, End) of the parsed input.
type Span struct {
	Start int
	End   int
}

// Valid reports whether the span covers any input.
func (s Span) Valid() bool { return s.End > s.Start }

// Precedence constants for operator precedence parsing (Pratt parser).
const (
	PrecedenceNone       = 0
	PrecedenceOr         = 1
	PrecedenceAnd        = 2
	PrecedenceNot        = 3
	PrecedenceComparison = 4 // =, <>, <, >, <=, >=, LIKE, ILIKE, IN, BETWEEN, IS
	PrecedenceAddition   = 5 // +, -, ||
	PrecedenceMultiply   = 6 // *, /, %, //
	PrecedenceUnary      = 7 // -, + (prefix)
	PrecedencePostfix    = 8 // ::, []
)
