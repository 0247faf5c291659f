package duckdbsql

import (
	"fmt"
	"strings"
)

// ParseError reports malformed SQL at a byte offset.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Pos, e.Msg)
}

// NonASCIIError reports a non-ASCII character outside a string literal.
type NonASCIIError struct {
	Pos int
}

func (e *NonASCIIError) Error() string {
	return fmt.Sprintf("non-ASCII character at offset %d", e.Pos)
}

// Parser parses DuckDB SQL into an AST.
type Parser struct {
	lexer   *Lexer
	input   string
	token   Token // current token
	peek    Token // lookahead token
	peek2   Token // second lookahead token
	prevEnd int   // end offset of the last consumed token
	depth   int
	errors  []error
}

// NewParser creates a new parser for the given SQL input.
func NewParser(sql string) *Parser {
	p := &Parser{
		lexer: NewLexer(sql),
		input: sql,
	}
	// Initialize three-token lookahead
	p.nextToken()
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses exactly one statement. A single trailing semicolon is
// accepted; anything after it is rejected.
func Parse(sql string) (Stmt, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, &ParseError{Msg: "empty SQL"}
	}
	if pos := FirstNonASCII(sql); pos >= 0 {
		return nil, &NonASCIIError{Pos: pos}
	}

	p := NewParser(sql)
	stmt := p.parseTopLevel()
	if len(p.errors) > 0 {
		return nil, p.errors[0]
	}

	if p.match(TOKEN_SEMICOLON) {
		if p.token.Type != TOKEN_EOF {
			return nil, &ParseError{Pos: p.token.Pos, Msg: "multi-statement queries are not allowed"}
		}
		return stmt, nil
	}
	if p.token.Type != TOKEN_EOF {
		return nil, &ParseError{Pos: p.token.Pos, Msg: fmt.Sprintf("unexpected token %q after statement", p.token.Literal)}
	}
	return stmt, nil
}

// ParseExpr parses a standalone expression from SQL text.
func ParseExpr(sql string) (Expr, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, &ParseError{Msg: "empty expression"}
	}
	if pos := FirstNonASCII(sql); pos >= 0 {
		return nil, &NonASCIIError{Pos: pos}
	}

	p := NewParser(sql)
	expr := p.parseExpression()
	if len(p.errors) > 0 {
		return nil, p.errors[0]
	}
	if p.token.Type != TOKEN_EOF {
		return nil, &ParseError{Pos: p.token.Pos, Msg: fmt.Sprintf("unexpected token after expression: %s", p.token.Literal)}
	}
	return expr, nil
}

// FirstNonASCII tokenizes sql and returns the offset of the first non-ASCII
// character outside a single-quoted string literal, or -1.
func FirstNonASCII(sql string) int {
	l := NewLexer(sql)
	for {
		if l.NextToken().Type == TOKEN_EOF {
			return l.NonASCII()
		}
	}
}

// parseTopLevel dispatches on the first token. Only SELECT is parsed in
// depth; everything else is classified.
func (p *Parser) parseTopLevel() Stmt {
	switch p.token.Type {
	case TOKEN_SELECT, TOKEN_WITH:
		start := p.token.Pos
		stmt := p.parseSelectStatement()
		stmt.Span = Span{Start: start, End: p.prevEnd}
		return stmt
	case TOKEN_INSERT:
		return p.parseOther(StmtTypeInsert)
	case TOKEN_UPDATE:
		return p.parseOther(StmtTypeUpdate)
	case TOKEN_DELETE:
		return p.parseOther(StmtTypeDelete)
	case TOKEN_CREATE, TOKEN_DROP, TOKEN_ALTER, TOKEN_TRUNCATE:
		return p.parseOther(StmtTypeDDL)
	case TOKEN_BEGIN, TOKEN_COMMIT, TOKEN_ROLLBACK:
		return p.parseOther(StmtTypeTransaction)
	case TOKEN_CALL, TOKEN_COPY, TOKEN_EXPORT, TOKEN_IMPORT, TOKEN_PRAGMA,
		TOKEN_SET, TOKEN_RESET, TOKEN_INSTALL, TOKEN_LOAD, TOKEN_ATTACH,
		TOKEN_DETACH, TOKEN_USE, TOKEN_DESCRIBE, TOKEN_SHOW, TOKEN_SUMMARIZE,
		TOKEN_EXPLAIN, TOKEN_CHECKPOINT, TOKEN_VACUUM, TOKEN_GRANT, TOKEN_REVOKE,
		TOKEN_FROM, TOKEN_VALUES, TOKEN_TABLE, TOKEN_LPAREN:
		return p.parseOther(StmtTypeOther)
	default:
		p.addError(fmt.Sprintf("unexpected token at start of statement: %s", p.token.Type))
		return nil
	}
}

// parseOther records the leading keyword and skips to the end of the
// statement.
func (p *Parser) parseOther(kind StmtType) Stmt {
	stmt := &OtherStmt{Type: kind, Keyword: strings.ToUpper(p.token.Literal)}
	for p.token.Type != TOKEN_EOF && p.token.Type != TOKEN_SEMICOLON {
		p.nextToken()
	}
	return stmt
}

// === Token Helpers ===

func (p *Parser) nextToken() {
	p.prevEnd = p.token.End
	p.token = p.peek
	p.peek = p.peek2
	p.peek2 = p.lexer.NextToken()
}

func (p *Parser) check(t TokenType) bool {
	return p.token.Type == t
}

func (p *Parser) checkPeek(t TokenType) bool {
	return p.peek.Type == t
}

func (p *Parser) checkPeek2(t TokenType) bool {
	return p.peek2.Type == t
}

// match consumes the current token if it matches and returns true.
func (p *Parser) match(t TokenType) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	return false
}

// matchSoftKeyword consumes the current token if it's an identifier matching
// the given soft keyword (case-insensitive).
func (p *Parser) matchSoftKeyword(keyword string) bool {
	if p.check(TOKEN_IDENT) && !p.token.Quoted && strings.EqualFold(p.token.Literal, keyword) {
		p.nextToken()
		return true
	}
	return false
}

// expect consumes the current token if it matches, otherwise adds an error.
func (p *Parser) expect(t TokenType) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	p.addError(fmt.Sprintf("unexpected token %s, expected %s", p.token.Type, t))
	return false
}

func (p *Parser) addError(msg string) {
	p.errors = append(p.errors, &ParseError{Pos: p.token.Pos, Msg: msg})
}

func (p *Parser) failed() bool { return len(p.errors) > 0 }

// === Keyword Classification ===

// isNameToken reports whether the current token can serve as an identifier:
// a plain identifier or a non-reserved keyword.
func (p *Parser) isNameToken(tok Token) bool {
	return tok.Type == TOKEN_IDENT || isUnreserved(tok.Type)
}

// isUnreserved lists keywords DuckDB accepts as column or table names.
func isUnreserved(t TokenType) bool {
	switch t {
	case TOKEN_FIRST, TOKEN_LAST, TOKEN_NEXT, TOKEN_ROW, TOKEN_ROWS, TOKEN_ONLY,
		TOKEN_TIES, TOKEN_NULLS, TOKEN_PERCENT, TOKEN_PRECEDING, TOKEN_FOLLOWING,
		TOKEN_UNBOUNDED, TOKEN_CURRENT, TOKEN_RANGE, TOKEN_GROUPS, TOKEN_RECURSIVE,
		TOKEN_FILTER, TOKEN_OVER, TOKEN_PARTITION, TOKEN_REPLACE, TOKEN_FULL,
		TOKEN_TABLE, TOKEN_GLOB, TOKEN_INSTALL, TOKEN_LOAD, TOKEN_RESET, TOKEN_SHOW,
		TOKEN_SUMMARIZE, TOKEN_VACUUM, TOKEN_IMPORT, TOKEN_EXPORT, TOKEN_ATTACH,
		TOKEN_DETACH, TOKEN_USE, TOKEN_CALL, TOKEN_PRAGMA, TOKEN_CHECKPOINT,
		TOKEN_EXPLAIN, TOKEN_DESCRIBE, TOKEN_BEGIN, TOKEN_COMMIT, TOKEN_ROLLBACK,
		TOKEN_GRANT, TOKEN_REVOKE, TOKEN_SET, TOKEN_INSERT, TOKEN_UPDATE, TOKEN_DELETE,
		TOKEN_COPY, TOKEN_TRUNCATE, TOKEN_SEMI, TOKEN_ANTI, TOKEN_ASOF, TOKEN_POSITIONAL:
		return true
	}
	return false
}

// isAliasable reports whether tok may be taken as an implicit alias (without
// AS). Keywords that can follow a select item or a table never are.
func (p *Parser) isAliasable(tok Token) bool {
	return tok.Type == TOKEN_IDENT
}
