package duckdbsql

import (
	"fmt"
	"strings"
)

// FROM clause parsing: table references, derived tables, function tables,
// file-path sources and JOINs (including DuckDB-specific join types).

func (p *Parser) parseFromClause() *FromClause {
	from := &FromClause{Source: p.parseTableRef()}
	for !p.failed() {
		join := p.parseJoin()
		if join == nil {
			break
		}
		from.Joins = append(from.Joins, join)
	}
	return from
}

func (p *Parser) parseTableRef() TableRef {
	switch {
	case p.match(TOKEN_LATERAL):
		dt := p.parseDerivedTable()
		if dt != nil {
			dt.Lateral = true
		}
		return dt
	case p.check(TOKEN_LPAREN):
		return p.parseDerivedTable()
	case p.check(TOKEN_STRING):
		st := &StringTable{Path: p.token.Literal}
		p.nextToken()
		st.Alias, _ = p.parseTableAlias()
		return st
	default:
		return p.parseTableNameOrFunc()
	}
}

// parseTableNameOrFunc parses a possibly qualified table name or a
// table-valued function call.
func (p *Parser) parseTableNameOrFunc() TableRef {
	if !p.isNameToken(p.token) {
		p.addError(fmt.Sprintf("expected table name, got %s", p.token.Type))
		return nil
	}

	parts := []string{p.token.Literal}
	p.nextToken()
	for p.match(TOKEN_DOT) {
		if !p.isNameToken(p.token) {
			p.addError(fmt.Sprintf("expected identifier after '.', got %s", p.token.Type))
			return nil
		}
		parts = append(parts, p.token.Literal)
		p.nextToken()
	}

	if p.check(TOKEN_LPAREN) {
		if len(parts) > 2 {
			p.addError("function name has too many qualifiers")
			return nil
		}
		schema := ""
		if len(parts) == 2 {
			schema = parts[0]
		}
		fn, _ := p.parseFuncCall(parts[len(parts)-1], schema).(*FuncCall)
		ft := &FuncTable{Func: fn}
		ft.Alias, _ = p.parseTableAlias()
		return ft
	}

	table := &TableName{}
	switch len(parts) {
	case 1:
		table.Name = parts[0]
	case 2:
		table.Schema, table.Name = parts[0], parts[1]
	case 3:
		table.Catalog, table.Schema, table.Name = parts[0], parts[1], parts[2]
	default:
		p.addError("table name has too many qualifiers")
		return nil
	}
	table.Alias, table.ColumnAliases = p.parseTableAlias()
	return table
}

// parseDerivedTable parses (subquery) [AS] alias [(cols)].
func (p *Parser) parseDerivedTable() *DerivedTable {
	p.expect(TOKEN_LPAREN)
	if !p.check(TOKEN_SELECT) && !p.check(TOKEN_WITH) {
		p.addError("expected subquery in FROM")
		return nil
	}
	dt := &DerivedTable{Select: p.parseSubquery()}
	p.expect(TOKEN_RPAREN)
	dt.Alias, dt.ColumnAliases = p.parseTableAlias()
	return dt
}

// parseTableAlias parses an optional [AS] alias [(col, ...)].
func (p *Parser) parseTableAlias() (string, []string) {
	var alias string
	switch {
	case p.match(TOKEN_AS):
		if !p.isNameToken(p.token) {
			p.addError("expected alias after AS")
			return "", nil
		}
		alias = p.token.Literal
		p.nextToken()
	case p.isAliasable(p.token) && !strings.EqualFold(p.token.Literal, "TABLESAMPLE"):
		alias = p.token.Literal
		p.nextToken()
	default:
		return "", nil
	}

	var cols []string
	if p.match(TOKEN_LPAREN) {
		for p.isNameToken(p.token) {
			cols = append(cols, p.token.Literal)
			p.nextToken()
			if !p.match(TOKEN_COMMA) {
				break
			}
		}
		p.expect(TOKEN_RPAREN)
	}
	return alias, cols
}

// parseJoin parses one join, or returns nil when the FROM clause ends.
func (p *Parser) parseJoin() *Join {
	if p.match(TOKEN_COMMA) {
		return &Join{Type: JoinComma, Right: p.parseTableRef()}
	}

	join := &Join{}
	if p.match(TOKEN_NATURAL) {
		join.Natural = true
	}

	switch p.token.Type {
	case TOKEN_INNER:
		join.Type = JoinInner
		p.nextToken()
	case TOKEN_LEFT, TOKEN_RIGHT, TOKEN_FULL:
		join.Type = map[TokenType]JoinType{TOKEN_LEFT: JoinLeft, TOKEN_RIGHT: JoinRight, TOKEN_FULL: JoinFull}[p.token.Type]
		p.nextToken()
		switch {
		case p.match(TOKEN_SEMI):
			join.Type = JoinSemi
		case p.match(TOKEN_ANTI):
			join.Type = JoinAnti
		default:
			p.match(TOKEN_OUTER)
		}
	case TOKEN_CROSS:
		join.Type = JoinCross
		p.nextToken()
	case TOKEN_SEMI:
		join.Type = JoinSemi
		p.nextToken()
	case TOKEN_ANTI:
		join.Type = JoinAnti
		p.nextToken()
	case TOKEN_ASOF:
		join.Type = JoinAsOf
		p.nextToken()
		if p.match(TOKEN_LEFT) || p.match(TOKEN_RIGHT) {
			p.match(TOKEN_OUTER)
		}
	case TOKEN_POSITIONAL:
		join.Type = JoinPositional
		p.nextToken()
	case TOKEN_JOIN:
		join.Type = JoinInner
	default:
		if !join.Natural {
			return nil
		}
		join.Type = JoinInner
	}

	if !p.expect(TOKEN_JOIN) {
		return nil
	}
	join.Right = p.parseTableRef()

	switch {
	case join.Natural, join.Type == JoinCross, join.Type == JoinPositional:
	case p.match(TOKEN_ON):
		join.Condition = p.parseExpression()
	case p.match(TOKEN_USING):
		join.Using = p.parseUsingColumns()
	}
	return join
}

func (p *Parser) parseUsingColumns() []string {
	p.expect(TOKEN_LPAREN)
	var cols []string
	for {
		if !p.isNameToken(p.token) {
			p.addError("expected column name in USING clause")
			return nil
		}
		cols = append(cols, p.token.Literal)
		p.nextToken()
		if !p.match(TOKEN_COMMA) {
			break
		}
	}
	p.expect(TOKEN_RPAREN)
	return cols
}
