package duckdbsql

import "strings"

// SELECT statement parsing.

// parseSubquery parses a nested SELECT, bounding nesting depth.
func (p *Parser) parseSubquery() *SelectStmt {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxDepth {
		p.addError("subqueries nested too deeply")
		return &SelectStmt{}
	}
	start := p.token.Pos
	sel := p.parseSelectStatement()
	sel.Span = Span{Start: start, End: p.prevEnd}
	return sel
}

// parseSelectStatement parses a complete SELECT statement (WITH ... SELECT ...).
func (p *Parser) parseSelectStatement() *SelectStmt {
	stmt := &SelectStmt{}
	if p.check(TOKEN_WITH) {
		stmt.With = p.parseWithClause()
	}
	stmt.Body = p.parseSelectBody()
	return stmt
}

func (p *Parser) parseWithClause() *WithClause {
	p.expect(TOKEN_WITH)
	with := &WithClause{Recursive: p.match(TOKEN_RECURSIVE)}

	for !p.failed() {
		with.CTEs = append(with.CTEs, p.parseCTE())
		if !p.match(TOKEN_COMMA) {
			break
		}
	}
	return with
}

func (p *Parser) parseCTE() *CTE {
	cte := &CTE{}
	if !p.isNameToken(p.token) {
		p.addError("expected CTE name")
		return cte
	}
	cte.Name = p.token.Literal
	p.nextToken()

	if p.match(TOKEN_LPAREN) {
		for p.isNameToken(p.token) {
			cte.Columns = append(cte.Columns, p.token.Literal)
			p.nextToken()
			if !p.match(TOKEN_COMMA) {
				break
			}
		}
		p.expect(TOKEN_RPAREN)
	}

	p.expect(TOKEN_AS)
	// [NOT] MATERIALIZED hint
	if p.check(TOKEN_NOT) && p.peek.Type == TOKEN_IDENT && strings.EqualFold(p.peek.Literal, "MATERIALIZED") {
		p.nextToken()
		p.nextToken()
	} else {
		p.matchSoftKeyword("MATERIALIZED")
	}

	p.expect(TOKEN_LPAREN)
	cte.Select = p.parseSubquery()
	p.expect(TOKEN_RPAREN)
	return cte
}

// parseSelectBody parses a SELECT body with possible set operations.
func (p *Parser) parseSelectBody() *SelectBody {
	body := &SelectBody{Left: p.parseSelectCore()}

	switch p.token.Type {
	case TOKEN_UNION:
		body.Op = SetOpUnion
	case TOKEN_INTERSECT:
		body.Op = SetOpIntersect
	case TOKEN_EXCEPT:
		body.Op = SetOpExcept
	default:
		return body
	}
	p.nextToken()
	if p.match(TOKEN_ALL) {
		body.All = true
	} else {
		p.match(TOKEN_DISTINCT)
	}
	if p.check(TOKEN_BY) {
		p.nextToken()
		if !p.matchSoftKeyword("NAME") {
			p.addError("expected NAME after BY in set operation")
		}
	}
	body.Right = p.parseSelectBody()
	return body
}

// parseSelectCore parses a single SELECT clause with all optional clauses.
func (p *Parser) parseSelectCore() *SelectCore {
	sc := &SelectCore{OffsetPos: -1}
	if !p.expect(TOKEN_SELECT) {
		return sc
	}

	if p.match(TOKEN_DISTINCT) {
		sc.Distinct = true
		if p.match(TOKEN_ON) {
			p.expect(TOKEN_LPAREN)
			sc.DistinctOn = p.parseExpressionList()
			p.expect(TOKEN_RPAREN)
		}
	} else {
		p.match(TOKEN_ALL)
	}

	sc.Columns = p.parseSelectList()

	if p.match(TOKEN_FROM) {
		sc.From = p.parseFromClause()
	}
	if p.match(TOKEN_WHERE) {
		sc.Where = p.parseExpression()
	}
	if p.check(TOKEN_GROUP) {
		p.nextToken()
		p.expect(TOKEN_BY)
		if p.match(TOKEN_ALL) {
			sc.GroupByAll = true
		} else {
			sc.GroupBy = p.parseExpressionList()
		}
	}
	if p.match(TOKEN_HAVING) {
		sc.Having = p.parseExpression()
	}
	if p.check(TOKEN_WINDOW) {
		p.nextToken()
		sc.Windows = p.parseWindowDefs()
	}
	if p.match(TOKEN_QUALIFY) {
		sc.Qualify = p.parseExpression()
	}
	if p.check(TOKEN_ORDER) {
		p.nextToken()
		p.expect(TOKEN_BY)
		if p.match(TOKEN_ALL) {
			sc.OrderByAll = true
			if !p.match(TOKEN_DESC) {
				p.match(TOKEN_ASC)
			}
		} else {
			sc.OrderBy = p.parseOrderByList()
		}
	}

	// LIMIT and OFFSET may appear in either order.
	for i := 0; i < 2; i++ {
		switch {
		case sc.Limit == nil && p.check(TOKEN_LIMIT):
			p.nextToken()
			start := p.token.Pos
			sc.Limit = p.parseExpressionWithPrecedence(PrecedenceMultiply + 1)
			sc.LimitSpan = Span{Start: start, End: p.prevEnd}
			if p.match(TOKEN_PERCENT) || p.match(TOKEN_MOD) {
				sc.LimitPercent = true
			}
		case sc.Offset == nil && p.check(TOKEN_OFFSET):
			sc.OffsetPos = p.token.Pos
			p.nextToken()
			sc.Offset = p.parseExpressionWithPrecedence(PrecedenceAddition)
			if !p.match(TOKEN_ROWS) {
				p.match(TOKEN_ROW)
			}
		}
	}

	if p.check(TOKEN_FETCH) {
		sc.Fetch = p.parseFetchClause()
	}
	return sc
}

func (p *Parser) parseWindowDefs() []WindowDef {
	var defs []WindowDef
	for !p.failed() {
		def := WindowDef{Spec: &WindowSpec{}}
		if !p.isNameToken(p.token) {
			p.addError("expected window name")
			return defs
		}
		def.Name = p.token.Literal
		p.nextToken()
		p.expect(TOKEN_AS)
		p.expect(TOKEN_LPAREN)
		p.parseWindowBody(def.Spec)
		p.expect(TOKEN_RPAREN)
		defs = append(defs, def)
		if !p.match(TOKEN_COMMA) {
			break
		}
	}
	return defs
}

// parseFetchClause parses FETCH FIRST|NEXT [n] [PERCENT] ROW[S] ONLY|WITH TIES.
func (p *Parser) parseFetchClause() *FetchClause {
	p.expect(TOKEN_FETCH)
	fetch := &FetchClause{}

	if !p.match(TOKEN_FIRST) && !p.match(TOKEN_NEXT) {
		p.addError("expected FIRST or NEXT after FETCH")
		return fetch
	}

	if !p.check(TOKEN_ROW) && !p.check(TOKEN_ROWS) {
		start := p.token.Pos
		fetch.Count = p.parseExpressionWithPrecedence(PrecedenceMultiply + 1)
		fetch.CountSpan = Span{Start: start, End: p.prevEnd}
	}
	if p.match(TOKEN_PERCENT) {
		fetch.Percent = true
	}
	if !p.match(TOKEN_ROWS) && !p.match(TOKEN_ROW) {
		p.addError("expected ROW or ROWS in FETCH clause")
		return fetch
	}
	if p.match(TOKEN_WITH) {
		p.expect(TOKEN_TIES)
		fetch.WithTies = true
	} else {
		p.expect(TOKEN_ONLY)
	}
	return fetch
}

func (p *Parser) parseSelectList() []SelectItem {
	var items []SelectItem
	for !p.failed() {
		items = append(items, p.parseSelectItem())
		if !p.match(TOKEN_COMMA) {
			break
		}
	}
	return items
}

func (p *Parser) parseSelectItem() SelectItem {
	item := SelectItem{}

	if p.check(TOKEN_STAR) {
		item.Star = true
		p.nextToken()
		p.skipStarModifiers()
		return item
	}

	// table.* using 3-token lookahead
	if p.isNameToken(p.token) && p.checkPeek(TOKEN_DOT) && p.checkPeek2(TOKEN_STAR) {
		item.TableStar = p.token.Literal
		p.nextToken() // ident
		p.nextToken() // .
		p.nextToken() // *
		p.skipStarModifiers()
		return item
	}

	// Prefix alias: name: expr (DuckDB friendly SQL)
	if p.check(TOKEN_IDENT) && p.checkPeek(TOKEN_COLON) {
		item.Alias = p.token.Literal
		p.nextToken()
		p.nextToken()
		item.Expr = p.parseExpression()
		return item
	}

	item.Expr = p.parseExpression()
	if item.Expr == nil && !p.failed() {
		p.addError("expected expression in select list")
	}

	if p.match(TOKEN_AS) {
		if p.isNameToken(p.token) || p.check(TOKEN_STRING) {
			item.Alias = p.token.Literal
			p.nextToken()
		} else {
			p.addError("expected alias after AS")
		}
	} else if p.isAliasable(p.token) {
		item.Alias = p.token.Literal
		p.nextToken()
	}
	return item
}
