package duckdbsql

import (
	"fmt"
	"strings"
)

// Primary expression parsing: literals, column refs, function calls, CASE,
// CAST, EXTRACT, INTERVAL, lists, COLUMNS, EXISTS and subqueries.

func (p *Parser) parsePrimary() Expr {
	switch p.token.Type {
	case TOKEN_NUMBER:
		lit := &Literal{Type: LiteralNumber, Value: p.token.Literal}
		p.nextToken()
		return lit

	case TOKEN_STRING:
		lit := &Literal{Type: LiteralString, Value: p.token.Literal}
		p.nextToken()
		return lit

	case TOKEN_TRUE, TOKEN_FALSE:
		lit := &Literal{Type: LiteralBool, Value: strings.ToLower(p.token.Literal)}
		p.nextToken()
		return lit

	case TOKEN_NULL:
		p.nextToken()
		return &Literal{Type: LiteralNull, Value: "NULL"}

	case TOKEN_PARAM:
		param := &Param{Name: p.token.Literal}
		p.nextToken()
		return param

	case TOKEN_CASE:
		return p.parseCaseExpr()

	case TOKEN_CAST, TOKEN_TRY_CAST:
		return p.parseCastExpr()

	case TOKEN_EXTRACT:
		return p.parseExtractExpr()

	case TOKEN_EXISTS:
		return p.parseExistsExpr(false)

	case TOKEN_INTERVAL:
		return p.parseIntervalExpr()

	case TOKEN_COLUMNS:
		p.nextToken()
		p.expect(TOKEN_LPAREN)
		cols := &ColumnsExpr{}
		if p.check(TOKEN_STAR) {
			p.nextToken()
		} else {
			cols.Pattern = p.parseExpression()
		}
		p.expect(TOKEN_RPAREN)
		return cols

	case TOKEN_LPAREN:
		return p.parseParenExpr()

	case TOKEN_LBRACKET:
		return p.parseListLiteral()

	case TOKEN_STAR:
		p.nextToken()
		p.skipStarModifiers()
		return &StarExpr{}

	case TOKEN_IDENT:
		return p.parseIdentifierExpr()

	default:
		// Keywords used as function names (left(), replace(), range()) or as
		// unreserved column names.
		if p.token.Type.IsKeyword() && (p.checkPeek(TOKEN_LPAREN) || isUnreserved(p.token.Type)) {
			return p.parseIdentifierExpr()
		}
		p.addError(fmt.Sprintf("unexpected token in expression: %s (%q)", p.token.Type, p.token.Literal))
		return nil
	}
}

// parseIdentifierExpr parses an identifier (column ref, t.*, or function call).
func (p *Parser) parseIdentifierExpr() Expr {
	parts := []string{p.token.Literal}
	p.nextToken()

	for p.check(TOKEN_DOT) {
		p.nextToken()
		if p.check(TOKEN_STAR) {
			p.nextToken()
			p.skipStarModifiers()
			return &StarExpr{Table: parts[len(parts)-1]}
		}
		if !p.isNameToken(p.token) {
			p.addError(fmt.Sprintf("expected identifier after '.', got %s", p.token.Type))
			return nil
		}
		parts = append(parts, p.token.Literal)
		p.nextToken()
	}

	if p.check(TOKEN_LPAREN) {
		switch len(parts) {
		case 1:
			return p.parseFuncCall(parts[0], "")
		case 2:
			return p.parseFuncCall(parts[1], parts[0])
		default:
			p.addError("function name has too many qualifiers")
			return nil
		}
	}

	switch len(parts) {
	case 1:
		return &ColumnRef{Column: parts[0]}
	case 2:
		return &ColumnRef{Table: parts[0], Column: parts[1]}
	case 3:
		return &ColumnRef{Schema: parts[0], Table: parts[1], Column: parts[2]}
	default:
		p.addError("column reference has too many qualifiers")
		return nil
	}
}

// parseFuncCall parses name([DISTINCT] args [ORDER BY ...]) [FILTER (...)] [OVER ...].
func (p *Parser) parseFuncCall(name, schema string) Expr {
	fn := &FuncCall{Name: name, Schema: schema}
	p.expect(TOKEN_LPAREN)

	if p.check(TOKEN_STAR) && p.checkPeek(TOKEN_RPAREN) {
		fn.Star = true
		p.nextToken()
	} else if !p.check(TOKEN_RPAREN) {
		if p.match(TOKEN_DISTINCT) {
			fn.Distinct = true
		} else {
			p.match(TOKEN_ALL)
		}
		fn.Args = p.parseExpressionList()
		if p.check(TOKEN_ORDER) {
			p.nextToken()
			p.expect(TOKEN_BY)
			fn.OrderBy = p.parseOrderByList()
		}
	}
	p.expect(TOKEN_RPAREN)

	if p.check(TOKEN_FILTER) && p.checkPeek(TOKEN_LPAREN) {
		p.nextToken()
		p.nextToken()
		p.match(TOKEN_WHERE)
		fn.Filter = p.parseExpression()
		p.expect(TOKEN_RPAREN)
	}

	if p.match(TOKEN_OVER) {
		fn.Window = p.parseWindowSpec()
	}
	return fn
}

// parseWindowSpec parses OVER name or OVER (PARTITION BY ... ORDER BY ... frame).
func (p *Parser) parseWindowSpec() *WindowSpec {
	spec := &WindowSpec{}
	if p.check(TOKEN_IDENT) {
		spec.Name = p.token.Literal
		p.nextToken()
		return spec
	}

	p.expect(TOKEN_LPAREN)
	p.parseWindowBody(spec)
	p.expect(TOKEN_RPAREN)
	return spec
}

// parseWindowBody parses the inside of a window specification.
func (p *Parser) parseWindowBody(spec *WindowSpec) {
	if p.check(TOKEN_IDENT) {
		spec.Name = p.token.Literal
		p.nextToken()
	}
	if p.match(TOKEN_PARTITION) {
		p.expect(TOKEN_BY)
		spec.PartitionBy = p.parseExpressionList()
	}
	if p.check(TOKEN_ORDER) {
		p.nextToken()
		p.expect(TOKEN_BY)
		spec.OrderBy = p.parseOrderByList()
	}
	if p.check(TOKEN_ROWS) || p.check(TOKEN_RANGE) || p.check(TOKEN_GROUPS) {
		spec.Frame = p.parseFrameSpec()
	}
}

func (p *Parser) parseFrameSpec() *FrameSpec {
	frame := &FrameSpec{Type: p.token.Type}
	p.nextToken()

	if p.match(TOKEN_BETWEEN) {
		frame.Start = p.parseFrameBound()
		p.expect(TOKEN_AND)
		end := p.parseFrameBound()
		frame.End = &end
	} else {
		frame.Start = p.parseFrameBound()
	}

	if p.matchSoftKeyword("EXCLUDE") {
		// EXCLUDE CURRENT ROW | GROUP | TIES | NO OTHERS
		for p.check(TOKEN_CURRENT) || p.check(TOKEN_ROW) || p.check(TOKEN_GROUP) ||
			p.check(TOKEN_TIES) || p.check(TOKEN_IDENT) {
			p.nextToken()
		}
	}
	return frame
}

func (p *Parser) parseFrameBound() FrameBound {
	var b FrameBound
	switch {
	case p.match(TOKEN_UNBOUNDED):
		b.Unbounded = true
	case p.match(TOKEN_CURRENT):
		b.Current = true
		p.expect(TOKEN_ROW)
		return b
	default:
		b.Offset = p.parseExpressionWithPrecedence(PrecedenceAddition)
	}
	switch {
	case p.match(TOKEN_PRECEDING):
		b.Preceding = true
	case p.match(TOKEN_FOLLOWING):
	default:
		p.addError("expected PRECEDING or FOLLOWING in window frame")
	}
	return b
}

func (p *Parser) parseCaseExpr() Expr {
	p.expect(TOKEN_CASE)
	ce := &CaseExpr{}
	if !p.check(TOKEN_WHEN) {
		ce.Operand = p.parseExpression()
	}
	for p.match(TOKEN_WHEN) {
		w := WhenClause{Condition: p.parseExpression()}
		p.expect(TOKEN_THEN)
		w.Result = p.parseExpression()
		ce.Whens = append(ce.Whens, w)
	}
	if len(ce.Whens) == 0 {
		p.addError("CASE requires at least one WHEN")
		return nil
	}
	if p.match(TOKEN_ELSE) {
		ce.Else = p.parseExpression()
	}
	p.expect(TOKEN_END)
	return ce
}

// parseCastExpr parses CAST(expr AS type) and TRY_CAST(expr AS type).
func (p *Parser) parseCastExpr() Expr {
	cast := &CastExpr{Try: p.check(TOKEN_TRY_CAST)}
	p.nextToken()
	p.expect(TOKEN_LPAREN)
	cast.Expr = p.parseExpression()
	p.expect(TOKEN_AS)
	cast.TypeName = p.parseTypeName()
	p.expect(TOKEN_RPAREN)
	return cast
}

// parseExtractExpr parses EXTRACT(field FROM expr).
func (p *Parser) parseExtractExpr() Expr {
	p.nextToken()
	p.expect(TOKEN_LPAREN)
	ex := &ExtractExpr{Field: strings.ToLower(p.token.Literal)}
	p.nextToken()
	p.expect(TOKEN_FROM)
	ex.Source = p.parseExpression()
	p.expect(TOKEN_RPAREN)
	return ex
}

// parseTypeName parses a type name with optional parameters and array
// suffixes: DECIMAL(10, 2), VARCHAR[], DOUBLE PRECISION.
func (p *Parser) parseTypeName() string {
	if !p.isNameToken(p.token) && !p.token.Type.IsKeyword() {
		p.addError(fmt.Sprintf("expected type name, got %s", p.token.Type))
		return ""
	}
	var b strings.Builder
	b.WriteString(strings.ToUpper(p.token.Literal))
	p.nextToken()

	// Multi-word types.
	for p.check(TOKEN_IDENT) && isTypeWord(p.token.Literal) {
		b.WriteByte(' ')
		b.WriteString(strings.ToUpper(p.token.Literal))
		p.nextToken()
	}

	if p.match(TOKEN_LPAREN) {
		b.WriteByte('(')
		for i := 0; !p.check(TOKEN_RPAREN) && !p.check(TOKEN_EOF); i++ {
			if i > 0 {
				p.expect(TOKEN_COMMA)
				b.WriteString(", ")
			}
			b.WriteString(p.token.Literal)
			p.nextToken()
		}
		p.expect(TOKEN_RPAREN)
		b.WriteByte(')')
	}
	for p.check(TOKEN_LBRACKET) && p.checkPeek(TOKEN_RBRACKET) {
		p.nextToken()
		p.nextToken()
		b.WriteString("[]")
	}
	return b.String()
}

func isTypeWord(s string) bool {
	switch strings.ToLower(s) {
	case "precision", "varying", "zone", "time", "without":
		return true
	}
	return false
}

// parseExistsExpr parses EXISTS (subquery) with NOT already consumed when not is set.
func (p *Parser) parseExistsExpr(not bool) Expr {
	p.expect(TOKEN_EXISTS)
	p.expect(TOKEN_LPAREN)
	sel := p.parseSubquery()
	p.expect(TOKEN_RPAREN)
	return &ExistsExpr{Not: not, Select: sel}
}

// parseIntervalExpr parses INTERVAL 'value' [unit] and INTERVAL n unit.
func (p *Parser) parseIntervalExpr() Expr {
	p.nextToken()
	iv := &IntervalExpr{}
	switch p.token.Type {
	case TOKEN_STRING, TOKEN_NUMBER:
		iv.Value = p.parsePrimary()
	case TOKEN_LPAREN:
		iv.Value = p.parseParenExpr()
	default:
		p.addError("expected interval value")
		return nil
	}
	if p.check(TOKEN_IDENT) && isIntervalUnit(p.token.Literal) {
		iv.Unit = strings.ToLower(p.token.Literal)
		p.nextToken()
	}
	return iv
}

func isIntervalUnit(s string) bool {
	switch strings.TrimSuffix(strings.ToLower(s), "s") {
	case "microsecond", "millisecond", "second", "minute", "hour", "day",
		"week", "month", "quarter", "year", "decade", "century", "millennium":
		return true
	}
	return false
}

// parseParenExpr parses a parenthesized expression or a scalar subquery.
func (p *Parser) parseParenExpr() Expr {
	p.expect(TOKEN_LPAREN)
	if p.check(TOKEN_SELECT) || p.check(TOKEN_WITH) {
		sel := p.parseSubquery()
		p.expect(TOKEN_RPAREN)
		return &SubqueryExpr{Select: sel}
	}
	expr := p.parseExpression()
	if p.check(TOKEN_COMMA) {
		// Row constructor (a, b); kept as a list for walking purposes.
		list := &ListLiteral{Elements: []Expr{expr}}
		for p.match(TOKEN_COMMA) {
			list.Elements = append(list.Elements, p.parseExpression())
		}
		p.expect(TOKEN_RPAREN)
		return list
	}
	p.expect(TOKEN_RPAREN)
	return &ParenExpr{Expr: expr}
}

func (p *Parser) parseListLiteral() Expr {
	p.expect(TOKEN_LBRACKET)
	list := &ListLiteral{}
	if !p.check(TOKEN_RBRACKET) {
		list.Elements = p.parseExpressionList()
	}
	p.expect(TOKEN_RBRACKET)
	return list
}

// skipStarModifiers consumes EXCLUDE/REPLACE/RENAME (...) after a star. The
// star itself is what matters to callers.
func (p *Parser) skipStarModifiers() {
	for {
		isModifier := p.check(TOKEN_REPLACE) ||
			(p.check(TOKEN_IDENT) && (strings.EqualFold(p.token.Literal, "EXCLUDE") || strings.EqualFold(p.token.Literal, "RENAME")))
		if !isModifier || !p.checkPeek(TOKEN_LPAREN) {
			return
		}
		p.nextToken()
		p.skipParenthesized()
	}
}

// skipParenthesized consumes a balanced parenthesized group.
func (p *Parser) skipParenthesized() {
	depth := 0
	for !p.check(TOKEN_EOF) {
		switch p.token.Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			depth--
		}
		p.nextToken()
		if depth == 0 {
			return
		}
	}
	p.addError("unbalanced parentheses")
}

func (p *Parser) parseOrderByList() []OrderByItem {
	var items []OrderByItem
	for {
		item := OrderByItem{Expr: p.parseExpression()}
		if item.Expr == nil {
			break
		}
		if p.match(TOKEN_DESC) {
			item.Desc = true
		} else {
			p.match(TOKEN_ASC)
		}
		if p.match(TOKEN_NULLS) {
			first := p.check(TOKEN_FIRST)
			if !p.match(TOKEN_FIRST) && !p.match(TOKEN_LAST) {
				p.addError("expected FIRST or LAST after NULLS")
			}
			item.NullsFirst = &first
		}
		items = append(items, item)
		if !p.match(TOKEN_COMMA) {
			break
		}
	}
	return items
}
