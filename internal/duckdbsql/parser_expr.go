package duckdbsql

// Expression parsing using Pratt parser (precedence climbing) for DuckDB SQL.

// maxDepth bounds expression and subquery nesting so hostile input cannot
// exhaust the stack.
const maxDepth = 200

func (p *Parser) parseExpression() Expr {
	return p.parseExpressionWithPrecedence(PrecedenceNone + 1)
}

func (p *Parser) parseExpressionWithPrecedence(minPrecedence int) Expr {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxDepth {
		p.addError("expression nested too deeply")
		return nil
	}

	left := p.parsePrefixExpr()
	if left == nil {
		return nil
	}

	for !p.failed() {
		prec := p.getInfixPrecedence()
		if prec < minPrecedence {
			break
		}
		left = p.parseInfixExpr(left, prec)
		if left == nil {
			break
		}
	}
	return left
}

// parsePrefixExpr parses unary operators and primary expressions.
func (p *Parser) parsePrefixExpr() Expr {
	switch p.token.Type {
	case TOKEN_NOT:
		if p.checkPeek(TOKEN_EXISTS) {
			p.nextToken() // consume NOT
			return p.parseExistsExpr(true)
		}
		p.nextToken()
		return &UnaryExpr{Op: TOKEN_NOT, Expr: p.parseExpressionWithPrecedence(PrecedenceNot)}
	case TOKEN_MINUS, TOKEN_PLUS:
		op := p.token.Type
		p.nextToken()
		return &UnaryExpr{Op: op, Expr: p.parseExpressionWithPrecedence(PrecedenceUnary)}
	default:
		return p.parsePrimary()
	}
}

// getInfixPrecedence returns the precedence of the current token as an infix operator.
func (p *Parser) getInfixPrecedence() int {
	switch p.token.Type {
	case TOKEN_OR:
		return PrecedenceOr
	case TOKEN_AND:
		return PrecedenceAnd
	case TOKEN_EQ, TOKEN_DBLEQ, TOKEN_NE, TOKEN_LT, TOKEN_GT, TOKEN_LE, TOKEN_GE:
		return PrecedenceComparison
	case TOKEN_IS, TOKEN_IN, TOKEN_BETWEEN, TOKEN_LIKE, TOKEN_ILIKE, TOKEN_GLOB, TOKEN_SIMILAR:
		return PrecedenceComparison
	case TOKEN_NOT:
		// NOT IN / NOT LIKE / NOT BETWEEN ...
		switch p.peek.Type {
		case TOKEN_IN, TOKEN_BETWEEN, TOKEN_LIKE, TOKEN_ILIKE, TOKEN_GLOB, TOKEN_SIMILAR:
			return PrecedenceComparison
		}
		return PrecedenceNone
	case TOKEN_PLUS, TOKEN_MINUS, TOKEN_DPIPE:
		return PrecedenceAddition
	case TOKEN_STAR, TOKEN_SLASH, TOKEN_MOD, TOKEN_DSLASH:
		return PrecedenceMultiply
	case TOKEN_DCOLON, TOKEN_LBRACKET:
		return PrecedencePostfix
	default:
		return PrecedenceNone
	}
}

func (p *Parser) parseInfixExpr(left Expr, prec int) Expr {
	switch p.token.Type {
	case TOKEN_NOT:
		p.nextToken() // consume NOT
		return p.parseNegatable(left, true)
	case TOKEN_IN, TOKEN_BETWEEN, TOKEN_LIKE, TOKEN_ILIKE, TOKEN_GLOB, TOKEN_SIMILAR:
		return p.parseNegatable(left, false)
	case TOKEN_IS:
		return p.parseIsExpr(left)
	case TOKEN_DCOLON:
		p.nextToken()
		return &CastExpr{Expr: left, TypeName: p.parseTypeName()}
	case TOKEN_LBRACKET:
		return p.parseIndexExpr(left)
	default:
		op := p.token.Type
		p.nextToken()
		right := p.parseExpressionWithPrecedence(prec + 1)
		if right == nil {
			p.addError("missing right operand")
			return nil
		}
		return &BinaryExpr{Left: left, Op: op, Right: right}
	}
}

// parseNegatable parses IN, BETWEEN and the LIKE family with an optional
// preceding NOT already consumed.
func (p *Parser) parseNegatable(left Expr, not bool) Expr {
	switch p.token.Type {
	case TOKEN_IN:
		p.nextToken()
		return p.parseInExpr(left, not)
	case TOKEN_BETWEEN:
		p.nextToken()
		between := &BetweenExpr{Expr: left, Not: not}
		between.Low = p.parseExpressionWithPrecedence(PrecedenceAddition)
		p.expect(TOKEN_AND)
		between.High = p.parseExpressionWithPrecedence(PrecedenceAddition)
		return between
	case TOKEN_LIKE, TOKEN_ILIKE, TOKEN_GLOB:
		like := &LikeExpr{Expr: left, Not: not, Op: p.token.Type}
		p.nextToken()
		like.Pattern = p.parseExpressionWithPrecedence(PrecedenceAddition)
		if p.matchSoftKeyword("ESCAPE") {
			like.Escape = p.parseExpressionWithPrecedence(PrecedenceAddition)
		}
		return like
	case TOKEN_SIMILAR:
		p.nextToken()
		if !p.matchSoftKeyword("TO") {
			p.addError("expected TO after SIMILAR")
			return nil
		}
		return &LikeExpr{Expr: left, Not: not, Op: TOKEN_SIMILAR, Pattern: p.parseExpressionWithPrecedence(PrecedenceAddition)}
	default:
		p.addError("expected IN, BETWEEN, LIKE, ILIKE, GLOB, or SIMILAR after NOT")
		return nil
	}
}

// parseIsExpr parses IS [NOT] NULL / TRUE / FALSE / DISTINCT FROM.
func (p *Parser) parseIsExpr(left Expr) Expr {
	p.nextToken() // consume IS
	is := &IsExpr{Expr: left, Not: p.match(TOKEN_NOT)}

	switch p.token.Type {
	case TOKEN_NULL, TOKEN_TRUE, TOKEN_FALSE:
		is.What = p.token.Type
		p.nextToken()
	case TOKEN_DISTINCT:
		is.What = TOKEN_DISTINCT
		p.nextToken()
		p.expect(TOKEN_FROM)
		is.Right = p.parseExpressionWithPrecedence(PrecedenceComparison + 1)
	default:
		p.addError("expected NULL, TRUE, FALSE, or DISTINCT after IS")
		return nil
	}
	return is
}

// parseInExpr parses IN (values), IN (subquery) or IN [list].
func (p *Parser) parseInExpr(left Expr, not bool) Expr {
	in := &InExpr{Expr: left, Not: not}

	switch {
	case p.check(TOKEN_LPAREN):
		p.nextToken()
		if p.check(TOKEN_SELECT) || p.check(TOKEN_WITH) {
			in.Query = p.parseSubquery()
		} else {
			in.Values = p.parseExpressionList()
		}
		p.expect(TOKEN_RPAREN)
	case p.check(TOKEN_LBRACKET):
		in.Values = []Expr{p.parseListLiteral()}
	default:
		p.addError("expected ( or [ after IN")
		return nil
	}
	return in
}

// parseIndexExpr parses expr[index] or expr[start:stop].
func (p *Parser) parseIndexExpr(left Expr) Expr {
	p.nextToken() // consume [
	idx := &IndexExpr{Expr: left}

	if !p.check(TOKEN_COLON) && !p.check(TOKEN_RBRACKET) {
		idx.Index = p.parseExpression()
	}
	if p.match(TOKEN_COLON) {
		idx.Slice = true
		if !p.check(TOKEN_RBRACKET) {
			idx.Stop = p.parseExpression()
		}
	}
	p.expect(TOKEN_RBRACKET)
	return idx
}

func (p *Parser) parseExpressionList() []Expr {
	var exprs []Expr
	for {
		expr := p.parseExpression()
		if expr == nil {
			break
		}
		exprs = append(exprs, expr)
		if !p.match(TOKEN_COMMA) {
			break
		}
	}
	return exprs
}
