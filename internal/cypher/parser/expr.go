package parser

import (
	"strconv"

	"github.com/graphcore/engine/internal/cypher/ast"
	"github.com/graphcore/engine/internal/cypher/token"
)

// precedence table, low to high; matches the operator set the planner's
// expression-string round-trip must agree on (spec §4.8).
func precedence(k token.Kind) int {
	switch k {
	case token.OR:
		return 1
	case token.AND:
		return 2
	case token.NOT:
		return 3
	case token.Eq, token.Neq, token.Lt, token.Lte, token.Gt, token.Gte,
		token.IN, token.CONTAINS, token.STARTS, token.ENDS, token.Tilde, token.IS:
		return 4
	case token.Plus, token.Minus, token.Dash:
		return 5
	case token.Star, token.Slash, token.Percent:
		return 6
	case token.Caret:
		return 7
	default:
		return 0
	}
}

func (p *Parser) parseExpr() (ast.Expr, error) { return p.parseBinary(1) }

func (p *Parser) parseBinary(minPrec int) (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		opText, ok := p.peekBinaryOp()
		if !ok {
			return left, nil
		}
		prec := precedence(p.tok.Kind)
		if prec < minPrec {
			return left, nil
		}
		if err := p.consumeBinaryOp(); err != nil {
			return nil, err
		}
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Op: opText, Left: left, Right: right}
	}
}

// peekBinaryOp reports whether the current token starts a binary
// operator, and its canonical spelling for the round-trip contract.
func (p *Parser) peekBinaryOp() (string, bool) {
	switch p.tok.Kind {
	case token.OR:
		return "OR", true
	case token.AND:
		return "AND", true
	case token.Eq:
		return "=", true
	case token.Neq:
		return "!=", true
	case token.Lt:
		return "<", true
	case token.Lte:
		return "<=", true
	case token.Gt:
		return ">", true
	case token.Gte:
		return ">=", true
	case token.Plus:
		return "+", true
	case token.Minus, token.Dash:
		return "-", true
	case token.Star:
		return "*", true
	case token.Slash:
		return "/", true
	case token.Percent:
		return "%", true
	case token.Caret:
		return "^", true
	case token.Tilde:
		return "=~", true
	case token.IN:
		return "IN", true
	case token.CONTAINS:
		return "CONTAINS", true
	default:
		return "", false
	}
}

func (p *Parser) consumeBinaryOp() error {
	p.advance()
	return nil
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	switch p.tok.Kind {
	case token.NOT:
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: "NOT", Operand: operand}, nil
	case token.Minus, token.Dash:
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: "-", Operand: operand}, nil
	default:
		return p.parsePostfix()
	}
}

// parsePostfix handles property access and the IS [NOT] NULL suffix,
// which is postfix rather than infix in this grammar.
func (p *Parser) parsePostfix() (ast.Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept(token.Dot):
			prop, err := p.expect(token.Ident, "property name")
			if err != nil {
				return nil, err
			}
			e = &ast.PropertyAccess{Target: e, Prop: prop.Text}
		case p.at(token.IS):
			p.advance()
			notNull := p.accept(token.NOT)
			if _, err := p.expect(token.NULL, "NULL"); err != nil {
				return nil, err
			}
			op := "IS NULL"
			if notNull {
				op = "IS NOT NULL"
			}
			e = &ast.UnaryExpr{Op: op, Operand: e}
		case p.at(token.STARTS):
			p.advance()
			if _, err := p.expect(token.WITH, "WITH"); err != nil {
				return nil, err
			}
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			e = &ast.BinaryExpr{Op: "STARTS WITH", Left: e, Right: right}
		case p.at(token.ENDS):
			p.advance()
			if _, err := p.expect(token.WITH, "WITH"); err != nil {
				return nil, err
			}
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			e = &ast.BinaryExpr{Op: "ENDS WITH", Left: e, Right: right}
		default:
			return e, nil
		}
	}
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	switch p.tok.Kind {
	case token.Int:
		v, _ := strconv.ParseInt(p.tok.Text, 10, 64)
		p.advance()
		return &ast.Literal{Kind: ast.LitInt, Int: v}, nil
	case token.Float:
		v, _ := strconv.ParseFloat(p.tok.Text, 64)
		p.advance()
		return &ast.Literal{Kind: ast.LitFloat, Float: v}, nil
	case token.String:
		v := p.tok.Text
		p.advance()
		return &ast.Literal{Kind: ast.LitString, Str: v}, nil
	case token.TRUE:
		p.advance()
		return &ast.Literal{Kind: ast.LitBool, Bool: true}, nil
	case token.FALSE:
		p.advance()
		return &ast.Literal{Kind: ast.LitBool, Bool: false}, nil
	case token.NULL:
		p.advance()
		return &ast.Literal{Kind: ast.LitNull}, nil
	case token.Param:
		name := p.tok.Text
		p.advance()
		return &ast.ParamRef{Name: name}, nil
	case token.LParen:
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RParen, ")"); err != nil {
			return nil, err
		}
		return e, nil
	case token.LBracket:
		return p.parseListLiteral()
	case token.LBrace:
		m, err := p.parsePropertyMap()
		if err != nil {
			return nil, err
		}
		return &ast.MapLiteral{Entries: m}, nil
	case token.CASE:
		return p.parseCase()
	case token.Ident:
		return p.parseIdentOrCallOrPattern()
	default:
		return nil, p.errorf("unexpected token %q in expression", p.tok.Text)
	}
}

func (p *Parser) parseListLiteral() (ast.Expr, error) {
	if _, err := p.expect(token.LBracket, "["); err != nil {
		return nil, err
	}
	lst := &ast.ListLiteral{}
	if !p.at(token.RBracket) {
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			lst.Items = append(lst.Items, e)
			if !p.accept(token.Comma) {
				break
			}
		}
	}
	if _, err := p.expect(token.RBracket, "]"); err != nil {
		return nil, err
	}
	return lst, nil
}

func (p *Parser) parseCase() (ast.Expr, error) {
	p.advance()
	c := &ast.CaseExpr{}
	if !p.at(token.WHEN) {
		test, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Test = test
	}
	for p.accept(token.WHEN) {
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.THEN, "THEN"); err != nil {
			return nil, err
		}
		result, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Whens = append(c.Whens, ast.CaseWhen{Cond: cond, Result: result})
	}
	if p.accept(token.ELSE) {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Else = e
	}
	if _, err := p.expect(token.END, "END"); err != nil {
		return nil, err
	}
	return c, nil
}

// parseIdentOrCallOrPattern handles a bare variable reference, a
// function call (including exists(pattern)), or a pattern used as a
// boolean expression.
func (p *Parser) parseIdentOrCallOrPattern() (ast.Expr, error) {
	name := p.tok.Text
	p.advance()
	if p.at(token.LParen) {
		p.advance()
		if isExistsName(name) && p.at(token.LParen) {
			pp, err := p.parsePatternPath()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.RParen, ")"); err != nil {
				return nil, err
			}
			return &ast.FuncCall{Name: name, Args: []ast.Expr{&ast.PatternExpr{Pattern: pp}}}, nil
		}
		call := &ast.FuncCall{Name: name}
		if p.accept(token.DISTINCT) {
			call.Distinct = true
		}
		if !p.at(token.RParen) {
			for {
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				call.Args = append(call.Args, arg)
				if !p.accept(token.Comma) {
					break
				}
			}
		}
		if _, err := p.expect(token.RParen, ")"); err != nil {
			return nil, err
		}
		return call, nil
	}
	return &ast.VarRef{Name: name}, nil
}

func isExistsName(name string) bool { return name == "exists" }
