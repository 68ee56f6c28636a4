package parser

import (
	"strconv"

	"github.com/graphcore/engine/internal/cypher/ast"
	"github.com/graphcore/engine/internal/cypher/token"
)

// parsePatternPath parses one `(a)-[r]->(b)-...` path, optionally
// bound to a path variable (`p = (a)-->(b)`).
func (p *Parser) parsePatternPath() (*ast.PatternPath, error) {
	pp := &ast.PatternPath{}
	if p.at(token.Ident) && p.next.Kind == token.Eq {
		pp.Variable = p.tok.Text
		p.advance()
		p.advance()
	}
	n, err := p.parseNodePattern()
	if err != nil {
		return nil, err
	}
	pp.Nodes = append(pp.Nodes, n)
	for p.at(token.Dash) || p.at(token.BackArrow) {
		rel, err := p.parseRelPattern()
		if err != nil {
			return nil, err
		}
		pp.Rels = append(pp.Rels, rel)
		n, err := p.parseNodePattern()
		if err != nil {
			return nil, err
		}
		pp.Nodes = append(pp.Nodes, n)
	}
	return pp, nil
}

func (p *Parser) parseNodePattern() (*ast.NodePattern, error) {
	if _, err := p.expect(token.LParen, "("); err != nil {
		return nil, err
	}
	n := &ast.NodePattern{}
	if p.at(token.Ident) {
		n.Variable = p.tok.Text
		p.advance()
	}
	for p.accept(token.Colon) {
		label, err := p.expect(token.Ident, "label")
		if err != nil {
			return nil, err
		}
		n.Labels = append(n.Labels, label.Text)
	}
	if p.at(token.LBrace) {
		props, err := p.parsePropertyMap()
		if err != nil {
			return nil, err
		}
		n.Properties = props
	}
	if _, err := p.expect(token.RParen, ")"); err != nil {
		return nil, err
	}
	return n, nil
}

// parseRelPattern handles -[...]-> , <-[...]- , and the bare -- / -> / <-.
func (p *Parser) parseRelPattern() (*ast.RelPattern, error) {
	rel := &ast.RelPattern{Direction: ast.DirEither, MinHops: 1, MaxHops: 1}

	leftArrow := p.accept(token.BackArrow)
	if !leftArrow {
		if _, err := p.expect(token.Dash, "-"); err != nil {
			return nil, err
		}
	}

	if p.accept(token.LBracket) {
		if p.at(token.Ident) {
			rel.Variable = p.tok.Text
			p.advance()
		}
		for p.accept(token.Colon) {
			typ, err := p.expect(token.Ident, "relationship type")
			if err != nil {
				return nil, err
			}
			rel.Types = append(rel.Types, typ.Text)
			for p.accept(token.Pipe) {
				typ, err := p.expect(token.Ident, "relationship type")
				if err != nil {
					return nil, err
				}
				rel.Types = append(rel.Types, typ.Text)
			}
		}
		if p.accept(token.Star) {
			rel.VarLength = true
			rel.MinHops, rel.MaxHops = 1, -1
			if p.at(token.Int) {
				min, _ := strconv.Atoi(p.tok.Text)
				rel.MinHops = min
				rel.MaxHops = min
				p.advance()
			}
			if p.accept(token.DotDot) {
				rel.MaxHops = -1
				if p.at(token.Int) {
					max, _ := strconv.Atoi(p.tok.Text)
					rel.MaxHops = max
					p.advance()
				}
			}
		}
		if p.at(token.LBrace) {
			props, err := p.parsePropertyMap()
			if err != nil {
				return nil, err
			}
			rel.Properties = props
		}
		if _, err := p.expect(token.RBracket, "]"); err != nil {
			return nil, err
		}
	}

	rightArrow := false
	if p.accept(token.Arrow) {
		rightArrow = true
	} else if _, err := p.expect(token.Dash, "-"); err != nil {
		return nil, err
	}

	switch {
	case leftArrow && !rightArrow:
		rel.Direction = ast.DirIncoming
	case rightArrow && !leftArrow:
		rel.Direction = ast.DirOutgoing
	default:
		rel.Direction = ast.DirEither
	}
	return rel, nil
}

func (p *Parser) parsePropertyMap() (map[string]ast.Expr, error) {
	if _, err := p.expect(token.LBrace, "{"); err != nil {
		return nil, err
	}
	m := map[string]ast.Expr{}
	if !p.at(token.RBrace) {
		for {
			key, err := p.expect(token.Ident, "property key")
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.Colon, ":"); err != nil {
				return nil, err
			}
			val, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			m[key.Text] = val
			if !p.accept(token.Comma) {
				break
			}
		}
	}
	if _, err := p.expect(token.RBrace, "}"); err != nil {
		return nil, err
	}
	return m, nil
}
