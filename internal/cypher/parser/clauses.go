package parser

import (
	"github.com/graphcore/engine/internal/cypher/ast"
	"github.com/graphcore/engine/internal/cypher/token"
)

func (p *Parser) parseMatch() (*ast.MatchClause, error) {
	c := &ast.MatchClause{}
	if p.accept(token.OPTIONAL) {
		c.Optional = true
	}
	if _, err := p.expect(token.MATCH, "MATCH"); err != nil {
		return nil, err
	}
	for {
		pp, err := p.parsePatternPath()
		if err != nil {
			return nil, err
		}
		c.Patterns = append(c.Patterns, pp)
		if !p.accept(token.Comma) {
			break
		}
	}
	if p.accept(token.WHERE) {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Where = expr
	}
	return c, nil
}

func (p *Parser) parseCreate() (*ast.CreateClause, error) {
	if _, err := p.expect(token.CREATE, "CREATE"); err != nil {
		return nil, err
	}
	c := &ast.CreateClause{}
	for {
		pp, err := p.parsePatternPath()
		if err != nil {
			return nil, err
		}
		c.Patterns = append(c.Patterns, pp)
		if !p.accept(token.Comma) {
			break
		}
	}
	return c, nil
}

func (p *Parser) parseMerge() (*ast.MergeClause, error) {
	if _, err := p.expect(token.MERGE, "MERGE"); err != nil {
		return nil, err
	}
	pp, err := p.parsePatternPath()
	if err != nil {
		return nil, err
	}
	c := &ast.MergeClause{Pattern: pp}
	for p.at(token.ON) {
		p.advance()
		if p.accept(token.CREATE) {
			items, err := p.parseSetItems()
			if err != nil {
				return nil, err
			}
			c.OnCreate = items
		} else if p.accept(token.MATCH) {
			items, err := p.parseSetItems()
			if err != nil {
				return nil, err
			}
			c.OnMatch = items
		} else {
			return nil, p.errorf("expected CREATE or MATCH after ON")
		}
	}
	return c, nil
}

func (p *Parser) parseSet() (*ast.SetClause, error) {
	if _, err := p.expect(token.SET, "SET"); err != nil {
		return nil, err
	}
	items, err := p.parseSetItems()
	if err != nil {
		return nil, err
	}
	return &ast.SetClause{Items: items}, nil
}

func (p *Parser) parseSetItems() ([]*ast.SetItem, error) {
	var items []*ast.SetItem
	for {
		variable, err := p.expect(token.Ident, "identifier")
		if err != nil {
			return nil, err
		}
		item := &ast.SetItem{Variable: variable.Text}
		switch {
		case p.accept(token.Dot):
			prop, err := p.expect(token.Ident, "property name")
			if err != nil {
				return nil, err
			}
			item.Property = prop.Text
			if _, err := p.expect(token.Eq, "="); err != nil {
				return nil, err
			}
			val, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			item.Value = val
		case p.accept(token.Colon):
			label, err := p.expect(token.Ident, "label")
			if err != nil {
				return nil, err
			}
			item.Label = label.Text
		case p.accept(token.Eq):
			val, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			item.Value = val
		default:
			return nil, p.errorf("expected '.', ':' or '=' in SET item")
		}
		items = append(items, item)
		if !p.accept(token.Comma) {
			break
		}
	}
	return items, nil
}

func (p *Parser) parseRemove() (*ast.RemoveClause, error) {
	if _, err := p.expect(token.REMOVE, "REMOVE"); err != nil {
		return nil, err
	}
	c := &ast.RemoveClause{}
	for {
		variable, err := p.expect(token.Ident, "identifier")
		if err != nil {
			return nil, err
		}
		item := &ast.RemoveItem{Variable: variable.Text}
		if p.accept(token.Dot) {
			prop, err := p.expect(token.Ident, "property name")
			if err != nil {
				return nil, err
			}
			item.Property = prop.Text
		} else if p.accept(token.Colon) {
			label, err := p.expect(token.Ident, "label")
			if err != nil {
				return nil, err
			}
			item.Label = label.Text
		} else {
			return nil, p.errorf("expected '.' or ':' in REMOVE item")
		}
		c.Items = append(c.Items, item)
		if !p.accept(token.Comma) {
			break
		}
	}
	return c, nil
}

func (p *Parser) parseDelete() (*ast.DeleteClause, error) {
	c := &ast.DeleteClause{}
	if p.accept(token.DETACH) {
		c.Detach = true
	}
	if _, err := p.expect(token.DELETE, "DELETE"); err != nil {
		return nil, err
	}
	for {
		v, err := p.expect(token.Ident, "identifier")
		if err != nil {
			return nil, err
		}
		c.Variables = append(c.Variables, v.Text)
		if !p.accept(token.Comma) {
			break
		}
	}
	return c, nil
}

func (p *Parser) parseUnwind() (*ast.UnwindClause, error) {
	if _, err := p.expect(token.UNWIND, "UNWIND"); err != nil {
		return nil, err
	}
	list, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.AS, "AS"); err != nil {
		return nil, err
	}
	alias, err := p.expect(token.Ident, "identifier")
	if err != nil {
		return nil, err
	}
	return &ast.UnwindClause{List: list, As: alias.Text}, nil
}

func (p *Parser) parseCall() (*ast.CallClause, error) {
	if _, err := p.expect(token.CALL, "CALL"); err != nil {
		return nil, err
	}
	name, err := p.expect(token.Ident, "procedure name")
	if err != nil {
		return nil, err
	}
	proc := name.Text
	for p.accept(token.Dot) {
		part, err := p.expect(token.Ident, "procedure name segment")
		if err != nil {
			return nil, err
		}
		proc += "." + part.Text
	}
	c := &ast.CallClause{Procedure: proc}
	if _, err := p.expect(token.LParen, "("); err != nil {
		return nil, err
	}
	if !p.at(token.RParen) {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			c.Args = append(c.Args, arg)
			if !p.accept(token.Comma) {
				break
			}
		}
	}
	if _, err := p.expect(token.RParen, ")"); err != nil {
		return nil, err
	}
	if p.accept(token.YIELD) {
		for {
			y, err := p.expect(token.Ident, "identifier")
			if err != nil {
				return nil, err
			}
			c.Yield = append(c.Yield, y.Text)
			if !p.accept(token.Comma) {
				break
			}
		}
	}
	return c, nil
}

func (p *Parser) parseWith() (*ast.WithClause, error) {
	if _, err := p.expect(token.WITH, "WITH"); err != nil {
		return nil, err
	}
	c := &ast.WithClause{}
	if p.accept(token.DISTINCT) {
		c.Distinct = true
	}
	items, err := p.parseProjectItems()
	if err != nil {
		return nil, err
	}
	c.Items = items
	if p.accept(token.WHERE) {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Where = expr
	}
	ob, skip, limit, err := p.parseOrderSkipLimit()
	if err != nil {
		return nil, err
	}
	c.OrderBy, c.Skip, c.Limit = ob, skip, limit
	return c, nil
}

func (p *Parser) parseReturn() (*ast.ReturnClause, error) {
	if _, err := p.expect(token.RETURN, "RETURN"); err != nil {
		return nil, err
	}
	c := &ast.ReturnClause{}
	if p.accept(token.DISTINCT) {
		c.Distinct = true
	}
	items, err := p.parseProjectItems()
	if err != nil {
		return nil, err
	}
	c.Items = items
	ob, skip, limit, err := p.parseOrderSkipLimit()
	if err != nil {
		return nil, err
	}
	c.OrderBy, c.Skip, c.Limit = ob, skip, limit
	return c, nil
}

func (p *Parser) parseProjectItems() ([]*ast.ProjectItem, error) {
	var items []*ast.ProjectItem
	for {
		if p.at(token.Star) {
			p.advance()
			items = append(items, &ast.ProjectItem{Star: true})
		} else {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			item := &ast.ProjectItem{Expr: e}
			if p.accept(token.AS) {
				alias, err := p.expect(token.Ident, "alias")
				if err != nil {
					return nil, err
				}
				item.Alias = alias.Text
			}
			items = append(items, item)
		}
		if !p.accept(token.Comma) {
			break
		}
	}
	return items, nil
}

func (p *Parser) parseOrderSkipLimit() ([]*ast.OrderItem, ast.Expr, ast.Expr, error) {
	var order []*ast.OrderItem
	var skip, limit ast.Expr

	if p.accept(token.ORDER) {
		if _, err := p.expect(token.BY, "BY"); err != nil {
			return nil, nil, nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, nil, nil, err
			}
			item := &ast.OrderItem{Expr: e}
			if p.accept(token.DESC) {
				item.Descending = true
			} else {
				p.accept(token.ASC)
			}
			order = append(order, item)
			if !p.accept(token.Comma) {
				break
			}
		}
	}
	if p.accept(token.SKIP) {
		e, err := p.parseExpr()
		if err != nil {
			return nil, nil, nil, err
		}
		skip = e
	}
	if p.accept(token.LIMIT) {
		e, err := p.parseExpr()
		if err != nil {
			return nil, nil, nil, err
		}
		limit = e
	}
	return order, skip, limit, nil
}
