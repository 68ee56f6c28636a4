// Package parser implements a recursive-descent parser for the
// accepted Cypher subset (spec §4.7). The parser recognizes
// CREATE/MERGE/SET/DELETE/REMOVE as clause boundaries exactly like the
// read clauses (MATCH/WITH/RETURN/UNWIND/CALL); failing to do so is
// the documented hazard class in spec §4.7/§9 where a write clause
// silently gets folded into the pattern list of a preceding MATCH.
package parser

import (
	"fmt"

	"github.com/graphcore/engine/internal/cypher/ast"
	"github.com/graphcore/engine/internal/cypher/token"
	"github.com/graphcore/engine/internal/xerrors"
)

type Parser struct {
	lex  *token.Lexer
	tok  token.Token
	next token.Token
	src  string
}

func New(src string) *Parser {
	p := &Parser{lex: token.NewLexer(src), src: src}
	p.tok = p.lex.Next()
	p.next = p.lex.Next()
	return p
}

// Parse parses a full statement (one or more UNION-joined single
// queries) and returns its AST.
func Parse(src string) (*ast.Query, error) {
	p := New(src)
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != token.EOF {
		return nil, p.errorf("unexpected trailing input %q", p.tok.Text)
	}
	return q, nil
}

func (p *Parser) advance() {
	p.tok = p.next
	p.next = p.lex.Next()
}

func (p *Parser) at(k token.Kind) bool { return p.tok.Kind == k }

func (p *Parser) accept(k token.Kind) bool {
	if p.at(k) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(k token.Kind, what string) (token.Token, error) {
	if !p.at(k) {
		return token.Token{}, p.errorf("expected %s, got %q", what, p.tok.Text)
	}
	t := p.tok
	p.advance()
	return t, nil
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return xerrors.New(xerrors.ParseError, "cypher.Parse", nil).
		With("pos", p.tok.Pos).With("message", fmt.Sprintf(format, args...))
}

func (p *Parser) parseQuery() (*ast.Query, error) {
	q := &ast.Query{}
	for {
		sq, err := p.parseSingleQuery()
		if err != nil {
			return nil, err
		}
		q.Parts = append(q.Parts, sq)
		if !p.at(token.UNION) {
			break
		}
		p.advance()
		all := p.accept(token.ALL)
		q.UnionAll = append(q.UnionAll, all)
	}
	return q, nil
}

func (p *Parser) parseSingleQuery() (*ast.SingleQuery, error) {
	sq := &ast.SingleQuery{}
	for {
		switch p.tok.Kind {
		case token.MATCH, token.OPTIONAL:
			c, err := p.parseMatch()
			if err != nil {
				return nil, err
			}
			sq.Clauses = append(sq.Clauses, c)
		case token.CREATE:
			c, err := p.parseCreate()
			if err != nil {
				return nil, err
			}
			sq.Clauses = append(sq.Clauses, c)
		case token.MERGE:
			c, err := p.parseMerge()
			if err != nil {
				return nil, err
			}
			sq.Clauses = append(sq.Clauses, c)
		case token.SET:
			c, err := p.parseSet()
			if err != nil {
				return nil, err
			}
			sq.Clauses = append(sq.Clauses, c)
		case token.REMOVE:
			c, err := p.parseRemove()
			if err != nil {
				return nil, err
			}
			sq.Clauses = append(sq.Clauses, c)
		case token.DELETE, token.DETACH:
			c, err := p.parseDelete()
			if err != nil {
				return nil, err
			}
			sq.Clauses = append(sq.Clauses, c)
		case token.WITH:
			c, err := p.parseWith()
			if err != nil {
				return nil, err
			}
			sq.Clauses = append(sq.Clauses, c)
		case token.UNWIND:
			c, err := p.parseUnwind()
			if err != nil {
				return nil, err
			}
			sq.Clauses = append(sq.Clauses, c)
		case token.CALL:
			c, err := p.parseCall()
			if err != nil {
				return nil, err
			}
			sq.Clauses = append(sq.Clauses, c)
		case token.RETURN:
			c, err := p.parseReturn()
			if err != nil {
				return nil, err
			}
			sq.Clauses = append(sq.Clauses, c)
			return sq, nil
		default:
			if len(sq.Clauses) == 0 {
				return nil, p.errorf("unexpected token %q at start of query", p.tok.Text)
			}
			return sq, nil
		}
	}
}
