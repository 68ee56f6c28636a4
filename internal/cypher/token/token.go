// Package token defines the lexical tokens of the accepted Cypher
// subset (spec §4.7).
package token

type Kind int

const (
	EOF Kind = iota
	Error

	Ident
	Param    // $name
	Int      // 123
	Float    // 1.5
	String   // 'x' or "x"

	// Punctuation / operators
	LParen
	RParen
	LBracket
	RBracket
	LBrace
	RBrace
	Colon
	Comma
	Dot
	DotDot // .. in variable-length ranges
	Pipe
	Star
	Plus
	Minus
	Slash
	Percent
	Caret
	Eq
	Neq
	Lt
	Lte
	Gt
	Gte
	Assign // =, reused contextually for SET/map literal values
	Arrow  // ->
	BackArrow
	Dash
	Tilde // =~

	// Keywords
	MATCH
	OPTIONAL
	WHERE
	RETURN
	DISTINCT
	ORDER
	BY
	SKIP
	LIMIT
	WITH
	UNWIND
	AS
	UNION
	ALL
	CASE
	WHEN
	THEN
	ELSE
	END
	CREATE
	MERGE
	ON
	SET
	REMOVE
	DELETE
	DETACH
	CALL
	YIELD
	AND
	OR
	NOT
	IN
	CONTAINS
	STARTS
	ENDS
	WITHSTR // pseudo, never emitted directly (STARTS WITH handled as two tokens)
	IS
	NULL
	TRUE
	FALSE
	ASC
	DESC
)

var keywords = map[string]Kind{
	"MATCH": MATCH, "OPTIONAL": OPTIONAL, "WHERE": WHERE, "RETURN": RETURN,
	"DISTINCT": DISTINCT, "ORDER": ORDER, "BY": BY, "SKIP": SKIP, "LIMIT": LIMIT,
	"WITH": WITH, "UNWIND": UNWIND, "AS": AS, "UNION": UNION, "ALL": ALL,
	"CASE": CASE, "WHEN": WHEN, "THEN": THEN, "ELSE": ELSE, "END": END,
	"CREATE": CREATE, "MERGE": MERGE, "ON": ON, "SET": SET, "REMOVE": REMOVE,
	"DELETE": DELETE, "DETACH": DETACH, "CALL": CALL, "YIELD": YIELD,
	"AND": AND, "OR": OR, "NOT": NOT, "IN": IN, "CONTAINS": CONTAINS,
	"STARTS": STARTS, "ENDS": ENDS, "IS": IS, "NULL": NULL,
	"TRUE": TRUE, "FALSE": FALSE, "ASC": ASC, "DESC": DESC,
}

// Lookup returns the keyword Kind for an uppercased identifier, or
// (Ident, false) if it is not a reserved word.
func Lookup(upper string) (Kind, bool) {
	k, ok := keywords[upper]
	return k, ok
}

type Token struct {
	Kind Kind
	Text string
	Pos  int
}
