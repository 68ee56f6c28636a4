package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphcore/engine/internal/cypher/ast"
)

func parseOne(t *testing.T, src string) *ast.SingleQuery {
	t.Helper()
	q, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, q.Parts, 1)
	return q.Parts[0]
}

func TestParseSimpleMatchReturn(t *testing.T) {
	sq := parseOne(t, "MATCH (n:Person) RETURN n.name")
	require.Len(t, sq.Clauses, 2)

	m, ok := sq.Clauses[0].(*ast.MatchClause)
	require.True(t, ok)
	assert.False(t, m.Optional)
	require.Len(t, m.Patterns, 1)
	require.Len(t, m.Patterns[0].Nodes, 1)
	assert.Equal(t, "n", m.Patterns[0].Nodes[0].Variable)
	assert.Equal(t, []string{"Person"}, m.Patterns[0].Nodes[0].Labels)

	ret, ok := sq.Clauses[1].(*ast.ReturnClause)
	require.True(t, ok)
	require.Len(t, ret.Items, 1)
	prop, ok := ret.Items[0].Expr.(*ast.PropertyAccess)
	require.True(t, ok)
	assert.Equal(t, "name", prop.Prop)
	varRef, ok := prop.Target.(*ast.VarRef)
	require.True(t, ok)
	assert.Equal(t, "n", varRef.Name)
}

func TestParseRelationshipPattern(t *testing.T) {
	sq := parseOne(t, "MATCH (a)-[r:KNOWS]->(b) RETURN a, b")
	m := sq.Clauses[0].(*ast.MatchClause)
	pp := m.Patterns[0]
	require.Len(t, pp.Nodes, 2)
	require.Len(t, pp.Rels, 1)
	rel := pp.Rels[0]
	assert.Equal(t, "r", rel.Variable)
	assert.Equal(t, []string{"KNOWS"}, rel.Types)
	assert.Equal(t, ast.DirOutgoing, rel.Direction)
}

func TestParseIncomingAndEitherDirection(t *testing.T) {
	sq := parseOne(t, "MATCH (a)<-[:KNOWS]-(b) RETURN a")
	rel := sq.Clauses[0].(*ast.MatchClause).Patterns[0].Rels[0]
	assert.Equal(t, ast.DirIncoming, rel.Direction)

	sq2 := parseOne(t, "MATCH (a)-[:KNOWS]-(b) RETURN a")
	rel2 := sq2.Clauses[0].(*ast.MatchClause).Patterns[0].Rels[0]
	assert.Equal(t, ast.DirEither, rel2.Direction)
}

func TestParseVariableLengthPath(t *testing.T) {
	sq := parseOne(t, "MATCH (a)-[:KNOWS*1..3]->(b) RETURN b")
	rel := sq.Clauses[0].(*ast.MatchClause).Patterns[0].Rels[0]
	assert.True(t, rel.VarLength)
	assert.Equal(t, 1, rel.MinHops)
	assert.Equal(t, 3, rel.MaxHops)
}

func TestParseWhereClause(t *testing.T) {
	sq := parseOne(t, "MATCH (n:Person) WHERE n.age > 21 RETURN n")
	m := sq.Clauses[0].(*ast.MatchClause)
	require.NotNil(t, m.Where)
	bin, ok := m.Where.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, ">", bin.Op)
}

func TestParseCreateClause(t *testing.T) {
	sq := parseOne(t, `CREATE (n:Person {name: "ada", age: 36}) RETURN n`)
	c, ok := sq.Clauses[0].(*ast.CreateClause)
	require.True(t, ok)
	require.Len(t, c.Patterns, 1)
	np := c.Patterns[0].Nodes[0]
	assert.Equal(t, []string{"Person"}, np.Labels)
	assert.Len(t, np.Properties, 2)
}

func TestParseSetAndRemove(t *testing.T) {
	sq := parseOne(t, "MATCH (n) SET n.age = 40 REMOVE n.ghost RETURN n")
	set, ok := sq.Clauses[1].(*ast.SetClause)
	require.True(t, ok)
	require.Len(t, set.Items, 1)
	assert.Equal(t, "n", set.Items[0].Variable)
	assert.Equal(t, "age", set.Items[0].Property)

	rem, ok := sq.Clauses[2].(*ast.RemoveClause)
	require.True(t, ok)
	require.Len(t, rem.Items, 1)
	assert.Equal(t, "ghost", rem.Items[0].Property)
}

func TestParseDeleteAndDetachDelete(t *testing.T) {
	sq := parseOne(t, "MATCH (n) DELETE n")
	del, ok := sq.Clauses[1].(*ast.DeleteClause)
	require.True(t, ok)
	assert.False(t, del.Detach)
	assert.Equal(t, []string{"n"}, del.Variables)

	sq2 := parseOne(t, "MATCH (n) DETACH DELETE n")
	del2, ok := sq2.Clauses[1].(*ast.DeleteClause)
	require.True(t, ok)
	assert.True(t, del2.Detach)
}

func TestParseWriteClauseDoesNotAbsorbIntoPrecedingMatch(t *testing.T) {
	// Regression for the hazard documented in cypher/parser's package
	// comment: CREATE must start its own clause, not fold into MATCH's
	// pattern list.
	sq := parseOne(t, "MATCH (a:Person) CREATE (b:Person) RETURN a, b")
	require.Len(t, sq.Clauses, 3)
	_, isMatch := sq.Clauses[0].(*ast.MatchClause)
	assert.True(t, isMatch)
	_, isCreate := sq.Clauses[1].(*ast.CreateClause)
	assert.True(t, isCreate)
	m := sq.Clauses[0].(*ast.MatchClause)
	assert.Len(t, m.Patterns, 1, "CREATE must not be folded into MATCH's pattern list")
}

func TestParseUnwind(t *testing.T) {
	sq := parseOne(t, "UNWIND [1, 2, 3] AS x RETURN x")
	u, ok := sq.Clauses[0].(*ast.UnwindClause)
	require.True(t, ok)
	assert.Equal(t, "x", u.As)
	list, ok := u.List.(*ast.ListLiteral)
	require.True(t, ok)
	assert.Len(t, list.Items, 3)
}

func TestParseOrderBySkipLimit(t *testing.T) {
	sq := parseOne(t, "MATCH (n) RETURN n.name ORDER BY n.name DESC SKIP 1 LIMIT 10")
	ret := sq.Clauses[1].(*ast.ReturnClause)
	require.Len(t, ret.OrderBy, 1)
	assert.True(t, ret.OrderBy[0].Descending)
	require.NotNil(t, ret.Skip)
	require.NotNil(t, ret.Limit)
}

func TestParseUnionAll(t *testing.T) {
	q, err := Parse("MATCH (n:A) RETURN n.name UNION ALL MATCH (n:B) RETURN n.name")
	require.NoError(t, err)
	require.Len(t, q.Parts, 2)
	require.Len(t, q.UnionAll, 1)
	assert.True(t, q.UnionAll[0])
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	_, err := Parse("MATCH (n) RETURN n GARBAGE")
	assert.Error(t, err)
}

func TestParseRejectsEmptyInput(t *testing.T) {
	_, err := Parse("")
	assert.Error(t, err)
}
