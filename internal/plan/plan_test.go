package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/graphcore/engine/internal/catalog"
	"github.com/graphcore/engine/internal/cypher/parser"
)

func newTestPlanner(t *testing.T) *Planner {
	t.Helper()
	cat, err := catalog.Open(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	_, err = cat.GetOrCreateLabel("Person")
	require.NoError(t, err)
	_, err = cat.GetOrCreateRelType("KNOWS")
	require.NoError(t, err)
	_, err = cat.GetOrCreatePropertyKey("name")
	require.NoError(t, err)
	_, err = cat.GetOrCreatePropertyKey("age")
	require.NoError(t, err)

	return New(cat)
}

func planQuery(t *testing.T, p *Planner, src string) *Result {
	t.Helper()
	q, err := parser.Parse(src)
	require.NoError(t, err)
	res, err := p.Plan(q)
	require.NoError(t, err)
	return res
}

func TestPlanPropertyProjectionColumnNames(t *testing.T) {
	p := newTestPlanner(t)
	res := planQuery(t, p, "MATCH (n:Person) RETURN n.name, n.age")
	assert.Equal(t, []string{"n.name", "n.age"}, res.Columns)
	assert.False(t, res.Write)
}

func TestPlanBareVariableProjectionColumnNames(t *testing.T) {
	p := newTestPlanner(t)
	res := planQuery(t, p, "MATCH (a)-[:KNOWS]->(b) RETURN a, b")
	assert.Equal(t, []string{"a", "b"}, res.Columns)
}

func TestPlanAliasOverridesDefaultColumnName(t *testing.T) {
	p := newTestPlanner(t)
	res := planQuery(t, p, "MATCH (n:Person) RETURN n.name AS who")
	assert.Equal(t, []string{"who"}, res.Columns)
}

func TestPlanUnknownLabelYieldsEmptyNotError(t *testing.T) {
	p := newTestPlanner(t)
	res := planQuery(t, p, "MATCH (n:NoSuchLabel) RETURN n")
	require.NotNil(t, res.Root)
}

func TestPlanCreateClauseMarksWrite(t *testing.T) {
	p := newTestPlanner(t)
	res := planQuery(t, p, "CREATE (n:Person {name: \"ada\"}) RETURN n")
	assert.True(t, res.Write)
}

func TestPlanAggregateProjection(t *testing.T) {
	p := newTestPlanner(t)
	res := planQuery(t, p, "MATCH (n:Person) RETURN count(n)")
	assert.Equal(t, []string{"count(n)"}, res.Columns)
}

func TestExplainRendersTree(t *testing.T) {
	p := newTestPlanner(t)
	res := planQuery(t, p, "MATCH (n:Person) RETURN n.name")
	out := Explain(res)
	assert.NotEmpty(t, out)
}
