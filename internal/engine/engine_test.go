package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphcore/engine/internal/config"
	"github.com/graphcore/engine/internal/exec"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(t.TempDir(), config.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestCreateNodeAndReadBackViaCypher(t *testing.T) {
	e := openTestEngine(t)

	w, err := e.BeginWrite(nil)
	require.NoError(t, err)
	id, err := w.CreateNode([]string{"Person"}, map[string]exec.Value{
		"name": exec.VString("ada"),
		"age":  exec.VInt(36),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	r := e.BeginRead()
	defer r.End()
	stream, err := r.Execute("MATCH (n:Person) RETURN n.name, n.age", nil, nil)
	require.NoError(t, err)
	rows, err := stream.Collect()
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	require.Len(t, rows, 1)
	assert.Equal(t, "ada", rows[0]["n.name"].Str)
	assert.Equal(t, int64(36), rows[0]["n.age"].Int)
	assert.NotZero(t, id)
}

func TestWriteRollsBackOnAbort(t *testing.T) {
	e := openTestEngine(t)

	w, err := e.BeginWrite(nil)
	require.NoError(t, err)
	_, err = w.CreateNode([]string{"Ghost"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	r := e.BeginRead()
	defer r.End()
	stream, err := r.Execute("MATCH (n:Ghost) RETURN n", nil, nil)
	require.NoError(t, err)
	rows, err := stream.Collect()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRelationshipCreateAndDelete(t *testing.T) {
	e := openTestEngine(t)

	w, err := e.BeginWrite(nil)
	require.NoError(t, err)
	a, err := w.CreateNode([]string{"Person"}, nil, nil)
	require.NoError(t, err)
	b, err := w.CreateNode([]string{"Person"}, nil, nil)
	require.NoError(t, err)
	relID, err := w.CreateRelationship(a, b, "KNOWS", nil)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	r := e.BeginRead()
	stream, err := r.Execute("MATCH (a)-[:KNOWS]->(b) RETURN a, b", nil, nil)
	require.NoError(t, err)
	rows, err := stream.Collect()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	r.End()

	w2, err := e.BeginWrite(nil)
	require.NoError(t, err)
	require.NoError(t, w2.DeleteRelationship(relID))
	require.NoError(t, w2.Commit())

	r2 := e.BeginRead()
	defer r2.End()
	stream2, err := r2.Execute("MATCH (a)-[:KNOWS]->(b) RETURN a", nil, nil)
	require.NoError(t, err)
	rows2, err := stream2.Collect()
	require.NoError(t, err)
	assert.Empty(t, rows2)
}

func TestKnnFindsNearestVector(t *testing.T) {
	e := openTestEngine(t)

	w, err := e.BeginWrite(nil)
	require.NoError(t, err)
	near, err := w.CreateNode([]string{"Doc"}, nil, map[string][]float32{"Doc": {1, 0, 0}})
	require.NoError(t, err)
	_, err = w.CreateNode([]string{"Doc"}, nil, map[string][]float32{"Doc": {0, 1, 0}})
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	results, err := e.Knn(e.Stats().CurrentEpoch, "Doc", []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, near, results[0].NodeID)
}

func TestCheckpointAndReopenPreservesState(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, config.DefaultConfig())
	require.NoError(t, err)

	w, err := e.BeginWrite(nil)
	require.NoError(t, err)
	_, err = w.CreateNode([]string{"Person"}, map[string]exec.Value{"name": exec.VString("grace")}, map[string][]float32{"Person": {2, 2, 2}})
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	require.NoError(t, e.Checkpoint())
	require.NoError(t, e.Close())

	e2, err := Open(dir, config.DefaultConfig())
	require.NoError(t, err)
	defer func() { _ = e2.Close() }()

	r := e2.BeginRead()
	defer r.End()
	stream, err := r.Execute("MATCH (n:Person) RETURN n.name", nil, nil)
	require.NoError(t, err)
	rows, err := stream.Collect()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "grace", rows[0]["n.name"].Str)

	knn, err := e2.Knn(e2.Stats().CurrentEpoch, "Person", []float32{2, 2, 2}, 1, nil)
	require.NoError(t, err)
	require.Len(t, knn, 1)
}

// TestCheckpointPreservesCountsAcrossReopen guards against counts
// silently resetting to whatever the post-checkpoint WAL alone can
// reconstruct: a checkpoint truncates the WAL, so any count contributed
// before that point must come from the counts snapshot Checkpoint writes,
// not from replay.
func TestCheckpointPreservesCountsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, config.DefaultConfig())
	require.NoError(t, err)

	w, err := e.BeginWrite(nil)
	require.NoError(t, err)
	_, err = w.CreateNode([]string{"Person"}, nil, nil)
	require.NoError(t, err)
	_, err = w.CreateNode([]string{"Person"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	require.NoError(t, e.Checkpoint())

	// A write after the checkpoint, never checkpointed itself, must be
	// recovered from the post-checkpoint WAL on top of the snapshot
	// baseline rather than lost or double-counted.
	w2, err := e.BeginWrite(nil)
	require.NoError(t, err)
	_, err = w2.CreateNode([]string{"Person"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, w2.Commit())

	require.NoError(t, e.Close())

	e2, err := Open(dir, config.DefaultConfig())
	require.NoError(t, err)
	defer func() { _ = e2.Close() }()

	assert.EqualValues(t, 3, e2.Stats().NodesPerLabel["Person"])
}

func TestSecondOpenOnSameDirFailsLock(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, config.DefaultConfig())
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, err = Open(dir, config.DefaultConfig())
	assert.Error(t, err)
}

func TestCompactReclaimsDeletedNodeSlot(t *testing.T) {
	e := openTestEngine(t)

	w, err := e.BeginWrite(nil)
	require.NoError(t, err)
	id, err := w.CreateNode([]string{"Temp"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.DeleteNode(id))
	require.NoError(t, w.Commit())

	require.NoError(t, e.Compact())

	w2, err := e.BeginWrite(nil)
	require.NoError(t, err)
	reused, err := w2.CreateNode([]string{"Temp"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, w2.Commit())

	assert.Equal(t, id, reused, "compaction should have freed id for reuse")
}

func TestExplainRendersOperatorTree(t *testing.T) {
	e := openTestEngine(t)
	out, err := e.Explain("MATCH (n:Person) RETURN n.name")
	require.NoError(t, err)
	assert.Contains(t, out, "columns:")
}

// TestPlanCacheSurvivesLabelCreatedAfterFirstCompile exercises the
// hazard the plan cache has to avoid: a query compiled while a label
// doesn't exist yet resolves to an empty-result plan, and a second
// compile after that label is created for the first time must notice
// and produce real rows instead of replaying the stale empty shape.
func TestPlanCacheSurvivesLabelCreatedAfterFirstCompile(t *testing.T) {
	e := openTestEngine(t)
	const query = "MATCH (n:Brand) RETURN n"

	r := e.BeginRead()
	stream, err := r.Execute(query, nil, nil)
	require.NoError(t, err)
	rows, err := stream.Collect()
	require.NoError(t, err)
	r.End()
	assert.Empty(t, rows, "label does not exist yet")

	w, err := e.BeginWrite(nil)
	require.NoError(t, err)
	_, err = w.CreateNode([]string{"Brand"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	r2 := e.BeginRead()
	defer r2.End()
	stream2, err := r2.Execute(query, nil, nil)
	require.NoError(t, err)
	rows2, err := stream2.Collect()
	require.NoError(t, err)
	assert.Len(t, rows2, 1, "same query text must see the node created after the first compile")
}

// TestRepeatedQueryHitsPlanCache is a coarse sanity check that issuing
// the same query twice doesn't require a distinct parse each time —
// the two runs must agree on shape even though each gets its own
// freshly-opened operator tree.
func TestRepeatedQueryHitsPlanCache(t *testing.T) {
	e := openTestEngine(t)
	w, err := e.BeginWrite(nil)
	require.NoError(t, err)
	_, err = w.CreateNode([]string{"Person"}, map[string]exec.Value{"name": exec.VString("ada")}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	for i := 0; i < 2; i++ {
		r := e.BeginRead()
		stream, err := r.Execute("MATCH (n:Person) RETURN n.name", nil, nil)
		require.NoError(t, err)
		rows, err := stream.Collect()
		require.NoError(t, err)
		r.End()
		require.Len(t, rows, 1)
		assert.Equal(t, "ada", rows[0]["n.name"].Str)
	}
}

func TestStatsJSONRoundTrips(t *testing.T) {
	e := openTestEngine(t)
	w, err := e.BeginWrite(nil)
	require.NoError(t, err)
	_, err = w.CreateNode([]string{"Person"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	data, err := e.StatsJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), "NodesPerLabel")
	assert.Contains(t, string(data), "Person")
}

func TestPropertyIndexEqualFindsMatchAndStaysCurrentAfterUpdate(t *testing.T) {
	e := openTestEngine(t)

	w, err := e.BeginWrite(nil)
	require.NoError(t, err)
	a, err := w.CreateNode([]string{"Person"}, map[string]exec.Value{"age": exec.VInt(30)}, nil)
	require.NoError(t, err)
	_, err = w.CreateNode([]string{"Person"}, map[string]exec.Value{"age": exec.VInt(40)}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	require.NoError(t, e.CreatePropertyIndex("Person", "age"))

	ids, ok := e.PropertyIndexEqual("Person", "age", exec.VInt(30))
	require.True(t, ok)
	assert.Equal(t, []uint64{a}, ids)

	w2, err := e.BeginWrite(nil)
	require.NoError(t, err)
	require.NoError(t, w2.SetNodeProperty(a, "age", exec.VInt(99)))
	require.NoError(t, w2.Commit())

	stale, ok := e.PropertyIndexEqual("Person", "age", exec.VInt(30))
	require.True(t, ok)
	assert.Empty(t, stale, "old value must be removed from the index on update")

	fresh, ok := e.PropertyIndexEqual("Person", "age", exec.VInt(99))
	require.True(t, ok)
	assert.Equal(t, []uint64{a}, fresh)
}

func TestPropertyIndexEqualUnknownIndexReportsNotOK(t *testing.T) {
	e := openTestEngine(t)
	_, ok := e.PropertyIndexEqual("NoSuchLabel", "NoSuchKey", exec.VInt(1))
	assert.False(t, ok)
}

func TestPropertyIndexDropsNodeOnDelete(t *testing.T) {
	e := openTestEngine(t)

	w, err := e.BeginWrite(nil)
	require.NoError(t, err)
	a, err := w.CreateNode([]string{"Person"}, map[string]exec.Value{"age": exec.VInt(30)}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	require.NoError(t, e.CreatePropertyIndex("Person", "age"))

	w2, err := e.BeginWrite(nil)
	require.NoError(t, err)
	require.NoError(t, w2.DeleteNode(a))
	require.NoError(t, w2.Commit())

	ids, ok := e.PropertyIndexEqual("Person", "age", exec.VInt(30))
	require.True(t, ok)
	assert.Empty(t, ids)
}

func TestCompactParallelSweepReclaimsDeletedNodeSlot(t *testing.T) {
	e := openTestEngine(t)

	w, err := e.BeginWrite(nil)
	require.NoError(t, err)
	a, err := w.CreateNode([]string{"Person"}, nil, nil)
	require.NoError(t, err)
	b, err := w.CreateNode([]string{"Person"}, nil, nil)
	require.NoError(t, err)
	relID, err := w.CreateRelationship(a, b, "KNOWS", nil)
	require.NoError(t, err)
	require.NoError(t, w.DeleteRelationship(relID))
	require.NoError(t, w.DeleteNode(a))
	require.NoError(t, w.Commit())

	require.NoError(t, e.Compact())

	w2, err := e.BeginWrite(nil)
	require.NoError(t, err)
	reusedNode, err := w2.CreateNode([]string{"Person"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, w2.Commit())
	assert.Equal(t, a, reusedNode)
}
