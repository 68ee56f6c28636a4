package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqualNullNeverEqualsAnything(t *testing.T) {
	eq, isNull := Equal(Null, VInt(1))
	assert.True(t, isNull)
	assert.False(t, eq)

	eq, isNull = Equal(Null, Null)
	assert.True(t, isNull)
	assert.False(t, eq)
}

func TestEqualCrossNumericTypes(t *testing.T) {
	eq, isNull := Equal(VInt(3), VFloat(3.0))
	assert.False(t, isNull)
	assert.True(t, eq)

	eq, isNull = Equal(VInt(3), VFloat(3.5))
	assert.False(t, isNull)
	assert.False(t, eq)
}

func TestEqualSameKind(t *testing.T) {
	eq, _ := Equal(VString("a"), VString("a"))
	assert.True(t, eq)

	eq, _ = Equal(VNode(1), VNode(2))
	assert.False(t, eq)
}

func TestLessNullSortsLast(t *testing.T) {
	assert.False(t, Less(Null, VInt(1)), "NULL is never less than a value")
	assert.True(t, Less(VInt(1), Null), "a value is always less than NULL")
	assert.False(t, Less(Null, Null))
}

func TestLessNumeric(t *testing.T) {
	assert.True(t, Less(VInt(1), VInt(2)))
	assert.True(t, Less(VInt(1), VFloat(1.5)))
	assert.False(t, Less(VFloat(2.0), VInt(1)))
}

func TestLessString(t *testing.T) {
	assert.True(t, Less(VString("apple"), VString("banana")))
}

func TestRowCloneIsIndependent(t *testing.T) {
	r := Row{"a": VInt(1)}
	c := r.Clone()
	c["a"] = VInt(2)
	assert.Equal(t, int64(1), r["a"].Int)
	assert.Equal(t, int64(2), c["a"].Int)
}

func TestTruthy(t *testing.T) {
	assert.True(t, VBool(true).Truthy())
	assert.False(t, VBool(false).Truthy())
	assert.False(t, Null.Truthy())
	assert.False(t, VInt(1).Truthy(), "non-bool values are never truthy")
}
