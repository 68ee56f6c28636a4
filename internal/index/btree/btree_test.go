package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqualAndRange(t *testing.T) {
	idx := New()
	idx.Insert(Key{LabelID: 1, KeyID: 2, Value: EncodeInt64(10), NodeID: 100})
	idx.Insert(Key{LabelID: 1, KeyID: 2, Value: EncodeInt64(20), NodeID: 200})
	idx.Insert(Key{LabelID: 1, KeyID: 2, Value: EncodeInt64(20), NodeID: 201})
	idx.Insert(Key{LabelID: 1, KeyID: 2, Value: EncodeInt64(30), NodeID: 300})
	idx.Insert(Key{LabelID: 1, KeyID: 3, Value: EncodeInt64(20), NodeID: 999}) // different key, must not leak in

	assert.ElementsMatch(t, []uint64{200, 201}, idx.Equal(1, 2, EncodeInt64(20)))
	assert.Equal(t, 5, idx.Len())

	got := idx.Range(1, 2, EncodeInt64(10), EncodeInt64(30))
	assert.ElementsMatch(t, []uint64{100, 200, 201}, got)

	all := idx.Range(1, 2, nil, nil)
	assert.ElementsMatch(t, []uint64{100, 200, 201, 300}, all)
}

func TestRemove(t *testing.T) {
	idx := New()
	k := Key{LabelID: 1, KeyID: 1, Value: EncodeInt64(5), NodeID: 42}
	idx.Insert(k)
	assert.Equal(t, 1, idx.Len())

	idx.Remove(k)
	assert.Equal(t, 0, idx.Len())
	assert.Empty(t, idx.Equal(1, 1, EncodeInt64(5)))
}

func TestEncodeInt64PreservesOrder(t *testing.T) {
	values := []int64{-100, -1, 0, 1, 100, 1 << 40}
	var encoded [][]byte
	for _, v := range values {
		encoded = append(encoded, EncodeInt64(v))
	}
	for i := 1; i < len(encoded); i++ {
		assert.True(t, string(encoded[i-1]) < string(encoded[i]), "encoding must preserve numeric ordering for %d < %d", values[i-1], values[i])
	}
}

func TestEncodeFloat64PreservesOrder(t *testing.T) {
	values := []float64{-3.5, -0.001, 0, 0.001, 3.5, 1e10}
	var encoded [][]byte
	for _, v := range values {
		encoded = append(encoded, EncodeFloat64(v))
	}
	for i := 1; i < len(encoded); i++ {
		assert.True(t, string(encoded[i-1]) < string(encoded[i]), "encoding must preserve numeric ordering for %v < %v", values[i-1], values[i])
	}
}

func TestEncodeStringPreservesOrder(t *testing.T) {
	assert.True(t, string(EncodeString("apple")) < string(EncodeString("banana")))
}
