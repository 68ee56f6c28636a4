package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPropStore(t *testing.T) *PropStore {
	t.Helper()
	s, err := OpenPropStore(t.TempDir(), 64, 32, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPropPrependBuildsChainNewestFirst(t *testing.T) {
	s := newTestPropStore(t)
	var head uint64
	slot1, err := s.Prepend(1, TypeI64, 10, head)
	require.NoError(t, err)
	head = HeadPtr(slot1)
	slot2, err := s.Prepend(2, TypeI64, 20, head)
	require.NoError(t, err)
	head = HeadPtr(slot2)

	var keys []uint32
	require.NoError(t, s.IterChain(head, func(p *Prop) bool {
		keys = append(keys, p.KeyID)
		return true
	}))
	assert.Equal(t, []uint32{2, 1}, keys)
}

func TestPropFindLocatesFirstMatchingKey(t *testing.T) {
	s := newTestPropStore(t)
	var head uint64
	slot1, err := s.Prepend(1, TypeI64, 99, head)
	require.NoError(t, err)
	head = HeadPtr(slot1)

	p, err := s.Find(head, 1)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, uint64(99), p.Value)

	missing, err := s.Find(head, 77)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPropFindOnEmptyChainReturnsNil(t *testing.T) {
	s := newTestPropStore(t)
	p, err := s.Find(0, 1)
	require.NoError(t, err)
	assert.Nil(t, p)
}
