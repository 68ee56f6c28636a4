package store

import (
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBlobStore(t *testing.T) *BlobStore {
	t.Helper()
	s, err := OpenBlobStore(t.TempDir(), 64, 32, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBlobPutGetRoundTrip(t *testing.T) {
	s := newTestBlobStore(t)
	off, err := s.Put([]byte("hello world"))
	require.NoError(t, err)

	got, err := s.Get(off)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestBlobPutDedupsIdenticalContent(t *testing.T) {
	s := newTestBlobStore(t)
	off1, err := s.Put([]byte("same"))
	require.NoError(t, err)
	off2, err := s.Put([]byte("same"))
	require.NoError(t, err)
	assert.Equal(t, off1, off2, "identical content must share one offset")
}

func TestBlobReleaseAndZeroRefHashes(t *testing.T) {
	s := newTestBlobStore(t)
	_, err := s.Put([]byte("tombstone-me"))
	require.NoError(t, err)

	assert.Empty(t, s.ZeroRefHashes(), "fresh blob has a positive refcount")

	s.Release([]byte("tombstone-me"))
	hashes := s.ZeroRefHashes()
	require.Len(t, hashes, 1)
	assert.Equal(t, xxhash.Sum64([]byte("tombstone-me")), hashes[0])
}

func TestBlobForgetDropsZeroRefEntry(t *testing.T) {
	s := newTestBlobStore(t)
	_, err := s.Put([]byte("gone"))
	require.NoError(t, err)
	s.Release([]byte("gone"))

	h := xxhash.Sum64([]byte("gone"))
	s.Forget(h)
	assert.Empty(t, s.ZeroRefHashes())

	// Putting the same content again must be treated as brand new since
	// the hash index entry is gone — a fresh offset is written rather
	// than the reclaimed one being silently revived.
	off, err := s.Put([]byte("gone"))
	require.NoError(t, err)
	got, err := s.Get(off)
	require.NoError(t, err)
	assert.Equal(t, "gone", string(got))
}

func TestBlobPutCompressesLargePayloads(t *testing.T) {
	s := newTestBlobStore(t)
	s.SetCompressionMinBytes(16)

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 7) // repetitive, compresses well
	}
	off, err := s.Put(payload)
	require.NoError(t, err)

	got, err := s.Get(off)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestBlobPutLeavesSmallPayloadsUncompressed(t *testing.T) {
	s := newTestBlobStore(t)
	s.SetCompressionMinBytes(4096)

	off, err := s.Put([]byte("tiny"))
	require.NoError(t, err)
	got, err := s.Get(off)
	require.NoError(t, err)
	assert.Equal(t, "tiny", string(got))
}

func TestBlobStoreReopenPreservesExistingDataAndAppendsAfterIt(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenBlobStore(dir, 64, 32, zap.NewNop())
	require.NoError(t, err)

	offA, err := s.Put([]byte("alpha"))
	require.NoError(t, err)
	offB, err := s.Put([]byte("bravo and some more bytes to pad the record out"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := OpenBlobStore(dir, 64, 32, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	gotA, err := s2.Get(offA)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(gotA))
	gotB, err := s2.Get(offB)
	require.NoError(t, err)
	assert.Equal(t, "bravo and some more bytes to pad the record out", string(gotB))

	// A Put after reopen must land after the existing data, never at
	// offset 0 — reopening with a reset cursor would silently overwrite
	// "alpha" above.
	offC, err := s2.Put([]byte("charlie"))
	require.NoError(t, err)
	assert.Greater(t, offC, offB)

	gotA2, err := s2.Get(offA)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(gotA2), "existing blob must survive a write after reopen")

	// Content written before the reopen must still dedup correctly.
	offADup, err := s2.Put([]byte("alpha"))
	require.NoError(t, err)
	assert.Equal(t, offA, offADup, "rediscovered content must dedup against its original offset")
}

func TestBlobForgetIsNoOpIfRevived(t *testing.T) {
	s := newTestBlobStore(t)
	_, err := s.Put([]byte("revived"))
	require.NoError(t, err)
	s.Release([]byte("revived"))

	h := xxhash.Sum64([]byte("revived"))
	// Simulate a concurrent Put reviving the hash between ZeroRefHashes
	// and Forget.
	_, err = s.Put([]byte("revived"))
	require.NoError(t, err)

	s.Forget(h)
	assert.Empty(t, s.ZeroRefHashes(), "revived blob must not be forgotten")
}
