package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordersys/hlexec/store"
)

func openTemp(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestAllocateNonceIsMonotone(t *testing.T) {
	s := openTemp(t)

	n0, err := s.AllocateNonce()
	require.NoError(t, err)
	n1, err := s.AllocateNonce()
	require.NoError(t, err)
	n2, err := s.AllocateNonce()
	require.NoError(t, err)

	assert.Equal(t, uint64(0), n0)
	assert.Equal(t, uint64(1), n1)
	assert.Equal(t, uint64(2), n2)
}

func TestAllocateNonceSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s1, err := store.Open(path)
	require.NoError(t, err)
	_, err = s1.AllocateNonce()
	require.NoError(t, err)
	_, err = s1.AllocateNonce()
	require.NoError(t, err)
	s1.Close()

	s2, err := store.Open(path)
	require.NoError(t, err)
	defer s2.Close()

	n, err := s2.AllocateNonce()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestClaimProcessedKeyIsIdempotent(t *testing.T) {
	s := openTemp(t)

	first, err := s.ClaimProcessedKey("D1")
	require.NoError(t, err)
	second, err := s.ClaimProcessedKey("D1")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.True(t, s.HasProcessedKey("D1"))
}

func TestPartialLockSetGetClear(t *testing.T) {
	s := openTemp(t)

	assert.Nil(t, s.GetPartialLock())

	price := 50000.0
	lock := store.PartialLock{OrderID: "O7", RemainingSize: 0.6, Side: "buy", Price: &price, TS: store.NowMillis()}
	require.NoError(t, s.SetPartialLock(lock))

	got := s.GetPartialLock()
	require.NotNil(t, got)
	assert.Equal(t, "O7", got.OrderID)
	assert.Equal(t, 0.6, got.RemainingSize)

	require.NoError(t, s.ClearPartialLock())
	assert.Nil(t, s.GetPartialLock())
}

func TestMalformedPartialLockIsSanitized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	// Write a document whose partialLock is missing required fields.
	raw := `{"currentNonce":3,"processedKeys":["a"],"partialLock":{"orderId":"","ts":0}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Nil(t, s.GetPartialLock())
	n, err := s.AllocateNonce()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
}
