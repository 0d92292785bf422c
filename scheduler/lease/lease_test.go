package lease

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleHolder(t *testing.T) {
	store := NewMemoryLeaseStore()
	a := store.NewLease("node-a")
	b := store.NewLease("node-b")
	ctx := context.TODO()

	got, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, got)
	assert.True(t, a.Held())

	//同一时刻只能有一个holder
	got, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, got)
	assert.False(t, b.Held())
	assert.Zero(t, b.Epoch())

	//幂等
	got, err = a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEpochIncreasesAcrossOwners(t *testing.T) {
	store := NewMemoryLeaseStore()
	a := store.NewLease("node-a")
	b := store.NewLease("node-b")
	ctx := context.TODO()

	got, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, got)
	epochA := a.Epoch()
	require.NotZero(t, epochA)

	require.NoError(t, a.Release(ctx))
	assert.False(t, a.Held())
	assert.Zero(t, a.Epoch())

	got, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, got)

	//易主后epoch严格递增，老主的请求会被Worker按epoch拒掉
	assert.Greater(t, b.Epoch(), epochA)
}
