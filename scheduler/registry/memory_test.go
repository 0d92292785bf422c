package registry

import (
	"context"
	"testing"
	"time"

	"nebula/scheduler/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeatAndFindAlive(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.TODO()

	require.NoError(t, r.Beat(ctx, &model.WorkerInfo{InstanceID: "w1", GroupName: "g1"}))
	require.NoError(t, r.Beat(ctx, &model.WorkerInfo{InstanceID: "w2", GroupName: "g1"}))

	alive, err := r.FindAlive(ctx)
	require.NoError(t, err)
	assert.Len(t, alive, 2)
}

func TestLivenessWindow(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.TODO()

	base := time.Now()
	r.now = func() time.Time { return base }
	require.NoError(t, r.Beat(ctx, &model.WorkerInfo{InstanceID: "w1"}))

	//31秒，漏了一拍心跳，仍在存活窗口内
	r.now = func() time.Time { return base.Add(31 * time.Second) }
	alive, err := r.FindAlive(ctx)
	require.NoError(t, err)
	assert.Len(t, alive, 1)

	//89秒，还没出DeadTimeout，不清
	r.now = func() time.Time { return base.Add(89 * time.Second) }
	alive, err = r.FindAlive(ctx)
	require.NoError(t, err)
	assert.Len(t, alive, 1)

	removed, err := r.SweepDead(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)
	_, err = r.Get(ctx, "w1")
	assert.NoError(t, err)

	//90秒，出局并清掉
	r.now = func() time.Time { return base.Add(90 * time.Second) }
	alive, err = r.FindAlive(ctx)
	require.NoError(t, err)
	assert.Empty(t, alive)

	removed, err = r.SweepDead(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"w1"}, removed)
	_, err = r.Get(ctx, "w1")
	assert.ErrorIs(t, err, ErrWorkerNotFound)
}

func TestBeatRevivesWorker(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.TODO()

	base := time.Now()
	r.now = func() time.Time { return base }
	require.NoError(t, r.Beat(ctx, &model.WorkerInfo{InstanceID: "w1"}))

	//出了存活窗口之后一次心跳就能救回来
	r.now = func() time.Time { return base.Add(100 * time.Second) }
	alive, err := r.FindAlive(ctx)
	require.NoError(t, err)
	assert.Empty(t, alive)

	require.NoError(t, r.Beat(ctx, &model.WorkerInfo{InstanceID: "w1"}))
	alive, err = r.FindAlive(ctx)
	require.NoError(t, err)
	assert.Len(t, alive, 1)
}

func TestRemove(t *testing.T) {
	r := NewMemoryRegistry()
	ctx := context.TODO()

	require.NoError(t, r.Beat(ctx, &model.WorkerInfo{InstanceID: "w1"}))
	require.NoError(t, r.Remove(ctx, "w1"))
	assert.ErrorIs(t, r.Remove(ctx, "w1"), ErrWorkerNotFound)
}
