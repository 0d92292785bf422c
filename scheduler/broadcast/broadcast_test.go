package broadcast

import (
	"context"
	"testing"
	"time"

	"nebula/scheduler/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBroadcastFanOut(t *testing.T) {
	b := NewMemoryBroadcaster()
	defer b.Close()
	ctx := context.TODO()

	sub1, err := b.Subscribe(ctx)
	require.NoError(t, err)
	sub2, err := b.Subscribe(ctx)
	require.NoError(t, err)

	event := model.NewJobRunEvent(model.JobRunOpKill, "node-1", &model.JobRunOpPayload{JobRunID: 42})
	require.NoError(t, b.Publish(ctx, event))

	for _, sub := range []<-chan *model.BroadcastEvent{sub1, sub2} {
		select {
		case got := <-sub:
			assert.Equal(t, event.EventID, got.EventID)
			payload, err := got.JobRunPayload()
			require.NoError(t, err)
			assert.Equal(t, uint(42), payload.JobRunID)
		case <-time.After(time.Second):
			t.Fatal("no event delivered")
		}
	}
}

func TestDeduperIdempotence(t *testing.T) {
	d := NewDeduper()

	event := model.NewWorkflowEvent(model.WorkflowOpKillRun, "node-1", &model.WorkflowOpPayload{WorkflowRunID: 7})

	//重复投递同一个事件，只处理一次
	assert.True(t, d.FirstSeen(event.EventID))
	assert.False(t, d.FirstSeen(event.EventID))
	assert.False(t, d.FirstSeen(event.EventID))

	//不同事件互不影响
	other := model.NewWorkflowEvent(model.WorkflowOpKillRun, "node-2", &model.WorkflowOpPayload{WorkflowRunID: 7})
	assert.True(t, d.FirstSeen(other.EventID))
}

func TestMemoryBroadcastDuplicateDelivery(t *testing.T) {
	b := NewMemoryBroadcaster()
	defer b.Close()
	ctx := context.TODO()

	sub, err := b.Subscribe(ctx)
	require.NoError(t, err)
	d := NewDeduper()

	event := model.NewJobRunEvent(model.JobRunOpRetry, "node-1", &model.JobRunOpPayload{JobRunID: 1})
	//同一事件投两次，模拟at-least-once的重复
	require.NoError(t, b.Publish(ctx, event))
	require.NoError(t, b.Publish(ctx, event))

	processed := 0
	for i := 0; i < 2; i++ {
		got := <-sub
		if d.FirstSeen(got.EventID) {
			processed++
		}
	}
	assert.Equal(t, 1, processed)
}
