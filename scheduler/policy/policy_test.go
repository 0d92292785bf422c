package policy

import (
	"testing"
	"time"

	"nebula/scheduler/constance"
	"nebula/scheduler/model"

	"github.com/stretchr/testify/assert"
)

func TestPolicyFromJobDefaults(t *testing.T) {
	p := PolicyFromJob(&model.Job{MaxRetryTimes: 3})
	assert.Equal(t, constance.RetryPolicyTypeFixed, p.Type)
	assert.Equal(t, defaultRetryInterval, p.BaseInterval)
	assert.Equal(t, defaultMaxRetryDelay, p.MaxDelay)
}

func TestCanRetry(t *testing.T) {
	p := &RetryPolicy{MaxRetryTimes: 2}
	assert.True(t, p.CanRetry(0))
	assert.True(t, p.CanRetry(1))
	//已失败2次，总执行次数到顶
	assert.False(t, p.CanRetry(2))

	zero := &RetryPolicy{MaxRetryTimes: 0}
	assert.False(t, zero.CanRetry(0))
}

func TestNextDelayFixed(t *testing.T) {
	p := &RetryPolicy{
		Type:         constance.RetryPolicyTypeFixed,
		BaseInterval: 5 * time.Second,
		MaxDelay:     time.Minute,
	}
	assert.Equal(t, 5*time.Second, p.NextDelay(0))
	assert.Equal(t, 5*time.Second, p.NextDelay(7))
}

func TestNextDelayExponential(t *testing.T) {
	p := &RetryPolicy{
		Type:         constance.RetryPolicyTypeExponential,
		BaseInterval: time.Second,
		MaxDelay:     10 * time.Second,
	}
	assert.Equal(t, time.Second, p.NextDelay(0))
	assert.Equal(t, 2*time.Second, p.NextDelay(1))
	assert.Equal(t, 4*time.Second, p.NextDelay(2))
	assert.Equal(t, 8*time.Second, p.NextDelay(3))
	//封顶
	assert.Equal(t, 10*time.Second, p.NextDelay(4))
	assert.Equal(t, 10*time.Second, p.NextDelay(100))
}

func TestNextDelayJitterBounded(t *testing.T) {
	p := &RetryPolicy{
		Type:         constance.RetryPolicyTypeExponentialJitter,
		BaseInterval: time.Second,
		MaxDelay:     8 * time.Second,
	}
	for i := 0; i < 100; i++ {
		d := p.NextDelay(2)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 4*time.Second)
	}
}

func TestBlockDecideNoActive(t *testing.T) {
	d := Decide(constance.BlockStrategyTypeSerial, nil)
	assert.Equal(t, BlockActionProceed, d.Action)
}

func TestBlockDecide(t *testing.T) {
	active := []*model.JobRun{{Status: constance.JobRunStatusRunning}}

	assert.Equal(t, BlockActionProceed, Decide(constance.BlockStrategyTypeConcurrent, active).Action)
	assert.Equal(t, BlockActionDiscard, Decide(constance.BlockStrategyTypeDiscardLater, active).Action)
	assert.Equal(t, BlockActionWait, Decide(constance.BlockStrategyTypeSerial, active).Action)

	cover := Decide(constance.BlockStrategyTypeCoverEarly, active)
	assert.Equal(t, BlockActionCoverEarly, cover.Action)
	assert.Len(t, cover.Victims, 1)
}
