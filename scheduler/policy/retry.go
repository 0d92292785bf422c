package policy

import (
	"math/rand"
	"time"

	"nebula/scheduler/constance"
	"nebula/scheduler/model"
)

const (
	defaultRetryInterval = 10 * time.Second
	defaultMaxRetryDelay = 10 * time.Minute
)

// RetryPolicy 失败重试策略。attempt从0开始计，表示已经失败的次数
type RetryPolicy struct {
	Type          constance.RetryPolicyType
	MaxRetryTimes int
	BaseInterval  time.Duration
	MaxDelay      time.Duration
}

// PolicyFromJob 从任务定义取重试配置，没填的用默认值
func PolicyFromJob(job *model.Job) *RetryPolicy {
	p := &RetryPolicy{
		Type:          job.RetryPolicy,
		MaxRetryTimes: job.MaxRetryTimes,
		BaseInterval:  time.Duration(job.RetryInterval) * time.Millisecond,
		MaxDelay:      time.Duration(job.MaxRetryDelay) * time.Millisecond,
	}
	if !p.Type.Valid() {
		p.Type = constance.RetryPolicyTypeFixed
	}
	if p.BaseInterval <= 0 {
		p.BaseInterval = defaultRetryInterval
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxRetryDelay
	}
	return p
}

// CanRetry 已失败attempt次后是否还能再试。总执行次数 = MaxRetryTimes + 1
func (p *RetryPolicy) CanRetry(attempt int) bool {
	return attempt < p.MaxRetryTimes
}

// NextDelay 第attempt次失败后到下一次派发的间隔
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	switch p.Type {
	case constance.RetryPolicyTypeExponential:
		return p.capped(attempt)
	case constance.RetryPolicyTypeExponentialJitter:
		d := p.capped(attempt)
		//全抖动，[0, d)均匀取，避免同批失败的任务同时醒来
		return time.Duration(rand.Int63n(int64(d) + 1))
	default:
		return p.BaseInterval
	}
}

// capped min(base * 2^attempt, maxDelay)，移位溢出时直接封顶
func (p *RetryPolicy) capped(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 62 {
		return p.MaxDelay
	}
	d := p.BaseInterval << uint(attempt)
	if d <= 0 || d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
