// Package timesource 提供统一的时间来源抽象，使仿真时间与真实时间可互换。
// 引擎内所有落库时间戳都必须来自该接口，禁止直接读取挂钟时间。
package timesource

import (
	"sync"
	"time"
)

// Provider 时间来源接口
type Provider interface {
	// Now 返回当前时间戳
	Now() time.Time
	// Next 返回下一个严格递增的时间戳
	Next() time.Time
}

// RealClock 真实挂钟时间来源
type RealClock struct{}

// NewRealClock 创建真实时间来源
func NewRealClock() *RealClock {
	return &RealClock{}
}

// Now 返回当前挂钟时间
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// Next 返回当前挂钟时间（挂钟本身即单调递增）
func (c *RealClock) Next() time.Time {
	return time.Now()
}

// SimulatedClock 仿真时间来源，按固定步长推进
type SimulatedClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

// NewSimulatedClock 创建仿真时间来源
func NewSimulatedClock(start time.Time, step time.Duration) *SimulatedClock {
	return &SimulatedClock{
		current: start,
		step:    step,
	}
}

// Now 返回当前仿真时间
func (c *SimulatedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Next 推进一个步长并返回新的仿真时间
func (c *SimulatedClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(c.step)
	return c.current
}

// Advance 将仿真时间推进到指定时刻（不得回退）
func (c *SimulatedClock) Advance(to time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if to.After(c.current) {
		c.current = to
	}
}
