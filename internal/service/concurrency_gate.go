package service

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyGate 进程级出站并发闸门。
// 所有上游调用（不区分账号）共享同一个信号量，等待者按 FIFO 顺序获得槽位，
// 保证对上游出口 IP 的并发不超过配置上限。
type ConcurrencyGate struct {
	sem *semaphore.Weighted
	cap int
}

// NewConcurrencyGate 创建容量为 capacity 的闸门。
func NewConcurrencyGate(capacity int) *ConcurrencyGate {
	if capacity <= 0 {
		capacity = 1
	}
	return &ConcurrencyGate{
		sem: semaphore.NewWeighted(int64(capacity)),
		cap: capacity,
	}
}

// Run 获取一个槽位后执行 fn，所有退出路径都会释放槽位。
// 获取阶段可被 ctx 取消；取消时 fn 不会被执行。
func (g *ConcurrencyGate) Run(ctx context.Context, fn func() error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn()
}

// Cap 返回闸门容量。
func (g *ConcurrencyGate) Cap() int {
	return g.cap
}
